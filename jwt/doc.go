// Package jwt mints and parses the signed access and refresh tokens used by
// goGate. Parsing verifies signature and shape only; expiry checks are
// separate so callers can report expired tokens distinctly from forged ones.
package jwt
