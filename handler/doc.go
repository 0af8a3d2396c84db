// Package handler serves the login, reissue and logout endpoints.
//
// Access tokens travel in a response header. Refresh tokens travel in an
// HTTP-only cookie, and optionally in a response header for clients that
// cannot keep cookies.
package handler
