package goGate

import (
	"context"
	"time"
)

// TokenPair is what a successful login or reissue hands back to the client.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Subject          string
	Role             string
}

// Principal is the authenticated caller attached to a request context by the
// request gate. It is built from the access token alone.
type Principal struct {
	Subject     string
	Role        string
	Authorities []string
	TokenID     string
	ExpiresAt   time.Time
}

// HasAuthority reports whether the principal was granted authority.
func (p *Principal) HasAuthority(authority string) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// SessionInfo describes one active refresh session of a subject.
type SessionInfo struct {
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity is a verified subject ready for token issuance.
type Identity struct {
	Subject string
	Role    string
}

// CredentialVerifier checks login credentials. Implementations own password
// hashing and user lookup. Rejected credentials are reported with an error
// wrapping ErrInvalidCredentials; any other error is treated as an outage of
// the user backend and surfaces as ErrStoreUnavailable.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, secret string) (Identity, error)
}

// CredentialVerifierFunc adapts a function to CredentialVerifier.
type CredentialVerifierFunc func(ctx context.Context, identifier, secret string) (Identity, error)

// Verify calls f.
func (f CredentialVerifierFunc) Verify(ctx context.Context, identifier, secret string) (Identity, error) {
	return f(ctx, identifier, secret)
}
