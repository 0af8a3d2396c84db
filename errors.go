package goGate

import (
	"context"
	"errors"

	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/revocation"
	"github.com/MrEthical07/goGate/session"
)

var (
	// ErrMissingToken is returned when a request carries no token where one is required.
	ErrMissingToken = errors.New("missing token")
	// ErrMalformed is returned for tokens that cannot be decoded.
	ErrMalformed = errors.New("malformed token")
	// ErrSignatureInvalid is returned for tokens whose signature does not verify.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrExpired is returned for tokens past their absolute or idle expiry.
	ErrExpired = errors.New("token expired")
	// ErrWrongCategory is returned when an access token is used as a refresh
	// token or the reverse.
	ErrWrongCategory = errors.New("invalid token category")
	// ErrBlacklisted is returned for access tokens whose id has been revoked.
	ErrBlacklisted = errors.New("token revoked")
	// ErrRefreshNotFound is returned when a refresh token has no live session,
	// including every loser of a concurrent reissue.
	ErrRefreshNotFound = errors.New("refresh token not recognized")
	// ErrStoreUnavailable is returned when Redis fails or times out. It never
	// means the token itself is invalid.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrInvalidCredentials is returned when the credential verifier rejects a login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginRateLimited is returned once the failed-login budget is spent.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrInvalidSubject is returned when a login names no subject.
	ErrInvalidSubject = errors.New("invalid subject")
	// ErrTokenIssue is returned when signing a token fails.
	ErrTokenIssue = errors.New("token issuance failed")
	// ErrEngineNotReady is returned by methods called on a nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Reason is the short code attached to a rejection. Reasons are logged and
// audited but only echoed to clients when GateConfig.ExposeReason is set.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonMissing         Reason = "missing"
	ReasonMalformed       Reason = "malformed"
	ReasonSignature       Reason = "invalid_signature"
	ReasonExpired         Reason = "expired"
	ReasonInvalidCategory Reason = "invalid_category"
	ReasonBlacklisted     Reason = "blacklisted"
	ReasonNotFound        Reason = "not_found"
	ReasonUnavailable     Reason = "unavailable"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonCredentials     Reason = "invalid_credentials"
	ReasonInternal        Reason = "internal"
)

// ReasonFor maps an error returned by the Engine to its reason code.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrMissingToken):
		return ReasonMissing
	case errors.Is(err, ErrSignatureInvalid):
		return ReasonSignature
	case errors.Is(err, ErrMalformed):
		return ReasonMalformed
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrWrongCategory):
		return ReasonInvalidCategory
	case errors.Is(err, ErrBlacklisted):
		return ReasonBlacklisted
	case errors.Is(err, ErrRefreshNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return ReasonUnavailable
	case errors.Is(err, ErrLoginRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrInvalidCredentials):
		return ReasonCredentials
	default:
		return ReasonInternal
	}
}

// IsClientError reports whether err was caused by the token or credentials
// the caller presented, as opposed to an infrastructure failure.
func IsClientError(err error) bool {
	switch ReasonFor(err) {
	case ReasonNone, ReasonUnavailable, ReasonInternal:
		return false
	default:
		return true
	}
}

func isStoreFailure(err error) bool {
	return errors.Is(err, session.ErrRedisUnavailable) ||
		errors.Is(err, revocation.ErrRedisUnavailable) ||
		errors.Is(err, rate.ErrRedisUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

func decodeError(err error) error {
	if errors.Is(err, jwt.ErrSignatureInvalid) {
		return ErrSignatureInvalid
	}
	return ErrMalformed
}

func storeError(err error) error {
	return errors.Join(ErrStoreUnavailable, err)
}
