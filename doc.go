// Package goGate manages the lifecycle of signed session tokens: issuance,
// verification, rotation, revocation, and idle and absolute expiry.
//
// An [Engine] is assembled by [Builder] from a [Config] and a Redis client and
// is safe for concurrent use after [Builder.Build].
//
// # Tokens
//
// Login hands back a [TokenPair]. The access token is short lived and is
// verified by signature, category, expiry and the revocation list only. The
// refresh token is long lived, carries an idle window, and is only honored
// while its session record exists in Redis. Both tokens of a pair share one
// token id, so revoking the refresh id also blocks the paired access token.
//
// # Failure classes
//
// Errors returned by Engine methods wrap one of the package sentinels.
// [ReasonFor] maps an error to the short reason code used in logs and audit
// events. Redis failures and timeouts always surface as
// [ErrStoreUnavailable] and never as token invalidity.
//
// Request enforcement lives in the middleware package and HTTP endpoints for
// login, reissue and logout live in the handler package.
package goGate
