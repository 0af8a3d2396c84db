package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goGate/jwt"
)

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow implementation.
type Deps struct {
	Login    LoginDeps
	Reissue  ReissueDeps
	Logout   LogoutDeps
	Validate ValidateDeps
}

// TokenCodec mints and inspects signed tokens.
type TokenCodec interface {
	Mint(subject, role string, category jwt.Category, ttl time.Duration, id string) (string, *jwt.Claims, error)
	Parse(token string) (*jwt.Claims, error)
	IsExpired(claims *jwt.Claims) bool
	IsExpiredWithIdle(claims *jwt.Claims) bool
}

// Revoker adds token ids to the revocation list.
type Revoker interface {
	Add(ctx context.Context, tokenID, reason string, ttl time.Duration) error
	AddMany(ctx context.Context, tokenIDs []string, reason string, ttl time.Duration) error
}

// StoreContext derives the context used for a single store call. It usually
// applies the configured operation timeout.
type StoreContext func(context.Context) (context.Context, context.CancelFunc)

func (f StoreContext) derive(ctx context.Context) (context.Context, context.CancelFunc) {
	if f == nil {
		return ctx, func() {}
	}
	return f(ctx)
}

type tokenPair struct {
	access        string
	refresh       string
	accessClaims  *jwt.Claims
	refreshClaims *jwt.Claims
}

// mintPair issues a refresh token with a fresh id and an access token that
// shares it, so revoking the refresh id also blocks the paired access token.
func mintPair(codec TokenCodec, subject, role string, accessTTL, refreshTTL time.Duration) (tokenPair, error) {
	refresh, refreshClaims, err := codec.Mint(subject, role, jwt.CategoryRefresh, refreshTTL, "")
	if err != nil {
		return tokenPair{}, err
	}
	access, accessClaims, err := codec.Mint(subject, role, jwt.CategoryAccess, accessTTL, refreshClaims.ID)
	if err != nil {
		return tokenPair{}, err
	}
	return tokenPair{
		access:        access,
		refresh:       refresh,
		accessClaims:  accessClaims,
		refreshClaims: refreshClaims,
	}, nil
}
