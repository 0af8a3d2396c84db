package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/session"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureInvalidInput
	LoginFailureMint
	LoginFailureStore
)

type LoginSessionStore interface {
	Put(ctx context.Context, token string, rec session.Record, ttl time.Duration, maxSessions int) ([]session.Record, error)
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Codec         TokenCodec
	SessionStore  LoginSessionStore
	Revoker       Revoker
	StoreContext  StoreContext
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MaxSessions   int
	RevocationTTL time.Duration
	EvictReason   string
	Warn          func(string, ...any)
}

// LoginResult carries the issued pair or failure metadata. Evicted lists the
// sessions pushed out by the per-subject cap.
type LoginResult struct {
	Failure       LoginFailureKind
	Err           error
	AccessToken   string
	RefreshToken  string
	AccessClaims  *jwt.Claims
	RefreshClaims *jwt.Claims
	Evicted       []session.Record
}

// RunLogin mints a token pair for an already verified identity and records
// the refresh session.
func RunLogin(ctx context.Context, subject, role string, deps LoginDeps) LoginResult {
	if subject == "" {
		return LoginResult{Failure: LoginFailureInvalidInput, Err: errors.New("subject required")}
	}

	pair, err := mintPair(deps.Codec, subject, role, deps.AccessTTL, deps.RefreshTTL)
	if err != nil {
		return LoginResult{Failure: LoginFailureMint, Err: err}
	}

	rec := session.Record{
		Subject:   subject,
		TokenID:   pair.refreshClaims.ID,
		IssuedAt:  pair.refreshClaims.IssuedAt.Time,
		ExpiresAt: pair.refreshClaims.ExpiresAt.Time,
	}

	sctx, cancel := deps.StoreContext.derive(ctx)
	evicted, err := deps.SessionStore.Put(sctx, pair.refresh, rec, deps.RefreshTTL, deps.MaxSessions)
	cancel()
	if err != nil {
		return LoginResult{Failure: LoginFailureStore, Err: err}
	}

	if len(evicted) > 0 && deps.Revoker != nil {
		ids := make([]string, 0, len(evicted))
		for _, r := range evicted {
			ids = append(ids, r.TokenID)
		}
		sctx, cancel := deps.StoreContext.derive(ctx)
		err := deps.Revoker.AddMany(sctx, ids, deps.EvictReason, deps.RevocationTTL)
		cancel()
		if err != nil && deps.Warn != nil {
			deps.Warn("goGate: revoking evicted sessions failed", "subject", subject, "error", err)
		}
	}

	return LoginResult{
		AccessToken:   pair.access,
		RefreshToken:  pair.refresh,
		AccessClaims:  pair.accessClaims,
		RefreshClaims: pair.refreshClaims,
		Evicted:       evicted,
	}
}
