package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/session"
)

// ReissueFailureKind classifies reissue flow failures for root-level mapping.
type ReissueFailureKind int

const (
	ReissueFailureNone ReissueFailureKind = iota
	ReissueFailureDecode
	ReissueFailureWrongCategory
	ReissueFailureExpired
	ReissueFailureMint
	ReissueFailureNotFound
	ReissueFailureStore
)

type ReissueSessionStore interface {
	Rotate(ctx context.Context, oldToken, newToken string, next session.Record, ttl time.Duration, now time.Time) error
}

// ReissueDeps captures reissue flow dependencies.
type ReissueDeps struct {
	Codec        TokenCodec
	SessionStore ReissueSessionStore
	StoreContext StoreContext
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Now          func() time.Time
}

// ReissueResult carries either the rotated pair or failure metadata.
type ReissueResult struct {
	Failure       ReissueFailureKind
	Err           error
	Subject       string
	PreviousID    string
	AccessToken   string
	RefreshToken  string
	AccessClaims  *jwt.Claims
	RefreshClaims *jwt.Claims
}

// RunReissue exchanges a live refresh token for a new pair. The old token is
// consumed by the same atomic step that stores the new one.
func RunReissue(ctx context.Context, refreshToken string, deps ReissueDeps) ReissueResult {
	claims, err := deps.Codec.Parse(refreshToken)
	if err != nil {
		return ReissueResult{Failure: ReissueFailureDecode, Err: err}
	}
	if claims.Category != jwt.CategoryRefresh {
		return ReissueResult{Failure: ReissueFailureWrongCategory, Subject: claims.Subject, PreviousID: claims.ID}
	}
	if deps.Codec.IsExpiredWithIdle(claims) {
		return ReissueResult{Failure: ReissueFailureExpired, Subject: claims.Subject, PreviousID: claims.ID}
	}

	pair, err := mintPair(deps.Codec, claims.Subject, claims.Role, deps.AccessTTL, deps.RefreshTTL)
	if err != nil {
		return ReissueResult{Failure: ReissueFailureMint, Err: err, Subject: claims.Subject, PreviousID: claims.ID}
	}

	next := session.Record{
		Subject:   claims.Subject,
		TokenID:   pair.refreshClaims.ID,
		IssuedAt:  pair.refreshClaims.IssuedAt.Time,
		ExpiresAt: pair.refreshClaims.ExpiresAt.Time,
	}

	sctx, cancel := deps.StoreContext.derive(ctx)
	err = deps.SessionStore.Rotate(sctx, refreshToken, pair.refresh, next, deps.RefreshTTL, deps.Now())
	cancel()
	if err != nil {
		failure := ReissueFailureStore
		switch {
		case errors.Is(err, session.ErrSessionNotFound),
			errors.Is(err, session.ErrSessionExpired),
			errors.Is(err, session.ErrSessionMismatch):
			failure = ReissueFailureNotFound
		}
		return ReissueResult{Failure: failure, Err: err, Subject: claims.Subject, PreviousID: claims.ID}
	}

	return ReissueResult{
		Subject:       claims.Subject,
		PreviousID:    claims.ID,
		AccessToken:   pair.access,
		RefreshToken:  pair.refresh,
		AccessClaims:  pair.accessClaims,
		RefreshClaims: pair.refreshClaims,
	}
}
