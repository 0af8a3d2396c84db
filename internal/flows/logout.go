package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/session"
)

// LogoutFailureKind classifies logout flow failures for root-level mapping.
type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureDecode
	LogoutFailureWrongCategory
	LogoutFailureNotFound
	LogoutFailureStore
)

type LogoutSessionStore interface {
	Exists(ctx context.Context, token string) (bool, error)
	Delete(ctx context.Context, token string) (*session.Record, error)
	DeleteAllForSubject(ctx context.Context, subject string) ([]session.Record, error)
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Codec         TokenCodec
	SessionStore  LogoutSessionStore
	Revoker       Revoker
	StoreContext  StoreContext
	RevocationTTL time.Duration
	Reason        string
	ReasonAll     string
}

type LogoutResult struct {
	Failure LogoutFailureKind
	Err     error
	Subject string
	TokenID string
}

// RunLogout revokes the id of a stored refresh token and then deletes its
// session. A token with no stored session is rejected, so a second logout of
// the same token fails.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) LogoutResult {
	claims, err := deps.Codec.Parse(refreshToken)
	if err != nil {
		return LogoutResult{Failure: LogoutFailureDecode, Err: err}
	}
	if claims.Category != jwt.CategoryRefresh {
		return LogoutResult{Failure: LogoutFailureWrongCategory, Subject: claims.Subject, TokenID: claims.ID}
	}

	sctx, cancel := deps.StoreContext.derive(ctx)
	exists, err := deps.SessionStore.Exists(sctx, refreshToken)
	cancel()
	if err != nil {
		return LogoutResult{Failure: LogoutFailureStore, Err: err, Subject: claims.Subject, TokenID: claims.ID}
	}
	if !exists {
		return LogoutResult{Failure: LogoutFailureNotFound, Subject: claims.Subject, TokenID: claims.ID}
	}

	sctx, cancel = deps.StoreContext.derive(ctx)
	err = deps.Revoker.Add(sctx, claims.ID, deps.Reason, deps.RevocationTTL)
	cancel()
	if err != nil {
		return LogoutResult{Failure: LogoutFailureStore, Err: err, Subject: claims.Subject, TokenID: claims.ID}
	}

	sctx, cancel = deps.StoreContext.derive(ctx)
	removed, err := deps.SessionStore.Delete(sctx, refreshToken)
	cancel()
	if err != nil {
		return LogoutResult{Failure: LogoutFailureStore, Err: err, Subject: claims.Subject, TokenID: claims.ID}
	}
	if removed == nil {
		// Lost a race with a concurrent logout or rotation of the same token.
		return LogoutResult{Failure: LogoutFailureNotFound, Subject: claims.Subject, TokenID: claims.ID}
	}

	return LogoutResult{Subject: claims.Subject, TokenID: claims.ID}
}

type LogoutAllResult struct {
	Err     error
	Removed []session.Record
}

// RunLogoutAll deletes every session of subject and revokes their ids.
func RunLogoutAll(ctx context.Context, subject string, deps LogoutDeps) LogoutAllResult {
	sctx, cancel := deps.StoreContext.derive(ctx)
	removed, err := deps.SessionStore.DeleteAllForSubject(sctx, subject)
	cancel()
	if err != nil {
		return LogoutAllResult{Err: err}
	}
	if len(removed) == 0 {
		return LogoutAllResult{}
	}

	ids := make([]string, 0, len(removed))
	for _, r := range removed {
		ids = append(ids, r.TokenID)
	}
	sctx, cancel = deps.StoreContext.derive(ctx)
	err = deps.Revoker.AddMany(sctx, ids, deps.ReasonAll, deps.RevocationTTL)
	cancel()

	return LogoutAllResult{Err: err, Removed: removed}
}
