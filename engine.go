package goGate

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/revocation"
	"github.com/MrEthical07/goGate/session"
)

// Engine issues, rotates, revokes and validates session tokens.
//
// An Engine is built once by Builder and is safe for concurrent use. It holds
// no session state in process; every check that needs shared state goes to
// Redis under Config.Store.OperationTimeout.
type Engine struct {
	config       Config
	jwtManager   *jwt.Manager
	sessionStore *session.Store
	revocations  *revocation.List
	rateLimiter  *rate.Limiter
	roles        map[string][]string
	audit        *auditDispatcher
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
	flowDeps     flows.Deps
}

// Close flushes pending audit events and stops the audit worker.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
		e.logger.Info("goGate: audit dispatcher closed",
			"delivered", e.audit.Delivered(),
			"dropped", e.audit.Dropped(),
		)
	}
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// AuditDropped reports how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
			Sums:       map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

// Login mints a token pair for a subject whose identity was already verified
// and records the refresh session. When the subject is over the session cap
// the oldest sessions are evicted and their ids revoked.
func (e *Engine) Login(ctx context.Context, subject, role string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	res := flows.RunLogin(ctx, subject, role, e.flowDeps.Login)
	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureInvalidInput:
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidSubject
	case flows.LoginFailureMint:
		e.metricInc(MetricLoginFailure)
		e.logger.Error("goGate: minting token pair failed", "subject", subject, "error", res.Err)
		return nil, errors.Join(ErrTokenIssue, res.Err)
	default:
		err := e.storeFailure("login", res.Err)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, subject, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	if n := len(res.Evicted); n > 0 {
		e.metricAdd(MetricSessionEvicted, n)
		e.metricAdd(MetricTokenRevoked, n)
		for _, rec := range res.Evicted {
			e.emitAudit(ctx, auditEventSessionEvicted, true, rec.Subject, rec.TokenID, nil, nil)
		}
	}
	e.emitAudit(ctx, auditEventLoginSuccess, true, subject, res.RefreshClaims.ID, nil, func() map[string]string {
		return map[string]string{"role": role}
	})

	return &TokenPair{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  res.AccessClaims.ExpiresAt.Time,
		RefreshExpiresAt: res.RefreshClaims.ExpiresAt.Time,
		Subject:          subject,
		Role:             role,
	}, nil
}

// Authenticate checks credentials with verifier and logs the caller in. When
// login throttling is enabled, failed attempts are counted per identifier and
// per client IP (see WithClientIP) and further attempts are refused for the
// cooldown once the budget is spent.
func (e *Engine) Authenticate(ctx context.Context, verifier CredentialVerifier, identifier, secret string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if verifier == nil {
		return nil, errors.New("credential verifier required")
	}

	ip := clientIPFromContext(ctx)
	if e.rateLimiter != nil {
		sctx, cancel := e.storeContext(ctx)
		err := e.rateLimiter.CheckLogin(sctx, identifier, ip)
		cancel()
		switch {
		case errors.Is(err, rate.ErrRateLimited):
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, identifier, "", ErrLoginRateLimited, nil)
			return nil, ErrLoginRateLimited
		case err != nil:
			return nil, e.storeFailure("login throttle", err)
		}
	}

	identity, err := verifier.Verify(ctx, identifier, secret)
	if err != nil && !errors.Is(err, ErrInvalidCredentials) {
		err = e.storeFailure("credential verifier", err)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identifier, "", err, nil)
		return nil, err
	}
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identifier, "", ErrInvalidCredentials, nil)
		if e.rateLimiter != nil {
			sctx, cancel := e.storeContext(ctx)
			incErr := e.rateLimiter.IncrementLogin(sctx, identifier, ip)
			cancel()
			if incErr != nil && !errors.Is(incErr, rate.ErrRateLimited) {
				e.logger.Warn("goGate: recording failed login", "identifier", identifier, "error", incErr)
			}
		}
		return nil, ErrInvalidCredentials
	}

	if e.rateLimiter != nil {
		sctx, cancel := e.storeContext(ctx)
		resetErr := e.rateLimiter.ResetLogin(sctx, identifier, ip)
		cancel()
		if resetErr != nil {
			e.logger.Warn("goGate: clearing login attempts", "identifier", identifier, "error", resetErr)
		}
	}

	return e.Login(ctx, identity.Subject, identity.Role)
}

// Reissue exchanges a refresh token for a new pair. The presented token is
// consumed: of any number of concurrent reissues with the same token exactly
// one succeeds and the rest get ErrRefreshNotFound.
func (e *Engine) Reissue(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if refreshToken == "" {
		return nil, ErrMissingToken
	}

	res := flows.RunReissue(ctx, refreshToken, e.flowDeps.Reissue)
	var err error
	switch res.Failure {
	case flows.ReissueFailureNone:
	case flows.ReissueFailureDecode:
		err = decodeError(res.Err)
		if errors.Is(err, ErrSignatureInvalid) {
			e.metricInc(MetricSignatureInvalid)
			e.emitAudit(ctx, auditEventSignatureInvalid, false, "", "", err, func() map[string]string {
				return map[string]string{"category": string(jwt.CategoryRefresh)}
			})
		}
	case flows.ReissueFailureWrongCategory:
		err = ErrWrongCategory
	case flows.ReissueFailureExpired:
		err = ErrExpired
	case flows.ReissueFailureNotFound:
		err = ErrRefreshNotFound
		e.metricInc(MetricReissueReplayRejected)
	case flows.ReissueFailureMint:
		e.logger.Error("goGate: minting token pair failed", "subject", res.Subject, "error", res.Err)
		err = errors.Join(ErrTokenIssue, res.Err)
	default:
		err = e.storeFailure("reissue", res.Err)
	}
	if err != nil {
		e.metricInc(MetricReissueFailure)
		e.emitAudit(ctx, auditEventReissueRejected, false, res.Subject, res.PreviousID, err, nil)
		return nil, err
	}

	e.metricInc(MetricReissueSuccess)
	e.emitAudit(ctx, auditEventReissueSuccess, true, res.Subject, res.RefreshClaims.ID, nil, func() map[string]string {
		return map[string]string{"previous_jti": res.PreviousID}
	})

	return &TokenPair{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  res.AccessClaims.ExpiresAt.Time,
		RefreshExpiresAt: res.RefreshClaims.ExpiresAt.Time,
		Subject:          res.Subject,
		Role:             res.RefreshClaims.Role,
	}, nil
}

// Logout revokes the id of a live refresh token and deletes its session.
// Logging out a token that has no session, including a second logout of the
// same token, returns ErrRefreshNotFound.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if refreshToken == "" {
		return ErrMissingToken
	}

	res := flows.RunLogout(ctx, refreshToken, e.flowDeps.Logout)
	var err error
	switch res.Failure {
	case flows.LogoutFailureNone:
	case flows.LogoutFailureDecode:
		err = decodeError(res.Err)
		if errors.Is(err, ErrSignatureInvalid) {
			e.metricInc(MetricSignatureInvalid)
			e.emitAudit(ctx, auditEventSignatureInvalid, false, "", "", err, func() map[string]string {
				return map[string]string{"category": string(jwt.CategoryRefresh)}
			})
		}
	case flows.LogoutFailureWrongCategory:
		err = ErrWrongCategory
	case flows.LogoutFailureNotFound:
		err = ErrRefreshNotFound
	default:
		err = e.storeFailure("logout", res.Err)
	}
	if err != nil {
		e.metricInc(MetricLogoutFailure)
		e.emitAudit(ctx, auditEventLogoutFailure, false, res.Subject, res.TokenID, err, nil)
		return err
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventLogout, true, res.Subject, res.TokenID, nil, nil)
	return nil
}

// LogoutAll deletes every session of subject and revokes their ids. It
// returns the number of sessions removed. If the sessions were deleted but
// revoking their ids failed, the count is returned with ErrStoreUnavailable.
func (e *Engine) LogoutAll(ctx context.Context, subject string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if subject == "" {
		return 0, ErrInvalidSubject
	}

	res := flows.RunLogoutAll(ctx, subject, e.flowDeps.Logout)
	n := len(res.Removed)
	if res.Err != nil {
		err := e.storeFailure("logout all", res.Err)
		e.emitAudit(ctx, auditEventLogoutAll, false, subject, "", err, func() map[string]string {
			return map[string]string{"removed": strconv.Itoa(n)}
		})
		return n, err
	}

	e.metricInc(MetricLogoutAll)
	e.metricAdd(MetricTokenRevoked, n)
	e.emitAudit(ctx, auditEventLogoutAll, true, subject, "", nil, func() map[string]string {
		return map[string]string{"removed": strconv.Itoa(n)}
	})
	return n, nil
}

// ValidateAccess verifies an access token and returns its principal. Checks
// run in order: signature, category, expiry, revocation. No session lookup
// is made.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*Principal, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	start := time.Now()
	res := flows.RunValidate(ctx, token, e.flowDeps.Validate)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))

	var err error
	switch res.Failure {
	case flows.ValidateFailureNone:
	case flows.ValidateFailureMalformed:
		err = ErrMalformed
	case flows.ValidateFailureSignature:
		err = ErrSignatureInvalid
		e.metricInc(MetricSignatureInvalid)
		e.emitAudit(ctx, auditEventSignatureInvalid, false, "", "", err, func() map[string]string {
			return map[string]string{"category": string(jwt.CategoryAccess)}
		})
	case flows.ValidateFailureWrongCategory:
		err = ErrWrongCategory
	case flows.ValidateFailureExpired:
		err = ErrExpired
	case flows.ValidateFailureRevoked:
		err = ErrBlacklisted
		e.metricInc(MetricValidateRevoked)
		e.emitAudit(ctx, auditEventRevokedTokenUsed, false, res.Claims.Subject, res.Claims.ID, err, func() map[string]string {
			return e.revocationMetadata(ctx, res.Claims.ID)
		})
	default:
		err = e.storeFailure("validate", res.Err)
	}
	if err != nil {
		e.metricInc(MetricValidateFailure)
		e.logger.Debug("goGate: access token rejected", "reason", string(ReasonFor(err)))
		return nil, err
	}

	e.metricInc(MetricValidateSuccess)
	claims := res.Claims
	return &Principal{
		Subject:     claims.Subject,
		Role:        claims.Role,
		Authorities: e.authorities(claims.Role),
		TokenID:     claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Sessions lists the active refresh sessions of subject, oldest first.
func (e *Engine) Sessions(ctx context.Context, subject string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if subject == "" {
		return nil, ErrInvalidSubject
	}

	sctx, cancel := e.storeContext(ctx)
	records, err := e.sessionStore.Sessions(sctx, subject)
	cancel()
	if err != nil {
		return nil, e.storeFailure("sessions", err)
	}

	out := make([]SessionInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, SessionInfo{
			TokenID:   rec.TokenID,
			IssuedAt:  rec.IssuedAt,
			ExpiresAt: rec.ExpiresAt,
		})
	}
	return out, nil
}

// Ping measures a Redis round trip under the operation timeout.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	d, err := e.sessionStore.Ping(sctx)
	if err != nil {
		return 0, storeError(err)
	}
	return d, nil
}

// revocationMetadata reads why tokenID was revoked. It costs one extra store
// call and only runs when auditing is on.
func (e *Engine) revocationMetadata(ctx context.Context, tokenID string) map[string]string {
	sctx, cancel := e.storeContext(ctx)
	entry, ok, err := e.revocations.Reason(sctx, tokenID)
	cancel()
	if err != nil {
		e.logger.Warn("goGate: reading revocation entry", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	meta := map[string]string{"revocation_reason": entry.Reason}
	if !entry.RevokedAt.IsZero() {
		meta["revoked_at"] = entry.RevokedAt.UTC().Format(time.RFC3339)
	}
	return meta
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.config.Store.OperationTimeout)
}

// storeFailure logs and counts a failed store call and returns it classified
// as ErrStoreUnavailable.
func (e *Engine) storeFailure(op string, err error) error {
	e.metricInc(MetricStoreUnavailable)
	e.logger.Error("goGate: store call failed",
		"op", op,
		"timed_out", errors.Is(err, context.DeadlineExceeded),
		"redis", isStoreFailure(err),
		"error", err,
	)
	return storeError(err)
}

func (e *Engine) authorities(role string) []string {
	if granted, ok := e.roles[role]; ok {
		return cloneStrings(granted)
	}
	if role == "" {
		return nil
	}
	return []string{role}
}
