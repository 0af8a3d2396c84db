package goGate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/revocation"
	"github.com/MrEthical07/goGate/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	roles map[string][]string

	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the session store, the revocation list
// and the login throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRoles maps each role to the authorities granted to its principals.
// Roles missing from the map grant only themselves.
func (b *Builder) WithRoles(r map[string][]string) *Builder {
	b.roles = r
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for token issuance and expiry checks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		IdleWindow:    cfg.JWT.IdleTTL,
		Now:           now,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}

	roles := make(map[string][]string, len(b.roles))
	for role, authorities := range b.roles {
		roles[role] = cloneStrings(authorities)
	}

	e := &Engine{
		config:       cfg,
		jwtManager:   jwtManager,
		sessionStore: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		revocations:  revocation.NewList(b.redis, cfg.Revocation.RedisPrefix, now),
		roles:        roles,
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink, logger),
		metrics:      NewMetrics(cfg.Metrics),
		logger:       logger,
		now:          now,
	}
	if cfg.Security.EnableLoginThrottle {
		e.rateLimiter = rate.New(b.redis, rate.Config{
			Prefix:                cfg.Session.RedisPrefix,
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
		})
	}
	e.flowDeps = e.buildFlowDeps()

	b.built = true
	return e, nil
}

func (e *Engine) buildFlowDeps() flows.Deps {
	storeCtx := flows.StoreContext(func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, e.config.Store.OperationTimeout)
	})
	revocationTTL := e.config.RevocationTTL()

	return flows.Deps{
		Login: flows.LoginDeps{
			Codec:         e.jwtManager,
			SessionStore:  e.sessionStore,
			Revoker:       e.revocations,
			StoreContext:  storeCtx,
			AccessTTL:     e.config.JWT.AccessTTL,
			RefreshTTL:    e.config.JWT.RefreshTTL,
			MaxSessions:   e.config.Session.MaxSessionsPerSubject,
			RevocationTTL: revocationTTL,
			EvictReason:   revocation.ReasonEvicted,
			Warn:          e.logger.Warn,
		},
		Reissue: flows.ReissueDeps{
			Codec:        e.jwtManager,
			SessionStore: e.sessionStore,
			StoreContext: storeCtx,
			AccessTTL:    e.config.JWT.AccessTTL,
			RefreshTTL:   e.config.JWT.RefreshTTL,
			Now:          e.now,
		},
		Logout: flows.LogoutDeps{
			Codec:         e.jwtManager,
			SessionStore:  e.sessionStore,
			Revoker:       e.revocations,
			StoreContext:  storeCtx,
			RevocationTTL: revocationTTL,
			Reason:        revocation.ReasonLogout,
			ReasonAll:     revocation.ReasonLogoutAll,
		},
		Validate: flows.ValidateDeps{
			Codec:        e.jwtManager,
			Revocations:  e.revocations,
			StoreContext: storeCtx,
		},
	}
}
