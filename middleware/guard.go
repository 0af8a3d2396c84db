package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	goGate "github.com/MrEthical07/goGate"
)

// Validator verifies access tokens. *goGate.Engine implements it.
type Validator interface {
	ValidateAccess(ctx context.Context, token string) (*goGate.Principal, error)
}

// Option customizes a gate.
type Option func(*gate)

// WithLogger sets the logger used for rejection records.
func WithLogger(logger *slog.Logger) Option {
	return func(g *gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

type gate struct {
	validator Validator
	cfg       goGate.GateConfig
	public    map[string]struct{}
	optional  map[string]struct{}
	logger    *slog.Logger
}

func newGate(v Validator, cfg goGate.GateConfig, opts ...Option) *gate {
	g := &gate{
		validator: v,
		cfg:       cfg,
		public:    make(map[string]struct{}, len(cfg.PublicPaths)),
		optional:  make(map[string]struct{}, len(cfg.OptionalPaths)),
		logger:    slog.Default(),
	}
	for _, p := range cfg.PublicPaths {
		g.public[p] = struct{}{}
	}
	for _, p := range cfg.OptionalPaths {
		g.optional[p] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *gate) isPublic(path string) bool {
	if _, ok := g.public[path]; ok {
		return true
	}
	for _, prefix := range g.cfg.PublicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *gate) isOptional(path string) bool {
	_, ok := g.optional[path]
	return ok
}

// decision is the outcome of running a request through the gate.
type decision struct {
	pass      bool
	principal *goGate.Principal
	status    int
	err       error
}

func (g *gate) decide(ctx context.Context, path, token string) decision {
	if g.isPublic(path) {
		return decision{pass: true}
	}
	if token == "" {
		if g.isOptional(path) {
			return decision{pass: true}
		}
		return decision{status: http.StatusUnauthorized, err: goGate.ErrMissingToken}
	}
	if g.validator == nil {
		return decision{status: http.StatusUnauthorized, err: goGate.ErrEngineNotReady}
	}

	p, err := g.validator.ValidateAccess(ctx, token)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, goGate.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		return decision{status: status, err: err}
	}
	return decision{pass: true, principal: p}
}

func (g *gate) logRejection(r *http.Request, d decision) {
	reason := goGate.ReasonFor(d.err)
	level := slog.LevelInfo
	if d.status == http.StatusServiceUnavailable {
		level = slog.LevelError
	}
	g.logger.Log(r.Context(), level, "goGate: request rejected",
		"method", r.Method,
		"path", r.URL.Path,
		"status", d.status,
		"reason", string(reason),
	)
}

type rejectionBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (g *gate) rejectionBody(d decision) rejectionBody {
	body := rejectionBody{Error: "unauthorized"}
	if d.status == http.StatusServiceUnavailable {
		body.Error = "unavailable"
	}
	if g.cfg.ExposeReason {
		body.Reason = string(clientReason(d.err))
	}
	return body
}

// clientReason folds signature failures into malformed so callers cannot tell
// a forged token from a mangled one.
func clientReason(err error) goGate.Reason {
	reason := goGate.ReasonFor(err)
	if reason == goGate.ReasonSignature {
		return goGate.ReasonMalformed
	}
	return reason
}

func (g *gate) reject(w http.ResponseWriter, r *http.Request, d decision) {
	g.logRejection(r, d)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.status)
	_ = json.NewEncoder(w).Encode(g.rejectionBody(d))
}

// Guard returns net/http middleware that validates the bearer access token of
// every request outside the allow-list.
func Guard(v Validator, cfg goGate.GateConfig, opts ...Option) func(http.Handler) http.Handler {
	g := newGate(v, cfg, opts...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _ := bearerToken(r.Header.Get("Authorization"))
			d := g.decide(r.Context(), r.URL.Path, token)
			if !d.pass {
				g.reject(w, r, d)
				return
			}
			if d.principal != nil {
				r = r.WithContext(goGate.WithPrincipal(r.Context(), d.principal))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
