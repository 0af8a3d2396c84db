package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	goGate "github.com/MrEthical07/goGate"
)

// Engine is the part of *goGate.Engine the handlers use.
type Engine interface {
	Authenticate(ctx context.Context, verifier goGate.CredentialVerifier, identifier, secret string) (*goGate.TokenPair, error)
	Login(ctx context.Context, subject, role string) (*goGate.TokenPair, error)
	Reissue(ctx context.Context, refreshToken string) (*goGate.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Option customizes a Handler.
type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock sets the clock used for cookie Max-Age.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler serves /login, /reissue and /logout.
type Handler struct {
	engine   Engine
	verifier goGate.CredentialVerifier
	cookie   goGate.CookieConfig
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a Handler. verifier may be nil when only IssueForIdentity is
// used, in which case /login answers 501.
func New(engine Engine, verifier goGate.CredentialVerifier, cookie goGate.CookieConfig, opts ...Option) *Handler {
	h := &Handler{
		engine:   engine,
		verifier: verifier,
		cookie:   cookie,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("POST /reissue", h.Reissue)
	mux.HandleFunc("POST /logout", h.Logout)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	Subject          string    `json:"subject"`
	Role             string    `json:"role"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const maxBodyBytes = 1 << 16

// Login checks credentials and issues a token pair. The body is JSON
// {"username", "password"}; form fields with the same names are accepted
// too.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		writeError(w, http.StatusNotImplemented, "login_disabled")
		return
	}

	req, err := decodeLogin(r)
	if err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	ctx := goGate.WithClientIP(r.Context(), clientIP(r))
	pair, err := h.engine.Authenticate(ctx, h.verifier, req.Username, req.Password)
	if err != nil {
		h.fail(w, r, "login", err, http.StatusUnauthorized)
		return
	}

	h.writePair(w, pair)
}

// IssueForIdentity mints tokens for an identity verified elsewhere, such as
// an OAuth callback, and writes them the same way Login does.
func (h *Handler) IssueForIdentity(w http.ResponseWriter, r *http.Request, id goGate.Identity) {
	pair, err := h.engine.Login(r.Context(), id.Subject, id.Role)
	if err != nil {
		h.fail(w, r, "issue", err, http.StatusBadRequest)
		return
	}
	h.writePair(w, pair)
}

// Reissue rotates the refresh token from the cookie, or from the refresh
// header when header delivery is enabled.
func (h *Handler) Reissue(w http.ResponseWriter, r *http.Request) {
	token := cookieToken(r, h.cookie.Name)
	if token == "" && h.cookie.ExposeRefreshHeader {
		token = r.Header.Get(h.cookie.RefreshHeader)
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, string(goGate.ReasonMissing))
		return
	}

	pair, err := h.engine.Reissue(r.Context(), token)
	if err != nil {
		if !errors.Is(err, goGate.ErrStoreUnavailable) {
			http.SetCookie(w, clearedCookie(h.cookie))
		}
		h.fail(w, r, "reissue", err, http.StatusUnauthorized)
		return
	}

	h.writePair(w, pair)
}

// Logout ends the session of a refresh token taken from, in order, the
// cookie, a bearer Authorization header, or a JSON body field refreshToken.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := logoutToken(r, h.cookie.Name)
	if token == "" {
		writeError(w, http.StatusBadRequest, string(goGate.ReasonMissing))
		return
	}

	err := h.engine.Logout(r.Context(), token)
	if errors.Is(err, goGate.ErrStoreUnavailable) {
		h.fail(w, r, "logout", err, http.StatusBadRequest)
		return
	}
	http.SetCookie(w, clearedCookie(h.cookie))
	if err != nil {
		h.fail(w, r, "logout", err, http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writePair(w http.ResponseWriter, pair *goGate.TokenPair) {
	w.Header().Set(h.cookie.AccessHeader, pair.AccessToken)
	if h.cookie.ExposeRefreshHeader {
		w.Header().Set(h.cookie.RefreshHeader, pair.RefreshToken)
	}
	w.Header().Set("Cache-Control", "no-store")
	http.SetCookie(w, refreshCookie(h.cookie, pair.RefreshToken, pair.RefreshExpiresAt, h.now()))

	writeJSON(w, http.StatusOK, tokenResponse{
		Subject:          pair.Subject,
		Role:             pair.Role,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

// fail writes the status for err. Token rejections get invalidStatus.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error, invalidStatus int) {
	status := statusFor(err, invalidStatus)
	reason := goGate.ReasonFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("goGate: request failed", "op", op, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Info("goGate: request rejected", "op", op, "path", r.URL.Path, "reason", string(reason))
	}

	code := string(reason)
	if reason == goGate.ReasonSignature {
		code = string(goGate.ReasonMalformed)
	}
	writeError(w, status, code)
}

func statusFor(err error, invalidStatus int) int {
	switch {
	case errors.Is(err, goGate.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, goGate.ErrLoginRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, goGate.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, goGate.ErrMissingToken),
		errors.Is(err, goGate.ErrMalformed),
		errors.Is(err, goGate.ErrInvalidSubject):
		return http.StatusBadRequest
	case goGate.IsClientError(err):
		return invalidStatus
	default:
		return http.StatusInternalServerError
	}
}

func decodeLogin(r *http.Request) (loginRequest, error) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		return req, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	return req, err
}

func logoutToken(r *http.Request, cookieName string) string {
	if v := cookieToken(r, cookieName); v != "" {
		return v
	}
	const bearer = "Bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(bearer) && strings.EqualFold(auth[:len(bearer)], bearer) {
		if v := strings.TrimSpace(auth[len(bearer):]); v != "" {
			return v
		}
	}
	if r.Body == nil {
		return ""
	}
	var req logoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return ""
	}
	return req.RefreshToken
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}
