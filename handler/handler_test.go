package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type handlerTest struct {
	engine *goGate.Engine
	mux    *http.ServeMux
	h      *Handler
	mr     *miniredis.Miniredis
}

func staticVerifier() goGate.CredentialVerifier {
	return goGate.CredentialVerifierFunc(func(_ context.Context, identifier, secret string) (goGate.Identity, error) {
		if identifier == "alice" && secret == "wonderland" {
			return goGate.Identity{Subject: "u-alice", Role: "USER"}, nil
		}
		return goGate.Identity{}, goGate.ErrInvalidCredentials
	})
}

func newHandlerTest(t *testing.T, mutate func(*goGate.Config)) (*handlerTest, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := goGate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Store.OperationTimeout = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := goGate.New().WithConfig(cfg).WithRedis(rdb).WithLogger(logger).Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	h := New(engine, staticVerifier(), cfg.Cookie, WithLogger(logger))
	mux := http.NewServeMux()
	h.Register(mux)

	return &handlerTest{engine: engine, mux: mux, h: h, mr: mr}, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func (ht *handlerTest) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ht.mux.ServeHTTP(rec, req)
	return rec
}

func (ht *handlerTest) login(t *testing.T) (access, refresh string) {
	t.Helper()
	rec := ht.do(jsonRequest("/login", `{"username":"alice","password":"wonderland"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	return rec.Header().Get("access"), refreshFrom(t, rec)
}

func jsonRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withCookie(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: "refresh", Value: token})
	return req
}

func refreshFrom(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refresh" {
			return c.Value
		}
	}
	t.Fatal("no refresh cookie set")
	return ""
}

func assertCleared(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	sc := rec.Header().Get("Set-Cookie")
	if !strings.Contains(sc, "refresh=;") || !strings.Contains(sc, "Max-Age=0") {
		t.Fatalf("expected cleared refresh cookie, got %q", sc)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v (%s)", err, rec.Body.String())
	}
	return body.Error
}

func TestLoginSetsAccessHeaderAndRefreshCookie(t *testing.T) {
	ht, done := newHandlerTest(t, nil)
	defer done()

	rec := ht.do(jsonRequest("/login", `{"username":"alice","password":"wonderland"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	access := rec.Header().Get("access")
	if access == "" {
		t.Fatal("expected access header")
	}
	if rec.Header().Get("refresh") != "" {
		t.Fatal("refresh header must stay off by default")
	}

	sc := rec.Header().Get("Set-Cookie")
	for _, attr := range []string{"HttpOnly", "Secure", "Path=/", "SameSite=Lax"} {
		if !strings.Contains(sc, attr) {
			t.Fatalf("expected %s in cookie %q", attr, sc)
		}
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge < int((59*24*time.Hour).Seconds()) {
		t.Fatalf("unexpected refresh cookie %+v", cookies)
	}

	var body tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Subject != "u-alice" || body.Role != "USER" {
		t.Fatalf("unexpected body %+v", body)
	}

	p, err := ht.engine.ValidateAccess(context.Background(), access)
	if err != nil {
		t.Fatalf("issued access token rejected: %v", err)
	}
	if p.Subject != "u-alice" {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestLoginAcceptsForm(t *testing.T) {
	ht, done := newHandlerTest(t, nil)
	defer done()

	form := url.Values{"username": {"alice"}, "password": {"wonderland"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rec := ht.do(req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLoginRejections(t *testing.T) {
	ht, done := newHandlerTest(t, func(c *goGate.Config) {
		c.Security.MaxLoginAttempts = 2
	})
	defer done()

	if rec := ht.do(jsonRequest("/login", `{"username":`)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for broken body, got %d", rec.Code)
	}
	if rec := ht.do(jsonRequest("/login", `{"username":"alice"}`)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		rec := ht.do(jsonRequest("/login", `{"username":"alice","password":"nope"}`))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		if errorCode(t, rec) != string(goGate.ReasonCredentials) {
			t.Fatalf("unexpected error code %q", errorCode(t, rec))
		}
	}

	rec := ht.do(jsonRequest("/login", `{"username":"alice","password":"wonderland"}`))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once throttled, got %d", rec.Code)
	}

	if rec := ht.do(httptest.NewRequest(http.MethodGet, "/login", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestReissueRotatesCookie(t *testing.T) {
	ht, done := newHandlerTest(t, nil)
	defer done()

	_, refresh := ht.login(t)

	rec := ht.do(withCookie(httptest.NewRequest(http.MethodPost, "/reissue", nil), refresh))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("access") == "" {
		t.Fatal("expected new access header")
	}
	next := refreshFrom(t, rec)
	if next == refresh {
		t.Fatal("expected rotated refresh cookie")
	}

	replay := ht.do(withCookie(httptest.NewRequest(http.MethodPost, "/reissue", nil), refresh))
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", replay.Code)
	}
	if errorCode(t, replay) != string(goGate.ReasonNotFound) {
		t.Fatalf("unexpected error code %q", errorCode(t, replay))
	}
	assertCleared(t, replay)
}

func TestReissueMissingOrMalformed(t *testing.T) {
	ht, done := newHandlerTest(t, nil)
	defer done()

	if rec := ht.do(httptest.NewRequest(http.MethodPost, "/reissue", nil)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without cookie, got %d", rec.Code)
	}
	rec := ht.do(withCookie(httptest.NewRequest(http.MethodPost, "/reissue", nil), "garbage"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed cookie, got %d", rec.Code)
	}
}

func TestRefreshHeaderExposure(t *testing.T) {
	ht, done := newHandlerTest(t, func(c *goGate.Config) {
		c.Cookie.ExposeRefreshHeader = true
	})
	defer done()

	rec := ht.do(jsonRequest("/login", `{"username":"alice","password":"wonderland"}`))
	refresh := rec.Header().Get("refresh")
	if refresh == "" {
		t.Fatal("expected refresh header")
	}

	req := httptest.NewRequest(http.MethodPost, "/reissue", nil)
	req.Header.Set("refresh", refresh)
	if rec := ht.do(req); rec.Code != http.StatusOK {
		t.Fatalf("expected header-based reissue to succeed, got %d", rec.Code)
	}
}

func TestLogoutSources(t *testing.T) {
	ht, done := newHandlerTest(t, nil)
	defer done()

	sources := map[string]func(token string) *http.Request{
		"cookie": func(token string) *http.Request {
			return withCookie(httptest.NewRequest(http.MethodPost, "/logout", nil), token)
		},
		"bearer": func(token string) *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/logout", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			return req
		},
		"body": func(token string) *http.Request {
			return jsonRequest("/logout", `{"refreshToken":"`+token+`"}`)
		},
	}

	for name, build := range sources {
		t.Run(name, func(t *testing.T) {
			access, refresh := ht.login(t)

			rec := ht.do(build(refresh))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
			}
			assertCleared(t, rec)

			if _, err := ht.engine.ValidateAccess(context.Background(), access); !errors.Is(err, goGate.ErrBlacklisted) {
				t.Fatalf("expected linked access token revoked, got %v", err)
			}

			again := ht.do(build(refresh))
			if again.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 on second logout, got %d", again.Code)
			}
		})
	}
}

func TestLogoutCookieWinsOverBody(t *testing.T) {
	ht, done := newHandlerTest(t, nil)
	defer done()

	_, first := ht.login(t)
	_, second := ht.login(t)

	req := withCookie(jsonRequest("/logout", `{"refreshToken":"`+second+`"}`), first)
	if rec := ht.do(req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec := ht.do(withCookie(httptest.NewRequest(http.MethodPost, "/reissue", nil), second))
	if rec.Code != http.StatusOK {
		t.Fatalf("body token must be untouched when a cookie is present, got %d", rec.Code)
	}
}

func TestLogoutRejectsMissingAndInvalid(t *testing.T) {
	ht, done := newHandlerTest(t, nil)
	defer done()

	if rec := ht.do(httptest.NewRequest(http.MethodPost, "/logout", nil)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without token, got %d", rec.Code)
	}
	access, _ := ht.login(t)
	rec := ht.do(withCookie(httptest.NewRequest(http.MethodPost, "/logout", nil), access))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for access token, got %d", rec.Code)
	}
	if errorCode(t, rec) != string(goGate.ReasonInvalidCategory) {
		t.Fatalf("unexpected error code %q", errorCode(t, rec))
	}
}

func TestStoreUnavailableIs503(t *testing.T) {
	ht, done := newHandlerTest(t, nil)
	defer done()

	_, refresh := ht.login(t)
	ht.mr.Close()

	rec := ht.do(withCookie(httptest.NewRequest(http.MethodPost, "/reissue", nil), refresh))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on reissue, got %d", rec.Code)
	}
	if strings.Contains(rec.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Fatal("cookie must survive a store outage")
	}

	rec = ht.do(withCookie(httptest.NewRequest(http.MethodPost, "/logout", nil), refresh))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on logout, got %d", rec.Code)
	}
}

func TestIssueForIdentity(t *testing.T) {
	ht, done := newHandlerTest(t, nil)
	defer done()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth2/callback", nil)
	ht.h.IssueForIdentity(rec, req, goGate.Identity{Subject: "google-123", Role: "USER"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p, err := ht.engine.ValidateAccess(context.Background(), rec.Header().Get("access"))
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if p.Subject != "google-123" {
		t.Fatalf("unexpected subject %q", p.Subject)
	}

	rec = httptest.NewRecorder()
	ht.h.IssueForIdentity(rec, req, goGate.Identity{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty identity, got %d", rec.Code)
	}
}

func TestLoginDisabledWithoutVerifier(t *testing.T) {
	ht, done := newHandlerTest(t, nil)
	defer done()

	h := New(ht.engine, nil, goGate.DefaultConfig().Cookie)
	rec := httptest.NewRecorder()
	h.Login(rec, jsonRequest("/login", `{}`))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestLoginVerifierOutageIsUnavailable(t *testing.T) {
	ht, done := newHandlerTest(t, nil)
	defer done()

	outage := goGate.CredentialVerifierFunc(func(context.Context, string, string) (goGate.Identity, error) {
		return goGate.Identity{}, errors.New("user directory unreachable")
	})
	h := New(ht.engine, outage, goGate.DefaultConfig().Cookie, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	rec := httptest.NewRecorder()
	h.Login(rec, jsonRequest("/login", `{"username":"alice","password":"wonderland"}`))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"unavailable"`) {
		t.Fatalf("expected unavailable code, got %s", rec.Body.String())
	}
}
