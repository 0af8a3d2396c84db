package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goGate "github.com/MrEthical07/goGate"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := goGate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Cookie.Secure = false

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := goGate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRoles(roles).
		WithLogger(logger).
		Build()
	require.NoError(t, err)

	verifier := newUserVerifier()
	hash, err := bcrypt.GenerateFromPassword([]byte("wonderland"), bcrypt.MinCost)
	require.NoError(t, err)
	verifier.put("alice", "admin", hash)

	srv := httptest.NewServer(newRouter(routerDeps{engine: engine, verifier: verifier, logger: logger}))
	return srv, func() {
		srv.Close()
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func login(t *testing.T, srv *httptest.Server) (string, *http.Cookie) {
	t.Helper()
	body := bytes.NewBufferString(`{"username":"alice","password":"wonderland"}`)
	resp, err := http.Post(srv.URL+"/login", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	access := resp.Header.Get("access")
	require.NotEmpty(t, access, "expected access header")
	for _, c := range resp.Cookies() {
		if c.Name == "refresh" {
			return access, c
		}
	}
	t.Fatal("expected refresh cookie")
	return "", nil
}

func get(t *testing.T, url, access string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestServerGatedRoutes(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()

	access, _ := login(t, srv)

	resp := get(t, srv.URL+"/api/me", access)
	var me principalResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", me.Subject)
	assert.Equal(t, "admin", me.Role)
	assert.Contains(t, me.Authorities, "ROLE_ADMIN")

	resp = get(t, srv.URL+"/api/me", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for _, path := range []string{"/api/v2/me", "/api/v2/admin", "/api/sessions"} {
		resp = get(t, srv.URL+path, access)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp = get(t, srv.URL+"/api/v2/me", "not-a-token")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerWebsocketEcho(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()

	access, _ := login(t, srv)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + access

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]string
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "alice", hello["subject"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(msg))

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerLogoutRevokesAccess(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()

	access, refresh := login(t, srv)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/logout", nil)
	req.AddCookie(refresh)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv.URL+"/api/me", access)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "revoked access token must be refused")
}

func TestServerLogoutAll(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()

	first, _ := login(t, srv)
	second, _ := login(t, srv)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/logout-all", nil)
	req.Header.Set("Authorization", "Bearer "+first)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, out["removed"])

	resp = get(t, srv.URL+"/api/me", second)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "second session must be revoked")
}

func TestServerMetricsAndHealth(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()

	_, _ = login(t, srv)

	resp := get(t, srv.URL+"/metrics", "")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, string(raw), "gogate_login_success_total 1")

	resp = get(t, srv.URL+"/healthz", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
