package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/handler"
	"github.com/MrEthical07/goGate/metrics/export/prometheus"
	"github.com/MrEthical07/goGate/middleware"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type routerDeps struct {
	engine       *goGate.Engine
	verifier     goGate.CredentialVerifier
	logger       *slog.Logger
	pingInterval time.Duration
	checkOrigin  func(*http.Request) bool
}

// newRouter wires the public surface:
//
//	POST /login, /reissue, /logout   token endpoints
//	GET  /api/me, /api/sessions      gated net/http routes
//	POST /api/logout-all             gated
//	GET  /api/v2/me                  gated gin routes
//	GET  /ws                         websocket, token in the handshake
//	GET  /metrics, /healthz          ungated
func newRouter(d routerDeps) http.Handler {
	cfg := d.engine.Config()
	opt := middleware.WithLogger(d.logger)

	api := http.NewServeMux()
	handler.New(d.engine, d.verifier, cfg.Cookie, handler.WithLogger(d.logger)).Register(api)
	api.HandleFunc("GET /api/me", meHandler)
	api.HandleFunc("GET /api/sessions", sessionsHandler(d.engine))
	api.Handle("POST /api/logout-all", middleware.RequireAuthority("ROLE_USER")(logoutAllHandler(d.engine, d.logger)))

	root := http.NewServeMux()
	root.Handle("/", middleware.Guard(d.engine, cfg.Gate, opt)(api))
	root.Handle("/api/v2/", newGinRouter(d.engine, cfg.Gate, opt))
	root.Handle("GET /ws", middleware.Socket(d.engine, cfg.Gate, middleware.SocketConfig{
		CheckOrigin:  d.checkOrigin,
		PingInterval: d.pingInterval,
	}, echoSocket(d.logger), opt))
	root.Handle("GET /metrics", prometheus.NewPrometheusExporter(d.engine).Handler())
	root.HandleFunc("GET /healthz", healthHandler(d.engine))
	return root
}

func newGinRouter(engine *goGate.Engine, gate goGate.GateConfig, opt middleware.Option) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.GinGate(engine, gate, opt))

	v2 := r.Group("/api/v2")
	v2.GET("/me", func(c *gin.Context) {
		p, _ := middleware.GinPrincipal(c)
		c.JSON(http.StatusOK, principalView(p))
	})
	v2.GET("/admin", middleware.GinRequireAuthority("ROLE_ADMIN"), func(c *gin.Context) {
		p, _ := middleware.GinPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"subject": p.Subject, "admin": true})
	})
	return r
}

type principalResponse struct {
	Subject     string    `json:"subject"`
	Role        string    `json:"role"`
	Authorities []string  `json:"authorities"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func principalView(p *goGate.Principal) principalResponse {
	if p == nil {
		return principalResponse{}
	}
	return principalResponse{
		Subject:     p.Subject,
		Role:        p.Role,
		Authorities: p.Authorities,
		ExpiresAt:   p.ExpiresAt,
	}
}

func meHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := goGate.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": string(goGate.ReasonMissing)})
		return
	}
	writeJSON(w, http.StatusOK, principalView(p))
}

func sessionsHandler(engine *goGate.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := goGate.PrincipalFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": string(goGate.ReasonMissing)})
			return
		}
		sessions, err := engine.Sessions(r.Context(), p.Subject)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": string(goGate.ReasonFor(err))})
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func logoutAllHandler(engine *goGate.Engine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := goGate.PrincipalFromContext(r.Context())
		n, err := engine.LogoutAll(r.Context(), p.Subject)
		if err != nil {
			logger.Error("goGate: logout-all failed", "subject", p.Subject, "removed", n, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": string(goGate.ReasonFor(err)), "removed": n})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})
	})
}

func healthHandler(engine *goGate.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		rtt, err := engine.Ping(ctx)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "redis unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "redis": rtt.String()})
	}
}

// echoSocket greets the caller and echoes text frames until the peer goes
// away.
func echoSocket(logger *slog.Logger) middleware.SocketHandler {
	return func(ctx context.Context, conn *websocket.Conn, p *goGate.Principal) {
		if err := conn.WriteJSON(map[string]string{"type": "hello", "subject": p.Subject}); err != nil {
			return
		}
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if !errors.As(err, &ce) && ctx.Err() == nil {
					logger.Debug("goGate: websocket read ended", "subject", p.Subject, "error", err)
				}
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
