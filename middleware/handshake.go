package middleware

import (
	"context"
	"net/http"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/gorilla/websocket"
)

// handshakeToken reads the token of a websocket handshake. Browsers cannot
// set headers on a websocket request, so the query parameter is tried first,
// then the configured header, then a bearer Authorization header.
func handshakeToken(r *http.Request, cfg goGate.GateConfig) string {
	if cfg.HandshakeQueryParam != "" {
		if v := r.URL.Query().Get(cfg.HandshakeQueryParam); v != "" {
			return v
		}
	}
	if cfg.HandshakeHeader != "" {
		if v := r.Header.Get(cfg.HandshakeHeader); v != "" {
			return v
		}
	}
	token, _ := bearerToken(r.Header.Get("Authorization"))
	return token
}

// HandshakeGuard validates the access token of a connection handshake before
// next runs. It ignores the allow-list: a handshake always needs a token.
func HandshakeGuard(v Validator, cfg goGate.GateConfig, opts ...Option) func(http.Handler) http.Handler {
	cfg.PublicPaths = nil
	cfg.PublicPrefixes = nil
	cfg.OptionalPaths = nil
	g := newGate(v, cfg, opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.decide(r.Context(), r.URL.Path, handshakeToken(r, cfg))
			if !d.pass {
				g.reject(w, r, d)
				return
			}
			next.ServeHTTP(w, r.WithContext(goGate.WithPrincipal(r.Context(), d.principal)))
		})
	}
}

// SocketHandler serves one upgraded connection. The connection is closed
// when it returns.
type SocketHandler func(ctx context.Context, conn *websocket.Conn, p *goGate.Principal)

// SocketConfig tunes the websocket endpoint returned by Socket.
type SocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	// CheckOrigin defaults to the gorilla same-origin check when nil.
	CheckOrigin func(r *http.Request) bool
	// PingInterval enables server pings when > 0. The read deadline is
	// pushed out by twice the interval on every pong.
	PingInterval time.Duration
}

// Socket returns a websocket endpoint whose handshake is gated. Requests
// with a missing or invalid token are refused before the upgrade.
func Socket(v Validator, cfg goGate.GateConfig, sc SocketConfig, handler SocketHandler, opts ...Option) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  sc.ReadBufferSize,
		WriteBufferSize: sc.WriteBufferSize,
		CheckOrigin:     sc.CheckOrigin,
	}
	g := newGate(v, cfg, opts...)

	serve := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := goGate.PrincipalFromContext(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.logger.Warn("goGate: websocket upgrade failed", "subject", p.Subject, "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if sc.PingInterval > 0 {
			wait := 2 * sc.PingInterval
			_ = conn.SetReadDeadline(time.Now().Add(wait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wait))
			})
			go pingLoop(ctx, conn, sc.PingInterval)
		}

		handler(ctx, conn, p)
	})

	return HandshakeGuard(v, cfg, opts...)(serve)
}

func pingLoop(ctx context.Context, conn *websocket.Conn, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(every)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
