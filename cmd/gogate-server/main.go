// Command gogate-server runs the goGate token endpoints, a gated API and a
// gated websocket in front of Redis.
//
// With REDIS_ADDR unset it starts an in-process miniredis, which is only
// suitable for local runs. Users come from USERS ("id:role:bcrypt-hash,...");
// with USERS empty a single demo user alice/wonderland is created.
//
//	JWT_SECRET=$(openssl rand -hex 32) COOKIE_SECURE=false go run ./cmd/gogate-server
//
//	curl -i -c jar.txt -X POST localhost:8080/login \
//	  -H 'Content-Type: application/json' \
//	  -d '{"username":"alice","password":"wonderland"}'
//	curl -i localhost:8080/api/me -H "Authorization: Bearer <ACCESS>"
//	curl -i -b jar.txt -c jar.txt -X POST localhost:8080/reissue
//	curl -i -b jar.txt -c jar.txt -X POST localhost:8080/logout
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goGate "github.com/MrEthical07/goGate"
	auditkafka "github.com/MrEthical07/goGate/audit/kafka"
	"github.com/MrEthical07/goGate/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

var roles = map[string][]string{
	"admin": {"ROLE_ADMIN", "ROLE_USER"},
	"user":  {"ROLE_USER"},
}

func main() {
	if err := run(); err != nil {
		slog.Error("gogate-server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	rdb, closeRedis, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	verifier, err := parseUsers(cfg.Users)
	if err != nil {
		return err
	}
	if verifier.len() == 0 {
		logger.Warn("USERS is empty, seeding demo user alice")
		if err := verifier.addPassword("alice", "admin", "wonderland"); err != nil {
			return err
		}
	}

	var sink goGate.AuditSink
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		kafkaSink, err := auditkafka.NewSink(auditkafka.Config{
			Brokers: brokers,
			Topic:   cfg.AuditKafkaTopic,
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Warn("kafka audit sink close failed", "error", err)
			}
		}()
		sink = kafkaSink
		engineCfg.Audit.Enabled = true
		logger.Info("audit events go to kafka", "brokers", brokers, "topic", cfg.AuditKafkaTopic)
	} else if cfg.AuditEnabled {
		sink = goGate.NewSlogSink(logger.With("component", "audit"))
	}

	builder := goGate.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithRoles(roles).
		WithLogger(logger)
	if sink != nil {
		builder = builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: newRouter(routerDeps{
			engine:       engine,
			verifier:     verifier,
			logger:       logger,
			pingInterval: cfg.WSPingInterval,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openRedis(cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("REDIS_ADDR is empty, using in-process miniredis", "addr", mr.Addr())
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return rdb, func() {
			_ = rdb.Close()
			mr.Close()
		}, nil
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return rdb, func() { _ = rdb.Close() }, nil
}
