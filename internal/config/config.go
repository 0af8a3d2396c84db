// Package config loads process settings for the goGate binaries from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/spf13/viper"
)

// Config holds everything cmd/gogate-server needs. Durations accept Go
// duration strings ("10m", "1440h").
type Config struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// RedisAddr empty means an in-process miniredis, for local runs only.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	JWTSigningMethod string `mapstructure:"JWT_SIGNING_METHOD"`
	// JWTSecret is the hs256 key.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey and JWTPublicKey are PEM text or a path to a PEM file.
	JWTPrivateKey string        `mapstructure:"JWT_PRIVATE_KEY"`
	JWTPublicKey  string        `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	AccessTTL     time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	RefreshTTL    time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	IdleTTL       time.Duration `mapstructure:"JWT_IDLE_TTL"`

	MaxSessions      int           `mapstructure:"MAX_SESSIONS_PER_SUBJECT"`
	RevocationBuffer time.Duration `mapstructure:"REVOCATION_BUFFER"`
	StoreTimeout     time.Duration `mapstructure:"STORE_TIMEOUT"`

	CookieSecure        bool   `mapstructure:"COOKIE_SECURE"`
	CookieDomain        string `mapstructure:"COOKIE_DOMAIN"`
	ExposeRefreshHeader bool   `mapstructure:"EXPOSE_REFRESH_HEADER"`
	ExposeReason        bool   `mapstructure:"GATE_EXPOSE_REASON"`

	ProductionMode   bool          `mapstructure:"PRODUCTION_MODE"`
	LoginThrottle    bool          `mapstructure:"LOGIN_THROTTLE"`
	MaxLoginAttempts int           `mapstructure:"MAX_LOGIN_ATTEMPTS"`
	LoginCooldown    time.Duration `mapstructure:"LOGIN_COOLDOWN"`

	AuditEnabled    bool   `mapstructure:"AUDIT_ENABLED"`
	AuditBufferSize int    `mapstructure:"AUDIT_BUFFER_SIZE"`
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	MetricsEnabled bool          `mapstructure:"METRICS_ENABLED"`
	WSPingInterval time.Duration `mapstructure:"WS_PING_INTERVAL"`

	// Users seeds the demo credential verifier: "id:role:bcrypt-hash,...".
	Users string `mapstructure:"USERS"`
}

// Load reads .env when present, then the environment. Env vars win.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env-format file. A missing file is
// ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.JWTSigningMethod == "hs256" && cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET must be set for hs256")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := goGate.DefaultConfig()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", d.Session.RedisPrefix)

	v.SetDefault("JWT_SIGNING_METHOD", d.JWT.SigningMethod)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", d.JWT.Issuer)
	v.SetDefault("JWT_ACCESS_TTL", d.JWT.AccessTTL)
	v.SetDefault("JWT_REFRESH_TTL", d.JWT.RefreshTTL)
	v.SetDefault("JWT_IDLE_TTL", d.JWT.IdleTTL)

	v.SetDefault("MAX_SESSIONS_PER_SUBJECT", d.Session.MaxSessionsPerSubject)
	v.SetDefault("REVOCATION_BUFFER", d.Revocation.Buffer)
	v.SetDefault("STORE_TIMEOUT", d.Store.OperationTimeout)

	v.SetDefault("COOKIE_SECURE", d.Cookie.Secure)
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("EXPOSE_REFRESH_HEADER", false)
	v.SetDefault("GATE_EXPOSE_REASON", false)

	v.SetDefault("PRODUCTION_MODE", false)
	v.SetDefault("LOGIN_THROTTLE", d.Security.EnableLoginThrottle)
	v.SetDefault("MAX_LOGIN_ATTEMPTS", d.Security.MaxLoginAttempts)
	v.SetDefault("LOGIN_COOLDOWN", d.Security.LoginCooldownDuration)

	v.SetDefault("AUDIT_ENABLED", false)
	v.SetDefault("AUDIT_BUFFER_SIZE", d.Audit.BufferSize)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "gogate-audit")

	v.SetDefault("METRICS_ENABLED", d.Metrics.Enabled)
	v.SetDefault("WS_PING_INTERVAL", 30*time.Second)
	v.SetDefault("USERS", "")
}

// EngineConfig maps c onto goGate.DefaultConfig. Key files are read here.
func (c *Config) EngineConfig() (goGate.Config, error) {
	cfg := goGate.DefaultConfig()

	cfg.JWT.SigningMethod = strings.ToLower(c.JWTSigningMethod)
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.AccessTTL = c.AccessTTL
	cfg.JWT.RefreshTTL = c.RefreshTTL
	cfg.JWT.IdleTTL = c.IdleTTL
	switch cfg.JWT.SigningMethod {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(c.JWTSecret)
	default:
		priv, err := keyMaterial(c.JWTPrivateKey)
		if err != nil {
			return goGate.Config{}, fmt.Errorf("config: JWT_PRIVATE_KEY: %w", err)
		}
		pub, err := keyMaterial(c.JWTPublicKey)
		if err != nil {
			return goGate.Config{}, fmt.Errorf("config: JWT_PUBLIC_KEY: %w", err)
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	}

	cfg.Session.RedisPrefix = c.RedisPrefix
	cfg.Session.MaxSessionsPerSubject = c.MaxSessions
	cfg.Revocation.RedisPrefix = c.RedisPrefix
	cfg.Revocation.Buffer = c.RevocationBuffer
	cfg.Store.OperationTimeout = c.StoreTimeout

	cfg.Gate.ExposeReason = c.ExposeReason
	cfg.Cookie.Secure = c.CookieSecure
	cfg.Cookie.Domain = c.CookieDomain
	cfg.Cookie.ExposeRefreshHeader = c.ExposeRefreshHeader

	cfg.Security.ProductionMode = c.ProductionMode
	cfg.Security.EnableLoginThrottle = c.LoginThrottle
	cfg.Security.MaxLoginAttempts = c.MaxLoginAttempts
	cfg.Security.LoginCooldownDuration = c.LoginCooldown

	cfg.Audit.Enabled = c.AuditEnabled
	cfg.Audit.BufferSize = c.AuditBufferSize
	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.MetricsEnabled

	if err := cfg.Validate(); err != nil {
		return goGate.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// KafkaBrokerList splits KAFKA_BROKERS. Empty means no Kafka audit sink.
func (c *Config) KafkaBrokerList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SlogLevel maps LOG_LEVEL onto slog. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func keyMaterial(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, errors.New("not set")
	}
	if strings.HasPrefix(v, "-----BEGIN") {
		return []byte(v), nil
	}
	return os.ReadFile(v)
}
