package goGate

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override fields; Build validates the result.
type Config struct {
	JWT        JWTConfig
	Session    SessionConfig
	Revocation RevocationConfig
	Store      StoreConfig
	Gate       GateConfig
	Cookie     CookieConfig
	Security   SecurityConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// JWTConfig controls token lifetimes and signing keys.
//
// For hs256 the shared secret lives in PrivateKey. IdleTTL bounds the gap
// between two uses of a refresh token chain and must not exceed RefreshTTL.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	IdleTTL       time.Duration
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// SessionConfig controls the refresh session store.
type SessionConfig struct {
	RedisPrefix           string
	MaxSessionsPerSubject int
}

// RevocationConfig controls the revocation list. Entries outlive the access
// TTL by Buffer.
type RevocationConfig struct {
	RedisPrefix string
	Buffer      time.Duration
}

// StoreConfig bounds every individual Redis call.
type StoreConfig struct {
	OperationTimeout time.Duration
}

/*
====================================
TRANSPORT CONFIG
====================================
*/

// GateConfig controls which routes the request gate lets through.
//
// PublicPaths match exactly, PublicPrefixes match by prefix. OptionalPaths
// accept requests without a token but still reject invalid ones.
type GateConfig struct {
	PublicPaths         []string
	PublicPrefixes      []string
	OptionalPaths       []string
	HandshakeQueryParam string
	HandshakeHeader     string
	ExposeReason        bool
}

// CookieConfig controls how refresh tokens travel to browsers.
type CookieConfig struct {
	Name                string
	Path                string
	Domain              string
	Secure              bool
	SameSite            http.SameSite
	AccessHeader        string
	RefreshHeader       string
	ExposeRefreshHeader bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds the production lint switch and the failed-login throttle.
type SecurityConfig struct {
	ProductionMode        bool
	EnableLoginThrottle   bool
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters and the validate latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the defaults used by the reference deployment:
// 10 minute access tokens, 60 day refresh tokens with a 30 day idle window,
// and at most five concurrent sessions per subject.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     10 * time.Minute,
			RefreshTTL:    60 * 24 * time.Hour,
			IdleTTL:       30 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "gogate",
		},
		Session: SessionConfig{
			RedisPrefix:           "gg",
			MaxSessionsPerSubject: 5,
		},
		Revocation: RevocationConfig{
			RedisPrefix: "gg",
			Buffer:      5 * time.Minute,
		},
		Store: StoreConfig{
			OperationTimeout: 2 * time.Second,
		},
		Gate: GateConfig{
			PublicPaths: []string{
				"/login",
				"/reissue",
				"/logout",
				"/join",
				"/api/v2/join",
			},
			PublicPrefixes: []string{
				"/api/v2/mobile-oauth/",
				"/oauth2/",
				"/swagger-ui/",
				"/v3/api-docs/",
			},
			HandshakeQueryParam: "token",
			HandshakeHeader:     "token",
		},
		Cookie: CookieConfig{
			Name:          "refresh",
			Path:          "/",
			Secure:        true,
			SameSite:      http.SameSiteLaxMode,
			AccessHeader:  "access",
			RefreshHeader: "refresh",
		},
		Security: SecurityConfig{
			EnableLoginThrottle:   true,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Gate.PublicPaths = cloneStrings(cfg.Gate.PublicPaths)
	out.Gate.PublicPrefixes = cloneStrings(cfg.Gate.PublicPrefixes)
	out.Gate.OptionalPaths = cloneStrings(cfg.Gate.OptionalPaths)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found, or nil.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be longer than AccessTTL")
	}
	if c.JWT.IdleTTL <= 0 {
		return errors.New("JWT IdleTTL must be > 0")
	}
	if c.JWT.IdleTTL > c.JWT.RefreshTTL {
		return errors.New("JWT IdleTTL must be <= RefreshTTL")
	}

	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}

	// Session
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if strings.Contains(c.Session.RedisPrefix, ":") {
		return errors.New("Session RedisPrefix must not contain ':'")
	}
	if c.Session.MaxSessionsPerSubject < 0 {
		return errors.New("Session MaxSessionsPerSubject must be >= 0")
	}

	// Revocation
	if strings.TrimSpace(c.Revocation.RedisPrefix) == "" {
		return errors.New("Revocation RedisPrefix must not be empty")
	}
	if c.Revocation.Buffer < 0 {
		return errors.New("Revocation Buffer must be >= 0")
	}

	// Store
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}

	// Gate
	for _, p := range c.Gate.PublicPaths {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Gate PublicPaths entries must start with '/'")
		}
	}
	for _, p := range c.Gate.PublicPrefixes {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Gate PublicPrefixes entries must start with '/'")
		}
	}
	if c.Gate.HandshakeQueryParam == "" && c.Gate.HandshakeHeader == "" {
		return errors.New("Gate requires a handshake query parameter or header")
	}

	// Cookie
	if strings.TrimSpace(c.Cookie.Name) == "" {
		return errors.New("Cookie Name must not be empty")
	}
	if strings.TrimSpace(c.Cookie.AccessHeader) == "" {
		return errors.New("Cookie AccessHeader must not be empty")
	}
	if c.Cookie.ExposeRefreshHeader && strings.TrimSpace(c.Cookie.RefreshHeader) == "" {
		return errors.New("Cookie RefreshHeader must be set when ExposeRefreshHeader is true")
	}
	if c.Cookie.SameSite == http.SameSiteNoneMode && !c.Cookie.Secure {
		return errors.New("Cookie SameSite=None requires Secure")
	}

	// Security
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security MaxLoginAttempts must be > 0 when the login throttle is enabled")
		}
		if c.Security.LoginCooldownDuration <= 0 {
			return errors.New("Security LoginCooldownDuration must be > 0 when the login throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if !c.Cookie.Secure {
			return errors.New("ProductionMode requires secure cookies")
		}
		if c.Gate.ExposeReason {
			return errors.New("ProductionMode forbids exposing rejection reasons")
		}
		if !c.Security.EnableLoginThrottle {
			return errors.New("ProductionMode requires the login throttle")
		}
	}

	return nil
}

// RevocationTTL is how long a revoked id must stay listed so that no token
// carrying it can still be live.
func (c Config) RevocationTTL() time.Duration {
	return c.JWT.AccessTTL + c.Revocation.Buffer
}
