package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the algorithm used to sign and verify tokens.
type SigningMethod string

const (
	// MethodHS256 signs with a shared HMAC-SHA256 secret held in PrivateKey.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with PrivateKey and verifies with PublicKey.
	MethodEd25519 SigningMethod = "ed25519"
)

// Category distinguishes short-lived access tokens from long-lived refresh tokens.
type Category string

const (
	CategoryAccess  Category = "access"
	CategoryRefresh Category = "refresh"
)

var (
	// ErrMalformed is returned when a token cannot be decoded or lacks required claims.
	ErrMalformed = errors.New("malformed token")
	// ErrSignatureInvalid is returned when a token's signature does not verify
	// against the configured key or uses an unexpected algorithm.
	ErrSignatureInvalid = errors.New("token signature invalid")
)

// Config defines signing keys and the idle window applied to refresh tokens.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	IdleWindow    time.Duration
	Now           func() time.Time
}

// Claims is the signed payload carried by both token categories.
// IdleExpiresAt and AbsoluteExpiresAt are only set on refresh tokens.
type Claims struct {
	Role              string           `json:"role"`
	Category          Category         `json:"category"`
	IdleExpiresAt     *jwt.NumericDate `json:"idleExp,omitempty"`
	AbsoluteExpiresAt *jwt.NumericDate `json:"absExp,omitempty"`
	jwt.RegisteredClaims
}

// Manager mints and parses tokens. It holds no mutable state after construction.
type Manager struct {
	config Config
}

// NewManager validates key material for the configured signing method.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.IdleWindow < 0 {
		return nil, errors.New("invalid idle window configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg}, nil
}

// Mint signs a new token for subject. An empty id is replaced with a fresh
// random UUID. The returned claims are exactly what was signed.
func (j *Manager) Mint(subject, role string, category Category, ttl time.Duration, id string) (string, *Claims, error) {
	if subject == "" {
		return "", nil, errors.New("subject required")
	}
	if ttl <= 0 {
		return "", nil, errors.New("invalid TTL")
	}
	if category != CategoryAccess && category != CategoryRefresh {
		return "", nil, fmt.Errorf("unknown token category %q", category)
	}
	if id == "" {
		id = uuid.NewString()
	}

	now := j.config.Now()
	claims := &Claims{
		Role:     role,
		Category: category,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        id,
			Issuer:    j.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if category == CategoryRefresh {
		idle := j.config.IdleWindow
		if idle <= 0 || idle > ttl {
			idle = ttl
		}
		claims.IdleExpiresAt = jwt.NewNumericDate(now.Add(idle))
		claims.AbsoluteExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	key, err := j.getSignKey()
	if err != nil {
		return "", nil, err
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Parse verifies the signature and decodes the claims. Expiry is not checked
// here so callers can distinguish expired tokens from forged ones.
func (j *Manager) Parse(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return j.getVerifyKey()
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if err := j.checkShape(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (j *Manager) checkShape(c *Claims) error {
	if c.Subject == "" || c.ID == "" || c.ExpiresAt == nil || c.IssuedAt == nil {
		return fmt.Errorf("%w: missing required claims", ErrMalformed)
	}
	switch c.Category {
	case CategoryAccess:
	case CategoryRefresh:
		if c.IdleExpiresAt == nil || c.AbsoluteExpiresAt == nil {
			return fmt.Errorf("%w: refresh token without expiry window", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown category %q", ErrMalformed, c.Category)
	}
	if j.config.Issuer != "" && c.Issuer != j.config.Issuer {
		return fmt.Errorf("%w: unexpected issuer", ErrMalformed)
	}
	return nil
}

// IsExpired reports whether the absolute expiry has passed.
func (j *Manager) IsExpired(c *Claims) bool {
	if c == nil || c.ExpiresAt == nil {
		return true
	}
	return !j.config.Now().Before(c.ExpiresAt.Time)
}

// IsExpiredWithIdle extends IsExpired with the idle window of refresh tokens.
// Access tokens never consult the idle window.
func (j *Manager) IsExpiredWithIdle(c *Claims) bool {
	if j.IsExpired(c) {
		return true
	}
	if c.Category != CategoryRefresh {
		return false
	}
	now := j.config.Now()
	if c.AbsoluteExpiresAt != nil && !now.Before(c.AbsoluteExpiresAt.Time) {
		return true
	}
	return c.IdleExpiresAt != nil && !now.Before(c.IdleExpiresAt.Time)
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
