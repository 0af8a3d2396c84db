package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record is the persisted state of one refresh token.
type Record struct {
	Digest    string
	Subject   string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Digest returns the storage digest of a refresh token value.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
