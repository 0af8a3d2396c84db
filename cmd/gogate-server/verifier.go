package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goGate "github.com/MrEthical07/goGate"
	"golang.org/x/crypto/bcrypt"
)

var errBadCredentials = fmt.Errorf("bad credentials: %w", goGate.ErrInvalidCredentials)

type user struct {
	subject string
	role    string
	hash    []byte
}

// userVerifier checks passwords against an in-memory bcrypt table seeded from
// USERS. Unknown identifiers still pay for one bcrypt comparison.
type userVerifier struct {
	mu    sync.RWMutex
	users map[string]user
	dummy []byte
}

func newUserVerifier() *userVerifier {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("gogate-dummy"), bcrypt.MinCost)
	return &userVerifier{users: make(map[string]user), dummy: dummy}
}

// parseUsers reads "id:role:hash,id:role:hash". bcrypt hashes never contain
// ':' or ','.
func parseUsers(raw string) (*userVerifier, error) {
	v := newUserVerifier()
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("USERS entry %q: want id:role:hash", entry)
		}
		if _, err := bcrypt.Cost([]byte(parts[2])); err != nil {
			return nil, fmt.Errorf("USERS entry %q: %w", parts[0], err)
		}
		v.put(parts[0], parts[1], []byte(parts[2]))
	}
	return v, nil
}

func (v *userVerifier) put(subject, role string, hash []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.users[subject] = user{subject: subject, role: role, hash: hash}
}

func (v *userVerifier) addPassword(subject, role, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	v.put(subject, role, hash)
	return nil
}

func (v *userVerifier) len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.users)
}

func (v *userVerifier) Verify(_ context.Context, identifier, secret string) (goGate.Identity, error) {
	v.mu.RLock()
	u, ok := v.users[identifier]
	v.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword(v.dummy, []byte(secret))
		return goGate.Identity{}, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(secret)); err != nil {
		return goGate.Identity{}, errBadCredentials
	}
	return goGate.Identity{Subject: u.subject, Role: u.role}, nil
}
