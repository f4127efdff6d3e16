// Package auth authenticates collaborator services by API key.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to API keys.
const (
	ScopeRedeem   = "promo:redeem"
	ScopeFeedback = "feedback:issue"
	ScopeAdmin    = "promo:admin"
)

var (
	// ErrKeyNotFound is returned by repositories when no active key matches.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrUnauthorized is returned for missing, unknown or mismatched keys.
	ErrUnauthorized = errors.New("unauthorized")
)

// Key holds the identity and permissions of a stored API key.
type Key struct {
	ID     string
	Hash   string
	Name   string
	Scopes []string
}

// HasScope reports whether the key grants scope.
func (k *Key) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*Key, error)
}

// Authenticator verifies raw API keys against their peppered hashes.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Hash returns the hex HMAC-SHA256 of raw under the pepper. This is the form
// keys are stored in.
func (a *Authenticator) Hash(raw string) string {
	return hex.EncodeToString(a.sum(raw))
}

func (a *Authenticator) sum(raw string) []byte {
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(raw))
	return mac.Sum(nil)
}

// Authenticate resolves raw to its key. Lookup failures other than
// ErrKeyNotFound are returned as faults.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*Key, error) {
	if raw == "" {
		return nil, ErrUnauthorized
	}
	sum := a.sum(raw)

	key, err := a.keys.FindByHash(ctx, hex.EncodeToString(sum))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	// The repository may return a stale row; compare what was stored.
	stored, err := hex.DecodeString(key.Hash)
	if err != nil || subtle.ConstantTimeCompare(sum, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return key, nil
}
