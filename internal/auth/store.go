// Package auth holds the client-side credential state: the bearer
// token issued by the backend after Google sign-in, plus the cached
// profile of the signed-in user.
//
// The app never verifies token signatures; the signing key lives on
// the server. Claims are only inspected locally to show who is signed
// in and to drop tokens that have already expired.
package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/U1000000000000/Lila/internal/api"
)

// TokenClaims are the fields the backend puts in its access tokens.
type TokenClaims struct {
	GoogleID string `json:"google_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// ErrNoToken is returned when claims are requested but nothing is
// signed in.
var ErrNoToken = errors.New("auth: no token set")

// Store keeps the active bearer token and cached profile for the
// lifetime of a sign-in. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	token   string
	profile *api.User

	now func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// SetToken installs a new bearer token. Any cached profile is dropped
// so the next profile read reflects the new identity.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.profile = nil
}

// Token returns the active bearer token, or "" when signed out or the
// token has expired. Expired tokens are treated as absent so callers
// never send a credential the server is guaranteed to reject.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return ""
	}
	if claims, err := s.parseLocked(); err == nil {
		if exp := claims.ExpiresAt; exp != nil && !exp.After(s.now()) {
			return ""
		}
	}
	return s.token
}

// SignedIn reports whether a usable token is present.
func (s *Store) SignedIn() bool {
	return s.Token() != ""
}

// Claims decodes the active token without verifying its signature.
func (s *Store) Claims() (*TokenClaims, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return nil, ErrNoToken
	}
	return s.parseLocked()
}

// CacheProfile stores the profile fetched from the backend so screens
// can render it without refetching.
func (s *Store) CacheProfile(u *api.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = u
}

// Profile returns the cached profile, if any.
func (s *Store) Profile() (*api.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile, s.profile != nil
}

// Clear signs out: the token and cached profile are both dropped.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.profile = nil
}

func (s *Store) parseLocked() (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
