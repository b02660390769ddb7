// Package auth supplies the bearer token sent to the parking backend.
//
// Tokens are issued by the backend's /auth/login endpoint and handed to this
// process through configuration, either inline or in a file that an external
// agent rotates. Expiry is read from the JWT exp claim without verifying the
// signature; verification is the backend's job.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrNoToken      = errors.New("no token configured")
	ErrTokenExpired = errors.New("token expired")
)

// Source returns the current bearer token. It is safe for concurrent use.
type Source struct {
	static string
	path   string
	now    func() time.Time

	mu      sync.Mutex
	cached  string
	modTime time.Time
}

// Static returns a Source that always yields token.
func Static(token string) *Source {
	return &Source{static: strings.TrimSpace(token), now: time.Now}
}

// File returns a Source that reads the token from path, re-reading it
// whenever the file's modification time changes.
func File(path string) *Source {
	return &Source{path: path, now: time.Now}
}

// Load picks a Source from configuration: an inline token wins over a token
// file. Both empty means the backend is used unauthenticated and Load
// returns nil.
func Load(token, tokenFile string) (*Source, error) {
	if token = strings.TrimSpace(token); token != "" {
		return Static(token), nil
	}
	if tokenFile == "" {
		return nil, nil
	}

	s := File(tokenFile)
	if _, err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

// Token returns the current token. A JWT whose exp claim has passed yields
// ErrTokenExpired so callers fail fast instead of collecting 401s. A nil
// Source yields an empty token.
func (s *Source) Token() (string, error) {
	if s == nil {
		return "", nil
	}
	token := s.static
	if s.path != "" {
		var err error
		if token, err = s.read(); err != nil {
			return "", err
		}
	}
	if token == "" {
		return "", ErrNoToken
	}

	if exp, ok := Expiry(token); ok && !s.now().Before(exp) {
		return "", fmt.Errorf("%w at %s", ErrTokenExpired, exp.Format(time.RFC3339))
	}
	return token, nil
}

// ExpiresAt returns the current token's expiry, false if it has none.
func (s *Source) ExpiresAt() (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	token := s.static
	if s.path != "" {
		var err error
		if token, err = s.read(); err != nil {
			return time.Time{}, false
		}
	}
	return Expiry(token)
}

func (s *Source) read() (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return "", fmt.Errorf("stat token file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != "" && info.ModTime().Equal(s.modTime) {
		return s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s: %w", s.path, ErrNoToken)
	}

	s.cached = token
	s.modTime = info.ModTime()
	return token, nil
}

// Expiry returns the exp claim of a JWT without verifying its signature.
// Opaque tokens and tokens without exp report false.
func Expiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
