package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/jwt"

	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/storage"
)

const tokenKey = "auth_token"

var (
	ErrNoToken            = errors.New("not logged in")
	ErrRefreshUnavailable = errors.New("token refresh not supported")
)

// Refresher exchanges a token for a fresh one. *api.Client implements it.
type Refresher interface {
	RefreshToken(ctx context.Context, token string) (string, error)
}

// Session owns the bearer token. The token lives in the metadata collection
// so every process and every reload sees the same login.
type Session struct {
	store     *storage.Store
	refresher Refresher
	now       func() time.Time

	// serializes refreshes so concurrent 401s trigger one exchange
	mu sync.Mutex
}

// NewSession builds a session. refresher may be nil when the remote API
// offers no refresh endpoint.
func NewSession(store *storage.Store, refresher Refresher) *Session {
	return &Session{store: store, refresher: refresher, now: time.Now}
}

// SetRefresher attaches the refresh capability once the API client that
// reads tokens from this session exists.
func (s *Session) SetRefresher(r Refresher) {
	s.refresher = r
}

// Token returns the stored token. A store failure reads as logged out.
func (s *Session) Token() (string, bool) {
	var token string
	if err := s.store.GetMeta(tokenKey, &token); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			debuglog.Warnf("auth: reading token: %v", err)
		}
		return "", false
	}
	return token, token != ""
}

// IsAuthenticated reports a present token that has not expired. Tokens that
// are not JWTs, or carry no exp claim, count as valid while present.
func (s *Session) IsAuthenticated() bool {
	token, ok := s.Token()
	if !ok {
		return false
	}
	exp, ok := Expiry(token)
	if !ok {
		return true
	}
	return s.now().Before(exp)
}

// Expiry returns the exp claim of a JWT without verifying its signature.
func Expiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	parsed, err := jwt.ParseString(token)
	if err != nil {
		return time.Time{}, false
	}
	exp := parsed.Expiration()
	if exp.IsZero() {
		return time.Time{}, false
	}
	return exp, true
}

func (s *Session) Login(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}
	if err := s.store.SetMeta(tokenKey, token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

func (s *Session) Logout() error {
	if err := s.store.DeleteMeta(tokenKey); err != nil {
		return fmt.Errorf("removing token: %w", err)
	}
	return nil
}

// CanRefresh reports whether Refresh can do anything at all.
func (s *Session) CanRefresh() bool {
	return s.refresher != nil
}

// Refresh swaps the stored token for a new one from the remote API.
func (s *Session) Refresh(ctx context.Context) error {
	if s.refresher == nil {
		return ErrRefreshUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.Token()
	if !ok {
		return ErrNoToken
	}
	fresh, err := s.refresher.RefreshToken(ctx, token)
	if err != nil {
		return err
	}
	return s.Login(fresh)
}
