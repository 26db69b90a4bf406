// Package session holds the operator credentials used by the REST client.
// A Session is created explicitly and handed to the client; nothing is global.
package session

import (
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
)

var (
	ErrNoSession     = errors.New("not logged in")
	errMissingTokens = errors.New("access and refresh tokens are required")
)

// mockable
var nowFunc = time.Now

// Tokens are the persisted credentials of one operator.
type Tokens struct {
	Access    string        `json:"access"`
	Refresh   string        `json:"refresh"`
	Operator  core.Operator `json:"operator"`
	ExpiresAt time.Time     `json:"expires_at,omitempty"`
}

func (t Tokens) empty() bool {
	return t.Access == "" && t.Refresh == ""
}

// Storage persists Tokens between runs.
type Storage interface {
	// Load returns ErrNoSession when nothing is stored.
	Load() (Tokens, error)
	Save(t Tokens) error
	Clear() error
}

type Session struct {
	mu      sync.RWMutex
	storage Storage
	tokens  Tokens
	logger  core.Logger
}

// New restores the session kept in storage, if any.
func New(storage Storage, logger core.Logger) (*Session, error) {
	s := &Session{storage: storage, logger: logger}
	t, err := storage.Load()
	switch {
	case err == nil:
		s.tokens = t
	case errors.Cause(err) == ErrNoSession:
	default:
		return nil, errors.Wrap(err, "restoring session")
	}
	return s, nil
}

// NewMemory returns a session that lives as long as the process.
func NewMemory() *Session {
	return &Session{storage: NewMemoryStorage()}
}

// Login stores freshly issued tokens.
func (s *Session) Login(t Tokens) error {
	if t.Access == "" || t.Refresh == "" {
		return core.NewValidationError(errMissingTokens)
	}
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = expiryOf(t.Access)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Save(t); err != nil {
		return errors.Wrap(err, "saving session")
	}
	s.tokens = t
	if s.logger != nil {
		s.logger.Info("operator logged in", t.Operator)
	}
	return nil
}

// Rotate replaces the tokens after a refresh, keeping the operator.
// An empty refresh token keeps the current one.
func (s *Session) Rotate(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens.empty() {
		return ErrNoSession
	}
	t := s.tokens
	t.Access = access
	if refresh != "" {
		t.Refresh = refresh
	}
	t.ExpiresAt = expiryOf(access)
	if err := s.storage.Save(t); err != nil {
		return errors.Wrap(err, "saving session")
	}
	s.tokens = t
	return nil
}

// Logout ends the session at the operator's request.
func (s *Session) Logout() error {
	op := s.Operator()
	if err := s.Clear(); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("operator logged out", op)
	}
	return nil
}

// Clear forgets every stored credential.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = Tokens{}
	return errors.Wrap(s.storage.Clear(), "clearing session")
}

func (s *Session) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Access
}

func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Refresh
}

func (s *Session) Operator() core.Operator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Operator
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Access != ""
}

// Expired reports whether the access token is known to be expired.
func (s *Session) Expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.tokens.ExpiresAt.IsZero() && !nowFunc().Before(s.tokens.ExpiresAt)
}

// expiryOf reads the exp claim of a JWT without verifying it; the backend does that.
func expiryOf(token string) time.Time {
	claims := jwt.StandardClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(claims.ExpiresAt, 0).UTC()
}
