package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found")
	ErrUnknownTab         = errors.New("unknown tab")
)

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleViewer Role = "VIEWER"
)

type Tab string

const (
	TabDashboard Tab = "dashboard"
	TabDevices   Tab = "devices"
	TabFirmware  Tab = "firmware"
	TabSecurity  Tab = "security"
	TabLogs      Tab = "logs"

	DefaultTab = TabDashboard
)

func ParseTab(s string) (Tab, error) {
	switch t := Tab(strings.ToLower(strings.TrimSpace(s))); t {
	case TabDashboard, TabDevices, TabFirmware, TabSecurity, TabLogs:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTab, s)
}

type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	ActiveTab Tab       `json:"active_tab"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type credential struct {
	username string
	hash     string
	role     Role
}

// Service is the console's login gate. It accepts the two fixed
// operator accounts and keeps live sessions in memory.
type Service struct {
	config      Config
	clock       clockwork.Clock
	credentials []credential

	mu       sync.RWMutex
	sessions map[string]Session
}

func NewService(config Config, clock clockwork.Clock) (*Service, error) {
	return newService(config, clock, DefaultCost)
}

func newService(config Config, clock clockwork.Clock, cost int) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = 24 * time.Hour
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Service{
		config:   config,
		clock:    clock,
		sessions: make(map[string]Session),
	}

	for _, account := range []struct {
		username string
		password string
		role     Role
	}{
		{"admin", "admin", RoleAdmin},
		{"user", "user", RoleViewer},
	} {
		hash, err := HashPassword(account.password, cost)
		if err != nil {
			return nil, fmt.Errorf("hash %s credential: %w", account.username, err)
		}
		s.credentials = append(s.credentials, credential{username: account.username, hash: hash, role: account.role})
	}

	return s, nil
}

// Login trims both inputs and, on a match, opens a session and returns
// it with its signed token.
func (s *Service) Login(ctx context.Context, username, password string) (Session, string, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	var role Role
	for _, c := range s.credentials {
		if c.username == username && CheckPassword(password, c.hash) {
			role = c.role
			break
		}
	}
	if role == "" {
		slog.Debug("Login rejected", "username", username)
		return Session{}, "", ErrInvalidCredentials
	}

	now := s.clock.Now().UTC()
	session := Session{
		ID:        uuid.NewString(),
		Username:  username,
		Role:      role,
		ActiveTab: DefaultTab,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TokenTTL),
	}

	token, err := GenerateToken(s.config, session)
	if err != nil {
		return Session{}, "", fmt.Errorf("generate token: %w", err)
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	slog.Info("Session opened", "session_id", session.ID, "username", username, "role", role)
	return session, token, nil
}

// Authenticate validates a bearer token and resolves its live session.
func (s *Service) Authenticate(token string) (Session, error) {
	claims, err := ValidateToken(s.config.JWTSecret, token, s.clock.Now)
	if err != nil {
		return Session{}, err
	}
	return s.Lookup(claims.SessionID)
}

func (s *Service) Lookup(sessionID string) (Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok || !s.clock.Now().Before(session.ExpiresAt) {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Logout drops the session. Unknown ids are ignored.
func (s *Service) Logout(sessionID string) {
	s.mu.Lock()
	_, existed := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if existed {
		slog.Info("Session closed", "session_id", sessionID)
	}
}

// LogoutToken closes the session named by a signed token, live or not,
// and returns its id. Tokens that fail validation close nothing.
func (s *Service) LogoutToken(token string) (string, bool) {
	claims, err := ValidateToken(s.config.JWTSecret, token, s.clock.Now)
	if err != nil {
		return "", false
	}
	s.Logout(claims.SessionID)
	return claims.SessionID, true
}

func (s *Service) SetActiveTab(sessionID string, tab Tab) (Session, error) {
	tab, err := ParseTab(string(tab))
	if err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	session.ActiveTab = tab
	s.sessions[sessionID] = session
	return session, nil
}

// Sessions returns the live sessions ordered by creation time.
func (s *Service) Sessions() []Session {
	s.mu.RLock()
	list := slices.Collect(maps.Values(s.sessions))
	s.mu.RUnlock()

	slices.SortFunc(list, func(a, b Session) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return list
}

// StartCleanup sweeps expired sessions every interval until ctx is done.
func (s *Service) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if n := s.sweep(); n > 0 {
					slog.Debug("Expired sessions removed", "count", n)
				}
			}
		}
	}()
}

func (s *Service) sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
