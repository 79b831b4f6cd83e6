package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/maintenance"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

const (
	DefaultTTL    = 12 * time.Hour
	MaxTTL        = 30 * 24 * time.Hour
	tokenPrefix   = "pmdb_"
	tokenEntropyB = 32
)

var (
	ErrInvalidToken = errors.New("session: invalid, expired or revoked token")
	ErrInvalidTTL   = errors.New("session: ttl out of range")
)

type Service struct {
	users    storage.UserRepository
	sessions storage.SessionRepository
	now      func() time.Time
}

func NewService(users storage.UserRepository, sessions storage.SessionRepository) (*Service, error) {
	if users == nil || sessions == nil {
		return nil, fmt.Errorf("new session service: repositories are required")
	}
	return &Service{users: users, sessions: sessions, now: time.Now}, nil
}

// Issue creates a session for the user and returns the bearer token. Only
// the token hash is stored.
func (s *Service) Issue(ctx context.Context, userID string, ttl time.Duration) (string, *storage.Session, error) {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < 0 || ttl > MaxTTL {
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	if _, err := s.users.Get(ctx, userID); err != nil {
		return "", nil, fmt.Errorf("issue session: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return "", nil, err
	}
	now := s.now().UTC()
	session := &storage.Session{
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.sessions.Create(ctx, session, token); err != nil {
		return "", nil, fmt.Errorf("issue session: %w", err)
	}
	return token, session, nil
}

// ResolveActor maps a bearer token to the user behind it and that user's
// roles. Unknown, expired and revoked tokens all yield ErrInvalidToken.
func (s *Service) ResolveActor(ctx context.Context, token string) (maintenance.Actor, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return maintenance.Actor{}, err
	}
	user, err := s.users.Get(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return maintenance.Actor{}, ErrInvalidToken
		}
		return maintenance.Actor{}, fmt.Errorf("resolve actor: %w", err)
	}
	return maintenance.Actor{UserID: user.ID, Roles: user.Roles}, nil
}

func (s *Service) Revoke(ctx context.Context, token string) (*storage.Session, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Revoke(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("revoke session: %w", err)
	}
	return session, nil
}

func (s *Service) lookup(ctx context.Context, token string) (*storage.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if session.RevokedAt != nil || !s.now().Before(session.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	return session, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenEntropyB)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
