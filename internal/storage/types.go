package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrSchemaTooNew = errors.New("storage: schema version newer than code")
	ErrStoreClosed  = errors.New("storage: store has been torn down")
	ErrConflict     = errors.New("storage: already exists")
)

const RoleAdmin = "admin"

type User struct {
	ID          string
	Username    string
	DisplayName string
	Roles       []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusArchived ProjectStatus = "archived"
)

type Project struct {
	ID          string
	Key         string
	Name        string
	Description string
	Status      ProjectStatus
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Note struct {
	ID        int64
	ProjectID string
	AuthorID  string
	Title     string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AuditEvent struct {
	ID          int64
	EventID     string
	UserID      string
	Action      string
	TargetType  string
	TargetID    string
	Result      string
	DetailsJSON string
	PrevHash    string
	EventHash   string
	CreatedAt   time.Time
}

type AuditFilter struct {
	Action   string
	TargetID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// Summary describes the store file for status reporting.
type Summary struct {
	Path          string
	SizeBytes     int64
	SchemaVersion int
	EngineVersion string
	TableRows     map[string]int64
}

type UserRepository interface {
	Create(ctx context.Context, user *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	AddRole(ctx context.Context, userID, role string) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *Session, token string) error
	GetByToken(ctx context.Context, token string) (*Session, error)
	Revoke(ctx context.Context, id string) error
}

type ProjectRepository interface {
	Create(ctx context.Context, project *Project) error
	Get(ctx context.Context, key string) (*Project, error)
	List(ctx context.Context) ([]Project, error)
}

type NoteRepository interface {
	Create(ctx context.Context, note *Note) error
	Search(ctx context.Context, query string, limit int) ([]Note, error)
}

type AuditRepository interface {
	AppendWithTip(ctx context.Context, event *AuditEvent, tip string) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
	ChainTip(ctx context.Context) (string, error)
}
