package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

var storePragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// summaryTables are the domain tables counted by Summary.
var summaryTables = []string{"users", "projects", "sprints", "tasks", "notes", "wiki_pages", "audit_logs"}

type Store struct {
	db   *sql.DB
	path string

	Users    UserRepository
	Sessions SessionRepository
	Projects ProjectRepository
	Notes    NoteRepository
	Audit    AuditRepository
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open storage: empty path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open storage: create parent dir: %w", err)
	}

	db, err := sql.Open("sqlite", buildDSN(path, storePragmas, ""))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	if err := RunMigrations(db, DefaultMigrations()); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureFTSIndex(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureDBPermissions(path); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{
		db:   db,
		path: path,
	}
	store.Users = &userRepository{db: db}
	store.Sessions = &sessionRepository{db: db}
	store.Projects = &projectRepository{db: db}
	store.Notes = &noteRepository{db: db}
	store.Audit = &auditRepository{db: db}

	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("store summary: stat: %w", err)
	}

	summary := &Summary{
		Path:      s.path,
		SizeBytes: info.Size(),
		TableRows: make(map[string]int64, len(summaryTables)),
	}

	var version string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM app_meta WHERE key = ?`, schemaVersionMetaKey).Scan(&version); err != nil {
		return nil, fmt.Errorf("store summary: schema version: %w", err)
	}
	summary.SchemaVersion, err = strconv.Atoi(version)
	if err != nil {
		return nil, fmt.Errorf("store summary: parse schema version %q: %w", version, err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&summary.EngineVersion); err != nil {
		return nil, fmt.Errorf("store summary: engine version: %w", err)
	}

	for _, table := range summaryTables {
		var count int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+QuoteIdent(table)).Scan(&count); err != nil {
			return nil, fmt.Errorf("store summary: count %s: %w", table, err)
		}
		summary.TableRows[table] = count
	}
	return summary, nil
}

// ensureFTSIndex recreates the notes full text index when the file came from
// a restore, which carries the notes rows but not the derived index.
func ensureFTSIndex(db *sql.DB) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'notes_fts'`).Scan(&count); err != nil {
		return fmt.Errorf("check notes index: %w", err)
	}
	if count > 0 {
		return nil
	}

	if _, err := db.Exec(notesFTSDDL); err != nil {
		return fmt.Errorf("create notes index: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO notes_fts(notes_fts) VALUES('rebuild')`); err != nil {
		return fmt.Errorf("rebuild notes index: %w", err)
	}
	return nil
}

func ensureDBPermissions(path string) error {
	for _, candidate := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Chmod(candidate, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set %s permissions: %w", filepath.Base(candidate), err)
		}
	}
	return nil
}
