package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

type HandleOptions struct {
	// Create requires that path does not exist yet and lets the engine create it.
	Create bool
	// ReadOnly sets query_only so no statement can modify the file.
	ReadOnly bool
	// ForeignKeys controls enforcement for the lifetime of the connection.
	ForeignKeys bool
	// ImmediateTx makes every BeginTx take the write lock up front.
	ImmediateTx bool
}

// Handle pins a single connection to one database file. Connection-scoped
// pragmas set on it hold for every statement issued through Conn.
type Handle struct {
	path string
	db   *sql.DB
	conn *sql.Conn
}

func OpenHandle(ctx context.Context, path string, opts HandleOptions) (*Handle, error) {
	if path == "" {
		return nil, fmt.Errorf("open handle: empty path")
	}

	_, statErr := os.Stat(path)
	switch {
	case opts.Create && statErr == nil:
		return nil, fmt.Errorf("open handle %s: %w", path, ErrConflict)
	case opts.Create && !errors.Is(statErr, os.ErrNotExist):
		return nil, fmt.Errorf("open handle %s: %w", path, statErr)
	case !opts.Create && errors.Is(statErr, os.ErrNotExist):
		return nil, fmt.Errorf("open handle %s: %w", path, ErrNotFound)
	case !opts.Create && statErr != nil:
		return nil, fmt.Errorf("open handle %s: %w", path, statErr)
	}

	if opts.Create {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("open handle: create parent dir: %w", err)
		}
	}

	pragmas := []string{"busy_timeout(5000)", "foreign_keys(0)"}
	if opts.ForeignKeys {
		pragmas[1] = "foreign_keys(1)"
	}
	if opts.ReadOnly {
		pragmas = append(pragmas, "query_only(1)")
	}
	txlock := ""
	if opts.ImmediateTx {
		txlock = "immediate"
	}

	db, err := sql.Open("sqlite", buildDSN(path, pragmas, txlock))
	if err != nil {
		return nil, fmt.Errorf("open handle: %w", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open handle: acquire connection: %w", err)
	}

	return &Handle{path: path, db: db, conn: conn}, nil
}

func (h *Handle) Conn() *sql.Conn {
	return h.conn
}

func (h *Handle) Path() string {
	return h.path
}

// EngineVersion reports the SQLite library version behind the handle.
func (h *Handle) EngineVersion(ctx context.Context) (string, error) {
	var version string
	if err := h.conn.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&version); err != nil {
		return "", fmt.Errorf("read engine version: %w", err)
	}
	return version, nil
}

// SetForeignKeys toggles enforcement. It has no effect inside a transaction.
func (h *Handle) SetForeignKeys(ctx context.Context, on bool) error {
	stmt := `PRAGMA foreign_keys = OFF`
	if on {
		stmt = `PRAGMA foreign_keys = ON`
	}
	if _, err := h.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("set foreign keys: %w", err)
	}
	return nil
}

// Close releases the connection and the underlying pool. It is safe to call
// more than once.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	if h.conn != nil {
		errs = append(errs, h.conn.Close())
		h.conn = nil
	}
	if h.db != nil {
		errs = append(errs, h.db.Close())
		h.db = nil
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close handle: %w", err)
	}
	return nil
}

func buildDSN(path string, pragmas []string, txlock string) string {
	params := url.Values{}
	for _, pragma := range pragmas {
		params.Add("_pragma", pragma)
	}
	if txlock != "" {
		params.Set("_txlock", txlock)
	}
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}
