package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"
)

const (
	schemaVersionMetaKey = "schema_version"
	auditChainTipMetaKey = "audit_chain_tip"
)

const notesFTSDDL = `CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
	title,
	body,
	content='notes',
	content_rowid='id'
)`

type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

var defaultMigrations = []Migration{
	{
		Version:     1,
		Description: "create users and sessions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, 1,
				`CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					username TEXT NOT NULL UNIQUE,
					display_name TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS user_roles (
					user_id TEXT NOT NULL,
					role TEXT NOT NULL,
					PRIMARY KEY (user_id, role),
					FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
				)`,
				`CREATE TABLE IF NOT EXISTS sessions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					token_hash TEXT NOT NULL UNIQUE,
					created_at TEXT NOT NULL,
					expires_at TEXT NOT NULL,
					revoked_at TEXT,
					FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
			)
		},
	},
	{
		Version:     2,
		Description: "create project tables",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, 2,
				`CREATE TABLE IF NOT EXISTS projects (
					id TEXT PRIMARY KEY,
					key TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'active',
					owner_id TEXT,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					FOREIGN KEY(owner_id) REFERENCES users(id) ON DELETE SET NULL
				)`,
				`CREATE TABLE IF NOT EXISTS sprints (
					id TEXT PRIMARY KEY,
					project_id TEXT NOT NULL,
					name TEXT NOT NULL,
					goal TEXT,
					starts_on TEXT,
					ends_on TEXT,
					status TEXT NOT NULL DEFAULT 'planned',
					FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
				)`,
				`CREATE TABLE IF NOT EXISTS tasks (
					id TEXT PRIMARY KEY,
					project_id TEXT NOT NULL,
					sprint_id TEXT,
					key TEXT NOT NULL UNIQUE,
					title TEXT NOT NULL,
					description TEXT,
					status TEXT NOT NULL DEFAULT 'todo',
					priority INTEGER NOT NULL DEFAULT 0,
					estimate REAL,
					assignee_id TEXT,
					due_date TEXT,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE,
					FOREIGN KEY(sprint_id) REFERENCES sprints(id) ON DELETE SET NULL,
					FOREIGN KEY(assignee_id) REFERENCES users(id) ON DELETE SET NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status)`,
				`CREATE TABLE IF NOT EXISTS wiki_pages (
					id TEXT PRIMARY KEY,
					project_id TEXT NOT NULL,
					slug TEXT NOT NULL,
					title TEXT NOT NULL,
					content TEXT NOT NULL DEFAULT '',
					revision INTEGER NOT NULL DEFAULT 1,
					attachment BLOB,
					updated_at TEXT NOT NULL,
					UNIQUE(project_id, slug),
					FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
				)`,
				`CREATE VIEW IF NOT EXISTS project_task_counts AS
					SELECT p.id AS project_id, p.key AS project_key, COUNT(t.id) AS task_count
					FROM projects p LEFT JOIN tasks t ON t.project_id = p.id
					GROUP BY p.id`,
			)
		},
	},
	{
		Version:     3,
		Description: "create notes with full text index",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, 3,
				`CREATE TABLE IF NOT EXISTS notes (
					id INTEGER PRIMARY KEY,
					project_id TEXT,
					author_id TEXT,
					title TEXT NOT NULL,
					body TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE,
					FOREIGN KEY(author_id) REFERENCES users(id) ON DELETE SET NULL
				)`,
				notesFTSDDL,
				`CREATE TRIGGER IF NOT EXISTS notes_ai AFTER INSERT ON notes BEGIN
					INSERT INTO notes_fts(rowid, title, body) VALUES (new.id, new.title, new.body);
				END`,
				`CREATE TRIGGER IF NOT EXISTS notes_ad AFTER DELETE ON notes BEGIN
					INSERT INTO notes_fts(notes_fts, rowid, title, body) VALUES ('delete', old.id, old.title, old.body);
				END`,
				`CREATE TRIGGER IF NOT EXISTS notes_au AFTER UPDATE ON notes BEGIN
					INSERT INTO notes_fts(notes_fts, rowid, title, body) VALUES ('delete', old.id, old.title, old.body);
					INSERT INTO notes_fts(rowid, title, body) VALUES (new.id, new.title, new.body);
				END`,
			)
		},
	},
	{
		Version:     4,
		Description: "create hash chained audit log",
		Up: func(tx *sql.Tx) error {
			if err := execAll(tx, 4,
				`CREATE TABLE IF NOT EXISTS audit_logs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					event_id TEXT NOT NULL UNIQUE,
					user_id TEXT,
					action TEXT NOT NULL,
					target_type TEXT,
					target_id TEXT,
					result TEXT NOT NULL DEFAULT '',
					details_json TEXT NOT NULL DEFAULT '{}',
					prev_hash TEXT NOT NULL DEFAULT '',
					event_hash TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_logs_action_created_at ON audit_logs(action, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_logs_target_id_created_at ON audit_logs(target_id, created_at)`,
			); err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO app_meta(key, value) VALUES(?, '')`, auditChainTipMetaKey); err != nil {
				return fmt.Errorf("initialize audit chain tip: %w", err)
			}
			return nil
		},
	},
}

func DefaultMigrations() []Migration {
	out := make([]Migration, len(defaultMigrations))
	copy(out, defaultMigrations)
	return out
}

func CurrentSchemaVersion() int {
	return maxMigrationVersion(defaultMigrations)
}

func RunMigrations(db *sql.DB, migrations []Migration) error {
	if db == nil {
		return fmt.Errorf("run migrations: db is nil")
	}

	if err := ensureMigrationTables(db); err != nil {
		return err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	current, err := readSchemaVersion(db)
	if err != nil {
		return err
	}

	maxVersion := maxMigrationVersion(ordered)
	if current > maxVersion {
		return fmt.Errorf("%w: db=%d code=%d", ErrSchemaTooNew, current, maxVersion)
	}

	for _, migration := range ordered {
		if migration.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration v%d (%s): %w", migration.Version, migration.Description, err)
		}

		if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_migrations(version, applied_at) VALUES (?, ?)`, migration.Version, nowUTCString()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record schema migration v%d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT OR REPLACE INTO app_meta(key, value) VALUES(?, ?)`, schemaVersionMetaKey, strconv.Itoa(migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update schema version v%d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", migration.Version, err)
		}
	}

	return nil
}

func execAll(tx *sql.Tx, version int, statements ...string) error {
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration v%d statement: %w", version, err)
		}
	}
	return nil
}

func ensureMigrationTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS app_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`,
		`INSERT OR IGNORE INTO app_meta(key, value) VALUES('` + schemaVersionMetaKey + `', '0')`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure migration tables: %w", err)
		}
	}
	return nil
}

func readSchemaVersion(db *sql.DB) (int, error) {
	var versionStr string
	if err := db.QueryRow(`SELECT value FROM app_meta WHERE key = ?`, schemaVersionMetaKey).Scan(&versionStr); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", versionStr, err)
	}
	return version, nil
}

func maxMigrationVersion(migrations []Migration) int {
	max := 0
	for _, migration := range migrations {
		if migration.Version > max {
			max = migration.Version
		}
	}
	return max
}

func nowUTCString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
