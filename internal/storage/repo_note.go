package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type noteRepository struct {
	db *sql.DB
}

func (r *noteRepository) Create(ctx context.Context, note *Note) error {
	if note == nil {
		return fmt.Errorf("create note: note is nil")
	}
	if strings.TrimSpace(note.Title) == "" {
		return fmt.Errorf("create note: title is required")
	}

	now := nowUTC()
	note.CreatedAt = now
	note.UpdatedAt = now

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO notes(project_id, author_id, title, body, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
	`, nullable(note.ProjectID), nullable(note.AuthorID), note.Title, note.Body, fmtTime(note.CreatedAt), fmtTime(note.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	note.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("create note: last insert id: %w", err)
	}
	return nil
}

// Search runs an FTS5 match over note titles and bodies, best match first.
func (r *noteRepository) Search(ctx context.Context, query string, limit int) ([]Note, error) {
	if strings.TrimSpace(query) == "" {
		return []Note{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT n.id, COALESCE(n.project_id, ''), COALESCE(n.author_id, ''), n.title, n.body, n.created_at, n.updated_at
		FROM notes_fts f
		JOIN notes n ON n.id = f.rowid
		WHERE notes_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	defer rows.Close()

	out := []Note{}
	for rows.Next() {
		var (
			note      Note
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&note.ID, &note.ProjectID, &note.AuthorID, &note.Title, &note.Body, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("search notes: scan row: %w", err)
		}
		note.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		note.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search notes: iterate: %w", err)
	}
	return out, nil
}

func nullable(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
