package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type projectRepository struct {
	db *sql.DB
}

func (r *projectRepository) Create(ctx context.Context, project *Project) error {
	if project == nil {
		return fmt.Errorf("create project: project is nil")
	}
	project.Key = strings.ToUpper(strings.TrimSpace(project.Key))
	if project.Key == "" {
		return fmt.Errorf("create project: key is required")
	}
	if project.Name == "" {
		return fmt.Errorf("create project: name is required")
	}
	if project.Status == "" {
		project.Status = ProjectStatusActive
	}

	project.ID = ensureID(project.ID)
	now := nowUTC()
	project.CreatedAt = now
	project.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects(id, key, name, description, status, owner_id, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, project.ID, project.Key, project.Name, project.Description, string(project.Status), nullable(project.OwnerID), fmtTime(project.CreatedAt), fmtTime(project.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create project %q: %w", project.Key, ErrConflict)
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (r *projectRepository) Get(ctx context.Context, key string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, key, name, description, status, owner_id, created_at, updated_at
		FROM projects
		WHERE key = ?
	`, strings.ToUpper(key))

	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

func (r *projectRepository) List(ctx context.Context) ([]Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, key, name, description, status, owner_id, created_at, updated_at
		FROM projects
		ORDER BY key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := []Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		out = append(out, *project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: iterate: %w", err)
	}
	return out, nil
}

func scanProject(scanner rowScanner) (*Project, error) {
	var (
		project   Project
		status    string
		owner     sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&project.ID, &project.Key, &project.Name, &project.Description, &status, &owner, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	project.Status = ProjectStatus(status)
	project.OwnerID = owner.String

	var err error
	project.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	project.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &project, nil
}
