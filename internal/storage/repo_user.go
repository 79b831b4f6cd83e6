package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type userRepository struct {
	db *sql.DB
}

func (r *userRepository) Create(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("create user: user is nil")
	}
	user.Username = strings.TrimSpace(user.Username)
	if user.Username == "" {
		return fmt.Errorf("create user: username is required")
	}

	user.ID = ensureID(user.ID)
	now := nowUTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create user: begin tx: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users(id, username, display_name, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?)
	`, user.ID, user.Username, user.DisplayName, fmtTime(user.CreatedAt), fmtTime(user.UpdatedAt))
	if err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err) {
			return fmt.Errorf("create user %q: %w", user.Username, ErrConflict)
		}
		return fmt.Errorf("create user: insert user: %w", err)
	}

	for _, role := range user.Roles {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(user_id, role) VALUES(?, ?)`, user.ID, role); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("create user: add role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create user: commit: %w", err)
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id string) (*User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getBy(ctx, "username", username)
}

func (r *userRepository) getBy(ctx context.Context, column, value string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, created_at, updated_at
		FROM users
		WHERE `+QuoteIdent(column)+` = ?
	`, value)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	user.Roles, err = r.rolesByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, username, display_name, created_at, updated_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		out = append(out, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: iterate: %w", err)
	}

	for i := range out {
		out[i].Roles, err = r.rolesByUserID(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *userRepository) AddRole(ctx context.Context, userID, role string) error {
	if userID == "" || role == "" {
		return fmt.Errorf("add user role: userID and role are required")
	}
	if _, err := r.Get(ctx, userID); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(user_id, role) VALUES(?, ?)`, userID, role); err != nil {
		return fmt.Errorf("add user role: %w", err)
	}
	return nil
}

func (r *userRepository) rolesByUserID(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = ? ORDER BY role ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user roles: %w", err)
	}
	return roles, nil
}

func scanUser(scanner rowScanner) (*User, error) {
	var (
		user      User
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&user.ID, &user.Username, &user.DisplayName, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	user.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	user.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
