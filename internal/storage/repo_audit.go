package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type auditRepository struct {
	db *sql.DB
}

// AppendWithTip inserts event and advances the chain tip in one transaction.
func (r *auditRepository) AppendWithTip(ctx context.Context, event *AuditEvent, tip string) error {
	if event == nil {
		return fmt.Errorf("append audit event: event is nil")
	}
	if event.Action == "" {
		return fmt.Errorf("append audit event: action is required")
	}
	event.EventID = ensureID(event.EventID)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = nowUTC()
	}
	if event.DetailsJSON == "" {
		event.DetailsJSON = "{}"
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append audit event: begin tx: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs(
			event_id, user_id, action, target_type, target_id, result, details_json, prev_hash, event_hash, created_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.EventID, nullable(event.UserID), event.Action, event.TargetType, event.TargetID, event.Result, event.DetailsJSON, event.PrevHash, event.EventHash, fmtTime(event.CreatedAt))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("append audit event: %w", err)
	}
	if event.ID, err = result.LastInsertId(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("append audit event: last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO app_meta(key, value) VALUES(?, ?)`, auditChainTipMetaKey, tip); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("append audit event: write chain tip: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append audit event: commit: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT
			id,
			event_id,
			COALESCE(user_id, ''),
			action,
			COALESCE(target_type, ''),
			COALESCE(target_id, ''),
			COALESCE(result, ''),
			COALESCE(details_json, '{}'),
			COALESCE(prev_hash, ''),
			COALESCE(event_hash, ''),
			created_at
		FROM audit_logs
		WHERE 1=1
	`
	args := make([]any, 0, 5)
	if filter.Action != "" {
		query += ` AND action = ? `
		args = append(args, filter.Action)
	}
	if filter.TargetID != "" {
		query += ` AND target_id = ? `
		args = append(args, filter.TargetID)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ? `
		args = append(args, fmtTime(*filter.Since))
	}
	if filter.Until != nil {
		query += ` AND created_at <= ? `
		args = append(args, fmtTime(*filter.Until))
	}
	query += ` ORDER BY id ASC LIMIT ? `
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := []AuditEvent{}
	for rows.Next() {
		var (
			event   AuditEvent
			created string
		)
		if err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.UserID,
			&event.Action,
			&event.TargetType,
			&event.TargetID,
			&event.Result,
			&event.DetailsJSON,
			&event.PrevHash,
			&event.EventHash,
			&created,
		); err != nil {
			return nil, fmt.Errorf("list audit events: scan row: %w", err)
		}
		event.CreatedAt, err = parseTime(created)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: iterate: %w", err)
	}
	return events, nil
}

func (r *auditRepository) ChainTip(ctx context.Context) (string, error) {
	var tip string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM app_meta WHERE key = ?`, auditChainTipMetaKey).Scan(&tip)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("read audit chain tip: %w", err)
	}
	return tip, nil
}
