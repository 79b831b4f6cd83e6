package maintenance

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/snapshot"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

// Restore materializes snap into a new database file at path. Everything is
// written inside one transaction with foreign keys off. Progress runs from
// 60 to 98. On error the caller owns removing path.
func Restore(ctx context.Context, snap *snapshot.Snapshot, path string, reporter *Reporter) (*RestoreReport, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	handle, err := storage.OpenHandle(ctx, path, storage.HandleOptions{Create: true, ImmediateTx: true})
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	defer handle.Close()

	tx, err := handle.Conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("restore: begin: %w", err)
	}

	report, err := restoreInTx(ctx, tx, snap, reporter)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("restore: commit: %w", err)
	}

	if err := handle.SetForeignKeys(ctx, true); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	reporter.Emit(PhaseRestore, 98, "restore committed")
	return report, nil
}

func restoreInTx(ctx context.Context, tx *sql.Tx, snap *snapshot.Snapshot, reporter *Reporter) (*RestoreReport, error) {
	report := &RestoreReport{}

	for _, object := range orderedSchema(snap.Schema, true) {
		if _, err := tx.ExecContext(ctx, object.Definition); err != nil {
			return nil, fmt.Errorf("restore: create table %s: %w", object.Name, err)
		}
	}
	reporter.Emit(PhaseRestore, 60, "tables created")

	for i, table := range snap.Tables {
		inserted, err := insertRows(ctx, tx, table)
		if err != nil {
			return nil, err
		}
		report.Tables++
		report.Rows += inserted
		reporter.Emit(PhaseRestore, span(60, 90, i+1, len(snap.Tables)), "table "+table.Name,
			Counts{Processed: i + 1, Total: len(snap.Tables)})
	}
	if len(snap.Tables) == 0 {
		reporter.Emit(PhaseRestore, 90, "no table data")
	}

	for _, object := range orderedSchema(snap.Schema, false) {
		if _, err := tx.ExecContext(ctx, object.Definition); err != nil {
			return nil, fmt.Errorf("restore: create %s %s: %w", object.Kind, object.Name, err)
		}
	}
	reporter.Emit(PhaseRestore, 92, "views, indexes and triggers created")

	report.Sequences = restoreSequences(ctx, tx, snap.Sequences)
	reporter.Emit(PhaseRestore, 96, "sequences restored",
		Counts{Processed: report.Sequences, Total: len(snap.Sequences)})

	violations, err := foreignKeyViolations(ctx, tx)
	if err != nil {
		return nil, err
	}
	report.ForeignKeyViolations = violations
	return report, nil
}

// orderedSchema returns either the table definitions or everything else,
// keeping the relative order of the snapshot.
func orderedSchema(schema []snapshot.SchemaObject, tables bool) []snapshot.SchemaObject {
	out := make([]snapshot.SchemaObject, 0, len(schema))
	for _, object := range schema {
		if (object.Kind == snapshot.KindTable) == tables {
			out = append(out, object)
		}
	}
	if !tables {
		// Views before indexes before triggers.
		slices.SortStableFunc(out, func(a, b snapshot.SchemaObject) int {
			return cmp.Compare(a.Kind.Rank(), b.Kind.Rank())
		})
	}
	return out
}

func insertRows(ctx context.Context, tx *sql.Tx, table snapshot.Table) (int, error) {
	if len(table.Rows) == 0 || len(table.Columns) == 0 {
		return 0, nil
	}

	quoted := make([]string, len(table.Columns))
	for i, column := range table.Columns {
		quoted[i] = storage.QuoteIdent(column)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(table.Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		storage.QuoteIdent(table.Name), strings.Join(quoted, ", "), placeholders))
	if err != nil {
		return 0, fmt.Errorf("restore: prepare insert for %s: %w", table.Name, err)
	}
	defer stmt.Close()

	args := make([]any, len(table.Columns))
	for n, row := range table.Rows {
		for i, cell := range row {
			args[i] = cell.Value()
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return n, fmt.Errorf("restore: insert row %d into %s: %w", n, table.Name, err)
		}
	}
	return len(table.Rows), nil
}

// restoreSequences writes autoincrement counters. Failures are skipped: the
// counter table only exists when some restored table uses AUTOINCREMENT.
func restoreSequences(ctx context.Context, tx *sql.Tx, sequences []snapshot.Sequence) int {
	restored := 0
	for _, seq := range sequences {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = ?`, seq.Name); err != nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO sqlite_sequence(name, seq) VALUES (?, ?)`, seq.Name, seq.Value); err != nil {
			continue
		}
		restored++
	}
	return restored
}

func foreignKeyViolations(ctx context.Context, tx *sql.Tx) ([]ForeignKeyViolation, error) {
	rows, err := tx.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return nil, fmt.Errorf("restore: foreign key check: %w", err)
	}
	defer rows.Close()

	var violations []ForeignKeyViolation
	for rows.Next() {
		var (
			violation ForeignKeyViolation
			rowID     sql.NullInt64
			fkid      int
		)
		if err := rows.Scan(&violation.Table, &rowID, &violation.Parent, &fkid); err != nil {
			return nil, fmt.Errorf("restore: scan foreign key check: %w", err)
		}
		violation.RowID = rowID.Int64
		violations = append(violations, violation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("restore: iterate foreign key check: %w", err)
	}
	return violations, nil
}
