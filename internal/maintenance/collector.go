package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/snapshot"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

// ftsAuxSuffixes name the tables a full-text index keeps next to its parent
// table. A user table that happens to carry one of these suffixes while a
// table with the stripped name exists is excluded as well.
var ftsAuxSuffixes = []string{"_fts", "_fts_data", "_fts_idx", "_fts_content", "_fts_docsize", "_fts_config"}

// ftsShadowSuffixes are the shadow tables the FTS3/4/5 modules create as
// <virtual table>_<suffix>.
var ftsShadowSuffixes = []string{"_data", "_idx", "_content", "_docsize", "_config", "_segments", "_segdir", "_stat"}

var virtualFTSPattern = regexp.MustCompile(`(?is)^\s*CREATE\s+VIRTUAL\s+TABLE\b.*\bUSING\s+fts[345]\b`)

var ftsContentPattern = regexp.MustCompile(`(?i)\bcontent\s*=\s*(?:'((?:[^']|'')*)'|"((?:[^"]|"")*)"|([A-Za-z_][A-Za-z0-9_]*))`)

const catalogQuery = `SELECT name, type, tbl_name, sql FROM sqlite_master
WHERE sql IS NOT NULL
  AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
  AND type IN ('table', 'view', 'index', 'trigger')
ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'view' THEN 1 WHEN 'index' THEN 2 ELSE 3 END, name`

type catalogEntry struct {
	name       string
	kind       snapshot.Kind
	table      string
	definition string
}

// Collect reads the database at path into a snapshot. The file is opened
// read-only and never modified. Progress runs from 8 to 55.
func Collect(ctx context.Context, path string, reporter *Reporter) (*snapshot.Snapshot, error) {
	handle, err := storage.OpenHandle(ctx, path, storage.HandleOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	defer handle.Close()

	engineVersion, err := handle.EngineVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	return collect(ctx, handle.Conn(), engineVersion, time.Now(), reporter)
}

func collect(ctx context.Context, conn *sql.Conn, engineVersion string, exportedAt time.Time, reporter *Reporter) (*snapshot.Snapshot, error) {
	catalog, err := readCatalog(ctx, conn)
	if err != nil {
		return nil, err
	}
	objects := filterAuxiliary(catalog)
	reporter.Emit(PhaseCollect, 8, "schema read", Counts{Processed: len(objects), Total: len(objects)})

	snap := snapshot.New(engineVersion, exportedAt)
	var tableNames []string
	contentless := map[string]struct{}{}
	for _, object := range objects {
		snap.Schema = append(snap.Schema, snapshot.SchemaObject{
			Name:       object.name,
			Kind:       object.kind,
			Definition: object.definition,
		})
		if object.kind == snapshot.KindTable {
			tableNames = append(tableNames, object.name)
			if isContentless(object.definition) {
				contentless[object.name] = struct{}{}
			}
		}
	}

	reporter.Emit(PhaseCollect, 10, "reading tables", Counts{Processed: 0, Total: len(tableNames)})
	for i, name := range tableNames {
		_, skipRows := contentless[name]
		table, err := readTable(ctx, conn, name, skipRows)
		if err != nil {
			return nil, err
		}
		snap.Tables = append(snap.Tables, table)
		reporter.Emit(PhaseCollect, span(10, 55, i+1, len(tableNames)), "table "+name,
			Counts{Processed: i + 1, Total: len(tableNames)})
	}
	if len(tableNames) == 0 {
		reporter.Emit(PhaseCollect, 55, "no tables", Counts{})
	}

	sequences, err := readSequences(ctx, conn)
	if err != nil {
		return nil, err
	}
	snap.Sequences = sequences
	reporter.Emit(PhaseCollect, 55, "sequences read", Counts{Processed: len(sequences), Total: len(sequences)})
	return snap, nil
}

func readCatalog(ctx context.Context, conn *sql.Conn) ([]catalogEntry, error) {
	rows, err := conn.QueryContext(ctx, catalogQuery)
	if err != nil {
		return nil, fmt.Errorf("read schema catalog: %w", err)
	}
	defer rows.Close()

	var entries []catalogEntry
	for rows.Next() {
		var entry catalogEntry
		var kind string
		if err := rows.Scan(&entry.name, &kind, &entry.table, &entry.definition); err != nil {
			return nil, fmt.Errorf("scan schema catalog: %w", err)
		}
		entry.kind = snapshot.Kind(kind)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema catalog: %w", err)
	}
	return entries, nil
}

// filterAuxiliary drops the derived side of full-text indexes: FTS tables
// named after a parent table, FTS tables whose content lives in another
// table of the catalog, the shadow tables of every FTS virtual table and any
// index or trigger attached to a dropped table. A standalone FTS table holds
// its own rows and is kept; restoring it through the module rebuilds its
// shadow tables. The live store rebuilds derived indexes when it opens.
func filterAuxiliary(entries []catalogEntry) []catalogEntry {
	tables := map[string]struct{}{}
	virtualFTS := map[string]struct{}{}
	for _, entry := range entries {
		if entry.kind != snapshot.KindTable {
			continue
		}
		tables[entry.name] = struct{}{}
		if virtualFTSPattern.MatchString(entry.definition) {
			virtualFTS[entry.name] = struct{}{}
		}
	}

	dropped := map[string]struct{}{}
	for _, entry := range entries {
		if entry.kind != snapshot.KindTable {
			continue
		}
		if _, isVirtual := virtualFTS[entry.name]; isVirtual {
			if hasParentWithSuffix(entry.name, ftsAuxSuffixes, tables) || hasExternalContent(entry.definition, tables) {
				dropped[entry.name] = struct{}{}
			}
			continue
		}
		if hasParentWithSuffix(entry.name, ftsAuxSuffixes, tables) || hasParentWithSuffix(entry.name, ftsShadowSuffixes, virtualFTS) {
			dropped[entry.name] = struct{}{}
		}
	}

	kept := make([]catalogEntry, 0, len(entries))
	for _, entry := range entries {
		if _, gone := dropped[entry.name]; gone && entry.kind == snapshot.KindTable {
			continue
		}
		if entry.kind == snapshot.KindIndex || entry.kind == snapshot.KindTrigger {
			if _, gone := dropped[entry.table]; gone {
				continue
			}
		}
		kept = append(kept, entry)
	}
	return kept
}

// ftsContentTable returns the value of the content= option of an FTS
// definition and whether the option is present. An empty value marks a
// contentless table.
func ftsContentTable(definition string) (string, bool) {
	match := ftsContentPattern.FindStringSubmatch(definition)
	if match == nil {
		return "", false
	}
	for _, group := range match[1:] {
		if group != "" {
			return group, true
		}
	}
	return "", true
}

func hasExternalContent(definition string, tables map[string]struct{}) bool {
	content, ok := ftsContentTable(definition)
	if !ok || content == "" {
		return false
	}
	_, exists := tables[content]
	return exists
}

// isContentless reports an FTS table declared with content=''. Its column
// values are not stored, so there are no rows to read back.
func isContentless(definition string) bool {
	if !virtualFTSPattern.MatchString(definition) {
		return false
	}
	content, ok := ftsContentTable(definition)
	return ok && content == ""
}

func hasParentWithSuffix(name string, suffixes []string, parents map[string]struct{}) bool {
	for _, suffix := range suffixes {
		parent, ok := strings.CutSuffix(name, suffix)
		if !ok || parent == "" || parent == name {
			continue
		}
		if _, exists := parents[parent]; exists {
			return true
		}
	}
	return false
}

func readTable(ctx context.Context, conn *sql.Conn, name string, skipRows bool) (snapshot.Table, error) {
	columns, err := readColumns(ctx, conn, name)
	if err != nil {
		return snapshot.Table{}, err
	}
	table := snapshot.Table{Name: name, Columns: columns, Rows: [][]snapshot.Cell{}}
	if len(columns) == 0 || skipRows {
		return table, nil
	}

	// Unary plus drops the declared column type so the driver hands back the
	// stored value instead of parsing DATE or DATETIME text into time.Time.
	selects := make([]string, len(columns))
	for i, column := range columns {
		selects[i] = "+" + storage.QuoteIdent(column)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), storage.QuoteIdent(name))

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return snapshot.Table{}, fmt.Errorf("read table %s: %w", name, err)
	}
	defer rows.Close()

	values := make([]any, len(columns))
	targets := make([]any, len(columns))
	for i := range values {
		targets[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return snapshot.Table{}, fmt.Errorf("scan table %s: %w", name, err)
		}
		row := make([]snapshot.Cell, len(columns))
		for i, value := range values {
			row[i] = snapshot.EncodeValue(value)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return snapshot.Table{}, fmt.Errorf("iterate table %s: %w", name, err)
	}
	return table, nil
}

func readColumns(ctx context.Context, conn *sql.Conn, table string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", storage.QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	defer rows.Close()

	columns := []string{}
	for rows.Next() {
		var (
			cid      int
			name     string
			declType string
			notNull  int
			defValue any
			pk       int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &defValue, &pk); err != nil {
			return nil, fmt.Errorf("scan columns of %s: %w", table, err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %s: %w", table, err)
	}
	return columns, nil
}

func readSequences(ctx context.Context, conn *sql.Conn) ([]snapshot.Sequence, error) {
	var present int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'`).Scan(&present)
	if err != nil {
		return nil, fmt.Errorf("probe sequence table: %w", err)
	}
	sequences := []snapshot.Sequence{}
	if present == 0 {
		return sequences, nil
	}

	rows, err := conn.QueryContext(ctx, `SELECT name, seq FROM sqlite_sequence ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("read sequences: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var seq snapshot.Sequence
		if err := rows.Scan(&seq.Name, &seq.Value); err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		sequences = append(sequences, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sequences: %w", err)
	}
	return sequences, nil
}
