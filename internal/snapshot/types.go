package snapshot

import (
	"errors"
	"fmt"
	"time"
)

var ErrCorruptPayload = errors.New("snapshot: corrupt payload")

type Kind string

const (
	KindTable   Kind = "table"
	KindView    Kind = "view"
	KindIndex   Kind = "index"
	KindTrigger Kind = "trigger"
)

// Rank orders schema objects so tables always precede the objects that may
// reference them.
func (k Kind) Rank() int {
	switch k {
	case KindTable:
		return 0
	case KindView:
		return 1
	case KindIndex:
		return 2
	case KindTrigger:
		return 3
	default:
		return 4
	}
}

func (k Kind) Valid() bool {
	return k.Rank() < 4
}

type Metadata struct {
	ExportedAt    time.Time `json:"exportedAt"`
	EngineVersion string    `json:"engineVersion"`
}

type SchemaObject struct {
	Name       string `json:"name"`
	Kind       Kind   `json:"type"`
	Definition string `json:"sql"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    [][]Cell `json:"rows"`
}

type Sequence struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

type Snapshot struct {
	Metadata  Metadata       `json:"metadata"`
	Schema    []SchemaObject `json:"schema"`
	Tables    []Table        `json:"tables"`
	Sequences []Sequence     `json:"sequences"`
}

func New(engineVersion string, exportedAt time.Time) *Snapshot {
	return &Snapshot{
		Metadata: Metadata{
			ExportedAt:    exportedAt.UTC(),
			EngineVersion: engineVersion,
		},
		Schema:    []SchemaObject{},
		Tables:    []Table{},
		Sequences: []Sequence{},
	}
}

// RowCount is the total number of rows across all tables.
func (s *Snapshot) RowCount() int {
	total := 0
	for _, table := range s.Tables {
		total += len(table.Rows)
	}
	return total
}

func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: snapshot is nil", ErrCorruptPayload)
	}

	schemaTables := map[string]struct{}{}
	for i, object := range s.Schema {
		if object.Name == "" {
			return fmt.Errorf("%w: schema entry %d has no name", ErrCorruptPayload, i)
		}
		if !object.Kind.Valid() {
			return fmt.Errorf("%w: schema entry %q has unknown type %q", ErrCorruptPayload, object.Name, object.Kind)
		}
		if object.Definition == "" {
			return fmt.Errorf("%w: schema entry %q has no definition", ErrCorruptPayload, object.Name)
		}
		if object.Kind == KindTable {
			schemaTables[object.Name] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(s.Tables))
	for _, table := range s.Tables {
		if _, ok := schemaTables[table.Name]; !ok {
			return fmt.Errorf("%w: table %q has no schema entry", ErrCorruptPayload, table.Name)
		}
		if _, dup := seen[table.Name]; dup {
			return fmt.Errorf("%w: table %q listed more than once", ErrCorruptPayload, table.Name)
		}
		seen[table.Name] = struct{}{}

		for i, row := range table.Rows {
			if len(row) != len(table.Columns) {
				return fmt.Errorf("%w: table %q row %d has %d cells, want %d", ErrCorruptPayload, table.Name, i, len(row), len(table.Columns))
			}
		}
	}
	for name := range schemaTables {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("%w: schema table %q has no data entry", ErrCorruptPayload, name)
		}
	}

	for _, seq := range s.Sequences {
		if seq.Name == "" {
			return fmt.Errorf("%w: sequence entry has no name", ErrCorruptPayload)
		}
	}
	return nil
}

func (s *Snapshot) normalize() {
	if s.Schema == nil {
		s.Schema = []SchemaObject{}
	}
	if s.Tables == nil {
		s.Tables = []Table{}
	}
	if s.Sequences == nil {
		s.Sequences = []Sequence{}
	}
	for i := range s.Tables {
		if s.Tables[i].Columns == nil {
			s.Tables[i].Columns = []string{}
		}
		if s.Tables[i].Rows == nil {
			s.Tables[i].Rows = [][]Cell{}
		}
	}
}
