package maintenance

import (
	"context"
	"slices"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/audit"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

const MinPasswordLength = 12

type Actor struct {
	UserID string
	Roles  []string
}

func (a Actor) IsAdmin() bool {
	return slices.Contains(a.Roles, storage.RoleAdmin)
}

type ActorResolver interface {
	ResolveActor(ctx context.Context, token string) (Actor, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event) error
}

// StorageController hands out the live database location and releases the
// live connection before its file is replaced.
type StorageController interface {
	DatabasePath() string
	Teardown(ctx context.Context) error
}

type ProcessController interface {
	Relaunch() error
	Exit(code int)
}

type State int

const (
	StateIdle State = iota
	StateExporting
	StateImporting
	StateRestartPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExporting:
		return "exporting"
	case StateImporting:
		return "importing"
	case StateRestartPending:
		return "restart-pending"
	default:
		return "unknown"
	}
}

type Operation string

const (
	OperationExport Operation = "export"
	OperationImport Operation = "import"
)

type Phase string

const (
	PhaseAuthorize   Phase = "authorize"
	PhaseCollect     Phase = "collect"
	PhaseSerialize   Phase = "serialize"
	PhaseEncrypt     Phase = "encrypt"
	PhaseWrite       Phase = "write"
	PhaseRead        Phase = "read"
	PhaseDecrypt     Phase = "decrypt"
	PhaseDeserialize Phase = "deserialize"
	PhaseRestore     Phase = "restore"
	PhaseSwap        Phase = "swap"
	PhaseComplete    Phase = "complete"
)

type Counts struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

type Progress struct {
	Operation Operation `json:"operation"`
	Phase     Phase     `json:"phase"`
	Percent   float64   `json:"percent"`
	Detail    string    `json:"detail,omitempty"`
	Counts    *Counts   `json:"counts,omitempty"`
}

// ProgressSink receives progress synchronously on the calling goroutine.
type ProgressSink func(Progress)

// RestoreReport summarizes what Restore wrote.
type RestoreReport struct {
	Tables               int
	Rows                 int
	Sequences            int
	ForeignKeyViolations []ForeignKeyViolation
}

type ForeignKeyViolation struct {
	Table  string
	RowID  int64
	Parent string
}
