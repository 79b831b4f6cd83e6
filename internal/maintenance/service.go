package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/audit"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/crypto"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/snapshot"
)

const DefaultMaxBackupSize int64 = 512 << 20

type Options struct {
	// MaxBackupSize caps the encrypted file an import will read.
	MaxBackupSize int64
	Scrypt        crypto.ScryptParams
	Logger        *slog.Logger
	Now           func() time.Time
}

// Service serializes maintenance operations over the live store. At most one
// export or import runs at a time; a second request is rejected.
type Service struct {
	actors  ActorResolver
	audit   AuditRecorder
	storage StorageController
	process ProcessController

	maxBackupSize int64
	scrypt        crypto.ScryptParams
	logger        *slog.Logger
	now           func() time.Time

	mu    sync.Mutex
	state State
}

type exportDetails struct {
	Destination string `json:"destination"`
	Bytes       int    `json:"bytes"`
	Tables      int    `json:"tables"`
	Rows        int    `json:"rows"`
}

type importDetails struct {
	Source               string `json:"source"`
	Tables               int    `json:"tables"`
	Rows                 int    `json:"rows"`
	Sequences            int    `json:"sequences"`
	ForeignKeyViolations int    `json:"foreign_key_violations"`
}

type restartDetails struct {
	Reason string `json:"reason"`
}

func NewService(actors ActorResolver, recorder AuditRecorder, storage StorageController, process ProcessController, opts Options) (*Service, error) {
	switch {
	case actors == nil:
		return nil, fmt.Errorf("new maintenance service: actor resolver is nil")
	case recorder == nil:
		return nil, fmt.Errorf("new maintenance service: audit recorder is nil")
	case storage == nil:
		return nil, fmt.Errorf("new maintenance service: storage controller is nil")
	case process == nil:
		return nil, fmt.Errorf("new maintenance service: process controller is nil")
	}

	if opts.MaxBackupSize <= 0 {
		opts.MaxBackupSize = DefaultMaxBackupSize
	}
	if opts.Scrypt == (crypto.ScryptParams{}) {
		opts.Scrypt = crypto.DefaultScryptParams()
	}
	if err := opts.Scrypt.Validate(); err != nil {
		return nil, fmt.Errorf("new maintenance service: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		actors:        actors,
		audit:         recorder,
		storage:       storage,
		process:       process,
		maxBackupSize: opts.MaxBackupSize,
		scrypt:        opts.Scrypt,
		logger:        opts.Logger,
		now:           opts.Now,
	}, nil
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) HasPendingRestart() bool {
	return s.State() == StateRestartPending
}

// ExportEncryptedDatabase writes the live store to destination as an
// encrypted backup. The destination is replaced atomically.
func (s *Service) ExportEncryptedDatabase(ctx context.Context, token, password, destination string, sink ProgressSink) error {
	const op = "export database"

	actor, err := s.authorize(ctx, token)
	if err != nil {
		return classify(op, err)
	}
	secret, err := preparePassword(password)
	if err != nil {
		return classify(op, err)
	}
	defer memguard.WipeBytes(secret)

	destination = strings.TrimSpace(destination)
	if destination == "" {
		return classify(op, ErrDestinationRequired)
	}
	livePath, err := s.livePath()
	if err != nil {
		return classify(op, err)
	}
	if samePath(destination, livePath) {
		return classify(op, ErrDestinationIsLive)
	}

	restore, err := s.begin(StateExporting)
	if err != nil {
		return classify(op, err)
	}
	defer restore()

	started := s.now()
	reporter := NewReporter(OperationExport, sink)
	reporter.Emit(PhaseAuthorize, 2, "caller authorized")
	s.logger.Info("database export started", "destination", destination)

	snap, err := Collect(ctx, livePath, reporter)
	if err != nil {
		return classify(op, err)
	}
	snap.Metadata.ExportedAt = started.UTC()

	payload, err := snapshot.Encode(snap)
	if err != nil {
		return classify(op, err)
	}
	reporter.Emit(PhaseSerialize, 65, "snapshot serialized")

	sealed, err := crypto.SealEnvelope(payload, secret, s.scrypt)
	memguard.WipeBytes(payload)
	if err != nil {
		return classify(op, err)
	}
	reporter.Emit(PhaseEncrypt, 85, "snapshot encrypted")

	staged, err := stageFile(destination, sealed)
	if err != nil {
		return classify(op, err)
	}
	installed := false
	defer func() {
		if !installed {
			if removeErr := os.Remove(staged); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				s.logger.Warn("remove staged backup", "path", staged, "error", removeErr)
			}
		}
	}()

	// The destination is only touched once the export is on the audit log.
	err = s.audit.Record(ctx, audit.Event{
		Timestamp:  s.now(),
		Action:     audit.ActionDatabaseExport,
		TargetType: "database",
		TargetID:   filepath.Base(livePath),
		Actor:      actor.UserID,
		Details: exportDetails{
			Destination: destination,
			Bytes:       len(sealed),
			Tables:      len(snap.Tables),
			Rows:        snap.RowCount(),
		},
	})
	if err != nil {
		return classify(op, fmt.Errorf("record audit event: %w", err))
	}

	if err := os.Rename(staged, destination); err != nil {
		s.logger.Error("audited backup could not be installed", "destination", destination, "error", err)
		return classify(op, fmt.Errorf("install backup: %w", err))
	}
	installed = true
	reporter.Emit(PhaseWrite, 95, "backup written")
	reporter.Emit(PhaseComplete, 100, "export complete")
	s.logger.Info("database export finished",
		"destination", destination,
		"bytes", len(sealed),
		"tables", len(snap.Tables),
		"rows", snap.RowCount(),
		"duration", s.now().Sub(started),
	)
	return nil
}

// ImportEncryptedDatabase replaces the live store with the contents of an
// encrypted backup. On success the live connection is gone and the service
// waits for RestartApplication.
func (s *Service) ImportEncryptedDatabase(ctx context.Context, token, password, source string, sink ProgressSink) error {
	const op = "import database"

	actor, err := s.authorize(ctx, token)
	if err != nil {
		return classify(op, err)
	}
	secret, err := preparePassword(password)
	if err != nil {
		return classify(op, err)
	}
	defer memguard.WipeBytes(secret)

	source = strings.TrimSpace(source)
	if source == "" {
		return classify(op, ErrSourceRequired)
	}
	livePath, err := s.livePath()
	if err != nil {
		return classify(op, err)
	}

	restoreState, err := s.begin(StateImporting)
	if err != nil {
		return classify(op, err)
	}
	succeeded := false
	defer func() {
		if !succeeded {
			restoreState()
		}
	}()

	started := s.now()
	reporter := NewReporter(OperationImport, sink)
	reporter.Emit(PhaseAuthorize, 2, "caller authorized")
	s.logger.Info("database import started", "source", source)

	raw, err := s.readBackup(source)
	if err != nil {
		return classify(op, err)
	}
	reporter.Emit(PhaseRead, 5, "backup read")

	payload, err := crypto.OpenEnvelope(raw, secret, s.scrypt)
	if err != nil {
		return classify(op, err)
	}
	reporter.Emit(PhaseDecrypt, 20, "backup decrypted")

	snap, err := snapshot.Decode(payload)
	memguard.WipeBytes(payload)
	if err != nil {
		return classify(op, err)
	}
	reporter.Emit(PhaseDeserialize, 30, "snapshot decoded",
		Counts{Processed: len(snap.Tables), Total: len(snap.Tables)})

	tempPath := filepath.Join(filepath.Dir(livePath),
		fmt.Sprintf(".%s.import-%s.tmp", filepath.Base(livePath), uuid.NewString()))
	report, err := Restore(ctx, snap, tempPath, reporter)
	if err != nil {
		removeDatabaseFiles(s.logger, tempPath)
		return classify(op, err)
	}
	for _, violation := range report.ForeignKeyViolations {
		s.logger.Warn("restored row violates foreign key",
			"table", violation.Table, "rowid", violation.RowID, "parent", violation.Parent)
	}

	if tornDown, err := s.swap(ctx, livePath, tempPath); err != nil {
		removeDatabaseFiles(s.logger, tempPath)
		if tornDown {
			// The live connection is gone; only a relaunch reopens it.
			s.mu.Lock()
			s.state = StateRestartPending
			s.mu.Unlock()
			succeeded = true
			s.logger.Error("database swap failed after teardown, restart required", "error", err)
		}
		return newError(KindInternal, op, err)
	}
	reporter.Emit(PhaseSwap, 99, "live database replaced")

	s.mu.Lock()
	s.state = StateRestartPending
	s.mu.Unlock()
	succeeded = true

	err = s.audit.Record(ctx, audit.Event{
		Timestamp:  s.now(),
		Action:     audit.ActionDatabaseImport,
		TargetType: "database",
		TargetID:   filepath.Base(livePath),
		Actor:      actor.UserID,
		Details: importDetails{
			Source:               source,
			Tables:               report.Tables,
			Rows:                 report.Rows,
			Sequences:            report.Sequences,
			ForeignKeyViolations: len(report.ForeignKeyViolations),
		},
	})
	if err != nil {
		s.logger.Warn("record import audit event", "error", err)
	}

	reporter.Emit(PhaseComplete, 100, "import complete, restart required")
	s.logger.Info("database import finished",
		"source", source,
		"tables", report.Tables,
		"rows", report.Rows,
		"duration", s.now().Sub(started),
	)
	return nil
}

// RestartApplication relaunches the process after an import. The pending
// flag is cleared first and put back if the relaunch cannot be started.
func (s *Service) RestartApplication(ctx context.Context, token string) error {
	const op = "restart application"

	actor, err := s.authorize(ctx, token)
	if err != nil {
		return classify(op, err)
	}

	s.mu.Lock()
	if s.state != StateRestartPending {
		s.mu.Unlock()
		return classify(op, ErrNoPendingRestart)
	}
	s.state = StateIdle
	s.mu.Unlock()

	err = s.audit.Record(ctx, audit.Event{
		Timestamp:  s.now(),
		Action:     audit.ActionDatabaseRestart,
		TargetType: "process",
		Actor:      actor.UserID,
		Details:    restartDetails{Reason: "database import"},
	})
	if err != nil {
		s.logger.Warn("record restart audit event", "error", err)
	}

	if err := s.process.Relaunch(); err != nil {
		s.mu.Lock()
		s.state = StateRestartPending
		s.mu.Unlock()
		return classify(op, fmt.Errorf("relaunch: %w", err))
	}
	s.logger.Info("relaunch scheduled, exiting")
	s.process.Exit(0)
	return nil
}

func (s *Service) authorize(ctx context.Context, token string) (Actor, error) {
	actor, err := s.actors.ResolveActor(ctx, token)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !actor.IsAdmin() {
		return Actor{}, ErrNotAdmin
	}
	return actor, nil
}

// begin moves the service into next and returns the function that puts the
// previous state back.
func (s *Service) begin(next State) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.state
	if previous == StateExporting || previous == StateImporting {
		return nil, fmt.Errorf("%w: %s", ErrOperationInProgress, previous)
	}
	s.state = next
	return func() {
		s.mu.Lock()
		s.state = previous
		s.mu.Unlock()
	}, nil
}

func (s *Service) livePath() (string, error) {
	path := strings.TrimSpace(s.storage.DatabasePath())
	if path == "" {
		return "", ErrDatabaseNotAvailable
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("live database: %w", err)
	}
	return path, nil
}

func (s *Service) readBackup(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat backup: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: backup path is a directory", crypto.ErrMalformedEnvelope)
	}
	if info.Size() > s.maxBackupSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrBackupTooLarge, info.Size(), s.maxBackupSize)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	return raw, nil
}

// swap tears down the live store and renames the restored file over it. The
// previous file is kept aside until the rename succeeds. The boolean reports
// whether the live store was torn down, which holds even when the swap fails.
func (s *Service) swap(ctx context.Context, livePath, restoredPath string) (bool, error) {
	if err := s.storage.Teardown(ctx); err != nil {
		return false, fmt.Errorf("tear down live store: %w", err)
	}

	asidePath := fmt.Sprintf("%s.pre-import-%s", livePath, uuid.NewString())
	moved, err := moveDatabaseFiles(livePath, asidePath)
	if err != nil {
		if _, backErr := moveDatabaseFiles(asidePath, livePath); backErr != nil {
			s.logger.Error("put live database back", "path", livePath, "aside", asidePath, "error", backErr)
		}
		return true, fmt.Errorf("move live database aside: %w", err)
	}

	if err := os.Rename(restoredPath, livePath); err != nil {
		if _, backErr := moveDatabaseFiles(asidePath, livePath); backErr != nil {
			s.logger.Error("put live database back", "path", livePath, "aside", asidePath, "error", backErr)
		}
		return true, fmt.Errorf("install restored database: %w", err)
	}
	if err := os.Chmod(livePath, 0o600); err != nil {
		s.logger.Warn("restrict restored database permissions", "path", livePath, "error", err)
	}

	if moved {
		removeDatabaseFiles(s.logger, asidePath)
	}
	return true, nil
}

var databaseSidecars = []string{"", "-wal", "-shm", "-journal"}

// moveDatabaseFiles renames from and its sidecars to the matching names
// under to. It reports whether the main file existed.
func moveDatabaseFiles(from, to string) (bool, error) {
	moved := false
	for _, suffix := range databaseSidecars {
		err := os.Rename(from+suffix, to+suffix)
		switch {
		case err == nil:
			if suffix == "" {
				moved = true
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return moved, err
		}
	}
	return moved, nil
}

func removeDatabaseFiles(logger *slog.Logger, path string) {
	for _, suffix := range databaseSidecars {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove database file", "path", path+suffix, "error", err)
		}
	}
}

func preparePassword(raw string) ([]byte, error) {
	normalized := crypto.NormalizePassword(raw)
	if utf8.RuneCountInString(normalized) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	return []byte(normalized), nil
}

// stageFile writes data to a synced, owner-only temporary file next to path
// and returns its name. The caller renames it into place or removes it.
func stageFile(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temporary backup: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("write temporary backup: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync temporary backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close temporary backup: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		cleanup()
		return "", fmt.Errorf("restrict backup permissions: %w", err)
	}
	return tmpPath, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
