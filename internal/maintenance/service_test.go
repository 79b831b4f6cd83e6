package maintenance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/audit"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/crypto"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/snapshot"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

const (
	adminToken     = "admin-token"
	memberToken    = "member-token"
	backupPassword = "correct horse battery staple"
)

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	backup := filepath.Join(f.dir, "backups", "pm.pmdb")

	var exportEvents []Progress
	err := f.svc.ExportEncryptedDatabase(ctx, adminToken, backupPassword, backup, func(p Progress) {
		exportEvents = append(exportEvents, p)
	})
	require.NoError(t, err)
	requireProgressCompletes(t, exportEvents)

	info, err := os.Stat(backup)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Data written after the export must disappear once the backup is restored.
	live, err := f.manager.Store(ctx)
	require.NoError(t, err)
	require.NoError(t, live.Notes.Create(ctx, &storage.Note{Title: "written after export", Body: "ephemeral"}))
	sequenceBefore := auditSequence(t, live)

	var importEvents []Progress
	err = f.svc.ImportEncryptedDatabase(ctx, adminToken, backupPassword, backup, func(p Progress) {
		importEvents = append(importEvents, p)
	})
	require.NoError(t, err)
	requireProgressCompletes(t, importEvents)
	require.True(t, f.svc.HasPendingRestart())
	require.Equal(t, StateRestartPending, f.svc.State())

	_, err = f.manager.Store(ctx)
	require.ErrorIs(t, err, storage.ErrStoreClosed)
	requireNoStrayFiles(t, f.dir)

	restored, err := storage.Open(f.livePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = restored.Close() })

	hits, err := restored.Notes.Search(ctx, "kickoff", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "Sprint kickoff", hits[0].Title)
	gone, err := restored.Notes.Search(ctx, "ephemeral", 10)
	require.NoError(t, err)
	require.Empty(t, gone)

	var attachment []byte
	var estimate float64
	require.NoError(t, restored.DB().QueryRowContext(ctx,
		`SELECT attachment FROM wiki_pages WHERE slug = 'home'`).Scan(&attachment))
	require.Equal(t, []byte{0x00, 0x01, 0xfe, 0xff}, attachment)
	require.NoError(t, restored.DB().QueryRowContext(ctx,
		`SELECT estimate FROM tasks WHERE key = 'PM-1'`).Scan(&estimate))
	require.InDelta(t, 2.5, estimate, 1e-12)

	admin, err := restored.Users.GetByUsername(ctx, "ada")
	require.NoError(t, err)
	require.Contains(t, admin.Roles, storage.RoleAdmin)

	require.Equal(t, sequenceBefore, auditSequence(t, restored))
	verify, err := mustAuditService(t, restored).Verify(ctx)
	require.NoError(t, err)
	require.True(t, verify.Valid)
	require.Equal(t, 1, verify.EventCount)

	actions := f.recorder.actions()
	require.Equal(t, []string{audit.ActionDatabaseExport, audit.ActionDatabaseImport}, actions)
	require.Equal(t, "u-admin", f.recorder.events[0].Actor)
}

func TestExportEmptyDatabase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	livePath := filepath.Join(dir, "empty.db")
	require.NoError(t, os.WriteFile(livePath, nil, 0o600))

	recorder := &fakeRecorder{}
	svc := newTestService(t, storage.NewManager(livePath), recorder, &fakeProcess{}, Options{})

	var events []Progress
	backup := filepath.Join(dir, "empty.pmdb")
	require.NoError(t, svc.ExportEncryptedDatabase(context.Background(), adminToken, backupPassword, backup, func(p Progress) {
		events = append(events, p)
	}))
	requireProgressCompletes(t, events)

	raw, err := os.ReadFile(backup)
	require.NoError(t, err)
	payload, err := crypto.OpenEnvelope(raw, []byte(backupPassword), fastParams())
	require.NoError(t, err)
	snap, err := snapshot.Decode(payload)
	require.NoError(t, err)
	require.Empty(t, snap.Schema)
	require.Empty(t, snap.Tables)
	require.Empty(t, snap.Sequences)
}

func TestImportWrongPasswordLeavesLiveStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	backup := filepath.Join(f.dir, "pm.pmdb")
	require.NoError(t, f.svc.ExportEncryptedDatabase(ctx, adminToken, backupPassword, backup, nil))

	err := f.svc.ImportEncryptedDatabase(ctx, adminToken, "not the right password", backup, nil)
	require.Error(t, err)
	require.Equal(t, KindPermission, KindOf(err))
	require.ErrorIs(t, err, crypto.ErrAuthenticationFailed)
	require.False(t, f.svc.HasPendingRestart())
	require.Equal(t, StateIdle, f.svc.State())

	store, err := f.manager.Store(ctx)
	require.NoError(t, err)
	projects, err := store.Projects.List(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	requireNoStrayFiles(t, f.dir)
}

func TestImportRejectsForeignFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	source := filepath.Join(f.dir, "notes.txt")
	require.NoError(t, os.WriteFile(source, []byte(strings.Repeat("plain text, not a backup. ", 4)), 0o600))

	err := f.svc.ImportEncryptedDatabase(context.Background(), adminToken, backupPassword, source, nil)
	require.Error(t, err)
	require.Equal(t, KindValidation, KindOf(err))
	require.ErrorIs(t, err, crypto.ErrUnknownMagic)
}

func TestImportMissingSourceIsNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.svc.ImportEncryptedDatabase(context.Background(), adminToken, backupPassword, filepath.Join(f.dir, "nope.pmdb"), nil)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestImportRejectsOversizedBackup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	svc := newTestService(t, f.manager, f.recorder, f.process, Options{MaxBackupSize: 16})
	source := filepath.Join(f.dir, "big.pmdb")
	require.NoError(t, os.WriteFile(source, make([]byte, 64), 0o600))

	err := svc.ImportEncryptedDatabase(context.Background(), adminToken, backupPassword, source, nil)
	require.Equal(t, KindValidation, KindOf(err))
	require.ErrorIs(t, err, ErrBackupTooLarge)
}

func TestImportRestoreFailureKeepsLiveStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	snap := snapshot.New("3.50.0", time.Now())
	snap.Schema = []snapshot.SchemaObject{{Name: "broken", Kind: snapshot.KindTable, Definition: "CREATE TABLE broken ("}}
	snap.Tables = []snapshot.Table{{Name: "broken", Columns: []string{"id"}, Rows: [][]snapshot.Cell{}}}
	payload, err := snapshot.Encode(snap)
	require.NoError(t, err)
	sealed, err := crypto.SealEnvelope(payload, []byte(backupPassword), fastParams())
	require.NoError(t, err)
	source := filepath.Join(f.dir, "broken.pmdb")
	require.NoError(t, os.WriteFile(source, sealed, 0o600))

	err = f.svc.ImportEncryptedDatabase(ctx, adminToken, backupPassword, source, nil)
	require.Error(t, err)
	require.Equal(t, KindInternal, KindOf(err))
	require.False(t, f.svc.HasPendingRestart())

	store, err := f.manager.Store(ctx)
	require.NoError(t, err)
	users, err := store.Users.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	requireNoStrayFiles(t, f.dir)
}

func TestImportRowFailureKeepsLiveStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	snap := snapshot.New("3.50.0", time.Now())
	snap.Schema = []snapshot.SchemaObject{{
		Name:       "labels",
		Kind:       snapshot.KindTable,
		Definition: "CREATE TABLE labels (id INTEGER PRIMARY KEY, name TEXT)",
	}}
	snap.Tables = []snapshot.Table{{
		Name:    "labels",
		Columns: []string{"id", "name"},
		Rows: [][]snapshot.Cell{
			{snapshot.Integer(1), snapshot.Text("bug")},
			{snapshot.Integer(1), snapshot.Text("feature")},
		},
	}}
	payload, err := snapshot.Encode(snap)
	require.NoError(t, err)
	sealed, err := crypto.SealEnvelope(payload, []byte(backupPassword), fastParams())
	require.NoError(t, err)
	source := filepath.Join(f.dir, "duplicate.pmdb")
	require.NoError(t, os.WriteFile(source, sealed, 0o600))

	err = f.svc.ImportEncryptedDatabase(ctx, adminToken, backupPassword, source, nil)
	require.Error(t, err)
	require.Equal(t, KindInternal, KindOf(err))
	require.Equal(t, StateIdle, f.svc.State())

	store, err := f.manager.Store(ctx)
	require.NoError(t, err)
	users, err := store.Users.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	var tables int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE name = 'labels'`).Scan(&tables))
	require.Zero(t, tables)
	requireNoStrayFiles(t, f.dir)
}

func TestImportSwapFailureAfterTeardownRequiresRestart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	backup := filepath.Join(f.dir, "pm.pmdb")
	require.NoError(t, f.svc.ExportEncryptedDatabase(ctx, adminToken, backupPassword, backup, nil))

	// Teardown succeeds, then the restored file vanishes before the rename.
	controller := &teardownHook{Manager: f.manager, after: func() {
		matches, err := filepath.Glob(filepath.Join(f.dir, ".pm.db.import-*.tmp"))
		require.NoError(t, err)
		require.Len(t, matches, 1)
		require.NoError(t, os.Remove(matches[0]))
	}}
	svc := newTestService(t, controller, f.recorder, f.process, Options{})

	err := svc.ImportEncryptedDatabase(ctx, adminToken, backupPassword, backup, nil)
	require.Error(t, err)
	require.Equal(t, KindInternal, KindOf(err))
	require.True(t, svc.HasPendingRestart())
	requireNoStrayFiles(t, f.dir)

	_, err = f.manager.Store(ctx)
	require.ErrorIs(t, err, storage.ErrStoreClosed)

	store, err := storage.Open(f.livePath)
	require.NoError(t, err)
	users, err := store.Users.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.NoError(t, store.Close())

	require.NoError(t, svc.RestartApplication(ctx, adminToken))
	require.False(t, svc.HasPendingRestart())
	require.Equal(t, 1, f.process.relaunches)
}

func TestShortPasswordRejectedBeforeAnyIO(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	destination := filepath.Join(f.dir, "out", "pm.pmdb")

	err := f.svc.ExportEncryptedDatabase(ctx, adminToken, "  short  ", destination, nil)
	require.Equal(t, KindValidation, KindOf(err))
	require.ErrorIs(t, err, ErrPasswordTooShort)
	_, statErr := os.Stat(filepath.Dir(destination))
	require.ErrorIs(t, statErr, os.ErrNotExist)

	err = f.svc.ImportEncryptedDatabase(ctx, adminToken, "eleven char", filepath.Join(f.dir, "missing.pmdb"), nil)
	require.ErrorIs(t, err, ErrPasswordTooShort)
	require.Empty(t, f.recorder.actions())
}

func TestMaintenanceRequiresAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	destination := filepath.Join(f.dir, "pm.pmdb")

	err := f.svc.ExportEncryptedDatabase(ctx, memberToken, backupPassword, destination, nil)
	require.Equal(t, KindPermission, KindOf(err))
	require.ErrorIs(t, err, ErrNotAdmin)

	err = f.svc.ImportEncryptedDatabase(ctx, "bogus", backupPassword, destination, nil)
	require.Equal(t, KindPermission, KindOf(err))
	require.ErrorIs(t, err, ErrUnauthenticated)

	err = f.svc.RestartApplication(ctx, memberToken)
	require.Equal(t, KindPermission, KindOf(err))

	_, statErr := os.Stat(destination)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestExportRefusesLiveDatabaseAsDestination(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.svc.ExportEncryptedDatabase(context.Background(), adminToken, backupPassword, f.livePath, nil)
	require.Equal(t, KindValidation, KindOf(err))
	require.ErrorIs(t, err, ErrDestinationIsLive)
}

func TestExportKeepsPreviousBackupWhenAuditFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	destination := filepath.Join(f.dir, "pm.pmdb")
	require.NoError(t, f.svc.ExportEncryptedDatabase(ctx, adminToken, backupPassword, destination, nil))
	previous, err := os.ReadFile(destination)
	require.NoError(t, err)

	f.recorder.err = errors.New("audit store offline")
	err = f.svc.ExportEncryptedDatabase(ctx, adminToken, backupPassword, destination, nil)
	require.Error(t, err)
	require.Equal(t, KindInternal, KindOf(err))
	require.Equal(t, StateIdle, f.svc.State())

	current, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, previous, current)
	requireNoStagedBackups(t, f.dir)

	fresh := filepath.Join(f.dir, "fresh.pmdb")
	err = f.svc.ExportEncryptedDatabase(ctx, adminToken, backupPassword, fresh, nil)
	require.Equal(t, KindInternal, KindOf(err))
	_, statErr := os.Stat(fresh)
	require.ErrorIs(t, statErr, os.ErrNotExist)
	requireNoStagedBackups(t, f.dir)
}

func TestImportSucceedsWhenAuditFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	backup := filepath.Join(f.dir, "pm.pmdb")
	require.NoError(t, f.svc.ExportEncryptedDatabase(ctx, adminToken, backupPassword, backup, nil))

	f.recorder.err = errors.New("store torn down")
	require.NoError(t, f.svc.ImportEncryptedDatabase(ctx, adminToken, backupPassword, backup, nil))
	require.True(t, f.svc.HasPendingRestart())
}

func TestConcurrentOperationRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	done, err := f.svc.begin(StateExporting)
	require.NoError(t, err)

	err = f.svc.ImportEncryptedDatabase(context.Background(), adminToken, backupPassword, filepath.Join(f.dir, "x.pmdb"), nil)
	require.Equal(t, KindValidation, KindOf(err))
	require.ErrorIs(t, err, ErrOperationInProgress)

	done()
	require.Equal(t, StateIdle, f.svc.State())
}

func TestRestartApplication(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.RestartApplication(ctx, adminToken)
	require.Equal(t, KindValidation, KindOf(err))
	require.ErrorIs(t, err, ErrNoPendingRestart)

	backup := filepath.Join(f.dir, "pm.pmdb")
	require.NoError(t, f.svc.ExportEncryptedDatabase(ctx, adminToken, backupPassword, backup, nil))
	require.NoError(t, f.svc.ImportEncryptedDatabase(ctx, adminToken, backupPassword, backup, nil))
	require.True(t, f.svc.HasPendingRestart())

	f.process.relaunchErr = errors.New("executable vanished")
	err = f.svc.RestartApplication(ctx, adminToken)
	require.Equal(t, KindInternal, KindOf(err))
	require.True(t, f.svc.HasPendingRestart())
	require.Empty(t, f.process.exits)

	f.process.relaunchErr = nil
	require.NoError(t, f.svc.RestartApplication(ctx, adminToken))
	require.False(t, f.svc.HasPendingRestart())
	require.Equal(t, 2, f.process.relaunches)
	require.Equal(t, []int{0}, f.process.exits)
	require.Contains(t, f.recorder.actions(), audit.ActionDatabaseRestart)
}

type fixture struct {
	dir      string
	livePath string
	manager  *storage.Manager
	recorder *fakeRecorder
	process  *fakeProcess
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	livePath := filepath.Join(dir, "pm.db")
	manager := storage.NewManager(livePath)
	t.Cleanup(func() { _ = manager.Close() })

	store, err := manager.Store(context.Background())
	require.NoError(t, err)
	seedStore(t, store)

	f := &fixture{
		dir:      dir,
		livePath: livePath,
		manager:  manager,
		recorder: &fakeRecorder{},
		process:  &fakeProcess{},
	}
	f.svc = newTestService(t, manager, f.recorder, f.process, Options{})
	return f
}

func newTestService(t *testing.T, controller StorageController, recorder AuditRecorder, process ProcessController, opts Options) *Service {
	t.Helper()
	actors := fakeActors{
		adminToken:  {UserID: "u-admin", Roles: []string{storage.RoleAdmin}},
		memberToken: {UserID: "u-member", Roles: []string{"member"}},
	}
	if opts.Scrypt == (crypto.ScryptParams{}) {
		opts.Scrypt = fastParams()
	}
	svc, err := NewService(actors, recorder, controller, process, opts)
	require.NoError(t, err)
	return svc
}

func seedStore(t *testing.T, store *storage.Store) {
	t.Helper()
	ctx := context.Background()

	user := &storage.User{Username: "ada", DisplayName: "Ada", Roles: []string{storage.RoleAdmin}}
	require.NoError(t, store.Users.Create(ctx, user))
	project := &storage.Project{Key: "pm", Name: "Project Manager", OwnerID: user.ID}
	require.NoError(t, store.Projects.Create(ctx, project))
	require.NoError(t, store.Notes.Create(ctx, &storage.Note{
		ProjectID: project.ID,
		AuthorID:  user.ID,
		Title:     "Sprint kickoff",
		Body:      "Agenda for the first planning session",
	}))

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO tasks(id, project_id, key, title, estimate, created_at, updated_at)
		VALUES('task-1', ?, 'PM-1', 'Write backup docs', 2.5, ?, ?)
	`, project.ID, now, now)
	require.NoError(t, err)
	_, err = store.DB().ExecContext(ctx, `
		INSERT INTO wiki_pages(id, project_id, slug, title, attachment, updated_at)
		VALUES('page-1', ?, 'home', 'Home', ?, ?)
	`, project.ID, []byte{0x00, 0x01, 0xfe, 0xff}, now)
	require.NoError(t, err)

	require.NoError(t, mustAuditService(t, store).Record(ctx, audit.Event{
		Action:     audit.ActionUserCreate,
		TargetType: "user",
		TargetID:   user.ID,
		Actor:      user.ID,
	}))
}

func mustAuditService(t *testing.T, store *storage.Store) *audit.Service {
	t.Helper()
	svc, err := audit.NewService(store.Audit)
	require.NoError(t, err)
	return svc
}

func auditSequence(t *testing.T, store *storage.Store) int64 {
	t.Helper()
	var seq int64
	require.NoError(t, store.DB().QueryRow(`SELECT seq FROM sqlite_sequence WHERE name = 'audit_logs'`).Scan(&seq))
	return seq
}

func requireProgressCompletes(t *testing.T, events []Progress) {
	t.Helper()
	require.NotEmpty(t, events)
	percents := make([]float64, len(events))
	for i, event := range events {
		percents[i] = event.Percent
	}
	require.IsNonDecreasing(t, percents)
	require.Equal(t, PhaseComplete, events[len(events)-1].Phase)
	require.InDelta(t, 100, events[len(events)-1].Percent, 1e-9)
}

func requireNoStrayFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.NotContains(t, entry.Name(), ".import-")
		require.NotContains(t, entry.Name(), ".pre-import-")
	}
}

func requireNoStagedBackups(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

type teardownHook struct {
	*storage.Manager
	after func()
}

func (h *teardownHook) Teardown(ctx context.Context) error {
	if err := h.Manager.Teardown(ctx); err != nil {
		return err
	}
	h.after()
	return nil
}

func fastParams() crypto.ScryptParams {
	params := crypto.DefaultScryptParams()
	params.N = 1 << 10
	return params
}

type fakeActors map[string]Actor

func (f fakeActors) ResolveActor(_ context.Context, token string) (Actor, error) {
	actor, ok := f[token]
	if !ok {
		return Actor{}, errors.New("unknown session token")
	}
	return actor, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	err    error
	events []audit.Event
}

func (r *fakeRecorder) Record(_ context.Context, event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *fakeRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Action)
	}
	return out
}

type fakeProcess struct {
	relaunchErr error
	relaunches  int
	exits       []int
}

func (p *fakeProcess) Relaunch() error {
	p.relaunches++
	return p.relaunchErr
}

func (p *fakeProcess) Exit(code int) {
	p.exits = append(p.exits, code)
}
