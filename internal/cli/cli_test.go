package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/audit"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/config"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/crypto"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/maintenance"
)

const testPassword = "correct horse battery staple"

type countingProcess struct {
	relaunches atomic.Int32
	exits      atomic.Int32
}

func (p *countingProcess) Relaunch() error {
	p.relaunches.Add(1)
	return nil
}

func (p *countingProcess) Exit(int) {
	p.exits.Add(1)
}

var testProcess = &countingProcess{}

func TestMain(m *testing.M) {
	scryptParamsFn = func() crypto.ScryptParams {
		return crypto.ScryptParams{N: 1 << 10, R: 8, P: 1, KeyLen: 32}
	}
	newProcessControllerFn = func(config.Config, *slog.Logger, io.Writer, io.Writer) (maintenance.ProcessController, error) {
		return testProcess, nil
	}
	_ = os.Unsetenv("PMDB_TOKEN")
	_ = os.Unsetenv("PMDB_DB_PATH")
	_ = os.Setenv("PMDB_POLICY_FILE", filepath.Join(os.TempDir(), "pmdb-cli-test-no-policy.toml"))
	os.Exit(m.Run())
}

type cliEnv struct {
	t      *testing.T
	dir    string
	dbPath string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	return &cliEnv{t: t, dir: dir, dbPath: filepath.Join(dir, "pm.db")}
}

func (e *cliEnv) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	base := []string{"--db", e.dbPath, "--config", filepath.Join(e.dir, "config.toml")}
	return runCLI(e.t, stdin, append(base, args...)...)
}

func (e *cliEnv) addUser(username string, admin bool) {
	e.t.Helper()
	args := []string{"user", "add", "--username", username}
	if admin {
		args = append(args, "--admin")
	}
	_, err := e.run("", args...)
	require.NoError(e.t, err)
}

func (e *cliEnv) issueToken(username string) string {
	e.t.Helper()
	out, err := e.run("", "--json", "session", "issue", "--username", username)
	require.NoError(e.t, err)
	var issued issuedSession
	require.NoError(e.t, json.Unmarshal([]byte(out), &issued))
	require.True(e.t, strings.HasPrefix(issued.Token, "pmdb_"))
	return issued.Token
}

func (e *cliEnv) export(token, password string) (string, error) {
	e.t.Helper()
	backup := filepath.Join(e.dir, "backup.pmdb")
	_, err := e.run(password+"\n", "--token", token, "--quiet", "db", "export", "--output", backup, "--password-stdin")
	return backup, err
}

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	t.Parallel()

	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	require.Contains(t, out, "version=1.2.3")
	require.Contains(t, out, "commit=abc123")
	require.Contains(t, out, "build_time=2026-02-19T00:00:00Z")
}

func TestVersionCommandOutputsJSON(t *testing.T) {
	t.Parallel()

	out, err := runCLI(t, "", "--json", "version")
	require.NoError(t, err)

	var payload BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, "1.2.3", payload.Version)
	require.Equal(t, "abc123", payload.Commit)
}

func TestRootHasRequiredGlobalFlags(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand(io.Discard, testBuildInfo())
	for _, name := range []string{"json", "quiet", "no-color", "yes", "config", "db", "token", "log-level", "timeout"} {
		require.NotNilf(t, cmd.PersistentFlags().Lookup(name), "missing flag %q", name)
	}
}

func TestRootHasTopLevelCommands(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand(io.Discard, testBuildInfo())
	for _, path := range [][]string{
		{"db", "export"}, {"db", "import"}, {"db", "status"},
		{"user", "add"}, {"user", "list"}, {"user", "grant"},
		{"session", "issue"}, {"session", "revoke"},
		{"audit", "list"}, {"audit", "verify"},
		{"config", "show"},
	} {
		found, _, err := cmd.Find(path)
		require.NoErrorf(t, err, "expected command %v", path)
		require.Equal(t, path[len(path)-1], found.Name())
	}
}

func TestUnknownFlagReturnsUsageError(t *testing.T) {
	t.Parallel()

	_, err := runCLI(t, "", "--vault", "x")
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestExportImportRoundTripRestoresSnapshot(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	env.addUser("ada", true)
	token := env.issueToken("ada")

	backup, err := env.export(token, testPassword)
	require.NoError(t, err)
	info, err := os.Stat(backup)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Created after the backup, so the import must drop it.
	env.addUser("grace", false)

	out, err := env.run(testPassword+"\n", "--token", token, "--yes", "db", "import", "--from", backup, "--password-stdin")
	require.NoError(t, err)
	require.Contains(t, out, "Database restored from")
	require.Contains(t, out, "Restart pending")

	out, err = env.run("", "--json", "user", "list")
	require.NoError(t, err)
	var users []userView
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, 1)
	require.Equal(t, "ada", users[0].Username)
	require.Equal(t, []string{"admin"}, users[0].Roles)

	out, err = env.run("", "--json", "audit", "list")
	require.NoError(t, err)
	var events []audit.RecordedEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	actions := make([]string, 0, len(events))
	for _, event := range events {
		actions = append(actions, event.Action)
	}
	// The export event is written after the snapshot is taken, so the
	// restored log ends with the import recorded on top of it.
	require.Contains(t, actions, audit.ActionSessionIssue)
	require.NotContains(t, actions, audit.ActionDatabaseExport)
	require.Equal(t, audit.ActionDatabaseImport, actions[len(actions)-1])

	out, err = env.run("", "audit", "verify")
	require.NoError(t, err)
	require.Contains(t, out, "audit chain ok")
}

func TestImportWithRestartRelaunches(t *testing.T) {
	env := newCLIEnv(t)
	env.addUser("ada", true)
	token := env.issueToken("ada")
	backup, err := env.export(token, testPassword)
	require.NoError(t, err)

	before := testProcess.relaunches.Load()
	out, err := env.run(testPassword+"\n", "--token", token, "--json", "--yes", "db", "import", "--from", backup, "--password-stdin", "--restart")
	require.NoError(t, err)

	var result importResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.True(t, result.RestartPending)
	require.Equal(t, before+1, testProcess.relaunches.Load())

	out, err = env.run("", "--json", "audit", "list", "--action", audit.ActionDatabaseRestart)
	require.NoError(t, err)
	var events []audit.RecordedEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
}

func TestDBStatusReportsSummary(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	env.addUser("ada", true)

	out, err := env.run("", "--json", "db", "status")
	require.NoError(t, err)
	var status statusResult
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Equal(t, env.dbPath, status.Path)
	require.Positive(t, status.SizeBytes)
	require.NotEmpty(t, status.EngineVersion)

	rows := map[string]int64{}
	for _, table := range status.Tables {
		rows[table.Name] = table.Rows
	}
	require.Equal(t, int64(1), rows["users"])

	out, err = env.run("", "--no-color", "db", "status")
	require.NoError(t, err)
	require.Contains(t, out, "database: "+env.dbPath)
	require.Contains(t, out, "1 rows")
}

func TestCommandExitCodes(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	env.addUser("ada", true)
	env.addUser("bob", false)
	adminToken := env.issueToken("ada")
	memberToken := env.issueToken("bob")
	backup, err := env.export(adminToken, testPassword)
	require.NoError(t, err)

	tests := []struct {
		name  string
		stdin string
		args  []string
		code  int
	}{
		{
			name:  "wrong password",
			stdin: "not the right password\n",
			args:  []string{"--token", adminToken, "--yes", "db", "import", "--from", backup, "--password-stdin"},
			code:  ExitCodeAuthFailed,
		},
		{
			name:  "member cannot export",
			stdin: testPassword + "\n",
			args:  []string{"--token", memberToken, "db", "export", "--output", filepath.Join(env.dir, "member.pmdb"), "--password-stdin"},
			code:  ExitCodePermission,
		},
		{
			name:  "missing backup",
			stdin: testPassword + "\n",
			args:  []string{"--token", adminToken, "--yes", "db", "import", "--from", filepath.Join(env.dir, "absent.pmdb"), "--password-stdin"},
			code:  ExitCodeNotFound,
		},
		{
			name:  "short password",
			stdin: "short\n",
			args:  []string{"--token", adminToken, "db", "export", "--output", filepath.Join(env.dir, "short.pmdb"), "--password-stdin"},
			code:  ExitCodeUsage,
		},
		{
			name:  "unknown token",
			stdin: testPassword + "\n",
			args:  []string{"--token", "pmdb_unknown", "db", "export", "--output", filepath.Join(env.dir, "unknown.pmdb"), "--password-stdin"},
			code:  ExitCodeAuthFailed,
		},
		{
			name:  "token required",
			stdin: testPassword + "\n",
			args:  []string{"db", "export", "--output", filepath.Join(env.dir, "anon.pmdb"), "--password-stdin"},
			code:  ExitCodeUsage,
		},
		{
			name:  "output required",
			args:  []string{"--token", adminToken, "db", "export"},
			code:  ExitCodeUsage,
		},
		{
			name:  "import needs confirmation without a terminal",
			stdin: testPassword + "\n",
			args:  []string{"--token", adminToken, "db", "import", "--from", backup, "--password-stdin"},
			code:  ExitCodeUsage,
		},
		{
			name: "password needs a terminal or stdin",
			args: []string{"--token", adminToken, "db", "export", "--output", filepath.Join(env.dir, "tty.pmdb")},
			code: ExitCodeUsage,
		},
		{
			name: "duplicate user",
			args: []string{"user", "add", "--username", "ada"},
			code: ExitCodeUsage,
		},
		{
			name: "grant to unknown user",
			args: []string{"user", "grant", "nobody", "--role", "admin"},
			code: ExitCodeNotFound,
		},
	}

	for _, tc := range tests {
		_, err := env.run(tc.stdin, tc.args...)
		require.Errorf(t, err, tc.name)
		require.Equalf(t, tc.code, exitCode(err), "%s: %v", tc.name, err)
	}

	for _, name := range []string{"member.pmdb", "short.pmdb", "unknown.pmdb", "anon.pmdb"} {
		_, err := os.Stat(filepath.Join(env.dir, name))
		require.Truef(t, errors.Is(err, os.ErrNotExist), "%s should not exist", name)
	}
}

func TestSessionRevokeInvalidatesToken(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	env.addUser("ada", true)
	token := env.issueToken("ada")

	out, err := env.run("", "--token", token, "session", "revoke")
	require.NoError(t, err)
	require.Contains(t, out, "Revoked session")

	_, err = env.export(token, testPassword)
	require.Error(t, err)
	require.Equal(t, ExitCodeAuthFailed, exitCode(err))
}

func TestUserGrantAddsRole(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	env.addUser("bob", false)
	token := env.issueToken("bob")

	_, err := env.run("", "user", "grant", "bob", "--role", "admin")
	require.NoError(t, err)

	_, err = env.export(token, testPassword)
	require.NoError(t, err)
}

func TestConfigShowPrintsEffectiveConfig(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "config.toml"), []byte("[maintenance]\nmax_backup_size_mb = 64\n"), 0o600))

	out, err := env.run("", "config", "show")
	require.NoError(t, err)
	require.Contains(t, out, "max_backup_size_mb = 64")
	require.Contains(t, out, env.dbPath)

	out, err = env.run("", "--json", "config", "show")
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	require.Equal(t, 64, cfg.Maintenance.MaxBackupSizeMB)
	require.Equal(t, env.dbPath, cfg.Database.Path)
}

func TestInvalidConfigIsUsageError(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "config.toml"), []byte("[database]\nbogus = 1\n"), 0o600))

	_, err := env.run("", "db", "status")
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestProgressPrinterRendersEvents(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printer := newProgressPrinter(&buf, &GlobalOptions{NoColor: true})
	sink := printer.sink()
	require.NotNil(t, sink)

	sink(maintenance.Progress{
		Operation: maintenance.OperationExport,
		Phase:     maintenance.PhaseCollect,
		Percent:   50,
		Detail:    "tasks",
		Counts:    &maintenance.Counts{Processed: 3, Total: 6},
	})
	line := buf.String()
	require.Contains(t, line, strings.Repeat("█", progressBarWidth/2))
	require.Contains(t, line, "50.00%")
	require.Contains(t, line, "collect tasks (3/6)")

	require.Nil(t, newProgressPrinter(&buf, &GlobalOptions{Quiet: true}).sink())
	require.Nil(t, newProgressPrinter(&buf, &GlobalOptions{JSON: true}).sink())
}

func TestReadPasswordFromStdinTakesFirstLine(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand(io.Discard, testBuildInfo())
	cmd.SetIn(strings.NewReader("first line secret\r\nsecond\n"))
	password, err := readPassword(cmd, true, "Backup password", false)
	require.NoError(t, err)
	require.Equal(t, "first line secret", password)

	cmd.SetIn(strings.NewReader(""))
	_, err = readPassword(cmd, true, "Backup password", false)
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestValidatePasswordLength(t *testing.T) {
	t.Parallel()

	require.Error(t, validatePasswordLength("  short  "))
	require.NoError(t, validatePasswordLength(testPassword))
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   "1.2.3",
		Commit:    "abc123",
		BuildTime: "2026-02-19T00:00:00Z",
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return withExit.ExitCode()
	}
	return -1
}
