package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToOwnExecutable(t *testing.T) {
	t.Parallel()

	c, err := New(nil)
	require.NoError(t, err)

	executable, err := os.Executable()
	require.NoError(t, err)
	require.Equal(t, append([]string{executable}, DefaultRelaunchArgs...), c.Command())
}

func TestRelaunchStartsConfiguredCommand(t *testing.T) {
	t.Parallel()

	var gotName string
	var gotArgs []string
	c, err := New([]string{"pm-server", "--serve"})
	require.NoError(t, err)
	c.commandFactory = func(name string, args ...string) *exec.Cmd {
		gotName = name
		gotArgs = args
		// The test binary exits at once when no test matches.
		return exec.Command(os.Args[0], "-test.run=^$")
	}

	require.NoError(t, c.Relaunch())
	require.Equal(t, "pm-server", gotName)
	require.Equal(t, []string{"--serve"}, gotArgs)
}

func TestRelaunchReportsStartFailure(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "does-not-exist")
	c, err := New([]string{missing})
	require.NoError(t, err)

	err = c.Relaunch()
	require.Error(t, err)
	require.Contains(t, err.Error(), missing)
}

func TestRelaunchRejectsEmptyCommand(t *testing.T) {
	t.Parallel()

	c, err := New([]string{""})
	require.NoError(t, err)
	require.ErrorIs(t, c.Relaunch(), ErrEmptyCommand)
}

func TestExitUsesInjectedHook(t *testing.T) {
	t.Parallel()

	c, err := New([]string{"pm-server"})
	require.NoError(t, err)
	var codes []int
	c.exit = func(code int) { codes = append(codes, code) }

	c.Exit(0)
	require.Equal(t, []int{0}, codes)
}

func TestRelaunchPassesExtraEnvironment(t *testing.T) {
	t.Parallel()

	var started *exec.Cmd
	c, err := New([]string{"pm-server"}, WithEnv("PMDB_DB_PATH=/srv/pm.db"))
	require.NoError(t, err)
	c.commandFactory = func(string, ...string) *exec.Cmd {
		started = exec.Command(os.Args[0], "-test.run=^$")
		return started
	}

	require.NoError(t, c.Relaunch())
	require.Contains(t, started.Env, "PMDB_DB_PATH=/srv/pm.db")
}
