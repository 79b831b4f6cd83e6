package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"tasks":          `"tasks"`,
		"select":         `"select"`,
		`we"ird`:         `"we""ird"`,
		`"`:              `""""`,
		"with space":     `"with space"`,
		"":               `""`,
		`a"; DROP x; --`: `"a""; DROP x; --"`,
	}
	for in, want := range cases {
		require.Equal(t, want, QuoteIdent(in), in)
	}
}

func TestQuoteIdentRoundTripsThroughEngine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, err := OpenHandle(ctx, filepath.Join(t.TempDir(), "q.db"), HandleOptions{Create: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, h.Close()) }()

	name := `odd "table" name`
	column := `col"umn`
	_, err = h.Conn().ExecContext(ctx, `CREATE TABLE `+QuoteIdent(name)+` (`+QuoteIdent(column)+` TEXT)`)
	require.NoError(t, err)
	_, err = h.Conn().ExecContext(ctx, `INSERT INTO `+QuoteIdent(name)+` (`+QuoteIdent(column)+`) VALUES (?)`, "v")
	require.NoError(t, err)

	var got string
	require.NoError(t, h.Conn().QueryRowContext(ctx, `SELECT `+QuoteIdent(column)+` FROM `+QuoteIdent(name)).Scan(&got))
	require.Equal(t, "v", got)
}

func TestOpenHandleCreateRefusesExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "exists.db")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := OpenHandle(context.Background(), path, HandleOptions{Create: true})
	require.ErrorIs(t, err, ErrConflict)
}

func TestOpenHandleMissingSourceIsNotFound(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing.db")
	_, err := OpenHandle(context.Background(), path, HandleOptions{ReadOnly: true})
	require.ErrorIs(t, err, ErrNotFound)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr), "opening a missing source must not create it")
}

func TestOpenHandleReadOnlyRejectsWrites(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	h, err := OpenHandle(ctx, store.Path(), HandleOptions{ReadOnly: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, h.Close()) }()

	_, err = h.Conn().ExecContext(ctx, `CREATE TABLE should_fail (id INTEGER)`)
	require.Error(t, err)

	version, err := h.EngineVersion(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, version)
}

func TestOpenHandleForeignKeysFollowOptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	off, err := OpenHandle(ctx, filepath.Join(dir, "off.db"), HandleOptions{Create: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, off.Close()) }()
	require.Equal(t, 0, foreignKeysState(t, off))

	require.NoError(t, off.SetForeignKeys(ctx, true))
	require.Equal(t, 1, foreignKeysState(t, off))
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	h, err := OpenHandle(context.Background(), filepath.Join(t.TempDir(), "c.db"), HandleOptions{Create: true})
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func TestManagerTeardownBlocksReopen(t *testing.T) {
	t.Parallel()

	path := rawDBPath(t)
	manager := NewManager(path)
	ctx := context.Background()
	require.Equal(t, path, manager.DatabasePath())

	first, err := manager.Store(ctx)
	require.NoError(t, err)
	second, err := manager.Store(ctx)
	require.NoError(t, err)
	require.Same(t, first, second)

	require.NoError(t, manager.Teardown(ctx))
	_, err = manager.Store(ctx)
	require.ErrorIs(t, err, ErrStoreClosed)
	require.NoError(t, manager.Teardown(ctx))

	_, err = first.Projects.List(ctx)
	require.Error(t, err)
}

func foreignKeysState(t *testing.T, h *Handle) int {
	t.Helper()
	var state int
	require.NoError(t, h.Conn().QueryRowContext(context.Background(), `PRAGMA foreign_keys`).Scan(&state))
	return state
}
