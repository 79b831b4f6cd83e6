package session

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

func TestIssueAndResolveActor(t *testing.T) {
	t.Parallel()

	store := newSessionTestStore(t)
	ctx := context.Background()
	user := &storage.User{Username: "ada", Roles: []string{storage.RoleAdmin, "member"}}
	require.NoError(t, store.Users.Create(ctx, user))

	svc, err := NewService(store.Users, store.Sessions)
	require.NoError(t, err)

	token, session, err := svc.Issue(ctx, user.ID, time.Hour)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(token, "pmdb_"))
	require.Equal(t, user.ID, session.UserID)
	require.WithinDuration(t, session.CreatedAt.Add(time.Hour), session.ExpiresAt, time.Second)

	actor, err := svc.ResolveActor(ctx, token)
	require.NoError(t, err)
	require.Equal(t, user.ID, actor.UserID)
	require.True(t, actor.IsAdmin())
	require.ElementsMatch(t, []string{storage.RoleAdmin, "member"}, actor.Roles)
}

func TestResolveActorRejectsBadTokens(t *testing.T) {
	t.Parallel()

	store := newSessionTestStore(t)
	ctx := context.Background()
	user := &storage.User{Username: "grace"}
	require.NoError(t, store.Users.Create(ctx, user))
	svc, err := NewService(store.Users, store.Sessions)
	require.NoError(t, err)

	_, err = svc.ResolveActor(ctx, "")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.ResolveActor(ctx, "pmdb_unknown")
	require.ErrorIs(t, err, ErrInvalidToken)

	token, _, err := svc.Issue(ctx, user.ID, time.Minute)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.ResolveActor(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeInvalidatesToken(t *testing.T) {
	t.Parallel()

	store := newSessionTestStore(t)
	ctx := context.Background()
	user := &storage.User{Username: "linus"}
	require.NoError(t, store.Users.Create(ctx, user))
	svc, err := NewService(store.Users, store.Sessions)
	require.NoError(t, err)

	token, issued, err := svc.Issue(ctx, user.ID, 0)
	require.NoError(t, err)
	require.WithinDuration(t, issued.CreatedAt.Add(DefaultTTL), issued.ExpiresAt, time.Second)

	revoked, err := svc.Revoke(ctx, token)
	require.NoError(t, err)
	require.Equal(t, issued.ID, revoked.ID)

	actor, err := svc.ResolveActor(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.False(t, actor.IsAdmin())

	_, err = svc.Revoke(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueValidatesInput(t *testing.T) {
	t.Parallel()

	store := newSessionTestStore(t)
	svc, err := NewService(store.Users, store.Sessions)
	require.NoError(t, err)

	_, _, err = svc.Issue(context.Background(), "missing-user", time.Hour)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, _, err = svc.Issue(context.Background(), "missing-user", MaxTTL+time.Hour)
	require.ErrorIs(t, err, ErrInvalidTTL)

	_, err = NewService(nil, store.Sessions)
	require.Error(t, err)
}

func newSessionTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "pm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
