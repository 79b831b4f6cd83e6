package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/audit"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/session"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

type issuedSession struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionDetails struct {
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func newSessionCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Issue and revoke session tokens",
	}
	cmd.AddCommand(
		newSessionIssueCommand(deps),
		newSessionRevokeCommand(deps),
	)
	return cmd
}

func newSessionIssueCommand(deps commandDeps) *cobra.Command {
	var (
		username string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a session token for a user",
		Example: "  export PMDB_TOKEN=$(pmdb session issue --username ada)\n" +
			"  pmdb --json session issue --username ada --ttl 1h",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("session issue does not accept positional arguments")
			}
			username = strings.TrimSpace(username)
			if username == "" {
				return usageErrorf("--username is required")
			}
			return withRuntime(cmd, deps, func(ctx context.Context, rt *runtime) error {
				var (
					token   string
					created *storage.Session
				)
				err := rt.withStore(ctx, func(store *storage.Store) error {
					user, err := store.Users.GetByUsername(ctx, username)
					if err != nil {
						return err
					}
					svc, err := session.NewService(store.Users, store.Sessions)
					if err != nil {
						return err
					}
					token, created, err = svc.Issue(ctx, user.ID, ttl)
					return err
				})
				if err != nil {
					return err
				}
				if err := rt.record(ctx, audit.Event{
					Action:     audit.ActionSessionIssue,
					TargetType: "user",
					TargetID:   created.UserID,
					Actor:      localOperator,
					Details:    sessionDetails{SessionID: created.ID, ExpiresAt: created.ExpiresAt.UTC().Format(time.RFC3339)},
				}); err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, issuedSession{
						Token:     token,
						SessionID: created.ID,
						UserID:    created.UserID,
						ExpiresAt: created.ExpiresAt,
					})
				}
				_, err = fmt.Fprintln(deps.out, token)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "User the session belongs to")
	cmd.Flags().DurationVar(&ttl, "ttl", session.DefaultTTL, "Session lifetime")
	return cmd
}

func newSessionRevokeCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "revoke",
		Short:   "Revoke the session identified by --token or PMDB_TOKEN",
		Example: "  pmdb session revoke --token \"$PMDB_TOKEN\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("session revoke does not accept positional arguments")
			}
			token, err := resolveToken(deps.globals)
			if err != nil {
				return err
			}
			return withRuntime(cmd, deps, func(ctx context.Context, rt *runtime) error {
				var revoked *storage.Session
				err := rt.withStore(ctx, func(store *storage.Store) error {
					svc, err := session.NewService(store.Users, store.Sessions)
					if err != nil {
						return err
					}
					revoked, err = svc.Revoke(ctx, token)
					return err
				})
				if err != nil {
					return err
				}
				if err := rt.record(ctx, audit.Event{
					Action:     audit.ActionSessionRevoke,
					TargetType: "user",
					TargetID:   revoked.UserID,
					Actor:      revoked.UserID,
					Details:    sessionDetails{SessionID: revoked.ID},
				}); err != nil {
					return err
				}
				if deps.globals.Quiet || deps.globals.JSON {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "Revoked session %s\n", revoked.ID)
				return err
			})
		},
	}
}
