package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/audit"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

func newAuditCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the hash-chained audit log",
	}
	cmd.AddCommand(
		newAuditListCommand(deps),
		newAuditVerifyCommand(deps),
	)
	return cmd
}

func newAuditListCommand(deps commandDeps) *cobra.Command {
	var (
		limit  int
		action string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit events",
		Example: "  pmdb audit list --limit 20\n" +
			"  pmdb --json audit list --action " + audit.ActionDatabaseImport,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("audit list does not accept positional arguments")
			}
			if limit < 0 {
				return usageErrorf("--limit must not be negative")
			}
			return withRuntime(cmd, deps, func(ctx context.Context, rt *runtime) error {
				var events []audit.RecordedEvent
				err := rt.withStore(ctx, func(store *storage.Store) error {
					svc, err := audit.NewService(store.Audit)
					if err != nil {
						return err
					}
					events, err = svc.List(ctx, audit.Filter{Action: strings.TrimSpace(action), Limit: limit})
					return err
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, events)
				}
				for _, event := range events {
					if _, err := fmt.Fprintf(
						deps.out,
						"%s\t%s\t%s\t%s\t%s\n",
						event.Timestamp.UTC().Format(time.RFC3339),
						event.Action,
						event.Result,
						event.Actor,
						event.TargetID,
					); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	cmd.Flags().StringVar(&action, "action", "", "Only show events with this action")
	return cmd
}

func newAuditVerifyCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "verify",
		Short:   "Recompute the audit hash chain",
		Example: "  pmdb audit verify",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("audit verify does not accept positional arguments")
			}
			return withRuntime(cmd, deps, func(ctx context.Context, rt *runtime) error {
				var result *audit.VerifyResult
				err := rt.withStore(ctx, func(store *storage.Store) error {
					svc, err := audit.NewService(store.Audit)
					if err != nil {
						return err
					}
					result, err = svc.Verify(ctx)
					return err
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					if err := printJSON(deps.out, result); err != nil {
						return err
					}
				} else if !deps.globals.Quiet {
					status := "ok"
					if !result.Valid {
						status = "invalid: " + result.Error
					}
					if _, err := fmt.Fprintf(deps.out, "audit chain %s (%d events)\n", status, result.EventCount); err != nil {
						return err
					}
				}
				if !result.Valid {
					return &ExitError{Code: ExitCodeGeneric, Err: fmt.Errorf("audit chain verification failed: %s", result.Error)}
				}
				return nil
			})
		},
	}
}
