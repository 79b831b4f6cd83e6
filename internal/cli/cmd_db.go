package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

func newDBCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Export, import and inspect the project database",
	}
	cmd.AddCommand(
		newDBExportCommand(deps),
		newDBImportCommand(deps),
		newDBStatusCommand(deps),
	)
	return cmd
}

type exportResult struct {
	Destination string `json:"destination"`
}

func newDBExportCommand(deps commandDeps) *cobra.Command {
	var (
		output        string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an encrypted backup of the database",
		Example: "  pmdb db export --output ./pm-backup.pmdb\n" +
			"  printf '%s\\n' \"$BACKUP_PASSWORD\" | pmdb db export --output ./pm-backup.pmdb --password-stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("db export does not accept positional arguments")
			}
			if strings.TrimSpace(output) == "" {
				return usageErrorf("--output is required")
			}
			token, err := resolveToken(deps.globals)
			if err != nil {
				return err
			}
			password, err := readPassword(cmd, passwordStdin, "Backup password", true)
			if err != nil {
				return mapCommandError(err)
			}
			destination, err := filepath.Abs(output)
			if err != nil {
				return mapCommandError(err)
			}

			return withRuntime(cmd, deps, func(ctx context.Context, rt *runtime) error {
				svc, err := rt.maintenanceService()
				if err != nil {
					return err
				}
				progress := newProgressPrinter(cmd.ErrOrStderr(), deps.globals)
				if err := svc.ExportEncryptedDatabase(ctx, token, password, destination, progress.sink()); err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, exportResult{Destination: destination})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "Backup written to %s\n", destination)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Backup file to write")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the backup password from the first line of stdin")
	return cmd
}

type importResult struct {
	Source         string `json:"source"`
	RestartPending bool   `json:"restart_pending"`
}

func newDBImportCommand(deps commandDeps) *cobra.Command {
	var (
		from          string
		passwordStdin bool
		restart       bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the database with an encrypted backup",
		Long: "Decrypts the backup, rebuilds it into a fresh database file and swaps it in for the live one.\n" +
			"The current database is replaced; pass --restart to relaunch once the swap is done.",
		Example: "  pmdb db import --from ./pm-backup.pmdb\n" +
			"  pmdb --yes db import --from ./pm-backup.pmdb --password-stdin --restart",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("db import does not accept positional arguments")
			}
			if strings.TrimSpace(from) == "" {
				return usageErrorf("--from is required")
			}
			token, err := resolveToken(deps.globals)
			if err != nil {
				return err
			}
			source, err := filepath.Abs(from)
			if err != nil {
				return mapCommandError(err)
			}
			password, err := readPassword(cmd, passwordStdin, "Backup password", false)
			if err != nil {
				return mapCommandError(err)
			}
			if err := confirmAction(cmd, deps.globals, "Replace the current database with "+filepath.Base(source)+"?"); err != nil {
				return err
			}

			return withRuntime(cmd, deps, func(ctx context.Context, rt *runtime) error {
				svc, err := rt.maintenanceService()
				if err != nil {
					return err
				}
				progress := newProgressPrinter(cmd.ErrOrStderr(), deps.globals)
				if err := svc.ImportEncryptedDatabase(ctx, token, password, source, progress.sink()); err != nil {
					return err
				}

				result := importResult{Source: source, RestartPending: svc.HasPendingRestart()}
				switch {
				case deps.globals.JSON:
					if err := printJSON(deps.out, result); err != nil {
						return err
					}
				case !deps.globals.Quiet:
					if _, err := fmt.Fprintf(deps.out, "Database restored from %s\n", source); err != nil {
						return err
					}
					if !restart {
						if _, err := fmt.Fprintln(deps.out, "Restart pending: relaunch the application to use the restored data."); err != nil {
							return err
						}
					}
				}
				if !restart {
					return nil
				}
				return svc.RestartApplication(ctx, token)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Backup file to restore")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the backup password from the first line of stdin")
	cmd.Flags().BoolVar(&restart, "restart", false, "Relaunch the application after a successful import")
	return cmd
}

type statusTable struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

type statusResult struct {
	Path          string        `json:"path"`
	SizeBytes     int64         `json:"size_bytes"`
	SchemaVersion int           `json:"schema_version"`
	EngineVersion string        `json:"engine_version"`
	Tables        []statusTable `json:"tables"`
}

func newDBStatusCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the database location, schema version and row counts",
		Example: "  pmdb db status\n" +
			"  pmdb --json db status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("db status does not accept positional arguments")
			}
			return withRuntime(cmd, deps, func(ctx context.Context, rt *runtime) error {
				var summary *storage.Summary
				err := rt.withStore(ctx, func(store *storage.Store) error {
					var err error
					summary, err = store.Summary(ctx)
					return err
				})
				if err != nil {
					return err
				}
				result := newStatusResult(summary)
				if deps.globals.JSON {
					return printJSON(deps.out, result)
				}
				return renderStatus(deps, result)
			})
		},
	}
}

func newStatusResult(summary *storage.Summary) statusResult {
	result := statusResult{
		Path:          summary.Path,
		SizeBytes:     summary.SizeBytes,
		SchemaVersion: summary.SchemaVersion,
		EngineVersion: summary.EngineVersion,
		Tables:        make([]statusTable, 0, len(summary.TableRows)),
	}
	for name, rows := range summary.TableRows {
		result.Tables = append(result.Tables, statusTable{Name: name, Rows: rows})
	}
	slices.SortFunc(result.Tables, func(a, b statusTable) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result
}

func renderStatus(deps commandDeps, result statusResult) error {
	st := newStyles(deps.out, deps.globals.NoColor)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", st.label.Render("database:"), result.Path)
	fmt.Fprintf(&b, "%s %d bytes\n", st.label.Render("size:"), result.SizeBytes)
	fmt.Fprintf(&b, "%s %d\n", st.label.Render("schema:"), result.SchemaVersion)
	fmt.Fprintf(&b, "%s %s\n", st.label.Render("sqlite:"), result.EngineVersion)
	for _, table := range result.Tables {
		fmt.Fprintf(&b, "  %-12s %s\n", table.Name, st.muted.Render(fmt.Sprintf("%d rows", table.Rows)))
	}
	_, err := fmt.Fprint(deps.out, b.String())
	return err
}
