package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/config"
)

func newConfigCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after file, env, flag and policy overrides",
		Example: "  pmdb config show\n" +
			"  pmdb --json config show",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("config show does not accept positional arguments")
			}
			return withRuntime(cmd, deps, func(_ context.Context, rt *runtime) error {
				if deps.globals.JSON {
					return printJSON(deps.out, rt.cfg)
				}
				data, err := config.Encode(rt.cfg)
				if err != nil {
					return err
				}
				_, err = deps.out.Write(data)
				return err
			})
		},
	})
	return cmd
}
