package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type GlobalOptions struct {
	JSON         bool
	Quiet        bool
	NoColor      bool
	Yes          bool
	ConfigPath   string
	DatabasePath string
	Token        string
	LogLevel     string
	Timeout      time.Duration
}

type commandDeps struct {
	globals *GlobalOptions
	build   BuildInfo
	out     io.Writer
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &GlobalOptions{}
	cmd := &cobra.Command{
		Use:           "pmdb",
		Short:         "Encrypted backup and restore for the project manager database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVar(&globals.JSON, "json", false, "Print machine readable JSON")
	flags.BoolVar(&globals.Quiet, "quiet", false, "Suppress progress and informational output")
	flags.BoolVar(&globals.NoColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&globals.Yes, "yes", false, "Assume yes for confirmation prompts")
	flags.StringVar(&globals.ConfigPath, "config", "", "Config file path (default $XDG_CONFIG_HOME/pmdb/config.toml)")
	flags.StringVar(&globals.DatabasePath, "db", "", "Database file path (overrides config)")
	flags.StringVar(&globals.Token, "token", "", "Session token (default $PMDB_TOKEN)")
	flags.StringVar(&globals.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.DurationVar(&globals.Timeout, "timeout", 0, "Abort the command after this long (0 disables)")

	deps := commandDeps{globals: globals, build: build, out: out}
	cmd.AddCommand(
		newVersionCommand(deps),
		newDBCommand(deps),
		newUserCommand(deps),
		newSessionCommand(deps),
		newAuditCommand(deps),
		newConfigCommand(deps),
	)
	cmd.InitDefaultCompletionCmd()
	return cmd
}
