package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/audit"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/config"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/crypto"
	pmlog "github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/log"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/maintenance"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/process"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/session"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

const localOperator = "cli"

var (
	loadConfigFn           = config.Load
	scryptParamsFn         = crypto.DefaultScryptParams
	newProcessControllerFn = func(cfg config.Config, logger *slog.Logger, out, errOut io.Writer) (maintenance.ProcessController, error) {
		return process.New(
			cfg.Process.RelaunchCommand,
			process.WithLogger(logger),
			process.WithOutput(out, errOut),
			process.WithEnv("PMDB_DB_PATH="+cfg.Database.Path),
		)
	}
)

// runtime carries what one command invocation needs: resolved config, the
// logger and the live store manager.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	manager *storage.Manager
	out     io.Writer
	errOut  io.Writer
}

func withRuntime(cmd *cobra.Command, deps commandDeps, fn func(context.Context, *runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if deps.globals.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.globals.Timeout)
		defer cancel()
	}

	loadOpts := config.LoadOptions{
		ConfigPath: strings.TrimSpace(deps.globals.ConfigPath),
		Flags: config.FlagOverrides{
			DatabasePath: &deps.globals.DatabasePath,
			LogLevel:     &deps.globals.LogLevel,
		},
	}
	cfg, report, err := loadConfigFn(loadOpts)
	if err != nil {
		return mapCommandError(fmt.Errorf("load config: %w", err))
	}

	level := cfg.Logging.Level
	if deps.globals.Quiet && cfg.Logging.File == "" && deps.globals.LogLevel == "" {
		level = "error"
	}
	logger, closer, err := pmlog.New(pmlog.Options{
		Level:     level,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	}, cmd.ErrOrStderr())
	if err != nil {
		return mapCommandError(fmt.Errorf("init logging: %w", err))
	}
	defer closer.Close()
	if len(report.PolicyOverrides) > 0 {
		logger.Info("policy overrides applied", "fields", report.PolicyOverrides)
	}

	manager := storage.NewManager(cfg.Database.Path)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		out:     deps.out,
		errOut:  cmd.ErrOrStderr(),
	}
	return mapCommandError(fn(ctx, rt))
}

// withStore runs fn against the live store. Once the live store has been
// torn down by an import, fn gets a short-lived store opened on the file
// that replaced it.
func (rt *runtime) withStore(ctx context.Context, fn func(*storage.Store) error) error {
	store, err := rt.manager.Store(ctx)
	if errors.Is(err, storage.ErrStoreClosed) {
		fresh, openErr := storage.Open(rt.manager.DatabasePath())
		if openErr != nil {
			return openErr
		}
		defer fresh.Close()
		return fn(fresh)
	}
	if err != nil {
		return err
	}
	return fn(store)
}

func (rt *runtime) record(ctx context.Context, event audit.Event) error {
	return rt.withStore(ctx, func(store *storage.Store) error {
		svc, err := audit.NewService(store.Audit)
		if err != nil {
			return err
		}
		return svc.Record(ctx, event)
	})
}

func (rt *runtime) maintenanceService() (*maintenance.Service, error) {
	processCtl, err := newProcessControllerFn(rt.cfg, rt.logger, rt.out, rt.errOut)
	if err != nil {
		return nil, err
	}
	return maintenance.NewService(
		storeActorResolver{rt: rt},
		storeAuditRecorder{rt: rt},
		rt.manager,
		processCtl,
		maintenance.Options{
			MaxBackupSize: rt.cfg.Maintenance.MaxBackupSizeBytes(),
			Scrypt:        scryptParamsFn(),
			Logger:        rt.logger,
		},
	)
}

type storeActorResolver struct {
	rt *runtime
}

func (r storeActorResolver) ResolveActor(ctx context.Context, token string) (maintenance.Actor, error) {
	var actor maintenance.Actor
	err := r.rt.withStore(ctx, func(store *storage.Store) error {
		svc, err := session.NewService(store.Users, store.Sessions)
		if err != nil {
			return err
		}
		actor, err = svc.ResolveActor(ctx, token)
		return err
	})
	return actor, err
}

type storeAuditRecorder struct {
	rt *runtime
}

func (r storeAuditRecorder) Record(ctx context.Context, event audit.Event) error {
	return r.rt.record(ctx, event)
}

func resolveToken(globals *GlobalOptions) (string, error) {
	token := strings.TrimSpace(globals.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("PMDB_TOKEN"))
	}
	if token == "" {
		return "", usageErrorf("a session token is required: pass --token or set PMDB_TOKEN")
	}
	return token, nil
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
