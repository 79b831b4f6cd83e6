package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const (
	defaultDatabaseFile     = "pm.db"
	defaultMaxBackupSizeMB  = 512
	maxBackupSizeCeilingMB  = 4096
	defaultLogLevel         = "info"
	defaultLogMaxSizeMB     = 10
	defaultLogMaxFiles      = 5
	configDirName           = "pmdb"
	darwinApplicationFolder = "pmdb"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Database    DatabaseConfig    `toml:"database" json:"database"`
	Maintenance MaintenanceConfig `toml:"maintenance" json:"maintenance"`
	Process     ProcessConfig     `toml:"process" json:"process"`
	Logging     LoggingConfig     `toml:"logging" json:"logging"`
}

type DatabaseConfig struct {
	Path string `toml:"path" json:"path"`
}

type MaintenanceConfig struct {
	MaxBackupSizeMB int `toml:"max_backup_size_mb" json:"max_backup_size_mb"`
}

// MaxBackupSizeBytes is the import size cap in bytes.
func (m MaintenanceConfig) MaxBackupSizeBytes() int64 {
	return int64(m.MaxBackupSizeMB) << 20
}

type ProcessConfig struct {
	// RelaunchCommand is argv for the process started after an import. Empty
	// means re-run this binary with "db status".
	RelaunchCommand []string `toml:"relaunch_command" json:"relaunch_command"`
}

type LoggingConfig struct {
	Level     string `toml:"level" json:"level"`
	File      string `toml:"file" json:"file"`
	MaxSizeMB int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `toml:"max_files" json:"max_files"`
}

type LoadOptions struct {
	ConfigPath string
	PolicyPath string
	Env        map[string]string
	Flags      FlagOverrides
}

type FlagOverrides struct {
	DatabasePath *string
	LogLevel     *string
}

type LoadReport struct {
	ConfigPath      string
	PolicyOverrides []string
}

func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Path: "",
		},
		Maintenance: MaintenanceConfig{
			MaxBackupSizeMB: defaultMaxBackupSizeMB,
		},
		Process: ProcessConfig{
			RelaunchCommand: nil,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			File:      "",
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

// Load layers defaults, the config file, PMDB_* environment variables,
// command line flags and finally the policy file, which wins over all.
func Load(opts LoadOptions) (Config, LoadReport, error) {
	cfg := DefaultConfig()
	report := LoadReport{PolicyOverrides: []string{}}

	configPath, err := resolveConfigPath(opts)
	if err != nil {
		return Config{}, report, fmt.Errorf("resolve config path: %w", err)
	}
	report.ConfigPath = configPath
	if err := loadAndApplyFile(configPath, &cfg, nil); err != nil {
		return Config{}, report, err
	}

	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, report, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	policyPath, err := resolvePolicyPath(opts)
	if err != nil {
		return Config{}, report, fmt.Errorf("resolve policy path: %w", err)
	}
	if err := loadAndApplyFile(policyPath, &cfg, &report.PolicyOverrides); err != nil {
		return Config{}, report, err
	}

	if cfg.Database.Path == "" {
		home, err := pmdbHome(opts)
		if err != nil {
			return Config{}, report, fmt.Errorf("resolve data directory: %w", err)
		}
		cfg.Database.Path = filepath.Join(home, defaultDatabaseFile)
	}

	if err := validate(cfg); err != nil {
		return Config{}, report, err
	}

	return cfg, report, nil
}

type rawConfig struct {
	Database    *rawDatabase    `toml:"database"`
	Maintenance *rawMaintenance `toml:"maintenance"`
	Process     *rawProcess     `toml:"process"`
	Logging     *rawLogging     `toml:"logging"`
}

type rawDatabase struct {
	Path *string `toml:"path"`
}

type rawMaintenance struct {
	MaxBackupSizeMB *int `toml:"max_backup_size_mb"`
}

type rawProcess struct {
	RelaunchCommand *[]string `toml:"relaunch_command"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

func loadAndApplyFile(path string, cfg *Config, policyOverrides *[]string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := decodeTOML(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}

	applyRawConfig(cfg, raw, policyOverrides)
	return nil
}

func applyRawConfig(cfg *Config, raw rawConfig, policyOverrides *[]string) {
	if raw.Database != nil {
		setString("database.path", raw.Database.Path, &cfg.Database.Path, policyOverrides)
	}

	if raw.Maintenance != nil {
		setInt("maintenance.max_backup_size_mb", raw.Maintenance.MaxBackupSizeMB, &cfg.Maintenance.MaxBackupSizeMB, policyOverrides)
	}

	if raw.Process != nil {
		setStrings("process.relaunch_command", raw.Process.RelaunchCommand, &cfg.Process.RelaunchCommand, policyOverrides)
	}

	if raw.Logging != nil {
		setString("logging.level", raw.Logging.Level, &cfg.Logging.Level, policyOverrides)
		setString("logging.file", raw.Logging.File, &cfg.Logging.File, policyOverrides)
		setInt("logging.max_size_mb", raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB, policyOverrides)
		setInt("logging.max_files", raw.Logging.MaxFiles, &cfg.Logging.MaxFiles, policyOverrides)
	}
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, "PMDB_DB_PATH"); ok {
		cfg.Database.Path = value
	}

	if value, ok := lookupEnv(opts, "PMDB_MAX_BACKUP_SIZE_MB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse PMDB_MAX_BACKUP_SIZE_MB: %v", ErrInvalidConfig, err)
		}
		cfg.Maintenance.MaxBackupSizeMB = parsed
	}

	if value, ok := lookupEnv(opts, "PMDB_RELAUNCH_COMMAND"); ok {
		cfg.Process.RelaunchCommand = strings.Fields(value)
	}

	if value, ok := lookupEnv(opts, "PMDB_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, "PMDB_LOG_FILE"); ok {
		cfg.Logging.File = value
	}
	if value, ok := lookupEnv(opts, "PMDB_LOG_MAX_SIZE_MB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse PMDB_LOG_MAX_SIZE_MB: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxSizeMB = parsed
	}
	if value, ok := lookupEnv(opts, "PMDB_LOG_MAX_FILES"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse PMDB_LOG_MAX_FILES: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxFiles = parsed
	}

	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	if flags.DatabasePath != nil && *flags.DatabasePath != "" {
		cfg.Database.Path = *flags.DatabasePath
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.Logging.Level = *flags.LogLevel
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Database.Path) == "" {
		return fmt.Errorf("%w: database.path must not be empty", ErrInvalidConfig)
	}
	if cfg.Maintenance.MaxBackupSizeMB <= 0 || cfg.Maintenance.MaxBackupSizeMB > maxBackupSizeCeilingMB {
		return fmt.Errorf("%w: maintenance.max_backup_size_mb must be > 0 and <= %d", ErrInvalidConfig, maxBackupSizeCeilingMB)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level must be one of debug, info, warn, error", ErrInvalidConfig)
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("%w: logging.max_size_mb must be > 0", ErrInvalidConfig)
	}
	if cfg.Logging.MaxFiles < 0 {
		return fmt.Errorf("%w: logging.max_files must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func setString(field string, raw *string, target *string, policyOverrides *[]string) {
	if raw == nil {
		return
	}
	if policyOverrides != nil && *target != *raw {
		*policyOverrides = append(*policyOverrides, field)
	}
	*target = *raw
}

func setStrings(field string, raw *[]string, target *[]string, policyOverrides *[]string) {
	if raw == nil {
		return
	}
	if policyOverrides != nil && strings.Join(*target, "\x00") != strings.Join(*raw, "\x00") {
		*policyOverrides = append(*policyOverrides, field)
	}
	*target = append([]string(nil), (*raw)...)
}

func setInt(field string, raw *int, target *int, policyOverrides *[]string) {
	if raw == nil {
		return
	}
	if policyOverrides != nil && *target != *raw {
		*policyOverrides = append(*policyOverrides, field)
	}
	*target = *raw
}

func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := lookupEnv(opts, "PMDB_CONFIG_PATH"); ok {
		return value, nil
	}
	return defaultConfigPath(opts)
}

func resolvePolicyPath(opts LoadOptions) (string, error) {
	if opts.PolicyPath != "" {
		return opts.PolicyPath, nil
	}
	if value, ok := lookupEnv(opts, "PMDB_POLICY_FILE"); ok {
		return value, nil
	}
	home, err := pmdbHome(opts)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "policy.toml"), nil
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

func pmdbHome(opts LoadOptions) (string, error) {
	if value, ok := lookupEnv(opts, "PMDB_HOME"); ok && value != "" {
		return value, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", darwinApplicationFolder), nil
	}

	dataHome := filepath.Join(home, ".local", "share")
	if xdgDataHome, ok := lookupEnv(opts, "XDG_DATA_HOME"); ok && xdgDataHome != "" {
		dataHome = xdgDataHome
	}
	return filepath.Join(dataHome, configDirName), nil
}

func defaultConfigPath(opts LoadOptions) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", darwinApplicationFolder, "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := lookupEnv(opts, "XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, configDirName, "config.toml"), nil
}
