package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the engine supervisor's own settings, distinct from a
// per-sandbox policy.Policy. It is loaded from <state-dir>/hopsd.toml (or
// an explicit path), mirroring the teacher's layered config.Config but
// trimmed to the handful of sections D actually owns: state directory
// layout, the guest kernel/initfs paths, and logging/metrics.
type Config struct {
	StateDir string `toml:"state_dir"`

	Kernel KernelConfig `toml:"kernel"`
	Log    LogConfig    `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	// MaxConcurrentBoots bounds simultaneous guest machine boots; 0
	// means unbounded.
	MaxConcurrentBoots int `toml:"max_concurrent_boots"`

	ShutdownGracePeriod time.Duration `toml:"-"`
	ShutdownGraceSeconds float64 `toml:"shutdown_grace_seconds"`
}

// KernelConfig names the guest boot images (§6 state directory layout).
type KernelConfig struct {
	// Path is the guest kernel image; empty resolves to
	// <state-dir>/vmlinux.
	Path string `toml:"path"`
	// InitfsPath is the shared init filesystem image; empty resolves to
	// <state-dir>/initfs.
	InitfsPath string `toml:"initfs_path"`
}

// LogConfig mirrors the teacher's LogConfig, consumed by pkg/hopslog.
type LogConfig struct {
	Level string `toml:"level"`
	Format string `toml:"format"`
	// ToFile controls whether hopsd.log under <state-dir>/logs/ is
	// written in addition to stderr.
	ToFile bool `toml:"to_file"`
}

// MetricsConfig controls the /metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

// Default returns a Config with the documented defaults. stateDir must
// already be resolved (see ResolveStateDir).
func Default(stateDir string) *Config {
	return &Config{
		StateDir: stateDir,
		Kernel: KernelConfig{
			Path:       filepath.Join(stateDir, "vmlinux"),
			InitfsPath: filepath.Join(stateDir, "initfs"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			ToFile: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "127.0.0.1:9090",
		},
		MaxConcurrentBoots:   4,
		ShutdownGracePeriod:  2 * time.Second,
		ShutdownGraceSeconds: 2,
	}
}

// LoadFromFile loads a Config from a TOML document at path, layering it
// over Default(stateDir), then over that a HOPS_-prefixed environment
// override pass, matching the teacher's layered defaults/file/env/load
// order in config.go (TOML file, then loadEnvString/loadEnvBool/...
// applying FC_CRI_-prefixed overrides on top). A missing file is not an
// error: Default is returned unchanged, matching the teacher's
// LoadFromFile convention. The result is validated before being
// returned.
func LoadFromFile(path, stateDir string) (*Config, error) {
	cfg := Default(stateDir)

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("statting config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.Kernel.Path == "" {
		cfg.Kernel.Path = filepath.Join(stateDir, "vmlinux")
	}
	if cfg.Kernel.InitfsPath == "" {
		cfg.Kernel.InitfsPath = filepath.Join(stateDir, "initfs")
	}
	if cfg.ShutdownGraceSeconds > 0 {
		cfg.ShutdownGracePeriod = time.Duration(cfg.ShutdownGraceSeconds * float64(time.Second))
	} else {
		cfg.ShutdownGracePeriod = 2 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides layers HOPS_-prefixed environment variables over cfg,
// mirroring the teacher's loadEnvString/loadEnvBool/loadEnvInt64 helpers
// and FC_CRI_-prefixed keys in pkg/config/config.go, one call per field.
func applyEnvOverrides(cfg *Config) {
	loadEnvString(&cfg.StateDir, "HOPS_STATE_DIR")
	loadEnvString(&cfg.Kernel.Path, "HOPS_KERNEL_PATH")
	loadEnvString(&cfg.Kernel.InitfsPath, "HOPS_INITFS_PATH")
	loadEnvString(&cfg.Log.Level, "HOPS_LOG_LEVEL")
	loadEnvString(&cfg.Log.Format, "HOPS_LOG_FORMAT")
	loadEnvBool(&cfg.Log.ToFile, "HOPS_LOG_TO_FILE")
	loadEnvBool(&cfg.Metrics.Enabled, "HOPS_METRICS_ENABLED")
	loadEnvString(&cfg.Metrics.Address, "HOPS_METRICS_ADDRESS")
	loadEnvInt(&cfg.MaxConcurrentBoots, "HOPS_MAX_CONCURRENT_BOOTS")
	loadEnvFloat(&cfg.ShutdownGraceSeconds, "HOPS_SHUTDOWN_GRACE_SECONDS")
}

func loadEnvString(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

func loadEnvBool(target *bool, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val == "true" || val == "1" || val == "yes"
	}
}

func loadEnvInt(target *int, key string) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*target = i
		}
	}
}

func loadEnvFloat(target *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*target = f
		}
	}
}

// Validate checks Config against the bounds and enums the teacher's own
// Config.Validate enforces (valid log level/format sets, non-negative
// numeric settings), adapted to the fields D actually owns.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address must be set when metrics.enabled is true")
	}

	if c.MaxConcurrentBoots < 0 {
		return fmt.Errorf("max_concurrent_boots (%d) must be >= 0", c.MaxConcurrentBoots)
	}

	if c.ShutdownGraceSeconds < 0 {
		return fmt.Errorf("shutdown_grace_seconds (%v) must be >= 0", c.ShutdownGraceSeconds)
	}

	return nil
}

// ResolveStateDir returns the explicit override if set, else
// <HOME>/.hops, matching §6.
func ResolveStateDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".hops"), nil
}
