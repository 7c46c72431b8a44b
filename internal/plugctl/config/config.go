package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/version"
	"github.com/urfave/cli/v2"
)

// Config holds runtime settings for plugin transactions.
type Config struct {
	Verbose     bool
	Quiet       bool
	DryRun      bool
	JSON        bool
	PluginDir   string
	Workers     int
	LockTimeout time.Duration
	// ConfigPath is the file the settings were read from. Empty when none was found.
	ConfigPath string

	Cache     CacheConfig     `toml:"cache"`
	Registry  RegistryConfig  `toml:"registry"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Changelog ChangelogConfig `toml:"changelog"`
	Host      HostConfig      `toml:"host"`
}

// CacheConfig maps the [cache] section.
type CacheConfig struct {
	MaxSizeMB         int64 `toml:"max_size_mb"`
	RetentionVersions int   `toml:"retention_versions"`
	RollbackFloor     int   `toml:"rollback_floor"`
}

// MaxSizeBytes converts the configured cap to bytes.
func (c CacheConfig) MaxSizeBytes() int64 {
	return c.MaxSizeMB * helpers.MiB
}

// RegistryConfig maps the [registry] section.
type RegistryConfig struct {
	BackupOnWrite   bool `toml:"backup_on_write"`
	ValidateOnWrite bool `toml:"validate_on_write"`
	MaxBackups      int  `toml:"max_backups"`
}

// LifecycleConfig maps the [lifecycle] section.
type LifecycleConfig struct {
	Timeout time.Duration `toml:"timeout"`
}

// ChangelogConfig maps the [changelog] section.
type ChangelogConfig struct {
	Timeout time.Duration `toml:"timeout"`
	TTL     time.Duration `toml:"ttl"`
}

// HostConfig maps the [host] section.
type HostConfig struct {
	Version string `toml:"version"`
}

// Default returns the built-in settings for pluginDir.
func Default(pluginDir string) *Config {
	return &Config{
		PluginDir:   pluginDir,
		Workers:     runtime.NumCPU(),
		LockTimeout: helpers.LockDefaultTimeout,
		Cache: CacheConfig{
			MaxSizeMB:         helpers.CacheDefaultMaxSizeMB,
			RetentionVersions: helpers.CacheRetentionVersions,
			RollbackFloor:     helpers.CacheRollbackFloor,
		},
		Registry: RegistryConfig{
			BackupOnWrite:   true,
			ValidateOnWrite: true,
			MaxBackups:      helpers.RegistryDefaultMaxBackups,
		},
		Lifecycle: LifecycleConfig{Timeout: helpers.LifecycleDefaultTimeout},
		Changelog: ChangelogConfig{
			Timeout: helpers.ChangelogDefaultTimeout,
			TTL:     helpers.ChangelogCacheTTL,
		},
	}
}

// Options captures command-line settings before they are merged with the config file.
// A *Set field reports whether the matching flag was given explicitly.
type Options struct {
	Verbose    bool
	Quiet      bool
	DryRun     bool
	JSON       bool
	PluginDir  string
	ConfigPath string
	Workers    int

	MaxCacheMB          int64
	MaxCacheMBSet       bool
	LifecycleTimeout    time.Duration
	LifecycleTimeoutSet bool
	ChangelogTimeout    time.Duration
	ChangelogTimeoutSet bool
	LockTimeout         time.Duration
	LockTimeoutSet      bool
	HostVersion         string
	HostVersionSet      bool
}

// BuildConfig builds Config from CLI flags and the optional plugctl.toml.
func BuildConfig(c *cli.Context) (*Config, error) {
	return Build(optionsFromCLI(c))
}

func optionsFromCLI(c *cli.Context) Options {
	return Options{
		Verbose:             c.Bool("verbose"),
		Quiet:               c.Bool("quiet"),
		DryRun:              c.Bool("dry-run"),
		JSON:                c.Bool("json"),
		PluginDir:           c.String("plugin-dir"),
		ConfigPath:          c.String("config"),
		Workers:             c.Int("workers"),
		MaxCacheMB:          c.Int64("max-cache-mb"),
		MaxCacheMBSet:       c.IsSet("max-cache-mb"),
		LifecycleTimeout:    c.Duration("lifecycle-timeout"),
		LifecycleTimeoutSet: c.IsSet("lifecycle-timeout"),
		ChangelogTimeout:    c.Duration("changelog-timeout"),
		ChangelogTimeoutSet: c.IsSet("changelog-timeout"),
		LockTimeout:         c.Duration("lock-timeout"),
		LockTimeoutSet:      c.IsSet("lock-timeout"),
		HostVersion:         c.String("host-version"),
		HostVersionSet:      c.IsSet("host-version"),
	}
}

// Build merges opts over the config file over the defaults and validates the result.
func Build(opts Options) (*Config, error) {
	dir := strings.TrimSpace(opts.PluginDir)
	if dir == "" {
		return nil, helpers.ErrPluginDirEmpty
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plugin dir: %w", err)
	}
	cfg := Default(dir)

	path, explicit := configPath(opts.ConfigPath, dir)
	if err := loadFile(cfg, path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else {
		cfg.ConfigPath = path
	}

	applyOptions(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configPath returns the file to read and whether the caller named it.
func configPath(flagPath, pluginDir string) (string, bool) {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p, true
	}
	if p := strings.TrimSpace(os.Getenv(helpers.ConfigEnv)); p != "" {
		return p, true
	}
	return filepath.Join(pluginDir, helpers.ConfigFile), false
}

func applyOptions(cfg *Config, opts Options) {
	cfg.Verbose = opts.Verbose
	cfg.Quiet = !opts.Verbose && opts.Quiet
	cfg.DryRun = opts.DryRun
	cfg.JSON = opts.JSON
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if opts.MaxCacheMBSet {
		cfg.Cache.MaxSizeMB = opts.MaxCacheMB
	}
	if opts.LifecycleTimeoutSet {
		cfg.Lifecycle.Timeout = opts.LifecycleTimeout
	}
	if opts.ChangelogTimeoutSet {
		cfg.Changelog.Timeout = opts.ChangelogTimeout
	}
	if opts.LockTimeoutSet {
		cfg.LockTimeout = opts.LockTimeout
	}
	if opts.HostVersionSet {
		cfg.Host.Version = opts.HostVersion
	}
}

// Validate reports every unusable setting at once.
func (c *Config) Validate() error {
	if c == nil {
		return helpers.ErrConfigIsNil
	}
	var problems []string
	if c.Cache.MaxSizeMB <= 0 {
		problems = append(problems, "cache.max_size_mb must be positive")
	}
	if c.Cache.RetentionVersions < 1 {
		problems = append(problems, "cache.retention_versions must be at least 1")
	}
	if c.Cache.RollbackFloor < 0 {
		problems = append(problems, "cache.rollback_floor must not be negative")
	}
	if c.Registry.MaxBackups < 1 {
		problems = append(problems, "registry.max_backups must be at least 1")
	}
	if c.Lifecycle.Timeout <= 0 {
		problems = append(problems, "lifecycle.timeout must be positive")
	}
	if c.Changelog.Timeout <= 0 {
		problems = append(problems, "changelog.timeout must be positive")
	}
	if c.Changelog.TTL < 0 {
		problems = append(problems, "changelog.ttl must not be negative")
	}
	if c.LockTimeout <= 0 {
		problems = append(problems, "lock timeout must be positive")
	}
	if c.Host.Version != "" && !version.Valid(c.Host.Version) {
		problems = append(problems, fmt.Sprintf("host.version %q is not major.minor.patch", c.Host.Version))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", helpers.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}
