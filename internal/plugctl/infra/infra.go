package infra

import (
	"errors"
	"net/http"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/audit"
	"github.com/greeddj/go-plugctl/internal/plugctl/cache"
	"github.com/greeddj/go-plugctl/internal/plugctl/changelog"
	"github.com/greeddj/go-plugctl/internal/plugctl/config"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/install"
	"github.com/greeddj/go-plugctl/internal/plugctl/lifecycle"
	"github.com/greeddj/go-plugctl/internal/plugctl/output"
	"github.com/greeddj/go-plugctl/internal/plugctl/registry"
	"github.com/greeddj/go-plugctl/internal/plugctl/uninstall"
)

// Infra holds runtime dependencies such as IO, HTTP clients and the engines built on them.
type Infra struct {
	Output output.Printer
	HTTP   *http.Client
	Now    func() time.Time

	Cache       *cache.Engine
	Registry    *registry.Store
	Changelog   *changelog.Service
	Audit       *audit.Writer
	Runner      *lifecycle.Runner
	Installer   *install.Orchestrator
	Uninstaller *uninstall.Orchestrator
}

// New builds Infra and every engine from cfg.
func New(cfg *config.Config, out output.Printer, httpClient *http.Client) (*Infra, error) {
	if cfg == nil {
		return nil, helpers.ErrConfigIsNil
	}
	i := &Infra{
		Output: output.OrDiscard(out),
		HTTP:   httpClient,
		Now:    time.Now,
	}

	var err error
	i.Cache, err = cache.New(cache.Options{
		PluginDir:         cfg.PluginDir,
		MaxSizeBytes:      cfg.Cache.MaxSizeBytes(),
		RetentionVersions: cfg.Cache.RetentionVersions,
		RollbackFloor:     cfg.Cache.RollbackFloor,
		LockTimeout:       cfg.LockTimeout,
		Now:               i.Now,
		Output:            i.Output,
	})
	if err != nil {
		return nil, err
	}
	i.Registry, err = registry.New(registry.Options{
		PluginDir:   cfg.PluginDir,
		MaxBackups:  cfg.Registry.MaxBackups,
		LockTimeout: cfg.LockTimeout,
		Now:         i.Now,
		Output:      i.Output,
	})
	if err != nil {
		return nil, err
	}
	i.Changelog = changelog.New(changelog.Options{
		Dir:         cfg.PluginDir,
		Client:      httpClient,
		Timeout:     cfg.Changelog.Timeout,
		TTL:         cfg.Changelog.TTL,
		LockTimeout: cfg.LockTimeout,
		Now:         i.Now,
		Output:      i.Output,
	})
	i.Audit = audit.New(cfg.PluginDir, i.Now, i.Output)
	i.Runner = lifecycle.New(lifecycle.Options{Timeout: cfg.Lifecycle.Timeout, Output: i.Output})

	writes := registry.WriteOptions{Backup: cfg.Registry.BackupOnWrite, Validate: cfg.Registry.ValidateOnWrite}
	i.Installer, err = install.New(install.Options{
		PluginDir:      cfg.PluginDir,
		Cache:          i.Cache,
		Registry:       i.Registry,
		Runner:         i.Runner,
		Changelog:      i.Changelog,
		Audit:          i.Audit,
		HostVersion:    cfg.Host.Version,
		Workers:        cfg.Workers,
		RegistryWrites: &writes,
		Now:            i.Now,
		Output:         i.Output,
	})
	if err != nil {
		return nil, errors.Join(err, i.Close())
	}
	i.Uninstaller, err = uninstall.New(uninstall.Options{
		PluginDir:      cfg.PluginDir,
		Cache:          i.Cache,
		Registry:       i.Registry,
		Runner:         i.Runner,
		Audit:          i.Audit,
		RegistryWrites: &writes,
		Now:            i.Now,
		Output:         i.Output,
	})
	if err != nil {
		return nil, errors.Join(err, i.Close())
	}
	return i, nil
}

// Close releases the changelog cache database.
func (i *Infra) Close() error {
	if i == nil || i.Changelog == nil {
		return nil
	}
	return i.Changelog.Close()
}

// DebugConfig logs where the settings came from.
func (i *Infra) DebugConfig(cfg *config.Config) {
	if i == nil || i.Output == nil || cfg == nil {
		return
	}
	if cfg.ConfigPath == "" {
		i.Output.Debugf("no config file found, using defaults for %s", cfg.PluginDir)
		return
	}
	i.Output.Debugf("%s: cache.max_size_mb=%d cache.retention_versions=%d cache.rollback_floor=%d",
		cfg.ConfigPath, cfg.Cache.MaxSizeMB, cfg.Cache.RetentionVersions, cfg.Cache.RollbackFloor)
	i.Output.Debugf("%s: registry.backup_on_write=%t registry.validate_on_write=%t registry.max_backups=%d",
		cfg.ConfigPath, cfg.Registry.BackupOnWrite, cfg.Registry.ValidateOnWrite, cfg.Registry.MaxBackups)
	i.Output.Debugf("%s: lifecycle.timeout=%s changelog.timeout=%s changelog.ttl=%s host.version=%s",
		cfg.ConfigPath, cfg.Lifecycle.Timeout, cfg.Changelog.Timeout, cfg.Changelog.TTL, cfg.Host.Version)
}
