// Package registry owns registry.json, the record of activated plugins and their pins.
//
// Mutations load the document under the registry lock file, apply the change to
// a copy, optionally snapshot the previous document, and replace the file
// atomically. Post-write validation is advisory: it is reported, never rolled back.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/lock"
	"github.com/greeddj/go-plugctl/internal/plugctl/output"
)

// Options configures a Store. Zero values take the package defaults.
type Options struct {
	PluginDir   string
	MaxBackups  int
	LockTimeout time.Duration
	Now         func() time.Time
	Output      output.Printer
}

// Store is the registry store. It is safe for concurrent use.
type Store struct {
	path      string
	lockPath  string
	backupDir string

	maxBackups  int
	lockTimeout time.Duration
	now         func() time.Time
	out         output.Printer
	writeFile   func(path string, v any) error

	mu  sync.Mutex
	reg *Registry
}

// New builds a Store for <PluginDir>/registry.json.
func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.PluginDir) == "" {
		return nil, helpers.ErrPluginDirEmpty
	}
	dir, err := filepath.Abs(opts.PluginDir)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path:        filepath.Join(dir, helpers.RegistryFile),
		lockPath:    filepath.Join(dir, helpers.RegistryLock),
		backupDir:   filepath.Join(dir, helpers.BackupDirName),
		maxBackups:  opts.MaxBackups,
		lockTimeout: opts.LockTimeout,
		now:         opts.Now,
		out:         output.OrDiscard(opts.Output),
		writeFile:   fsutil.WriteJSONAtomic,
	}
	if s.maxBackups <= 0 {
		s.maxBackups = helpers.RegistryDefaultMaxBackups
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = helpers.LockDefaultTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the registry file location.
func (s *Store) Path() string { return s.path }

// Reload discards the in-process view and reads the registry from disk.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg = nil
	_, err := s.viewLocked()
	return err
}

// Invalidate drops the in-process view. The next read loads from disk.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.reg = nil
	s.mu.Unlock()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func (s *Store) view() (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.viewLocked()
	if err != nil {
		return nil, err
	}
	return reg.clone(), nil
}

func (s *Store) viewLocked() (*Registry, error) {
	if s.reg != nil {
		return s.reg, nil
	}
	reg, err := s.read()
	if err != nil {
		return nil, err
	}
	s.reg = reg
	return reg, nil
}

// read loads registry.json. A missing file is an empty registry.
func (s *Store) read() (*Registry, error) {
	return readFile(s.path)
}

func readFile(path string) (*Registry, error) {
	var reg Registry
	if err := fsutil.ReadJSON(path, &reg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newRegistry(), nil
		}
		return nil, fmt.Errorf("%w: %w", helpers.ErrRegistryCorrupt, err)
	}
	if reg.Plugins == nil {
		reg.Plugins = []Plugin{}
	}
	if reg.ActivePins == nil {
		reg.ActivePins = []string{}
	}
	if reg.Telemetry == nil {
		reg.Telemetry = make(map[string]Telemetry)
	}
	return &reg, nil
}

// mutate applies fn to a fresh copy under both locks, then backs up, writes and validates.
func (s *Store) mutate(ctx context.Context, opts WriteOptions, fn func(reg *Registry) error) (MutationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := lock.Acquire(ctx, s.lockPath, s.lockTimeout)
	if err != nil {
		return MutationReport{}, err
	}
	defer func() {
		_ = release()
	}()

	current, err := s.read()
	if err != nil {
		return MutationReport{}, err
	}
	work := current.clone()
	if err := fn(work); err != nil {
		if errors.Is(err, errUnchanged) {
			s.reg = current
			return MutationReport{}, nil
		}
		return MutationReport{}, err
	}

	var report MutationReport
	if opts.Backup && fsutil.Exists(s.path) {
		backup, err := s.snapshotLocked()
		if err != nil {
			return MutationReport{}, fmt.Errorf("failed to back up registry: %w", err)
		}
		report.BackupPath = backup.Path
	}

	if err := s.write(work); err != nil {
		return MutationReport{}, err
	}
	s.reg = work

	if opts.Validate {
		v := s.validate(work)
		report.Validation = &v
		if !v.Valid {
			s.out.Debugf("%v: %s", helpers.ErrValidationFailed, strings.Join(v.Errors, "; "))
		}
	}
	return report, nil
}

func (s *Store) write(reg *Registry) error {
	reg.syncPins()
	reg.Metadata.RegistryVersion = helpers.RegistryVersion
	reg.Metadata.LastUpdated = s.timestamp()
	reg.Metadata.ModifiedBy = helpers.RegistryModifiedBy
	reg.Metadata.TotalInstallations = len(reg.Plugins)
	if err := s.writeFile(s.path, reg); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}

// errUnchanged lets a mutation report that nothing needs to be written.
var errUnchanged = errors.New("registry unchanged")

// Add inserts a new record. An existing id reports PLUGIN_EXISTS.
func (s *Store) Add(ctx context.Context, p Plugin, opts WriteOptions) (MutationReport, error) {
	if err := helpers.ValidatePluginID(p.PluginID); err != nil {
		return MutationReport{}, err
	}
	return s.mutate(ctx, opts, func(reg *Registry) error {
		if reg.find(p.PluginID) >= 0 {
			return fmt.Errorf("%w: %s", helpers.ErrPluginExists, p.PluginID)
		}
		if p.InstalledAt.IsZero() {
			p.InstalledAt = s.timestamp()
		}
		if p.InstallState == "" {
			p.InstallState = StateInstalled
		}
		reg.Plugins = append(reg.Plugins, p)
		return nil
	})
}

// Update applies fn to an existing record. A missing id reports PLUGIN_NOT_FOUND.
// The plugin id cannot be changed.
func (s *Store) Update(ctx context.Context, pluginID string, opts WriteOptions, fn func(p *Plugin)) (MutationReport, error) {
	return s.mutate(ctx, opts, func(reg *Registry) error {
		i := reg.find(pluginID)
		if i < 0 {
			return fmt.Errorf("%w: %s", helpers.ErrPluginNotFound, pluginID)
		}
		p := reg.Plugins[i]
		fn(&p)
		p.PluginID = pluginID
		p.UpdatedAt = s.timestamp()
		reg.Plugins[i] = p
		return nil
	})
}

// Remove deletes a record and its pin. A missing id reports PLUGIN_NOT_FOUND.
func (s *Store) Remove(ctx context.Context, pluginID string, opts WriteOptions) (Plugin, MutationReport, error) {
	var removed Plugin
	report, err := s.mutate(ctx, opts, func(reg *Registry) error {
		i := reg.find(pluginID)
		if i < 0 {
			return fmt.Errorf("%w: %s", helpers.ErrPluginNotFound, pluginID)
		}
		removed = reg.Plugins[i]
		reg.Plugins = append(reg.Plugins[:i], reg.Plugins[i+1:]...)
		return nil
	})
	return removed, report, err
}

// Pin marks a record pinned. Pinning an unknown id reports PLUGIN_NOT_FOUND.
func (s *Store) Pin(ctx context.Context, pluginID string) (PinResult, error) {
	var res PinResult
	_, err := s.mutate(ctx, WriteOptions{}, func(reg *Registry) error {
		i := reg.find(pluginID)
		if i < 0 {
			return fmt.Errorf("%w: %s", helpers.ErrPluginNotFound, pluginID)
		}
		if reg.Plugins[i].Pinned {
			res.WasNoOp = true
			return errUnchanged
		}
		reg.Plugins[i].Pinned = true
		return nil
	})
	return res, err
}

// Unpin clears a pin. Unknown ids and unpinned records are no-ops.
func (s *Store) Unpin(ctx context.Context, pluginID string) (PinResult, error) {
	var res PinResult
	_, err := s.mutate(ctx, WriteOptions{}, func(reg *Registry) error {
		i := reg.find(pluginID)
		if i < 0 || !reg.Plugins[i].Pinned {
			res.WasNoOp = true
			return errUnchanged
		}
		reg.Plugins[i].Pinned = false
		return nil
	})
	return res, err
}

// RecordTelemetry bumps the counter for operation on pluginID.
// Records of uninstalled plugins are kept so history survives removal.
func (s *Store) RecordTelemetry(ctx context.Context, pluginID, operation string, success bool) error {
	_, err := s.mutate(ctx, WriteOptions{}, func(reg *Registry) error {
		t := reg.Telemetry[pluginID]
		switch {
		case !success:
			t.Failures++
		case operation == "install":
			t.Installs++
		case operation == "update":
			t.Updates++
		case operation == "rollback":
			t.Rollbacks++
		case operation == "uninstall":
			t.Uninstalls++
		}
		t.LastOperation = operation
		t.LastOperationAt = s.timestamp()
		reg.Telemetry[pluginID] = t
		return nil
	})
	return err
}
