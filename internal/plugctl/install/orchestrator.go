// Package install sequences the cache engine and the registry store into
// install, update, rollback and verify transactions.
//
// Every call returns a structured result. Failures carry a stable ERR-* code,
// the phase that failed and the full message log; nothing panics across the
// package boundary.
package install

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/audit"
	"github.com/greeddj/go-plugctl/internal/plugctl/cache"
	"github.com/greeddj/go-plugctl/internal/plugctl/changelog"
	"github.com/greeddj/go-plugctl/internal/plugctl/compat"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/lifecycle"
	"github.com/greeddj/go-plugctl/internal/plugctl/output"
	"github.com/greeddj/go-plugctl/internal/plugctl/registry"
	"github.com/greeddj/go-plugctl/internal/plugctl/txn"
)

// Options wires an Orchestrator to its stores and collaborators.
type Options struct {
	PluginDir string
	Cache     *cache.Engine
	Registry  *registry.Store
	Runner    *lifecycle.Runner
	Changelog *changelog.Service
	Audit     *audit.Writer
	// HostVersion is the host application version checked against manifest constraints.
	HostVersion string
	// Environment overrides the live platform used for compatibility checks.
	Environment func(installed map[string]string) compat.Environment
	// Workers bounds UpdateAll fan-out. Zero runs every request at once.
	Workers int
	// RegistryWrites overrides the backup and validation settings of activation writes.
	// Nil takes both.
	RegistryWrites *registry.WriteOptions
	Now            func() time.Time
	Output         output.Printer
}

// Orchestrator runs install-side transactions.
type Orchestrator struct {
	pluginDir string
	activeDir string
	cache     *cache.Engine
	registry  *registry.Store
	runner    *lifecycle.Runner
	changelog *changelog.Service
	audit     *audit.Writer
	env       func(installed map[string]string) compat.Environment
	workers   int
	writes    registry.WriteOptions
	now       func() time.Time
	out       output.Printer
}

// New validates opts and builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if strings.TrimSpace(opts.PluginDir) == "" {
		return nil, helpers.ErrPluginDirEmpty
	}
	if opts.Cache == nil || opts.Registry == nil {
		return nil, errors.New("install: cache engine and registry store are required")
	}
	dir, err := filepath.Abs(opts.PluginDir)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		pluginDir: dir,
		activeDir: filepath.Join(dir, helpers.ActiveDirName),
		cache:     opts.Cache,
		registry:  opts.Registry,
		runner:    opts.Runner,
		changelog: opts.Changelog,
		audit:     opts.Audit,
		env:       opts.Environment,
		workers:   opts.Workers,
		writes:    registry.WriteOptions{Backup: true, Validate: true},
		now:       opts.Now,
		out:       output.OrDiscard(opts.Output),
	}
	if opts.RegistryWrites != nil {
		o.writes = *opts.RegistryWrites
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.runner == nil {
		o.runner = lifecycle.New(lifecycle.Options{Output: o.out})
	}
	if o.changelog == nil {
		o.changelog = changelog.New(changelog.Options{Output: o.out, Now: o.now})
	}
	if o.env == nil {
		host := opts.HostVersion
		o.env = func(installed map[string]string) compat.Environment {
			return compat.CurrentEnvironment(host, installed)
		}
	}
	return o, nil
}

// LinkPath returns the activation symlink of pluginID.
func (o *Orchestrator) LinkPath(pluginID string) string {
	return filepath.Join(o.activeDir, pluginID)
}

// CacheDelta describes what a transaction did to the cache.
type CacheDelta struct {
	CachePath         string   `json:"cachePath"`
	Checksum          string   `json:"checksum,omitempty"`
	SizeBytes         int64    `json:"sizeBytes,omitempty"`
	Replaced          bool     `json:"replaced,omitempty"`
	EvictionTriggered bool     `json:"evictionTriggered"`
	Evicted           []string `json:"evicted,omitempty"`
	// Compensation is "kept" or "removed" when activation failed after promotion.
	Compensation string `json:"compensation,omitempty"`
}

// RegistryDelta describes what a transaction did to the registry.
type RegistryDelta struct {
	Action           string   `json:"action"`
	PreviousVersion  string   `json:"previousVersion,omitempty"`
	TargetVersion    string   `json:"targetVersion"`
	BackupPath       string   `json:"backupPath,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
}

// ScriptRun records one lifecycle script execution.
type ScriptRun struct {
	Hook   string           `json:"hook"`
	Digest string           `json:"digest,omitempty"`
	Result lifecycle.Result `json:"result"`
	Error  string           `json:"error,omitempty"`
}

// installed maps every registered plugin other than skip to its active version.
func (o *Orchestrator) installed(skip string) map[string]string {
	plugins, err := o.registry.List()
	if err != nil {
		o.out.Debugf("registry list: %v", err)
		return nil
	}
	out := make(map[string]string, len(plugins))
	for _, p := range plugins {
		if p.PluginID == skip || p.InstallState != registry.StateInstalled {
			continue
		}
		out[p.PluginID] = p.Version
	}
	return out
}

// writeOptions are used for every activation write.
func (o *Orchestrator) writeOptions() registry.WriteOptions {
	return o.writes
}

// applyReport copies backup and validation details into delta and logs validation problems.
func applyReport(log *txn.Log, step txn.Phase, delta *RegistryDelta, report registry.MutationReport) {
	delta.BackupPath = report.BackupPath
	if !report.ValidationFailed() {
		return
	}
	delta.ValidationErrors = report.Validation.Errors
	for _, problem := range report.Validation.Errors {
		log.Warnf(step, "registry validation: %s", problem)
	}
}

func (o *Orchestrator) record(rec audit.Record) {
	if o.audit == nil {
		return
	}
	o.audit.Record(rec)
}
