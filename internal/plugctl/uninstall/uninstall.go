// Package uninstall removes an activated plugin behind a confirmation token and,
// when the plugin ships an uninstall script, a digest consent gate.
package uninstall

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/audit"
	"github.com/greeddj/go-plugctl/internal/plugctl/cache"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/lifecycle"
	"github.com/greeddj/go-plugctl/internal/plugctl/output"
	"github.com/greeddj/go-plugctl/internal/plugctl/registry"
	"github.com/greeddj/go-plugctl/internal/plugctl/txn"
)

// Retention selects what happens to cached versions after removal.
type Retention string

const (
	// KeepAll leaves every cached version in place.
	KeepAll Retention = "keep-all"
	// KeepLastN keeps the N highest unpinned versions.
	KeepLastN Retention = "keep-last-n"
)

// ParseRetention validates a policy name. Empty selects KeepLastN.
func ParseRetention(s string) (Retention, error) {
	switch Retention(strings.TrimSpace(s)) {
	case "", KeepLastN:
		return KeepLastN, nil
	case KeepAll:
		return KeepAll, nil
	}
	return "", fmt.Errorf("unknown retention policy %q (want %s or %s)", s, KeepAll, KeepLastN)
}

// Options wires an Orchestrator.
type Options struct {
	PluginDir string
	Cache     *cache.Engine
	Registry  *registry.Store
	Runner    *lifecycle.Runner
	Audit     *audit.Writer
	// RegistryWrites overrides the backup and validation settings of the removal write.
	// Nil takes both.
	RegistryWrites *registry.WriteOptions
	Now            func() time.Time
	Output         output.Printer
}

// Orchestrator runs uninstall transactions.
type Orchestrator struct {
	pluginDir string
	activeDir string
	cache     *cache.Engine
	registry  *registry.Store
	runner    *lifecycle.Runner
	audit     *audit.Writer
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
		return nil, errors.New("uninstall: cache engine and registry store are required")
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
		audit:     opts.Audit,
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
	return o, nil
}

// Request describes one uninstall.
type Request struct {
	PluginID string
	// ConfirmationToken must equal <pluginId>@<installedVersion> unless Force or DryRun is set.
	ConfirmationToken string
	// ScriptDigest is the caller's consent to run the uninstall script with this sha256.
	ScriptDigest string
	Force        bool
	DryRun       bool
	SkipScripts  bool
	Retention    Retention
	// KeepVersions is N for KeepLastN. Zero takes the default of 3.
	KeepVersions int
}

// Script describes the uninstall script and whether it ran.
type Script struct {
	Path     string            `json:"path"`
	Digest   string            `json:"digest"`
	Executed bool              `json:"executed"`
	Result   *lifecycle.Result `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// RegistryDelta describes the registry change.
type RegistryDelta struct {
	Action           string   `json:"action"`
	PreviousVersion  string   `json:"previousVersion"`
	BackupPath       string   `json:"backupPath,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
}

// Result is returned by Uninstall.
type Result struct {
	txn.Result
	PluginID          string            `json:"pluginId"`
	Version           string            `json:"version,omitempty"`
	DryRun            bool              `json:"dryRun"`
	ConfirmationToken string            `json:"confirmationToken,omitempty"`
	Script            *Script           `json:"script,omitempty"`
	Deactivated       bool              `json:"deactivated"`
	Registry          *RegistryDelta    `json:"registryDelta,omitempty"`
	Cache             *cache.TrimResult `json:"cacheDelta,omitempty"`
	Retention         Retention         `json:"retention"`
}

// LinkPath returns the activation symlink of pluginID.
func (o *Orchestrator) LinkPath(pluginID string) string {
	return filepath.Join(o.activeDir, pluginID)
}

// ConfirmationToken returns the token that confirms uninstalling rec.
func ConfirmationToken(rec registry.Plugin) string {
	return helpers.EntryKey(rec.PluginID, rec.Version)
}
