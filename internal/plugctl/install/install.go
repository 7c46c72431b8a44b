package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/greeddj/go-plugctl/internal/plugctl/archive"
	"github.com/greeddj/go-plugctl/internal/plugctl/audit"
	"github.com/greeddj/go-plugctl/internal/plugctl/cache"
	"github.com/greeddj/go-plugctl/internal/plugctl/changelog"
	"github.com/greeddj/go-plugctl/internal/plugctl/compat"
	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/lifecycle"
	"github.com/greeddj/go-plugctl/internal/plugctl/manifest"
	"github.com/greeddj/go-plugctl/internal/plugctl/registry"
	"github.com/greeddj/go-plugctl/internal/plugctl/txn"
	"github.com/greeddj/go-plugctl/internal/plugctl/version"
)

// Request describes one install or update.
type Request struct {
	// Source is a plugin directory or a .tar.gz holding plugin.yaml.
	Source string
	// PluginID and Version default to the manifest values and must match them when set.
	PluginID     string
	Version      string
	Force        bool
	Pin          bool
	SkipEviction bool
	SkipScripts  bool
}

// Result is returned by Install and Update.
type Result struct {
	txn.Result
	Operation     audit.Operation   `json:"operation"`
	PluginID      string            `json:"pluginId"`
	Version       string            `json:"version"`
	CachePath     string            `json:"cachePath,omitempty"`
	Compatibility *compat.Report    `json:"compatibility,omitempty"`
	Cache         *CacheDelta       `json:"cacheDelta,omitempty"`
	Registry      *RegistryDelta    `json:"registryDelta,omitempty"`
	Changelog     *changelog.Result `json:"changelog,omitempty"`
	Scripts       []ScriptRun       `json:"scripts,omitempty"`
}

// Install runs VALIDATE, STAGE, EXTRACT, LIFECYCLE_PRE, PROMOTE, ACTIVATE and TELEMETRY.
func (o *Orchestrator) Install(ctx context.Context, req Request) Result {
	return o.run(ctx, audit.OpInstall, req)
}

// Update is Install with force that also records the version delta and fetches the changelog.
func (o *Orchestrator) Update(ctx context.Context, req Request) Result {
	req.Force = true
	return o.run(ctx, audit.OpUpdate, req)
}

// pipeline carries the state of one install transaction between phases.
type pipeline struct {
	o   *Orchestrator
	op  audit.Operation
	req Request
	log *txn.Log
	res *Result

	pluginID string
	version  string
	isDir    bool
	existing *registry.Plugin
	// wasCached is set when the target version was already cached before this transaction.
	wasCached bool
	staging   string
	manifest  *manifest.Manifest
}

type phase struct {
	name txn.Phase
	fn   func(ctx context.Context) error
}

func (o *Orchestrator) run(ctx context.Context, op audit.Operation, req Request) (res Result) {
	started := o.now()
	log := txn.NewLog(helpers.NewTransactionID(started), o.now, o.out)
	res = Result{Operation: op, PluginID: req.PluginID, Version: req.Version}
	p := &pipeline{o: o, op: op, req: req, log: log, res: &res}

	var (
		failure *txn.Error
		current txn.Phase = txn.PhaseValidate
	)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf(current, "unexpected failure: %v", r)
			failure = txn.Recovered(r, txn.CodeInstallUnexpected, current)
		}
		p.discardStaging()
		if failure != nil && current != txn.PhaseValidate && p.pluginID != "" {
			if err := o.registry.RecordTelemetry(ctx, p.pluginID, string(op), false); err != nil {
				o.out.Debugf("telemetry: %v", err)
			}
		}
		res.Result = log.Finish(started, failure)
		o.record(audit.Record{
			Operation:     op,
			TransactionID: log.ID(),
			PluginID:      res.PluginID,
			Version:       res.Version,
			StartedAt:     started.UTC(),
			Success:       failure == nil,
			Error:         failure,
			Messages:      res.Messages,
			CacheDelta:    res.Cache,
			RegistryDelta: res.Registry,
			Details:       map[string]any{"source": req.Source, "force": req.Force},
		})
	}()

	phases := []phase{
		{txn.PhaseValidate, p.validate},
		{txn.PhaseStage, p.stage},
		{txn.PhaseExtract, p.extract},
		{txn.PhaseLifecyclePre, p.preinstall},
		{txn.PhasePromote, p.promote},
		{txn.PhaseActivate, p.activate},
		{txn.PhaseTelemetry, p.telemetry},
	}
	for _, ph := range phases {
		current = ph.name
		if err := ph.fn(ctx); err != nil {
			failure = txn.ToError(err, txn.CodeInstallUnexpected, ph.name)
			log.Errorf(failure.FailedStep, "%s: %s", failure.Code, failure.Message)
			return res
		}
	}
	return res
}

func (p *pipeline) key() string {
	return helpers.EntryKey(p.pluginID, p.version)
}

func (p *pipeline) validate(ctx context.Context) error {
	const step = txn.PhaseValidate
	src := p.req.Source
	if strings.TrimSpace(src) == "" {
		return txn.Fail(nil, txn.CodeInstallInvalid, step, "no install source given")
	}
	info, err := os.Stat(src)
	if err != nil {
		return txn.Fail(err, txn.CodeInstallInvalid, step, "install source is not readable")
	}
	p.isDir = info.IsDir()
	if !p.isDir && !archive.IsTarGz(src) {
		return txn.Failf(helpers.ErrUnsupportedSource, txn.CodeInstallInvalid, step, "%s is neither a directory nor a .tar.gz", src)
	}

	m, err := peekManifest(ctx, p.req.Source)
	if err != nil {
		return txn.Fail(err, txn.CodeInstallManifest, step, "cannot read plugin manifest from source")
	}
	p.pluginID, p.version = m.ID, m.Version
	if p.req.PluginID != "" && p.req.PluginID != m.ID {
		return txn.Failf(helpers.ErrManifestInvalid, txn.CodeInstallManifest, step, "manifest id %q does not match requested %q", m.ID, p.req.PluginID)
	}
	if p.req.Version != "" && p.req.Version != m.Version {
		return txn.Failf(helpers.ErrManifestInvalid, txn.CodeInstallManifest, step, "manifest version %q does not match requested %q", m.Version, p.req.Version)
	}
	if err := helpers.ValidatePluginID(p.pluginID); err != nil {
		return txn.Fail(err, txn.CodeInstallInvalid, step, "invalid plugin id")
	}
	if !version.Valid(p.version) {
		return txn.Failf(helpers.ErrInvalidVersion, txn.CodeInstallInvalid, step, "version %q is not major.minor.patch", p.version)
	}
	p.res.PluginID, p.res.Version = p.pluginID, p.version

	existing, ok, err := p.o.registry.Get(p.pluginID)
	if err != nil {
		return txn.Fail(err, txn.CodeInstallUnexpected, step, "cannot read registry")
	}
	if ok {
		if !p.req.Force {
			return txn.With(txn.Failf(helpers.ErrPluginExists, txn.CodeInstallExists, step,
				"%s is already installed at %s; use force to reinstall", p.pluginID, existing.Version),
				"installedVersion", existing.Version)
		}
		p.existing = &existing
		p.log.Infof(step, "replacing %s (force)", helpers.EntryKey(p.pluginID, existing.Version))
	}
	if _, cached, err := p.o.cache.GetEntry(p.pluginID, p.version); err == nil {
		p.wasCached = cached
	}
	p.log.Infof(step, "validated %s from %s", p.key(), src)
	return nil
}

func (p *pipeline) stage(ctx context.Context) error {
	st, err := p.o.cache.Stage(ctx, p.pluginID, p.version, cache.StageOptions{TransactionID: p.log.ID()})
	if err != nil {
		return txn.Fail(err, txn.CodeInstallStage, txn.PhaseStage, "cannot create staging directory")
	}
	p.staging = st.StagingPath
	p.log.Infof(txn.PhaseStage, "staging %s at %s", p.key(), st.StagingPath)
	return nil
}

func (p *pipeline) extract(ctx context.Context) error {
	const step = txn.PhaseExtract
	if p.isDir {
		if err := fsutil.CopyTree(p.req.Source, p.staging); err != nil {
			return txn.Fail(err, txn.CodeInstallStage, step, "cannot copy plugin source")
		}
		p.log.Infof(step, "copied %s", p.req.Source)
		return nil
	}
	sum, err := archive.Extract(ctx, p.req.Source, p.staging)
	if err != nil {
		return txn.Fail(err, txn.CodeInstallStage, step, "cannot extract plugin archive")
	}
	p.log.Infof(step, "extracted %d entries (%d bytes)", sum.Entries, sum.Bytes)
	return nil
}

func (p *pipeline) preinstall(ctx context.Context) error {
	const step = txn.PhaseLifecyclePre
	m, err := manifest.Load(p.staging)
	if err != nil {
		return txn.Fail(err, txn.CodeInstallManifest, step, "staged plugin has no readable manifest")
	}
	if err := m.Validate(); err != nil {
		return txn.Fail(err, txn.CodeInstallManifest, step, "manifest validation failed")
	}
	if m.ID != p.pluginID || m.Version != p.version {
		return txn.Failf(helpers.ErrManifestInvalid, txn.CodeInstallManifest, step,
			"staged manifest is %s, expected %s", helpers.EntryKey(m.ID, m.Version), p.key())
	}
	p.manifest = m

	report := compat.Evaluate(m, p.o.env(p.o.installed(p.pluginID)))
	p.res.Compatibility = &report
	switch report.Verdict {
	case compat.Block:
		return txn.With(txn.Fail(nil, txn.CodeInstallBlocked, step, strings.Join(report.Problems(), "; ")),
			"verdict", string(report.Verdict))
	case compat.Warn:
		for _, problem := range report.Problems() {
			p.log.Warnf(step, "compatibility: %s", problem)
		}
	default:
		p.log.Infof(step, "compatibility: %s", report.Verdict)
	}

	if p.req.SkipScripts || m.Script(manifest.HookPreinstall) == "" {
		return nil
	}
	run, err := p.runScript(ctx, manifest.HookPreinstall, p.staging, step)
	p.res.Scripts = append(p.res.Scripts, run)
	if err != nil {
		return txn.With(txn.Fail(err, txn.CodeInstallPreinstall, step, "preinstall script failed"),
			"exitCode", run.Result.ExitCode)
	}
	return nil
}

func (p *pipeline) promote(ctx context.Context) error {
	pr, err := p.o.cache.Promote(ctx, p.pluginID, p.version, p.staging, cache.PromoteOptions{
		SkipEviction:  p.req.SkipEviction,
		TransactionID: p.log.ID(),
	})
	if err != nil {
		return txn.Fail(err, txn.CodeInstallPromote, txn.PhasePromote, "cannot promote staged plugin")
	}
	p.staging = ""
	p.res.CachePath = pr.CachePath
	delta := &CacheDelta{
		CachePath:         pr.CachePath,
		Checksum:          pr.Checksum,
		SizeBytes:         pr.SizeBytes,
		Replaced:          pr.Replaced,
		EvictionTriggered: pr.EvictionTriggered,
		Evicted:           pr.RetentionEvicted,
	}
	if pr.Eviction != nil {
		delta.Evicted = append(delta.Evicted, pr.Eviction.Evicted...)
		if pr.Eviction.StillOverLimit {
			p.log.Warnf(txn.PhasePromote, "cache is still over its size limit after eviction")
		}
	}
	p.res.Cache = delta
	p.log.Infof(txn.PhasePromote, "promoted %s (%d bytes) to %s", p.key(), pr.SizeBytes, pr.CachePath)
	for _, key := range delta.Evicted {
		p.log.Infof(txn.PhasePromote, "evicted %s", key)
	}

	if p.req.Pin {
		if _, err := p.o.cache.Pin(ctx, p.pluginID, p.version); err != nil {
			p.log.Warnf(txn.PhasePromote, "cannot pin cache entry: %v", err)
		}
	}
	return nil
}

func (p *pipeline) activate(ctx context.Context) error {
	const step = txn.PhaseActivate
	link := p.o.LinkPath(p.pluginID)
	delta := &RegistryDelta{TargetVersion: p.version}
	if p.existing != nil {
		delta.PreviousVersion = p.existing.Version
	}
	p.res.Registry = delta

	if err := fsutil.ReplaceSymlink(p.res.CachePath, link); err != nil {
		p.compensate(ctx)
		return txn.Fail(err, txn.CodeInstallActivate, step, "cannot create activation link")
	}

	var (
		report registry.MutationReport
		err    error
	)
	if p.existing == nil {
		delta.Action = "add"
		report, err = p.o.registry.Add(ctx, registry.Plugin{
			PluginID:      p.pluginID,
			Version:       p.version,
			Source:        absPath(p.req.Source),
			InstallState:  registry.StateInstalled,
			CachePath:     p.res.CachePath,
			TransactionID: p.log.ID(),
			Pinned:        p.req.Pin,
			SymlinkTarget: link,
		}, p.o.writeOptions())
	} else {
		delta.Action = "update"
		report, err = p.o.registry.Update(ctx, p.pluginID, p.o.writeOptions(), func(rec *registry.Plugin) {
			rec.Version = p.version
			rec.Source = absPath(p.req.Source)
			rec.InstallState = registry.StateInstalled
			rec.CachePath = p.res.CachePath
			rec.TransactionID = p.log.ID()
			rec.SymlinkTarget = link
			if p.req.Pin {
				rec.Pinned = true
			}
		})
	}
	if err != nil {
		p.compensate(ctx)
		return txn.Fail(err, txn.CodeInstallActivate, step, "cannot record plugin in registry")
	}
	applyReport(p.log, step, delta, report)
	p.log.Infof(step, "activated %s", p.key())
	return nil
}

// compensate undoes activation side effects after a failed registry write.
// The promoted entry is dropped unless the same version was cached before this transaction.
func (p *pipeline) compensate(ctx context.Context) {
	const step = txn.PhaseActivate
	link := p.o.LinkPath(p.pluginID)
	if p.existing != nil && p.existing.CachePath != "" {
		if err := fsutil.ReplaceSymlink(p.existing.CachePath, link); err != nil {
			p.log.Warnf(step, "cannot restore activation link: %v", err)
		}
	} else if _, err := fsutil.RemoveSymlink(link); err != nil {
		p.log.Warnf(step, "cannot remove activation link: %v", err)
	}

	if _, err := p.o.cache.Retrieve(ctx, p.pluginID, p.version); err != nil {
		p.log.Warnf(step, "compensating retrieve of %s: %v", p.key(), err)
	}
	if p.wasCached {
		p.res.Cache.Compensation = "kept"
		p.log.Warnf(step, "kept cache entry %s: it was cached before this transaction", p.key())
	} else if freed, err := p.o.cache.RemoveEntry(ctx, p.pluginID, p.version); err != nil {
		p.log.Warnf(step, "cannot remove orphaned cache entry %s: %v", p.key(), err)
	} else {
		p.res.Cache.Compensation = "removed"
		p.log.Warnf(step, "removed orphaned cache entry %s (%d bytes)", p.key(), freed)
	}
	if p.existing != nil {
		if err := p.o.cache.MarkCurrent(ctx, p.pluginID, p.existing.Version); err != nil && !errors.Is(err, helpers.ErrNotCached) {
			p.log.Warnf(step, "cannot restore current version: %v", err)
		}
	}
}

func (p *pipeline) telemetry(ctx context.Context) error {
	const step = txn.PhaseTelemetry
	if !p.req.SkipScripts && p.manifest.Script(manifest.HookPostinstall) != "" {
		run, err := p.runScript(ctx, manifest.HookPostinstall, p.res.CachePath, step)
		p.res.Scripts = append(p.res.Scripts, run)
		if err != nil {
			p.log.Warnf(step, "postinstall script failed: %v", err)
		}
	}

	if p.op == audit.OpUpdate {
		cl := p.o.changelog.Fetch(ctx, p.pluginID, p.manifest.ChangelogURL)
		p.res.Changelog = &cl
		switch {
		case cl.Status.OK():
			p.log.Infof(step, "%s", cl.DisplayMessage)
		case cl.Status == changelog.StatusUnavailable:
			p.log.Infof(step, "%s", cl.DisplayMessage)
		default:
			p.log.Warnf(step, "%s", cl.DisplayMessage)
		}
	}

	if err := p.o.registry.RecordTelemetry(ctx, p.pluginID, string(p.op), true); err != nil {
		p.log.Warnf(step, "cannot record telemetry: %v", err)
	}
	p.log.Infof(step, "%s %s complete", p.op, p.key())
	return nil
}

func (p *pipeline) runScript(ctx context.Context, hook manifest.Hook, dir string, step txn.Phase) (ScriptRun, error) {
	run := ScriptRun{Hook: string(hook)}
	path, err := p.manifest.ScriptPath(dir, hook)
	if err != nil {
		run.Error = err.Error()
		return run, err
	}
	if digest, err := fsutil.FileChecksum(path); err == nil {
		run.Digest = digest
	}
	res, err := p.o.runner.Run(ctx, lifecycle.Script{
		Path:        path,
		Dir:         dir,
		Interpreter: p.manifest.Interpreter,
		Env:         lifecycle.Env(p.pluginID, p.version, p.log.ID(), string(step), p.o.pluginDir),
	})
	run.Result = res
	if err != nil {
		run.Error = err.Error()
		return run, err
	}
	p.log.Infof(step, "%s script exited %d in %s", hook, res.ExitCode, res.Duration)
	return run, nil
}

func (p *pipeline) discardStaging() {
	if p.staging == "" {
		return
	}
	if err := p.o.cache.DiscardStaging(p.staging); err != nil {
		p.o.out.Debugf("discard staging %s: %v", p.staging, err)
	}
	p.staging = ""
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// String renders a one-line summary of the result.
func (r Result) String() string {
	if r.Success {
		return fmt.Sprintf("%s %s: ok (%s)", r.Operation, helpers.EntryKey(r.PluginID, r.Version), r.TransactionID)
	}
	code := ""
	if r.Error != nil {
		code = r.Error.Code
	}
	return fmt.Sprintf("%s %s: failed %s (%s)", r.Operation, helpers.EntryKey(r.PluginID, r.Version), code, r.TransactionID)
}
