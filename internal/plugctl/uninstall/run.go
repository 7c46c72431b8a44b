package uninstall

import (
	"context"
	"errors"
	"fmt"

	"github.com/greeddj/go-plugctl/internal/plugctl/audit"
	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/lifecycle"
	"github.com/greeddj/go-plugctl/internal/plugctl/manifest"
	"github.com/greeddj/go-plugctl/internal/plugctl/registry"
	"github.com/greeddj/go-plugctl/internal/plugctl/txn"
)

type transaction struct {
	o   *Orchestrator
	req Request
	log *txn.Log
	res *Result

	rec      registry.Plugin
	manifest *manifest.Manifest
}

// Uninstall runs VALIDATE, LIFECYCLE_PRE, LIFECYCLE, DEACTIVATE, REGISTRY_UPDATE and
// CACHE_CLEANUP. Confirmation and consent are checked before anything is changed.
// A dry run performs every read and reports what would happen.
func (o *Orchestrator) Uninstall(ctx context.Context, req Request) (res Result) {
	started := o.now()
	log := txn.NewLog(helpers.NewTransactionID(started), o.now, o.out)
	if req.Retention == "" {
		req.Retention = KeepLastN
	}
	if req.KeepVersions <= 0 {
		req.KeepVersions = helpers.UninstallDefaultKeepVersions
	}
	res = Result{PluginID: req.PluginID, DryRun: req.DryRun, Retention: req.Retention}
	t := &transaction{o: o, req: req, log: log, res: &res}

	var (
		failure *txn.Error
		current txn.Phase = txn.PhaseValidate
	)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf(current, "unexpected failure: %v", r)
			failure = txn.Recovered(r, txn.CodeUninstallUnexpected, current)
		}
		res.Result = log.Finish(started, failure)
		if req.DryRun || o.audit == nil {
			return
		}
		o.audit.Record(audit.Record{
			Operation:     audit.OpUninstall,
			TransactionID: log.ID(),
			PluginID:      req.PluginID,
			Version:       res.Version,
			StartedAt:     started.UTC(),
			Success:       failure == nil,
			Error:         failure,
			Messages:      res.Messages,
			CacheDelta:    res.Cache,
			RegistryDelta: res.Registry,
			Details:       map[string]any{"force": req.Force, "retention": string(req.Retention)},
		})
	}()

	phases := []struct {
		name txn.Phase
		fn   func(ctx context.Context) error
	}{
		{txn.PhaseValidate, t.validate},
		{txn.PhaseLifecyclePre, t.consent},
		{txn.PhaseLifecycle, t.runScript},
		{txn.PhaseDeactivate, t.deactivate},
		{txn.PhaseRegistryUpdate, t.unregister},
		{txn.PhaseCacheCleanup, t.cleanup},
		{txn.PhaseTelemetry, t.telemetry},
	}
	for _, ph := range phases {
		current = ph.name
		if err := ph.fn(ctx); err != nil {
			failure = txn.ToError(err, txn.CodeUninstallUnexpected, ph.name)
			log.Errorf(failure.FailedStep, "%s: %s", failure.Code, failure.Message)
			return res
		}
	}
	return res
}

func (t *transaction) key() string {
	return helpers.EntryKey(t.rec.PluginID, t.rec.Version)
}

func (t *transaction) validate(_ context.Context) error {
	const step = txn.PhaseValidate
	rec, ok, err := t.o.registry.Get(t.req.PluginID)
	if err != nil {
		return txn.Fail(err, txn.CodeUninstallUnexpected, step, "cannot read registry")
	}
	if !ok {
		return txn.Failf(helpers.ErrPluginNotFound, txn.CodeUninstallNotInstalled, step, "%s is not installed", t.req.PluginID)
	}
	t.rec = rec
	t.res.Version = rec.Version
	token := ConfirmationToken(rec)
	if t.req.DryRun {
		t.res.ConfirmationToken = token
	}

	switch {
	case t.req.Force:
		t.log.Warnf(step, "confirmation skipped (force)")
	case t.req.DryRun:
		t.log.Infof(step, "dry run: confirm with token %s", token)
	case t.req.ConfirmationToken == "":
		return txn.With(txn.Failf(nil, txn.CodeUninstallConfirm, step, "confirmation token required to uninstall %s", token),
			"expectedToken", token)
	case t.req.ConfirmationToken != token:
		return txn.With(txn.Failf(nil, txn.CodeUninstallConfirm, step, "confirmation token %q does not match %s", t.req.ConfirmationToken, token),
			"expectedToken", token)
	}
	t.log.Infof(step, "uninstalling %s", t.key())
	return nil
}

// consent locates the uninstall script, digests it and checks the caller's consent.
func (t *transaction) consent(_ context.Context) error {
	const step = txn.PhaseLifecyclePre
	m, err := manifest.Load(t.rec.CachePath)
	switch {
	case errors.Is(err, helpers.ErrManifestMissing):
		t.log.Warnf(step, "no manifest at %s; no uninstall script will run", t.rec.CachePath)
		return nil
	case err != nil && t.req.Force:
		t.log.Warnf(step, "manifest unreadable, continuing (force): %v", err)
		return nil
	case err != nil:
		return txn.Fail(err, txn.CodeUninstallManifest, step, "cannot read plugin manifest")
	}
	t.manifest = m
	if m.Script(manifest.HookUninstall) == "" {
		t.log.Infof(step, "no uninstall script declared")
		return nil
	}

	path, err := m.ScriptPath(t.rec.CachePath, manifest.HookUninstall)
	if err != nil {
		return txn.Fail(err, txn.CodeUninstallManifest, step, "invalid uninstall script path")
	}
	digest, err := fsutil.FileChecksum(path)
	if err != nil {
		return txn.Fail(err, txn.CodeUninstallManifest, step, "cannot digest uninstall script")
	}
	t.res.Script = &Script{Path: path, Digest: digest}

	switch {
	case t.req.DryRun:
		t.log.Infof(step, "uninstall script %s has digest %s", path, digest)
	case t.req.SkipScripts:
		t.log.Warnf(step, "uninstall script skipped")
	case t.req.ScriptDigest == "":
		return txn.With(txn.Failf(nil, txn.CodeUninstallConsent, step, "consent required to run uninstall script %s", path),
			"scriptDigest", digest)
	case t.req.ScriptDigest != digest:
		return txn.With(txn.Failf(nil, txn.CodeUninstallConsent, step, "script digest %s does not match %s", t.req.ScriptDigest, digest),
			"scriptDigest", digest)
	default:
		t.log.Infof(step, "consent given for uninstall script %s", digest)
	}
	return nil
}

func (t *transaction) runScript(ctx context.Context) error {
	const step = txn.PhaseLifecycle
	s := t.res.Script
	if s == nil || t.req.DryRun || t.req.SkipScripts {
		return nil
	}
	res, err := t.o.runner.Run(ctx, lifecycle.Script{
		Path:        s.Path,
		Dir:         t.rec.CachePath,
		Interpreter: t.manifest.Interpreter,
		Env:         lifecycle.Env(t.rec.PluginID, t.rec.Version, t.log.ID(), string(step), t.o.pluginDir),
	})
	s.Executed = true
	s.Result = &res
	if err != nil {
		s.Error = err.Error()
		t.log.Warnf(step, "uninstall script failed: %v", err)
		return nil
	}
	t.log.Infof(step, "uninstall script exited %d in %s", res.ExitCode, res.Duration)
	return nil
}

func (t *transaction) deactivate(_ context.Context) error {
	const step = txn.PhaseDeactivate
	link := t.o.LinkPath(t.rec.PluginID)
	if t.req.DryRun {
		if fsutil.Exists(link) {
			t.log.Infof(step, "would remove activation link %s", link)
		}
		return nil
	}
	removed, err := fsutil.RemoveSymlink(link)
	if err != nil {
		return txn.Fail(err, txn.CodeUninstallDeactivate, step, "cannot remove activation link")
	}
	t.res.Deactivated = removed
	if removed {
		t.log.Infof(step, "removed activation link %s", link)
	} else {
		t.log.Infof(step, "activation link already absent")
	}
	return nil
}

func (t *transaction) unregister(ctx context.Context) error {
	const step = txn.PhaseRegistryUpdate
	delta := &RegistryDelta{Action: "remove", PreviousVersion: t.rec.Version}
	t.res.Registry = delta
	if t.req.DryRun {
		t.log.Infof(step, "would remove %s from the registry", t.key())
		return nil
	}
	_, report, err := t.o.registry.Remove(ctx, t.rec.PluginID, t.o.writes)
	if err != nil {
		return txn.Fail(err, txn.CodeUninstallRegistry, step, "cannot remove registry record")
	}
	delta.BackupPath = report.BackupPath
	if report.ValidationFailed() {
		delta.ValidationErrors = report.Validation.Errors
		for _, problem := range report.Validation.Errors {
			t.log.Warnf(step, "registry validation: %s", problem)
		}
	}
	t.log.Infof(step, "removed %s from the registry", t.key())
	return nil
}

func (t *transaction) cleanup(ctx context.Context) error {
	const step = txn.PhaseCacheCleanup
	if t.req.Retention == KeepAll {
		t.log.Infof(step, "keeping every cached version (%s)", KeepAll)
		return nil
	}
	res, err := t.o.cache.TrimPlugin(ctx, t.rec.PluginID, t.req.KeepVersions, t.req.DryRun)
	if err != nil {
		t.log.Warnf(step, "cache cleanup failed: %v", err)
		return nil
	}
	t.res.Cache = &res
	verb := "removed"
	if t.req.DryRun {
		verb = "would remove"
	}
	t.log.Infof(step, "%s %d cached versions (%d bytes), keeping %d", verb, len(res.Removed), res.BytesFreed, len(res.Kept))
	return nil
}

func (t *transaction) telemetry(ctx context.Context) error {
	if t.req.DryRun {
		return nil
	}
	if err := t.o.registry.RecordTelemetry(ctx, t.rec.PluginID, string(audit.OpUninstall), true); err != nil {
		t.log.Warnf(txn.PhaseTelemetry, "cannot record telemetry: %v", err)
	}
	return nil
}

// String renders a one-line summary of the result.
func (r Result) String() string {
	key := helpers.EntryKey(r.PluginID, r.Version)
	switch {
	case !r.Success && r.Error != nil:
		return fmt.Sprintf("uninstall %s: failed %s (%s)", key, r.Error.Code, r.TransactionID)
	case r.DryRun:
		return fmt.Sprintf("uninstall %s: dry run ok, confirm with %s", key, r.ConfirmationToken)
	}
	return fmt.Sprintf("uninstall %s: ok (%s)", key, r.TransactionID)
}
