package install

import (
	"context"
	"errors"
	"fmt"

	"github.com/greeddj/go-plugctl/internal/plugctl/audit"
	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/registry"
	"github.com/greeddj/go-plugctl/internal/plugctl/txn"
	"github.com/greeddj/go-plugctl/internal/plugctl/version"
)

// RollbackRequest names the plugin to roll back and, optionally, the version to activate.
type RollbackRequest struct {
	PluginID string
	// TargetVersion defaults to the highest cached version below the installed one.
	TargetVersion string
}

// RollbackResult is returned by Rollback.
type RollbackResult struct {
	txn.Result
	PluginID    string         `json:"pluginId"`
	FromVersion string         `json:"fromVersion,omitempty"`
	ToVersion   string         `json:"toVersion,omitempty"`
	CachePath   string         `json:"cachePath,omitempty"`
	Registry    *RegistryDelta `json:"registryDelta,omitempty"`
}

// Rollback re-activates a cached older version without staging or promoting anything.
func (o *Orchestrator) Rollback(ctx context.Context, req RollbackRequest) (res RollbackResult) {
	started := o.now()
	log := txn.NewLog(helpers.NewTransactionID(started), o.now, o.out)
	res = RollbackResult{PluginID: req.PluginID}

	var (
		failure *txn.Error
		current txn.Phase = txn.PhaseValidate
	)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf(current, "unexpected failure: %v", r)
			failure = txn.Recovered(r, txn.CodeRollbackUnexpected, current)
		}
		res.Result = log.Finish(started, failure)
		o.record(audit.Record{
			Operation:     audit.OpRollback,
			TransactionID: log.ID(),
			PluginID:      req.PluginID,
			Version:       res.ToVersion,
			StartedAt:     started.UTC(),
			Success:       failure == nil,
			Error:         failure,
			Messages:      res.Messages,
			RegistryDelta: res.Registry,
		})
	}()

	fail := func(err error) RollbackResult {
		failure = txn.ToError(err, txn.CodeRollbackUnexpected, current)
		log.Errorf(failure.FailedStep, "%s: %s", failure.Code, failure.Message)
		return res
	}

	rec, err := o.rollbackTarget(req, log, &res)
	if err != nil {
		return fail(err)
	}

	current = txn.PhaseRetrieve
	path, err := o.cache.Retrieve(ctx, req.PluginID, res.ToVersion)
	if err != nil {
		return fail(txn.Failf(err, txn.CodeCacheNotRetrievable, current,
			"%s is not retrievable from cache", helpers.EntryKey(req.PluginID, res.ToVersion)))
	}
	res.CachePath = path
	log.Infof(current, "retrieved %s from %s", helpers.EntryKey(req.PluginID, res.ToVersion), path)

	current = txn.PhaseActivate
	if err := o.activateCached(ctx, rec, res.ToVersion, path, log, &res); err != nil {
		return fail(err)
	}

	current = txn.PhaseTelemetry
	if err := o.registry.RecordTelemetry(ctx, req.PluginID, string(audit.OpRollback), true); err != nil {
		log.Warnf(current, "cannot record telemetry: %v", err)
	}
	log.Infof(current, "rolled back %s from %s to %s", req.PluginID, res.FromVersion, res.ToVersion)
	return res
}

// rollbackTarget resolves the installed record and the version to activate.
func (o *Orchestrator) rollbackTarget(req RollbackRequest, log *txn.Log, res *RollbackResult) (registry.Plugin, error) {
	const step = txn.PhaseValidate
	rec, ok, err := o.registry.Get(req.PluginID)
	if err != nil {
		return rec, txn.Fail(err, txn.CodeRollbackUnexpected, step, "cannot read registry")
	}
	if !ok {
		return rec, txn.Failf(helpers.ErrPluginNotFound, txn.CodeRollbackNotInstalled, step, "%s is not installed", req.PluginID)
	}
	res.FromVersion = rec.Version

	target := req.TargetVersion
	if target == "" {
		versions, err := o.cache.Versions(req.PluginID)
		if err != nil {
			return rec, txn.Fail(err, txn.CodeRollbackUnexpected, step, "cannot read cache index")
		}
		below, found := version.HighestBelow(versions, rec.Version)
		if !found {
			return rec, txn.Failf(nil, txn.CodeRollbackNoTarget, step,
				"no cached version of %s older than %s", req.PluginID, rec.Version)
		}
		target = below
	} else if target == rec.Version {
		return rec, txn.Failf(nil, txn.CodeRollbackSameVersion, step, "%s is already active", helpers.EntryKey(req.PluginID, target))
	}
	res.ToVersion = target
	log.Infof(step, "rolling back %s from %s to %s", req.PluginID, rec.Version, target)
	return rec, nil
}

// activateCached points the cache current marker, the activation link and the registry record at ver.
// Each step is undone when a later one fails.
func (o *Orchestrator) activateCached(ctx context.Context, rec registry.Plugin, ver, path string, log *txn.Log, res *RollbackResult) error {
	const step = txn.PhaseActivate
	if err := o.cache.MarkCurrent(ctx, rec.PluginID, ver); err != nil {
		return txn.Fail(err, txn.CodeRollbackActivate, step, "cannot mark cached version current")
	}
	restoreCurrent := func() {
		if err := o.cache.MarkCurrent(ctx, rec.PluginID, rec.Version); err != nil && !errors.Is(err, helpers.ErrNotCached) {
			log.Warnf(step, "cannot restore current version: %v", err)
		}
	}

	link := o.LinkPath(rec.PluginID)
	if err := fsutil.ReplaceSymlink(path, link); err != nil {
		restoreCurrent()
		return txn.Fail(err, txn.CodeRollbackActivate, step, "cannot repoint activation link")
	}

	delta := &RegistryDelta{Action: "rollback", PreviousVersion: rec.Version, TargetVersion: ver}
	res.Registry = delta
	report, err := o.registry.Update(ctx, rec.PluginID, o.writeOptions(), func(p *registry.Plugin) {
		p.Version = ver
		p.CachePath = path
		p.InstallState = registry.StateInstalled
		p.TransactionID = log.ID()
		p.SymlinkTarget = link
	})
	if err != nil {
		if rec.CachePath != "" {
			if lerr := fsutil.ReplaceSymlink(rec.CachePath, link); lerr != nil {
				log.Warnf(step, "cannot restore activation link: %v", lerr)
			}
		}
		restoreCurrent()
		return txn.Fail(err, txn.CodeRollbackActivate, step, "cannot update registry record")
	}
	applyReport(log, step, delta, report)
	log.Infof(step, "activated %s", helpers.EntryKey(rec.PluginID, ver))
	return nil
}

// String renders a one-line summary of the result.
func (r RollbackResult) String() string {
	if r.Success {
		return fmt.Sprintf("rollback %s: %s -> %s (%s)", r.PluginID, r.FromVersion, r.ToVersion, r.TransactionID)
	}
	code := ""
	if r.Error != nil {
		code = r.Error.Code
	}
	return fmt.Sprintf("rollback %s: failed %s (%s)", r.PluginID, code, r.TransactionID)
}
