package install

import (
	"context"
	"os"

	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/manifest"
	"github.com/greeddj/go-plugctl/internal/plugctl/registry"
	"github.com/greeddj/go-plugctl/internal/plugctl/txn"
)

// VerifyResult is the read-only health report of one installed plugin.
type VerifyResult struct {
	PluginID  string     `json:"pluginId"`
	Version   string     `json:"version,omitempty"`
	CachePath string     `json:"cachePath,omitempty"`
	Valid     bool       `json:"valid"`
	Errors    []string   `json:"errors,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
	Error     *txn.Error `json:"error,omitempty"`
}

// Verify cross-checks the registry record of pluginID against the cache. Nothing is mutated.
func (o *Orchestrator) Verify(_ context.Context, pluginID string) VerifyResult {
	res := VerifyResult{PluginID: pluginID}
	rec, ok, err := o.registry.Get(pluginID)
	if err != nil {
		res.Error = txn.ToError(err, txn.CodeInstallUnexpected, txn.PhaseValidate)
		return res
	}
	if !ok {
		res.Error = txn.ToError(txn.Failf(helpers.ErrPluginNotFound, txn.CodeVerifyNotInstalled, txn.PhaseValidate,
			"%s is not installed", pluginID), txn.CodeVerifyNotInstalled, txn.PhaseValidate)
		return res
	}
	o.verifyRecord(rec, &res)
	res.Valid = len(res.Errors) == 0
	return res
}

// VerifyAll verifies every registered plugin.
func (o *Orchestrator) VerifyAll(ctx context.Context) ([]VerifyResult, error) {
	plugins, err := o.registry.List()
	if err != nil {
		return nil, err
	}
	out := make([]VerifyResult, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, o.Verify(ctx, p.PluginID))
	}
	return out, nil
}

func (o *Orchestrator) verifyRecord(rec registry.Plugin, res *VerifyResult) {
	res.Version = rec.Version
	res.CachePath = rec.CachePath
	key := helpers.EntryKey(rec.PluginID, rec.Version)

	if rec.InstallState != registry.StateInstalled {
		res.Warnings = append(res.Warnings, "install state is "+string(rec.InstallState))
	}

	entry, cached, err := o.cache.GetEntry(rec.PluginID, rec.Version)
	switch {
	case err != nil:
		res.Errors = append(res.Errors, "cannot read cache index: "+err.Error())
	case !cached:
		res.Errors = append(res.Errors, key+" has no cache entry")
	default:
		if entry.CachePath != rec.CachePath {
			res.Errors = append(res.Errors, "registry path "+rec.CachePath+" differs from cache path "+entry.CachePath)
		}
		if !entry.IsCurrentVersion {
			res.Warnings = append(res.Warnings, key+" is not the current cache version")
		}
	}

	if !fsutil.Exists(rec.CachePath) {
		res.Errors = append(res.Errors, "cache path "+rec.CachePath+" is missing")
		return
	}
	if cached {
		sum, err := fsutil.DirChecksum(rec.CachePath)
		switch {
		case err != nil:
			res.Warnings = append(res.Warnings, "cannot checksum "+rec.CachePath+": "+err.Error())
		case sum != entry.Checksum:
			res.Warnings = append(res.Warnings, key+" content drifted from its cached checksum")
		}
	}

	link := o.LinkPath(rec.PluginID)
	target, err := os.Readlink(link)
	switch {
	case err != nil:
		res.Warnings = append(res.Warnings, "activation link "+link+" is missing")
	case target != rec.CachePath:
		res.Warnings = append(res.Warnings, "activation link points at "+target)
	}

	if m, err := manifest.Load(rec.CachePath); err != nil {
		res.Warnings = append(res.Warnings, err.Error())
	} else if err := m.Validate(); err != nil {
		res.Warnings = append(res.Warnings, err.Error())
	}
}
