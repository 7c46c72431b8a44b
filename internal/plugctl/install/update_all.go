package install

import (
	"context"
	"sort"
	"sync"

	"github.com/greeddj/go-plugctl/internal/plugctl/archive"
	"github.com/greeddj/go-plugctl/internal/plugctl/manifest"
	"golang.org/x/sync/errgroup"
)

// Skip explains why UpdateAll left a request alone.
type Skip struct {
	Source   string `json:"source"`
	PluginID string `json:"pluginId,omitempty"`
	Reason   string `json:"reason"`
}

// BatchResult aggregates UpdateAll outcomes. One failure never blocks the others.
type BatchResult struct {
	Succeeded []Result `json:"succeeded"`
	Failed    []Result `json:"failed"`
	Skipped   []Skip   `json:"skipped"`
}

// UpdateAll updates every requested plugin concurrently. Pinned and unregistered
// plugins are skipped, as are requests whose version is already active.
func (o *Orchestrator) UpdateAll(ctx context.Context, reqs []Request) BatchResult {
	out := BatchResult{Succeeded: []Result{}, Failed: []Result{}, Skipped: []Skip{}}
	var (
		mu   sync.Mutex
		g    errgroup.Group
		seen = map[string]bool{}
	)
	if o.workers > 0 {
		g.SetLimit(o.workers)
	}

	for _, req := range reqs {
		if skip, ok := o.shouldSkip(ctx, req, seen); ok {
			out.Skipped = append(out.Skipped, skip)
			continue
		}
		// Failures land in out.Failed; the group never sees an error.
		g.Go(func() error {
			res := o.Update(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if res.Success {
				out.Succeeded = append(out.Succeeded, res)
				o.out.PersistentPrintf("✅ Updated: %s", res)
			} else {
				out.Failed = append(out.Failed, res)
				o.out.PersistentPrintf("❌ Failed: %s", res)
			}
			return nil
		})
	}
	_ = g.Wait()

	byID := func(rs []Result) func(i, j int) bool {
		return func(i, j int) bool { return rs[i].PluginID < rs[j].PluginID }
	}
	sort.Slice(out.Succeeded, byID(out.Succeeded))
	sort.Slice(out.Failed, byID(out.Failed))
	return out
}

// shouldSkip resolves the plugin a request targets and reports whether it must be left alone.
// Unreadable sources are not skipped so that Update reports them as failures.
func (o *Orchestrator) shouldSkip(ctx context.Context, req Request, seen map[string]bool) (Skip, bool) {
	id, ver := req.PluginID, req.Version
	if id == "" || ver == "" {
		m, err := peekManifest(ctx, req.Source)
		if err != nil {
			return Skip{}, false
		}
		if id == "" {
			id = m.ID
		}
		if ver == "" {
			ver = m.Version
		}
	}
	skip := Skip{Source: req.Source, PluginID: id}
	if seen[id] {
		skip.Reason = "duplicate request"
		return skip, true
	}
	seen[id] = true

	rec, ok, err := o.registry.Get(id)
	switch {
	case err != nil:
		return Skip{}, false
	case !ok:
		skip.Reason = "not installed"
	case rec.Pinned:
		skip.Reason = "pinned at " + rec.Version
	case rec.Version == ver:
		skip.Reason = "already at " + ver
	default:
		return Skip{}, false
	}
	return skip, true
}

func peekManifest(ctx context.Context, source string) (*manifest.Manifest, error) {
	if archive.IsTarGz(source) {
		data, err := archive.ReadManifest(ctx, source)
		if err != nil {
			return nil, err
		}
		return manifest.Parse(data)
	}
	return manifest.Load(source)
}
