package cache

import (
	"context"
	"fmt"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
)

// Pin protects pluginID@ver from eviction. Pinning an absent entry reports NOT_CACHED.
func (e *Engine) Pin(ctx context.Context, pluginID, ver string) (PinResult, error) {
	return e.setPinned(ctx, pluginID, ver, true)
}

// Unpin clears the pin on pluginID@ver. An absent entry is a no-op.
func (e *Engine) Unpin(ctx context.Context, pluginID, ver string) (PinResult, error) {
	return e.setPinned(ctx, pluginID, ver, false)
}

func (e *Engine) setPinned(ctx context.Context, pluginID, ver string, pinned bool) (PinResult, error) {
	var res PinResult
	err := e.mutate(ctx, func(idx *Index) error {
		i, ok := idx.find(pluginID, ver)
		if !ok {
			if !pinned {
				res.WasNoOp = true
				return errUnchanged
			}
			return fmt.Errorf("%w: %s", helpers.ErrNotCached, helpers.EntryKey(pluginID, ver))
		}
		entry := &idx.Entries[pluginID][i]
		if entry.Pinned == pinned {
			res.WasNoOp = true
			return errUnchanged
		}
		entry.Pinned = pinned
		return nil
	})
	return res, err
}

// MarkCurrent makes pluginID@ver the current version so eviction protects it.
func (e *Engine) MarkCurrent(ctx context.Context, pluginID, ver string) error {
	return e.mutate(ctx, func(idx *Index) error {
		if _, ok := idx.find(pluginID, ver); !ok {
			return fmt.Errorf("%w: %s", helpers.ErrNotCached, helpers.EntryKey(pluginID, ver))
		}
		idx.setCurrent(pluginID, ver)
		return nil
	})
}

// RemoveEntry deletes pluginID@ver from disk and the index regardless of pins.
// It returns the bytes freed, or NOT_CACHED when there is no such entry.
func (e *Engine) RemoveEntry(ctx context.Context, pluginID, ver string) (int64, error) {
	var freed int64
	err := e.mutateTree(ctx, func(idx *Index, ops *treeOps) error {
		i, ok := idx.find(pluginID, ver)
		if !ok {
			return fmt.Errorf("%w: %s", helpers.ErrNotCached, helpers.EntryKey(pluginID, ver))
		}
		entry := idx.Entries[pluginID][i]
		if err := e.parkTree(ops, entry); err != nil {
			return err
		}
		idx.remove(pluginID, ver)
		freed = entry.SizeBytes
		return nil
	})
	return freed, err
}

// TrimPlugin keeps the keep highest unpinned versions of pluginID and removes the rest.
// Pinned entries always stay. With dryRun the plan is computed without mutating anything.
func (e *Engine) TrimPlugin(ctx context.Context, pluginID string, keep int, dryRun bool) (TrimResult, error) {
	if keep < 0 {
		keep = 0
	}
	plan := func(idx *Index) ([]Entry, TrimResult) {
		res := TrimResult{DryRun: dryRun, Kept: []string{}, Removed: []string{}}
		var drop []Entry
		budget := keep
		for _, entry := range sortedDesc(idx.Entries[pluginID]) {
			key := helpers.EntryKey(pluginID, entry.Version)
			if entry.Pinned || budget > 0 {
				if !entry.Pinned {
					budget--
				}
				res.Kept = append(res.Kept, key)
				continue
			}
			drop = append(drop, entry)
			res.Removed = append(res.Removed, key)
			res.BytesFreed += entry.SizeBytes
		}
		return drop, res
	}

	if dryRun {
		idx, err := e.view()
		if err != nil {
			return TrimResult{}, err
		}
		_, res := plan(idx)
		return res, nil
	}

	var res TrimResult
	err := e.mutateTree(ctx, func(idx *Index, ops *treeOps) error {
		var drop []Entry
		drop, res = plan(idx)
		now := e.timestamp()
		var records []EvictionLogEntry
		res.Removed = res.Removed[:0]
		res.BytesFreed = 0
		for _, entry := range drop {
			before := idx.TotalSizeBytes
			if err := e.parkTree(ops, entry); err != nil {
				e.out.Debugf("trim of %s skipped: %v", helpers.EntryKey(pluginID, entry.Version), err)
				res.Kept = append(res.Kept, helpers.EntryKey(pluginID, entry.Version))
				continue
			}
			idx.remove(pluginID, entry.Version)
			res.Removed = append(res.Removed, helpers.EntryKey(pluginID, entry.Version))
			res.BytesFreed += entry.SizeBytes
			records = append(records, EvictionLogEntry{
				EvictedAt:       now,
				PluginID:        pluginID,
				Version:         entry.Version,
				Reason:          ReasonVersionLimit,
				BytesFreed:      entry.SizeBytes,
				CacheSizeBefore: before,
				CacheSizeAfter:  idx.TotalSizeBytes,
			})
		}
		idx.appendLog(records...)
		return nil
	})
	return res, err
}
