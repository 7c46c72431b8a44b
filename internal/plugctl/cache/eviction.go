package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
)

// Evict runs a global eviction pass against the byte cap.
func (e *Engine) Evict(ctx context.Context) (EvictResult, error) {
	var res EvictResult
	err := e.mutateTree(ctx, func(idx *Index, ops *treeOps) error {
		res = e.evict(idx, ops)
		return nil
	})
	return res, err
}

type candidate struct {
	entry  Entry
	reason EvictionReason
}

// evict removes least recently used candidates until the index fits under the cap.
//
// A candidate is any entry ranked at or beyond the rollback floor within its
// plugin (highest version first) that is neither pinned nor current. Entries
// ranked beyond the retention count are logged as VERSION_LIMIT, the rest as
// SIZE_LIMIT. Every pinned entry is logged as PIN_PROTECTED once per triggered pass.
func (e *Engine) evict(idx *Index, ops *treeOps) EvictResult {
	idx.recomputeTotal()
	if idx.TotalSizeBytes <= e.maxSize {
		return EvictResult{}
	}
	res := EvictResult{EvictionTriggered: true, Reason: ReasonSizeLimit}
	now := e.timestamp()
	var records []EvictionLogEntry

	var candidates []candidate
	pluginIDs := sortedKeys(idx.Entries)
	for _, id := range pluginIDs {
		for rank, entry := range sortedDesc(idx.Entries[id]) {
			if entry.Pinned {
				res.PinProtected = append(res.PinProtected, helpers.EntryKey(id, entry.Version))
				records = append(records, EvictionLogEntry{
					EvictedAt:       now,
					PluginID:        id,
					Version:         entry.Version,
					Reason:          ReasonPinProtected,
					WasPinned:       true,
					CacheSizeBefore: idx.TotalSizeBytes,
					CacheSizeAfter:  idx.TotalSizeBytes,
				})
				continue
			}
			if rank < e.floor || entry.IsCurrentVersion {
				continue
			}
			reason := ReasonSizeLimit
			if rank >= e.retention {
				reason = ReasonVersionLimit
			}
			candidates = append(candidates, candidate{entry: entry, reason: reason})
		}
	}

	slices.SortStableFunc(candidates, func(a, b candidate) int {
		if c := a.entry.LastAccessTime.Compare(b.entry.LastAccessTime); c != 0 {
			return c
		}
		if c := strings.Compare(a.entry.PluginID, b.entry.PluginID); c != 0 {
			return c
		}
		return strings.Compare(a.entry.Version, b.entry.Version)
	})

	for _, c := range candidates {
		if idx.TotalSizeBytes <= e.maxSize {
			break
		}
		before := idx.TotalSizeBytes
		if err := e.parkTree(ops, c.entry); err != nil {
			e.out.Debugf("eviction of %s skipped: %v", helpers.EntryKey(c.entry.PluginID, c.entry.Version), err)
			continue
		}
		idx.remove(c.entry.PluginID, c.entry.Version)
		res.BytesFreed += c.entry.SizeBytes
		res.EntriesEvicted++
		res.Evicted = append(res.Evicted, helpers.EntryKey(c.entry.PluginID, c.entry.Version))
		records = append(records, EvictionLogEntry{
			EvictedAt:       now,
			PluginID:        c.entry.PluginID,
			Version:         c.entry.Version,
			Reason:          c.reason,
			BytesFreed:      c.entry.SizeBytes,
			CacheSizeBefore: before,
			CacheSizeAfter:  idx.TotalSizeBytes,
		})
	}
	res.StillOverLimit = idx.TotalSizeBytes > e.maxSize
	idx.appendLog(records...)
	e.out.Debugf("eviction freed %d bytes across %d entries", res.BytesFreed, res.EntriesEvicted)
	return res
}

// enforceRetention trims pluginID to the retention count. Pinned entries and the
// current entry always stay; the remaining slots go to the highest versions.
func (e *Engine) enforceRetention(idx *Index, ops *treeOps, pluginID string) []string {
	entries := sortedDesc(idx.Entries[pluginID])
	budget := e.retention
	for _, entry := range entries {
		if entry.Pinned || entry.IsCurrentVersion {
			budget--
		}
	}
	now := e.timestamp()
	var (
		removed []string
		records []EvictionLogEntry
	)
	for _, entry := range entries {
		if entry.Pinned || entry.IsCurrentVersion {
			continue
		}
		if budget > 0 {
			budget--
			continue
		}
		before := idx.TotalSizeBytes
		if err := e.parkTree(ops, entry); err != nil {
			e.out.Debugf("retention of %s skipped: %v", helpers.EntryKey(pluginID, entry.Version), err)
			continue
		}
		idx.remove(pluginID, entry.Version)
		removed = append(removed, helpers.EntryKey(pluginID, entry.Version))
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
	return removed
}

// parkTree sets an entry's directory aside for deletion once the index is written.
// An entry whose directory is already gone has nothing to park.
func (e *Engine) parkTree(ops *treeOps, entry Entry) error {
	path := entry.CachePath
	if !e.within(path) {
		path = e.EntryPath(entry.PluginID, entry.Version)
	}
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return ops.park(path)
}

// within reports whether path sits strictly below the cache root.
func (e *Engine) within(path string) bool {
	if path == "" {
		return false
	}
	rel, err := filepath.Rel(e.root, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func sortedKeys(m map[string][]Entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
