package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
)

// CleanupOrphanedTemp removes staging directories older than olderThan.
// A zero olderThan removes every staging directory.
func (e *Engine) CleanupOrphanedTemp(_ context.Context, olderThan time.Duration) (CleanupResult, error) {
	res := CleanupResult{Removed: []string{}}
	entries, err := os.ReadDir(e.tmpRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil
		}
		return res, err
	}
	cutoff := e.now().Add(-olderThan)
	for _, entry := range entries {
		path := filepath.Join(e.tmpRoot, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if olderThan > 0 && info.ModTime().After(cutoff) {
			continue
		}
		var size int64
		if entry.IsDir() {
			size, _ = fsutil.DirSize(path)
		} else {
			size = info.Size()
		}
		if err := os.RemoveAll(path); err != nil {
			e.out.Debugf("failed to remove orphaned staging %s: %v", path, err)
			continue
		}
		res.Removed = append(res.Removed, entry.Name())
		res.BytesFreed += size
	}
	return res, nil
}

// RebuildIndex rescans the cache tree and replaces the index.
// Pins, access times and the eviction log survive from the previous index when it is readable.
func (e *Engine) RebuildIndex(ctx context.Context) (RebuildResult, error) {
	var res RebuildResult
	err := e.mutate(ctx, func(idx *Index) error {
		rebuilt, skipped := e.scan(idx)
		*idx = *rebuilt
		idx.recomputeTotal()
		res = RebuildResult{
			Entries:        countEntries(idx),
			Plugins:        len(idx.Entries),
			TotalSizeBytes: idx.TotalSizeBytes,
			Skipped:        skipped,
		}
		return nil
	})
	return res, err
}

// scan builds an index from the filesystem. Each plugin's highest version is current.
func (e *Engine) scan(prev *Index) (*Index, []string) {
	out := newIndex()
	if prev != nil {
		out.EvictionLog = prev.clone().EvictionLog
	}
	var skipped []string
	now := e.timestamp()
	pluginIDs, err := fsutil.ListDirs(e.root)
	if err != nil {
		return out, []string{err.Error()}
	}
	for _, id := range pluginIDs {
		if helpers.ValidatePluginID(id) != nil {
			skipped = append(skipped, id)
			continue
		}
		versions, err := fsutil.ListDirs(filepath.Join(e.root, id))
		if err != nil {
			skipped = append(skipped, id)
			continue
		}
		for _, ver := range versions {
			if checkRef(id, ver) != nil || strings.Contains(ver, parkedMarker) {
				skipped = append(skipped, filepath.Join(id, ver))
				continue
			}
			path := e.EntryPath(id, ver)
			size, err := fsutil.DirSize(path)
			if err != nil {
				skipped = append(skipped, filepath.Join(id, ver))
				continue
			}
			sum, err := fsutil.DirChecksum(path)
			if err != nil {
				skipped = append(skipped, filepath.Join(id, ver))
				continue
			}
			entry := Entry{
				PluginID:       id,
				Version:        ver,
				CachePath:      path,
				SizeBytes:      size,
				Checksum:       sum,
				CachedAt:       now,
				LastAccessTime: now,
			}
			if prev != nil {
				if i, ok := prev.find(id, ver); ok {
					old := prev.Entries[id][i]
					entry.Pinned = old.Pinned
					entry.CachedAt = old.CachedAt
					entry.LastAccessTime = old.LastAccessTime
					entry.TransactionID = old.TransactionID
				}
			}
			out.Entries[id] = append(out.Entries[id], entry)
		}
		out.electCurrent(id)
	}
	out.recomputeTotal()
	return out, skipped
}

// ValidateIntegrity compares the index with the filesystem without changing either.
func (e *Engine) ValidateIntegrity(_ context.Context) (IntegrityReport, error) {
	idx, err := e.readIndex()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return IntegrityReport{Valid: true}, nil
		}
		return IntegrityReport{Errors: []string{err.Error()}}, nil
	}
	report := IntegrityReport{}
	var sum int64
	for _, id := range sortedKeys(idx.Entries) {
		current := 0
		seen := make(map[string]bool)
		for _, entry := range idx.Entries[id] {
			key := helpers.EntryKey(id, entry.Version)
			report.Checked++
			sum += entry.SizeBytes
			if entry.IsCurrentVersion {
				current++
			}
			if seen[entry.Version] {
				report.Errors = append(report.Errors, "duplicate entry "+key)
			}
			seen[entry.Version] = true
			if _, err := os.Stat(entry.CachePath); err != nil {
				report.Missing = append(report.Missing, key)
				continue
			}
			got, err := fsutil.DirChecksum(entry.CachePath)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", key, err))
				continue
			}
			if got != entry.Checksum {
				report.Drifted = append(report.Drifted, key)
			}
		}
		if current != 1 {
			report.Errors = append(report.Errors, fmt.Sprintf("%s has %d current versions", id, current))
		}
	}
	if sum != idx.TotalSizeBytes {
		report.Errors = append(report.Errors, fmt.Sprintf("totalSizeBytes %d does not match entries %d", idx.TotalSizeBytes, sum))
	}
	report.Valid = len(report.Missing) == 0 && len(report.Drifted) == 0 && len(report.Errors) == 0
	return report, nil
}

// ListEntries returns the entries of pluginID, highest version first.
func (e *Engine) ListEntries(pluginID string) ([]Entry, error) {
	idx, err := e.view()
	if err != nil {
		return nil, err
	}
	return sortedDesc(idx.Entries[pluginID]), nil
}

// ListPlugins returns every plugin id with at least one cached entry.
func (e *Engine) ListPlugins() ([]string, error) {
	idx, err := e.view()
	if err != nil {
		return nil, err
	}
	return sortedKeys(idx.Entries), nil
}

// GetEntry returns pluginID@ver from the in-process view.
func (e *Engine) GetEntry(pluginID, ver string) (Entry, bool, error) {
	idx, err := e.view()
	if err != nil {
		return Entry{}, false, err
	}
	i, ok := idx.find(pluginID, ver)
	if !ok {
		return Entry{}, false, nil
	}
	return idx.Entries[pluginID][i], true, nil
}

// Versions returns the cached versions of pluginID, highest first.
func (e *Engine) Versions(pluginID string) ([]string, error) {
	entries, err := e.ListEntries(pluginID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Version)
	}
	return out, nil
}

// EvictionLog returns the eviction log, most recent first.
func (e *Engine) EvictionLog() ([]EvictionLogEntry, error) {
	idx, err := e.view()
	if err != nil {
		return nil, err
	}
	return idx.EvictionLog, nil
}

// Stats summarizes the in-process view.
func (e *Engine) Stats() (Stats, error) {
	idx, err := e.view()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		TotalSizeBytes: idx.TotalSizeBytes,
		MaxSizeBytes:   e.maxSize,
		PluginCount:    len(idx.Entries),
	}
	for _, entries := range idx.Entries {
		for _, entry := range entries {
			st.EntryCount++
			if entry.Pinned {
				st.PinnedCount++
			}
		}
	}
	st.OverLimit = st.TotalSizeBytes > st.MaxSizeBytes
	if st.MaxSizeBytes > 0 {
		st.UsagePercent = float64(st.TotalSizeBytes) * 100 / float64(st.MaxSizeBytes)
	}
	return st, nil
}

func countEntries(idx *Index) int {
	n := 0
	for _, entries := range idx.Entries {
		n += len(entries)
	}
	return n
}
