package cache

import (
	"slices"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/version"
)

// EvictionReason explains an eviction log entry.
type EvictionReason string

const (
	// ReasonSizeLimit marks removals driven by the global byte cap.
	ReasonSizeLimit EvictionReason = "SIZE_LIMIT"
	// ReasonVersionLimit marks removals beyond the per-plugin retention count.
	ReasonVersionLimit EvictionReason = "VERSION_LIMIT"
	// ReasonPinProtected marks pinned entries skipped by an eviction run.
	ReasonPinProtected EvictionReason = "PIN_PROTECTED"
)

// Entry is one cached artifact for a plugin version.
type Entry struct {
	PluginID         string    `json:"pluginId"`
	Version          string    `json:"version"`
	CachePath        string    `json:"cachePath"`
	SizeBytes        int64     `json:"sizeBytes"`
	Checksum         string    `json:"checksum"`
	CachedAt         time.Time `json:"cachedAt"`
	LastAccessTime   time.Time `json:"lastAccessTime"`
	Pinned           bool      `json:"pinned"`
	IsCurrentVersion bool      `json:"isCurrentVersion"`
	TransactionID    string    `json:"transactionId,omitempty"`
}

// EvictionLogEntry records a single eviction decision.
type EvictionLogEntry struct {
	EvictedAt       time.Time      `json:"evictedAt"`
	PluginID        string         `json:"pluginId"`
	Version         string         `json:"version"`
	Reason          EvictionReason `json:"reason"`
	BytesFreed      int64          `json:"bytesFreed"`
	WasPinned       bool           `json:"wasPinned"`
	CacheSizeBefore int64          `json:"cacheSizeBefore"`
	CacheSizeAfter  int64          `json:"cacheSizeAfter"`
}

// Index is the persisted cache index.
type Index struct {
	Version        string             `json:"version"`
	LastUpdated    time.Time          `json:"lastUpdated"`
	TotalSizeBytes int64              `json:"totalSizeBytes"`
	Entries        map[string][]Entry `json:"entries"`
	EvictionLog    []EvictionLogEntry `json:"evictionLog"`
}

// StageOptions tunes Stage.
type StageOptions struct {
	// TransactionID names the staging directory. A new one is generated when empty.
	TransactionID string
}

// StageResult is returned by Stage.
type StageResult struct {
	StagingPath   string `json:"stagingPath"`
	TransactionID string `json:"transactionId"`
}

// PromoteOptions tunes Promote.
type PromoteOptions struct {
	SkipEviction  bool
	TransactionID string
}

// PromoteResult is returned by Promote.
type PromoteResult struct {
	CachePath         string       `json:"cachePath"`
	Checksum          string       `json:"checksum"`
	SizeBytes         int64        `json:"sizeBytes"`
	EvictionTriggered bool         `json:"evictionTriggered"`
	Replaced          bool         `json:"replaced"`
	RetentionEvicted  []string     `json:"retentionEvicted,omitempty"`
	Eviction          *EvictResult `json:"eviction,omitempty"`
}

// PinResult is returned by Pin and Unpin.
type PinResult struct {
	WasNoOp bool `json:"wasNoOp"`
}

// EvictResult is returned by Evict.
type EvictResult struct {
	EvictionTriggered bool           `json:"evictionTriggered"`
	BytesFreed        int64          `json:"bytesFreed"`
	EntriesEvicted    int            `json:"entriesEvicted"`
	Reason            EvictionReason `json:"reason,omitempty"`
	Evicted           []string       `json:"evicted,omitempty"`
	PinProtected      []string       `json:"pinProtected,omitempty"`
	// StillOverLimit is set when candidates ran out before the cap was met.
	StillOverLimit bool `json:"stillOverLimit"`
}

// TrimResult is returned by TrimPlugin.
type TrimResult struct {
	Kept       []string `json:"kept"`
	Removed    []string `json:"removed"`
	BytesFreed int64    `json:"bytesFreed"`
	DryRun     bool     `json:"dryRun"`
}

// CleanupResult is returned by CleanupOrphanedTemp.
type CleanupResult struct {
	Removed    []string `json:"removed"`
	BytesFreed int64    `json:"bytesFreed"`
}

// RebuildResult is returned by RebuildIndex.
type RebuildResult struct {
	Entries        int      `json:"entries"`
	Plugins        int      `json:"plugins"`
	TotalSizeBytes int64    `json:"totalSizeBytes"`
	Skipped        []string `json:"skipped,omitempty"`
}

// IntegrityReport is returned by ValidateIntegrity.
type IntegrityReport struct {
	Valid   bool     `json:"valid"`
	Checked int      `json:"checked"`
	Missing []string `json:"missing,omitempty"`
	Drifted []string `json:"drifted,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Stats summarizes cache usage.
type Stats struct {
	TotalSizeBytes int64   `json:"totalSizeBytes"`
	MaxSizeBytes   int64   `json:"maxSizeBytes"`
	EntryCount     int     `json:"entryCount"`
	PluginCount    int     `json:"pluginCount"`
	PinnedCount    int     `json:"pinnedCount"`
	OverLimit      bool    `json:"overLimit"`
	UsagePercent   float64 `json:"usagePercent"`
}

func newIndex() *Index {
	return &Index{
		Version:     indexVersion,
		Entries:     make(map[string][]Entry),
		EvictionLog: []EvictionLogEntry{},
	}
}

func (idx *Index) clone() *Index {
	out := &Index{
		Version:        idx.Version,
		LastUpdated:    idx.LastUpdated,
		TotalSizeBytes: idx.TotalSizeBytes,
		Entries:        make(map[string][]Entry, len(idx.Entries)),
		EvictionLog:    slices.Clone(idx.EvictionLog),
	}
	for id, entries := range idx.Entries {
		out.Entries[id] = slices.Clone(entries)
	}
	if out.EvictionLog == nil {
		out.EvictionLog = []EvictionLogEntry{}
	}
	return out
}

// recomputeTotal restores the invariant that the total equals the sum of entry sizes.
func (idx *Index) recomputeTotal() {
	var total int64
	for id, entries := range idx.Entries {
		if len(entries) == 0 {
			delete(idx.Entries, id)
			continue
		}
		for _, e := range entries {
			total += e.SizeBytes
		}
	}
	idx.TotalSizeBytes = total
}

func (idx *Index) find(pluginID, ver string) (int, bool) {
	for i, e := range idx.Entries[pluginID] {
		if e.Version == ver {
			return i, true
		}
	}
	return -1, false
}

func (idx *Index) remove(pluginID, ver string) (Entry, bool) {
	i, ok := idx.find(pluginID, ver)
	if !ok {
		return Entry{}, false
	}
	entries := idx.Entries[pluginID]
	removed := entries[i]
	entries = slices.Delete(entries, i, i+1)
	if len(entries) == 0 {
		delete(idx.Entries, pluginID)
	} else {
		idx.Entries[pluginID] = entries
	}
	idx.TotalSizeBytes -= removed.SizeBytes
	if removed.IsCurrentVersion {
		idx.electCurrent(pluginID)
	}
	return removed, true
}

// setCurrent marks ver as the only current entry of pluginID.
func (idx *Index) setCurrent(pluginID, ver string) {
	entries := idx.Entries[pluginID]
	for i := range entries {
		entries[i].IsCurrentVersion = entries[i].Version == ver
	}
}

// electCurrent marks the highest version current when no entry is.
func (idx *Index) electCurrent(pluginID string) {
	entries := idx.Entries[pluginID]
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		if e.IsCurrentVersion {
			return
		}
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		versions = append(versions, e.Version)
	}
	if best, ok := version.Highest(versions); ok {
		idx.setCurrent(pluginID, best)
	}
}

// sortedDesc returns a copy of a plugin's entries, highest version first.
func sortedDesc(entries []Entry) []Entry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b Entry) int {
		return version.Compare(b.Version, a.Version)
	})
	return out
}

func (idx *Index) appendLog(records ...EvictionLogEntry) {
	if len(records) == 0 {
		return
	}
	fresh := make([]EvictionLogEntry, 0, len(records)+len(idx.EvictionLog))
	for i := len(records) - 1; i >= 0; i-- {
		fresh = append(fresh, records[i])
	}
	fresh = append(fresh, idx.EvictionLog...)
	if len(fresh) > evictionLogLimit {
		fresh = fresh[:evictionLogLimit]
	}
	idx.EvictionLog = fresh
}
