package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/version"
)

// Stage creates a fresh staging directory for pluginID@ver.
func (e *Engine) Stage(_ context.Context, pluginID, ver string, opts StageOptions) (StageResult, error) {
	if err := checkRef(pluginID, ver); err != nil {
		return StageResult{}, err
	}
	txID := opts.TransactionID
	if txID == "" {
		txID = helpers.NewTransactionID(e.now())
	}
	if err := helpers.ValidatePluginID(txID); err != nil {
		return StageResult{}, fmt.Errorf("%w: transaction id %q", helpers.ErrStageFailed, txID)
	}
	if err := fsutil.EnsureDir(e.tmpRoot); err != nil {
		return StageResult{}, fmt.Errorf("%w: %w", helpers.ErrStageFailed, err)
	}
	staging := filepath.Join(e.tmpRoot, txID)
	if err := os.Mkdir(staging, helpers.DirMod); err != nil {
		return StageResult{}, fmt.Errorf("%w: %w", helpers.ErrStageFailed, err)
	}
	e.out.Debugf("staged %s at %s", helpers.EntryKey(pluginID, ver), staging)
	return StageResult{StagingPath: staging, TransactionID: txID}, nil
}

// DiscardStaging removes a staging directory created by Stage.
func (e *Engine) DiscardStaging(stagingPath string) error {
	if err := e.checkStaging(stagingPath); err != nil {
		return err
	}
	return os.RemoveAll(stagingPath)
}

// Promote moves a staged tree into the cache and indexes it as the current version.
// Per-plugin retention always runs afterwards; global eviction runs unless skipped.
func (e *Engine) Promote(ctx context.Context, pluginID, ver, stagingPath string, opts PromoteOptions) (PromoteResult, error) {
	if err := checkRef(pluginID, ver); err != nil {
		return PromoteResult{}, err
	}
	if err := e.checkStaging(stagingPath); err != nil {
		return PromoteResult{}, fmt.Errorf("%w: %w", helpers.ErrPromoteFailed, err)
	}
	size, err := fsutil.DirSize(stagingPath)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("%w: %w", helpers.ErrStageFailed, err)
	}
	sum, err := fsutil.DirChecksum(stagingPath)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("%w: %w", helpers.ErrStageFailed, err)
	}

	dest := e.EntryPath(pluginID, ver)
	res := PromoteResult{CachePath: dest, Checksum: sum, SizeBytes: size}
	err = e.mutateTree(ctx, func(idx *Index, ops *treeOps) error {
		previous, existed := idx.find(pluginID, ver)
		var pinned bool
		if existed {
			pinned = idx.Entries[pluginID][previous].Pinned
		}
		if fsutil.Exists(dest) {
			if err := ops.park(dest); err != nil {
				return fmt.Errorf("%w: %w", helpers.ErrPromoteFailed, err)
			}
			res.Replaced = true
		}
		if err := ops.move(stagingPath, dest); err != nil {
			return fmt.Errorf("%w: %w", helpers.ErrPromoteFailed, err)
		}

		now := e.timestamp()
		entry := Entry{
			PluginID:       pluginID,
			Version:        ver,
			CachePath:      dest,
			SizeBytes:      size,
			Checksum:       sum,
			CachedAt:       now,
			LastAccessTime: now,
			Pinned:         pinned,
			TransactionID:  opts.TransactionID,
		}
		if existed {
			idx.Entries[pluginID][previous] = entry
		} else {
			idx.Entries[pluginID] = append(idx.Entries[pluginID], entry)
		}
		idx.setCurrent(pluginID, ver)
		idx.recomputeTotal()

		res.RetentionEvicted = e.enforceRetention(idx, ops, pluginID)
		if !opts.SkipEviction {
			ev := e.evict(idx, ops)
			res.EvictionTriggered = ev.EvictionTriggered
			res.Eviction = &ev
		}
		return nil
	})
	if err != nil {
		return PromoteResult{}, err
	}
	e.out.Debugf("promoted %s (%d bytes) to %s", helpers.EntryKey(pluginID, ver), size, dest)
	return res, nil
}

// Retrieve returns the cache path of pluginID@ver and refreshes its access time.
// A stale entry whose path is gone reports CACHE_MISSING and is left in place.
func (e *Engine) Retrieve(ctx context.Context, pluginID, ver string) (string, error) {
	var path string
	err := e.mutate(ctx, func(idx *Index) error {
		i, ok := idx.find(pluginID, ver)
		if !ok {
			return fmt.Errorf("%w: %s", helpers.ErrNotCached, helpers.EntryKey(pluginID, ver))
		}
		entry := &idx.Entries[pluginID][i]
		if _, err := os.Stat(entry.CachePath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s at %s", helpers.ErrCacheMissing, helpers.EntryKey(pluginID, ver), entry.CachePath)
			}
			return err
		}
		entry.LastAccessTime = e.timestamp()
		path = entry.CachePath
		return nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func (e *Engine) checkStaging(stagingPath string) error {
	abs, err := filepath.Abs(stagingPath)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(e.tmpRoot, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.Contains(rel, string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", helpers.ErrStagingPathInvalid, stagingPath)
	}
	return nil
}

func checkRef(pluginID, ver string) error {
	if err := helpers.ValidatePluginID(pluginID); err != nil {
		return err
	}
	if _, err := version.Parse(ver); err != nil {
		return err
	}
	// The version becomes a directory name.
	return helpers.ValidatePluginID(ver)
}
