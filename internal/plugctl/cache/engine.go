// Package cache owns the on-disk plugin cache and its index.
//
// Artifacts live at <pluginDir>/cache/<pluginId>/<version>, staging directories
// at <pluginDir>/tmp/<transactionId>, and the index at <pluginDir>/cache/index.json.
// Every index mutation runs under the cache lock file, reloads the index from
// disk, applies the change to a copy, and replaces the file atomically. Trees
// removed by a mutation are parked beside their final path and deleted only
// after the index write succeeds. A failed mutation puts every tree back and
// leaves both the file and the in-process view untouched.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/lock"
	"github.com/greeddj/go-plugctl/internal/plugctl/output"
	"github.com/greeddj/go-plugctl/internal/plugctl/version"
)

const (
	indexVersion     = helpers.CacheIndexVersion
	evictionLogLimit = helpers.CacheEvictionLogLimit
)

// Options configures an Engine. Zero values take the package defaults.
type Options struct {
	PluginDir         string
	MaxSizeBytes      int64
	RetentionVersions int
	RollbackFloor     int
	LockTimeout       time.Duration
	Now               func() time.Time
	Output            output.Printer
}

// Engine is the cache engine. It is safe for concurrent use.
type Engine struct {
	root      string
	tmpRoot   string
	indexPath string
	lockPath  string

	maxSize     int64
	retention   int
	floor       int
	lockTimeout time.Duration
	now         func() time.Time
	out         output.Printer
	writeIndex  func(path string, v any) error

	mu    sync.Mutex
	index *Index
}

// New builds an Engine rooted at opts.PluginDir.
func New(opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.PluginDir) == "" {
		return nil, helpers.ErrPluginDirEmpty
	}
	dir, err := filepath.Abs(opts.PluginDir)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		root:        filepath.Join(dir, helpers.CacheDirName),
		tmpRoot:     filepath.Join(dir, helpers.TmpDirName),
		maxSize:     opts.MaxSizeBytes,
		retention:   opts.RetentionVersions,
		floor:       opts.RollbackFloor,
		lockTimeout: opts.LockTimeout,
		now:         opts.Now,
		out:         output.OrDiscard(opts.Output),
		writeIndex:  fsutil.WriteJSONAtomic,
	}
	e.indexPath = filepath.Join(e.root, helpers.CacheIndexFile)
	e.lockPath = filepath.Join(e.root, helpers.CacheIndexLock)
	if e.maxSize <= 0 {
		e.maxSize = helpers.CacheDefaultMaxSizeMB * helpers.MiB
	}
	if e.retention <= 0 {
		e.retention = helpers.CacheRetentionVersions
	}
	if e.floor <= 0 {
		e.floor = helpers.CacheRollbackFloor
	}
	if e.floor > e.retention {
		e.floor = e.retention
	}
	if e.lockTimeout <= 0 {
		e.lockTimeout = helpers.LockDefaultTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	if err := fsutil.EnsureDir(e.root); err != nil {
		return nil, err
	}
	return e, nil
}

// Root returns the cache tree root.
func (e *Engine) Root() string { return e.root }

// MaxSizeBytes returns the configured byte cap.
func (e *Engine) MaxSizeBytes() int64 { return e.maxSize }

// EntryPath returns where a plugin version is stored.
func (e *Engine) EntryPath(pluginID, ver string) string {
	return filepath.Join(e.root, pluginID, ver)
}

// Reload discards the in-process view and reads the index from disk.
func (e *Engine) Reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index = nil
	_, err := e.viewLocked()
	return err
}

// Invalidate drops the in-process view. The next read loads from disk.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.index = nil
	e.mu.Unlock()
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC()
}

// view returns a copy of the current index, loading it when needed.
func (e *Engine) view() (*Index, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.viewLocked()
	if err != nil {
		return nil, err
	}
	return idx.clone(), nil
}

func (e *Engine) viewLocked() (*Index, error) {
	if e.index != nil {
		return e.index, nil
	}
	idx, err := e.readIndex()
	if err == nil {
		e.index = idx
		return idx, nil
	}
	if !errors.Is(err, helpers.ErrCacheIndexCorrupt) && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	// Reads never write. The rebuilt view is persisted by the next mutation
	// and is not kept, so later reads see whatever lands on disk.
	return e.loadOrRebuild()
}

// readIndex loads index.json. A missing file wraps fs.ErrNotExist.
func (e *Engine) readIndex() (*Index, error) {
	var idx Index
	if err := fsutil.ReadJSON(e.indexPath, &idx); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", helpers.ErrCacheIndexCorrupt, err)
	}
	got, err := version.Parse(idx.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q", helpers.ErrCacheIndexCorrupt, idx.Version)
	}
	supported, _ := version.Parse(indexVersion)
	if got.Major > supported.Major {
		return nil, fmt.Errorf("%w: %s", helpers.ErrUnsupportedIndexVersion, idx.Version)
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string][]Entry)
	}
	if idx.EvictionLog == nil {
		idx.EvictionLog = []EvictionLogEntry{}
	}
	return &idx, nil
}

// loadOrRebuild reads the index, rebuilding it in memory when missing or corrupt.
func (e *Engine) loadOrRebuild() (*Index, error) {
	idx, err := e.readIndex()
	switch {
	case err == nil:
		return idx, nil
	case errors.Is(err, fs.ErrNotExist):
		names, listErr := fsutil.ListDirs(e.root)
		if listErr != nil {
			return nil, listErr
		}
		if len(names) == 0 {
			return newIndex(), nil
		}
		e.out.Debugf("cache index missing, rebuilding from %s", e.root)
		rebuilt, _ := e.scan(nil)
		return rebuilt, nil
	case errors.Is(err, helpers.ErrCacheIndexCorrupt):
		e.out.Debugf("cache index unreadable, rebuilding: %v", err)
		rebuilt, _ := e.scan(nil)
		return rebuilt, nil
	default:
		return nil, err
	}
}

// errUnchanged lets a mutation report that nothing needs to be written.
var errUnchanged = errors.New("cache index unchanged")

// mutate applies an index-only change. See mutateTree.
func (e *Engine) mutate(ctx context.Context, fn func(idx *Index) error) error {
	return e.mutateTree(ctx, func(idx *Index, _ *treeOps) error {
		return fn(idx)
	})
}

// mutateTree applies fn to a fresh copy of the index under both locks and persists
// the result. Tree changes fn makes through ops are undone when fn or the index
// write fails, and parked trees are deleted only after the index is on disk.
func (e *Engine) mutateTree(ctx context.Context, fn func(idx *Index, ops *treeOps) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	release, err := lock.Acquire(ctx, e.lockPath, e.lockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		_ = release()
	}()

	idx, err := e.loadOrRebuild()
	if err != nil {
		return err
	}
	work := idx.clone()
	ops := &treeOps{token: helpers.NewTransactionID(e.now()), out: e.out}
	if err := fn(work, ops); err != nil {
		ops.rollback()
		if errors.Is(err, errUnchanged) {
			e.index = idx
			return nil
		}
		return err
	}
	if err := e.persist(work); err != nil {
		ops.rollback()
		return err
	}
	e.index = work
	ops.commit()
	return nil
}

func (e *Engine) persist(idx *Index) error {
	idx.Version = indexVersion
	idx.recomputeTotal()
	idx.LastUpdated = e.timestamp()
	if err := e.writeIndex(e.indexPath, idx); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	return nil
}

// parkedMarker tags trees set aside by a running mutation. Scans skip them.
const parkedMarker = ".old-"

// treeOps records the tree moves of one mutation so they can be reversed.
type treeOps struct {
	token  string
	out    output.Printer
	undo   []func() error
	parked []string
}

// park renames path aside. The tree is deleted on commit and restored on rollback.
func (o *treeOps) park(path string) error {
	aside := path + parkedMarker + o.token
	if err := os.Rename(path, aside); err != nil {
		return err
	}
	o.parked = append(o.parked, aside)
	o.undo = append(o.undo, func() error { return os.Rename(aside, path) })
	return nil
}

// move relocates src to dst. Rollback moves it back.
func (o *treeOps) move(src, dst string) error {
	if err := fsutil.Move(src, dst); err != nil {
		return err
	}
	o.undo = append(o.undo, func() error { return fsutil.Move(dst, src) })
	return nil
}

func (o *treeOps) rollback() {
	for i := len(o.undo) - 1; i >= 0; i-- {
		if err := o.undo[i](); err != nil {
			o.out.Debugf("failed to restore cache tree: %v", err)
		}
	}
	o.undo, o.parked = nil, nil
}

func (o *treeOps) commit() {
	for _, path := range o.parked {
		if err := os.RemoveAll(path); err != nil {
			o.out.Debugf("failed to remove %s: %v", path, err)
			continue
		}
		// Fails harmlessly while siblings remain.
		_ = os.Remove(filepath.Dir(path))
	}
	o.undo, o.parked = nil, nil
}
