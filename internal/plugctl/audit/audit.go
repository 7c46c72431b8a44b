// Package audit writes one JSON record per orchestrated transaction under <pluginDir>/audit.
package audit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/output"
	"github.com/greeddj/go-plugctl/internal/plugctl/txn"
)

// Operation names the kind of transaction recorded.
type Operation string

const (
	OpInstall   Operation = "install"
	OpUpdate    Operation = "update"
	OpRollback  Operation = "rollback"
	OpUninstall Operation = "uninstall"
)

// Record is the persisted audit document.
type Record struct {
	Operation     Operation      `json:"operation"`
	TransactionID string         `json:"transactionId"`
	PluginID      string         `json:"pluginId"`
	Version       string         `json:"version,omitempty"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
	DurationMS    int64          `json:"durationMs"`
	Success       bool           `json:"success"`
	Error         *txn.Error     `json:"error,omitempty"`
	Messages      []txn.Message  `json:"messages"`
	CacheDelta    any            `json:"cacheDelta,omitempty"`
	RegistryDelta any            `json:"registryDelta,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Writer persists audit records.
type Writer struct {
	dir string
	now func() time.Time
	out output.Printer
}

// New creates a Writer rooted at <pluginDir>/audit.
func New(pluginDir string, now func() time.Time, out output.Printer) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{
		dir: filepath.Join(pluginDir, helpers.AuditDirName),
		now: now,
		out: output.OrDiscard(out),
	}
}

// Dir returns the audit directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Write stamps the record and persists it atomically. It returns the file path.
func (w *Writer) Write(rec Record) (string, error) {
	if rec.TransactionID == "" {
		return "", errors.New("audit record has no transaction id")
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = w.now().UTC()
	}
	if !rec.StartedAt.IsZero() {
		rec.DurationMS = rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.json", rec.Operation, rec.TransactionID))
	if err := fsutil.WriteJSONAtomic(path, rec); err != nil {
		return "", fmt.Errorf("write audit record: %w", err)
	}
	return path, nil
}

// Record writes rec and swallows any failure. Audit problems never replace the operation result.
func (w *Writer) Record(rec Record) {
	if w == nil {
		return
	}
	path, err := w.Write(rec)
	if err != nil {
		w.out.Debugf("audit: %v", err)
		return
	}
	w.out.Debugf("audit: wrote %s", path)
}

// Read loads one audit record by file name.
func (w *Writer) Read(name string) (Record, error) {
	var rec Record
	if strings.ContainsAny(name, `/\`) {
		return rec, fmt.Errorf("invalid audit record name %q", name)
	}
	err := fsutil.ReadJSON(filepath.Join(w.dir, name), &rec)
	return rec, err
}

// List returns audit file names, newest first.
func (w *Writer) List() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	type item struct {
		name string
		mod  time.Time
	}
	items := make([]item, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, item{name: e.Name(), mod: info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].mod.Equal(items[j].mod) {
			return items[i].name > items[j].name
		}
		return items[i].mod.After(items[j].mod)
	})
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.name
	}
	return names, nil
}
