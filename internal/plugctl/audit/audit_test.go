package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/txn"
)

func TestWriteAndRead(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	finished := time.Date(2026, 5, 1, 10, 0, 2, 0, time.UTC)
	w := New(dir, func() time.Time { return finished }, nil)

	path, err := w.Write(Record{
		Operation:     OpInstall,
		TransactionID: "tx-1-abcd",
		PluginID:      "demo",
		StartedAt:     finished.Add(-2 * time.Second),
		Success:       false,
		Error:         &txn.Error{Code: "ERR-INSTALL-002", FailedStep: txn.PhaseStage},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != "install-tx-1-abcd.json" {
		t.Fatalf("unexpected audit file %s", path)
	}

	rec, err := w.Read(filepath.Base(path))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec.DurationMS != 2000 || rec.Error == nil || rec.Error.Code != "ERR-INSTALL-002" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	names, err := w.List()
	if err != nil || len(names) != 1 {
		t.Fatalf("List: %v %v", names, err)
	}
}

func TestRecordSwallowsFailures(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// A regular file where the audit directory should be makes every write fail.
	if err := os.WriteFile(filepath.Join(dir, "audit"), []byte("x"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	w := New(dir, nil, nil)
	w.Record(Record{Operation: OpUninstall, TransactionID: "tx-2"})
	if _, err := w.Write(Record{Operation: OpUninstall, TransactionID: "tx-2"}); err == nil {
		t.Fatalf("expected Write to fail")
	}
}

func TestListMissingDir(t *testing.T) {
	t.Parallel()
	names, err := New(t.TempDir(), nil, nil).List()
	if err != nil || names != nil {
		t.Fatalf("expected empty list, got %v %v", names, err)
	}
}
