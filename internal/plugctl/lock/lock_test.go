package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
)

func TestAcquireRelease(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), ".index.lock")
	release, err := Acquire(context.Background(), path, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected lock file removed, got %v", err)
	}
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), ".registry.lock")
	release, err := Acquire(context.Background(), path, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() {
		_ = release()
	}()

	_, err = Acquire(context.Background(), path, 150*time.Millisecond)
	if !errors.Is(err, helpers.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestAcquireStealsDeadHolder(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), ".index.lock")
	// pid 0 is never a live holder
	if err := os.WriteFile(path, []byte(`{"pid":0,"nonce":"dead"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	release, err := Acquire(context.Background(), path, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), ".index.lock")
	release, err := Acquire(context.Background(), path, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	foreign := []byte(`{"pid":1,"nonce":"other"}`)
	if err := os.WriteFile(path, foreign, 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != string(foreign) {
		t.Fatalf("expected foreign lock to survive, got %q %v", data, err)
	}
}

func TestRemoveStaleKeepsReplacedLock(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, ".index.lock")
	stale := []byte(`{"pid":0,"nonce":"dead"}`)
	fresh := []byte(`{"pid":1,"nonce":"fresh"}`)
	// Another process replaced the stale lock after it was inspected.
	if err := os.WriteFile(path, fresh, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := removeStale(path, stale); err != nil {
		t.Fatalf("removeStale: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != string(fresh) {
		t.Fatalf("fresh lock lost: %q %v", data, err)
	}
	assertOnlyLock(t, dir)
}

func TestRemoveStaleDropsMatchingLock(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, ".index.lock")
	stale := []byte(`{"pid":0,"nonce":"dead"}`)
	if err := os.WriteFile(path, stale, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := removeStale(path, stale); err != nil {
		t.Fatalf("removeStale: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected stale lock removed, got %v", err)
	}
	if err := removeStale(path, stale); err != nil {
		t.Fatalf("removeStale on a vanished lock: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty dir, got %v %v", entries, err)
	}
}

func assertOnlyLock(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Fatalf("expected only the lock file, got %v", names)
	}
}
