// Package lock implements the cross-process lock file that guards the
// read-modify-write cycle of the cache index and the registry.
package lock

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
)

// staleAfter is how long an unreadable lock file is tolerated before it is removed.
const staleAfter = time.Minute

// info is persisted inside the lock file.
type info struct {
	PID   int    `json:"pid"`
	Nonce string `json:"nonce"`
}

// Release removes a held lock.
type Release func() error

// Acquire creates the lock file at path, waiting up to timeout for a live holder.
// Locks left by dead processes are stolen.
func Acquire(ctx context.Context, path string, timeout time.Duration) (Release, error) {
	if timeout <= 0 {
		timeout = helpers.LockDefaultTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), helpers.DirMod); err != nil {
		return nil, err
	}
	payload, err := marshalPayload()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var holder int
	for {
		release, ok, err := tryCreate(path, payload)
		if ok || err != nil {
			return release, err
		}
		holder, err = inspectExisting(path)
		if err != nil {
			return nil, err
		}
		if holder == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w %s: %w (pid %d)", helpers.ErrLockTimeout, path, helpers.ErrAnotherInstanceIsRunning, holder)
		case <-time.After(helpers.LockRetryInterval):
		}
	}
}

func marshalPayload() ([]byte, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return json.Marshal(&info{PID: os.Getpid(), Nonce: hex.EncodeToString(nonce)})
}

func tryCreate(path string, payload []byte) (Release, bool, error) {
	//nolint:gosec // path is derived from the plugin directory and is intended for lock file IO.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, helpers.FileMod)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, false, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, false, err
	}
	return func() error { return release(path, payload) }, true, nil
}

// inspectExisting returns the pid of a live holder, or 0 when the caller should retry
// immediately because the lock vanished or was stale and has been removed.
func inspectExisting(path string) (int, error) {
	//nolint:gosec // path is derived from the plugin directory and is intended for lock file IO.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var current info
	if err := json.Unmarshal(data, &current); err != nil {
		// A holder may be between create and write. Only old garbage is removed.
		st, statErr := os.Stat(path)
		if statErr == nil && time.Since(st.ModTime()) > staleAfter {
			return 0, removeStale(path, data)
		}
		return -1, nil
	}
	if isActive(current.PID) {
		return current.PID, nil
	}
	return 0, removeStale(path, data)
}

// removeStale deletes the lock at path only while it still carries stale.
// The file is renamed to a private name first, so a lock created after stale
// was read is never deleted; it is linked back into place instead.
func removeStale(path string, stale []byte) error {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return err
	}
	aside := path + ".stale-" + hex.EncodeToString(suffix)
	if err := os.Rename(path, aside); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	//nolint:gosec // aside is derived from the lock path.
	data, err := os.ReadFile(aside)
	if err == nil && !bytes.Equal(data, stale) {
		// Link fails when yet another lock already took path; that one wins.
		_ = os.Link(aside, path)
	}
	if err := os.Remove(aside); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// release removes the lock file if it still carries payload.
func release(path string, payload []byte) error {
	//nolint:gosec // path is created by Acquire and is intended for lock file IO.
	existing, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !bytes.Equal(existing, payload) {
		return nil
	}
	return os.Remove(path)
}

// isActive reports whether a process PID is still running.
func isActive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
