// Package fsutil holds the directory and file primitives the stores are built on.
// It carries no policy: callers decide what to write and when.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
)

// EnsureDir creates path and its parents if missing.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, helpers.DirMod); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists without following a final symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// WriteJSONAtomic writes v as indented JSON to path via a temp file and rename.
// Readers see either the previous document or the new one.
func WriteJSONAtomic(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	return WriteFileAtomic(path, payload)
}

// WriteFileAtomic writes payload to path via a temp file in the same directory and rename.
func WriteFileAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(payload); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	//nolint:gosec // path is derived from the plugin directory.
	if err := os.Chmod(tmpPath, helpers.FileMod); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// ReadJSON decodes the JSON document at path into v.
// A missing file is reported as an error wrapping fs.ErrNotExist.
func ReadJSON(path string, v any) error {
	//nolint:gosec // path is derived from the plugin directory.
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// DirSize returns the total size of regular files under root.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// DirChecksum returns a sha256 over the tree at root.
// Relative paths, file contents and symlink targets are hashed in lexical path order,
// so the result does not depend on directory iteration order or timestamps.
func DirChecksum(root string) (string, error) {
	type item struct {
		rel  string
		path string
		mode fs.FileMode
	}
	var items []item
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		items = append(items, item{rel: filepath.ToSlash(rel), path: path, mode: d.Type()})
		return nil
	})
	if err != nil {
		return "", err
	}
	slices.SortFunc(items, func(a, b item) int {
		switch {
		case a.rel < b.rel:
			return -1
		case a.rel > b.rel:
			return 1
		}
		return 0
	})

	h := sha256.New()
	for _, it := range items {
		switch {
		case it.mode.IsDir():
			_, _ = fmt.Fprintf(h, "d %s\n", it.rel)
		case it.mode&fs.ModeSymlink != 0:
			target, err := os.Readlink(it.path)
			if err != nil {
				return "", err
			}
			_, _ = fmt.Fprintf(h, "l %s %s\n", it.rel, target)
		case it.mode.IsRegular():
			_, _ = fmt.Fprintf(h, "f %s\n", it.rel)
			if err := hashFile(h, it.path); err != nil {
				return "", err
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	//nolint:gosec // path comes from walking a directory owned by the cache.
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	_, err = io.Copy(w, f)
	return err
}

// FileChecksum returns the sha256 of a single file.
func FileChecksum(path string) (string, error) {
	h := sha256.New()
	if err := hashFile(h, path); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Move renames src to dst, creating dst's parent. It never falls back to copying,
// so a cross-device move fails instead of leaving a half-written destination.
func Move(src, dst string) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

// ListDirs returns the names of subdirectories of root in lexical order.
// A missing root yields no names.
func ListDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Touch sets the modification time of path to t, creating an empty file if missing.
func Touch(path string, t time.Time) error {
	if !Exists(path) {
		if err := EnsureDir(filepath.Dir(path)); err != nil {
			return err
		}
		//nolint:gosec // path is derived from the plugin directory.
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, helpers.FileMod)
		if err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return os.Chtimes(path, t, t)
}

// TempDir creates a fresh directory under root.
func TempDir(root, prefix string) (string, error) {
	if err := EnsureDir(root); err != nil {
		return "", err
	}
	return os.MkdirTemp(root, prefix)
}

// CopyTree copies the tree at src into dst, preserving file modes and symlinks.
func CopyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", src, fs.ErrInvalid)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return EnsureDir(target)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, fi.Mode().Perm())
		}
		return nil
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	//nolint:gosec // src comes from walking the install source.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()
	//nolint:gosec // dst is inside the staging directory.
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// ReplaceSymlink points link at target, replacing any existing link atomically.
func ReplaceSymlink(target, link string) error {
	if err := EnsureDir(filepath.Dir(link)); err != nil {
		return err
	}
	tmp := link + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// RemoveSymlink removes link if it is a symlink. A missing link is not an error.
func RemoveSymlink(link string) (bool, error) {
	info, err := os.Lstat(link)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		return false, fmt.Errorf("%s is not a symlink: %w", link, fs.ErrInvalid)
	}
	if err := os.Remove(link); err != nil {
		return false, err
	}
	return true, nil
}
