package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWriteJSONAtomicRoundTrip(t *testing.T) {
	t.Parallel()
	type doc struct {
		Name  string    `json:"name"`
		Count int       `json:"count"`
		At    time.Time `json:"at"`
	}
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	in := doc{Name: "alpha", Count: 3, At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	if err := WriteJSONAtomic(path, in); err != nil {
		t.Fatalf("WriteJSONAtomic: %v", err)
	}
	var out doc
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if out.Name != in.Name || out.Count != in.Count || !out.At.Equal(in.At) {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, got %d entries", len(entries))
	}
}

func TestReadJSONMissing(t *testing.T) {
	t.Parallel()
	var v map[string]any
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &v)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestDirSizeAndChecksum(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	a := filepath.Join(root, "a")
	writeFile(t, filepath.Join(a, "one.txt"), "hello")
	writeFile(t, filepath.Join(a, "sub", "two.txt"), "world!")

	size, err := DirSize(a)
	if err != nil {
		t.Fatalf("DirSize: %v", err)
	}
	if size != 11 {
		t.Fatalf("expected 11 bytes, got %d", size)
	}

	b := filepath.Join(root, "b")
	if err := CopyTree(a, b); err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	sumA, err := DirChecksum(a)
	if err != nil {
		t.Fatalf("DirChecksum a: %v", err)
	}
	sumB, err := DirChecksum(b)
	if err != nil {
		t.Fatalf("DirChecksum b: %v", err)
	}
	if sumA != sumB {
		t.Fatalf("expected equal checksums for copied tree")
	}

	writeFile(t, filepath.Join(b, "sub", "two.txt"), "world?")
	sumB2, err := DirChecksum(b)
	if err != nil {
		t.Fatalf("DirChecksum b2: %v", err)
	}
	if sumB2 == sumA {
		t.Fatalf("expected checksum to change after content edit")
	}
}

func TestMoveAndListDirs(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "f"), "x")
	dst := filepath.Join(root, "cache", "p", "1.0.0")
	if err := Move(src, dst); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if Exists(src) {
		t.Fatalf("expected source to be gone")
	}
	names, err := ListDirs(filepath.Join(root, "cache", "p"))
	if err != nil {
		t.Fatalf("ListDirs: %v", err)
	}
	if len(names) != 1 || names[0] != "1.0.0" {
		t.Fatalf("unexpected dirs: %v", names)
	}
	missing, err := ListDirs(filepath.Join(root, "nope"))
	if err != nil || missing != nil {
		t.Fatalf("expected empty listing for missing dir, got %v %v", missing, err)
	}
}

func TestTouch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "stamp")
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := Touch(path, at); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.ModTime().Equal(at) {
		t.Fatalf("unexpected mtime %v", info.ModTime())
	}
}

func TestReplaceAndRemoveSymlink(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	one := filepath.Join(root, "one")
	two := filepath.Join(root, "two")
	writeFile(t, filepath.Join(one, "f"), "1")
	writeFile(t, filepath.Join(two, "f"), "2")
	link := filepath.Join(root, "active", "p")

	if err := ReplaceSymlink(one, link); err != nil {
		t.Fatalf("ReplaceSymlink one: %v", err)
	}
	if err := ReplaceSymlink(two, link); err != nil {
		t.Fatalf("ReplaceSymlink two: %v", err)
	}
	target, err := os.Readlink(link)
	if err != nil || target != two {
		t.Fatalf("unexpected link target %q %v", target, err)
	}
	removed, err := RemoveSymlink(link)
	if err != nil || !removed {
		t.Fatalf("RemoveSymlink: %v %v", removed, err)
	}
	removed, err = RemoveSymlink(link)
	if err != nil || removed {
		t.Fatalf("expected tolerant second removal, got %v %v", removed, err)
	}
}
