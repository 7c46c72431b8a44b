package archive

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/klauspost/pgzip"
)

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func writeTarGz(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := pgzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Typeflag: e.typeflag, Linkname: e.linkname}
		switch e.typeflag {
		case tar.TypeDir:
			hdr.Mode = 0o755
		case tar.TypeReg:
			hdr.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("header: %v", err)
		}
		if e.typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("body: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}
}

func TestSanitizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "empty", input: "", wantErr: helpers.ErrArchiveEntryHasEmptyName},
		{name: "abs", input: "/etc/passwd", wantErr: helpers.ErrArchiveEntryIsAbsolutePath},
		{name: "escape", input: "../evil", wantErr: helpers.ErrArchiveEntryEscapesDestination},
		{name: "dot", input: ".", want: ""},
		{name: "ok", input: "dir/file", want: filepath.FromSlash("dir/file")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := sanitizePath(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestExtractHoistsSingleRoot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "demo-1.0.0.tar.gz")
	writeTarGz(t, src, []tarEntry{
		{name: "demo-1.0.0/", typeflag: tar.TypeDir},
		{name: "demo-1.0.0/plugin.yaml", body: "id: demo\nversion: 1.0.0\n", typeflag: tar.TypeReg},
		{name: "demo-1.0.0/bin/run.sh", body: "echo hi\n", typeflag: tar.TypeReg},
		{name: "demo-1.0.0/bin/link", typeflag: tar.TypeSymlink, linkname: "run.sh"},
	})

	dst := filepath.Join(dir, "stage")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sum, err := Extract(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if sum.Root != "demo-1.0.0" {
		t.Fatalf("expected hoisted root, got %q", sum.Root)
	}
	if sum.Entries != 4 {
		t.Fatalf("expected 4 entries, got %d", sum.Entries)
	}
	if _, err := os.Stat(filepath.Join(dst, helpers.ManifestFile)); err != nil {
		t.Fatalf("expected manifest at root: %v", err)
	}
	if target, err := os.Readlink(filepath.Join(dst, "bin", "link")); err != nil || target != "run.sh" {
		t.Fatalf("unexpected symlink %q %v", target, err)
	}
}

func TestExtractRejectsEscapingSymlink(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.tgz")
	writeTarGz(t, src, []tarEntry{
		{name: "plugin.yaml", body: "id: bad\n", typeflag: tar.TypeReg},
		{name: "evil", typeflag: tar.TypeSymlink, linkname: "../../etc/passwd"},
	})
	_, err := Extract(context.Background(), src, filepath.Join(dir, "out"))
	if !errors.Is(err, helpers.ErrSymlinkTargetEscapesDestination) {
		t.Fatalf("expected escape error, got %v", err)
	}
}

func TestExtractEmptyFile(t *testing.T) {
	t.Parallel()
	src := filepath.Join(t.TempDir(), "empty.tar.gz")
	if err := os.WriteFile(src, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Extract(context.Background(), src, t.TempDir())
	if !errors.Is(err, helpers.ErrFileIsEmpty) {
		t.Fatalf("expected ErrFileIsEmpty, got %v", err)
	}
}

func TestIsTarGz(t *testing.T) {
	t.Parallel()
	if !IsTarGz("a/b.tar.gz") || !IsTarGz("x.TGZ") || IsTarGz("dir") {
		t.Fatalf("unexpected IsTarGz results")
	}
}

func TestReadManifest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "demo.tar.gz")
	writeTarGz(t, src, []tarEntry{
		{name: "demo-1.0.0/", typeflag: tar.TypeDir},
		{name: "demo-1.0.0/bin/plugin.yaml", body: "nested: true\n", typeflag: tar.TypeReg},
		{name: "demo-1.0.0/plugin.yaml", body: "id: demo\nversion: 1.0.0\n", typeflag: tar.TypeReg},
	})

	data, err := ReadManifest(context.Background(), src)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if string(data) != "id: demo\nversion: 1.0.0\n" {
		t.Fatalf("unexpected manifest %q", data)
	}
}

func TestReadManifestMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.tar.gz")
	writeTarGz(t, src, []tarEntry{{name: "README", body: "hi", typeflag: tar.TypeReg}})

	if _, err := ReadManifest(context.Background(), src); !errors.Is(err, helpers.ErrManifestMissing) {
		t.Fatalf("expected ErrManifestMissing, got %v", err)
	}
}
