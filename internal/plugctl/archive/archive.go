// Package archive unpacks plugin tarballs into a staging directory.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/klauspost/pgzip"
)

// Summary describes what an extraction wrote.
type Summary struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
	// Root is the single top-level directory that was hoisted, if any.
	Root string `json:"root,omitempty"`
}

// IsTarGz reports whether path names a gzip-compressed tarball.
func IsTarGz(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz")
}

// Extract unpacks the tarball at src into dstDir. When the archive wraps
// everything in one top-level directory and that directory holds the plugin
// manifest, its contents are hoisted so dstDir becomes the plugin root.
func Extract(ctx context.Context, src, dstDir string) (Summary, error) {
	tr, closeFn, err := openTar(src)
	if err != nil {
		return Summary{}, err
	}
	defer closeFn()

	x := &extractor{dst: dstDir}
	if err := x.run(ctx, tr); err != nil {
		return Summary{}, err
	}
	sum := Summary{Entries: x.entries, Bytes: x.bytes}
	root, err := hoistSingleRoot(dstDir)
	if err != nil {
		return Summary{}, err
	}
	sum.Root = root
	return sum, nil
}

// ReadManifest returns the plugin manifest stored in the tarball at src, either
// at the archive root or inside a single top-level directory.
func ReadManifest(ctx context.Context, src string) ([]byte, error) {
	tr, closeFn, err := openTar(src)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s in %s", helpers.ErrManifestMissing, helpers.ManifestFile, src)
		}
		if err != nil {
			return nil, fmt.Errorf("error reading tar archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		rel, err := sanitizePath(header.Name)
		if err != nil {
			return nil, err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if parts[len(parts)-1] != helpers.ManifestFile || len(parts) > 2 {
			continue
		}
		if header.Size > helpers.ManifestMaxBytes {
			return nil, fmt.Errorf("%w: %s", helpers.ErrArchiveEntryIsTooLarge, header.Name)
		}
		return io.ReadAll(io.LimitReader(tr, helpers.ManifestMaxBytes))
	}
}

func openTar(src string) (*tar.Reader, func(), error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat file %s: %w", src, err)
	}
	if info.Size() == 0 {
		return nil, nil, fmt.Errorf("%w: %s", helpers.ErrFileIsEmpty, src)
	}

	//nolint:gosec // src is the install source named by the caller.
	file, err := os.Open(src)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open tar.gz file: %w", err)
	}
	gz, err := pgzip.NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return tar.NewReader(gz), func() {
		_ = gz.Close()
		_ = file.Close()
	}, nil
}

type extractor struct {
	dst     string
	entries int
	bytes   int64
}

func (x *extractor) run(ctx context.Context, tr *tar.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading tar archive: %w", err)
		}
		if err := x.entry(tr, header); err != nil {
			return err
		}
	}
}

func (x *extractor) entry(tr *tar.Reader, header *tar.Header) error {
	rel, err := sanitizePath(header.Name)
	if err != nil {
		return err
	}
	if rel == "" {
		return nil
	}
	if err := ensureNoSymlinkParents(x.dst, rel); err != nil {
		return err
	}
	target := filepath.Join(x.dst, rel)

	switch header.Typeflag {
	case tar.TypeDir:
		err = mkdirAll(target)
	case tar.TypeReg:
		err = x.file(tr, header, target)
	case tar.TypeSymlink:
		err = x.symlink(rel, target, header)
	case tar.TypeLink:
		err = x.hardlink(target, header)
	default:
		return nil
	}
	if err == nil {
		x.entries++
	}
	return err
}

func (x *extractor) file(tr *tar.Reader, header *tar.Header, target string) error {
	if header.Size < 0 {
		return fmt.Errorf("%w: %s", helpers.ErrArchiveEntryHasNegativeSize, header.Name)
	}
	if header.Size > helpers.ArchiveMaxEntrySize {
		return fmt.Errorf("%w %s: %d bytes", helpers.ErrArchiveEntryIsTooLarge, header.Name, header.Size)
	}
	if x.bytes+header.Size > helpers.ArchiveMaxTotalSize {
		return fmt.Errorf("%w: %d bytes", helpers.ErrArchiveExceedsMaxSize, helpers.ArchiveMaxTotalSize)
	}
	if err := mkdirAll(filepath.Dir(target)); err != nil {
		return err
	}
	//nolint:gosec // target is a sanitized archive entry under the staging directory.
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, header.FileInfo().Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", target, err)
	}
	written, err := io.CopyN(out, tr, header.Size)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write file %s: %w", target, err)
	}
	x.bytes += written
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close file %s: %w", target, err)
	}
	return nil
}

func (x *extractor) symlink(rel, target string, header *tar.Header) error {
	link, err := safeSymlinkTarget(rel, header.Linkname)
	if err != nil {
		return err
	}
	if err := mkdirAll(filepath.Dir(target)); err != nil {
		return err
	}
	if err := os.Symlink(link, target); err != nil {
		return fmt.Errorf("failed to create symlink %s -> %s: %w", target, link, err)
	}
	return nil
}

func (x *extractor) hardlink(target string, header *tar.Header) error {
	linkRel, err := sanitizePath(header.Linkname)
	if err != nil {
		return err
	}
	if linkRel == "" {
		return fmt.Errorf("%w for %s", helpers.ErrHardlinkTargetIsEmpty, header.Name)
	}
	if err := ensureNoSymlinkParents(x.dst, linkRel); err != nil {
		return err
	}
	if err := mkdirAll(filepath.Dir(target)); err != nil {
		return err
	}
	source := filepath.Join(x.dst, linkRel)
	if err := os.Link(source, target); err != nil {
		return fmt.Errorf("failed to create hardlink %s -> %s: %w", target, source, err)
	}
	return nil
}

func mkdirAll(path string) error {
	if err := os.MkdirAll(path, helpers.DirMod); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// hoistSingleRoot moves the contents of a lone top-level directory up into dir
// when the manifest lives there rather than at dir itself.
func hoistSingleRoot(dir string) (string, error) {
	if _, err := os.Lstat(filepath.Join(dir, helpers.ManifestFile)); err == nil {
		return "", nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return "", nil
	}
	name := entries[0].Name()
	inner := filepath.Join(dir, name)
	if _, err := os.Lstat(filepath.Join(inner, helpers.ManifestFile)); err != nil {
		return "", nil
	}
	children, err := os.ReadDir(inner)
	if err != nil {
		return "", err
	}
	// Rename the wrapper first so a child with the same name cannot collide.
	parked := filepath.Join(dir, ".hoist-"+name)
	if err := os.Rename(inner, parked); err != nil {
		return "", err
	}
	for _, child := range children {
		if err := os.Rename(filepath.Join(parked, child.Name()), filepath.Join(dir, child.Name())); err != nil {
			return "", err
		}
	}
	return name, os.Remove(parked)
}

// sanitizePath validates and normalizes a tar entry path.
func sanitizePath(name string) (string, error) {
	if name == "" {
		return "", helpers.ErrArchiveEntryHasEmptyName
	}
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == "." {
		return "", nil
	}
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: %s", helpers.ErrArchiveEntryIsAbsolutePath, name)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", helpers.ErrArchiveEntryEscapesDestination, name)
	}
	return cleaned, nil
}

// ensureNoSymlinkParents rejects paths that traverse symlink parents.
func ensureNoSymlinkParents(baseDir, relPath string) error {
	current := baseDir
	for part := range strings.SplitSeq(relPath, string(os.PathSeparator)) {
		if part == "" || part == "." {
			continue
		}
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to stat path %s: %w", current, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", helpers.ErrArchivePathContainsSymlinkComponent, current)
		}
	}
	return nil
}

// safeSymlinkTarget keeps a symlink inside the extracted tree.
func safeSymlinkTarget(relPath, linkName string) (string, error) {
	if linkName == "" {
		return "", fmt.Errorf("%w for %s", helpers.ErrSymlinkTargetIsEmpty, relPath)
	}
	if filepath.IsAbs(linkName) || filepath.VolumeName(linkName) != "" {
		return "", fmt.Errorf("%w: %s", helpers.ErrSymlinkTargetIsAbsolute, linkName)
	}
	cleaned := filepath.Clean(filepath.FromSlash(linkName))
	if cleaned == "." {
		return "", fmt.Errorf("%w: %s", helpers.ErrSymlinkTarget, linkName)
	}
	baseDir := filepath.Dir(relPath)
	resolved := filepath.Clean(filepath.Join(baseDir, cleaned))
	if resolved == "." {
		return "", fmt.Errorf("%w: %s", helpers.ErrSymlinkTargetResolvesToRoot, linkName)
	}
	if resolved == ".." || strings.HasPrefix(resolved, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", helpers.ErrSymlinkTargetEscapesDestination, linkName)
	}
	relTarget, err := filepath.Rel(baseDir, resolved)
	if err != nil {
		return "", err
	}
	if relTarget == "." {
		return "", fmt.Errorf("%w: %s", helpers.ErrSymlinkTargetResolvesToSelf, linkName)
	}
	return relTarget, nil
}
