package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/fsutil"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/lock"
)

const (
	backupPrefix = "registry-"
	backupSuffix = ".json"
	// backupStamp is ISO 8601 with dashes so names sort chronologically and are path safe.
	backupStamp = "2006-01-02T15-04-05.000Z"
)

// CreateBackup snapshots the current registry file.
func (s *Store) CreateBackup(ctx context.Context) (Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	release, err := lock.Acquire(ctx, s.lockPath, s.lockTimeout)
	if err != nil {
		return Backup{}, err
	}
	defer func() {
		_ = release()
	}()
	if !fsutil.Exists(s.path) {
		// Persist an empty document so there is something to snapshot.
		if err := s.write(newRegistry()); err != nil {
			return Backup{}, err
		}
	}
	return s.snapshotLocked()
}

// snapshotLocked copies registry.json into the backup directory and rotates old snapshots.
func (s *Store) snapshotLocked() (Backup, error) {
	//nolint:gosec // s.path is the registry under the plugin directory.
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Backup{}, err
	}
	at := s.timestamp()
	name := backupPrefix + at.Format(backupStamp) + backupSuffix
	path := filepath.Join(s.backupDir, name)
	for n := 1; fsutil.Exists(path); n++ {
		name = fmt.Sprintf("%s%s-%d%s", backupPrefix, at.Format(backupStamp), n, backupSuffix)
		path = filepath.Join(s.backupDir, name)
	}
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return Backup{}, err
	}
	s.rotateLocked()
	return Backup{Name: name, Path: path, CreatedAt: at, SizeBytes: int64(len(data))}, nil
}

func (s *Store) rotateLocked() {
	backups, err := s.ListBackups()
	if err != nil || len(backups) <= s.maxBackups {
		return
	}
	// ListBackups is newest first.
	for _, b := range backups[s.maxBackups:] {
		if err := os.Remove(b.Path); err != nil {
			s.out.Debugf("failed to rotate registry backup %s: %v", b.Name, err)
		}
	}
}

// ListBackups returns registry snapshots, newest first.
func (s *Store) ListBackups() ([]Backup, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Backup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		b := Backup{Name: name, Path: filepath.Join(s.backupDir, name), SizeBytes: info.Size()}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
		if len(stamp) >= len(backupStamp) {
			if t, err := time.Parse(backupStamp, stamp[:len(backupStamp)]); err == nil {
				b.CreatedAt = t
			}
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = info.ModTime().UTC()
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Backup) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Name, a.Name)
	})
	return out, nil
}

// RestoreFromBackup replaces the registry with the named snapshot after validating it.
// An empty name restores the newest snapshot. An invalid snapshot reports VALIDATION_FAILED
// and leaves the registry untouched.
func (s *Store) RestoreFromBackup(ctx context.Context, name string) (ValidationReport, error) {
	backups, err := s.ListBackups()
	if err != nil {
		return ValidationReport{}, err
	}
	var chosen *Backup
	for i := range backups {
		if name == "" || backups[i].Name == name {
			chosen = &backups[i]
			break
		}
	}
	if chosen == nil {
		return ValidationReport{}, fmt.Errorf("%w: %s", helpers.ErrBackupNotFound, name)
	}
	candidate, err := readFile(chosen.Path)
	if err != nil {
		return ValidationReport{}, err
	}
	report := s.validate(candidate)
	if !report.Valid {
		return report, fmt.Errorf("%w: %s", helpers.ErrValidationFailed, strings.Join(report.Errors, "; "))
	}
	_, err = s.mutate(ctx, WriteOptions{Backup: true}, func(reg *Registry) error {
		*reg = *candidate.clone()
		return nil
	})
	return report, err
}
