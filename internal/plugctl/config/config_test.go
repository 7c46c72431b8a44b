package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, helpers.ConfigFile)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestBuildDefaultsWithoutFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg, err := Build(Options{PluginDir: dir})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cfg.ConfigPath != "" {
		t.Fatalf("unexpected config path %q", cfg.ConfigPath)
	}
	if cfg.Cache.MaxSizeBytes() != helpers.CacheDefaultMaxSizeMB*helpers.MiB {
		t.Fatalf("unexpected cache cap %d", cfg.Cache.MaxSizeBytes())
	}
	if !cfg.Registry.BackupOnWrite || !cfg.Registry.ValidateOnWrite {
		t.Fatalf("registry write defaults off: %+v", cfg.Registry)
	}
	if cfg.Lifecycle.Timeout != helpers.LifecycleDefaultTimeout || cfg.Changelog.TTL != helpers.ChangelogCacheTTL {
		t.Fatalf("unexpected timeouts: %+v %+v", cfg.Lifecycle, cfg.Changelog)
	}
}

func TestBuildReadsPluginDirFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[cache]
max_size_mb = 64

[registry]
backup_on_write = false

[lifecycle]
timeout = "5s"

[host]
version = "2.1.0"
`)
	cfg, err := Build(Options{PluginDir: dir})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cfg.ConfigPath != path {
		t.Fatalf("config path = %q, want %q", cfg.ConfigPath, path)
	}
	if cfg.Cache.MaxSizeMB != 64 || cfg.Cache.RetentionVersions != helpers.CacheRetentionVersions {
		t.Fatalf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Registry.BackupOnWrite || !cfg.Registry.ValidateOnWrite {
		t.Fatalf("unexpected registry config %+v", cfg.Registry)
	}
	if cfg.Lifecycle.Timeout != 5*time.Second || cfg.Host.Version != "2.1.0" {
		t.Fatalf("unexpected lifecycle/host %+v %+v", cfg.Lifecycle, cfg.Host)
	}
}

func TestBuildFlagsOverrideFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeConfig(t, dir, "[cache]\nmax_size_mb = 64\n[host]\nversion = \"1.0.0\"\n")
	cfg, err := Build(Options{
		PluginDir:      dir,
		MaxCacheMB:     8,
		MaxCacheMBSet:  true,
		HostVersion:    "3.0.0",
		HostVersionSet: true,
		// Not set explicitly, must not override.
		LifecycleTimeout: time.Minute,
		Verbose:          true,
		Quiet:            true,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cfg.Cache.MaxSizeMB != 8 || cfg.Host.Version != "3.0.0" {
		t.Fatalf("flags did not override: %+v %+v", cfg.Cache, cfg.Host)
	}
	if cfg.Lifecycle.Timeout != helpers.LifecycleDefaultTimeout {
		t.Fatalf("unset flag overrode lifecycle timeout: %s", cfg.Lifecycle.Timeout)
	}
	if cfg.Quiet {
		t.Fatalf("quiet must yield to verbose")
	}
}

func TestBuildRejectsBadFiles(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown key", body: "[cache]\nmax_size = 10\n"},
		{name: "invalid value", body: "[cache]\nmax_size_mb = 0\n"},
		{name: "bad host", body: "[host]\nversion = \"v1\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeConfig(t, dir, tt.body)
			_, err := Build(Options{PluginDir: dir})
			if !errors.Is(err, helpers.ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestBuildExplicitMissingFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_, err := Build(Options{PluginDir: dir, ConfigPath: filepath.Join(dir, "nope.toml")})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestBuildMalformedFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeConfig(t, dir, "[cache\n")
	_, err := Build(Options{PluginDir: dir})
	if err == nil || !strings.Contains(err.Error(), "failed parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestBuildRequiresPluginDir(t *testing.T) {
	t.Parallel()
	if _, err := Build(Options{}); !errors.Is(err, helpers.ErrPluginDirEmpty) {
		t.Fatalf("expected ErrPluginDirEmpty, got %v", err)
	}
}
