package install

import (
	"archive/tar"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/audit"
	"github.com/greeddj/go-plugctl/internal/plugctl/cache"
	"github.com/greeddj/go-plugctl/internal/plugctl/changelog"
	"github.com/greeddj/go-plugctl/internal/plugctl/compat"
	"github.com/greeddj/go-plugctl/internal/plugctl/registry"
	"github.com/greeddj/go-plugctl/internal/plugctl/txn"
	"github.com/klauspost/pgzip"
)

type fixture struct {
	dir      string
	cache    *cache.Engine
	registry *registry.Store
	orch     *Orchestrator
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "plugins")
	ce, err := cache.New(cache.Options{PluginDir: dir})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	rs, err := registry.New(registry.Options{PluginDir: dir})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	cl := changelog.New(changelog.Options{
		Dir: dir,
		Client: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{},
				Body:       io.NopCloser(strings.NewReader("## notes")),
			}, nil
		})},
	})
	t.Cleanup(func() {
		_ = cl.Close()
	})
	orch, err := New(Options{
		PluginDir: dir,
		Cache:     ce,
		Registry:  rs,
		Changelog: cl,
		Audit:     audit.New(dir, nil, nil),
		Environment: func(installed map[string]string) compat.Environment {
			return compat.Environment{HostVersion: "2.0.0", OS: "linux", Arch: "amd64", Installed: installed}
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{dir: dir, cache: ce, registry: rs, orch: orch}
}

// writePlugin creates a plugin source directory and returns its path.
func writePlugin(t *testing.T, id, ver, extraManifest string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), id+"-"+ver)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := "id: " + id + "\nversion: " + ver + "\n" + extraManifest
	if err := os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.txt"), []byte(id+" "+ver), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func mustInstall(t *testing.T, f *fixture, src string) Result {
	t.Helper()
	res := f.orch.Install(context.Background(), Request{Source: src})
	if !res.Success {
		t.Fatalf("install %s failed: %+v", src, res.Error)
	}
	return res
}

func errorCode(e *txn.Error) string {
	if e == nil {
		return ""
	}
	return e.Code
}

func TestInstallActivatesPlugin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := mustInstall(t, f, writePlugin(t, "pluginA", "1.0.0", "", nil))

	if res.PluginID != "pluginA" || res.Version != "1.0.0" {
		t.Fatalf("unexpected identity: %s@%s", res.PluginID, res.Version)
	}
	if !strings.HasPrefix(res.TransactionID, "tx-") {
		t.Fatalf("unexpected transaction id %q", res.TransactionID)
	}
	steps := map[txn.Phase]bool{}
	for _, m := range res.Messages {
		steps[m.Step] = true
	}
	for _, want := range []txn.Phase{txn.PhaseValidate, txn.PhaseStage, txn.PhaseExtract, txn.PhaseLifecyclePre, txn.PhasePromote, txn.PhaseActivate, txn.PhaseTelemetry} {
		if !steps[want] {
			t.Fatalf("no message for phase %s", want)
		}
	}

	rec, ok, err := f.registry.Get("pluginA")
	if err != nil || !ok {
		t.Fatalf("registry record missing: %v", err)
	}
	if rec.CachePath != res.CachePath || rec.TransactionID != res.TransactionID || rec.InstallState != registry.StateInstalled {
		t.Fatalf("unexpected record: %+v", rec)
	}
	target, err := os.Readlink(f.orch.LinkPath("pluginA"))
	if err != nil || target != res.CachePath {
		t.Fatalf("activation link points at %q (%v), want %q", target, err, res.CachePath)
	}
	entries, _ := os.ReadDir(filepath.Join(f.dir, "tmp"))
	if len(entries) != 0 {
		t.Fatalf("staging left behind: %v", entries)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "audit", "install-"+res.TransactionID+".json")); err != nil {
		t.Fatalf("audit record missing: %v", err)
	}
}

func TestInstallTwiceRequiresForce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := writePlugin(t, "pluginA", "1.0.0", "", nil)
	mustInstall(t, f, src)

	second := f.orch.Install(context.Background(), Request{Source: src})
	if second.Success || errorCode(second.Error) != "ERR-INSTALL-001" {
		t.Fatalf("expected ERR-INSTALL-001, got %+v", second.Error)
	}
	if second.Error.FailedStep != txn.PhaseValidate {
		t.Fatalf("expected failure in VALIDATE, got %s", second.Error.FailedStep)
	}

	forced := f.orch.Install(context.Background(), Request{Source: src, Force: true})
	if !forced.Success {
		t.Fatalf("forced install failed: %+v", forced.Error)
	}
	if forced.Registry == nil || forced.Registry.Action != "update" || forced.Registry.PreviousVersion != "1.0.0" {
		t.Fatalf("unexpected registry delta: %+v", forced.Registry)
	}
}

func TestInstallFromArchive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "demo.tar.gz")
	writeArchive(t, src, map[string]string{
		"demo-1.2.3/plugin.yaml": "id: demo\nversion: 1.2.3\n",
		"demo-1.2.3/lib/run.sh":  "echo run\n",
	})

	res := f.orch.Install(context.Background(), Request{Source: src})
	if !res.Success {
		t.Fatalf("install failed: %+v", res.Error)
	}
	if _, err := os.Stat(filepath.Join(res.CachePath, "lib", "run.sh")); err != nil {
		t.Fatalf("archive content not hoisted into cache: %v", err)
	}
}

func TestInstallRejectsMismatchedRequest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := writePlugin(t, "pluginA", "1.0.0", "", nil)
	res := f.orch.Install(context.Background(), Request{Source: src, Version: "2.0.0"})
	if errorCode(res.Error) != "ERR-INSTALL-005" {
		t.Fatalf("expected ERR-INSTALL-005, got %+v", res.Error)
	}
}

func TestInstallBlockedByCompatibility(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := writePlugin(t, "pluginA", "1.0.0", "host: \">=3.0.0\"\n", nil)

	res := f.orch.Install(context.Background(), Request{Source: src})
	if errorCode(res.Error) != "ERR-INSTALL-006" || res.Error.FailedStep != txn.PhaseLifecyclePre {
		t.Fatalf("expected ERR-INSTALL-006 in LIFECYCLE_PRE, got %+v", res.Error)
	}
	if _, ok, _ := f.registry.Get("pluginA"); ok {
		t.Fatalf("blocked plugin must not be registered")
	}
	if entries, _ := f.cache.ListEntries("pluginA"); len(entries) != 0 {
		t.Fatalf("blocked plugin must not be cached")
	}
	staged, _ := os.ReadDir(filepath.Join(f.dir, "tmp"))
	if len(staged) != 0 {
		t.Fatalf("staging must be discarded on failure: %v", staged)
	}
}

func TestInstallPreinstallFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := writePlugin(t, "pluginA", "1.0.0", "lifecycle:\n  preinstall: hooks/pre.sh\n", map[string]string{
		"hooks/pre.sh": "echo \"$PLUGCTL_PHASE\" >&2\nexit 4\n",
	})

	res := f.orch.Install(context.Background(), Request{Source: src})
	if errorCode(res.Error) != "ERR-INSTALL-007" {
		t.Fatalf("expected ERR-INSTALL-007, got %+v", res.Error)
	}
	if len(res.Scripts) != 1 || res.Scripts[0].Result.ExitCode != 4 {
		t.Fatalf("unexpected script runs: %+v", res.Scripts)
	}
	if !strings.Contains(res.Scripts[0].Result.Stderr, "LIFECYCLE_PRE") {
		t.Fatalf("script did not see its phase: %q", res.Scripts[0].Result.Stderr)
	}

	skipped := f.orch.Install(context.Background(), Request{Source: src, SkipScripts: true})
	if !skipped.Success {
		t.Fatalf("install with scripts skipped failed: %+v", skipped.Error)
	}
}

func TestInstallCompensatesFailedActivation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// A regular file where the activation directory belongs makes linking fail.
	if err := os.WriteFile(filepath.Join(f.dir, "active"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := f.orch.Install(context.Background(), Request{Source: writePlugin(t, "pluginA", "1.0.0", "", nil)})
	if errorCode(res.Error) != "ERR-INSTALL-004" || res.Error.FailedStep != txn.PhaseActivate {
		t.Fatalf("expected ERR-INSTALL-004 in ACTIVATE, got %+v", res.Error)
	}
	if res.Cache == nil || res.Cache.Compensation != "removed" {
		t.Fatalf("expected orphaned entry removal, got %+v", res.Cache)
	}
	if _, ok, _ := f.cache.GetEntry("pluginA", "1.0.0"); ok {
		t.Fatalf("orphaned cache entry still indexed")
	}
	if _, ok, _ := f.registry.Get("pluginA"); ok {
		t.Fatalf("failed activation must not register the plugin")
	}
}

func TestUpdateRecordsDeltaAndChangelog(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustInstall(t, f, writePlugin(t, "pluginA", "1.0.0", "", nil))

	res := f.orch.Update(context.Background(), Request{
		Source: writePlugin(t, "pluginA", "1.1.0", "changelog_url: https://example.invalid/CHANGELOG.md\n", nil),
	})
	if !res.Success {
		t.Fatalf("update failed: %+v", res.Error)
	}
	if res.Registry.PreviousVersion != "1.0.0" || res.Registry.TargetVersion != "1.1.0" {
		t.Fatalf("unexpected delta: %+v", res.Registry)
	}
	if res.Changelog == nil || !res.Changelog.Status.OK() {
		t.Fatalf("expected changelog, got %+v", res.Changelog)
	}
	if res.Registry.BackupPath == "" {
		t.Fatalf("activation must back up the registry first")
	}
}

func TestRollbackWithoutOlderVersion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustInstall(t, f, writePlugin(t, "pluginA", "1.0.0", "", nil))

	res := f.orch.Rollback(context.Background(), RollbackRequest{PluginID: "pluginA"})
	if errorCode(res.Error) != "ERR-ROLLBACK-002" {
		t.Fatalf("expected ERR-ROLLBACK-002, got %+v", res.Error)
	}
}

func TestRollbackActivatesCachedVersion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	first := mustInstall(t, f, writePlugin(t, "pluginA", "1.0.0", "", nil))
	if res := f.orch.Update(context.Background(), Request{Source: writePlugin(t, "pluginA", "2.0.0", "", nil)}); !res.Success {
		t.Fatalf("update failed: %+v", res.Error)
	}

	res := f.orch.Rollback(context.Background(), RollbackRequest{PluginID: "pluginA"})
	if !res.Success {
		t.Fatalf("rollback failed: %+v", res.Error)
	}
	if res.FromVersion != "2.0.0" || res.ToVersion != "1.0.0" || res.CachePath != first.CachePath {
		t.Fatalf("unexpected rollback: %+v", res)
	}
	rec, _, _ := f.registry.Get("pluginA")
	if rec.Version != "1.0.0" || rec.CachePath != first.CachePath {
		t.Fatalf("registry not repointed: %+v", rec)
	}
	entry, _, _ := f.cache.GetEntry("pluginA", "1.0.0")
	if !entry.IsCurrentVersion {
		t.Fatalf("rolled back version must become current")
	}
	if target, _ := os.Readlink(f.orch.LinkPath("pluginA")); target != first.CachePath {
		t.Fatalf("activation link not repointed: %s", target)
	}
	staged, _ := os.ReadDir(filepath.Join(f.dir, "tmp"))
	if len(staged) != 0 {
		t.Fatalf("rollback must not stage anything")
	}

	same := f.orch.Rollback(context.Background(), RollbackRequest{PluginID: "pluginA", TargetVersion: "1.0.0"})
	if errorCode(same.Error) != "ERR-ROLLBACK-004" {
		t.Fatalf("expected ERR-ROLLBACK-004, got %+v", same.Error)
	}
	missing := f.orch.Rollback(context.Background(), RollbackRequest{PluginID: "pluginA", TargetVersion: "0.9.0"})
	if errorCode(missing.Error) != "ERR-CACHE-001" {
		t.Fatalf("expected ERR-CACHE-001, got %+v", missing.Error)
	}
	unknown := f.orch.Rollback(context.Background(), RollbackRequest{PluginID: "nope"})
	if errorCode(unknown.Error) != "ERR-ROLLBACK-001" {
		t.Fatalf("expected ERR-ROLLBACK-001, got %+v", unknown.Error)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := mustInstall(t, f, writePlugin(t, "pluginA", "1.0.0", "", nil))

	ok := f.orch.Verify(context.Background(), "pluginA")
	if !ok.Valid || len(ok.Errors) != 0 || len(ok.Warnings) != 0 {
		t.Fatalf("expected a clean report, got %+v", ok)
	}

	if err := os.WriteFile(filepath.Join(res.CachePath, "main.txt"), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	drifted := f.orch.Verify(context.Background(), "pluginA")
	if !drifted.Valid || len(drifted.Warnings) == 0 {
		t.Fatalf("expected a drift warning, got %+v", drifted)
	}

	if err := os.RemoveAll(res.CachePath); err != nil {
		t.Fatalf("remove: %v", err)
	}
	broken := f.orch.Verify(context.Background(), "pluginA")
	if broken.Valid {
		t.Fatalf("missing cache path must invalidate the plugin")
	}

	none := f.orch.Verify(context.Background(), "nope")
	if errorCode(none.Error) != "ERR-VERIFY-001" {
		t.Fatalf("expected ERR-VERIFY-001, got %+v", none.Error)
	}
}

func TestUpdateAllSkipsPinned(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustInstall(t, f, writePlugin(t, "alpha", "1.0.0", "", nil))
	mustInstall(t, f, writePlugin(t, "beta", "1.0.0", "", nil))
	mustInstall(t, f, writePlugin(t, "gamma", "1.0.0", "", nil))
	if _, err := f.registry.Pin(context.Background(), "beta"); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	out := f.orch.UpdateAll(context.Background(), []Request{
		{Source: writePlugin(t, "alpha", "1.1.0", "", nil)},
		{Source: writePlugin(t, "beta", "1.1.0", "", nil)},
		{Source: writePlugin(t, "gamma", "1.0.0", "", nil)},
		{Source: writePlugin(t, "delta", "1.0.0", "", nil)},
		{Source: filepath.Join(t.TempDir(), "missing")},
	})
	if len(out.Succeeded) != 1 || out.Succeeded[0].PluginID != "alpha" {
		t.Fatalf("unexpected successes: %+v", out.Succeeded)
	}
	if len(out.Skipped) != 3 {
		t.Fatalf("expected pinned, up-to-date and unknown plugins skipped, got %+v", out.Skipped)
	}
	if len(out.Failed) != 1 || errorCode(out.Failed[0].Error) != "ERR-INSTALL-008" {
		t.Fatalf("expected the unreadable source to fail, got %+v", out.Failed)
	}
	rec, _, _ := f.registry.Get("beta")
	if rec.Version != "1.0.0" {
		t.Fatalf("pinned plugin must stay at 1.0.0, got %s", rec.Version)
	}
}

func writeArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := pgzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg, ModTime: time.Now()}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
