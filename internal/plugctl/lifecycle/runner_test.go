package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hook.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunSuccessPassesEnv(t *testing.T) {
	t.Parallel()
	path := writeScript(t, "echo \"hello $PLUGCTL_PLUGIN_ID\"\n")
	r := New(Options{Timeout: 5 * time.Second})
	res, err := r.Run(context.Background(), Script{Path: path, Env: map[string]string{"PLUGCTL_PLUGIN_ID": "demo"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) != "hello demo" || res.TimedOut {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	t.Parallel()
	path := writeScript(t, "echo boom >&2\nexit 3\n")
	res, err := New(Options{Timeout: 5 * time.Second}).Run(context.Background(), Script{Path: path})
	if !errors.Is(err, helpers.ErrScriptFailed) {
		t.Fatalf("expected ErrScriptFailed, got %v", err)
	}
	if res.ExitCode != 3 || !strings.Contains(res.Stderr, "boom") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()
	path := writeScript(t, "exec sleep 10\n")
	start := time.Now()
	res, err := New(Options{Timeout: 200 * time.Millisecond}).Run(context.Background(), Script{Path: path})
	if !errors.Is(err, helpers.ErrScriptTimeout) {
		t.Fatalf("expected ErrScriptTimeout, got %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut result")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("runner did not return promptly after timeout")
	}
}

func TestRunMissingScript(t *testing.T) {
	t.Parallel()
	_, err := New(Options{}).Run(context.Background(), Script{Path: filepath.Join(t.TempDir(), "nope.sh")})
	if !errors.Is(err, helpers.ErrScriptFailed) {
		t.Fatalf("expected ErrScriptFailed, got %v", err)
	}
}
