package hook

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nexusgeo/tablewatch/internal/alert"
)

// writeHook creates dir/name with a manifest and a shell script body.
func writeHook(t *testing.T, dir, name string, manifest Manifest, script string) *Hook {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("failed to create hook dir: %v", err)
	}

	manifest.Name = name
	if manifest.Executable == "" {
		manifest.Executable = "run.sh"
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, ManifestFile), data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	exe := filepath.Join(path, manifest.Executable)
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	return &Hook{Manifest: manifest, Path: path, Executable: exe}
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("hooks are shell scripts")
	}
}

func TestManager_Discover(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()

	writeHook(t, dir, "pager", Manifest{Version: "1.0.0"}, "exit 0\n")
	writeHook(t, dir, "light", Manifest{Tables: []int{3}}, "exit 0\n")

	if err := os.MkdirAll(filepath.Join(dir, "no-manifest"), 0755); err != nil {
		t.Fatal(err)
	}
	broken := filepath.Join(dir, "broken")
	if err := os.MkdirAll(broken, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(broken, ManifestFile), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dir)
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	hooks := m.List()
	if len(hooks) != 2 {
		t.Fatalf("got %d hooks, want 2", len(hooks))
	}
	if hooks[0].Manifest.Name != "light" || hooks[1].Manifest.Name != "pager" {
		t.Errorf("hooks not sorted by name: %s, %s", hooks[0].Manifest.Name, hooks[1].Manifest.Name)
	}

	h, err := m.Get("pager")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if h.Executable != filepath.Join(dir, "pager", "run.sh") {
		t.Errorf("Executable = %s", h.Executable)
	}

	if _, err := m.Get("broken"); !errors.Is(err, ErrHookNotFound) {
		t.Errorf("Get(broken) error = %v, want ErrHookNotFound", err)
	}
	if m.Dir() != dir {
		t.Errorf("Dir() = %s, want %s", m.Dir(), dir)
	}
}

func TestManager_DiscoverMissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent"))
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(m.List()) != 0 {
		t.Error("expected no hooks")
	}
}

func TestHook_Handles(t *testing.T) {
	all := &Hook{}
	some := &Hook{Manifest: Manifest{Tables: []int{2, 4}}}

	if !all.Handles(7) {
		t.Error("hook without tables should handle every table")
	}
	if !some.Handles(4) || some.Handles(3) {
		t.Error("hook should only handle its tables")
	}
}

func TestExecutor_Execute(t *testing.T) {
	skipOnWindows(t)

	// Echo the table from stdin back in the error field.
	h := writeHook(t, t.TempDir(), "echo", Manifest{}, `read body
table=$(echo "$body" | sed 's/.*"table":\([0-9]*\).*/\1/')
printf '{"success":true,"error":"table %s"}' "$table"
`)

	resp, err := NewExecutor(time.Second).Execute(context.Background(), h, &Request{Event: alert.TypeServiceHand, Table: 5})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !resp.Success {
		t.Error("expected success")
	}
	if resp.Error != "table 5" {
		t.Errorf("hook saw %q, want %q", resp.Error, "table 5")
	}
}

func TestExecutor_Errors(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()

	t.Run("non-zero exit", func(t *testing.T) {
		h := writeHook(t, dir, "exit", Manifest{}, "echo boom >&2\nexit 3\n")
		_, err := NewExecutor(time.Second).Execute(context.Background(), h, &Request{})
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Errorf("error = %v, want stderr in message", err)
		}
	})

	t.Run("invalid output", func(t *testing.T) {
		h := writeHook(t, dir, "garbage", Manifest{}, "echo not-json\n")
		_, err := NewExecutor(time.Second).Execute(context.Background(), h, &Request{})
		if err == nil || !strings.Contains(err.Error(), "failed to parse") {
			t.Errorf("error = %v, want parse failure", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		h := writeHook(t, dir, "slow", Manifest{}, "exec sleep 5\n")
		_, err := NewExecutor(100*time.Millisecond).Execute(context.Background(), h, &Request{})
		if err == nil || !strings.Contains(err.Error(), "timed out") {
			t.Errorf("error = %v, want timeout", err)
		}
	})
}

func TestSender_Send(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	marker := filepath.Join(t.TempDir(), "ran")

	writeHook(t, dir, "everywhere", Manifest{}, "touch "+marker+"-all\necho '{\"success\":true}'\n")
	writeHook(t, dir, "table-two", Manifest{Tables: []int{2}}, "touch "+marker+"-two\necho '{\"success\":true}'\n")
	writeHook(t, dir, "refuses", Manifest{}, "echo '{\"success\":false,\"error\":\"light offline\"}'\n")

	m := NewManager(dir)
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	s := NewSender(m, NewExecutor(time.Second))
	err := s.Send(context.Background(), alert.NewServiceAlert(1, 5, 0.9))

	if !errors.Is(err, ErrHookFailed) || !strings.Contains(err.Error(), "light offline") {
		t.Errorf("Send() error = %v, want ErrHookFailed from refuses", err)
	}
	if _, err := os.Stat(marker + "-all"); err != nil {
		t.Error("expected the unrestricted hook to run")
	}
	if _, err := os.Stat(marker + "-two"); err == nil {
		t.Error("table-two hook ran for table 5")
	}
}
