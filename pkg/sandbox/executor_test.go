package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/config"
)

func newTestExecutor(t *testing.T, policy config.SandboxConfig) *Executor {
	t.Helper()
	if policy.AllowedRoot == "" {
		policy.AllowedRoot = t.TempDir()
	}
	adapter, err := NewAdapter()
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	ex, err := NewExecutor(policy, adapter)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return ex
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell commands")
	}
}

func TestNewAdapterMatchesPlatform(t *testing.T) {
	adapter, err := NewAdapter()
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	want := "posix"
	if runtime.GOOS == "windows" {
		want = "windows"
	}
	if adapter.Name() != want {
		t.Errorf("Name() = %q, want %q", adapter.Name(), want)
	}
}

func TestNewExecutorRejectsMissingRoot(t *testing.T) {
	adapter, err := NewAdapter()
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	_, err = NewExecutor(config.SandboxConfig{
		AllowedRoot: filepath.Join(t.TempDir(), "does-not-exist"),
	}, adapter)
	if err == nil {
		t.Fatal("NewExecutor accepted an unresolvable allowed root")
	}
}

func TestRunCompleted(t *testing.T) {
	skipOnWindows(t)
	ex := newTestExecutor(t, config.SandboxConfig{TimeoutSeconds: 10, MaxOutputBytes: 1 << 20})

	result := ex.Run(context.Background(), "echo hello sandbox", "")

	if result.Status != StatusCompleted {
		t.Fatalf("Status = %v, want %v (reason %q, stderr %q)", result.Status, StatusCompleted, result.Reason, result.Stderr)
	}
	if result.ExitCode == nil || *result.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", result.ExitCode)
	}
	if !strings.Contains(result.Stdout, "hello sandbox") {
		t.Errorf("Stdout = %q, want captured echo output", result.Stdout)
	}
	if result.Truncated {
		t.Error("Truncated = true for tiny output")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	skipOnWindows(t)
	ex := newTestExecutor(t, config.SandboxConfig{TimeoutSeconds: 10})

	result := ex.Run(context.Background(), "exit 3", "")

	if result.Status != StatusFailed {
		t.Fatalf("Status = %v, want %v", result.Status, StatusFailed)
	}
	if result.ExitCode == nil || *result.ExitCode != 3 {
		t.Errorf("ExitCode = %v, want 3", result.ExitCode)
	}
	if !strings.Contains(result.Reason, "3") {
		t.Errorf("Reason = %q, want the exit code named", result.Reason)
	}
}

func TestRunTimeout(t *testing.T) {
	skipOnWindows(t)
	if testing.Short() {
		t.Skip("short mode")
	}
	ex := newTestExecutor(t, config.SandboxConfig{TimeoutSeconds: 1})

	start := time.Now()
	result := ex.Run(context.Background(), "sleep 30", "")
	elapsed := time.Since(start)

	if result.Status != StatusTimedOut {
		t.Fatalf("Status = %v, want %v", result.Status, StatusTimedOut)
	}
	if elapsed > 5*time.Second {
		t.Errorf("Run took %v, the timeout should have fired around 1s", elapsed)
	}
	if result.ExitCode != nil {
		t.Errorf("ExitCode = %v, want nil for a killed process", result.ExitCode)
	}
}

func TestRunTruncatesOutputAtCap(t *testing.T) {
	skipOnWindows(t)
	const limit = 1024
	ex := newTestExecutor(t, config.SandboxConfig{TimeoutSeconds: 10, MaxOutputBytes: limit})

	result := ex.Run(context.Background(), "seq 1 100000", "")

	if result.Status != StatusCompleted {
		t.Fatalf("Status = %v, want %v (reason %q)", result.Status, StatusCompleted, result.Reason)
	}
	if !result.Truncated {
		t.Fatal("Truncated = false for oversized output")
	}
	marker := strings.Index(result.Stdout, "\n[output truncated")
	if marker < 0 {
		t.Fatal("truncation marker missing from stdout")
	}
	if marker != limit {
		t.Errorf("captured payload = %d bytes, want exactly the %d byte cap", marker, limit)
	}
}

func TestRunRejectsEscapingWorkDir(t *testing.T) {
	skipOnWindows(t)
	ex := newTestExecutor(t, config.SandboxConfig{TimeoutSeconds: 10})

	tests := []struct {
		name    string
		workDir string
	}{
		{name: "dotdot traversal", workDir: "../../etc"},
		{name: "absolute path outside root", workDir: "/etc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ex.Run(context.Background(), "echo must-not-run", tt.workDir)
			if result.Status != StatusBlocked {
				t.Fatalf("Status = %v, want %v", result.Status, StatusBlocked)
			}
			if !strings.Contains(result.Reason, "allowed root") {
				t.Errorf("Reason = %q, want the containment check named", result.Reason)
			}
			if result.ExitCode != nil {
				t.Error("ExitCode set, a rejected command must never spawn")
			}
		})
	}
}

func TestRunRejectsSymlinkEscape(t *testing.T) {
	skipOnWindows(t)
	root := t.TempDir()
	if err := os.Symlink("/etc", filepath.Join(root, "sneaky")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	ex := newTestExecutor(t, config.SandboxConfig{TimeoutSeconds: 10, AllowedRoot: root})

	result := ex.Run(context.Background(), "echo must-not-run", "sneaky")
	if result.Status != StatusBlocked {
		t.Fatalf("Status = %v, want %v (symlink must resolve before the containment check)", result.Status, StatusBlocked)
	}
}

func TestRunInContainedSubdirectory(t *testing.T) {
	skipOnWindows(t)
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "job"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	ex := newTestExecutor(t, config.SandboxConfig{TimeoutSeconds: 10, AllowedRoot: root})

	result := ex.Run(context.Background(), "pwd", "job")
	if result.Status != StatusCompleted {
		t.Fatalf("Status = %v, want %v (reason %q)", result.Status, StatusCompleted, result.Reason)
	}
	if !strings.Contains(result.Stdout, "job") {
		t.Errorf("Stdout = %q, want the subdirectory path", result.Stdout)
	}
}

func TestScrubEnv(t *testing.T) {
	t.Setenv("RUNGUARD_TEST_KEEP", "kept")
	t.Setenv("LD_PRELOAD", "/tmp/evil.so")
	os.Unsetenv("RUNGUARD_TEST_UNSET")

	env := ScrubEnv([]string{"RUNGUARD_TEST_KEEP", "LD_PRELOAD", "RUNGUARD_TEST_UNSET", "PWD"}, "/srv/work")

	var kept, pwd bool
	for _, kv := range env {
		switch {
		case kv == "RUNGUARD_TEST_KEEP=kept":
			kept = true
		case kv == "PWD=/srv/work":
			pwd = true
		case strings.HasPrefix(kv, "LD_PRELOAD="):
			t.Error("LD_PRELOAD survived scrubbing")
		case strings.HasPrefix(kv, "RUNGUARD_TEST_UNSET="):
			t.Error("unset variable appeared in scrubbed env")
		}
	}
	if !kept {
		t.Error("allow-listed variable missing from scrubbed env")
	}
	if !pwd {
		t.Error("PWD not pinned to the resolved working directory")
	}
	if len(env) != 2 {
		t.Errorf("len(env) = %d, want 2", len(env))
	}
}

func TestLimitedWriter(t *testing.T) {
	w := newLimitedWriter(10)

	if n, err := w.Write([]byte("0123456789abcdef")); err != nil || n != 16 {
		t.Fatalf("Write = (%d, %v), want full length reported", n, err)
	}
	if _, err := w.Write([]byte("more")); err != nil {
		t.Fatalf("Write after cap: %v", err)
	}

	if got := w.String(); got != "0123456789" {
		t.Errorf("String() = %q, want first 10 bytes", got)
	}
	if !w.Truncated() {
		t.Error("Truncated() = false after overflow")
	}
	if !strings.Contains(w.Marker(), "10 of 20 bytes") {
		t.Errorf("Marker() = %q, want captured and total counts", w.Marker())
	}
}

func TestResultConstructors(t *testing.T) {
	if r := SkippedResult("previous command failed"); r.Status != StatusSkipped || r.Reason == "" {
		t.Errorf("SkippedResult = %+v", r)
	}
	if r := BlockedResult("matches blocked pattern"); r.Status != StatusBlocked || r.Reason == "" {
		t.Errorf("BlockedResult = %+v", r)
	}
}
