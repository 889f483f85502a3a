package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/log"
)

// ExecutionStatus is the terminal state of one execution attempt.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusTimedOut  ExecutionStatus = "timed_out"
	StatusSkipped   ExecutionStatus = "skipped"
	StatusBlocked   ExecutionStatus = "blocked"
)

// ExecutionResult is the outcome of running (or refusing to run) a command.
type ExecutionResult struct {
	Status ExecutionStatus `json:"status"`

	// ExitCode is nil when no process ran to completion.
	ExitCode *int `json:"exit_code,omitempty"`

	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated"`

	// Reason explains non-completed outcomes in human-readable form.
	Reason string `json:"reason,omitempty"`
}

// SkippedResult marks a command that was never attempted.
func SkippedResult(reason string) ExecutionResult {
	return ExecutionResult{Status: StatusSkipped, Reason: reason}
}

// BlockedResult marks a command refused by policy before execution.
func BlockedResult(reason string) ExecutionResult {
	return ExecutionResult{Status: StatusBlocked, Reason: reason}
}

// Executor runs commands under the sandbox policy. One executor serves all
// batches; the policy and resolved root never change after construction.
type Executor struct {
	policy  config.SandboxConfig
	adapter Adapter
	root    string
}

// NewExecutor validates the policy and canonicalizes the allowed root.
// A root that cannot be resolved is a fatal configuration error.
func NewExecutor(policy config.SandboxConfig, adapter Adapter) (*Executor, error) {
	if adapter == nil {
		return nil, errors.New("sandbox: nil adapter")
	}

	root := policy.AllowedRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determining working directory: %w", err)
		}
		root = wd
	}
	canonical, err := canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("resolving allowed root %s: %w", root, err)
	}

	if policy.MaxOutputBytes <= 0 {
		policy.MaxOutputBytes = 10 * 1024 * 1024
	}

	return &Executor{policy: policy, adapter: adapter, root: canonical}, nil
}

// Root returns the canonicalized allowed working-directory root.
func (e *Executor) Root() string { return e.root }

// AdapterName reports which platform adapter the executor runs on.
func (e *Executor) AdapterName() string { return e.adapter.Name() }

// Run executes one command under the sandbox policy. It never retries;
// a failed or timed-out command is reported exactly once.
func (e *Executor) Run(ctx context.Context, command, workDir string) ExecutionResult {
	dir, err := e.resolveWorkDir(workDir)
	if err != nil {
		if errors.Is(err, ErrWorkDirEscape) {
			log.Warnf("Sandbox: rejected working directory %q: %v", workDir, err)
			return BlockedResult(err.Error())
		}
		return ExecutionResult{Status: StatusFailed, Reason: err.Error()}
	}

	stdout := newLimitedWriter(e.policy.MaxOutputBytes)
	stderr := newLimitedWriter(e.policy.MaxOutputBytes)

	runCtx, cancel := context.WithTimeout(ctx, e.policy.Timeout())
	defer cancel()

	start := time.Now()
	exitCode, invokeErr := e.adapter.Invoke(runCtx, Invocation{
		Command:     command,
		WorkDir:     dir,
		Env:         ScrubEnv(e.policy.EnvAllowlist, dir),
		Stdout:      stdout,
		Stderr:      stderr,
		MemoryLimit: e.policy.MaxMemoryBytes,
	})

	result := ExecutionResult{
		Duration:  time.Since(start),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
	if stdout.Truncated() {
		result.Stdout += stdout.Marker()
	}
	if stderr.Truncated() {
		result.Stderr += stderr.Marker()
	}

	switch {
	case errors.Is(invokeErr, context.DeadlineExceeded):
		result.Status = StatusTimedOut
		result.Reason = fmt.Sprintf("timed out after %s, process group terminated", e.policy.Timeout())
	case errors.Is(invokeErr, context.Canceled):
		result.Status = StatusFailed
		result.Reason = "canceled before completion"
	case invokeErr != nil:
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("adapter failure: %v", invokeErr)
	case exitCode == 0:
		result.Status = StatusCompleted
		result.ExitCode = &exitCode
	default:
		result.Status = StatusFailed
		result.ExitCode = &exitCode
		result.Reason = fmt.Sprintf("exited with code %d", exitCode)
	}
	return result
}

// resolveWorkDir canonicalizes the requested directory and enforces that it
// stays under the allowed root. Containment is checked on the resolved
// path, so neither ".." segments nor symlinks can escape.
func (e *Executor) resolveWorkDir(workDir string) (string, error) {
	if workDir == "" {
		return e.root, nil
	}
	if !filepath.IsAbs(workDir) {
		workDir = filepath.Join(e.root, workDir)
	}
	resolved, err := canonicalize(workDir)
	if err != nil {
		return "", fmt.Errorf("resolving working directory %s: %w", workDir, err)
	}
	if resolved != e.root && !strings.HasPrefix(resolved, e.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s resolves to %s outside %s", ErrWorkDirEscape, workDir, resolved, e.root)
	}
	return resolved, nil
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// Dynamic-linker injection variables never reach the child, even when a
// config allow-list names them.
var linkerInjectionVars = map[string]bool{
	"LD_PRELOAD":            true,
	"LD_LIBRARY_PATH":       true,
	"LD_AUDIT":              true,
	"DYLD_INSERT_LIBRARIES": true,
	"DYLD_LIBRARY_PATH":     true,
	"DYLD_FRAMEWORK_PATH":   true,
}

// ScrubEnv builds the child environment from an explicit allow-list rather
// than inheriting the parent environment. Unset variables are omitted and
// PWD always reflects the resolved working directory.
func ScrubEnv(allowlist []string, workDir string) []string {
	env := make([]string, 0, len(allowlist)+1)
	for _, name := range allowlist {
		if linkerInjectionVars[strings.ToUpper(name)] {
			log.Warnf("Sandbox: dropping linker-injection variable %s from allow-list", name)
			continue
		}
		if name == "PWD" {
			continue
		}
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	return append(env, "PWD="+workDir)
}

// limitedWriter keeps the first limit bytes and counts the rest, so output
// capture is capped without ever stalling the producing process.
type limitedWriter struct {
	buf   bytes.Buffer
	limit int64
	total int64
}

func newLimitedWriter(limit int64) *limitedWriter {
	return &limitedWriter{limit: limit}
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	w.total += int64(n)
	if room := w.limit - int64(w.buf.Len()); room > 0 {
		if int64(n) > room {
			p = p[:room]
		}
		w.buf.Write(p)
	}
	return n, nil
}

func (w *limitedWriter) String() string  { return w.buf.String() }
func (w *limitedWriter) Truncated() bool { return w.total > int64(w.buf.Len()) }

func (w *limitedWriter) Marker() string {
	return fmt.Sprintf("\n[output truncated, %d of %d bytes captured]", w.buf.Len(), w.total)
}
