// Package sandbox runs approved commands inside a constrained environment:
// scrubbed variables, a confined working directory, wall-clock timeouts with
// process-group termination, and capped output capture.
package sandbox

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrUnsupportedPlatform means no adapter exists for this OS. It is
	// fatal at startup; the pipeline refuses to initialize rather than
	// degrade silently.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrWorkDirEscape means a requested working directory resolves
	// outside the allowed root.
	ErrWorkDirEscape = errors.New("working directory escapes allowed root")
)

// Invocation is a fully resolved execution request. The executor prepares
// every field; the adapter only translates it into a platform process.
type Invocation struct {
	Command string
	WorkDir string
	Env     []string
	Stdout  io.Writer
	Stderr  io.Writer

	// MemoryLimit caps the process address space in bytes where the
	// platform supports it. Zero means unlimited.
	MemoryLimit int64
}

// Adapter translates an abstract command line into a platform-specific
// shell invocation. Adapters never classify or apply policy; they run what
// they are given and report how it ended.
//
// Invoke blocks until the process exits or ctx is done. When ctx expires
// the adapter terminates the whole process group, not just the top-level
// process, and returns ctx.Err(). The returned exit code is -1 when the
// process never ran to completion.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, inv Invocation) (exitCode int, err error)
}

// NewAdapter selects the adapter for the current platform. Called once at
// startup; per-call platform branching is deliberately avoided.
func NewAdapter() (Adapter, error) {
	return newPlatformAdapter()
}
