//go:build unix

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// posixAdapter wraps a command line for a POSIX shell.
type posixAdapter struct{}

func newPlatformAdapter() (Adapter, error) {
	return &posixAdapter{}, nil
}

func (a *posixAdapter) Name() string { return "posix" }

func (a *posixAdapter) Invoke(ctx context.Context, inv Invocation) (int, error) {
	shellCmd := inv.Command
	if inv.MemoryLimit > 0 {
		// ulimit applies to the shell and everything it spawns, which is
		// the closest portable equivalent of a per-invocation RLIMIT_AS.
		shellCmd = fmt.Sprintf("ulimit -v %d 2>/dev/null; %s", inv.MemoryLimit/1024, inv.Command)
	}

	cmd := exec.Command("sh", "-c", shellCmd)
	cmd.Dir = inv.WorkDir
	cmd.Env = inv.Env
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr

	// Own process group, so a timeout can kill the shell and all of its
	// children in one signal instead of orphaning the children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("starting shell: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return exitCodeFrom(err)
	case <-ctx.Done():
		killProcessGroup(cmd.Process.Pid)
		<-done
		return -1, ctx.Err()
	}
}

// killProcessGroup signals the whole group led by pid. The negative pid
// form addresses the group rather than the single process.
func killProcessGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func exitCodeFrom(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
