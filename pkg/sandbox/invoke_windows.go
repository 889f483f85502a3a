//go:build windows

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// windowsAdapter wraps a command line for PowerShell.
type windowsAdapter struct{}

func newPlatformAdapter() (Adapter, error) {
	return &windowsAdapter{}, nil
}

func (a *windowsAdapter) Name() string { return "windows" }

func (a *windowsAdapter) Invoke(ctx context.Context, inv Invocation) (int, error) {
	// MemoryLimit is recorded in policy but not enforced here; Windows has
	// no per-invocation address-space limit short of job objects.
	cmd := exec.Command("powershell", "-NoProfile", "-Command", inv.Command)
	cmd.Dir = inv.WorkDir
	cmd.Env = inv.Env
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("starting powershell: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return exitCodeFrom(err)
	case <-ctx.Done():
		killProcessTree(cmd.Process.Pid)
		<-done
		return -1, ctx.Err()
	}
}

// killProcessTree terminates pid and every descendant. taskkill /T walks
// the child tree, which SIGKILL-equivalents on the single handle would not.
func killProcessTree(pid int) {
	_ = exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
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
