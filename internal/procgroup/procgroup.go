// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup spawns child processes in their own process group so
// termination signals reach transient helper subprocesses, not just the
// direct child.
package procgroup

import (
	"context"
	"os/exec"
	"syscall"
	"time"
)

// Set configures the command to start in a new process group.
// Mandatory for Kill to function as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Kill sends a signal to the process group of the command. Returns nil if
// the process is gone already.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	return kill(cmd, sig)
}

// Shutdown escalates TERM to KILL: it signals the group, waits up to grace
// for done to close, then kills the group. done should be closed by the
// goroutine that observes cmd.Wait returning.
func Shutdown(ctx context.Context, cmd *exec.Cmd, done <-chan struct{}, grace time.Duration) {
	_ = Kill(cmd, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-ctx.Done():
	case <-timer.C:
	}
	_ = Kill(cmd, syscall.SIGKILL)
}
