// Package system runs host commands for the privileged parts of the
// build pipeline: qemu-img, qemu-nbd, mount, chroot and friends. The
// Runner interface exists so pipeline tests can record invocations and
// inject failures without touching the host.
package system

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes host commands.
type Runner interface {
	// Run executes the command and returns an error carrying the
	// trailing stderr output on failure.
	Run(ctx context.Context, name string, args ...string) error
	// Output executes the command and returns its trimmed stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands directly on the host via os/exec.
type ExecRunner struct {
	// Env holds extra environment entries appended to the host
	// environment for every command.
	Env []string
}

var _ Runner = (*ExecRunner)(nil)

// Run executes the command, discarding stdout and folding stderr into
// the returned error.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), r.Env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, tail(stderr.String()))
	}
	return nil
}

// Output executes the command and returns its trimmed stdout.
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), r.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, tail(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// tail keeps error messages readable when a command dumps pages of
// output before failing.
func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
