// Package chroot provides a scoped chroot session over a mounted root
// filesystem. A session binds the pseudo-filesystems a functional
// chroot needs, runs commands with process root redirected into the
// target, and releases the binds in reverse order on close.
package chroot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/imamik/runner-image-builder/internal/system"
)

// pseudoMounts lists the bind targets a chroot needs, in mount order.
// Release walks them backwards.
var pseudoMounts = []struct {
	fstype string
	source string
	target string
}{
	{fstype: "proc", source: "proc", target: "proc"},
	{fstype: "sysfs", source: "sysfs", target: "sys"},
	{fstype: "", source: "/dev", target: "dev"},
	{fstype: "devpts", source: "devpts", target: "dev/pts"},
}

// Session executes commands inside a mounted root filesystem.
type Session struct {
	root   string
	run    system.Runner
	active []string // mounted paths, in mount order
}

// NewSession returns an unbound session over root.
func NewSession(root string, run system.Runner) *Session {
	return &Session{root: root, run: run}
}

// Bind mounts the pseudo-filesystems into the session root and copies
// the host resolv.conf in so chrooted commands can resolve names. On
// any failure the binds made so far are released.
func (s *Session) Bind(ctx context.Context) error {
	for _, m := range pseudoMounts {
		target := filepath.Join(s.root, m.target)
		if err := os.MkdirAll(target, 0o755); err != nil {
			s.Release(ctx)
			return fmt.Errorf("create mount target %s: %w", target, err)
		}

		var err error
		if m.fstype == "" {
			err = s.run.Run(ctx, "mount", "--bind", m.source, target)
		} else {
			err = s.run.Run(ctx, "mount", "-t", m.fstype, m.source, target)
		}
		if err != nil {
			s.Release(ctx)
			return fmt.Errorf("mount %s: %w", target, err)
		}
		s.active = append(s.active, target)
	}

	resolv, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		log.Debug("no host resolv.conf to copy", "error", err)
		return nil
	}
	etc := filepath.Join(s.root, "etc")
	err = os.MkdirAll(etc, 0o755)
	if err == nil {
		err = os.WriteFile(filepath.Join(etc, "resolv.conf"), resolv, 0o644)
	}
	if err != nil {
		s.Release(ctx)
		return fmt.Errorf("copy resolv.conf: %w", err)
	}
	return nil
}

// Release unmounts the pseudo-filesystems in reverse mount order. All
// unmounts are attempted; the first failure is returned.
func (s *Session) Release(ctx context.Context) error {
	var firstErr error
	for i := len(s.active) - 1; i >= 0; i-- {
		if err := s.run.Run(ctx, "umount", s.active[i]); err != nil {
			log.Warn("failed to unmount", "target", s.active[i], "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("unmount %s: %w", s.active[i], err)
			}
			continue
		}
	}
	s.active = nil
	return firstErr
}

// Run executes a command inside the chroot.
func (s *Session) Run(ctx context.Context, name string, args ...string) error {
	chrootArgs := append([]string{s.root, name}, args...)
	return s.run.Run(ctx, "chroot", chrootArgs...)
}

// Script executes a shell snippet inside the chroot with errexit set.
func (s *Session) Script(ctx context.Context, script string) error {
	return s.run.Run(ctx, "chroot", s.root, "/bin/bash", "-e", "-c", script)
}

// Root returns the session's root path on the host.
func (s *Session) Root() string {
	return s.root
}
