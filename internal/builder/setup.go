package builder

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/charmbracelet/log"

	"github.com/imamik/runner-image-builder/internal/imgerrors"
	"github.com/imamik/runner-image-builder/internal/system"
)

// hostTools are the binaries the pipeline shells out to.
var hostTools = []string{
	"qemu-img",
	"qemu-nbd",
	"mount",
	"umount",
	"chroot",
	"growpart",
	"resize2fs",
	"sync",
}

// hostPackages provide the hostTools on Ubuntu hosts.
var hostPackages = []string{"qemu-utils", "cloud-guest-utils"}

// ensureHostDependencies installs missing host tools and loads the nbd
// kernel module. The apt install only runs when a tool is absent so a
// prepared host builds without touching the package manager.
func ensureHostDependencies(ctx context.Context, run system.Runner, lookPath func(string) (string, error)) error {
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	var missing []string
	for _, tool := range hostTools {
		if _, err := lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		log.Info("installing host build dependencies", "missing", missing)
		if err := run.Run(ctx, "apt-get", "update", "-y"); err != nil {
			return fmt.Errorf("apt update: %v: %w", err, imgerrors.ErrDependencyInstall)
		}
		args := append([]string{"install", "-y", "--no-install-recommends"}, hostPackages...)
		if err := run.Run(ctx, "apt-get", args...); err != nil {
			return fmt.Errorf("install %v: %v: %w", hostPackages, err, imgerrors.ErrDependencyInstall)
		}
	}

	if err := run.Run(ctx, "modprobe", "nbd"); err != nil {
		return fmt.Errorf("load nbd module: %v: %w", err, imgerrors.ErrDependencyInstall)
	}
	return nil
}
