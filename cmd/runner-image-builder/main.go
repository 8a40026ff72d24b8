// Package main is the entry point for the runner-image-builder CLI.
//
// runner-image-builder creates bootable OpenStack images preloaded with
// the GitHub Actions runner toolset, either by provisioning an Ubuntu
// cloud image locally in a chroot or by booting a build VM on an
// OpenStack cloud and snapshotting it.
//
// Commands: init, run, latest-build-id.
//
// For detailed usage information, run:
//
//	runner-image-builder --help
package main

import (
	"fmt"
	"os"

	"github.com/imamik/runner-image-builder/cmd/runner-image-builder/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
