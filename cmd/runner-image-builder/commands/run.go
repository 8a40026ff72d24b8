package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/runner-image-builder/cmd/runner-image-builder/handlers"
)

// Run returns the command that builds a runner image and stores it as
// the next revision of IMAGE_NAME on CLOUD_NAME.
//
// Local mode (the default) builds in a privileged chroot on this host
// and prints the stored image id. With --experimental-external the
// build happens on a VM in the target cloud and the ids of all stored
// copies are printed.
func Run() *cobra.Command {
	var opts handlers.RunOptions

	cmd := &cobra.Command{
		Use:   "run CLOUD_NAME IMAGE_NAME",
		Short: "Build a runner image and upload it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CloudName = args[0]
			opts.ImageName = args[1]
			return handlers.Run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Arch, "arch", "", "Target architecture (arm64 or x64, default: host architecture)")
	cmd.Flags().StringVar(&opts.BaseImage, "base-image", "noble", "Ubuntu base (jammy, noble, 22.04 or 24.04)")
	cmd.Flags().IntVar(&opts.KeepRevisions, "keep-revisions", 5, "Image revisions to retain")
	cmd.Flags().StringVar(&opts.CallbackScript, "callback-script", "", "Script invoked with the built image id(s) as its argument")
	cmd.Flags().StringVar(&opts.RunnerVersion, "runner-version", "", "GitHub actions runner version (default: latest release)")
	cmd.Flags().StringVar(&opts.JujuChannel, "juju", "", "Install Juju from this snap channel (e.g. 3.1/stable)")
	cmd.Flags().StringArrayVar(&opts.Snaps, "snap", nil, "Additional snap to install, as name:channel[:classic] (repeatable)")
	cmd.Flags().BoolVar(&opts.External, "experimental-external", false, "Build on a VM in the target cloud instead of locally")
	cmd.Flags().StringVar(&opts.Flavor, "flavor", "", "Build VM flavor name or id (external mode)")
	cmd.Flags().StringVar(&opts.Network, "network", "", "Build VM network name or id (external mode)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "Prefix for per-builder OpenStack resource names")
	cmd.Flags().StringVar(&opts.Proxy, "proxy", "", "host:port proxy for build VM traffic (external mode)")
	cmd.Flags().StringSliceVar(&opts.UploadClouds, "upload-clouds", nil, "Additional clouds to copy the finished image to")

	return cmd
}
