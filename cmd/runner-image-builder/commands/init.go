package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/runner-image-builder/cmd/runner-image-builder/handlers"
)

// Init returns the command that prepares a host or cloud for image
// builds.
//
// In local mode (the default) it installs the host packages and kernel
// module the chroot pipeline needs. With --experimental-external it
// seeds the base images and shared SSH/network resources on the target
// cloud instead.
func Init() *cobra.Command {
	var opts handlers.InitOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Prepare the host or cloud for image builds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Init(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Arch, "arch", "", "Target architecture (arm64 or x64, default: host architecture)")
	cmd.Flags().StringVar(&opts.CloudName, "cloud-name", "", "Cloud from clouds.yaml to initialize (external mode)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "Prefix for per-builder OpenStack resource names")
	cmd.Flags().BoolVar(&opts.External, "experimental-external", false, "Initialize an OpenStack cloud for VM-based builds")

	return cmd
}
