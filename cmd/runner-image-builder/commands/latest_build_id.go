package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/runner-image-builder/cmd/runner-image-builder/handlers"
)

// LatestBuildID returns the command that looks up the id of the newest
// stored revision of IMAGE_NAME on CLOUD_NAME.
//
// The id is printed without a trailing newline so scripts can capture
// it verbatim.
func LatestBuildID() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "latest-build-id CLOUD_NAME IMAGE_NAME",
		Short: "Print the id of the newest stored image revision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.LatestBuildID(cmd.Context(), args[0], args[1], cmd.OutOrStdout())
		},
	}
	return cmd
}
