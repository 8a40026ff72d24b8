// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument
// parsing, flag binding, and validation. Command execution is delegated
// to handler functions in the handlers package.
package commands

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// Root returns the root command for the runner-image-builder CLI.
func Root() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "runner-image-builder",
		Short: "Build GitHub Actions runner images for OpenStack clouds",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			log.SetLevel(level)
			return nil
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(Init())
	cmd.AddCommand(Run())
	cmd.AddCommand(LatestBuildID())

	return cmd
}
