// Package app wires the sonar commands.
package app

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sonar",
		Short:        "Proximity radar server",
		Long:         `sonar tracks connected devices and tells each user who else is in the same neighbourhood.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBucketCmd())
	rootCmd.AddCommand(newDistanceCmd())

	return rootCmd
}
