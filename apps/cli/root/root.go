package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the commerce admin CLI. Subcommands (auth, bootstrap, tenant) are attached here.
var rootCmd = &cobra.Command{
	Use:           "palmyra",
	Short:         "Palmyra commerce admin CLI",
	Long:          "Administrative utilities for Palmyra commerce (schema bootstrap, tenant registry, dev tokens).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
