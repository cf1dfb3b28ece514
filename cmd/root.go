package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jido",
	Short: "Provision disposable cloud workspaces",
	Long: `Jido provisions a single cloud instance on demand, waits until it is
reachable over SSH, starts a shell session against it, and can later tear
the instance down again with verified deletion.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
