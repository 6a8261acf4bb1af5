package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "routesim",
	Short: "BGP route propagation simulator",
	Long: `routesim simulates how BGP announcements and withdrawals propagate through a topology of
autonomous systems, on a virtual clock, until the network converges.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "sim",
		Title: "Simulation Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "cfg",
		Title: "Scenario Tools",
	})
}
