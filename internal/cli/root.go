package cli

import (
	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "terrane",
	Short: "Declarative infrastructure reconciliation",
	Long: `Terrane reconciles declared resources against a durable state snapshot.

Resources are declared in HCL (*.trn.hcl), compiled into a dependency
graph, diffed against state, and applied under an exclusive state lock.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(versionCmd)
}
