package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
)

var validateVars []string

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate the configuration",
	Long: `Parses and evaluates the configuration, builds the dependency graph,
and reports reference errors and cycles without contacting any provider.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringArrayVar(&validateVars, "var", nil, "Set a variable (format: name=value)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	vars, err := parseVarFlags(validateVars)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(args, vars)
	if err != nil {
		return err
	}

	resources := engine.ExpandResources(cfg.Resources)
	if _, err := engine.BuildDAG(resources); err != nil {
		return err
	}

	fmt.Printf("Configuration is valid. %d resources, %d outputs.\n", len(resources), len(cfg.Outputs))
	return nil
}
