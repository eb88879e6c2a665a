package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/ir"
)

var (
	planOut         string
	planVars        []string
	planTargets     []string
	planLockTimeout time.Duration
)

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Show what an apply would change",
	Long: `Compares the configuration with the recorded state and prints the
set of changes an apply would make, without touching anything.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planOut, "out", "", "Write the plan to a file for later apply")
	planCmd.Flags().StringArrayVar(&planVars, "var", nil, "Set a variable (format: name=value)")
	planCmd.Flags().StringArrayVar(&planTargets, "target", nil, "Limit planning to a resource address (repeatable)")
	planCmd.Flags().DurationVar(&planLockTimeout, "lock-timeout", 0, "Max time to wait for the state lock")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	vars, err := parseVarFlags(planVars)
	if err != nil {
		return err
	}
	cfg, wd, err := loadConfig(args, vars)
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg, wd)
	if err != nil {
		return err
	}

	registry := newRegistry()
	if err := loadRequiredProviders(registry, cfg); err != nil {
		return err
	}
	eng := engine.NewEngine(registry)

	var plan *ir.Plan
	err = withStateLock(ctx, backend, "plan", planLockTimeout, func(lockID string) error {
		currentState, err := backend.ReadState(ctx)
		if err != nil {
			return fmt.Errorf("failed to read state: %w", err)
		}
		if err := loadStateProviders(registry, currentState); err != nil {
			return err
		}
		plan, err = eng.CreatePlanWithTargets(ctx, cfg, currentState, planTargets)
		if err != nil {
			return fmt.Errorf("plan generation failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if plan.Empty() {
		fmt.Println("No changes. Infrastructure is up-to-date.")
	} else {
		fmt.Println("Terrane will perform the following actions:")
		renderPlanChanges(plan)
		renderPlanSummary(plan)
	}

	if planOut != "" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize plan: %w", err)
		}
		if err := os.WriteFile(planOut, data, 0644); err != nil {
			return fmt.Errorf("failed to write plan file: %w", err)
		}
		fmt.Printf("\nPlan saved to %s. Apply it with: terrane apply --plan %s\n", planOut, planOut)
	}

	return nil
}

// readPlanFile loads a plan previously written with --out.
func readPlanFile(path string) (*ir.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %s: %w", path, err)
	}
	var plan ir.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	return &plan, nil
}
