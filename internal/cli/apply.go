package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/ir"
)

var (
	applyAutoApprove     bool
	applyVars            []string
	applyTargets         []string
	applyPlanFile        string
	applyParallelism     int
	applyLockTimeout     time.Duration
	applyContinueOnError bool
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a configuration",
	Long:  `Creates, updates, and deletes resources to match the configuration.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().StringArrayVar(&applyVars, "var", nil, "Set a variable (format: name=value)")
	applyCmd.Flags().StringArrayVar(&applyTargets, "target", nil, "Limit the apply to a resource address (repeatable)")
	applyCmd.Flags().StringVar(&applyPlanFile, "plan", "", "Apply a plan file written by 'plan --out' instead of replanning")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 0, "Max concurrent resource operations (default 10)")
	applyCmd.Flags().DurationVar(&applyLockTimeout, "lock-timeout", 0, "Max time to wait for the state lock")
	applyCmd.Flags().BoolVar(&applyContinueOnError, "continue-on-error", false, "Keep applying independent resources after a failure")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	vars, err := parseVarFlags(applyVars)
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
	eng.Parallelism = applyParallelism
	eng.ContinueOnError = applyContinueOnError

	return withStateLock(ctx, backend, "apply", applyLockTimeout, func(lockID string) error {
		currentState, err := backend.ReadState(ctx)
		if err != nil {
			return fmt.Errorf("failed to read state: %w", err)
		}
		if err := loadStateProviders(registry, currentState); err != nil {
			return err
		}

		var plan *ir.Plan
		if applyPlanFile != "" {
			plan, err = readPlanFile(applyPlanFile)
		} else {
			plan, err = eng.CreatePlanWithTargets(ctx, cfg, currentState, applyTargets)
		}
		if err != nil {
			return err
		}

		if plan.Empty() {
			fmt.Println("No changes. Infrastructure is up-to-date.")
			return nil
		}

		fmt.Println("Terrane will perform the following actions:")
		renderPlanChanges(plan)
		renderPlanSummary(plan)

		if !confirm(applyAutoApprove, "Do you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}

		fmt.Printf("\nApplying %d changes...\n", len(plan.Changes))

		newState, applyErr := eng.ApplyPlanWithCallback(ctx, plan, currentState, func(event engine.ApplyEvent) {
			switch event.Status {
			case "completed":
				fmt.Printf("  %s: %s complete (%s)\n", event.Address, event.Action, event.Duration.Round(time.Millisecond))
			case "failed":
				fmt.Printf("  %s: %s failed: %v\n", event.Address, event.Action, event.Error)
			case "skipped":
				fmt.Printf("  %s: skipped (dependency failed)\n", event.Address)
			}
		})

		// The snapshot is written even on failure so every success stays
		// recorded.
		if writeErr := backend.WriteState(ctx, newState, lockID); writeErr != nil {
			if applyErr != nil {
				return errors.Join(applyErr, fmt.Errorf("failed to write state: %w", writeErr))
			}
			return fmt.Errorf("failed to write state: %w", writeErr)
		}
		if applyErr != nil {
			var ae *engine.ApplyError
			if errors.As(applyErr, &ae) {
				fmt.Printf("\nApply incomplete: %d failed, %d skipped.\n", len(ae.Failed), len(ae.Skipped))
			}
			return applyErr
		}

		fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
			plan.Summary.Create, plan.Summary.Update+plan.Summary.Replace, plan.Summary.Delete)

		if len(newState.Outputs) > 0 {
			fmt.Println("\nOutputs:")
			for k, v := range newState.Outputs {
				fmt.Printf("  %s = %v\n", k, v)
			}
		}
		return nil
	})
}
