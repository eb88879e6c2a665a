package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
)

var (
	destroyAutoApprove bool
	destroyLockTimeout time.Duration
	destroyParallelism int
)

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy all managed resources",
	Long:  `Deletes every resource recorded in state, in reverse dependency order.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval")
	destroyCmd.Flags().DurationVar(&destroyLockTimeout, "lock-timeout", 0, "Max time to wait for the state lock")
	destroyCmd.Flags().IntVar(&destroyParallelism, "parallelism", 0, "Max concurrent resource operations (default 10)")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, wd, err := loadConfig(args, nil)
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg, wd)
	if err != nil {
		return err
	}

	registry := newRegistry()
	eng := engine.NewEngine(registry)
	eng.Parallelism = destroyParallelism

	return withStateLock(ctx, backend, "destroy", destroyLockTimeout, func(lockID string) error {
		currentState, err := backend.ReadState(ctx)
		if err != nil {
			return fmt.Errorf("failed to read state: %w", err)
		}
		if len(currentState.Resources) == 0 {
			fmt.Println("No resources in state. Nothing to destroy.")
			return nil
		}
		if err := loadStateProviders(registry, currentState); err != nil {
			return err
		}

		plan, err := eng.CreateDestroyPlan(ctx, currentState)
		if err != nil {
			return fmt.Errorf("destroy plan failed: %w", err)
		}

		fmt.Println("Terrane will destroy the following resources:")
		renderPlanChanges(plan)
		renderPlanSummary(plan)

		if !confirm(destroyAutoApprove, "Do you really want to destroy all resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}

		fmt.Printf("\nDestroying %d resources...\n", len(plan.Changes))

		newState, applyErr := eng.ApplyPlan(ctx, plan, currentState)
		if writeErr := backend.WriteState(ctx, newState, lockID); writeErr != nil {
			if applyErr != nil {
				return errors.Join(applyErr, fmt.Errorf("failed to write state: %w", writeErr))
			}
			return fmt.Errorf("failed to write state: %w", writeErr)
		}
		if applyErr != nil {
			return applyErr
		}

		fmt.Printf("\nDestroy complete! %d resources destroyed.\n", plan.Summary.Delete)
		return nil
	})
}
