package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
)

var refreshLockTimeout time.Duration

var refreshCmd = &cobra.Command{
	Use:   "refresh [path]",
	Short: "Update state to match real infrastructure",
	Long: `Reads the current state of all managed resources from their providers
and updates the state snapshot to reflect actual infrastructure.

This detects drift between what Terrane thinks exists and what actually
exists. Resources that no longer exist are removed from state, so the next
plan recreates them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().DurationVar(&refreshLockTimeout, "lock-timeout", 0, "Max time to wait for the state lock")
}

func runRefresh(cmd *cobra.Command, args []string) error {
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

	return withStateLock(ctx, backend, "refresh", refreshLockTimeout, func(lockID string) error {
		fmt.Print("Reading state... ")
		currentState, err := backend.ReadState(ctx)
		if err != nil {
			fmt.Println("FAILED")
			return fmt.Errorf("failed to read state: %w", err)
		}
		fmt.Println("OK")

		if len(currentState.Resources) == 0 {
			fmt.Println("No resources to refresh.")
			return nil
		}

		if err := loadStateProviders(registry, currentState); err != nil {
			return err
		}

		fmt.Printf("Refreshing %d resource(s)...\n\n", len(currentState.Resources))

		summary, err := eng.RefreshStateWithCallback(ctx, currentState, func(event engine.RefreshEvent) {
			switch event.Status {
			case engine.RefreshDrifted:
				fmt.Printf("  \033[33m%s: DRIFTED (state updated)\033[0m\n", event.Address)
			case engine.RefreshDeleted:
				fmt.Printf("  \033[31m%s: DELETED (no longer exists in provider)\033[0m\n", event.Address)
			case engine.RefreshError:
				fmt.Printf("  %s: ERROR (%v)\n", event.Address, event.Error)
			default:
				fmt.Printf("  %s: OK\n", event.Address)
			}
		})
		if err != nil {
			return err
		}

		if summary.Changed() {
			if err := backend.WriteState(ctx, currentState, lockID); err != nil {
				return fmt.Errorf("failed to write state: %w", err)
			}
		}

		fmt.Printf("\nRefresh complete. %d drifted, %d deleted.\n", len(summary.Drifted), len(summary.Deleted))
		return nil
	})
}
