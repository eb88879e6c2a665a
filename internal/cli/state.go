package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var stateLockTimeout time.Duration

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify the state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resource addresses in the state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show a single resource from the state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Forget a resource without destroying it",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateRmCmd.Flags().DurationVar(&stateLockTimeout, "lock-timeout", 0, "Max time to wait for the state lock")
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, wd, err := loadConfig(nil, nil)
	if err != nil {
		return err
	}
	backend, err := openBackend(cfg, wd)
	if err != nil {
		return err
	}
	st, err := backend.ReadState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	for _, res := range st.Resources {
		fmt.Println(res.Addr())
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	addr := args[0]

	cfg, wd, err := loadConfig(nil, nil)
	if err != nil {
		return err
	}
	backend, err := openBackend(cfg, wd)
	if err != nil {
		return err
	}
	st, err := backend.ReadState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	res := st.Resource(addr)
	if res == nil {
		return fmt.Errorf("resource %s not found in state", addr)
	}

	fmt.Printf("resource %q %q {\n", res.Type, res.Name)
	for k, v := range res.Inputs {
		fmt.Printf("  %s = %v\n", k, formatValue(v))
	}
	if len(res.Outputs) > 0 {
		fmt.Println("  # outputs")
		for k, v := range res.Outputs {
			fmt.Printf("  %s = %v\n", k, formatValue(v))
		}
	}
	if len(res.Dependencies) > 0 {
		fmt.Printf("  depends_on = %v\n", res.Dependencies)
	}
	fmt.Println("}")
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	addr := args[0]

	cfg, wd, err := loadConfig(nil, nil)
	if err != nil {
		return err
	}
	backend, err := openBackend(cfg, wd)
	if err != nil {
		return err
	}

	return withStateLock(ctx, backend, "state rm", stateLockTimeout, func(lockID string) error {
		st, err := backend.ReadState(ctx)
		if err != nil {
			return fmt.Errorf("failed to read state: %w", err)
		}

		found := false
		kept := st.Resources[:0]
		for _, res := range st.Resources {
			if res.Addr() == addr {
				found = true
				continue
			}
			kept = append(kept, res)
		}
		if !found {
			return fmt.Errorf("resource %s not found in state", addr)
		}
		st.Resources = kept
		st.Serial++

		if err := backend.WriteState(ctx, st, lockID); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
		fmt.Printf("Removed %s from state. The remote object still exists.\n", addr)
		return nil
	})
}
