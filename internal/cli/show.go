package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show [planfile]",
	Short: "Show the current state or a saved plan",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// A .json argument is a plan file written by 'plan --out'.
	if len(args) > 0 && strings.HasSuffix(args[0], ".json") {
		plan, err := readPlanFile(args[0])
		if err != nil {
			return err
		}
		if plan.Empty() {
			fmt.Println("Saved plan contains no changes.")
			return nil
		}
		renderPlanChanges(plan)
		renderPlanSummary(plan)
		return nil
	}

	cfg, wd, err := loadConfig(args, nil)
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

	if len(st.Resources) == 0 {
		fmt.Println("The state is empty.")
		return nil
	}

	fmt.Printf("# State serial %d, lineage %s\n", st.Serial, st.Lineage)
	for _, res := range st.Resources {
		status := ""
		if res.Status != "" {
			status = fmt.Sprintf(" (%s)", res.Status)
		}
		fmt.Printf("\nresource %q %q {%s\n", res.Type, res.Name, status)
		for k, v := range res.Inputs {
			fmt.Printf("  %s = %v\n", k, formatValue(v))
		}
		if len(res.Outputs) > 0 {
			fmt.Println("  # outputs")
			for k, v := range res.Outputs {
				fmt.Printf("  %s = %v\n", k, formatValue(v))
			}
		}
		fmt.Println("}")
	}

	if len(st.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for k, v := range st.Outputs {
			fmt.Printf("  %s = %v\n", k, formatValue(v))
		}
	}
	return nil
}
