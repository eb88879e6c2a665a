package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var outputJSON bool

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Show output values from the state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOutput,
}

func init() {
	outputCmd.Flags().BoolVar(&outputJSON, "json", false, "Print outputs as JSON")
}

func runOutput(cmd *cobra.Command, args []string) error {
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

	if len(args) == 1 {
		val, ok := st.Outputs[args[0]]
		if !ok {
			return fmt.Errorf("output %q not found in state", args[0])
		}
		if outputJSON {
			data, err := json.Marshal(val)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		} else {
			fmt.Printf("%v\n", val)
		}
		return nil
	}

	if len(st.Outputs) == 0 {
		fmt.Println("The state has no outputs.")
		return nil
	}
	if outputJSON {
		data, err := json.MarshalIndent(st.Outputs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	for k, v := range st.Outputs {
		fmt.Printf("%s = %v\n", k, formatValue(v))
	}
	return nil
}
