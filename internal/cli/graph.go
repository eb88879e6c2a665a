package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
)

var graphVars []string

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  terrane graph | dot -Tpng > graph.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func init() {
	graphCmd.Flags().StringArrayVar(&graphVars, "var", nil, "Set a variable (format: name=value)")
}

func runGraph(cmd *cobra.Command, args []string) error {
	vars, err := parseVarFlags(graphVars)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(args, vars)
	if err != nil {
		return err
	}

	resources := engine.ExpandResources(cfg.Resources)
	dag, err := engine.BuildDAG(resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph terrane {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, res := range resources {
		fmt.Printf("  %q;\n", res.Addr())
	}
	fmt.Println()

	for _, res := range resources {
		for _, dep := range dag.Dependencies(res.Addr()) {
			fmt.Printf("  %q -> %q;\n", res.Addr(), dep)
		}
	}

	fmt.Println("}")
	return nil
}
