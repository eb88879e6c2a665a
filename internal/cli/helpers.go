package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/terrane-io/terrane/internal/configs"
	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/provider"
	"github.com/terrane-io/terrane/internal/state"
	awsprovider "github.com/terrane-io/terrane/providers/aws"
	nullprovider "github.com/terrane-io/terrane/providers/null"
)

// providerFactory wires the built-in providers into the registry.
func providerFactory(name string) (provider.Interface, error) {
	var p provider.Interface
	switch name {
	case "aws":
		p = awsprovider.New()
	case "null":
		p = nullprovider.New()
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	settings := map[string]string{}
	if region := os.Getenv("AWS_REGION"); region != "" {
		settings["region"] = region
	}
	if err := p.Configure(context.Background(), settings); err != nil {
		return nil, fmt.Errorf("failed to configure provider %s: %w", name, err)
	}
	return p, nil
}

func newRegistry() *provider.Registry {
	return provider.NewRegistry(providerFactory)
}

// resolveConfigPath maps an optional positional argument to the working
// directory and the entrypoint within it. No argument means the current
// directory with every *.trn.hcl file in it.
func resolveConfigPath(args []string) (wd, entry string, err error) {
	wd, err = os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	if len(args) == 0 {
		return wd, "", nil
	}

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
	}
	if info.IsDir() {
		return absPath, "", nil
	}
	return filepath.Dir(absPath), absPath, nil
}

// loadConfig parses the configuration for the given args and --var values.
func loadConfig(args []string, vars map[string]string) (*ir.Config, string, error) {
	wd, entry, err := resolveConfigPath(args)
	if err != nil {
		return nil, "", err
	}

	parser := configs.NewParser()
	var cfg *ir.Config
	if entry != "" {
		cfg, err = parser.LoadFile(entry, vars)
	} else {
		cfg, err = parser.LoadDir(wd, vars)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, wd, nil
}

// parseVarFlags splits repeated --var name=value flags into a map.
func parseVarFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(flags))
	for _, flag := range flags {
		name, value, ok := strings.Cut(flag, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q, expected name=value", flag)
		}
		vars[name] = value
	}
	return vars, nil
}

func openBackend(cfg *ir.Config, wd string) (state.Backend, error) {
	var backendCfg *ir.BackendConfig
	if cfg != nil {
		backendCfg = cfg.Backend
	}
	backend, err := state.NewBackend(backendCfg, wd)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state backend: %w", err)
	}
	return backend, nil
}

// withStateLock runs fn while holding the state lock, releasing it afterwards
// even when fn fails.
func withStateLock(ctx context.Context, backend state.Backend, operation string, maxWait time.Duration, fn func(lockID string) error) error {
	info := state.NewLockInfo(operation)
	token, err := state.AcquireLock(ctx, backend, info, maxWait)
	if err != nil {
		return err
	}
	defer func() {
		if unlockErr := backend.Unlock(ctx, token); unlockErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to release state lock: %v\n", unlockErr)
		}
	}()
	return fn(token)
}

// loadRequiredProviders auto-loads all providers referenced by config resources.
func loadRequiredProviders(registry *provider.Registry, cfg *ir.Config) error {
	seen := make(map[string]bool)
	for _, res := range cfg.Resources {
		if res.Provider != "" && !seen[res.Provider] {
			seen[res.Provider] = true
			if err := registry.LoadProvider(res.Provider); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
			}
		}
	}
	return nil
}

// loadStateProviders auto-loads all providers referenced by state resources (needed for DELETE).
func loadStateProviders(registry *provider.Registry, st *ir.State) error {
	seen := make(map[string]bool)
	for _, res := range st.Resources {
		if res.Provider != "" && !seen[res.Provider] {
			seen[res.Provider] = true
			if err := registry.LoadProvider(res.Provider); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
			}
		}
	}
	return nil
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		symbol := "~"
		switch change.Action {
		case ir.ActionCreate:
			symbol = "+"
		case ir.ActionDelete:
			symbol = "-"
		case ir.ActionReplace:
			symbol = "-/+"
		case ir.ActionNoOp:
			symbol = " "
		}

		color := "\033[0m"
		switch change.Action {
		case ir.ActionCreate:
			color = "\033[32m"
		case ir.ActionDelete:
			color = "\033[31m"
		case ir.ActionUpdate, ir.ActionReplace:
			color = "\033[33m"
		}

		var resourceType, resourceName string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceName = change.Desired.Name
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceName = change.Prior.Name
		}

		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Address, change.Action, "\033[0m")
		fmt.Printf("%s  %s resource \"%s\" \"%s\" {\n", color, symbol, resourceType, resourceName)
		renderPropertyDiff(change, color)
		fmt.Printf("%s    }%s\n", color, "\033[0m")
	}
}

// renderPropertyDiff prints structured property diffs.
func renderPropertyDiff(change *ir.ResourceChange, color string) {
	for key, diff := range change.Diff {
		suffix := ""
		if diff.ForcesReplacement {
			suffix = " # forces replacement"
		}
		switch diff.Action {
		case "create":
			fmt.Printf("\033[32m      + %s = %v\033[0m\n", key, formatValue(diff.After))
		case "delete":
			fmt.Printf("\033[31m      - %s = %v\033[0m\n", key, formatValue(diff.Before))
		case "update":
			fmt.Printf("\033[33m      ~ %s = %v -> %v%s\033[0m\n", key, formatValue(diff.Before), formatValue(diff.After), suffix)
		default:
			fmt.Printf("%s        %s = %v\n", color, key, formatValue(diff.After))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Delete:  %d\n", plan.Summary.Delete)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// confirm asks for interactive approval unless autoApprove is set.
func confirm(autoApprove bool, prompt string) bool {
	if autoApprove {
		return true
	}
	fmt.Printf("\n%s (y/n): ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}
