package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
	"github.com/terrane-io/terrane/internal/provider"
)

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry        *provider.Registry
	ContinueOnError bool // if true, apply continues past failures instead of stopping
	Parallelism     int  // worker pool size for independent subgraphs, 0 = default
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry: registry,
	}
}

// CreatePlan generates an execution plan by comparing desired config with current state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource
// addresses. If targets is nil or empty, all resources are planned. Targeted
// planning always includes the targets' transitive dependencies.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	for _, res := range cfg.Resources {
		if err := e.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}

	resources := ExpandResources(cfg.Resources)

	// The graph is validated before any provider is asked to diff anything,
	// so cycles and dangling references never reach the platform API.
	dag, err := BuildDAG(resources)
	if err != nil {
		return nil, err
	}

	stateMap := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		stateMap[res.Addr()] = res
	}

	configByAddr := make(map[string]*ir.Resource)
	for _, res := range resources {
		configByAddr[res.Addr()] = res
	}

	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
		}
		for _, t := range targets {
			for _, dep := range dag.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	for _, addr := range dag.CreationOrder() {
		res, ok := configByAddr[addr]
		if !ok {
			continue
		}

		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		props := normalizeValue(res.Properties)
		desiredJSON, err := json.Marshal(props)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", res.Name, err)
		}
		inputsHash := hashInputs(desiredJSON)

		prior := stateMap[addr]

		// Unchanged inputs short-circuit without a provider round trip. This
		// is what makes replanning a config against its own snapshot empty.
		if prior != nil && prior.Status == ir.StatusOK && prior.InputsHash == inputsHash {
			plan.Summary.NoOp++
			continue
		}

		var action provider.Action
		var resp *provider.PlanResponse

		if prior != nil && prior.Status == ir.StatusTainted {
			// A tainted resource may exist half-configured; replace it.
			action = provider.ActionReplace
		} else {
			prov, err := e.registry.Get(res.Provider)
			if err != nil {
				return nil, err
			}

			var priorJSON []byte
			if prior != nil {
				priorJSON, _ = json.Marshal(prior.Outputs)
			}

			resp, err = prov.Plan(ctx, &provider.PlanRequest{
				Type:        res.Type,
				Name:        res.Name,
				DesiredJSON: desiredJSON,
				PriorJSON:   priorJSON,
			})
			if err != nil {
				return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
			}
			action = resp.Action
		}

		if action == provider.ActionNoOp {
			plan.Summary.NoOp++
			continue
		}

		if err := enforceLifecycle(res, action, addr); err != nil {
			return nil, err
		}

		if resp != nil && res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 && action == provider.ActionUpdate {
			action = filterIgnoredChanges(res, resp)
		}
		if action == provider.ActionNoOp {
			plan.Summary.NoOp++
			continue
		}

		change := &ir.ResourceChange{
			Address: addr,
			Action:  action.String(),
			Desired: res,
		}
		if action == provider.ActionReplace && res.Lifecycle != nil {
			change.CreateBeforeDestroy = res.Lifecycle.CreateBeforeDestroy
		}

		if prior != nil {
			change.Prior = &ir.Resource{
				Type:       prior.Type,
				Name:       prior.Name,
				Provider:   prior.Provider,
				Properties: prior.Inputs,
			}
			change.Diff = buildPropertyDiff(prior.Inputs, res.Properties)
			if resp != nil {
				for _, attr := range resp.RequiresReplace {
					if d, ok := change.Diff[attr]; ok {
						d.ForcesReplacement = true
					}
				}
			}
		} else {
			change.Diff = buildCreateDiff(res.Properties)
		}

		plan.Changes = append(plan.Changes, change)

		switch action {
		case provider.ActionCreate:
			plan.Summary.Create++
		case provider.ActionUpdate:
			plan.Summary.Update++
		case provider.ActionReplace:
			plan.Summary.Replace++
		case provider.ActionDelete:
			plan.Summary.Delete++
		}
	}

	// Resources in state but no longer declared plan as deletes, ordered
	// dependents-first so teardown respects the recorded dependency edges.
	if err := e.planDeletions(plan, state, configByAddr, targetSet); err != nil {
		return nil, err
	}

	return plan, nil
}

// CreateDestroyPlan plans the deletion of everything in state, in reverse
// dependency order.
func (e *Engine) CreateDestroyPlan(ctx context.Context, state *ir.State) (*ir.Plan, error) {
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
	}
	return plan, e.planDeletions(plan, state, map[string]*ir.Resource{}, nil)
}

func (e *Engine) planDeletions(plan *ir.Plan, state *ir.State, configByAddr map[string]*ir.Resource, targetSet map[string]bool) error {
	var doomed []*ir.ResourceState
	for _, res := range state.Resources {
		if _, declared := configByAddr[res.Addr()]; declared {
			continue
		}
		if targetSet != nil && !targetSet[res.Addr()] {
			continue
		}
		doomed = append(doomed, res)
	}
	if len(doomed) == 0 {
		return nil
	}

	dag, err := BuildDAGFromState(doomed)
	if err != nil {
		return err
	}
	stateMap := make(map[string]*ir.ResourceState, len(doomed))
	for _, res := range doomed {
		stateMap[res.Addr()] = res
	}

	for _, addr := range dag.DestructionOrder() {
		res := stateMap[addr]
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  ir.ActionDelete,
			Prior: &ir.Resource{
				Type:       res.Type,
				Name:       res.Name,
				Provider:   res.Provider,
				Properties: res.Inputs,
			},
			Diff: buildDeleteDiff(res.Inputs),
		})
		plan.Summary.Delete++
	}
	return nil
}

// hashInputs returns a stable fingerprint of the declared inputs. Reference
// placeholders hash as written, so the fingerprint does not churn when a
// dependency's outputs change value but not identity.
func hashInputs(canonicalJSON []byte) string {
	sum := sha256.Sum256(canonicalJSON)
	return hex.EncodeToString(sum[:])
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action provider.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}
	if res.Lifecycle.PreventDestroy && (action == provider.ActionDelete || action == provider.ActionReplace) {
		return fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
	}
	return nil
}

// filterIgnoredChanges downgrades an update to a no-op when every changed
// attribute is listed in ignore_changes.
func filterIgnoredChanges(res *ir.Resource, resp *provider.PlanResponse) provider.Action {
	if len(resp.ChangedAttributes) == 0 {
		return resp.Action
	}

	ignoreSet := make(map[string]bool)
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignoreSet[attr] = true
	}
	for _, attr := range resp.ChangedAttributes {
		if !ignoreSet[attr] {
			return resp.Action
		}
	}
	return provider.ActionNoOp
}

// buildPropertyDiff compares prior and desired properties and returns a diff map.
func buildPropertyDiff(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		if !inPrior {
			diff[k] = &ir.PropertyDiff{
				After:  desiredVal,
				Action: "create",
			}
		} else if !inDesired {
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				Action: "delete",
			}
		} else if fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal) {
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				After:  desiredVal,
				Action: "update",
			}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			After:  v,
			Action: "create",
		}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			Before: v,
			Action: "delete",
		}
	}
	return diff
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
