package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
	"github.com/terrane-io/terrane/internal/provider"
)

const defaultParallelism = 10

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan and updates the state.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
// Independent subgraphs run concurrently on a bounded worker pool; entries
// wait for their in-plan dependencies and are skipped when a dependency
// fails. The state is mutated entry by entry, so whatever the caller
// persists after a failure contains every change that succeeded. When
// e.ContinueOnError is false the first failure stops dispatching new
// entries; in-flight entries still finish and record their outcome.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	var mu sync.Mutex

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	stateIndex := make(map[string]int)
	for i, res := range state.Resources {
		stateIndex[res.Addr()] = i
	}

	// Creates and updates run before deletes: a replacement's new dependency
	// must exist before the resource that consumes it is touched.
	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == ir.ActionDelete {
			deletes = append(deletes, change)
		} else {
			createUpdates = append(createUpdates, change)
		}
	}

	result := &applyResult{}
	e.applyGroup(ctx, createUpdates, state, &stateIndex, &mu, emit, result, false)
	if result.aborted() && !e.ContinueOnError {
		return state, result.err(state)
	}
	e.applyGroup(ctx, deletes, state, &stateIndex, &mu, emit, result, true)

	state.Serial++
	state.Outputs = resolveAnyRefs(plan.Outputs, state)

	return state, result.err(state)
}

// applyResult accumulates the outcome of an apply across groups.
type applyResult struct {
	mu      sync.Mutex
	failed  []string
	skipped []string
	errs    []error
	cancel  error
}

func (r *applyResult) fail(addr string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, addr)
	r.errs = append(r.errs, err)
}

func (r *applyResult) skip(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, addr)
}

func (r *applyResult) cancelled(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		r.cancel = err
	}
}

func (r *applyResult) aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failed) > 0 || r.cancel != nil
}

func (r *applyResult) err(state *ir.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("apply cancelled: %w", r.cancel)
	}
	if len(r.failed) == 0 {
		return nil
	}
	sort.Strings(r.failed)
	sort.Strings(r.skipped)
	return &ApplyError{
		Failed:  r.failed,
		Skipped: r.skipped,
		Err:     errors.Join(r.errs...),
	}
}

// applyGroup applies one group of changes concurrently, respecting
// dependency edges between members of the group. For delete groups the
// edges are reversed: dependents tear down before their dependencies.
func (e *Engine) applyGroup(ctx context.Context, changes []*ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent), result *applyResult, reverse bool) {
	if len(changes) == 0 {
		return
	}

	changeMap := make(map[string]*ir.ResourceChange)
	for _, c := range changes {
		changeMap[c.Address] = c
	}

	deps := make(map[string]map[string]bool)
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
	}
	for _, c := range changes {
		for _, d := range e.changeDeps(c, state, changeMap) {
			if reverse {
				// Deleting d must wait until c (which depends on d) is gone.
				deps[d][c.Address] = true
			} else {
				deps[c.Address][d] = true
			}
		}
	}

	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	completedMu := sync.Mutex{}
	completedCond := sync.NewCond(&completedMu)
	halted := false
	sem := make(chan struct{}, parallelism)

	var wg sync.WaitGroup

	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			completedMu.Lock()
			for {
				if halted {
					completedMu.Unlock()
					return
				}
				allDepsReady := true
				depFailed := false
				for dep := range deps[c.Address] {
					if failed[dep] {
						depFailed = true
						break
					}
					if !completed[dep] {
						allDepsReady = false
						break
					}
				}
				if depFailed {
					failed[c.Address] = true
					completedMu.Unlock()
					result.skip(c.Address)
					emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped"})
					completedCond.Broadcast()
					return
				}
				if allDepsReady {
					break
				}
				completedCond.Wait()
			}
			completedMu.Unlock()

			// Cancellation stops new work; anything already dispatched runs
			// to completion and records its result below.
			if err := ctx.Err(); err != nil {
				result.cancelled(err)
				completedMu.Lock()
				halted = true
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			if err := e.applyChange(ctx, c, state, stateIndex, mu); err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				result.fail(c.Address, err)
				completedMu.Lock()
				failed[c.Address] = true
				if !e.ContinueOnError {
					halted = true
				}
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})

			completedMu.Lock()
			completed[c.Address] = true
			completedMu.Unlock()
			completedCond.Broadcast()
		}(change)
	}

	wg.Wait()
}

// changeDeps lists the other in-group changes this change depends on.
func (e *Engine) changeDeps(c *ir.ResourceChange, state *ir.State, changeMap map[string]*ir.ResourceChange) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(addr string) {
		if addr != "" && addr != c.Address && !seen[addr] {
			if _, ok := changeMap[addr]; ok {
				seen[addr] = true
				out = append(out, addr)
			}
		}
	}

	if c.Desired != nil {
		for _, d := range c.Desired.DependsOn {
			add(d)
		}
		for _, ref := range ExtractRefs(c.Desired.Properties) {
			addr, _ := RefToAddr(ref)
			add(addr)
		}
		return out
	}

	// Delete entries take their edges from the recorded state.
	if res := state.Resource(c.Address); res != nil {
		for _, d := range res.Dependencies {
			add(d)
		}
	}
	return out
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	var timeout time.Duration
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil {
			timeout = d
		}
	}
	ctx, cancel := WithTimeout(ctx, timeout)
	defer cancel()

	provName := "null"
	if change.Desired != nil {
		provName = change.Desired.Provider
	} else if change.Prior != nil {
		provName = change.Prior.Provider
	}

	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found: %s", provName)
	}

	switch change.Action {
	case ir.ActionCreate, ir.ActionUpdate:
		return e.applyUpsert(ctx, prov, change, state, stateIndex, mu)
	case ir.ActionReplace:
		return e.applyReplace(ctx, prov, change, state, stateIndex, mu)
	case ir.ActionDelete:
		return e.applyDelete(ctx, prov, change, state, stateIndex, mu)
	}
	return nil
}

// applyUpsert creates or updates a resource and records the new state entry.
func (e *Engine) applyUpsert(ctx context.Context, prov provider.Interface, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address
	desiredJSON, priorJSON := e.marshalChange(change, state, stateIndex, mu)

	var resp *provider.ApplyResponse
	err := RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
		var applyErr error
		resp, applyErr = prov.Apply(ctx, &provider.ApplyRequest{
			Type:        change.Desired.Type,
			Name:        change.Desired.Name,
			DesiredJSON: desiredJSON,
			PriorJSON:   priorJSON,
		})
		return applyErr
	}, IsTransientError)
	if err != nil {
		e.taint(addr, state, stateIndex, mu)
		return fmt.Errorf("apply failed for %s: %w", addr, err)
	}

	outputs, err := decodeOutputs(resp.NewStateJSON)
	if err != nil {
		return fmt.Errorf("apply failed for %s: %w", addr, err)
	}

	mu.Lock()
	e.recordResource(change, outputs, state, stateIndex)
	mu.Unlock()
	return nil
}

// applyReplace performs the destroy/create pair a REPLACE entry stands for.
// With create_before_destroy the new object is brought up first and the old
// one deleted afterwards, but only when the platform assigned it a new
// identity; without it the old object is torn down before the create.
func (e *Engine) applyReplace(ctx context.Context, prov provider.Interface, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address

	mu.Lock()
	var oldID string
	var oldOutputsJSON []byte
	if idx, ok := (*stateIndex)[addr]; ok {
		old := state.Resources[idx]
		oldID = outputID(old.Outputs)
		oldOutputsJSON, _ = json.Marshal(old.Outputs)
	}
	mu.Unlock()

	deleteOld := func() error {
		if oldID == "" && oldOutputsJSON == nil {
			return nil
		}
		return RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
			return prov.Delete(ctx, &provider.DeleteRequest{
				Type:             change.Desired.Type,
				ID:               oldID,
				CurrentStateJSON: oldOutputsJSON,
			})
		}, IsTransientError)
	}

	if !change.CreateBeforeDestroy {
		if err := deleteOld(); err != nil {
			e.taint(addr, state, stateIndex, mu)
			return fmt.Errorf("replace failed for %s: %w", addr, err)
		}
		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources[idx].Outputs = nil
			state.Resources[idx].Status = ir.StatusTainted
		}
		mu.Unlock()
	}

	desiredJSON, _ := e.marshalChange(change, state, stateIndex, mu)
	var resp *provider.ApplyResponse
	err := RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
		var applyErr error
		resp, applyErr = prov.Apply(ctx, &provider.ApplyRequest{
			Type:        change.Desired.Type,
			Name:        change.Desired.Name,
			DesiredJSON: desiredJSON,
		})
		return applyErr
	}, IsTransientError)
	if err != nil {
		e.taint(addr, state, stateIndex, mu)
		return fmt.Errorf("replace failed for %s: %w", addr, err)
	}

	outputs, err := decodeOutputs(resp.NewStateJSON)
	if err != nil {
		return fmt.Errorf("replace failed for %s: %w", addr, err)
	}

	mu.Lock()
	e.recordResource(change, outputs, state, stateIndex)
	mu.Unlock()

	if change.CreateBeforeDestroy && oldID != "" && oldID != outputID(outputs) {
		if err := deleteOld(); err != nil {
			// The new object is live and recorded; losing the old one is a
			// failure the operator must see.
			e.taint(addr, state, stateIndex, mu)
			return fmt.Errorf("replace failed for %s: old object not destroyed: %w", addr, err)
		}
	}
	return nil
}

func (e *Engine) applyDelete(ctx context.Context, prov provider.Interface, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address

	var resourceID string
	var currentJSON []byte
	mu.Lock()
	if idx, ok := (*stateIndex)[addr]; ok {
		res := state.Resources[idx]
		resourceID = outputID(res.Outputs)
		currentJSON, _ = json.Marshal(res.Outputs)
	}
	mu.Unlock()

	typ := ""
	if change.Prior != nil {
		typ = change.Prior.Type
	}

	err := RetryWithBackoff(ctx, DefaultRetryPolicy(), func() error {
		return prov.Delete(ctx, &provider.DeleteRequest{
			Type:             typ,
			ID:               resourceID,
			CurrentStateJSON: currentJSON,
		})
	}, IsTransientError)
	if err != nil {
		e.taint(addr, state, stateIndex, mu)
		return fmt.Errorf("delete failed for %s: %w", addr, err)
	}

	mu.Lock()
	if idx, ok := (*stateIndex)[addr]; ok {
		state.Resources = append(state.Resources[:idx], state.Resources[idx+1:]...)
		*stateIndex = make(map[string]int)
		for i, res := range state.Resources {
			(*stateIndex)[res.Addr()] = i
		}
	}
	mu.Unlock()
	return nil
}

// marshalChange renders the desired properties with references resolved
// against current state, plus the prior outputs if any.
func (e *Engine) marshalChange(change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) (desiredJSON, priorJSON []byte) {
	mu.Lock()
	defer mu.Unlock()

	if change.Desired != nil {
		props := normalizeValue(change.Desired.Properties)
		resolved := resolveReferences(props, state)
		desiredJSON, _ = json.Marshal(resolved)
	}
	if idx, ok := (*stateIndex)[change.Address]; ok {
		prior := state.Resources[idx]
		if prior.Outputs != nil {
			priorJSON, _ = json.Marshal(prior.Outputs)
		}
	}
	return desiredJSON, priorJSON
}

// recordResource upserts the state entry for a successful create/update.
// Caller holds the state mutex.
func (e *Engine) recordResource(change *ir.ResourceChange, outputs map[string]any, state *ir.State, stateIndex *map[string]int) {
	res := change.Desired

	var depsList []string
	seen := make(map[string]bool)
	for _, d := range res.DependsOn {
		if !seen[d] {
			seen[d] = true
			depsList = append(depsList, d)
		}
	}
	for _, ref := range ExtractRefs(res.Properties) {
		if a, _ := RefToAddr(ref); a != "" && !seen[a] {
			seen[a] = true
			depsList = append(depsList, a)
		}
	}

	canonical, _ := json.Marshal(normalizeValue(res.Properties))
	newResState := &ir.ResourceState{
		Type:         res.Type,
		Name:         res.Name,
		Provider:     res.Provider,
		Inputs:       res.Properties,
		InputsHash:   hashInputs(canonical),
		Outputs:      outputs,
		Dependencies: depsList,
		Status:       ir.StatusOK,
	}

	if idx, ok := (*stateIndex)[change.Address]; ok {
		state.Resources[idx] = newResState
	} else {
		(*stateIndex)[change.Address] = len(state.Resources)
		state.Resources = append(state.Resources, newResState)
	}
}

// taint flags an existing state entry whose operation failed partway.
func (e *Engine) taint(addr string, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
	if idx, ok := (*stateIndex)[addr]; ok {
		state.Resources[idx].Status = ir.StatusTainted
	}
}

func decodeOutputs(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var outputs map[string]any
	if err := json.Unmarshal(raw, &outputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provider state: %w", err)
	}
	return outputs, nil
}

func outputID(outputs map[string]any) string {
	if outputs == nil {
		return ""
	}
	if id, ok := outputs["id"]; ok {
		return fmt.Sprintf("%v", id)
	}
	return ""
}

// resolveReferences replaces ref:// placeholders with the referenced
// resource's outputs (or declared inputs as a fallback) from state. A string
// that is exactly one placeholder keeps the resolved value's type; embedded
// placeholders are spliced in as text.
func resolveReferences(val any, state *ir.State) any {
	switch v := val.(type) {
	case string:
		if !strings.Contains(v, RefPrefix) {
			return v
		}
		if refPattern.FindString(v) == v {
			if resolved, ok := lookupRef(v, state); ok {
				return resolved
			}
			return v
		}
		return refPattern.ReplaceAllStringFunc(v, func(ref string) string {
			if resolved, ok := lookupRef(ref, state); ok {
				return fmt.Sprintf("%v", resolved)
			}
			return ref
		})
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range v {
			newMap[k] = resolveReferences(v, state)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(v))
		for i, v := range v {
			newSlice[i] = resolveReferences(v, state)
		}
		return newSlice
	default:
		return v
	}
}

// lookupRef resolves a single placeholder against state.
func lookupRef(ref string, state *ir.State) (any, bool) {
	addr, attr := RefToAddr(ref)
	if addr == "" {
		return nil, false
	}
	res := state.Resource(addr)
	if res == nil {
		return nil, false
	}
	if out, ok := res.Outputs[attr]; ok {
		return out, true
	}
	if in, ok := res.Inputs[attr]; ok {
		return in, true
	}
	return nil, false
}

// resolveAnyRefs is resolveReferences for arbitrary output values.
func resolveAnyRefs(outputs map[string]any, state *ir.State) map[string]any {
	if outputs == nil {
		return nil
	}
	resolved := resolveReferences(normalizeValue(outputs), state)
	if m, ok := resolved.(map[string]any); ok {
		return m
	}
	return outputs
}
