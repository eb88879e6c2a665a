package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/provider"
)

// fakeProvider is an in-memory provider for engine tests. It records calls
// and can be told to fail specific resources.
type fakeProvider struct {
	mu       sync.Mutex
	applied  []string
	deleted  []string
	failOn   map[string]error
	planHook func(req *provider.PlanRequest) *provider.PlanResponse
	readHook func(req *provider.ReadRequest) (*provider.ReadResponse, error)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{failOn: make(map[string]error)}
}

func (f *fakeProvider) Configure(ctx context.Context, settings map[string]string) error {
	return nil
}

func (f *fakeProvider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if f.planHook != nil {
		return f.planHook(req), nil
	}
	if len(req.PriorJSON) == 0 {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}
	return &provider.PlanResponse{Action: provider.ActionUpdate}, nil
}

func (f *fakeProvider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[req.Name]; ok {
		return nil, err
	}
	f.applied = append(f.applied, req.Name)

	var props map[string]any
	_ = json.Unmarshal(req.DesiredJSON, &props)
	outputs := map[string]any{"id": "fake-" + req.Name}
	for k, v := range props {
		outputs[k] = v
	}
	out, _ := json.Marshal(outputs)
	return &provider.ApplyResponse{NewStateJSON: out}, nil
}

func (f *fakeProvider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	if f.readHook != nil {
		return f.readHook(req)
	}
	return &provider.ReadResponse{Exists: true, NewStateJSON: req.CurrentStateJSON}, nil
}

func (f *fakeProvider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn["delete:"+req.ID]; ok {
		return err
	}
	f.deleted = append(f.deleted, req.ID)
	return nil
}

func (f *fakeProvider) appliedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.applied...)
}

func testEngine(fake *fakeProvider) *Engine {
	registry := provider.NewRegistry(nil)
	registry.Register("null", fake)
	return NewEngine(registry)
}

func TestCreatePlan_NewResources(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)

	cfg := &ir.Config{Resources: []*ir.Resource{
		res("null_resource", "a", nil, map[string]any{"k": "v"}),
		res("null_resource", "b", []string{"null_resource.a"}, nil),
	}}

	plan, err := eng.CreatePlan(context.Background(), cfg, &ir.State{})
	require.NoError(t, err)

	require.Len(t, plan.Changes, 2)
	assert.Equal(t, ir.ActionCreate, plan.Changes[0].Action)
	assert.Equal(t, "null_resource.a", plan.Changes[0].Address)
	assert.Equal(t, 2, plan.Summary.Create)
	assert.False(t, plan.Empty())
}

func TestCreatePlan_IdempotentReplan(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)

	cfg := &ir.Config{Resources: []*ir.Resource{
		res("null_resource", "a", nil, map[string]any{"k": "v"}),
	}}

	state := &ir.State{}
	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)

	state, err = eng.ApplyPlan(context.Background(), plan, state)
	require.NoError(t, err)

	// Replanning the unchanged config against its own snapshot is empty.
	replan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	assert.Empty(t, replan.Changes)
	assert.True(t, replan.Empty())
	assert.Equal(t, 1, replan.Summary.NoOp)
}

func TestCreatePlan_TaintedForcesReplace(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)

	cfg := &ir.Config{Resources: []*ir.Resource{
		res("null_resource", "a", nil, map[string]any{"k": "v"}),
	}}
	state := &ir.State{Resources: []*ir.ResourceState{{
		Type: "null_resource", Name: "a", Provider: "null",
		Inputs: map[string]any{"k": "v"},
		Status: ir.StatusTainted,
	}}}

	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
}

func TestCreatePlan_PreventDestroy(t *testing.T) {
	fake := newFakeProvider()
	fake.planHook = func(req *provider.PlanRequest) *provider.PlanResponse {
		return &provider.PlanResponse{Action: provider.ActionReplace, RequiresReplace: []string{"k"}}
	}
	eng := testEngine(fake)

	r := res("null_resource", "a", nil, map[string]any{"k": "v2"})
	r.Lifecycle = &ir.Lifecycle{PreventDestroy: true}
	cfg := &ir.Config{Resources: []*ir.Resource{r}}
	state := &ir.State{Resources: []*ir.ResourceState{{
		Type: "null_resource", Name: "a", Provider: "null",
		Inputs: map[string]any{"k": "v1"}, InputsHash: "stale",
	}}}

	_, err := eng.CreatePlan(context.Background(), cfg, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prevent_destroy")
}

func TestCreatePlan_IgnoreChanges(t *testing.T) {
	fake := newFakeProvider()
	fake.planHook = func(req *provider.PlanRequest) *provider.PlanResponse {
		return &provider.PlanResponse{Action: provider.ActionUpdate, ChangedAttributes: []string{"tags"}}
	}
	eng := testEngine(fake)

	r := res("null_resource", "a", nil, map[string]any{"tags": "new"})
	r.Lifecycle = &ir.Lifecycle{IgnoreChanges: []string{"tags"}}
	cfg := &ir.Config{Resources: []*ir.Resource{r}}
	state := &ir.State{Resources: []*ir.ResourceState{{
		Type: "null_resource", Name: "a", Provider: "null",
		Inputs: map[string]any{"tags": "old"}, InputsHash: "stale",
	}}}

	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)
	assert.Equal(t, 1, plan.Summary.NoOp)
}

func TestCreatePlan_DeletesUndeclaredInDestructionOrder(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)

	cfg := &ir.Config{}
	state := &ir.State{Resources: []*ir.ResourceState{
		{Type: "null_resource", Name: "base", Provider: "null"},
		{Type: "null_resource", Name: "dependent", Provider: "null",
			Dependencies: []string{"null_resource.base"}},
	}}

	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, ir.ActionDelete, plan.Changes[0].Action)
	assert.Equal(t, "null_resource.dependent", plan.Changes[0].Address)
	assert.Equal(t, "null_resource.base", plan.Changes[1].Address)
	assert.Equal(t, 2, plan.Summary.Delete)
}

func TestCreatePlanWithTargets(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)

	cfg := &ir.Config{Resources: []*ir.Resource{
		res("null_resource", "dep", nil, nil),
		res("null_resource", "target", []string{"null_resource.dep"}, nil),
		res("null_resource", "other", nil, nil),
	}}

	plan, err := eng.CreatePlanWithTargets(context.Background(), cfg, &ir.State{}, []string{"null_resource.target"})
	require.NoError(t, err)

	addrs := make([]string, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		addrs = append(addrs, c.Address)
	}
	// The target's transitive dependency is planned too; the unrelated
	// resource is not.
	assert.ElementsMatch(t, []string{"null_resource.dep", "null_resource.target"}, addrs)
}

func TestCreateDestroyPlan(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)

	state := &ir.State{Resources: []*ir.ResourceState{
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "b", Provider: "null",
			Dependencies: []string{"null_resource.a"}},
	}}

	plan, err := eng.CreateDestroyPlan(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "null_resource.b", plan.Changes[0].Address)
	for _, c := range plan.Changes {
		assert.Equal(t, ir.ActionDelete, c.Action)
	}
}

func TestCreatePlan_CycleDetectedBeforeProviderCalls(t *testing.T) {
	fake := newFakeProvider()
	fake.planHook = func(req *provider.PlanRequest) *provider.PlanResponse {
		t.Fatalf("provider.Plan called for %s despite cycle", req.Name)
		return nil
	}
	eng := testEngine(fake)

	cfg := &ir.Config{Resources: []*ir.Resource{
		res("null_resource", "a", []string{"null_resource.b"}, nil),
		res("null_resource", "b", []string{"null_resource.a"}, nil),
	}}

	_, err := eng.CreatePlan(context.Background(), cfg, &ir.State{})
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestCreatePlan_ReplaceCarriesCreateBeforeDestroy(t *testing.T) {
	fake := newFakeProvider()
	fake.planHook = func(req *provider.PlanRequest) *provider.PlanResponse {
		return &provider.PlanResponse{Action: provider.ActionReplace, RequiresReplace: []string{"k"}}
	}
	eng := testEngine(fake)

	r := res("null_resource", "a", nil, map[string]any{"k": "v2"})
	r.Lifecycle = &ir.Lifecycle{CreateBeforeDestroy: true}
	cfg := &ir.Config{Resources: []*ir.Resource{r}}
	state := &ir.State{Resources: []*ir.ResourceState{{
		Type: "null_resource", Name: "a", Provider: "null",
		Inputs: map[string]any{"k": "v1"}, InputsHash: "stale",
	}}}

	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	assert.True(t, plan.Changes[0].CreateBeforeDestroy)
	d, ok := plan.Changes[0].Diff["k"]
	require.True(t, ok)
	assert.True(t, d.ForcesReplacement)
}

func TestHashInputsStable(t *testing.T) {
	a, _ := json.Marshal(map[string]any{"x": 1, "y": "z"})
	b, _ := json.Marshal(map[string]any{"x": 1, "y": "z"})
	assert.Equal(t, hashInputs(a), hashInputs(b))
	c, _ := json.Marshal(map[string]any{"x": 2, "y": "z"})
	assert.NotEqual(t, hashInputs(a), hashInputs(c))
}
