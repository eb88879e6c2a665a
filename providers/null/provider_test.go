package null

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/provider"
)

func TestLifecycle(t *testing.T) {
	p := New()
	ctx := context.Background()
	require.NoError(t, p.Configure(ctx, nil))

	desired, _ := json.Marshal(map[string]any{
		"triggers": map[string]string{"rev": "1"},
	})

	// 1. No prior state plans a create.
	planResp, err := p.Plan(ctx, &provider.PlanRequest{
		Type: "null_resource", Name: "marker", DesiredJSON: desired,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionCreate, planResp.Action)

	// 2. Apply materializes the resource in state.
	applyResp, err := p.Apply(ctx, &provider.ApplyRequest{
		Type: "null_resource", Name: "marker", DesiredJSON: desired,
	})
	require.NoError(t, err)

	var st map[string]any
	require.NoError(t, json.Unmarshal(applyResp.NewStateJSON, &st))
	assert.Equal(t, "null-marker", st["id"])

	// 3. Read echoes state back unchanged.
	readResp, err := p.Read(ctx, &provider.ReadRequest{
		Type: "null_resource", ID: "null-marker", CurrentStateJSON: applyResp.NewStateJSON,
	})
	require.NoError(t, err)
	assert.True(t, readResp.Exists)
	assert.Equal(t, applyResp.NewStateJSON, readResp.NewStateJSON)

	// 4. Replanning against its own state is a no-op.
	planResp, err = p.Plan(ctx, &provider.PlanRequest{
		Type: "null_resource", Name: "marker",
		DesiredJSON: desired, PriorJSON: applyResp.NewStateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionNoOp, planResp.Action)

	// 5. Changing a trigger forces replacement.
	changed, _ := json.Marshal(map[string]any{
		"triggers": map[string]string{"rev": "2"},
	})
	planResp, err = p.Plan(ctx, &provider.PlanRequest{
		Type: "null_resource", Name: "marker",
		DesiredJSON: changed, PriorJSON: applyResp.NewStateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionReplace, planResp.Action)
	assert.Equal(t, []string{"triggers"}, planResp.RequiresReplace)

	// 6. Delete has nothing to tear down remotely.
	require.NoError(t, p.Delete(ctx, &provider.DeleteRequest{
		Type: "null_resource", ID: "null-marker",
	}))
}

func TestPlanWithoutTriggers(t *testing.T) {
	p := New()
	ctx := context.Background()

	empty, _ := json.Marshal(map[string]any{})
	applyResp, err := p.Apply(ctx, &provider.ApplyRequest{
		Type: "null_resource", Name: "bare", DesiredJSON: empty,
	})
	require.NoError(t, err)

	planResp, err := p.Plan(ctx, &provider.PlanRequest{
		Type: "null_resource", Name: "bare",
		DesiredJSON: empty, PriorJSON: applyResp.NewStateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionNoOp, planResp.Action)
}
