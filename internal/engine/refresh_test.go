package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/provider"
)

func refreshState(entries ...*ir.ResourceState) *ir.State {
	return &ir.State{Serial: 3, Resources: entries}
}

func TestRefreshState_NoChanges(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)

	state := refreshState(&ir.ResourceState{
		Type: "null_resource", Name: "a", Provider: "null",
		Outputs: map[string]any{"id": "fake-a"},
	})

	summary, err := eng.RefreshState(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, summary.Changed())
	assert.Equal(t, 3, state.Serial)
	require.Len(t, state.Resources, 1)
	assert.Equal(t, "fake-a", state.Resources[0].Outputs["id"])
}

func TestRefreshState_DriftUpdatesOutputs(t *testing.T) {
	fake := newFakeProvider()
	fake.readHook = func(req *provider.ReadRequest) (*provider.ReadResponse, error) {
		out, _ := json.Marshal(map[string]any{"id": req.ID, "size": "large"})
		return &provider.ReadResponse{Exists: true, NewStateJSON: out}, nil
	}
	eng := testEngine(fake)

	state := refreshState(&ir.ResourceState{
		Type: "null_resource", Name: "a", Provider: "null",
		Outputs: map[string]any{"id": "fake-a", "size": "small"},
	})

	summary, err := eng.RefreshState(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"null_resource.a"}, summary.Drifted)
	assert.Equal(t, 4, state.Serial)
	assert.Equal(t, "large", state.Resources[0].Outputs["size"])
}

func TestRefreshState_DeletedEntryRemoved(t *testing.T) {
	fake := newFakeProvider()
	fake.readHook = func(req *provider.ReadRequest) (*provider.ReadResponse, error) {
		if req.ID == "fake-gone" {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return &provider.ReadResponse{Exists: true, NewStateJSON: req.CurrentStateJSON}, nil
	}
	eng := testEngine(fake)

	state := refreshState(
		&ir.ResourceState{Type: "null_resource", Name: "gone", Provider: "null",
			Outputs: map[string]any{"id": "fake-gone"}},
		&ir.ResourceState{Type: "null_resource", Name: "kept", Provider: "null",
			Outputs: map[string]any{"id": "fake-kept"}},
	)

	summary, err := eng.RefreshState(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"null_resource.gone"}, summary.Deleted)
	assert.Equal(t, 4, state.Serial)
	require.Len(t, state.Resources, 1)
	assert.Equal(t, "null_resource.kept", state.Resources[0].Addr())
}

func TestRefreshState_ReadErrorKeepsEntry(t *testing.T) {
	fake := newFakeProvider()
	fake.readHook = func(req *provider.ReadRequest) (*provider.ReadResponse, error) {
		return nil, errors.New("api throttled")
	}
	eng := testEngine(fake)

	state := refreshState(&ir.ResourceState{
		Type: "null_resource", Name: "a", Provider: "null",
		Outputs: map[string]any{"id": "fake-a"},
	})

	summary, err := eng.RefreshState(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"null_resource.a"}, summary.Errored)
	assert.False(t, summary.Changed())
	assert.Equal(t, 3, state.Serial)
	require.Len(t, state.Resources, 1)
	assert.Equal(t, "fake-a", state.Resources[0].Outputs["id"])
}

func TestRefreshState_EmitsEvents(t *testing.T) {
	fake := newFakeProvider()
	fake.readHook = func(req *provider.ReadRequest) (*provider.ReadResponse, error) {
		if req.ID == "fake-gone" {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return &provider.ReadResponse{Exists: true, NewStateJSON: req.CurrentStateJSON}, nil
	}
	eng := testEngine(fake)

	state := refreshState(
		&ir.ResourceState{Type: "null_resource", Name: "ok", Provider: "null",
			Outputs: map[string]any{"id": "fake-ok"}},
		&ir.ResourceState{Type: "null_resource", Name: "gone", Provider: "null",
			Outputs: map[string]any{"id": "fake-gone"}},
	)

	statuses := make(map[string]string)
	_, err := eng.RefreshStateWithCallback(context.Background(), state, func(event RefreshEvent) {
		statuses[event.Address] = event.Status
	})
	require.NoError(t, err)
	assert.Equal(t, RefreshOK, statuses["null_resource.ok"])
	assert.Equal(t, RefreshDeleted, statuses["null_resource.gone"])
}

func TestRefreshState_Cancellation(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := refreshState(&ir.ResourceState{
		Type: "null_resource", Name: "a", Provider: "null",
		Outputs: map[string]any{"id": "fake-a"},
	})
	_, err := eng.RefreshState(ctx, state)
	require.ErrorIs(t, err, context.Canceled)
}
