// Package null implements a provider whose resources exist only in state.
// A null_resource carries a triggers map; changing any trigger forces
// replacement. Useful for modeling re-run markers and for tests.
package null

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/terrane-io/terrane/internal/provider"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

type config struct {
	Triggers map[string]string `json:"triggers"`
}

type state struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers,omitempty"`
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	return nil
}

func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	var desired config
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if len(req.PriorJSON) == 0 {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	var prior state
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	if !equal(desired.Triggers, prior.Triggers) {
		return &provider.PlanResponse{
			Action:            provider.ActionReplace,
			ChangedAttributes: []string{"triggers"},
			RequiresReplace:   []string{"triggers"},
		}, nil
	}
	return &provider.PlanResponse{Action: provider.ActionNoOp}, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired config
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	newState := state{
		ID:       fmt.Sprintf("null-%s", req.Name),
		Triggers: desired.Triggers,
	}
	stateBytes, err := json.Marshal(newState)
	if err != nil {
		return nil, err
	}
	return &provider.ApplyResponse{NewStateJSON: stateBytes}, nil
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	// Null resources have no remote object; state is authoritative.
	return &provider.ReadResponse{
		Exists:       true,
		NewStateJSON: req.CurrentStateJSON,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	return nil
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
