package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
	"github.com/terrane-io/terrane/internal/provider"
)

// Refresh statuses reported per resource.
const (
	RefreshOK      = "ok"
	RefreshDrifted = "drifted"
	RefreshDeleted = "deleted"
	RefreshError   = "error"
)

// RefreshEvent reports the outcome of reading one resource from its provider.
type RefreshEvent struct {
	Address string
	Status  string
	Error   error
}

// RefreshSummary totals a refresh run by resource address.
type RefreshSummary struct {
	Drifted []string
	Deleted []string
	Errored []string
}

// Changed reports whether the refresh modified the snapshot.
func (s *RefreshSummary) Changed() bool {
	return len(s.Drifted) > 0 || len(s.Deleted) > 0
}

// RefreshState reconciles the snapshot against live infrastructure by asking
// each resource's provider to read it back. Outputs that drifted are updated
// in place, and entries whose resource no longer exists are dropped from the
// snapshot. The serial is bumped when anything changed. Read failures keep
// the stored entry untouched and are reported in the summary rather than
// aborting the pass.
func (e *Engine) RefreshState(ctx context.Context, state *ir.State) (*RefreshSummary, error) {
	return e.RefreshStateWithCallback(ctx, state, nil)
}

// RefreshStateWithCallback is RefreshState with a per-resource event callback.
func (e *Engine) RefreshStateWithCallback(ctx context.Context, state *ir.State, callback func(RefreshEvent)) (*RefreshSummary, error) {
	summary := &RefreshSummary{}
	emit := func(event RefreshEvent) {
		if callback != nil {
			callback(event)
		}
	}

	kept := state.Resources[:0]
	for _, res := range state.Resources {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("refresh cancelled: %w", err)
		}
		addr := res.Addr()

		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			summary.Errored = append(summary.Errored, addr)
			emit(RefreshEvent{Address: addr, Status: RefreshError, Error: err})
			kept = append(kept, res)
			continue
		}

		var currentJSON []byte
		if res.Outputs != nil {
			currentJSON, _ = json.Marshal(res.Outputs)
		}

		resp, err := prov.Read(ctx, &provider.ReadRequest{
			Type:             res.Type,
			ID:               outputID(res.Outputs),
			CurrentStateJSON: currentJSON,
		})
		if err != nil {
			logging.Warn("refresh read failed", "address", addr, "error", err)
			summary.Errored = append(summary.Errored, addr)
			emit(RefreshEvent{Address: addr, Status: RefreshError, Error: err})
			kept = append(kept, res)
			continue
		}

		if !resp.Exists {
			summary.Deleted = append(summary.Deleted, addr)
			emit(RefreshEvent{Address: addr, Status: RefreshDeleted})
			continue
		}

		status := RefreshOK
		if len(resp.NewStateJSON) > 0 {
			var newOutputs map[string]any
			if err := json.Unmarshal(resp.NewStateJSON, &newOutputs); err == nil {
				if fmt.Sprintf("%v", newOutputs) != fmt.Sprintf("%v", res.Outputs) {
					res.Outputs = newOutputs
					summary.Drifted = append(summary.Drifted, addr)
					status = RefreshDrifted
				}
			}
		}
		emit(RefreshEvent{Address: addr, Status: status})
		kept = append(kept, res)
	}
	state.Resources = kept

	if summary.Changed() {
		state.Serial++
	}
	return summary, nil
}
