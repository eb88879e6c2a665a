package ir

// Change actions.
const (
	ActionCreate  = "CREATE"
	ActionUpdate  = "UPDATE"
	ActionReplace = "REPLACE"
	ActionDelete  = "DELETE"
	ActionNoOp    = "NOOP"
)

// Plan represents a calculated change-set.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"`
	Summary  *PlanSummary      `json:"summary"`
	Outputs  map[string]any    `json:"outputs,omitempty"`
}

type PlanMetadata struct {
	Timestamp  string `json:"timestamp"`
	ConfigHash string `json:"config_hash,omitempty"`
}

// ResourceChange is one change-set entry. A REPLACE entry stands for a
// destroy/create pair; CreateBeforeDestroy selects the pair order.
type ResourceChange struct {
	Address             string                   `json:"address"`
	Action              string                   `json:"action"`
	Desired             *Resource                `json:"resource,omitempty"`
	Prior               *Resource                `json:"prior,omitempty"`
	CreateBeforeDestroy bool                     `json:"create_before_destroy,omitempty"`
	Diff                map[string]*PropertyDiff `json:"diff,omitempty"`
}

type PropertyDiff struct {
	Before            any    `json:"before,omitempty"`
	After             any    `json:"after,omitempty"`
	ForcesReplacement bool   `json:"forces_replacement,omitempty"`
	Action            string `json:"action"` // "create", "update", "delete"
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}

// Empty reports whether the plan contains no changes.
func (p *Plan) Empty() bool {
	return len(p.Changes) == 0
}
