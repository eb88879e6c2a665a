package provider

import "context"

// Action is the change a provider proposes for a single resource.
type Action int

const (
	ActionNoOp Action = iota
	ActionCreate
	ActionUpdate
	ActionReplace
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "CREATE"
	case ActionUpdate:
		return "UPDATE"
	case ActionReplace:
		return "REPLACE"
	case ActionDelete:
		return "DELETE"
	default:
		return "NOOP"
	}
}

// PlanRequest asks a provider to diff desired config against prior state.
type PlanRequest struct {
	Type        string
	Name        string
	DesiredJSON []byte
	PriorJSON   []byte
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
	RequiresReplace   []string
}

// ApplyRequest asks a provider to create or update a resource.
type ApplyRequest struct {
	Type        string
	Name        string
	DesiredJSON []byte
	PriorJSON   []byte
}

type ApplyResponse struct {
	NewStateJSON []byte
}

// ReadRequest refreshes a resource from the platform.
type ReadRequest struct {
	Type             string
	ID               string
	CurrentStateJSON []byte
}

type ReadResponse struct {
	Exists       bool
	NewStateJSON []byte
}

// DeleteRequest destroys a resource by its provider-assigned identity.
type DeleteRequest struct {
	Type             string
	ID               string
	CurrentStateJSON []byte
}

// Interface is the in-process boundary between the engine and a platform.
// Payloads are JSON so providers stay decoupled from the engine's IR.
type Interface interface {
	Configure(ctx context.Context, settings map[string]string) error
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) error
}
