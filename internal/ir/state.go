package ir

// Resource status values recorded in state.
const (
	StatusOK      = ""
	StatusTainted = "tainted" // apply started but did not complete cleanly
)

// State is the persistent snapshot of everything the engine has applied.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage,omitempty"`
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

// ResourceState is the last-known record of one managed resource.
type ResourceState struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	Inputs       map[string]any `json:"inputs"` // as declared, references unresolved
	InputsHash   string         `json:"inputs_hash,omitempty"`
	Outputs      map[string]any `json:"outputs"` // provider assigned
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       string         `json:"status,omitempty"`
}

// Addr returns the resource address (type.name).
func (r *ResourceState) Addr() string {
	return r.Type + "." + r.Name
}

// Resource returns the state entry for addr, or nil.
func (s *State) Resource(addr string) *ResourceState {
	for _, res := range s.Resources {
		if res.Addr() == addr {
			return res
		}
	}
	return nil
}
