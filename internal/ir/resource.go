package ir

// Resource represents a single managed resource declaration.
type Resource struct {
	Type       string         `json:"type"` // e.g. "aws_autoscaling_group"
	Name       string         `json:"name"`
	Provider   string         `json:"provider"`
	Lifecycle  *Lifecycle     `json:"lifecycle,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Count      int            `json:"count,omitempty"`
	ForEach    map[string]any `json:"for_each,omitempty"`
	Timeout    string         `json:"timeout,omitempty"`
	Properties map[string]any `json:"properties"`
}

// Addr returns the resource address (type.name).
func (r *Resource) Addr() string {
	return r.Type + "." + r.Name
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `json:"create_before_destroy,omitempty"`
	PreventDestroy      bool     `json:"prevent_destroy,omitempty"`
	IgnoreChanges       []string `json:"ignore_changes,omitempty"`
}
