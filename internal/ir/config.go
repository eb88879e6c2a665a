package ir

// Config represents the top-level configuration after evaluation.
type Config struct {
	Backend   *BackendConfig `json:"backend,omitempty"`
	Resources []*Resource    `json:"resources"`
	Outputs   map[string]any `json:"outputs,omitempty"`
}

// BackendConfig selects and configures a state backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local", "s3"
	Config map[string]string `json:"config,omitempty"`
}
