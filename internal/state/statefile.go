package state

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/terrane-io/terrane/internal/ir"
)

// StateVersion is the current state file format version.
const StateVersion = 1

// DefaultStateFile is the local state file name.
const DefaultStateFile = "terrane.tfstate.json"

// NewState returns an empty state with a fresh lineage.
func NewState() *ir.State {
	return &ir.State{
		Version: StateVersion,
		Serial:  0,
		Lineage: uuid.NewString(),
	}
}

// SerializeState renders the state as indented JSON, encrypting it when an
// encryption key is configured in the environment.
func SerializeState(state *ir.State) ([]byte, error) {
	if state.Lineage == "" {
		state.Lineage = uuid.NewString()
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	return EncryptState(append(data, '\n'))
}

// ParseState parses serialized state content, transparently decrypting it.
func ParseState(content []byte) (*ir.State, error) {
	plain, err := DecryptState(content)
	if err != nil {
		return nil, err
	}
	var state ir.State
	if err := json.Unmarshal(plain, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if state.Version == 0 {
		state.Version = StateVersion
	}
	return &state, nil
}

func defaultLocalPath(workdir string) string {
	if workdir == "" {
		return DefaultStateFile
	}
	return workdir + "/" + DefaultStateFile
}
