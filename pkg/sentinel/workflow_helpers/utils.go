package workflow_helpers

import (
	"encoding/json"
	"fmt"
)

// SaveStructToStateVars marshals data into a single state var. State vars are
// the only state that survives between state executions, so anything a later
// state needs must go through here or a plain string var.
func SaveStructToStateVars[T any](stateVars map[string]string, key string, data T) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal state var %s: %w", key, err)
	}
	stateVars[key] = string(raw)
	return nil
}

// LoadStructFromStateVars unmarshals the state var stored under key. A
// missing key is an error so callers can distinguish it from a zero value.
func LoadStructFromStateVars[T any](stateVars map[string]string, key string) (*T, error) {
	raw, ok := stateVars[key]
	if !ok {
		return nil, fmt.Errorf("state var %s not set", key)
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("unmarshal state var %s: %w", key, err)
	}
	return &out, nil
}
