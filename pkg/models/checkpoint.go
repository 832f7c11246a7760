package models

import (
	"encoding/json"
	"fmt"
)

// ToCheckpoint converts a JSON-serialisable value into a checkpoint payload.
func ToCheckpoint(value any) (Checkpoint, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	checkpoint := Checkpoint{}

	err = json.Unmarshal(data, &checkpoint)
	if err != nil {
		return nil, fmt.Errorf("checkpoint must be a JSON object: %w", err)
	}

	return checkpoint, nil
}

// Decode fills target from the checkpoint payload.
func (c Checkpoint) Decode(target any) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	return nil
}

// Skipped reports whether a best-effort stage committed this checkpoint after failing.
func (c Checkpoint) Skipped() bool {
	skipped, _ := c["skipped"].(bool)

	return skipped
}
