package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trendtrader/pkg/models"
)

// EngineState is the durable snapshot the scheduler writes after every
// state transition. Together with the exchange's live orders and balances
// it is enough to rebuild the engine after a restart.
type EngineState struct {
	Positions []*models.Position   `json:"positions"`
	Cooldowns map[string]time.Time `json:"cooldowns"`
	Paused    bool                 `json:"paused"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// LoadState reads the engine state file. A missing file yields an empty
// state, not an error.
func LoadState(filePath string) (*EngineState, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &EngineState{Cooldowns: map[string]time.Time{}}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var state EngineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if state.Cooldowns == nil {
		state.Cooldowns = map[string]time.Time{}
	}
	return &state, nil
}

// SaveState writes the snapshot atomically: a rename of a fully-written
// temp file, so a crash mid-write never leaves a truncated state behind.
func SaveState(filePath string, state *EngineState) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}
