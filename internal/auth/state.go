package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the persisted token set. Tokens already validated survive a
// restart without a round-trip to the provider.
type State struct {
	Tokens  []string  `json:"tokens"`
	SavedAt time.Time `json:"saved_at"`
}

// DefaultStatePath returns the conventional token state location under the
// user's data directory.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(home, ".local", "share")
	}

	dir := filepath.Join(dataDir, "genfetch")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}

	return filepath.Join(dir, "tokens.json"), nil
}

func loadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt token state file %s: %w", path, err)
	}

	return &state, nil
}

func saveState(path string, tokens []string) error {
	state := State{Tokens: tokens, SavedAt: time.Now()}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
