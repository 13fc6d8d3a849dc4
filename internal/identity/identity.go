// Package identity manages the worker's stable identity: a paired
// account-derived id when available, otherwise a short unique id generated
// once and cached to disk so it survives restarts.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Identity is the worker's stable id, read-only after construction.
type Identity struct {
	ID     string `json:"id"`
	Paired bool   `json:"paired"`
}

// Load returns the cached identity at dataDir/identity.json, or — if absent,
// or if accountID is supplied — derives one and persists it.
func Load(dataDir, accountID string) (*Identity, error) {
	path := filepath.Join(dataDir, "identity.json")

	if accountID != "" {
		id := &Identity{ID: accountID, Paired: true}
		return id, persist(path, id)
	}

	if data, err := os.ReadFile(path); err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err == nil && id.ID != "" {
			return &id, nil
		}
	}

	id := &Identity{ID: shortID(), Paired: false}
	if err := persist(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

func shortID() string {
	return "wk-" + uuid.NewString()[:8]
}

func persist(path string, id *Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}
