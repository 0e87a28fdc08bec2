// Package state persists which source-file content hash each test file last
// fully passed with, enabling change-aware test skipping.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/marcohefti/blackbox-lab/internal/store"
)

const Version = 1

// PassState maps test-definition files to the content hash they last passed
// with. Mutated only by the runner.
type PassState struct {
	Version          int               `json:"version"`
	LastPassedHashes map[string]string `json:"lastPassedHashes"`
}

func fresh() *PassState {
	return &PassState{
		Version:          Version,
		LastPassedHashes: map[string]string{},
	}
}

// DefaultPath is the fixed per-user location of the pass-state file.
func DefaultPath() (string, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cache, "bbx", "passstate.json"), nil
}

// Load reads the pass-state permissively: a missing, unreadable, or
// version-mismatched file reinitializes.
func Load(path string) *PassState {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fresh()
	}
	var ps PassState
	if err := json.Unmarshal(raw, &ps); err != nil {
		return fresh()
	}
	if ps.Version != Version {
		return fresh()
	}
	if ps.LastPassedHashes == nil {
		ps.LastPassedHashes = map[string]string{}
	}
	return &ps
}

// Save writes the pass-state atomically as a full replace, serialized against
// concurrent harness runs with a dir lock.
func (ps *PassState) Save(path string) error {
	// The lock dir lives next to the state file; its parent must exist first.
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return store.WithDirLock(path+".lock", 2*time.Second, func() error {
		return store.WriteJSONAtomic(path, ps)
	})
}
