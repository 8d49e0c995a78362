package store

import (
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/lyzr/ragflow/common/workflow"
)

// DefinitionStore holds workflow definitions in memory. Updates are
// RFC 7386 merge patches applied to the stored JSON, bumping the version.
type DefinitionStore struct {
	mu   sync.RWMutex
	defs map[string][]byte
}

// NewDefinitionStore creates an empty definition store
func NewDefinitionStore() *DefinitionStore {
	return &DefinitionStore{
		defs: make(map[string][]byte),
	}
}

// Put stores (or replaces) a definition
func (s *DefinitionStore) Put(def *workflow.Definition) error {
	if def.ID == "" {
		return fmt.Errorf("definition id is required")
	}

	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.ID] = raw
	return nil
}

// Get loads a definition by id; nil when absent
func (s *DefinitionStore) Get(id string) (*workflow.Definition, error) {
	s.mu.RLock()
	raw, ok := s.defs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	var def workflow.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return &def, nil
}

// ApplyPatch merge-patches a stored definition and bumps its version.
// The patched definition must still pass schema validation.
func (s *DefinitionStore) ApplyPatch(id string, patch []byte) (*workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.defs[id]
	if !ok {
		return nil, fmt.Errorf("definition not found: %s", id)
	}

	merged, err := jsonpatch.MergePatch(raw, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply merge patch: %w", err)
	}

	def, err := workflow.ParseDefinition(merged)
	if err != nil {
		return nil, fmt.Errorf("patched definition is invalid: %w", err)
	}

	def.Version++
	updated, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patched definition: %w", err)
	}

	s.defs[id] = updated
	return def, nil
}

// List returns all stored definition ids
func (s *DefinitionStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.defs))
	for id := range s.defs {
		ids = append(ids, id)
	}
	return ids
}
