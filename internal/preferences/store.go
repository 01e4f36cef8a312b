// Package preferences persists host preferences such as the active basemap.
package preferences

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrEmptyBasemapTag indicates an attempt to store a blank basemap tag.
var ErrEmptyBasemapTag = errors.New("preferences: basemap tag is required")

// Store reads and writes the active basemap tag.
type Store interface {
	ActiveBasemapTag(ctx context.Context) (string, bool, error)
	SetActiveBasemapTag(ctx context.Context, tag string) error
}

// MemoryStore keeps preferences in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	basemap string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// ActiveBasemapTag returns the stored tag; ok is false when none was set.
func (s *MemoryStore) ActiveBasemapTag(_ context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basemap, s.basemap != "", nil
}

// SetActiveBasemapTag records the active basemap tag.
func (s *MemoryStore) SetActiveBasemapTag(_ context.Context, tag string) error {
	trimmed := strings.TrimSpace(tag)
	if trimmed == "" {
		return ErrEmptyBasemapTag
	}
	s.mu.Lock()
	s.basemap = trimmed
	s.mu.Unlock()
	return nil
}
