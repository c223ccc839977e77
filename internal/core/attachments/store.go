package attachments

import (
	"errors"
	"sync"
)

// Store is the composer's registry of picked attachments, independent of upload state.
// It never touches the network or persistence.
type Store struct {
	index map[string]int
	items []*Item
	mu    sync.RWMutex
}

// NewStore creates an empty registry
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Register appends items. Items whose ID is already registered are ignored;
// invalid items are skipped and reported in the returned error.
func (s *Store) Register(items ...*Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, item := range items {
		if err := item.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, exists := s.index[item.ID]; exists {
			continue
		}
		s.index[item.ID] = len(s.items)
		s.items = append(s.items, item)
	}
	return errors.Join(errs...)
}

// Unregister removes the item with id; no-op if absent
func (s *Store) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[id]
	if !ok {
		return
	}
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	delete(s.index, id)
	for i := pos; i < len(s.items); i++ {
		s.index[s.items[i].ID] = i
	}
}

// Clear empties the registry
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	s.index = make(map[string]int)
}

// Get returns the registered item with id
func (s *Store) Get(id string) (*Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.items[pos], true
}

// Items returns the registered items in registration order
func (s *Store) Items() []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Item, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of registered items
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
