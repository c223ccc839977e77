package attachments

import "sync"

// Sessions hands out one coordinator per channel so each composer keeps its own
// attachments between requests
type Sessions struct {
	uploader      Uploader
	coordinators  map[string]*Coordinator
	maxConcurrent int
	mu            sync.Mutex
}

// NewSessions creates an empty registry whose coordinators share uploader
func NewSessions(uploader Uploader, maxConcurrent int) *Sessions {
	return &Sessions{
		uploader:      uploader,
		coordinators:  make(map[string]*Coordinator),
		maxConcurrent: maxConcurrent,
	}
}

// Get returns the coordinator for channelID, creating it on first use
func (s *Sessions) Get(channelID string) *Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coordinators[channelID]
	if !ok {
		c = NewCoordinator(NewStore(), s.uploader, s.maxConcurrent)
		s.coordinators[channelID] = c
	}
	return c
}

// Lookup returns the coordinator for channelID without creating one
func (s *Sessions) Lookup(channelID string) (*Coordinator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coordinators[channelID]
	return c, ok
}

// Drop resets and forgets the coordinator for channelID
func (s *Sessions) Drop(channelID string) {
	s.mu.Lock()
	c, ok := s.coordinators[channelID]
	delete(s.coordinators, channelID)
	s.mu.Unlock()

	if ok {
		c.Reset()
	}
}
