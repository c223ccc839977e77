// Package memory holds in-process implementations of the core storage contracts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"Courier/internal/core/posts"
)

// PostStore keeps post records in a map.
// Records are copied on the way in and out so callers never share memory with the store.
type PostStore struct {
	posts map[string]*posts.Post
	mu    sync.RWMutex
}

// NewPostStore creates an empty store
func NewPostStore() *PostStore {
	return &PostStore{
		posts: make(map[string]*posts.Post),
	}
}

func (s *PostStore) Save(ctx context.Context, post *posts.Post) error {
	if post == nil || post.LocalID == "" {
		return fmt.Errorf("post must have a local ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.posts[post.LocalID] = post.Clone()
	return nil
}

func (s *PostStore) Mutate(ctx context.Context, localID string, fn func(*posts.Post) error) (*posts.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.posts[localID]
	if !ok {
		return nil, posts.ErrNotFound
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	// The identity of a record never changes
	working.LocalID = localID

	s.posts[localID] = working
	return working.Clone(), nil
}

func (s *PostStore) Delete(ctx context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[localID]; !ok {
		return posts.ErrNotFound
	}
	delete(s.posts, localID)
	return nil
}

func (s *PostStore) Get(ctx context.Context, localID string) (*posts.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, ok := s.posts[localID]
	if !ok {
		return nil, posts.ErrNotFound
	}
	return post.Clone(), nil
}

func (s *PostStore) Query(ctx context.Context, filter posts.Filter) ([]*posts.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*posts.Post, 0)
	for _, p := range s.posts {
		if filter.Matches(p) {
			matches = append(matches, p.Clone())
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].LocalID < matches[j].LocalID
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

// Len returns the number of stored records
func (s *PostStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}
