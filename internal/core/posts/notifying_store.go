package posts

import (
	"context"
	"log"
	"sync"
)

const defaultSubscriberBuffer = 64

// NotifyingStore wraps a Store, serialises its writes and publishes a Change
// for every committed write. Subscribers that fall behind miss changes rather
// than blocking writers.
type NotifyingStore struct {
	inner       Store
	postSubs    map[string]map[uint64]chan Change
	channelSubs map[string]map[uint64]chan Change
	writeMu     sync.Mutex
	subMu       sync.RWMutex
	nextID      uint64
	buffer      int
}

// NewNotifyingStore wraps inner. buffer is the per-subscriber channel capacity.
func NewNotifyingStore(inner Store, buffer int) *NotifyingStore {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &NotifyingStore{
		inner:       inner,
		postSubs:    make(map[string]map[uint64]chan Change),
		channelSubs: make(map[string]map[uint64]chan Change),
		buffer:      buffer,
	}
}

func (s *NotifyingStore) Save(ctx context.Context, post *Post) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.inner.Save(ctx, post); err != nil {
		return err
	}
	s.publish(Change{Kind: ChangeSaved, Post: post})
	return nil
}

func (s *NotifyingStore) Mutate(ctx context.Context, localID string, fn func(*Post) error) (*Post, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	updated, err := s.inner.Mutate(ctx, localID, fn)
	if err != nil {
		return nil, err
	}
	s.publish(Change{Kind: ChangeMutated, Post: updated})
	return updated, nil
}

func (s *NotifyingStore) Delete(ctx context.Context, localID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.inner.Get(ctx, localID)
	if err != nil {
		return err
	}
	if err := s.inner.Delete(ctx, localID); err != nil {
		return err
	}
	s.publish(Change{Kind: ChangeDeleted, Post: existing})
	return nil
}

func (s *NotifyingStore) Get(ctx context.Context, localID string) (*Post, error) {
	return s.inner.Get(ctx, localID)
}

func (s *NotifyingStore) Query(ctx context.Context, filter Filter) ([]*Post, error) {
	return s.inner.Query(ctx, filter)
}

// SubscribePost streams changes to a single post until ctx is done
func (s *NotifyingStore) SubscribePost(ctx context.Context, localID string) <-chan Change {
	return s.subscribe(ctx, s.postSubs, localID)
}

// SubscribeChannel streams changes to every post in a channel until ctx is done
func (s *NotifyingStore) SubscribeChannel(ctx context.Context, channelID string) <-chan Change {
	return s.subscribe(ctx, s.channelSubs, channelID)
}

func (s *NotifyingStore) subscribe(ctx context.Context, subs map[string]map[uint64]chan Change, key string) <-chan Change {
	ch := make(chan Change, s.buffer)

	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	if subs[key] == nil {
		subs[key] = make(map[uint64]chan Change)
	}
	subs[key][id] = ch
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(subs[key], id)
		if len(subs[key]) == 0 {
			delete(subs, key)
		}
		s.subMu.Unlock()
		close(ch)
	}()

	return ch
}

// publish must be called with writeMu held so subscribers see commit order
func (s *NotifyingStore) publish(change Change) {
	if change.Post == nil {
		return
	}

	s.subMu.RLock()
	defer s.subMu.RUnlock()

	s.deliver(s.postSubs[change.Post.LocalID], change)
	s.deliver(s.channelSubs[change.Post.ChannelID], change)
}

func (s *NotifyingStore) deliver(subs map[uint64]chan Change, change Change) {
	for id, ch := range subs {
		select {
		case ch <- Change{Kind: change.Kind, Post: change.Post.Clone()}:
		default:
			changeFeedDropsTotal.Inc()
			log.Printf("[CHANGE-FEED] subscriber %d is full, dropping %s for post %s", id, change.Kind, change.Post.LocalID)
		}
	}
}
