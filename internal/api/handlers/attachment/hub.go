package attachment

import (
	"context"
	"log"
	"sync"

	"Courier/internal/core/attachments"
	"Courier/internal/core/posts"
)

// Upload event types
const (
	EventProgress = "progress"
	EventItem     = "item"
	EventFinished = "finished"
)

// UploadEvent is streamed to composers watching a channel's uploads
type UploadEvent struct {
	File   *posts.FileRecord `json:"file,omitempty"`
	Type   string            `json:"type"`
	ItemID string            `json:"itemId,omitempty"`
	Error  string            `json:"error,omitempty"`
	Value  float64           `json:"value,omitempty"`
	Index  int               `json:"index"`
}

// progressHub fans upload events out to per-channel subscribers.
// Slow subscribers miss events rather than stall uploads.
type progressHub struct {
	subs   map[string]map[uint64]chan UploadEvent
	buffer int
	nextID uint64
	mu     sync.Mutex
}

func newProgressHub(buffer int) *progressHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &progressHub{
		subs:   make(map[string]map[uint64]chan UploadEvent),
		buffer: buffer,
	}
}

// subscribe returns a channel of events for channelID, closed when ctx is done
func (h *progressHub) subscribe(ctx context.Context, channelID string) <-chan UploadEvent {
	ch := make(chan UploadEvent, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[channelID] == nil {
		h.subs[channelID] = make(map[uint64]chan UploadEvent)
	}
	h.subs[channelID][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[channelID], id)
		if len(h.subs[channelID]) == 0 {
			delete(h.subs, channelID)
		}
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

func (h *progressHub) publish(channelID string, event UploadEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[channelID] {
		select {
		case ch <- event:
		default:
			log.Printf("[UPLOAD] Dropping %s event for slow subscriber on %s", event.Type, channelID)
		}
	}
}

// callbacksFor wires a batch on channelID to the hub
func (h *progressHub) callbacksFor(channelID string) attachments.Callbacks {
	return attachments.Callbacks{
		OnItem: func(res attachments.ItemResult) {
			event := UploadEvent{Type: EventItem, ItemID: res.Item.ID, File: res.File}
			if res.Err != nil {
				event.Error = res.Err.Error()
			}
			h.publish(channelID, event)
		},
		OnProgress: func(value float64, index int) {
			h.publish(channelID, UploadEvent{Type: EventProgress, Value: value, Index: index})
		},
		OnFinished: func() {
			h.publish(channelID, UploadEvent{Type: EventFinished})
		},
	}
}
