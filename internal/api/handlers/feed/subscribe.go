package feed

import (
	"context"
	"net/http"

	"Courier/internal/api/handlers"
	"Courier/internal/core/posts"
)

// ChangeSource publishes committed post store writes
type ChangeSource interface {
	SubscribePost(ctx context.Context, localID string) <-chan posts.Change
	SubscribeChannel(ctx context.Context, channelID string) <-chan posts.Change
}

// SubscribeHandler streams post changes to composers
type SubscribeHandler struct {
	source ChangeSource
}

// NewSubscribeHandler creates a change stream handler
func NewSubscribeHandler(source ChangeSource) *SubscribeHandler {
	return &SubscribeHandler{source: source}
}

// HandleSubscribe handles GET /xrpc/social.courier.channel.subscribeChanges (WebSocket)
// Exactly one of ?channel= or ?localId= selects what to watch.
func (h *SubscribeHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel")
	localID := r.URL.Query().Get("localId")
	if (channelID == "") == (localID == "") {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "exactly one of channel or localId is required")
		return
	}

	handlers.ServeStream(w, r, func(ctx context.Context) <-chan posts.Change {
		if localID != "" {
			return h.source.SubscribePost(ctx, localID)
		}
		return h.source.SubscribeChannel(ctx, channelID)
	})
}
