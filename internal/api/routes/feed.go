package routes

import (
	"github.com/go-chi/chi/v5"

	"Courier/internal/api/handlers/feed"
)

// RegisterFeedRoutes registers the post change stream
func RegisterFeedRoutes(r chi.Router, source feed.ChangeSource) {
	handler := feed.NewSubscribeHandler(source)
	r.Get("/xrpc/social.courier.channel.subscribeChanges", handler.HandleSubscribe)
}
