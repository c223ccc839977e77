package routes

import (
	"github.com/go-chi/chi/v5"

	"Courier/internal/api/handlers/post"
	"Courier/internal/core/posts"
)

// RegisterPostRoutes registers channel post XRPC endpoints on the router
// Implements social.courier.channel.* endpoints
// sessions supplies the composer's finished attachments for sends and updates
func RegisterPostRoutes(r chi.Router, service posts.Service, sessions post.SessionLookup) {
	sendHandler := post.NewSendHandler(service, sessions)
	manageHandler := post.NewManageHandler(service, sessions)
	queryHandler := post.NewQueryHandler(service)

	// Procedure endpoints (POST)
	r.Post("/xrpc/social.courier.channel.sendPost", sendHandler.HandleSend)
	r.Post("/xrpc/social.courier.channel.resendPost", manageHandler.HandleResend)
	r.Post("/xrpc/social.courier.channel.updatePost", manageHandler.HandleUpdate)
	r.Post("/xrpc/social.courier.channel.deletePost", manageHandler.HandleDelete)

	// Query endpoints (GET)
	r.Get("/xrpc/social.courier.channel.getPost", queryHandler.HandleGet)
	r.Get("/xrpc/social.courier.channel.listPosts", queryHandler.HandleList)
	r.Get("/xrpc/social.courier.channel.searchPosts", queryHandler.HandleSearch)
}
