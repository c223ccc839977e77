package post

import (
	"context"
	"net/http"

	"Courier/internal/api/handlers"
	"Courier/internal/core/posts"
)

// ManageHandler handles operations on posts that already exist locally
type ManageHandler struct {
	service  posts.Service
	sessions SessionLookup
}

// NewManageHandler creates a handler for resend, update and delete
func NewManageHandler(service posts.Service, sessions SessionLookup) *ManageHandler {
	return &ManageHandler{
		service:  service,
		sessions: sessions,
	}
}

// PostRefInput names a local post. Channel is only used to word failures.
type PostRefInput struct {
	Channel posts.Channel `json:"channel"`
	LocalID string        `json:"localId"`
}

// UpdatePostInput is the body of social.courier.channel.updatePost
type UpdatePostInput struct {
	PostRefInput
	Message string `json:"message"`
}

// HandleResend handles POST /xrpc/social.courier.channel.resendPost
func (h *ManageHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	var input PostRefInput
	if !handlers.DecodeJSON(w, r, maxBodyBytes, &input) {
		return
	}
	if input.LocalID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "localId is required")
		return
	}

	post, err := h.service.Resend(context.WithoutCancel(r.Context()), input.LocalID)
	if err != nil {
		handleServiceError(w, err, input.Channel, post)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, post)
}

// HandleUpdate handles POST /xrpc/social.courier.channel.updatePost
// Files finished in the channel's attachment session are added to the post.
func (h *ManageHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var input UpdatePostInput
	if !handlers.DecodeJSON(w, r, maxBodyBytes, &input) {
		return
	}
	if input.LocalID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "localId is required")
		return
	}

	session := sessionFor(h.sessions, input.Channel.ID)
	post, err := h.service.Update(context.WithoutCancel(r.Context()), input.LocalID, input.Message, session)
	if err != nil {
		handleServiceError(w, err, input.Channel, post)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, post)
}

// HandleDelete handles POST /xrpc/social.courier.channel.deletePost
// Response: {}
func (h *ManageHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var input PostRefInput
	if !handlers.DecodeJSON(w, r, maxBodyBytes, &input) {
		return
	}
	if input.LocalID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "localId is required")
		return
	}

	if err := h.service.Delete(context.WithoutCancel(r.Context()), input.LocalID); err != nil {
		handleServiceError(w, err, input.Channel, nil)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, struct{}{})
}
