package post

import (
	"context"
	"net/http"

	"Courier/internal/api/handlers"
	"Courier/internal/core/attachments"
	"Courier/internal/core/posts"
)

// maxBodyBytes caps JSON request bodies; attachments travel through the upload endpoint
const maxBodyBytes = 256 * 1024

// SessionLookup finds the composer's attachment session for a channel
type SessionLookup interface {
	Lookup(channelID string) (*attachments.Coordinator, bool)
}

// sessionFor returns the channel's attachment session, or a nil interface when there is none
func sessionFor(sessions SessionLookup, channelID string) posts.AttachmentSession {
	if sessions == nil {
		return nil
	}
	if c, ok := sessions.Lookup(channelID); ok && c != nil {
		return c
	}
	return nil
}

// SendHandler handles new posts and replies
type SendHandler struct {
	service  posts.Service
	sessions SessionLookup
}

// NewSendHandler creates a new send handler
func NewSendHandler(service posts.Service, sessions SessionLookup) *SendHandler {
	return &SendHandler{
		service:  service,
		sessions: sessions,
	}
}

// SendPostInput is the body of social.courier.channel.sendPost
type SendPostInput struct {
	Channel       posts.Channel `json:"channel"`
	Message       string        `json:"message"`
	ParentLocalID string        `json:"parentLocalId,omitempty"`
}

// HandleSend handles POST /xrpc/social.courier.channel.sendPost
// Files finished in the channel's attachment session are attached and the session is reset.
func (h *SendHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var input SendPostInput
	if !handlers.DecodeJSON(w, r, maxBodyBytes, &input) {
		return
	}

	// Delivery outlives the request so a dropped connection does not fail the post
	ctx := context.WithoutCancel(r.Context())
	session := sessionFor(h.sessions, input.Channel.ID)

	var (
		post *posts.Post
		err  error
	)
	if input.ParentLocalID != "" {
		parent, getErr := h.service.Get(ctx, input.ParentLocalID)
		if getErr != nil {
			handleServiceError(w, getErr, input.Channel, nil)
			return
		}
		post, err = h.service.SendReply(ctx, parent, input.Channel, input.Message, session)
	} else {
		post, err = h.service.SendNew(ctx, input.Channel, input.Message, session)
	}
	if err != nil {
		handleServiceError(w, err, input.Channel, post)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, post)
}
