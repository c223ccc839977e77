package post

import (
	"errors"
	"log"
	"net/http"

	"Courier/internal/api/handlers"
	"Courier/internal/core/posts"
)

// DeliveryErrorResponse carries the record that failed so the composer can show it
type DeliveryErrorResponse struct {
	Post    *posts.Post `json:"post,omitempty"`
	Error   string      `json:"error"`
	Message string      `json:"message"`
}

// handleServiceError maps service errors to HTTP responses.
// post is the record left behind by a failed delivery, if any.
func handleServiceError(w http.ResponseWriter, err error, channel posts.Channel, post *posts.Post) {
	message := posts.UserMessage(err, channel)

	switch {
	case posts.IsValidationError(err):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", message)

	case errors.Is(err, posts.ErrInvalidParentState):
		handlers.WriteError(w, http.StatusUnprocessableEntity, "ParentNotDelivered", message)

	case errors.Is(err, posts.ErrConflictingOperation):
		handlers.WriteError(w, http.StatusConflict, "PostBusy", message)

	case errors.Is(err, posts.ErrInvalidState):
		handlers.WriteError(w, http.StatusConflict, "InvalidState", err.Error())

	case posts.IsNotFound(err):
		handlers.WriteError(w, http.StatusNotFound, "NotFound", "Post not found")

	case posts.IsCancelled(err):
		// Superseded; the composer refreshes from the change feed
		handlers.WriteJSON(w, http.StatusAccepted, DeliveryErrorResponse{Post: post, Error: "Cancelled"})

	case posts.IsNotMember(err):
		handlers.WriteJSON(w, http.StatusForbidden, DeliveryErrorResponse{Post: post, Error: "NotMember", Message: message})

	case posts.IsNetworkUnreachable(err):
		handlers.WriteJSON(w, http.StatusServiceUnavailable, DeliveryErrorResponse{Post: post, Error: "NetworkUnreachable", Message: message})

	case posts.IsRemoteNotFound(err):
		handlers.WriteJSON(w, http.StatusGone, DeliveryErrorResponse{Post: post, Error: "RemoteNotFound", Message: message})

	case posts.IsTransportError(err):
		log.Printf("Delivery failed: %v", err)
		handlers.WriteJSON(w, http.StatusBadGateway, DeliveryErrorResponse{Post: post, Error: "DeliveryFailed", Message: message})

	default:
		// Don't leak internal error details to clients
		log.Printf("Unexpected error in post handler: %v", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError",
			"An internal error occurred")
	}
}
