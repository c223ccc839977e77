package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"Courier/internal/api/handlers/attachment"
	"Courier/internal/core/attachments"
)

// RegisterAttachmentRoutes registers composer attachment endpoints
// uploadLimit throttles uploadFiles per client; nil disables throttling
func RegisterAttachmentRoutes(r chi.Router, sessions *attachments.Sessions, uploadLimit func(http.Handler) http.Handler) {
	handler := attachment.NewHandler(sessions)

	upload := r
	if uploadLimit != nil {
		upload = r.With(uploadLimit)
	}
	upload.Post("/xrpc/social.courier.composer.uploadFiles", handler.HandleUpload)

	r.Post("/xrpc/social.courier.composer.cancelUpload", handler.HandleCancel)
	r.Post("/xrpc/social.courier.composer.resetSession", handler.HandleReset)
	r.Get("/xrpc/social.courier.composer.getSession", handler.HandleGetSession)
	r.Get("/xrpc/social.courier.composer.subscribeUploads", handler.HandleSubscribe)
}
