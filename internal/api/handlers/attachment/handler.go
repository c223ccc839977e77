package attachment

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"Courier/internal/api/handlers"
	"Courier/internal/core/attachments"
	"Courier/internal/core/blobs"
	"Courier/internal/core/posts"
)

// maxFilesPerRequest bounds a single upload request
const maxFilesPerRequest = 10

// Handler serves the composer's attachment session endpoints
type Handler struct {
	sessions *attachments.Sessions
	hub      *progressHub
}

// NewHandler creates an attachment handler over sessions
func NewHandler(sessions *attachments.Sessions) *Handler {
	return &Handler{
		sessions: sessions,
		hub:      newProgressHub(0),
	}
}

// ItemView describes an attachment in the session
type ItemView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Uploaded bool   `json:"uploaded"`
}

// SessionView is the state of a channel's attachment session
type SessionView struct {
	Items []ItemView         `json:"items"`
	Files []posts.FileRecord `json:"files"`
}

// ItemResultView reports one finished upload
type ItemResultView struct {
	File   *posts.FileRecord `json:"file,omitempty"`
	ItemID string            `json:"itemId"`
	Error  string            `json:"error,omitempty"`
}

// UploadOutput is returned by uploadFiles
type UploadOutput struct {
	Items   []ItemView       `json:"items"`
	Results []ItemResultView `json:"results,omitempty"`
}

// ItemRefInput names an item within a channel's session
type ItemRefInput struct {
	Channel string `json:"channel"`
	ItemID  string `json:"itemId,omitempty"`
}

// HandleUpload handles POST /xrpc/social.courier.composer.uploadFiles?channel=[&wait=true]
// Body: multipart/form-data with one or more "file" parts.
// Uploads continue after the response; progress is streamed by subscribeUploads.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "channel is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFilesPerRequest*(blobs.MaxBlobSize+1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Invalid multipart body")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "at least one file is required")
		return
	}
	if len(headers) > maxFilesPerRequest {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest",
			fmt.Sprintf("at most %d files per request", maxFilesPerRequest))
		return
	}

	items := make([]*attachments.Item, 0, len(headers))
	for _, fh := range headers {
		item, err := readItem(fh)
		if err != nil {
			handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
			return
		}
		items = append(items, item)
	}

	coordinator := h.sessions.Get(channelID)
	// Uploads are cancelled through cancelUpload, not by the request ending
	batch := coordinator.Upload(context.WithoutCancel(r.Context()), items, channelID, h.hub.callbacksFor(channelID))

	output := UploadOutput{Items: make([]ItemView, 0, len(items))}
	for _, item := range items {
		output.Items = append(output.Items, ItemView{ID: item.ID, Name: item.Name, MimeType: item.MimeType, Size: item.Size()})
	}

	if r.URL.Query().Get("wait") != "true" {
		handlers.WriteJSON(w, http.StatusAccepted, output)
		return
	}

	if err := batch.Wait(r.Context()); err != nil {
		// Client went away; the batch keeps running
		return
	}
	for _, res := range batch.Results() {
		view := ItemResultView{ItemID: res.Item.ID, File: res.File}
		if res.Err != nil {
			view.Error = res.Err.Error()
		}
		output.Results = append(output.Results, view)
	}
	for i := range output.Items {
		output.Items[i].Uploaded = coordinator.Uploaded(output.Items[i].ID)
	}
	handlers.WriteJSON(w, http.StatusOK, output)
}

// HandleGetSession handles GET /xrpc/social.courier.composer.getSession?channel=
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "channel is required")
		return
	}

	view := SessionView{Items: []ItemView{}, Files: []posts.FileRecord{}}
	if c, ok := h.sessions.Lookup(channelID); ok {
		for _, item := range c.Active() {
			view.Items = append(view.Items, ItemView{
				ID:       item.ID,
				Name:     item.Name,
				MimeType: item.MimeType,
				Size:     item.Size(),
				Uploaded: c.Uploaded(item.ID),
			})
		}
		view.Files = append(view.Files, c.CompletedFiles()...)
	}
	handlers.WriteJSON(w, http.StatusOK, view)
}

// HandleCancel handles POST /xrpc/social.courier.composer.cancelUpload
// Body: { "channel": "...", "itemId": "..." }
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var input ItemRefInput
	if !handlers.DecodeJSON(w, r, 16*1024, &input) {
		return
	}
	if input.Channel == "" || input.ItemID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "channel and itemId are required")
		return
	}

	if c, ok := h.sessions.Lookup(input.Channel); ok {
		c.Cancel(input.ItemID)
	}
	handlers.WriteJSON(w, http.StatusOK, struct{}{})
}

// HandleReset handles POST /xrpc/social.courier.composer.resetSession
// Body: { "channel": "..." }
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var input ItemRefInput
	if !handlers.DecodeJSON(w, r, 16*1024, &input) {
		return
	}
	if input.Channel == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "channel is required")
		return
	}

	h.sessions.Drop(input.Channel)
	handlers.WriteJSON(w, http.StatusOK, struct{}{})
}

// HandleSubscribe handles GET /xrpc/social.courier.composer.subscribeUploads?channel= (WebSocket)
func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "channel is required")
		return
	}

	handlers.ServeStream(w, r, func(ctx context.Context) <-chan UploadEvent {
		return h.hub.subscribe(ctx, channelID)
	})
}

func readItem(fh *multipart.FileHeader) (*attachments.Item, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	defer func() {
		_ = f.Close()
	}()

	// One byte past the limit is enough for validation to reject oversized files
	data, err := io.ReadAll(io.LimitReader(f, blobs.MaxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return attachments.NewItem(fh.Filename, fh.Header.Get("Content-Type"), data), nil
}
