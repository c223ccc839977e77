package post

import (
	"net/http"
	"strconv"

	"Courier/internal/api/handlers"
	"Courier/internal/core/posts"
)

// QueryHandler serves read-only post endpoints
type QueryHandler struct {
	service posts.Service
}

// NewQueryHandler creates a handler for get, list and search
func NewQueryHandler(service posts.Service) *QueryHandler {
	return &QueryHandler{service: service}
}

// PostListOutput wraps post collections
type PostListOutput struct {
	Posts []*posts.Post `json:"posts"`
}

// HandleGet handles GET /xrpc/social.courier.channel.getPost?localId=
func (h *QueryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	localID := r.URL.Query().Get("localId")
	if localID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "localId is required")
		return
	}

	post, err := h.service.Get(r.Context(), localID)
	if err != nil {
		handleServiceError(w, err, posts.Channel{}, nil)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, post)
}

// HandleList handles GET /xrpc/social.courier.channel.listPosts?channel=&limit=
func (h *QueryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	channel := channelFromQuery(r)

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	list, err := h.service.List(r.Context(), channel.ID, limit)
	if err != nil {
		handleServiceError(w, err, channel, nil)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, PostListOutput{Posts: list})
}

// HandleSearch handles GET /xrpc/social.courier.channel.searchPosts?channel=&channelType=&q=
func (h *QueryHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	channel := channelFromQuery(r)

	results, err := h.service.Search(r.Context(), r.URL.Query().Get("q"), channel)
	if err != nil {
		handleServiceError(w, err, channel, nil)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, PostListOutput{Posts: results})
}

func channelFromQuery(r *http.Request) posts.Channel {
	q := r.URL.Query()
	return posts.Channel{
		ID:   q.Get("channel"),
		Type: posts.ChannelType(q.Get("channelType")),
	}
}
