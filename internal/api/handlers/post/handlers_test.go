package post

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Courier/internal/core/attachments"
	"Courier/internal/core/posts"
)

// mockPostService implements posts.Service for testing
type mockPostService struct {
	sendNewFunc   func(ctx context.Context, channel posts.Channel, message string, session posts.AttachmentSession) (*posts.Post, error)
	sendReplyFunc func(ctx context.Context, parent *posts.Post, channel posts.Channel, message string, session posts.AttachmentSession) (*posts.Post, error)
	resendFunc    func(ctx context.Context, localID string) (*posts.Post, error)
	updateFunc    func(ctx context.Context, localID, message string, session posts.AttachmentSession) (*posts.Post, error)
	deleteFunc    func(ctx context.Context, localID string) error
	searchFunc    func(ctx context.Context, terms string, channel posts.Channel) ([]*posts.Post, error)
	getFunc       func(ctx context.Context, localID string) (*posts.Post, error)
	listFunc      func(ctx context.Context, channelID string, limit int) ([]*posts.Post, error)
}

func (m *mockPostService) SendNew(ctx context.Context, channel posts.Channel, message string, session posts.AttachmentSession) (*posts.Post, error) {
	if m.sendNewFunc != nil {
		return m.sendNewFunc(ctx, channel, message, session)
	}
	return sentPost("local-1", channel.ID, message), nil
}

func (m *mockPostService) SendReply(ctx context.Context, parent *posts.Post, channel posts.Channel, message string, session posts.AttachmentSession) (*posts.Post, error) {
	if m.sendReplyFunc != nil {
		return m.sendReplyFunc(ctx, parent, channel, message, session)
	}
	p := sentPost("local-2", channel.ID, message)
	p.ParentID = parent.ServerID
	return p, nil
}

func (m *mockPostService) Resend(ctx context.Context, localID string) (*posts.Post, error) {
	if m.resendFunc != nil {
		return m.resendFunc(ctx, localID)
	}
	return sentPost(localID, "chan-1", "hello"), nil
}

func (m *mockPostService) Update(ctx context.Context, localID, message string, session posts.AttachmentSession) (*posts.Post, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, localID, message, session)
	}
	return sentPost(localID, "chan-1", message), nil
}

func (m *mockPostService) Delete(ctx context.Context, localID string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, localID)
	}
	return nil
}

func (m *mockPostService) ApplyRemoteDelete(ctx context.Context, serverID string) error {
	return nil
}

func (m *mockPostService) Search(ctx context.Context, terms string, channel posts.Channel) ([]*posts.Post, error) {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, terms, channel)
	}
	return []*posts.Post{}, nil
}

func (m *mockPostService) Get(ctx context.Context, localID string) (*posts.Post, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, localID)
	}
	return nil, posts.ErrNotFound
}

func (m *mockPostService) List(ctx context.Context, channelID string, limit int) ([]*posts.Post, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, channelID, limit)
	}
	return []*posts.Post{}, nil
}

// stubSessions implements SessionLookup over a fixed map
type stubSessions map[string]*attachments.Coordinator

func (s stubSessions) Lookup(channelID string) (*attachments.Coordinator, bool) {
	c, ok := s[channelID]
	return c, ok
}

func sentPost(localID, channelID, message string) *posts.Post {
	return &posts.Post{
		LocalID:   localID,
		ServerID:  "at://did:plc:author/social.courier.channel.post/" + localID,
		PendingID: "did:plc:author:1700000000000",
		ChannelID: channelID,
		AuthorID:  "did:plc:author",
		Message:   message,
		Status:    posts.StatusSent,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), "body: %s", w.Body.String())
}

func TestSendHandler_NewPost(t *testing.T) {
	var gotChannel posts.Channel
	var gotSession posts.AttachmentSession
	service := &mockPostService{
		sendNewFunc: func(ctx context.Context, channel posts.Channel, message string, session posts.AttachmentSession) (*posts.Post, error) {
			gotChannel = channel
			gotSession = session
			return sentPost("local-1", channel.ID, message), nil
		},
	}
	h := NewSendHandler(service, stubSessions{})

	w := postJSON(t, h.HandleSend, "/xrpc/social.courier.channel.sendPost", SendPostInput{
		Channel: posts.Channel{ID: "chan-1", Type: posts.ChannelOpen},
		Message: "hello",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var got posts.Post
	decodeBody(t, w, &got)
	assert.Equal(t, "local-1", got.LocalID)
	assert.Equal(t, posts.StatusSent, got.Status)
	assert.Equal(t, "chan-1", gotChannel.ID)
	assert.Nil(t, gotSession, "a channel without uploads must not pass a session")
}

func TestSendHandler_PassesAttachmentSession(t *testing.T) {
	coordinator := attachments.NewCoordinator(nil, nil, 1)
	var gotSession posts.AttachmentSession
	service := &mockPostService{
		sendNewFunc: func(ctx context.Context, channel posts.Channel, message string, session posts.AttachmentSession) (*posts.Post, error) {
			gotSession = session
			return sentPost("local-1", channel.ID, message), nil
		},
	}
	h := NewSendHandler(service, stubSessions{"chan-1": coordinator})

	w := postJSON(t, h.HandleSend, "/xrpc/social.courier.channel.sendPost", SendPostInput{
		Channel: posts.Channel{ID: "chan-1"},
		Message: "with files",
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Same(t, coordinator, gotSession)
}

func TestSendHandler_Reply(t *testing.T) {
	parent := sentPost("parent-1", "chan-1", "root")
	var gotParent *posts.Post
	service := &mockPostService{
		getFunc: func(ctx context.Context, localID string) (*posts.Post, error) {
			if localID == parent.LocalID {
				return parent, nil
			}
			return nil, posts.ErrNotFound
		},
		sendReplyFunc: func(ctx context.Context, p *posts.Post, channel posts.Channel, message string, session posts.AttachmentSession) (*posts.Post, error) {
			gotParent = p
			reply := sentPost("reply-1", channel.ID, message)
			reply.ParentID = p.ServerID
			reply.RootID = p.ServerID
			return reply, nil
		},
	}
	h := NewSendHandler(service, nil)

	w := postJSON(t, h.HandleSend, "/xrpc/social.courier.channel.sendPost", SendPostInput{
		Channel:       posts.Channel{ID: "chan-1"},
		Message:       "a reply",
		ParentLocalID: "parent-1",
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, gotParent)
	assert.Equal(t, "parent-1", gotParent.LocalID)

	var got posts.Post
	decodeBody(t, w, &got)
	assert.Equal(t, parent.ServerID, got.ParentID)
}

func TestSendHandler_ReplyToUnknownParent(t *testing.T) {
	h := NewSendHandler(&mockPostService{}, nil)

	w := postJSON(t, h.HandleSend, "/xrpc/social.courier.channel.sendPost", SendPostInput{
		Channel:       posts.Channel{ID: "chan-1"},
		Message:       "a reply",
		ParentLocalID: "missing",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendHandler_TransportFailureReturnsPost(t *testing.T) {
	service := &mockPostService{
		sendNewFunc: func(ctx context.Context, channel posts.Channel, message string, session posts.AttachmentSession) (*posts.Post, error) {
			failed := sentPost("local-1", channel.ID, message)
			failed.ServerID = ""
			failed.Status = posts.StatusError
			return failed, posts.NewTransportError(posts.TransportNotMember, "send", errors.New("forbidden"))
		},
	}
	h := NewSendHandler(service, nil)

	w := postJSON(t, h.HandleSend, "/xrpc/social.courier.channel.sendPost", SendPostInput{
		Channel: posts.Channel{ID: "chan-1", Type: posts.ChannelPrivate},
		Message: "hello",
	})

	require.Equal(t, http.StatusForbidden, w.Code)
	var got DeliveryErrorResponse
	decodeBody(t, w, &got)
	assert.Equal(t, "NotMember", got.Error)
	assert.Equal(t, "You left this group", got.Message)
	require.NotNil(t, got.Post)
	assert.Equal(t, posts.StatusError, got.Post.Status)
}

func TestSendHandler_DeliveryOutlivesRequest(t *testing.T) {
	service := &mockPostService{
		sendNewFunc: func(ctx context.Context, channel posts.Channel, message string, session posts.AttachmentSession) (*posts.Post, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return sentPost("local-1", channel.ID, message), nil
		},
	}
	h := NewSendHandler(service, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/xrpc/social.courier.channel.sendPost",
		bytes.NewBufferString(`{"channel":{"id":"chan-1"},"message":"hello"}`)).WithContext(ctx)
	w := httptest.NewRecorder()
	h.HandleSend(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSendHandler_MalformedBody(t *testing.T) {
	h := NewSendHandler(&mockPostService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/xrpc/social.courier.channel.sendPost", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.HandleSend(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManageHandler_Resend(t *testing.T) {
	var gotID string
	service := &mockPostService{
		resendFunc: func(ctx context.Context, localID string) (*posts.Post, error) {
			gotID = localID
			return sentPost(localID, "chan-1", "hello"), nil
		},
	}
	h := NewManageHandler(service, nil)

	w := postJSON(t, h.HandleResend, "/xrpc/social.courier.channel.resendPost", PostRefInput{LocalID: "local-9"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "local-9", gotID)
}

func TestManageHandler_ResendRejectsSentPost(t *testing.T) {
	service := &mockPostService{
		resendFunc: func(ctx context.Context, localID string) (*posts.Post, error) {
			return nil, posts.ErrInvalidState
		},
	}
	h := NewManageHandler(service, nil)

	w := postJSON(t, h.HandleResend, "/xrpc/social.courier.channel.resendPost", PostRefInput{LocalID: "local-1"})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestManageHandler_RequiresLocalID(t *testing.T) {
	h := NewManageHandler(&mockPostService{}, nil)

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "resend", handler: h.HandleResend},
		{name: "update", handler: h.HandleUpdate},
		{name: "delete", handler: h.HandleDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, tt.handler, "/", map[string]string{})
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestManageHandler_UpdateRevertedOnFailure(t *testing.T) {
	service := &mockPostService{
		updateFunc: func(ctx context.Context, localID, message string, session posts.AttachmentSession) (*posts.Post, error) {
			reverted := sentPost(localID, "chan-1", "original")
			return reverted, posts.NewTransportError(posts.TransportNetworkUnreachable, "update", errors.New("dial tcp"))
		},
	}
	h := NewManageHandler(service, nil)

	w := postJSON(t, h.HandleUpdate, "/xrpc/social.courier.channel.updatePost", UpdatePostInput{
		PostRefInput: PostRefInput{LocalID: "local-1"},
		Message:      "edited",
	})

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var got DeliveryErrorResponse
	decodeBody(t, w, &got)
	assert.Equal(t, "No Internet connectivity detected", got.Message)
	require.NotNil(t, got.Post)
	assert.Equal(t, "original", got.Post.Message)
}

func TestManageHandler_Delete(t *testing.T) {
	var gotID string
	service := &mockPostService{
		deleteFunc: func(ctx context.Context, localID string) error {
			gotID = localID
			return nil
		},
	}
	h := NewManageHandler(service, nil)

	w := postJSON(t, h.HandleDelete, "/xrpc/social.courier.channel.deletePost", PostRefInput{LocalID: "local-3"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())
	assert.Equal(t, "local-3", gotID)
}

func TestQueryHandler_Get(t *testing.T) {
	service := &mockPostService{
		getFunc: func(ctx context.Context, localID string) (*posts.Post, error) {
			return sentPost(localID, "chan-1", "hello"), nil
		},
	}
	h := NewQueryHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/xrpc/social.courier.channel.getPost?localId=local-1", nil)
	w := httptest.NewRecorder()
	h.HandleGet(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got posts.Post
	decodeBody(t, w, &got)
	assert.Equal(t, "local-1", got.LocalID)

	req = httptest.NewRequest(http.MethodGet, "/xrpc/social.courier.channel.getPost", nil)
	w = httptest.NewRecorder()
	h.HandleGet(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryHandler_List(t *testing.T) {
	var gotLimit int
	service := &mockPostService{
		listFunc: func(ctx context.Context, channelID string, limit int) ([]*posts.Post, error) {
			if channelID == "" {
				return nil, posts.NewValidationError("channel", "channel is required")
			}
			gotLimit = limit
			return []*posts.Post{sentPost("a", channelID, "one"), sentPost("b", channelID, "two")}, nil
		},
	}
	h := NewQueryHandler(service)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
		wantPosts  int
	}{
		{name: "default limit", query: "?channel=chan-1", wantStatus: http.StatusOK, wantPosts: 2},
		{name: "explicit limit", query: "?channel=chan-1&limit=20", wantStatus: http.StatusOK, wantLimit: 20, wantPosts: 2},
		{name: "limit too large", query: "?channel=chan-1&limit=5000", wantStatus: http.StatusBadRequest},
		{name: "limit not a number", query: "?channel=chan-1&limit=ten", wantStatus: http.StatusBadRequest},
		{name: "missing channel", query: "", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLimit = -1
			req := httptest.NewRequest(http.MethodGet, "/xrpc/social.courier.channel.listPosts"+tt.query, nil)
			w := httptest.NewRecorder()
			h.HandleList(w, req)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantLimit, gotLimit)
			var out PostListOutput
			decodeBody(t, w, &out)
			assert.Len(t, out.Posts, tt.wantPosts)
		})
	}
}

func TestQueryHandler_Search(t *testing.T) {
	var gotTerms string
	var gotChannel posts.Channel
	service := &mockPostService{
		searchFunc: func(ctx context.Context, terms string, channel posts.Channel) ([]*posts.Post, error) {
			gotTerms = terms
			gotChannel = channel
			return []*posts.Post{sentPost("hit", channel.ID, "matching text")}, nil
		},
	}
	h := NewQueryHandler(service)

	req := httptest.NewRequest(http.MethodGet,
		"/xrpc/social.courier.channel.searchPosts?channel=chan-1&channelType=private&q=matching", nil)
	w := httptest.NewRecorder()
	h.HandleSearch(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "matching", gotTerms)
	assert.Equal(t, posts.Channel{ID: "chan-1", Type: posts.ChannelPrivate}, gotChannel)

	var out PostListOutput
	decodeBody(t, w, &out)
	require.Len(t, out.Posts, 1)
	assert.Equal(t, "hit", out.Posts[0].LocalID)
}
