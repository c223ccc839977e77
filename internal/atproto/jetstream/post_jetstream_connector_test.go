package jetstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	events chan *JetstreamEvent
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, event *JetstreamEvent) error {
	h.events <- event
	return h.err
}

func TestSubscribeURL(t *testing.T) {
	got, err := SubscribeURL("wss://jetstream.example.com/subscribe", "social.courier.channel.post")
	require.NoError(t, err)
	assert.Equal(t, "wss://jetstream.example.com/subscribe?wantedCollections=social.courier.channel.post", got)

	_, err = SubscribeURL("https://jetstream.example.com/subscribe")
	assert.Error(t, err)
}

func TestPostJetstreamConnector_DeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var served sync.WaitGroup
	served.Add(1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		defer served.Done()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"did":"did:plc:a","kind":"commit","time_us":1,"commit":{"operation":"create","collection":"social.courier.channel.post","rkey":"3k1"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"did":"did:plc:b","kind":"identity","identity":{"did":"did:plc:b","handle":"b.test"}}`))

		// Hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	handler := &recordingHandler{events: make(chan *JetstreamEvent, 4), err: errors.New("handler failures are logged")}
	connector := NewPostJetstreamConnector(handler, "ws"+strings.TrimPrefix(server.URL, "http"))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- connector.Start(ctx) }()

	var got []*JetstreamEvent
	for len(got) < 2 {
		select {
		case event := <-handler.events:
			got = append(got, event)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	require.NotNil(t, got[0].Commit)
	assert.Equal(t, "3k1", got[0].Commit.RKey)
	assert.Equal(t, "identity", got[1].Kind)

	cancel()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("connector did not stop after cancel")
	}
	served.Wait()
}

func TestPostJetstreamConnector_StopsWhileReconnecting(t *testing.T) {
	// Nothing listens on this address, so every dial fails
	connector := NewPostJetstreamConnector(&recordingHandler{events: make(chan *JetstreamEvent, 1)}, "ws://127.0.0.1:1/subscribe")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := connector.Start(ctx)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
}
