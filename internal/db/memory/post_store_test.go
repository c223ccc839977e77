package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Courier/internal/core/posts"
)

func newPost(localID, channelID string, createdAt time.Time) *posts.Post {
	return &posts.Post{
		LocalID:   localID,
		PendingID: posts.PendingIDFor("did:plc:author", createdAt),
		ChannelID: channelID,
		AuthorID:  "did:plc:author",
		Message:   "hello " + localID,
		CreatedAt: createdAt,
		Status:    posts.StatusSending,
	}
}

func TestPostStore_SaveAndGet(t *testing.T) {
	store := NewPostStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := newPost("local-1", "chan-1", now)
	p.Files = []posts.FileRecord{{ID: "bafy1", Name: "a.png", MimeType: "image/png", Size: 10}}
	require.NoError(t, store.Save(ctx, p))

	got, err := store.Get(ctx, "local-1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	// Mutating the returned copy does not leak into the store
	got.Files[0].Name = "changed.png"
	got.Message = "changed"
	again, err := store.Get(ctx, "local-1")
	require.NoError(t, err)
	assert.Equal(t, "a.png", again.Files[0].Name)
	assert.Equal(t, "hello local-1", again.Message)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, posts.ErrNotFound)
}

func TestPostStore_SaveRequiresLocalID(t *testing.T) {
	store := NewPostStore()
	err := store.Save(context.Background(), &posts.Post{Message: "x"})
	assert.Error(t, err)
}

func TestPostStore_Mutate(t *testing.T) {
	store := NewPostStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, newPost("local-1", "chan-1", time.Now())))

	updated, err := store.Mutate(ctx, "local-1", func(p *posts.Post) error {
		p.Status = posts.StatusSent
		p.ServerID = "at://did:plc:author/social.courier.channel.post/abc"
		p.LocalID = "attempted-rename"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "local-1", updated.LocalID)
	assert.Equal(t, posts.StatusSent, updated.Status)

	got, err := store.Get(ctx, "local-1")
	require.NoError(t, err)
	assert.Equal(t, posts.StatusSent, got.Status)
	assert.Equal(t, 1, store.Len())

	t.Run("fn error leaves record untouched", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := store.Mutate(ctx, "local-1", func(p *posts.Post) error {
			p.Message = "half written"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.Get(ctx, "local-1")
		require.NoError(t, err)
		assert.Equal(t, "hello local-1", got.Message)
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := store.Mutate(ctx, "missing", func(p *posts.Post) error { return nil })
		assert.ErrorIs(t, err, posts.ErrNotFound)
	})
}

func TestPostStore_Delete(t *testing.T) {
	store := NewPostStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, newPost("local-1", "chan-1", time.Now())))

	require.NoError(t, store.Delete(ctx, "local-1"))
	assert.ErrorIs(t, store.Delete(ctx, "local-1"), posts.ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestPostStore_Query(t *testing.T) {
	store := NewPostStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	root := newPost("root", "chan-1", base)
	root.Status = posts.StatusSent
	root.ServerID = "at://root"

	replyByServer := newPost("reply-1", "chan-1", base.Add(2*time.Second))
	replyByServer.ParentID = "at://root"

	replyByLocal := newPost("reply-2", "chan-1", base.Add(time.Second))
	replyByLocal.ParentID = "root"
	replyByLocal.Status = posts.StatusError

	other := newPost("other", "chan-2", base.Add(3*time.Second))

	for _, p := range []*posts.Post{replyByServer, other, root, replyByLocal} {
		require.NoError(t, store.Save(ctx, p))
	}

	tests := []struct {
		name   string
		filter posts.Filter
		want   []string
	}{
		{name: "channel ordered by createdAt", filter: posts.Filter{ChannelID: "chan-1"}, want: []string{"root", "reply-2", "reply-1"}},
		{name: "replies by any parent key", filter: posts.Filter{ParentIDs: root.ThreadKeys()}, want: []string{"reply-2", "reply-1"}},
		{name: "server id", filter: posts.Filter{ServerID: "at://root"}, want: []string{"root"}},
		{name: "pending id", filter: posts.Filter{PendingID: other.PendingID}, want: []string{"other"}},
		{name: "status", filter: posts.Filter{Status: posts.StatusError}, want: []string{"reply-2"}},
		{name: "limit", filter: posts.Filter{ChannelID: "chan-1", Limit: 1}, want: []string{"root"}},
		{name: "no match", filter: posts.Filter{ChannelID: "chan-9"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Query(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, p := range got {
				ids = append(ids, p.LocalID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
