package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Courier/internal/core/posts"
)

// openTestDB connects to TEST_DATABASE_URL and runs migrations.
// The tests are skipped when no database is configured.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "../migrations"), "Failed to run migrations")

	_, err = db.Exec("DELETE FROM posts WHERE channel_id LIKE 'test-%'")
	require.NoError(t, err, "Failed to cleanup posts")

	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM posts WHERE channel_id LIKE 'test-%'")
		_ = db.Close()
	})
	return db
}

func testPost(localID string, createdAt time.Time) *posts.Post {
	return &posts.Post{
		LocalID:   localID,
		PendingID: "did:plc:tester:" + localID,
		ChannelID: "test-channel",
		AuthorID:  "did:plc:tester",
		Message:   "hello " + localID,
		Status:    posts.StatusSending,
		CreatedAt: createdAt,
	}
}

func TestPostgresPostStore_SaveGetRoundTrip(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()
	created := time.Date(2026, 5, 4, 10, 30, 0, 123000000, time.UTC)

	post := testPost("pg-local-1", created)
	post.Files = []posts.FileRecord{{ID: "bafkreifile", SourceItemID: "item-1", Name: "cat.png", MimeType: "image/png", Size: 4}}
	require.NoError(t, store.Save(ctx, post))

	got, err := store.Get(ctx, "pg-local-1")
	require.NoError(t, err)
	assert.Equal(t, post.Message, got.Message)
	assert.Equal(t, post.PendingID, got.PendingID)
	assert.Empty(t, got.ServerID)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Nil(t, got.UpdatedAt)
	assert.Equal(t, post.Files, got.Files)

	// Saving again replaces the record
	post.Message = "replaced"
	require.NoError(t, store.Save(ctx, post))
	got, err = store.Get(ctx, "pg-local-1")
	require.NoError(t, err)
	assert.Equal(t, "replaced", got.Message)
}

func TestPostgresPostStore_DeletedRemotelyPersists(t *testing.T) {
	db := openTestDB(t)
	store := NewPostStore(db)
	ctx := context.Background()

	post := testPost("pg-local-flag", time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC))
	post.ServerID = "at://did:plc:tester/social.courier.channel.post/3kflag"
	post.Status = posts.StatusSent
	require.NoError(t, store.Save(ctx, post))

	got, err := store.Get(ctx, "pg-local-flag")
	require.NoError(t, err)
	assert.False(t, got.DeletedRemotely)

	_, err = store.Mutate(ctx, "pg-local-flag", func(p *posts.Post) error {
		p.DeletedRemotely = true
		return nil
	})
	require.NoError(t, err)

	// A fresh store over the same database sees the flag
	got, err = NewPostStore(db).Get(ctx, "pg-local-flag")
	require.NoError(t, err)
	assert.True(t, got.DeletedRemotely)
}

func TestPostgresPostStore_GetMissing(t *testing.T) {
	store := NewPostStore(openTestDB(t))

	_, err := store.Get(context.Background(), "pg-missing")
	assert.ErrorIs(t, err, posts.ErrNotFound)
	assert.ErrorIs(t, store.Delete(context.Background(), "pg-missing"), posts.ErrNotFound)
}

func TestPostgresPostStore_Mutate(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, testPost("pg-local-2", time.Now().UTC())))

	edited := time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)
	updated, err := store.Mutate(ctx, "pg-local-2", func(p *posts.Post) error {
		p.LocalID = "ignored"
		p.ServerID = "at://did:plc:tester/social.courier.channel.post/3k"
		p.Status = posts.StatusSent
		p.UpdatedAt = &edited
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "pg-local-2", updated.LocalID)

	got, err := store.Get(ctx, "pg-local-2")
	require.NoError(t, err)
	assert.Equal(t, posts.StatusSent, got.Status)
	assert.Equal(t, "at://did:plc:tester/social.courier.channel.post/3k", got.ServerID)
	require.NotNil(t, got.UpdatedAt)
	assert.True(t, edited.Equal(*got.UpdatedAt))

	// A failing mutation leaves the row untouched
	_, err = store.Mutate(ctx, "pg-local-2", func(p *posts.Post) error {
		p.Message = "lost"
		return posts.ErrInvalidState
	})
	assert.ErrorIs(t, err, posts.ErrInvalidState)
	got, err = store.Get(ctx, "pg-local-2")
	require.NoError(t, err)
	assert.NotEqual(t, "lost", got.Message)

	_, err = store.Mutate(ctx, "pg-missing", func(*posts.Post) error { return nil })
	assert.ErrorIs(t, err, posts.ErrNotFound)
}

func TestPostgresPostStore_Query(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	root := testPost("pg-q-root", base)
	root.ServerID = "at://did:plc:tester/social.courier.channel.post/root"
	root.Status = posts.StatusSent
	reply := testPost("pg-q-reply", base.Add(time.Minute))
	reply.ParentID = root.ServerID
	failed := testPost("pg-q-failed", base.Add(2*time.Minute))
	failed.Status = posts.StatusError
	elsewhere := testPost("pg-q-other", base)
	elsewhere.ChannelID = "test-elsewhere"

	for _, p := range []*posts.Post{failed, reply, root, elsewhere} {
		require.NoError(t, store.Save(ctx, p))
	}

	list, err := store.Query(ctx, posts.Filter{ChannelID: "test-channel"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"pg-q-root", "pg-q-reply", "pg-q-failed"}, []string{list[0].LocalID, list[1].LocalID, list[2].LocalID})

	list, err = store.Query(ctx, posts.Filter{ParentIDs: []string{root.LocalID, root.ServerID}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "pg-q-reply", list[0].LocalID)

	list, err = store.Query(ctx, posts.Filter{Status: posts.StatusError, ChannelID: "test-channel"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "pg-q-failed", list[0].LocalID)

	list, err = store.Query(ctx, posts.Filter{ServerID: root.ServerID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = store.Query(ctx, posts.Filter{PendingID: reply.PendingID, ChannelID: "test-channel"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = store.Query(ctx, posts.Filter{ChannelID: "test-channel", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPostgresPostStore_Delete(t *testing.T) {
	store := NewPostStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, testPost("pg-del", time.Now().UTC())))

	require.NoError(t, store.Delete(ctx, "pg-del"))
	_, err := store.Get(ctx, "pg-del")
	assert.ErrorIs(t, err, posts.ErrNotFound)
}
