package jetstream

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"Courier/internal/atproto/records"
	"Courier/internal/atproto/utils"
	"Courier/internal/clock"
	"Courier/internal/core/posts"
)

// recentCommitCacheSize bounds the replay guard
const recentCommitCacheSize = 4096

// PostEventConsumer reconciles channel post events from Jetstream with the local post store.
// Creates confirm our own pending posts or index posts by other authors, updates apply
// remote edits and deletes remove the post and its thread.
type PostEventConsumer struct {
	store   posts.Store
	service posts.Service
	clock   clock.Clock
	recent  *lru.Cache[string, struct{}] // commits already applied, keyed by repo/rkey/cid/op
	pdsURL  string                       // used to hydrate blob URLs
}

// NewPostEventConsumer creates a new Jetstream consumer for post events
func NewPostEventConsumer(store posts.Store, service posts.Service, clk clock.Clock, pdsURL string) *PostEventConsumer {
	if clk == nil {
		clk = clock.Real()
	}
	cache, err := lru.New[string, struct{}](recentCommitCacheSize)
	if err != nil {
		log.Printf("WARNING: Failed to create commit cache, replays will hit the store: %v", err)
		cache, _ = lru.New[string, struct{}](1)
	}
	return &PostEventConsumer{
		store:   store,
		service: service,
		clock:   clk,
		recent:  cache,
		pdsURL:  pdsURL,
	}
}

// HandleEvent processes a Jetstream event for post records
func (c *PostEventConsumer) HandleEvent(ctx context.Context, event *JetstreamEvent) (err error) {
	// We only care about commit events for post records
	if event.Kind != "commit" || event.Commit == nil {
		return nil
	}
	commit := event.Commit
	if commit.Collection != records.PostCollection {
		return nil
	}

	key := fmt.Sprintf("%s/%s@%s:%s", event.Did, commit.RKey, commit.CID, commit.Operation)
	if c.recent.Contains(key) {
		feedEventsTotal.WithLabelValues(commit.Operation, "duplicate").Inc()
		return nil
	}
	defer func() {
		result := "applied"
		if err != nil {
			result = "error"
		} else {
			c.recent.Add(key, struct{}{})
		}
		feedEventsTotal.WithLabelValues(commit.Operation, result).Inc()
	}()

	seenAt := eventTime(event.TimeUS, c.clock.Now())
	switch commit.Operation {
	case "create":
		return c.createPost(ctx, event.Did, commit, seenAt)
	case "update":
		return c.updatePost(ctx, event.Did, commit, seenAt)
	case "delete":
		return c.deletePost(ctx, event.Did, commit)
	}
	return nil
}

// createPost confirms a pending post by its pendingId or indexes a post from another author
func (c *PostEventConsumer) createPost(ctx context.Context, repoDID string, commit *CommitEvent, seenAt time.Time) error {
	if commit.Record == nil {
		return fmt.Errorf("post create event missing record data")
	}
	rec, err := records.DecodeMap(commit.Record)
	if err != nil {
		return fmt.Errorf("failed to parse post record: %w", err)
	}

	uri := utils.BuildURI(repoDID, commit.Collection, commit.RKey)

	existing, err := c.findOne(ctx, posts.Filter{ServerID: uri})
	if err != nil {
		return err
	}
	if existing != nil {
		// Idempotent: already confirmed through the transport or an earlier event
		return nil
	}

	if rec.PendingID != "" {
		pending, err := c.findOne(ctx, posts.Filter{PendingID: rec.PendingID, ChannelID: rec.Channel})
		if err != nil {
			return err
		}
		if pending != nil && pending.AuthorID == repoDID {
			_, err := c.store.Mutate(ctx, pending.LocalID, func(p *posts.Post) error {
				if p.Confirmed() && p.ServerID != uri {
					return fmt.Errorf("post %s already confirmed as %s", p.LocalID, p.ServerID)
				}
				p.ServerID = uri
				p.Status = posts.StatusSent
				if len(p.Files) == 0 {
					p.Files = rec.FileRecords(c.pdsURL, repoDID)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to confirm pending post %s: %w", pending.LocalID, err)
			}
			log.Printf("[FEED] Confirmed pending post %s as %s", pending.LocalID, uri)
			return nil
		}
	}

	post := rec.ToPost(uri, repoDID, c.pdsURL, seenAt)
	post.LocalID = uuid.NewString()
	if err := c.store.Save(ctx, post); err != nil {
		return fmt.Errorf("failed to index post %s: %w", uri, err)
	}

	log.Printf("[FEED] Indexed post: %s (channel %s)", uri, post.ChannelID)
	return nil
}

// updatePost applies a remote edit to the stored post
func (c *PostEventConsumer) updatePost(ctx context.Context, repoDID string, commit *CommitEvent, seenAt time.Time) error {
	if commit.Record == nil {
		return fmt.Errorf("post update event missing record data")
	}
	rec, err := records.DecodeMap(commit.Record)
	if err != nil {
		return fmt.Errorf("failed to parse post record: %w", err)
	}

	uri := utils.BuildURI(repoDID, commit.Collection, commit.RKey)
	existing, err := c.findOne(ctx, posts.Filter{ServerID: uri})
	if err != nil {
		return err
	}
	if existing == nil {
		log.Printf("[FEED] Update for unknown post %s, indexing it", uri)
		post := rec.ToPost(uri, repoDID, c.pdsURL, seenAt)
		post.LocalID = uuid.NewString()
		return c.store.Save(ctx, post)
	}

	updatedAt := utils.ParseRecordTime(rec.UpdatedAt, seenAt)
	_, err = c.store.Mutate(ctx, existing.LocalID, func(p *posts.Post) error {
		p.Message = rec.Text
		p.Files = rec.FileRecords(c.pdsURL, repoDID)
		p.UpdatedAt = &updatedAt
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply update to %s: %w", uri, err)
	}

	log.Printf("[FEED] Updated post: %s", uri)
	return nil
}

// deletePost removes the post and whatever is left of its thread
func (c *PostEventConsumer) deletePost(ctx context.Context, repoDID string, commit *CommitEvent) error {
	uri := utils.BuildURI(repoDID, commit.Collection, commit.RKey)
	if err := c.service.ApplyRemoteDelete(ctx, uri); err != nil {
		return fmt.Errorf("failed to apply delete of %s: %w", uri, err)
	}
	log.Printf("[FEED] Deleted post: %s", uri)
	return nil
}

func (c *PostEventConsumer) findOne(ctx context.Context, filter posts.Filter) (*posts.Post, error) {
	filter.Limit = 1
	matches, err := c.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// eventTime converts the firehose timestamp, falling back to now
func eventTime(timeUS int64, fallback time.Time) time.Time {
	if timeUS <= 0 {
		return fallback
	}
	return time.UnixMicro(timeUS).UTC()
}
