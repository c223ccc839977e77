// cmd/resend-failed/main.go
// Quick tool to retry every post left in the error state, e.g. after a PDS outage.
//
// Run it while the server is stopped. It opens its own delivery engine on the database, so
// the server's per-post operation guard does not see its resends and the server's change
// feed subscribers are not told about them. Two resends of one post still cannot both go
// out: the error to sending transition happens under a row lock.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strconv"

	_ "github.com/lib/pq"

	"Courier/internal/atproto/pds"
	"Courier/internal/clock"
	"Courier/internal/config"
	"Courier/internal/core/posts"
	postgresStore "Courier/internal/db/postgres"
)

func main() {
	cfg := config.FromEnv()
	if cfg.Storage != config.StoragePostgres {
		log.Fatal("resend-failed needs COURIER_STORAGE=postgres; in-memory posts do not survive the server")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Optional filters
	channelID := os.Getenv("CHANNEL")
	limit := 500
	if v := os.Getenv("LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Fatalf("Invalid LIMIT %q", v)
		}
		limit = n
	}

	log.Printf("Connecting to database...")
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	client, err := pds.Connect(ctx, pds.Credentials{
		Host:        cfg.PDSURL,
		DID:         cfg.PDSDID,
		AccessToken: cfg.PDSAccessToken,
		Handle:      cfg.PDSHandle,
		Password:    cfg.PDSPassword,
	})
	if err != nil {
		log.Fatalf("Failed to authenticate with PDS: %v", err)
	}

	store := postgresStore.NewPostStore(db)
	clk := clock.Real()
	service := posts.NewDeliveryService(store, pds.NewPostTransport(client, clk, cfg.WriteTimeout), clk, client.DID(), posts.Options{
		MaxMessageGraphemes: cfg.MaxMessageGraphemes,
	})

	failed, err := store.Query(ctx, posts.Filter{ChannelID: channelID, Status: posts.StatusError, Limit: limit})
	if err != nil {
		log.Fatalf("Failed to list failed posts: %v", err)
	}
	log.Printf("Found %d failed posts to resend", len(failed))

	var sent, skipped, stillFailing int
	for _, post := range failed {
		if post.AuthorID != client.DID() {
			// Only our own posts can be redelivered with this session
			skipped++
			continue
		}

		result, err := service.Resend(ctx, post.LocalID)
		if err != nil {
			stillFailing++
			log.Printf("Warning: failed to resend %s: %s (%v)", post.LocalID,
				posts.UserMessage(err, posts.Channel{ID: post.ChannelID}), err)
			if posts.IsNetworkUnreachable(err) {
				log.Printf("PDS unreachable, stopping early")
				break
			}
			continue
		}
		sent++
		log.Printf("Resent %s as %s", result.LocalID, result.ServerID)
	}

	log.Printf("✓ Resent %d posts (%d still failing, %d skipped)", sent, stillFailing, skipped)
	if stillFailing > 0 {
		os.Exit(1)
	}
}
