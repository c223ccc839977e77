package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Courier/internal/api/middleware"
	"Courier/internal/api/routes"
	"Courier/internal/atproto/jetstream"
	"Courier/internal/atproto/pds"
	"Courier/internal/atproto/records"
	"Courier/internal/clock"
	"Courier/internal/config"
	"Courier/internal/core/attachments"
	"Courier/internal/core/posts"
	"Courier/internal/db/memory"
	postgresStore "Courier/internal/db/postgres"
)

func main() {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Post storage
	var store posts.Store
	switch cfg.Storage {
	case config.StorageMemory:
		slog.Warn("[SERVER] using in-memory post storage; posts are lost on restart")
		store = memory.NewPostStore()
	default:
		db := openDatabase(cfg.DatabaseURL)
		defer db.Close()
		store = postgresStore.NewPostStore(db)
	}
	notifying := posts.NewNotifyingStore(store, 0)

	// PDS session for the author
	client, err := pds.Connect(ctx, pdsCredentials(cfg))
	if err != nil {
		log.Fatal("Failed to authenticate with PDS: ", err)
	}
	log.Printf("Authenticated with PDS %s as %s", client.HostURL(), client.DID())

	clk := clock.Real()
	transport := pds.NewPostTransport(client, clk, cfg.WriteTimeout)
	service := posts.NewDeliveryService(notifying, transport, clk, client.DID(), posts.Options{
		MaxMessageGraphemes: cfg.MaxMessageGraphemes,
	})
	sessions := attachments.NewSessions(transport, cfg.UploadConcurrency)

	// Event feed reconciles our sends and brings in everyone else's posts
	if cfg.JetstreamURL != "" {
		wsURL, err := jetstream.SubscribeURL(cfg.JetstreamURL, records.PostCollection)
		if err != nil {
			log.Fatal("Invalid JETSTREAM_URL: ", err)
		}
		consumer := jetstream.NewPostEventConsumer(notifying, service, clk, client.HostURL())
		connector := jetstream.NewPostJetstreamConnector(consumer, wsURL)
		go func() {
			if err := connector.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Jetstream post consumer stopped: %v", err)
			}
		}()
	} else {
		log.Println("JETSTREAM_URL not set; posts are confirmed by the PDS response only")
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)

	// Uploads: 2 requests per second per IP, bursts of 10
	uploadLimiter := middleware.NewRateLimiter(2, 10)

	routes.RegisterPostRoutes(r, service, sessions)
	routes.RegisterAttachmentRoutes(r, sessions, uploadLimiter.Middleware)
	routes.RegisterFeedRoutes(r, notifying)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
		}
	}()

	fmt.Printf("Courier composer starting on port %s\n", cfg.Port)
	fmt.Printf("PDS URL: %s\n", cfg.PDSURL)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Println("Courier composer stopped")
}

func openDatabase(dsn string) *sql.DB {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	log.Println("Connected to post database")

	// Run migrations
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal("Failed to set goose dialect:", err)
	}

	if err := goose.Up(db, "internal/db/migrations"); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	log.Println("Migrations completed successfully")
	return db
}

func pdsCredentials(cfg config.Config) pds.Credentials {
	return pds.Credentials{
		Host:        cfg.PDSURL,
		DID:         cfg.PDSDID,
		AccessToken: cfg.PDSAccessToken,
		Handle:      cfg.PDSHandle,
		Password:    cfg.PDSPassword,
	}
}
