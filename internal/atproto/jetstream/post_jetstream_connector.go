package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	readTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	reconnectDelay = 5 * time.Second
)

// PostJetstreamConnector handles the WebSocket connection to Jetstream for post events
type PostJetstreamConnector struct {
	handler   EventHandler
	reconnect *rate.Limiter
	wsURL     string
}

// NewPostJetstreamConnector creates a new Jetstream WebSocket connector for post events
func NewPostJetstreamConnector(handler EventHandler, wsURL string) *PostJetstreamConnector {
	return &PostJetstreamConnector{
		handler:   handler,
		wsURL:     wsURL,
		reconnect: rate.NewLimiter(rate.Every(reconnectDelay), 1),
	}
}

// SubscribeURL adds wantedCollections filters to a Jetstream subscribe endpoint
func SubscribeURL(base string, collections ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid Jetstream URL %q: %w", base, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid Jetstream URL %q: scheme must be ws or wss", base)
	}
	q := u.Query()
	for _, c := range collections {
		q.Add("wantedCollections", c)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start begins consuming events from Jetstream
// Runs until ctx is cancelled, reconnecting at most once every 5 seconds
func (c *PostJetstreamConnector) Start(ctx context.Context) error {
	log.Printf("Starting Jetstream post consumer: %s", c.wsURL)

	for {
		if err := c.reconnect.Wait(ctx); err != nil {
			// The next attempt would land past the deadline
			<-ctx.Done()
			log.Println("Jetstream post consumer shutting down")
			return ctx.Err()
		}
		if err := c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				log.Println("Jetstream post consumer shutting down")
				return ctx.Err()
			}
			feedReconnectsTotal.Inc()
			log.Printf("Jetstream post connection error: %v. Retrying...", err)
		}
	}
}

// connect establishes WebSocket connection and processes events
func (c *PostJetstreamConnector) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Jetstream: %w", err)
	}

	log.Println("Connected to Jetstream (post consumer)")

	// Set read deadline to detect connection issues
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
	}

	// Set pong handler to keep connection alive
	conn.SetPongHandler(func(string) error {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			log.Printf("Failed to set read deadline in pong handler: %v", err)
		}
		return nil
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	var closeOnce sync.Once // Ensure done channel is only closed once
	stop := func() { closeOnce.Do(func() { close(done) }) }
	defer stop()

	var closeConn sync.Once
	shutdown := func() {
		closeConn.Do(func() {
			if closeErr := conn.Close(); closeErr != nil {
				log.Printf("Failed to close WebSocket connection: %v", closeErr)
			}
		})
	}
	defer shutdown()

	// Ping goroutine; also unblocks the reader when ctx ends
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					log.Printf("Failed to send ping: %v", err)
					stop()
					shutdown()
					return
				}
			case <-ctx.Done():
				shutdown()
				return
			case <-done:
				return
			}
		}
	}()

	// Read loop
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return fmt.Errorf("connection closed by ping failure")
			default:
			}
			return fmt.Errorf("read error: %w", err)
		}

		var event JetstreamEvent
		if err := json.Unmarshal(message, &event); err != nil {
			log.Printf("Failed to parse Jetstream event: %v", err)
			continue
		}

		if err := c.handler.HandleEvent(ctx, &event); err != nil {
			log.Printf("Failed to handle post event: %v", err)
			// Continue processing other events even if one fails
		}
	}
}
