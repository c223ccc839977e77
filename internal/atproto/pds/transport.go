package pds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"Courier/internal/atproto/records"
	"Courier/internal/atproto/utils"
	"Courier/internal/clock"
	"Courier/internal/core/attachments"
	"Courier/internal/core/blobs"
	"Courier/internal/core/posts"
)

const (
	defaultWriteTimeout  = 30 * time.Second
	defaultUploadTimeout = 5 * time.Minute
	searchLimit          = 50
)

// PostTransport delivers posts and attachments to the author's PDS.
// It implements posts.Transport and attachments.Uploader.
type PostTransport struct {
	client        Client
	breaker       *circuitBreaker
	writeTimeout  time.Duration
	uploadTimeout time.Duration
}

var (
	_ posts.Transport      = (*PostTransport)(nil)
	_ attachments.Uploader = (*PostTransport)(nil)
)

// NewPostTransport creates a transport over client. writeTimeout <= 0 selects 30 seconds.
func NewPostTransport(client Client, clk clock.Clock, writeTimeout time.Duration) *PostTransport {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &PostTransport{
		client:        client,
		breaker:       newCircuitBreaker(clk),
		writeTimeout:  writeTimeout,
		uploadTimeout: defaultUploadTimeout,
	}
}

// SendPost creates the post record and returns its AT-URI
func (t *PostTransport) SendPost(ctx context.Context, p *posts.Post) (string, error) {
	var uri string
	err := t.call(ctx, "send", t.writeTimeout, func(ctx context.Context) error {
		var err error
		uri, _, err = t.client.CreateRecord(ctx, records.PostCollection, "", records.FromPost(p))
		return err
	})
	if err != nil {
		return "", err
	}
	return uri, nil
}

// UpdatePost replaces the record at the post's ServerID
func (t *PostTransport) UpdatePost(ctx context.Context, p *posts.Post) error {
	rkey, err := recordKey(p, "update")
	if err != nil {
		return err
	}
	return t.call(ctx, "update", t.writeTimeout, func(ctx context.Context) error {
		_, _, err := t.client.PutRecord(ctx, records.PostCollection, rkey, records.FromPost(p), "")
		return err
	})
}

// DeletePost removes the record at the post's ServerID
func (t *PostTransport) DeletePost(ctx context.Context, p *posts.Post) error {
	rkey, err := recordKey(p, "delete")
	if err != nil {
		return err
	}
	return t.call(ctx, "delete", t.writeTimeout, func(ctx context.Context) error {
		return t.client.DeleteRecord(ctx, records.PostCollection, rkey)
	})
}

type searchResponse struct {
	Posts []struct {
		URI       string          `json:"uri"`
		Author    string          `json:"author"`
		IndexedAt string          `json:"indexedAt"`
		Record    json.RawMessage `json:"record"`
	} `json:"posts"`
}

// SearchPosts runs the channel search query on the PDS
func (t *PostTransport) SearchPosts(ctx context.Context, terms, channelID string) ([]*posts.Post, error) {
	var resp searchResponse
	err := t.call(ctx, "search", t.writeTimeout, func(ctx context.Context) error {
		return t.client.Query(ctx, records.SearchPostsQuery, map[string]any{
			"channel": channelID,
			"q":       terms,
			"limit":   searchLimit,
		}, &resp)
	})
	if err != nil {
		return nil, err
	}

	results := make([]*posts.Post, 0, len(resp.Posts))
	for _, hit := range resp.Posts {
		rec, err := records.Decode(hit.Record)
		if err != nil {
			log.Printf("[PDS-SEARCH] Skipping malformed result %s: %v", hit.URI, err)
			continue
		}
		indexedAt := utils.ParseRecordTime(hit.IndexedAt, time.Now().UTC())
		results = append(results, rec.ToPost(hit.URI, hit.Author, t.client.HostURL(), indexedAt))
	}
	return results, nil
}

// UploadFile uploads an attachment blob and returns the file record to attach
func (t *PostTransport) UploadFile(ctx context.Context, item *attachments.Item, channelID string, progress func(float64)) (*posts.FileRecord, error) {
	var ref *blobs.BlobRef
	err := t.call(ctx, "upload", t.uploadTimeout, func(ctx context.Context) error {
		var err error
		ref, err = t.client.UploadBlob(ctx, item.Data, item.MimeType, progress)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &posts.FileRecord{
		ID:           ref.CID(),
		SourceItemID: item.ID,
		Name:         item.Name,
		MimeType:     ref.MimeType,
		Size:         ref.Size,
		URL:          blobs.HydrateBlobURL(t.client.HostURL(), t.client.DID(), ref.CID()),
	}, nil
}

// call runs fn under the host's circuit breaker and classifies its error
func (t *PostTransport) call(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	host := t.client.HostURL()
	if err := t.breaker.canAttempt(host); err != nil {
		return posts.NewTransportError(posts.TransportNetworkUnreachable, op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		t.breaker.recordSuccess(host)
		return nil
	}

	kind := classify(ctx, err)
	switch kind {
	case posts.TransportNetworkUnreachable:
		t.breaker.recordFailure(host, err)
	case posts.TransportCancelled:
	default:
		// The server answered, so it is reachable
		t.breaker.recordSuccess(host)
	}
	return posts.NewTransportError(kind, op, err)
}

// classify maps a PDS error onto the delivery error kinds
func classify(ctx context.Context, err error) posts.TransportErrorKind {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return posts.TransportCancelled
	case errors.Is(err, ErrForbidden):
		return posts.TransportNotMember
	case errors.Is(err, ErrNotFound):
		return posts.TransportNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrCircuitOpen):
		return posts.TransportNetworkUnreachable
	case errors.As(err, &netErr):
		return posts.TransportNetworkUnreachable
	default:
		return posts.TransportServer
	}
}

func recordKey(p *posts.Post, op string) (string, error) {
	rkey := utils.ExtractRKeyFromURI(p.ServerID)
	if rkey == "" {
		return "", posts.NewTransportError(posts.TransportServer, op,
			fmt.Errorf("post %s has no server record (serverId=%q)", p.LocalID, p.ServerID))
	}
	return rkey, nil
}
