// Package pds provides an abstraction layer for authenticated interactions with AT Protocol PDSs.
// It wraps indigo's atclient.APIClient and exposes the delivery transport built on top of it.
package pds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/atproto/atclient"
	"github.com/bluesky-social/indigo/atproto/syntax"

	"Courier/internal/core/blobs"
)

// Client provides authenticated access to a user's PDS repository.
type Client interface {
	// CreateRecord creates a record in the user's repository.
	// If rkey is empty, a TID will be generated.
	// Returns the record URI and CID.
	CreateRecord(ctx context.Context, collection string, rkey string, record any) (uri string, cid string, err error)

	// PutRecord creates or updates a record with optional optimistic locking.
	// If swapRecord CID is provided, the operation fails if the current CID doesn't match.
	PutRecord(ctx context.Context, collection string, rkey string, record any, swapRecord string) (uri string, cid string, err error)

	// DeleteRecord deletes a record from the user's repository.
	DeleteRecord(ctx context.Context, collection string, rkey string) error

	// UploadBlob uploads binary data to the user's PDS repository.
	// progress, if non-nil, receives the fraction of data handed to the connection.
	// The PDS performs its own MIME detection; the returned BlobRef carries its verdict.
	UploadBlob(ctx context.Context, data []byte, mimeType string, progress func(float64)) (*blobs.BlobRef, error)

	// Query performs an XRPC GET and decodes the JSON response into out.
	Query(ctx context.Context, nsid string, params map[string]any, out any) error

	// DID returns the authenticated user's DID.
	DID() string

	// HostURL returns the PDS host URL.
	HostURL() string
}

// client implements the Client interface using indigo's APIClient.
type client struct {
	apiClient *atclient.APIClient
	did       string
	host      string
}

// Ensure client implements Client interface.
var _ Client = (*client)(nil)

// wrapAPIError inspects an error from atclient and wraps it with our typed errors.
// This allows callers to use errors.Is() for reliable error detection.
func wrapAPIError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var apiErr *atclient.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 400:
			return fmt.Errorf("%s: %w: %s", operation, ErrBadRequest, apiErr.Message)
		case 401:
			return fmt.Errorf("%s: %w: %s", operation, ErrUnauthorized, apiErr.Message)
		case 403:
			return fmt.Errorf("%s: %w: %s", operation, ErrForbidden, apiErr.Message)
		case 404:
			return fmt.Errorf("%s: %w: %s", operation, ErrNotFound, apiErr.Message)
		case 409:
			return fmt.Errorf("%s: %w: %s", operation, ErrConflict, apiErr.Message)
		case 413:
			return fmt.Errorf("%s: %w: %s", operation, ErrPayloadTooLarge, apiErr.Message)
		case 429:
			return fmt.Errorf("%s: %w: %s", operation, ErrRateLimited, apiErr.Message)
		}
	}

	return fmt.Errorf("%s failed: %w", operation, err)
}

// DID returns the authenticated user's DID.
func (c *client) DID() string {
	return c.did
}

// HostURL returns the PDS host URL.
func (c *client) HostURL() string {
	return c.host
}

// CreateRecord creates a record in the user's repository.
func (c *client) CreateRecord(ctx context.Context, collection string, rkey string, record any) (string, string, error) {
	payload := map[string]any{
		"repo":       c.did,
		"collection": collection,
		"record":     record,
	}

	// PDS generates a TID when rkey is omitted
	if rkey != "" {
		payload["rkey"] = rkey
	}

	var result struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}

	err := c.apiClient.Post(ctx, syntax.NSID("com.atproto.repo.createRecord"), payload, &result)
	if err != nil {
		return "", "", wrapAPIError(err, "createRecord")
	}

	return result.URI, result.CID, nil
}

// PutRecord creates or updates a record with optional optimistic locking.
func (c *client) PutRecord(ctx context.Context, collection string, rkey string, record any, swapRecord string) (string, string, error) {
	payload := map[string]any{
		"repo":       c.did,
		"collection": collection,
		"rkey":       rkey,
		"record":     record,
	}

	if swapRecord != "" {
		payload["swapRecord"] = swapRecord
	}

	var result struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}

	err := c.apiClient.Post(ctx, syntax.NSID("com.atproto.repo.putRecord"), payload, &result)
	if err != nil {
		return "", "", wrapAPIError(err, "putRecord")
	}

	return result.URI, result.CID, nil
}

// DeleteRecord deletes a record from the user's repository.
func (c *client) DeleteRecord(ctx context.Context, collection string, rkey string) error {
	payload := map[string]any{
		"repo":       c.did,
		"collection": collection,
		"rkey":       rkey,
	}

	// deleteRecord returns empty response on success
	err := c.apiClient.Post(ctx, syntax.NSID("com.atproto.repo.deleteRecord"), payload, nil)
	if err != nil {
		return wrapAPIError(err, "deleteRecord")
	}

	return nil
}

// UploadBlob uploads binary data to the user's PDS repository.
func (c *client) UploadBlob(ctx context.Context, data []byte, mimeType string, progress func(float64)) (*blobs.BlobRef, error) {
	if err := blobs.ValidateSize(int64(len(data))); err != nil {
		return nil, fmt.Errorf("uploadBlob: %w", err)
	}

	body := &progressReader{
		r:      bytes.NewReader(data),
		total:  int64(len(data)),
		report: progress,
	}

	result, err := comatproto.RepoUploadBlob(ctx, c.apiClient, body)
	if err != nil {
		return nil, wrapAPIError(err, "uploadBlob")
	}
	if result == nil || result.Blob == nil {
		return nil, fmt.Errorf("uploadBlob: PDS response missing blob")
	}

	ref := blobs.NewBlobRef(result.Blob.Ref.String(), result.Blob.MimeType, result.Blob.Size)
	if ref.MimeType == "" {
		ref.MimeType = blobs.NormalizeMimeType(mimeType)
	}
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("uploadBlob: %w", err)
	}
	if progress != nil {
		progress(1)
	}
	return ref, nil
}

// Query performs an XRPC GET against the PDS.
func (c *client) Query(ctx context.Context, nsid string, params map[string]any, out any) error {
	if err := c.apiClient.Get(ctx, syntax.NSID(nsid), params, out); err != nil {
		return wrapAPIError(err, nsid)
	}
	return nil
}

// progressReader reports how much of the payload has been consumed
type progressReader struct {
	r      io.Reader
	report func(float64)
	total  int64
	read   int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.report != nil && p.total > 0 {
		p.read += int64(n)
		p.report(float64(p.read) / float64(p.total))
	}
	return n, err
}
