package blobs

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// BlobRef represents a blob reference for atproto records
type BlobRef struct {
	Type     string            `json:"$type"`
	Ref      map[string]string `json:"ref"`
	MimeType string            `json:"mimeType"`
	Size     int64             `json:"size"`
}

// NewBlobRef builds a blob reference for a stored blob
func NewBlobRef(cid, mimeType string, size int64) *BlobRef {
	return &BlobRef{
		Type:     "blob",
		Ref:      map[string]string{"$link": cid},
		MimeType: mimeType,
		Size:     size,
	}
}

// CID returns the content identifier the reference points at
func (b *BlobRef) CID() string {
	if b == nil || b.Ref == nil {
		return ""
	}
	return b.Ref["$link"]
}

// Validate checks the fields every PDS uploadBlob response must carry
func (b *BlobRef) Validate() error {
	if b == nil {
		return errors.New("blob reference is nil")
	}
	if b.Type == "" {
		return fmt.Errorf("blob reference missing required field: $type")
	}
	if b.CID() == "" {
		return fmt.Errorf("blob reference missing required field: ref.$link (CID)")
	}
	if b.MimeType == "" {
		return fmt.Errorf("blob reference missing required field: mimeType")
	}
	if b.Size == 0 {
		return fmt.Errorf("blob reference missing required field: size")
	}
	return nil
}

// HydrateBlobURL converts a blob CID to a full PDS blob URL.
// Returns empty string if any required parameter is empty.
// Format: {pdsURL}/xrpc/com.atproto.sync.getBlob?did={did}&cid={cid}
func HydrateBlobURL(pdsURL, did, cid string) string {
	if pdsURL == "" || did == "" || cid == "" {
		return ""
	}
	return strings.TrimSuffix(pdsURL, "/") + "/xrpc/com.atproto.sync.getBlob?did=" +
		url.QueryEscape(did) + "&cid=" + url.QueryEscape(cid)
}
