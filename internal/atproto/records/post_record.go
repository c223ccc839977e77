// Package records defines the atProto record layout for channel posts and the
// conversion between records and local post state.
package records

import (
	"encoding/json"
	"fmt"
	"time"

	"Courier/internal/atproto/utils"
	"Courier/internal/core/blobs"
	"Courier/internal/core/posts"
)

// PostCollection is the NSID of channel post records
const PostCollection = "social.courier.channel.post"

// SearchPostsQuery is the XRPC query used for channel search
const SearchPostsQuery = "social.courier.channel.searchPosts"

// PostRecord is the record written to the author's repository
type PostRecord struct {
	Reply     *ReplyRef   `json:"reply,omitempty"`
	Type      string      `json:"$type"`
	Channel   string      `json:"channel"`
	Text      string      `json:"text"`
	PendingID string      `json:"pendingId,omitempty"`
	CreatedAt string      `json:"createdAt"`
	UpdatedAt string      `json:"updatedAt,omitempty"`
	Files     []FileEmbed `json:"files,omitempty"`
}

// ReplyRef points a reply at its thread. Both fields are AT-URIs.
type ReplyRef struct {
	Root   string `json:"root"`
	Parent string `json:"parent"`
}

// FileEmbed attaches an uploaded blob to a post
type FileEmbed struct {
	Blob *blobs.BlobRef `json:"blob"`
	Name string         `json:"name,omitempty"`
}

// FromPost builds the record for p
func FromPost(p *posts.Post) *PostRecord {
	rec := &PostRecord{
		Type:      PostCollection,
		Channel:   p.ChannelID,
		Text:      p.Message,
		PendingID: p.PendingID,
		CreatedAt: utils.FormatRecordTime(p.CreatedAt),
	}
	if p.UpdatedAt != nil {
		rec.UpdatedAt = utils.FormatRecordTime(*p.UpdatedAt)
	}
	if p.IsReply() {
		root := p.RootID
		if root == "" {
			root = p.ParentID
		}
		rec.Reply = &ReplyRef{Root: root, Parent: p.ParentID}
	}
	for _, f := range p.Files {
		rec.Files = append(rec.Files, FileEmbed{
			Name: f.Name,
			Blob: blobs.NewBlobRef(f.ID, f.MimeType, f.Size),
		})
	}
	return rec
}

// Decode parses a record received from the network
func Decode(raw json.RawMessage) (*PostRecord, error) {
	var rec PostRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse post record: %w", err)
	}
	if rec.Channel == "" {
		return nil, fmt.Errorf("post record missing channel")
	}
	return &rec, nil
}

// DecodeMap converts a generic record value into a PostRecord
func DecodeMap(value map[string]any) (*PostRecord, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode record: %w", err)
	}
	return Decode(raw)
}

// FileRecords converts the embedded blobs into file records hydrated against the author's PDS
func (r *PostRecord) FileRecords(pdsURL, authorDID string) []posts.FileRecord {
	out := make([]posts.FileRecord, 0, len(r.Files))
	for _, f := range r.Files {
		if f.Blob == nil || f.Blob.CID() == "" {
			continue
		}
		out = append(out, posts.FileRecord{
			ID:       f.Blob.CID(),
			Name:     f.Name,
			MimeType: f.Blob.MimeType,
			Size:     f.Blob.Size,
			URL:      blobs.HydrateBlobURL(pdsURL, authorDID, f.Blob.CID()),
		})
	}
	return out
}

// ToPost builds a confirmed post for a record stored at uri
func (r *PostRecord) ToPost(uri, authorDID, pdsURL string, fallback time.Time) *posts.Post {
	p := &posts.Post{
		ServerID:  uri,
		PendingID: r.PendingID,
		ChannelID: r.Channel,
		AuthorID:  authorDID,
		Message:   r.Text,
		CreatedAt: utils.ParseRecordTime(r.CreatedAt, fallback),
		Status:    posts.StatusSent,
		Files:     r.FileRecords(pdsURL, authorDID),
	}
	if r.UpdatedAt != "" {
		updated := utils.ParseRecordTime(r.UpdatedAt, p.CreatedAt)
		p.UpdatedAt = &updated
	}
	if r.Reply != nil {
		p.ParentID = r.Reply.Parent
		p.RootID = r.Reply.Root
	}
	return p
}
