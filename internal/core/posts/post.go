package posts

import (
	"fmt"
	"time"
)

// Status is the delivery state of a post as seen by the composer
type Status string

const (
	// StatusSending means the post is stored locally and a transport call is outstanding
	StatusSending Status = "sending"
	// StatusSent means the server accepted the post and assigned it a ServerID
	StatusSent Status = "sent"
	// StatusError means the last transport call failed. Only an explicit resend leaves this state.
	StatusError Status = "error"
)

// ChannelType selects the wording used for membership failures
type ChannelType string

const (
	ChannelOpen    ChannelType = "open"
	ChannelPrivate ChannelType = "private"
	ChannelDirect  ChannelType = "direct"
)

// Channel identifies the conversation a post belongs to
type Channel struct {
	ID   string      `json:"id" validate:"required,max=512"`
	Type ChannelType `json:"type,omitempty" validate:"omitempty,oneof=open private direct"`
}

// FileRecord is a finished attachment reference.
// ID is the blob CID returned by the upload; SourceItemID is the attachment item it came from.
type FileRecord struct {
	ID           string `json:"id"`
	SourceItemID string `json:"sourceItemId,omitempty"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	URL          string `json:"url,omitempty"`
	Size         int64  `json:"size"`
}

// Post is the local record of a composed message.
// LocalID never changes once assigned; ServerID is empty until the server confirms the post.
type Post struct {
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt *time.Time   `json:"updatedAt,omitempty"`
	LocalID   string       `json:"localId"`
	ServerID  string       `json:"serverId,omitempty"`
	PendingID string       `json:"pendingId"`
	ChannelID string       `json:"channelId"`
	AuthorID  string       `json:"authorId"`
	Message   string       `json:"message"`
	ParentID  string       `json:"parentId,omitempty"`
	RootID    string       `json:"rootId,omitempty"`
	Status    Status       `json:"status"`
	Files     []FileRecord `json:"files,omitempty"`
	// DeletedRemotely marks a post whose delete already went through while replies were
	// still busy. It is kept only until its last reply is removed.
	DeletedRemotely bool `json:"deletedRemotely,omitempty"`
}

// IsReply reports whether the post belongs to a thread
func (p *Post) IsReply() bool {
	return p.ParentID != ""
}

// Confirmed reports whether the server has assigned an identifier
func (p *Post) Confirmed() bool {
	return p.ServerID != ""
}

// ThreadKeys returns every identifier a reply may use to point at this post
func (p *Post) ThreadKeys() []string {
	keys := []string{p.LocalID}
	if p.ServerID != "" && p.ServerID != p.LocalID {
		keys = append(keys, p.ServerID)
	}
	return keys
}

// Clone returns a deep copy so callers can hand records across goroutines
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	cp := *p
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		cp.UpdatedAt = &t
	}
	if p.Files != nil {
		cp.Files = make([]FileRecord, len(p.Files))
		copy(cp.Files, p.Files)
	}
	return &cp
}

// PendingIDFor builds the correlation key the server echoes back for our own posts.
// Format: "<authorId>:<createdAt in unix milliseconds>"
func PendingIDFor(authorID string, createdAt time.Time) string {
	return fmt.Sprintf("%s:%d", authorID, createdAt.UnixMilli())
}

// MergeFiles appends files to existing, dropping any whose ID is already present
func MergeFiles(existing []FileRecord, files ...FileRecord) []FileRecord {
	seen := make(map[string]struct{}, len(existing)+len(files))
	out := make([]FileRecord, 0, len(existing)+len(files))
	for _, f := range append(append([]FileRecord(nil), existing...), files...) {
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}

// ChangeKind describes the store write that produced a Change
type ChangeKind string

const (
	ChangeSaved   ChangeKind = "saved"
	ChangeMutated ChangeKind = "mutated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is published on the change feed after every committed store write
type Change struct {
	Post *Post      `json:"post"`
	Kind ChangeKind `json:"kind"`
}

// Filter selects posts from a Store. Zero-valued fields do not constrain the result.
type Filter struct {
	ChannelID string
	PendingID string
	ServerID  string
	Status    Status
	// ParentIDs matches posts whose ParentID equals any of the given identifiers
	ParentIDs []string
	Limit     int
}

// Matches reports whether p satisfies every set field of the filter
func (f Filter) Matches(p *Post) bool {
	if f.ChannelID != "" && p.ChannelID != f.ChannelID {
		return false
	}
	if f.PendingID != "" && p.PendingID != f.PendingID {
		return false
	}
	if f.ServerID != "" && p.ServerID != f.ServerID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if len(f.ParentIDs) > 0 {
		if p.ParentID == "" {
			return false
		}
		for _, id := range f.ParentIDs {
			if p.ParentID == id {
				return true
			}
		}
		return false
	}
	return true
}
