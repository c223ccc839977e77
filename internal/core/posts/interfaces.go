package posts

import "context"

// Service is the delivery engine used by the composer.
// Every stateful call blocks until the transport resolves; callers that want
// fire-and-forget behaviour run it in their own goroutine.
type Service interface {
	// SendNew stores a new post as sending, transmits it and records the outcome.
	// The returned error is the transport failure, if any; the post is still returned
	// in that case with StatusError.
	SendNew(ctx context.Context, channel Channel, message string, session AttachmentSession) (*Post, error)

	// SendReply is SendNew for a reply to parent. The parent must be confirmed by the server.
	SendReply(ctx context.Context, parent *Post, channel Channel, message string, session AttachmentSession) (*Post, error)

	// Resend retransmits a post in StatusError
	Resend(ctx context.Context, localID string) (*Post, error)

	// Update edits a confirmed post. A transport failure reverts the local edit.
	Update(ctx context.Context, localID, message string, session AttachmentSession) (*Post, error)

	// Delete removes a post and, once confirmed remotely, its replies.
	// Deleting an unknown or already deleted post is a no-op.
	Delete(ctx context.Context, localID string) error

	// ApplyRemoteDelete removes the local thread of a post the server reported deleted
	ApplyRemoteDelete(ctx context.Context, serverID string) error

	// Search queries the server. Cancelled searches return an empty result.
	Search(ctx context.Context, terms string, channel Channel) ([]*Post, error)

	Get(ctx context.Context, localID string) (*Post, error)
	List(ctx context.Context, channelID string, limit int) ([]*Post, error)
}

// Store persists post records.
// Every method is atomic with respect to concurrent readers.
type Store interface {
	// Save inserts or replaces the record keyed by LocalID
	Save(ctx context.Context, post *Post) error

	// Mutate applies fn to the current record and persists the result atomically.
	// If fn returns an error nothing is written and that error is returned.
	Mutate(ctx context.Context, localID string, fn func(*Post) error) (*Post, error)

	// Delete removes the record. Returns ErrNotFound when absent.
	Delete(ctx context.Context, localID string) error

	// Get returns the record or ErrNotFound
	Get(ctx context.Context, localID string) (*Post, error)

	// Query returns matching records ordered by CreatedAt
	Query(ctx context.Context, filter Filter) ([]*Post, error)
}

// Transport carries posts to the server.
// Implementations return *TransportError so the engine can classify failures.
type Transport interface {
	// SendPost creates the post remotely and returns the server-assigned identifier
	SendPost(ctx context.Context, post *Post) (string, error)
	UpdatePost(ctx context.Context, post *Post) error
	DeletePost(ctx context.Context, post *Post) error
	SearchPosts(ctx context.Context, terms, channelID string) ([]*Post, error)
}

// AttachmentSession is the composer's upload state as seen by the engine
type AttachmentSession interface {
	// CompletedFiles returns the files uploaded so far, in completion order
	CompletedFiles() []FileRecord
	// CancelPending cancels every upload that has not finished
	CancelPending()
	// Reset forgets every item and completed file
	Reset()
}
