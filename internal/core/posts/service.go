package posts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rivo/uniseg"

	"Courier/internal/clock"
)

const (
	// MaxMessageGraphemes is the longest message the server accepts
	MaxMessageGraphemes = 16383

	defaultListLimit = 100
)

type operation string

const (
	opSend   operation = "send"
	opResend operation = "resend"
	opUpdate operation = "update"
	opDelete operation = "delete"
	opSearch operation = "search"
)

// Options tunes the delivery engine
type Options struct {
	// MaxMessageGraphemes overrides the message length limit (0 = default)
	MaxMessageGraphemes int
}

// deliveryService serializes operations per LocalID through inFlight. pendingRemoval holds
// posts deleted on the server while another operation owned them; they are removed when
// that operation releases its slot.
type deliveryService struct {
	store          Store
	transport      Transport
	clock          clock.Clock
	validate       *validator.Validate
	inFlight       map[string]operation
	pendingRemoval map[string]struct{}
	authorID       string
	maxLength      int
	mu             sync.Mutex
	threadMu       sync.Mutex
}

// NewDeliveryService creates the delivery engine for a single author
func NewDeliveryService(store Store, transport Transport, clk clock.Clock, authorID string, opts Options) Service {
	if clk == nil {
		clk = clock.Real()
	}
	maxLength := opts.MaxMessageGraphemes
	if maxLength <= 0 {
		maxLength = MaxMessageGraphemes
	}
	return &deliveryService{
		store:          store,
		transport:      transport,
		clock:          clk,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		inFlight:       make(map[string]operation),
		pendingRemoval: make(map[string]struct{}),
		authorID:       authorID,
		maxLength:      maxLength,
	}
}

// SendNew persists the post before the transport call so the composer can render it immediately
func (s *deliveryService) SendNew(ctx context.Context, channel Channel, message string, session AttachmentSession) (post *Post, err error) {
	start := time.Now()
	defer func() { observeOperation(string(opSend), start, err) }()

	post, err = s.compose(channel, message, session)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, post, session)
}

// SendReply threads the new post under parent
func (s *deliveryService) SendReply(ctx context.Context, parent *Post, channel Channel, message string, session AttachmentSession) (post *Post, err error) {
	start := time.Now()
	defer func() { observeOperation("reply", start, err) }()

	if parent == nil {
		return nil, NewValidationError("parent", "parent post is required")
	}
	confirmed := parent
	if !confirmed.Confirmed() && confirmed.LocalID != "" {
		// The caller's copy may predate the server confirmation
		if fresh, getErr := s.store.Get(ctx, confirmed.LocalID); getErr == nil {
			confirmed = fresh
		}
	}
	if !confirmed.Confirmed() {
		return nil, ErrInvalidParentState
	}
	if confirmed.ChannelID != "" && channel.ID != confirmed.ChannelID {
		return nil, NewValidationError("channel", "reply must be sent to the parent's channel")
	}

	post, err = s.compose(channel, message, session)
	if err != nil {
		return nil, err
	}
	post.ParentID = confirmed.ServerID
	post.RootID = confirmed.RootID
	if post.RootID == "" {
		post.RootID = confirmed.ServerID
	}
	return s.send(ctx, post, session)
}

func (s *deliveryService) Resend(ctx context.Context, localID string) (post *Post, err error) {
	start := time.Now()
	defer func() { observeOperation(string(opResend), start, err) }()

	if err := s.acquire(localID, opResend); err != nil {
		return nil, err
	}
	defer s.release(localID)

	post, err = s.store.Mutate(ctx, localID, func(p *Post) error {
		if p.Status != StatusError {
			return ErrInvalidState
		}
		p.Status = StatusSending
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[POST-RESEND] Retrying post %s in channel %s", post.LocalID, post.ChannelID)
	return s.deliver(ctx, post)
}

func (s *deliveryService) Update(ctx context.Context, localID, message string, session AttachmentSession) (post *Post, err error) {
	start := time.Now()
	defer func() { observeOperation(string(opUpdate), start, err) }()

	if err := s.acquire(localID, opUpdate); err != nil {
		return nil, err
	}
	defer s.release(localID)

	current, err := s.store.Get(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !current.Confirmed() || current.DeletedRemotely {
		return nil, ErrInvalidState
	}

	var files []FileRecord
	if session != nil {
		files = session.CompletedFiles()
	}
	if err := s.validateMessage(message, len(current.Files)+len(files) > 0); err != nil {
		return nil, err
	}

	snapshot := current.Clone()
	now := s.now()
	edited, err := s.store.Mutate(ctx, localID, func(p *Post) error {
		if !p.Confirmed() || p.DeletedRemotely {
			return ErrInvalidState
		}
		p.Message = message
		p.UpdatedAt = &now
		p.Files = MergeFiles(p.Files, files...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if session != nil {
		session.CancelPending()
		session.Reset()
	}

	if sendErr := s.transport.UpdatePost(ctx, edited.Clone()); sendErr != nil {
		log.Printf("[POST-UPDATE] Transport rejected edit of %s, reverting: %v", localID, sendErr)
		reverted, revertErr := s.store.Mutate(context.WithoutCancel(ctx), localID, func(p *Post) error {
			p.Message = snapshot.Message
			p.UpdatedAt = snapshot.UpdatedAt
			p.Files = snapshot.Files
			return nil
		})
		if revertErr != nil {
			return edited, errors.Join(sendErr, fmt.Errorf("failed to revert edit: %w", revertErr))
		}
		return reverted, sendErr
	}

	log.Printf("[POST-UPDATE] Updated post %s (%s)", localID, edited.ServerID)
	return edited, nil
}

func (s *deliveryService) Delete(ctx context.Context, localID string) (err error) {
	start := time.Now()
	defer func() { observeOperation(string(opDelete), start, err) }()

	if err := s.acquire(localID, opDelete); err != nil {
		if s.holding(localID) == opDelete {
			// The delete already in flight will finish the job
			return nil
		}
		return err
	}
	defer s.release(localID)

	post, err := s.store.Get(ctx, localID)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}

	if !post.Confirmed() {
		log.Printf("[POST-DELETE] Removing unsent post %s locally", localID)
		return s.removeThread(ctx, post)
	}
	if post.DeletedRemotely {
		log.Printf("[POST-DELETE] Post %s is already gone from the server, removing locally", localID)
		return s.removeThread(ctx, post)
	}

	if err := s.transport.DeletePost(ctx, post.Clone()); err != nil && !IsRemoteNotFound(err) {
		log.Printf("[POST-DELETE] Transport failed to delete %s (%s): %v", localID, post.ServerID, err)
		return err
	}

	log.Printf("[POST-DELETE] Deleted post %s (%s)", localID, post.ServerID)
	return s.removeThread(context.WithoutCancel(ctx), post)
}

func (s *deliveryService) ApplyRemoteDelete(ctx context.Context, serverID string) error {
	matches, err := s.store.Query(ctx, Filter{ServerID: serverID, Limit: 1})
	if err != nil {
		return fmt.Errorf("failed to look up post %s: %w", serverID, err)
	}
	if len(matches) == 0 {
		return nil
	}
	post := matches[0]

	s.mu.Lock()
	holder, busy := s.inFlight[post.LocalID]
	switch {
	case !busy:
		s.inFlight[post.LocalID] = opDelete
	case holder != opDelete:
		s.pendingRemoval[post.LocalID] = struct{}{}
	}
	s.mu.Unlock()

	if busy {
		if holder == opDelete {
			return nil
		}
		// Persisted so the removal survives a restart before the holder releases
		if err := s.markDeletedRemotely(context.WithoutCancel(ctx), post.LocalID); err != nil {
			return err
		}
		log.Printf("[POST-DELETE] Post %s deleted remotely during %s, removing once it finishes", post.LocalID, holder)
		return nil
	}
	defer s.release(post.LocalID)

	return s.removeThread(ctx, post)
}

func (s *deliveryService) Search(ctx context.Context, terms string, channel Channel) (results []*Post, err error) {
	start := time.Now()
	defer func() { observeOperation(string(opSearch), start, err) }()

	if err := s.validateChannel(channel); err != nil {
		return nil, err
	}
	terms = strings.TrimSpace(terms)
	if terms == "" {
		return []*Post{}, nil
	}

	results, err = s.transport.SearchPosts(ctx, terms, channel.ID)
	if err != nil {
		if IsCancelled(err) {
			return []*Post{}, nil
		}
		return nil, err
	}
	if results == nil {
		results = []*Post{}
	}
	return results, nil
}

func (s *deliveryService) Get(ctx context.Context, localID string) (*Post, error) {
	return s.store.Get(ctx, localID)
}

func (s *deliveryService) List(ctx context.Context, channelID string, limit int) ([]*Post, error) {
	if channelID == "" {
		return nil, NewValidationError("channel", "channel is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.store.Query(ctx, Filter{ChannelID: channelID, Limit: limit})
}

// compose validates the request and builds a sending record from the session's completed files
func (s *deliveryService) compose(channel Channel, message string, session AttachmentSession) (*Post, error) {
	if err := s.validateChannel(channel); err != nil {
		return nil, err
	}

	var files []FileRecord
	if session != nil {
		files = MergeFiles(nil, session.CompletedFiles()...)
	}
	if err := s.validateMessage(message, len(files) > 0); err != nil {
		return nil, err
	}

	now := s.now()
	return &Post{
		LocalID:   uuid.NewString(),
		PendingID: PendingIDFor(s.authorID, now),
		ChannelID: channel.ID,
		AuthorID:  s.authorID,
		Message:   message,
		CreatedAt: now,
		Status:    StatusSending,
		Files:     files,
	}, nil
}

func (s *deliveryService) send(ctx context.Context, post *Post, session AttachmentSession) (*Post, error) {
	if err := s.acquire(post.LocalID, opSend); err != nil {
		return nil, err
	}
	defer s.release(post.LocalID)

	if err := s.store.Save(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to save post: %w", err)
	}

	// Stragglers are dropped; the post goes out with what finished before send
	if session != nil {
		session.CancelPending()
		session.Reset()
	}

	return s.deliver(ctx, post)
}

// deliver issues SendPost and records the outcome on the same LocalID.
// The caller must hold the in-flight slot for the post.
func (s *deliveryService) deliver(ctx context.Context, post *Post) (*Post, error) {
	serverID, sendErr := s.transport.SendPost(ctx, post.Clone())

	// The outcome is recorded even if the caller gave up waiting
	final, err := s.store.Mutate(context.WithoutCancel(ctx), post.LocalID, func(p *Post) error {
		if sendErr != nil {
			if p.Status == StatusSent && p.Confirmed() {
				// The event feed confirmed the post before the transport reported back
				return nil
			}
			p.Status = StatusError
			return nil
		}
		p.Status = StatusSent
		if serverID != "" {
			p.ServerID = serverID
		}
		return nil
	})
	if err != nil {
		if sendErr != nil {
			return nil, errors.Join(sendErr, fmt.Errorf("failed to record delivery result: %w", err))
		}
		return nil, fmt.Errorf("failed to record delivery result: %w", err)
	}

	if sendErr != nil {
		log.Printf("[POST-SEND] Delivery of %s failed: %v", post.LocalID, sendErr)
		return final, sendErr
	}

	log.Printf("[POST-SEND] Channel: %s, LocalID: %s, ServerID: %s", final.ChannelID, final.LocalID, final.ServerID)
	return final, nil
}

// removeThread deletes post's replies depth-first, then post itself once no reply remains.
// Replies with an operation in flight are left in place; post is then flagged DeletedRemotely
// and collected when its last reply is removed.
func (s *deliveryService) removeThread(ctx context.Context, post *Post) error {
	s.threadMu.Lock()
	defer s.threadMu.Unlock()
	return s.removeThreadLocked(ctx, post)
}

func (s *deliveryService) removeThreadLocked(ctx context.Context, post *Post) error {
	keys := post.ThreadKeys()

	replies, err := s.store.Query(ctx, Filter{ParentIDs: keys})
	if err != nil {
		return fmt.Errorf("failed to list replies of %s: %w", post.LocalID, err)
	}
	for _, reply := range replies {
		if s.holding(reply.LocalID) != "" {
			log.Printf("[POST-DELETE] Reply %s is busy, keeping parent %s for now", reply.LocalID, post.LocalID)
			continue
		}
		if err := s.removeThreadLocked(ctx, reply); err != nil {
			return err
		}
	}

	remaining, err := s.store.Query(ctx, Filter{ParentIDs: keys, Limit: 1})
	if err != nil {
		return fmt.Errorf("failed to count replies of %s: %w", post.LocalID, err)
	}
	if len(remaining) > 0 {
		if post.DeletedRemotely {
			return nil
		}
		return s.markDeletedRemotely(ctx, post.LocalID)
	}

	if err := s.store.Delete(ctx, post.LocalID); err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete post %s: %w", post.LocalID, err)
	}

	return s.collectParent(ctx, post)
}

func (s *deliveryService) markDeletedRemotely(ctx context.Context, localID string) error {
	_, err := s.store.Mutate(ctx, localID, func(p *Post) error {
		p.DeletedRemotely = true
		return nil
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to flag post %s as deleted: %w", localID, err)
	}
	return nil
}

// collectParent removes post's parent if it was only waiting for its replies to go
func (s *deliveryService) collectParent(ctx context.Context, post *Post) error {
	if !post.IsReply() {
		return nil
	}

	parent, err := s.findByAnyID(ctx, post.ParentID)
	if err != nil || parent == nil {
		return err
	}

	if !parent.DeletedRemotely {
		return nil
	}

	s.mu.Lock()
	holder := s.inFlight[parent.LocalID]
	if holder != "" && holder != opDelete {
		s.pendingRemoval[parent.LocalID] = struct{}{}
	}
	s.mu.Unlock()
	if holder != "" {
		return nil
	}

	return s.removeThreadLocked(ctx, parent)
}

func (s *deliveryService) findByAnyID(ctx context.Context, id string) (*Post, error) {
	matches, err := s.store.Query(ctx, Filter{ServerID: id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return matches[0], nil
	}
	post, err := s.store.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return post, nil
}

func (s *deliveryService) acquire(localID string, op operation) error {
	if localID == "" {
		return NewValidationError("localId", "local ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[localID]; busy {
		return ErrConflictingOperation
	}
	s.inFlight[localID] = op
	return nil
}

// release frees localID's slot. A post deleted remotely while the slot was held is
// removed before the slot is given up.
func (s *deliveryService) release(localID string) {
	s.mu.Lock()
	_, pending := s.pendingRemoval[localID]
	if pending {
		delete(s.pendingRemoval, localID)
		s.inFlight[localID] = opDelete
	} else {
		delete(s.inFlight, localID)
	}
	s.mu.Unlock()

	if pending {
		s.removeAfterRelease(localID)
	}
}

func (s *deliveryService) removeAfterRelease(localID string) {
	defer s.release(localID)

	ctx := context.Background()
	post, err := s.store.Get(ctx, localID)
	if err != nil {
		if !IsNotFound(err) {
			log.Printf("[POST-DELETE] Failed to load %s for deferred removal: %v", localID, err)
		}
		return
	}
	if err := s.removeThread(ctx, post); err != nil {
		log.Printf("[POST-DELETE] Deferred removal of %s failed: %v", localID, err)
		return
	}
	log.Printf("[POST-DELETE] Removed %s after its pending operation finished", localID)
}

func (s *deliveryService) holding(localID string) operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[localID]
}

func (s *deliveryService) now() time.Time {
	// PendingID carries millisecond precision, so CreatedAt does too
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

func (s *deliveryService) validateChannel(channel Channel) error {
	if err := s.validate.Struct(channel); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return NewValidationError("channel", fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return NewValidationError("channel", err.Error())
	}
	return nil
}

func (s *deliveryService) validateMessage(message string, hasFiles bool) error {
	if strings.TrimSpace(message) == "" && !hasFiles {
		return NewValidationError("message", "message cannot be empty")
	}
	if n := uniseg.GraphemeClusterCount(message); n > s.maxLength {
		return NewValidationError("message",
			fmt.Sprintf("message too long (%d graphemes, max %d)", n, s.maxLength))
	}
	return nil
}
