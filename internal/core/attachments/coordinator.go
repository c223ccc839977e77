package attachments

import (
	"context"
	"errors"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"

	"Courier/internal/core/posts"
)

// DefaultMaxConcurrent bounds simultaneous uploads per coordinator
const DefaultMaxConcurrent = 4

// Uploader sends one attachment to the server.
// progress receives fractions in [0,1] while the payload is transmitted.
type Uploader interface {
	UploadFile(ctx context.Context, item *Item, channelID string, progress func(fraction float64)) (*posts.FileRecord, error)
}

// ItemResult is the outcome of one upload. Err is nil on success.
type ItemResult struct {
	Item *Item
	File *posts.FileRecord
	Err  error
}

// Callbacks receive batch events. Each may be nil and may be invoked from any goroutine.
type Callbacks struct {
	// OnItem is called once per item that succeeded or failed.
	// Items cancelled through Cancel are not reported.
	OnItem func(ItemResult)

	// OnProgress reports an item's fraction together with its current
	// position in the active set
	OnProgress func(value float64, index int)

	// OnFinished is called exactly once when every item of the batch is done
	OnFinished func()
}

// Batch tracks a single Upload call
type Batch struct {
	done    chan struct{}
	results []ItemResult
	mu      sync.Mutex
}

// Done is closed after OnFinished has returned
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch finishes or ctx is done
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the reported outcomes in completion order
func (b *Batch) Results() []ItemResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ItemResult, len(b.results))
	copy(out, b.results)
	return out
}

func (b *Batch) record(r ItemResult) {
	b.mu.Lock()
	b.results = append(b.results, r)
	b.mu.Unlock()
}

type entry struct {
	item     *Item
	cancel   context.CancelFunc
	uploaded bool
}

// Coordinator drives concurrent uploads for one composer session and keeps the
// files that completed so a send can attach them. It implements posts.AttachmentSession.
// Batches on one coordinator must not overlap.
type Coordinator struct {
	store     *Store
	uploader  Uploader
	sem       *semaphore.Weighted
	active    []*entry
	completed []posts.FileRecord
	mu        sync.Mutex
}

// NewCoordinator creates a coordinator registering items in store.
// maxConcurrent <= 0 selects DefaultMaxConcurrent.
func NewCoordinator(store *Store, uploader Uploader, maxConcurrent int) *Coordinator {
	if store == nil {
		store = NewStore()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Coordinator{
		store:    store,
		uploader: uploader,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Store returns the attachment registry fed by this coordinator
func (c *Coordinator) Store() *Store {
	return c.store
}

// Upload starts one upload per item and returns immediately.
// OnFinished fires once every item has succeeded, failed or been cancelled,
// including when items is empty.
func (c *Coordinator) Upload(ctx context.Context, items []*Item, channelID string, cb Callbacks) *Batch {
	batch := &Batch{done: make(chan struct{})}
	b := newBarrier(len(items), func() {
		if cb.OnFinished != nil {
			cb.OnFinished()
		}
		close(batch.done)
	})

	for _, item := range items {
		if err := item.Validate(); err != nil {
			c.report(batch, cb, ItemResult{Item: item, Err: err})
			uploadsTotal.WithLabelValues("rejected").Inc()
			b.leave()
			continue
		}

		itemCtx, cancel := context.WithCancel(ctx)
		e := &entry{item: item, cancel: cancel}

		c.mu.Lock()
		if c.indexOf(item.ID) >= 0 {
			c.mu.Unlock()
			cancel()
			log.Printf("[UPLOAD] Item %s is already uploading, skipping", item.ID)
			b.leave()
			continue
		}
		c.active = append(c.active, e)
		c.mu.Unlock()

		if err := c.store.Register(item); err != nil {
			log.Printf("[UPLOAD] Failed to register item %s: %v", item.ID, err)
		}

		go func() {
			defer b.leave()
			c.run(itemCtx, e, channelID, batch, cb)
		}()
	}

	b.check()
	return batch
}

func (c *Coordinator) run(ctx context.Context, e *entry, channelID string, batch *Batch, cb Callbacks) {
	defer e.cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.finish(e, nil, err, batch, cb)
		return
	}
	defer c.sem.Release(1)

	uploadsInFlight.Inc()
	file, err := c.uploader.UploadFile(ctx, e.item, channelID, func(fraction float64) {
		c.progress(e, fraction, cb)
	})
	uploadsInFlight.Dec()

	c.finish(e, file, err, batch, cb)
}

func (c *Coordinator) finish(e *entry, file *posts.FileRecord, err error, batch *Batch, cb Callbacks) {
	c.mu.Lock()
	pos := c.position(e)
	if pos < 0 {
		// Cancelled while in flight; whatever the transport returned is discarded
		c.mu.Unlock()
		uploadsTotal.WithLabelValues("cancelled").Inc()
		return
	}
	if err == nil && file == nil {
		err = errors.New("uploader returned no file")
	}
	if err != nil {
		c.active = append(c.active[:pos], c.active[pos+1:]...)
	} else {
		if file.SourceItemID == "" {
			file.SourceItemID = e.item.ID
		}
		e.uploaded = true
		c.completed = upsertSource(c.completed, *file)
	}
	c.mu.Unlock()

	if err != nil {
		log.Printf("[UPLOAD] Item %s (%s) failed: %v", e.item.ID, e.item.Name, err)
		uploadsTotal.WithLabelValues("failure").Inc()
	} else {
		uploadsTotal.WithLabelValues("success").Inc()
	}
	c.report(batch, cb, ItemResult{Item: e.item, File: file, Err: err})
}

func (c *Coordinator) report(batch *Batch, cb Callbacks, r ItemResult) {
	batch.record(r)
	if cb.OnItem != nil {
		cb.OnItem(r)
	}
}

func (c *Coordinator) progress(e *entry, fraction float64, cb Callbacks) {
	if cb.OnProgress == nil {
		return
	}
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	c.mu.Lock()
	index := c.position(e)
	c.mu.Unlock()
	if index < 0 {
		return
	}
	cb.OnProgress(fraction, index)
}

// Cancel stops the item's upload and forgets it, including any file it already produced
func (c *Coordinator) Cancel(id string) {
	c.mu.Lock()
	var cancel context.CancelFunc
	if pos := c.indexOf(id); pos >= 0 {
		cancel = c.active[pos].cancel
		c.active = append(c.active[:pos], c.active[pos+1:]...)
	}
	c.completed = removeSource(c.completed, id)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.store.Unregister(id)
}

// Uploaded reports whether the item finished uploading and is still attached
func (c *Coordinator) Uploaded(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos := c.indexOf(id)
	return pos >= 0 && c.active[pos].uploaded
}

// Active returns the items currently in the active set, in submission order
func (c *Coordinator) Active() []*Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Item, 0, len(c.active))
	for _, e := range c.active {
		out = append(out, e.item)
	}
	return out
}

// CompletedFiles returns the files uploaded so far, in completion order.
// Items that uploaded identical content share one entry.
func (c *Coordinator) CompletedFiles() []posts.FileRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return posts.MergeFiles(nil, c.completed...)
}

// CancelPending cancels every item that has not finished uploading
func (c *Coordinator) CancelPending() {
	c.mu.Lock()
	var pending []string
	for _, e := range c.active {
		if !e.uploaded {
			pending = append(pending, e.item.ID)
		}
	}
	c.mu.Unlock()

	for _, id := range pending {
		log.Printf("[UPLOAD] Cancelling unfinished item %s", id)
		c.Cancel(id)
	}
}

// Reset forgets every item and completed file and clears the attachment registry
func (c *Coordinator) Reset() {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.completed = nil
	c.mu.Unlock()

	for _, e := range active {
		e.cancel()
	}
	c.store.Clear()
}

// position must be called with mu held
func (c *Coordinator) position(e *entry) int {
	for i, candidate := range c.active {
		if candidate == e {
			return i
		}
	}
	return -1
}

// indexOf must be called with mu held
func (c *Coordinator) indexOf(id string) int {
	for i, e := range c.active {
		if e.item.ID == id {
			return i
		}
	}
	return -1
}

// completed keeps one record per item so cancelling an item never drops a file
// another item still provides
func upsertSource(files []posts.FileRecord, file posts.FileRecord) []posts.FileRecord {
	for i, f := range files {
		if f.SourceItemID == file.SourceItemID {
			files[i] = file
			return files
		}
	}
	return append(files, file)
}

func removeSource(files []posts.FileRecord, itemID string) []posts.FileRecord {
	out := files[:0]
	for _, f := range files {
		if f.SourceItemID != itemID {
			out = append(out, f)
		}
	}
	return out
}

var _ posts.AttachmentSession = (*Coordinator)(nil)
