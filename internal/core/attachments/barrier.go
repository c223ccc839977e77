package attachments

import "sync"

// barrier runs onDone exactly once after leave has been called n times.
// A barrier created with n == 0 fires on the first call to check.
type barrier struct {
	onDone  func()
	pending int
	fired   bool
	mu      sync.Mutex
}

func newBarrier(n int, onDone func()) *barrier {
	return &barrier{pending: n, onDone: onDone}
}

// leave records one participant as finished. Extra calls are ignored.
func (b *barrier) leave() {
	b.mu.Lock()
	if b.pending > 0 {
		b.pending--
	}
	fire := b.pending == 0 && !b.fired
	if fire {
		b.fired = true
	}
	b.mu.Unlock()

	if fire {
		b.onDone()
	}
}

// check fires the barrier if nobody is left to wait for
func (b *barrier) check() {
	b.mu.Lock()
	fire := b.pending == 0 && !b.fired
	if fire {
		b.fired = true
	}
	b.mu.Unlock()

	if fire {
		b.onDone()
	}
}
