// Package conn implements the per-connection record, its read-slab chain,
// and the mutex-guarded outbound write queue (spec §3, §4.4). The write
// queue is the one connection field touched from threads other than the
// owner (spec §5).
package conn

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// PendingWrite is a queued outbound byte sequence with a delivery cursor, a
// close-after-flush flag, and an optional scheduled send time (spec §3).
type PendingWrite struct {
	Data            []byte
	Cursor          int
	CloseAfterFlush bool
	SendAt          time.Time // zero value means "send immediately"
}

// Remaining returns the undelivered tail of Data.
func (p *PendingWrite) Remaining() []byte { return p.Data[p.Cursor:] }

// Done reports whether every byte has been delivered to the kernel.
func (p *PendingWrite) Done() bool { return p.Cursor >= len(p.Data) }

// WriteQueue is a FIFO of PendingWrite entries guarded by a mutex, backed
// by eapache/queue instead of a hand-rolled ring buffer (DESIGN.md: the
// momentics-hioload-ws pack's queue choice, reused here for the one
// genuinely cross-thread-shared structure in the connection record).
type WriteQueue struct {
	mu              sync.Mutex
	q               *queue.Queue
	closeAfterFlush bool
}

// NewWriteQueue returns an empty queue.
func NewWriteQueue() *WriteQueue {
	return &WriteQueue{q: queue.New()}
}

// Enqueue appends entry to the tail of the queue.
func (w *WriteQueue) Enqueue(entry *PendingWrite) {
	w.mu.Lock()
	w.q.Add(entry)
	w.mu.Unlock()
}

// Len returns the number of entries currently queued.
func (w *WriteQueue) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.q.Length()
}

// Front returns the oldest entry without removing it.
func (w *WriteQueue) Front() (*PendingWrite, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.q.Length() == 0 {
		return nil, false
	}
	return w.q.Peek().(*PendingWrite), true
}

// RemoveFront drops the oldest entry once it has been fully delivered.
func (w *WriteQueue) RemoveFront() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.q.Length() > 0 {
		w.q.Remove()
	}
}

// MarkCloseAfterFlush records that the connection should close once the
// queue drains (write handle's close(), spec §4.4).
func (w *WriteQueue) MarkCloseAfterFlush() {
	w.mu.Lock()
	w.closeAfterFlush = true
	w.mu.Unlock()
}

// ShouldCloseAfterFlush reports the close-after-flush flag.
func (w *WriteQueue) ShouldCloseAfterFlush() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeAfterFlush
}

// DiscardAll empties the queue immediately (write handle's close_now()).
func (w *WriteQueue) DiscardAll() {
	w.mu.Lock()
	w.q = queue.New()
	w.mu.Unlock()
}

// IsEmpty reports whether the queue currently holds no entries.
func (w *WriteQueue) IsEmpty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.q.Length() == 0
}
