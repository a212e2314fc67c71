package conn

import "github.com/evh/evh/errs"

// Notifier is implemented by a worker; a WriteHandle vended to a foreign
// thread uses it to wake the owning worker once bytes are enqueued (spec
// §4.4: "wake the owning worker via a cross-thread notification").
type Notifier interface {
	NotifyWriteReady(connID uint64)
}

// WriteHandle is the cloneable, thread-safe cursor onto a connection's
// outbound queue described in spec §4.4. It is a small value type (two
// pointers and a closure) — copying it is how "clone" works.
//
// A WriteHandle obtained from inside a callback running on the connection's
// own worker carries localFlush instead of a Notifier: same-thread writes
// attempt a direct non-blocking send right away rather than round-tripping
// through a wakeup (spec §4.4: "if the queue was empty and the connection
// is currently writable, attempts a direct non-blocking send"). A
// WriteHandle obtained for a connection on another worker (spec §8
// scenario 4, "cross-thread write") always enqueues and notifies; per
// spec §5 it never touches the socket directly.
type WriteHandle struct {
	c          *Conn
	notifier   Notifier
	localFlush func(*Conn)
}

// NewWriteHandle builds a cross-thread-safe handle that wakes notifier.
func NewWriteHandle(c *Conn, notifier Notifier) WriteHandle {
	return WriteHandle{c: c, notifier: notifier}
}

// NewLocalWriteHandle builds a handle for use from the connection's own
// worker thread; flush is invoked synchronously on every Write/Close.
func NewLocalWriteHandle(c *Conn, flush func(*Conn)) WriteHandle {
	return WriteHandle{c: c, localFlush: flush}
}

// ConnID returns the id of the connection this handle targets.
func (h WriteHandle) ConnID() uint64 {
	if h.c == nil {
		return 0
	}
	return h.c.ID
}

// Write enqueues bytes for delivery, in enqueue order relative to other
// writes on this same handle (or its clones).
func (h WriteHandle) Write(b []byte) error {
	if h.c == nil || h.c.Closed() {
		return errs.ErrClosed
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	h.c.Write.Enqueue(&PendingWrite{Data: cp})
	h.wake()
	return nil
}

// Close marks close-after-flush: the connection closes once every queued
// byte has been delivered. Idempotent.
func (h WriteHandle) Close() error {
	if h.c == nil {
		return errs.ErrClosed
	}
	if h.c.Write.IsEmpty() {
		h.c.MarkClosed()
	} else {
		h.c.Write.MarkCloseAfterFlush()
	}
	h.wake()
	return nil
}

// CloseNow discards any pending writes and closes immediately.
func (h WriteHandle) CloseNow() error {
	if h.c == nil {
		return errs.ErrClosed
	}
	h.c.Write.DiscardAll()
	h.c.MarkClosed()
	h.wake()
	return nil
}

// TriggerOnRead sets c.TriggerPending and wakes the owning worker. The
// worker consumes the flag the next time it delivers reads for this
// connection (a readable or hangup event, or a read resumed after slab
// exhaustion) and invokes on-read then even if no new bytes arrived. The
// wake by itself does not invoke on-read.
func (h WriteHandle) TriggerOnRead() {
	if h.c == nil {
		return
	}
	h.c.TriggerPending.Store(true)
	h.wake()
}

func (h WriteHandle) wake() {
	if h.localFlush != nil {
		h.localFlush(h.c)
		return
	}
	if h.notifier != nil {
		h.notifier.NotifyWriteReady(h.c.ID)
	}
}
