package worker

import (
	"github.com/evh/evh/internal/conn"
	"github.com/evh/evh/internal/slab"
)

// ReadContext is handed to the on-read callback (spec §4.3/§4.4). It exposes
// the connection's chunk iterator plus the two clear operations; both close
// over the worker's slab store so the callback never sees a *slab.Store
// directly.
type ReadContext struct {
	w *Worker
	c *conn.Conn
}

// Chunks returns a fresh iterator over the connection's read chain, walking
// from the head — restartable on every callback invocation, per spec §4.3.
func (rc *ReadContext) Chunks() *slab.ChunkIter {
	return rc.c.Chain.Chunks(rc.w.slabs)
}

// ClearThrough frees every slab up to and including the one holding chunk,
// making that memory available for reuse and permitting any read the worker
// had paused for slab exhaustion to resume.
func (rc *ReadContext) ClearThrough(chunk slab.Chunk) {
	rc.c.Chain.ClearThrough(rc.w.slabs, chunk)
}

// ClearAll frees the connection's entire read chain.
func (rc *ReadContext) ClearAll() {
	rc.c.Chain.ClearAll(rc.w.slabs)
}

// Write returns a WriteHandle bound to this callback's own worker thread:
// writes attempt a direct non-blocking flush rather than a cross-thread
// wakeup (spec §4.4).
func (rc *ReadContext) Write() conn.WriteHandle {
	return rc.w.localWriteHandle(rc.c)
}

// ThreadContext is handed to the on-housekeeper callback (spec §4.7): the
// worker's index, an iterator over every connection it currently owns, and
// the ability to fetch a write handle or force-close any of them.
type ThreadContext struct {
	w *Worker
}

// ThreadIndex returns this worker's zero-based index.
func (tc *ThreadContext) ThreadIndex() int { return tc.w.index }

// EachConnection calls fn once per connection this worker currently owns.
// fn must not close over state that outlives the callback invocation.
func (tc *ThreadContext) EachConnection(fn func(*conn.Conn)) {
	tc.w.registry.Each(fn)
}

// Len reports how many connections this worker currently owns.
func (tc *ThreadContext) Len() int { return tc.w.registry.Len() }

// WriteHandleFor returns a local WriteHandle for c, which must be owned by
// this worker (e.g. obtained from EachConnection).
func (tc *ThreadContext) WriteHandleFor(c *conn.Conn) conn.WriteHandle {
	return tc.w.localWriteHandle(c)
}

// Close closes c right away: it is deregistered and on-close fires before
// Close returns. Registry removal and the socket close happen in the
// worker's reap step at the end of the current loop iteration.
func (tc *ThreadContext) Close(c *conn.Conn) {
	tc.w.scheduleClose(c, nil)
}
