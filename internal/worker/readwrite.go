package worker

import (
	"time"

	"github.com/evh/evh/internal/conn"
	"github.com/evh/evh/internal/poller"
)

// readUntilDrained implements spec §4.5 step 3 / §4.2's slab-exhaustion
// handling: read into the connection's chain until the socket reports
// EAGAIN, then invoke on_read once with whatever arrived. If the slab store
// runs out of memory mid-read, the callback still runs over what is already
// buffered (giving it a chance to clear slabs and free capacity) and the
// connection is parked in pausedReads for another attempt once capacity is
// available (spec §8's "clear a chunk to allow a paused read to resume").
func (w *Worker) readUntilDrained(c *conn.Conn) {
	exhausted := false
	for {
		if err := c.Chain.EnsureTail(w.slabs); err != nil {
			exhausted = true
			break
		}
		window := c.Chain.WriteWindow(w.slabs)
		n, err := readRaw(c, window)
		if n > 0 {
			c.Chain.Advance(n)
			c.Touch()
			w.counters.IncReads()
			w.counters.AddBytesIn(n)
		}
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			if isEINTR(err) {
				continue
			}
			w.deliverPendingRead(c)
			w.scheduleClose(c, err)
			return
		}
		if n == 0 {
			// Peer performed an orderly shutdown; deliver whatever is
			// buffered before closing.
			w.deliverPendingRead(c)
			w.scheduleClose(c, nil)
			return
		}
	}
	w.deliverPendingRead(c)
	if exhausted {
		w.pauseRead(c)
	}
}

func (w *Worker) deliverPendingRead(c *conn.Conn) {
	if !c.Chain.IsEmpty() || c.TriggerPending.Load() {
		c.TriggerPending.Store(false)
		w.invokeOnRead(c)
	}
}

func (w *Worker) pauseRead(c *conn.Conn) {
	for _, id := range w.pausedReads {
		if id == c.ID {
			return
		}
	}
	w.pausedReads = append(w.pausedReads, c.ID)
}

// resumePausedReads retries every connection parked on slab exhaustion,
// called once per loop iteration (spec §4.5 step 6). Connections still
// short on slabs re-pause themselves via pauseRead.
func (w *Worker) resumePausedReads() {
	if len(w.pausedReads) == 0 {
		return
	}
	pending := w.pausedReads
	w.pausedReads = w.pausedReads[:0]
	for _, id := range pending {
		c, ok := w.registry.ByID(id)
		if !ok || c.Closed() {
			continue
		}
		w.readUntilDrained(c)
	}
}

// flushQueue drains as much of c's outbound queue as the socket will accept
// without blocking (spec §4.4). It toggles the poller's writable interest
// so the worker only wakes for EPOLLOUT while backpressured.
func (w *Worker) flushQueue(c *conn.Conn) {
	for {
		entry, ok := c.Write.Front()
		if !ok {
			if c.Write.ShouldCloseAfterFlush() {
				w.scheduleClose(c, nil)
				return
			}
			w.poll.Modify(c.Fd, poller.Readable)
			return
		}
		if !entry.SendAt.IsZero() && time.Now().Before(entry.SendAt) {
			return
		}
		n, err := writeRaw(c, entry.Remaining())
		if n > 0 {
			entry.Cursor += n
			w.counters.IncWrites()
			w.counters.AddBytesOut(n)
			c.Touch()
		}
		if err != nil {
			if isWouldBlock(err) {
				w.poll.Modify(c.Fd, poller.Readable|poller.Writable)
				return
			}
			if isEINTR(err) {
				continue
			}
			w.scheduleClose(c, err)
			return
		}
		if entry.Done() {
			c.Write.RemoveFront()
		}
	}
}
