package worker

import "github.com/evh/evh/internal/dispatch"

// commandKind tags the small, fixed set of messages a worker accepts on its
// command channel (spec §9: "a bounded command channel per worker, drained
// at the top of every loop iteration before calling wait").
type commandKind int

const (
	cmdAdopt commandKind = iota
	cmdWriteReady
	cmdShutdown
)

// command is the worker's cross-thread mailbox entry. Only one of Handoff /
// ConnID is populated, depending on Kind.
type command struct {
	kind    commandKind
	handoff *dispatch.Handoff
	connID  uint64
}

// NotifyWriteReady implements conn.Notifier: a foreign thread (another
// worker's callback, or a caller holding a directory-routed WriteHandle)
// calls this after enqueueing bytes for a connection owned by this worker.
// It never touches the connection or its socket directly — spec §5 —, only
// queues a command and wakes the poller.
func (w *Worker) NotifyWriteReady(connID uint64) {
	select {
	case w.commands <- command{kind: cmdWriteReady, connID: connID}:
	default:
		// Channel full: a wake is still delivered, and the connection's
		// pending bytes remain in its own WriteQueue, so nothing is lost —
		// the next flush of this connection (a writable event on it, or a
		// later write-ready command for it) picks them up. Dropping here
		// only avoids blocking the caller.
	}
	w.waker.Wake()
}

// enqueueAdopt hands an accepted or dialed connection to this worker. Called
// from the listener (through dispatch.Sequencer in shared mode, directly
// from the accept loop in ReusePort mode) or from Controller.AddClient,
// never from the worker itself.
func (w *Worker) enqueueAdopt(h *dispatch.Handoff) {
	w.commands <- command{kind: cmdAdopt, handoff: h}
	w.waker.Wake()
}

// RequestShutdown asks the worker to stop accepting new work and exit once
// every owned connection has drained or been closed.
func (w *Worker) RequestShutdown() {
	select {
	case w.commands <- command{kind: cmdShutdown}:
	default:
	}
	w.waker.Wake()
}

// drainCommands processes every command currently queued without blocking,
// per spec §4.5 step 1.
func (w *Worker) drainCommands() {
	for {
		select {
		case cmd := <-w.commands:
			w.handleCommand(cmd)
		default:
			return
		}
	}
}

func (w *Worker) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdAdopt:
		w.adopt(cmd.handoff)
	case cmdWriteReady:
		if c, ok := w.registry.ByID(cmd.connID); ok && !c.Closed() {
			w.flushQueue(c)
		}
	case cmdShutdown:
		w.stopping.Store(true)
	}
}
