package dispatch

import (
	"github.com/wuyongjia/threadpool"
)

// Sequencer hands accepted connections from the listener to workers while
// preserving per-worker order: two handoffs bound for the same worker are
// delivered to that worker in the order the accept loop produced them, even
// though the sequencer itself may run the (cheap) handoff work across
// several goroutines. Grounded on gotcp-epoll's threadpool.go, which
// dispatches its OP_ACCEPT/OP_RECEIVE/OP_CLOSE payloads through a
// threadpool.PoolSequence keyed by a per-connection sequence id for the
// same reason: ordering without serializing everything onto one goroutine.
//
// This never touches a worker's callback invocation — spec §5 requires
// those to run strictly serially on the worker's own goroutine, so
// Sequencer's job stops at "deliver the accept handoff", which the worker
// then turns into an AdoptConnection command on its own command channel.
type Sequencer struct {
	pool *threadpool.PoolSequence
}

// NewSequencer starts a sequencer with the given worker-goroutine count and
// per-sequence queue depth. handle is invoked for every dispatched payload;
// it must not block.
func NewSequencer(threads, queueLength int, handle func(payload interface{})) *Sequencer {
	return &Sequencer{pool: threadpool.NewSequenceWithFunc(threads, queueLength, handle)}
}

// Dispatch enqueues payload under sequenceID (typically the target worker
// index), preserving order relative to other payloads under the same id.
func (s *Sequencer) Dispatch(sequenceID int, payload interface{}) {
	s.pool.Invoke(sequenceID, payload)
}

// Close stops the sequencer's goroutines.
func (s *Sequencer) Close() {
	s.pool.Close()
}
