// Package dispatch holds the two off-hot-path helpers that move an
// accepted connection from the listener to its assigned worker: a pooled
// handoff struct (so the accept loop performs no heap allocation per
// connection, mirroring gotcp-epoll's pool.go wrapper around
// github.com/wuyongjia/pool) and a sequencer that preserves per-worker
// handoff order while letting the accept loop keep moving (see
// sequence.go).
package dispatch

import (
	"net"

	"github.com/wuyongjia/pool"

	"github.com/evh/evh/errs"
)

// Handoff is the payload carried from the listener's accept loop into a
// worker's adopt-connection command. Pooled the same way gotcp-epoll pools
// its *request dispatch structs (request.go, pool.go).
type Handoff struct {
	Raw         net.Conn
	Fd          int
	WorkerIndex int
	Outbound    bool // true for an explicit AddClient dial, false for accept

	// Adopted, if set, is called by the worker once adoption finishes: id
	// is the new connection id on success, or 0 with a non-nil err on
	// failure. Only AddClient's synchronous dial path sets this; the
	// listener's accept loop leaves it nil.
	Adopted func(id uint64, err error)
}

// HandoffPool recycles *Handoff values across accept cycles.
type HandoffPool struct {
	p *pool.Pool
}

// NewHandoffPool builds a pool with room for `capacity` outstanding
// handoffs — comfortably more than any single poll iteration's accept
// burst produces.
func NewHandoffPool(capacity int) *HandoffPool {
	p := pool.New(capacity, func() interface{} {
		return &Handoff{}
	})
	return &HandoffPool{p: p}
}

// Get returns a zeroed *Handoff from the pool.
func (hp *HandoffPool) Get() (*Handoff, error) {
	v, err := hp.p.Get()
	if err != nil {
		return nil, errs.Wrap(errs.KindPoller, err, "handoff pool exhausted")
	}
	h, ok := v.(*Handoff)
	if !ok {
		return nil, errs.New(errs.KindPoller, "handoff pool returned unexpected type", nil)
	}
	*h = Handoff{}
	return h, nil
}

// Put returns h to the pool.
func (hp *HandoffPool) Put(h *Handoff) {
	hp.p.Put(h)
}
