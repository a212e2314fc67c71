package conn

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/evh/evh/internal/slab"
	"github.com/evh/evh/tls"
)

// Role is a tagged variant over the three ways a connection comes into
// being (spec §3), re-expressed as a fixed enum rather than a trait
// hierarchy per spec §9's guidance on closed-set variants.
type Role int

const (
	RoleServerListen Role = iota
	RoleServerAccepted
	RoleOutboundClient
)

func (r Role) String() string {
	switch r {
	case RoleServerListen:
		return "server-listen"
	case RoleServerAccepted:
		return "server-accepted"
	case RoleOutboundClient:
		return "outbound-client"
	default:
		return "unknown"
	}
}

// Conn is the per-socket connection record (spec §3). It is mutated only by
// its owning worker thread, except for Write (the outbound queue) and the
// closed flag, which are safe for cross-thread access.
type Conn struct {
	ID          uint64
	Fd          int
	Role        Role
	ThreadIndex int

	TLS tls.Session // nil for plaintext connections

	// Raw holds the net.Conn the fd was extracted from (the listener's
	// accepted connection, or AddClient's dialed one). Fd is used directly
	// for syscall-level reads/writes and poller registration, but Raw must
	// still be kept reachable for as long as the connection is open: once
	// the *net.TCPConn value backing it becomes unreachable, Go's runtime
	// finalizer closes the underlying socket out from under the worker.
	// TLS connections don't need this for the same reason separately — c.TLS
	// already keeps the same net.Conn reachable — but Raw is set
	// unconditionally so close-on-teardown has one consistent path.
	Raw net.Conn

	Chain slab.Chain // chained read-slab buffer, worker-owned

	Write *WriteQueue

	closed       atomic.Bool
	lastActivity atomic.Int64 // unix millis

	// TriggerPending records a trigger_on_read() request (spec §4.4): the
	// next time the worker delivers reads for this connection it invokes
	// on-read even with no new bytes. Setting it does not by itself
	// schedule a read.
	TriggerPending atomic.Bool

	// Attachment is an opaque pointer for user state; never touched by evh.
	Attachment any
}

// New constructs a Conn record in the open state with an empty read chain
// and write queue.
func New(id uint64, fd int, role Role, threadIndex int) *Conn {
	c := &Conn{
		ID:          id,
		Fd:          fd,
		Role:        role,
		ThreadIndex: threadIndex,
		Chain:       slab.Empty(),
		Write:       NewWriteQueue(),
	}
	c.Touch()
	return c
}

// Touch records the current time as the connection's last-activity
// timestamp (spec §3), read by the housekeeper to detect idle connections.
func (c *Conn) Touch() {
	c.lastActivity.Store(time.Now().UnixMilli())
}

// LastActivityMillis returns the last-activity unix-millis timestamp.
func (c *Conn) LastActivityMillis() int64 {
	return c.lastActivity.Load()
}

// IdleFor reports how long the connection has been idle.
func (c *Conn) IdleFor() time.Duration {
	last := time.UnixMilli(c.lastActivity.Load())
	return time.Since(last)
}

// MarkClosed sets the close flag; safe to call from any thread. Returns
// true if this call is the one that transitioned the connection to closed.
func (c *Conn) MarkClosed() bool {
	return c.closed.CompareAndSwap(false, true)
}

// Closed reports whether the close flag has been observed set.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}
