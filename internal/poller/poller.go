// Package poller wraps the OS readiness mechanism (epoll on Linux, kqueue
// on BSD/macOS) behind one small portable interface, per spec §4.1.
//
// Grounded on gotcp-epoll's direct golang.org/x/sys/unix epoll calls
// (epoll.go, connection.go, listen.go) and on searchktools-fast-server's
// core/poller package for the cross-platform epoll/kqueue split.
package poller

import "github.com/evh/evh/errs"

// Interest is a bitmask of readiness conditions to watch for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event is one readiness notification returned from Wait.
type Event struct {
	Token    uint64
	Readable bool
	Writable bool
	Hangup   bool
}

// Poller is the portable readiness-notification interface every platform
// adapter implements. Edge-triggered semantics are required where the OS
// supports it (spec §4.1): Wait does not repeat an event for bytes already
// signalled ready, and the caller must read until EAGAIN before waiting
// again.
type Poller interface {
	// Register begins monitoring fd for the given interest, tagging every
	// event it produces with token (spec §4.1: "typically the connection id
	// or a packed slot index").
	Register(fd int, interest Interest, token uint64) error
	// Modify updates fd's interest mask without unregistering it.
	Modify(fd int, interest Interest) error
	// Deregister stops monitoring fd. Idempotent on an already-closed fd.
	Deregister(fd int) error
	// Wait blocks up to timeoutMillis (0 = non-blocking) and fills events
	// with ready notifications, returning the count filled.
	Wait(timeoutMillis int, events []Event) (int, error)
	// Close releases the underlying OS resource.
	Close() error
}

// New constructs the platform-appropriate Poller.
func New(maxEvents int) (Poller, error) {
	if maxEvents <= 0 {
		return nil, errs.ConfigurationError("poller maxEvents must be > 0")
	}
	return newPlatformPoller(maxEvents)
}

// WakeToken is the reserved token value used for the cross-thread
// notification registered by every platform adapter (spec §9: "Register it
// with the poller so wait returns promptly when commands arrive"). No real
// connection is ever assigned this id — connection ids start at 1.
const WakeToken uint64 = ^uint64(0)

// Waker is implemented by every platform Poller; Wake causes the next (or
// an in-progress) Wait call to return an event carrying WakeToken.
type Waker interface {
	Wake() error
}
