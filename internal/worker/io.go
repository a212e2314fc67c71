package worker

import (
	"errors"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/evh/evh/internal/conn"
)

// errWouldBlock is the sentinel readRaw/writeRaw report in place of EAGAIN,
// for both the raw-fd path (genuinely EAGAIN) and the TLS path (a deadline
// forced by readRaw/writeRaw to probe non-blocking readiness — see
// isWouldBlock).
var errWouldBlock = errors.New("evh: would block")

// readRaw performs one non-blocking read attempt into buf. For a plaintext
// connection it reads the raw fd directly. For a TLS connection it reads
// through the Session, which shares the same underlying socket: the
// handshake (maybeHandshakeTLS in adopt.go) wraps the very net.Conn the fd
// was extracted from, so poller readiness observed on the raw fd
// correctly predicts readiness through the Session. Since crypto/tls exposes only
// blocking semantics, a zero-value-now read deadline is set first so an
// empty socket returns immediately with a timeout error instead of parking
// the worker goroutine.
func readRaw(c *conn.Conn, buf []byte) (int, error) {
	if c.TLS != nil {
		c.TLS.SetReadDeadline(time.Now())
		n, err := c.TLS.Read(buf)
		if err != nil && isTimeout(err) {
			return n, errWouldBlock
		}
		return n, err
	}
	n, err := unix.Read(c.Fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// writeRaw performs one non-blocking write attempt, mirroring readRaw.
func writeRaw(c *conn.Conn, buf []byte) (int, error) {
	if c.TLS != nil {
		c.TLS.SetWriteDeadline(time.Now())
		n, err := c.TLS.Write(buf)
		if err != nil && isTimeout(err) {
			return n, errWouldBlock
		}
		return n, err
	}
	n, err := unix.Write(c.Fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isWouldBlock(err error) bool {
	return errors.Is(err, errWouldBlock)
}

func isEINTR(err error) bool {
	return errors.Is(err, unix.EINTR)
}

func closeFd(fd int) { unix.Close(fd) }

// closeRaw closes a connection's underlying socket exactly once, preferring
// the higher-level handle that's actually reachable: c.TLS.Close() already
// closes the net.Conn it wraps, c.Raw.Close() closes the fd and lets Go's
// net package release the rest of its TCPConn state, and a raw fd close is
// only the fallback for a connection that was never given a net.Conn (e.g.
// a test-constructed conn.Conn).
func closeRaw(c *conn.Conn) {
	switch {
	case c.TLS != nil:
		c.TLS.Close()
	case c.Raw != nil:
		c.Raw.Close()
	default:
		closeFd(c.Fd)
	}
}
