// Package listener runs the accept loop(s) that hand new connections to
// worker threads (spec §4.1's "listener/distributor" component). Grounded
// on gotcp-epoll's accept.go tcpAccept (a plain net.Listen + Accept loop,
// one goroutine, retrying on net.Error.Temporary) and on shaovie-goev's
// acceptor.go for the SO_REUSEPORT/SO_REUSEADDR socket options used in
// ReusePort mode.
package listener

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/evh/evh/config"
	"github.com/evh/evh/internal/dispatch"
)

// Target is the subset of *worker.Worker the listener needs; kept as an
// interface so tests can inject a fake without spinning up a real poller.
type Target interface {
	Enqueue(h *dispatch.Handoff)
	Index() int
}

// Listener owns the accept loop(s) for one bound address and distributes
// accepted connections across a fixed set of workers.
type Listener struct {
	cfg     *config.Config
	workers []Target
	pool    *dispatch.HandoffPool
	seq     *dispatch.Sequencer
	logger  zerolog.Logger

	next atomic.Uint64

	mu        sync.Mutex
	listeners []net.Listener
	wg        sync.WaitGroup
	closed    atomic.Bool
}

// New builds a Listener that round-robins (default mode) or independently
// fans out (ReusePort mode) across workers.
func New(cfg *config.Config, workers []Target, logger zerolog.Logger) *Listener {
	l := &Listener{
		cfg:     cfg,
		workers: workers,
		pool:    dispatch.NewHandoffPool(4096),
		logger:  logger,
	}
	if !cfg.ReusePort {
		l.seq = dispatch.NewSequencer(len(workers), 4096, func(payload interface{}) {
			h, ok := payload.(*dispatch.Handoff)
			if !ok {
				return
			}
			workers[h.WorkerIndex].Enqueue(h)
		})
	}
	return l
}

// Serve binds addr and starts accepting. It returns once the initial
// listener(s) are bound; accept loops run in background goroutines until
// Close is called.
func (l *Listener) Serve(addr string) error {
	if l.cfg.ReusePort {
		return l.serveReusePort(addr)
	}
	return l.serveShared(addr)
}

func (l *Listener) serveShared(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("evh: listen %s: %w", addr, err)
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, ln)
	l.mu.Unlock()

	l.wg.Add(1)
	go l.acceptLoop(ln, -1)
	return nil
}

// serveReusePort binds one independent listening socket per worker, each
// with SO_REUSEPORT set, so the kernel load-balances accepted connections
// across sockets itself (spec §9's decided round-robin/ReusePort split:
// ReusePort skips the distributor entirely).
func (l *Listener) serveReusePort(addr string) error {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				if sockErr == nil {
					sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	for i := range l.workers {
		ln, err := lc.Listen(context.Background(), "tcp", addr)
		if err != nil {
			return fmt.Errorf("evh: reuseport listen %s (worker %d): %w", addr, i, err)
		}
		l.mu.Lock()
		l.listeners = append(l.listeners, ln)
		l.mu.Unlock()
		l.wg.Add(1)
		go l.acceptLoop(ln, i)
	}
	return nil
}

// acceptLoop runs one net.Listener's Accept loop. pinnedWorker is -1 for
// shared mode (round-robin distribution via the sequencer) or a fixed
// worker index in ReusePort mode.
func (l *Listener) acceptLoop(ln net.Listener, pinnedWorker int) {
	defer l.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			if l.closed.Load() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			l.logger.Error().Err(err).Msg("accept failed, listener stopping")
			return
		}
		fd, ferr := ConnFd(c)
		if ferr != nil {
			l.logger.Error().Err(ferr).Msg("could not extract fd from accepted connection")
			c.Close()
			continue
		}
		h, err := l.pool.Get()
		if err != nil {
			l.logger.Error().Err(err).Msg("handoff pool exhausted, dropping connection")
			c.Close()
			continue
		}
		h.Raw = c
		h.Fd = fd
		h.Outbound = false

		idx := pinnedWorker
		if idx < 0 {
			idx = int(l.next.Add(1)-1) % len(l.workers)
		}
		h.WorkerIndex = idx

		if l.seq != nil {
			l.seq.Dispatch(idx, h)
		} else {
			l.workers[idx].Enqueue(h)
		}
	}
}

// ConnFd extracts the raw OS handle from a *net.TCPConn the same way
// gotcp-epoll's util.go GetConnFd does, so the fd can be registered
// directly with the poller. The extracted fd is already non-blocking (the
// net package always creates non-blocking sockets). A plaintext connection
// is never read or written through c again once handed to a worker; a TLS
// connection's Session reads and writes through c. Exported so the root
// Controller's AddClient (outbound dial) path can reuse it.
func ConnFd(c net.Conn) (int, error) {
	tcpConn := reflect.Indirect(reflect.ValueOf(c)).FieldByName("conn")
	if !tcpConn.IsValid() {
		return 0, fmt.Errorf("evh: unsupported net.Conn implementation %T", c)
	}
	fdVal := tcpConn.FieldByName("fd")
	pfdVal := reflect.Indirect(fdVal).FieldByName("pfd")
	sysfd := pfdVal.FieldByName("Sysfd")
	if !sysfd.IsValid() {
		return 0, fmt.Errorf("evh: unsupported net.Conn implementation %T", c)
	}
	return int(sysfd.Int()), nil
}

// Close stops every accept loop and closes the underlying listening
// sockets.
func (l *Listener) Close() error {
	l.closed.Store(true)
	l.mu.Lock()
	lns := l.listeners
	l.mu.Unlock()
	var firstErr error
	for _, ln := range lns {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.wg.Wait()
	if l.seq != nil {
		l.seq.Close()
	}
	return firstErr
}
