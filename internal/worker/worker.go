// Package worker implements one EVH worker thread: an edge-triggered poll
// loop that owns a slab store, a thread-local connection registry, and a
// single goroutine locked to an OS thread (spec §4.5/§5). It is the engine
// room grounded on gotcp-epoll's epoll.go main loop, generalized from
// gotcp-epoll's single fixed protocol handler to the spec's five-callback,
// chunk-iteration model, with the housekeeper/stats ticks from
// shaovie-goev's reactor.go folded into the same loop. The loop does not
// close idle connections itself; that is left to the user housekeeper.
package worker

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/evh/evh/config"
	"github.com/evh/evh/internal/conn"
	"github.com/evh/evh/internal/dispatch"
	"github.com/evh/evh/internal/poller"
	"github.com/evh/evh/internal/registry"
	"github.com/evh/evh/internal/slab"
	"github.com/evh/evh/internal/stats"
	"github.com/evh/evh/tls"
)

const tlsHandshakeTimeout = 10 * time.Second

// maxEventsPerWait bounds how many readiness events a single poller.Wait
// call returns; sized generously above any one worker's expected connection
// share.
const maxEventsPerWait = 1024

// Worker owns one poll loop, one slab store, and the connections currently
// assigned to it. Every field except the command channel and the fields
// conn.Conn itself documents as cross-thread-safe is touched only from the
// worker's own goroutine (spec §5).
type Worker struct {
	index int
	cfg   *config.Config

	poll  poller.Poller
	waker poller.Waker

	registry  *registry.ThreadRegistry
	directory *registry.Directory
	slabs     *slab.Store

	handoffPool *dispatch.HandoffPool
	idGen       *atomic.Uint64

	tlsEngine tls.Engine
	callbacks Callbacks
	logger    zerolog.Logger

	counters   stats.Counters
	aggregator *stats.Aggregator

	commands chan command
	stopping atomic.Bool
	done     chan struct{}

	houseKeeperFreq time.Duration
	statsFreq       time.Duration
	lastHouseKeeper time.Time
	lastStats       time.Time

	pausedReads  []uint64
	pendingClose []uint64
	eventsBuf    []poller.Event
}

// New builds a worker ready to Start. idGen is a connection-id counter
// shared process-wide across every worker (spec §3: ids are unique for the
// lifetime of the process). directory is the shared cross-worker lookup
// table (spec §8 scenario 4); it may be nil if cross-thread write handles
// are never required.
func New(
	index int,
	cfg *config.Config,
	callbacks Callbacks,
	aggregator *stats.Aggregator,
	idGen *atomic.Uint64,
	directory *registry.Directory,
	tlsEngine tls.Engine,
	logger zerolog.Logger,
) (*Worker, error) {
	p, err := poller.New(maxEventsPerWait)
	if err != nil {
		return nil, err
	}
	waker, _ := p.(poller.Waker)
	slabs, err := slab.New(cfg.ReadSlabSize, cfg.ReadSlabCount, cfg.Debug)
	if err != nil {
		p.Close()
		return nil, err
	}
	commandCap := cfg.ReadSlabCount
	if commandCap < 256 {
		commandCap = 256
	}
	w := &Worker{
		index:           index,
		cfg:             cfg,
		poll:            p,
		waker:           waker,
		registry:        registry.NewThreadRegistry(),
		directory:       directory,
		slabs:           slabs,
		handoffPool:     dispatch.NewHandoffPool(commandCap),
		idGen:           idGen,
		tlsEngine:       tlsEngine,
		callbacks:       callbacks,
		logger:          logger.With().Int("worker", index).Logger(),
		aggregator:      aggregator,
		commands:        make(chan command, commandCap),
		done:            make(chan struct{}),
		houseKeeperFreq: time.Duration(cfg.HouseKeeperFreqMillis) * time.Millisecond,
		statsFreq:       time.Duration(cfg.StatsUpdateMillis) * time.Millisecond,
	}
	return w, nil
}

// Start runs the worker's poll loop on a dedicated, OS-thread-locked
// goroutine (spec §5: "one goroutine per worker... locked to an OS
// thread"). Start returns immediately; Stop (via RequestShutdown) and Wait
// manage the loop's lifetime.
func (w *Worker) Start() {
	go w.run()
}

// Wait blocks until the worker's loop has exited.
func (w *Worker) Wait() { <-w.done }

// Enqueue hands an accepted or dialed connection to this worker. Safe to
// call from any goroutine (typically the listener).
func (w *Worker) Enqueue(h *dispatch.Handoff) { w.enqueueAdopt(h) }

// Index returns this worker's zero-based slot.
func (w *Worker) Index() int { return w.index }

// Len reports the number of connections this worker currently owns.
func (w *Worker) Len() int { return w.registry.Len() }

func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)
	defer w.poll.Close()

	now := time.Now()
	w.lastHouseKeeper = now
	w.lastStats = now

	for {
		w.drainCommands()
		if w.stopping.Load() {
			w.forceCloseAll()
			w.reapClosed()
			if w.registry.Len() == 0 {
				return
			}
		}
		if w.eventsBuf == nil {
			w.eventsBuf = make([]poller.Event, maxEventsPerWait)
		}
		n, err := w.poll.Wait(w.cfg.TimeoutMillis, w.eventsBuf)
		if err != nil {
			w.logger.Error().Err(err).Msg("poll wait failed")
			w.invokePanic(0, err)
			return
		}
		for i := 0; i < n; i++ {
			w.handleEvent(w.eventsBuf[i])
		}

		now = time.Now()
		if now.Sub(w.lastHouseKeeper) >= w.houseKeeperFreq {
			w.runHousekeeper()
			w.lastHouseKeeper = now
		}
		if now.Sub(w.lastStats) >= w.statsFreq {
			w.publishStats()
			w.lastStats = now
		}
		w.resumePausedReads()
		w.reapClosed()
	}
}

func (w *Worker) handleEvent(ev poller.Event) {
	if ev.Token == poller.WakeToken {
		return
	}
	c, ok := w.registry.ByID(ev.Token)
	if !ok {
		return
	}
	if c.Closed() {
		return
	}
	if ev.Hangup {
		w.readUntilDrained(c) // drain whatever arrived before the peer closed
		if !c.Closed() {
			w.scheduleClose(c, nil)
		}
		return
	}
	if ev.Readable {
		w.readUntilDrained(c)
	}
	if ev.Writable && !c.Closed() {
		w.flushQueue(c)
	}
}

// localWriteHandle returns a WriteHandle whose writes attempt a direct
// flush on this same goroutine, for use from inside a callback running on
// c's owning worker (spec §4.4).
func (w *Worker) localWriteHandle(c *conn.Conn) conn.WriteHandle {
	return conn.NewLocalWriteHandle(c, func(c *conn.Conn) {
		w.flushQueue(c)
	})
}

// scheduleClose marks c closed, removes it from the poller, invokes
// on-close, and queues its final teardown (registry/directory removal, fd
// close) for the reap step so callbacks never run re-entrantly mid-event.
func (w *Worker) scheduleClose(c *conn.Conn, cause error) {
	if !c.MarkClosed() {
		return
	}
	if cause != nil {
		w.counters.IncErrors()
	}
	w.poll.Deregister(c.Fd)
	w.invokeOnClose(c)
	w.pendingClose = append(w.pendingClose, c.ID)
}

// forceCloseAll schedules every still-open connection for close. Called once
// shutdown is requested so connections that generate no further poll events
// (an idle peer, nothing left to flush) don't leave the worker's loop
// spinning forever waiting for registry.Len() to reach zero on its own
// (spec §5: "invokes on-close for every still-open connection, deregisters
// handles, and returns").
func (w *Worker) forceCloseAll() {
	var open []uint64
	w.registry.Each(func(c *conn.Conn) {
		if !c.Closed() {
			open = append(open, c.ID)
		}
	})
	for _, id := range open {
		if c, ok := w.registry.ByID(id); ok {
			w.scheduleClose(c, nil)
		}
	}
}

func (w *Worker) reapClosed() {
	if len(w.pendingClose) == 0 {
		return
	}
	for _, id := range w.pendingClose {
		c, ok := w.registry.ByID(id)
		if !ok {
			continue
		}
		c.Chain.ClearAll(w.slabs)
		c.Write.DiscardAll()
		w.registry.Remove(c)
		if w.directory != nil {
			w.directory.Delete(id)
		}
		closeRaw(c)
		w.counters.IncCloses()
	}
	w.pendingClose = w.pendingClose[:0]
}

func (w *Worker) publishStats() {
	if w.aggregator == nil {
		return
	}
	snap := w.counters.TakeSnapshot(w.registry.Len(), w.slabs.InUse())
	w.aggregator.Update(w.index, snap)
}

func (w *Worker) runHousekeeper() {
	if w.callbacks.OnHousekeeper == nil {
		return
	}
	tc := &ThreadContext{w: w}
	if err := w.callbacks.OnHousekeeper(tc); err != nil {
		w.invokePanic(0, err)
	}
}

func (w *Worker) invokeOnAccept(c *conn.Conn) {
	if w.callbacks.OnAccept == nil {
		return
	}
	defer w.recoverCallback(c.ID)
	if err := w.callbacks.OnAccept(c); err != nil {
		w.logger.Warn().Err(err).Uint64("conn", c.ID).Msg("on_accept returned error")
	}
}

func (w *Worker) invokeOnRead(c *conn.Conn) {
	if w.callbacks.OnRead == nil {
		return
	}
	defer w.recoverCallback(c.ID)
	ctx := &ReadContext{w: w, c: c}
	if err := w.callbacks.OnRead(c, ctx); err != nil {
		w.logger.Warn().Err(err).Uint64("conn", c.ID).Msg("on_read returned error")
		w.scheduleClose(c, err)
	}
}

func (w *Worker) invokeOnClose(c *conn.Conn) {
	if w.callbacks.OnClose == nil {
		return
	}
	defer w.recoverCallback(c.ID)
	if err := w.callbacks.OnClose(c); err != nil {
		w.logger.Warn().Err(err).Uint64("conn", c.ID).Msg("on_close returned error")
	}
}

// recoverCallback turns a panicking user callback into an on_panic
// invocation and closes the connection it panicked on (spec §7:
// "dispatched to on-panic, connection is closed, worker continues"),
// isolating one connection's misbehaving handler from the rest of the
// worker's event loop.
func (w *Worker) recoverCallback(connID uint64) {
	if r := recover(); r != nil {
		w.counters.IncErrors()
		w.logger.Error().Uint64("conn", connID).Interface("panic", r).Msg("callback panicked")
		w.invokePanic(connID, r)
		if c, ok := w.registry.ByID(connID); ok {
			w.scheduleClose(c, nil)
		}
	}
}

func (w *Worker) invokePanic(connID uint64, info any) {
	if w.callbacks.OnPanic == nil {
		return
	}
	defer func() { recover() }() // a panicking on_panic callback is swallowed; nothing left to escalate to
	w.callbacks.OnPanic(connID, info)
}
