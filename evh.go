// Package evh implements a high-throughput, multi-threaded, edge-triggered
// TCP event handler: a fixed pool of worker threads, each running its own
// edge-triggered poll loop, fixed-size slab-backed read buffers, and a
// small set of user callbacks invoked strictly serially per connection's
// owning thread.
//
// Grounded on gotcp-epoll's *EP struct (ep.go/epoll.go): a single top-level
// handle bundling configuration, callback slots, and Start/Stop lifecycle,
// generalized here into a Controller that owns a fixed worker pool instead
// of one shared epoll instance.
package evh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/evh/evh/config"
	"github.com/evh/evh/errs"
	"github.com/evh/evh/internal/conn"
	"github.com/evh/evh/internal/dispatch"
	"github.com/evh/evh/internal/listener"
	"github.com/evh/evh/internal/log"
	"github.com/evh/evh/internal/registry"
	"github.com/evh/evh/internal/stats"
	"github.com/evh/evh/internal/worker"
	"github.com/evh/evh/tls"
)

// Public type aliases re-export the internal packages' concrete types as
// evh's API surface, keeping those packages the single source of truth
// (avoids an import cycle: the internal packages cannot import evh).
type (
	Connection        = conn.Conn
	ConnectionRole    = conn.Role
	ReadContext       = worker.ReadContext
	ThreadContext     = worker.ThreadContext
	WriteHandle       = conn.WriteHandle
	Stats             = stats.Snapshot
	OnAcceptFunc      = worker.OnAcceptFunc
	OnReadFunc        = worker.OnReadFunc
	OnCloseFunc       = worker.OnCloseFunc
	OnHousekeeperFunc = worker.OnHousekeeperFunc
	OnPanicFunc       = worker.OnPanicFunc
	Config            = config.Config
	Option            = config.Option
	TLSServerConfig   = config.TLSServerConfig
	TLSClientConfig   = config.TLSClientConfig
)

const (
	RoleServerListen   = conn.RoleServerListen
	RoleServerAccepted = conn.RoleServerAccepted
	RoleOutboundClient = conn.RoleOutboundClient
)

// Re-exported option constructors (spec §6).
var (
	EvhThreads                    = config.EvhThreads
	EvhReadSlabSize               = config.EvhReadSlabSize
	EvhReadSlabCount              = config.EvhReadSlabCount
	EvhTimeout                    = config.EvhTimeout
	EvhHouseKeeperFrequencyMillis = config.EvhHouseKeeperFrequencyMillis
	EvhStatsUpdateMillis          = config.EvhStatsUpdateMillis
	Debug                         = config.Debug
	WithTLSServer                 = config.WithTLSServer
	WithTLSClient                 = config.WithTLSClient
	ReusePort                     = config.ReusePort
	MaxHandlesPerThread           = config.MaxHandlesPerThread
)

// NewConfig builds a validated Config from the given options (spec §6); a thin
// re-export so callers only ever import the root evh package.
func NewConfig(opts ...config.Option) (*Config, error) { return config.New(opts...) }

// Controller is the top-level handle: one fixed worker pool, zero or more
// bound listen addresses, and the five callback slots (spec §4.7).
// Generalizes gotcp-epoll's *EP the same way: one struct owns the
// configuration, the callback slots, and Start/Stop.
type Controller struct {
	cfg        *config.Config
	logger     zerolog.Logger
	callbacks  worker.Callbacks
	tlsEngine  tls.Engine
	clientPool *dispatch.HandoffPool

	idGen      atomic.Uint64
	nextClient atomic.Uint64
	directory  *registry.Directory
	aggregator *stats.Aggregator

	workers   []*worker.Worker
	listeners []*listener.Listener

	mu      sync.Mutex
	started atomic.Bool
	stopped atomic.Bool
}

// New builds a Controller from the given options (spec §6). Workers and
// their slab stores are *not* allocated until Start.
func New(opts ...config.Option) (*Controller, error) {
	cfg, err := config.New(opts...)
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:        cfg,
		logger:     log.New(cfg.Debug),
		directory:  registry.NewDirectory(),
		clientPool: dispatch.NewHandoffPool(64),
	}, nil
}

func (c *Controller) requireNotStarted() error {
	if c.started.Load() {
		return errs.New(errs.KindConfiguration, "callbacks are immutable once Start has been called", nil)
	}
	return nil
}

// SetOnAccept registers the on-accept callback. Must be called before Start.
func (c *Controller) SetOnAccept(fn OnAcceptFunc) error {
	if err := c.requireNotStarted(); err != nil {
		return err
	}
	c.callbacks.OnAccept = fn
	return nil
}

// SetOnRead registers the on-read callback. Must be called before Start.
func (c *Controller) SetOnRead(fn OnReadFunc) error {
	if err := c.requireNotStarted(); err != nil {
		return err
	}
	c.callbacks.OnRead = fn
	return nil
}

// SetOnClose registers the on-close callback. Must be called before Start.
func (c *Controller) SetOnClose(fn OnCloseFunc) error {
	if err := c.requireNotStarted(); err != nil {
		return err
	}
	c.callbacks.OnClose = fn
	return nil
}

// SetOnHousekeeper registers the on-housekeeper callback. Must be called
// before Start.
func (c *Controller) SetOnHousekeeper(fn OnHousekeeperFunc) error {
	if err := c.requireNotStarted(); err != nil {
		return err
	}
	c.callbacks.OnHousekeeper = fn
	return nil
}

// SetOnPanic registers the on-panic callback. Must be called before Start.
func (c *Controller) SetOnPanic(fn OnPanicFunc) error {
	if err := c.requireNotStarted(); err != nil {
		return err
	}
	c.callbacks.OnPanic = fn
	return nil
}

// Start builds the TLS engine (if configured), allocates every worker's
// slab store and poller, and starts each worker's loop on its own
// OS-thread-locked goroutine (spec §4.5/§4.7). Callbacks become immutable
// once Start returns successfully.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.Load() {
		return errs.New(errs.KindConfiguration, "already started", nil)
	}

	engine, err := tls.New(c.cfg.TLSServer, c.cfg.TLSClient)
	if err != nil {
		return err
	}
	c.tlsEngine = engine
	c.aggregator = stats.NewAggregator(c.cfg.Threads)

	c.workers = make([]*worker.Worker, c.cfg.Threads)
	for i := 0; i < c.cfg.Threads; i++ {
		w, err := worker.New(i, c.cfg, c.callbacks, c.aggregator, &c.idGen, c.directory, c.tlsEngine, c.logger)
		if err != nil {
			for j := 0; j < i; j++ {
				c.workers[j].RequestShutdown()
				c.workers[j].Wait()
			}
			return err
		}
		c.workers[i] = w
	}
	for _, w := range c.workers {
		w.Start()
	}
	c.started.Store(true)
	return nil
}

// AddServer binds addr and begins accepting inbound connections,
// distributing them across the worker pool (spec §4.1). Must be called
// after Start.
func (c *Controller) AddServer(addr string) error {
	if !c.started.Load() {
		return errs.New(errs.KindConfiguration, "AddServer called before Start", nil)
	}
	targets := make([]listener.Target, len(c.workers))
	for i, w := range c.workers {
		targets[i] = w
	}
	ln := listener.New(c.cfg, targets, c.logger)
	if err := ln.Serve(addr); err != nil {
		return err
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, ln)
	c.mu.Unlock()
	return nil
}

// AddClient dials addr and adopts the resulting connection onto a
// round-robin-chosen worker as an outbound client connection (spec §3's
// third connection-origin variant), blocking until adoption completes (or
// ctx is done) and returning a WriteHandle plus the assigned connection id.
func (c *Controller) AddClient(ctx context.Context, network, addr string) (WriteHandle, uint64, error) {
	if !c.started.Load() {
		return WriteHandle{}, 0, errs.New(errs.KindConfiguration, "AddClient called before Start", nil)
	}
	var d net.Dialer
	rawConn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return WriteHandle{}, 0, errs.Wrap(errs.KindIO, err, "dial %s", addr)
	}
	fd, err := listener.ConnFd(rawConn)
	if err != nil {
		rawConn.Close()
		return WriteHandle{}, 0, err
	}

	idx := int(c.nextClient.Add(1)-1) % len(c.workers)
	h, err := c.clientPool.Get()
	if err != nil {
		rawConn.Close()
		return WriteHandle{}, 0, err
	}
	h.Raw = rawConn
	h.Fd = fd
	h.Outbound = true
	h.WorkerIndex = idx

	type result struct {
		id  uint64
		err error
	}
	done := make(chan result, 1)
	h.Adopted = func(id uint64, adoptErr error) { done <- result{id, adoptErr} }

	c.workers[idx].Enqueue(h)

	select {
	case r := <-done:
		c.clientPool.Put(h)
		if r.err != nil {
			return WriteHandle{}, 0, r.err
		}
		entry, ok := c.directory.Get(r.id)
		if !ok {
			return WriteHandle{}, 0, fmt.Errorf("evh: adopted connection %d not found in directory", r.id)
		}
		return conn.NewWriteHandle(entry.Conn, entry.Notifier), r.id, nil
	case <-ctx.Done():
		return WriteHandle{}, 0, ctx.Err()
	}
}

// WriteHandleFor looks up a WriteHandle for any connection by id, routing
// through the process-wide directory so it works regardless of which
// worker owns the connection (spec §8 scenario 4: cross-thread write).
func (c *Controller) WriteHandleFor(id uint64) (WriteHandle, bool) {
	entry, ok := c.directory.Get(id)
	if !ok {
		return WriteHandle{}, false
	}
	return conn.NewWriteHandle(entry.Conn, entry.Notifier), true
}

// WaitForStats blocks until the next aggregated stats publish, or until ctx
// is done (spec §4.7's wait_for_stats).
func (c *Controller) WaitForStats(ctx context.Context) (Stats, error) {
	if c.aggregator == nil {
		return Stats{}, errs.New(errs.KindConfiguration, "WaitForStats called before Start", nil)
	}
	return c.aggregator.WaitForStats(ctx)
}

// LatestStats returns the most recently published aggregated snapshot
// without blocking.
func (c *Controller) LatestStats() Stats {
	if c.aggregator == nil {
		return Stats{}
	}
	return c.aggregator.Latest()
}

// Stop closes every listener, asks every worker to close each of its
// still-open connections (firing on-close for each, without waiting for
// queued writes to drain), and waits for all worker loops to exit.
func (c *Controller) Stop() error {
	if !c.started.Load() || !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	listeners := c.listeners
	c.mu.Unlock()
	var firstErr error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, w := range c.workers {
		w.RequestShutdown()
	}
	for _, w := range c.workers {
		w.Wait()
	}
	return firstErr
}
