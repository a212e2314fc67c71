// Package stats implements the per-worker counters and the
// cross-worker-aggregated snapshot described in spec §3/§4.7: counters are
// updated thread-locally (no cross-thread atomics on the hot path, spec
// §5) and merged into one published snapshot at each EvhStatsUpdateMillis
// tick, readable through Controller.WaitForStats.
package stats

import (
	"context"
	"sync"
)

// Snapshot is the statistics snapshot from spec §3: accumulating counters
// plus current gauges.
type Snapshot struct {
	Accepts         uint64
	Reads           uint64
	Writes          uint64
	BytesIn         uint64
	BytesOut        uint64
	Closes          uint64
	Errors          uint64
	OpenConnections int
	SlabsInUse      int
}

func (s *Snapshot) add(o Snapshot) {
	s.Accepts += o.Accepts
	s.Reads += o.Reads
	s.Writes += o.Writes
	s.BytesIn += o.BytesIn
	s.BytesOut += o.BytesOut
	s.Closes += o.Closes
	s.Errors += o.Errors
	s.OpenConnections += o.OpenConnections
	s.SlabsInUse += o.SlabsInUse
}

// Counters is a worker's thread-local accumulator, reset at each reporting
// tick per spec §3 ("Reset at each reporting tick").
type Counters struct {
	Snapshot
}

func (c *Counters) IncAccepts()       { c.Accepts++ }
func (c *Counters) IncReads()         { c.Reads++ }
func (c *Counters) IncWrites()        { c.Writes++ }
func (c *Counters) IncCloses()        { c.Closes++ }
func (c *Counters) IncErrors()        { c.Errors++ }
func (c *Counters) AddBytesIn(n int)  { c.BytesIn += uint64(n) }
func (c *Counters) AddBytesOut(n int) { c.BytesOut += uint64(n) }

// Reset zeros the accumulating counters; gauges are supplied fresh by the
// caller at snapshot time since they reflect live state, not accumulation.
func (c *Counters) Reset() {
	c.Accepts, c.Reads, c.Writes = 0, 0, 0
	c.BytesIn, c.BytesOut = 0, 0
	c.Closes, c.Errors = 0, 0
}

// TakeSnapshot returns the current counters plus the supplied live gauges,
// then resets the accumulating counters for the next interval.
func (c *Counters) TakeSnapshot(openConnections, slabsInUse int) Snapshot {
	s := c.Snapshot
	s.OpenConnections = openConnections
	s.SlabsInUse = slabsInUse
	c.Reset()
	return s
}

// Aggregator merges each worker's latest snapshot into one published
// combined snapshot, and lets callers block until the next publish (spec
// §4.7's wait_for_stats).
type Aggregator struct {
	mu        sync.Mutex
	perWorker []Snapshot
	combined  Snapshot
	changed   chan struct{}
}

// NewAggregator returns an aggregator sized for the given worker count.
func NewAggregator(workers int) *Aggregator {
	return &Aggregator{
		perWorker: make([]Snapshot, workers),
		changed:   make(chan struct{}),
	}
}

// Update replaces workerIndex's snapshot and republishes the combined
// total, waking any goroutine blocked in WaitForStats.
func (a *Aggregator) Update(workerIndex int, s Snapshot) {
	a.mu.Lock()
	a.perWorker[workerIndex] = s
	var combined Snapshot
	for _, ws := range a.perWorker {
		combined.add(ws)
	}
	a.combined = combined
	ch := a.changed
	a.changed = make(chan struct{})
	a.mu.Unlock()
	close(ch)
}

// Latest returns the most recently published combined snapshot without
// blocking.
func (a *Aggregator) Latest() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.combined
}

// WaitForStats blocks until the next publish (from any worker) or until
// ctx is done.
func (a *Aggregator) WaitForStats(ctx context.Context) (Snapshot, error) {
	a.mu.Lock()
	ch := a.changed
	a.mu.Unlock()
	select {
	case <-ch:
		return a.Latest(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
