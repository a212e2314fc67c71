package stats

import (
	"context"
	"testing"
	"time"
)

func TestCountersTakeSnapshotResets(t *testing.T) {
	var c Counters
	c.IncAccepts()
	c.IncReads()
	c.IncReads()
	c.AddBytesIn(100)
	c.AddBytesOut(40)
	c.IncCloses()

	snap := c.TakeSnapshot(3, 12)
	if snap.Accepts != 1 || snap.Reads != 2 || snap.BytesIn != 100 || snap.BytesOut != 40 || snap.Closes != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.OpenConnections != 3 || snap.SlabsInUse != 12 {
		t.Errorf("unexpected gauges: %+v", snap)
	}

	again := c.TakeSnapshot(3, 12)
	if again.Accepts != 0 || again.Reads != 0 {
		t.Errorf("expected counters reset after TakeSnapshot, got %+v", again)
	}
}

func TestAggregatorCombinesAcrossWorkers(t *testing.T) {
	agg := NewAggregator(2)
	agg.Update(0, Snapshot{Accepts: 5, OpenConnections: 2})
	agg.Update(1, Snapshot{Accepts: 7, OpenConnections: 3})

	combined := agg.Latest()
	if combined.Accepts != 12 {
		t.Errorf("expected combined Accepts 12, got %d", combined.Accepts)
	}
	if combined.OpenConnections != 5 {
		t.Errorf("expected combined OpenConnections 5, got %d", combined.OpenConnections)
	}

	// A later update from worker 0 must replace, not add to, its prior
	// contribution.
	agg.Update(0, Snapshot{Accepts: 1, OpenConnections: 1})
	combined = agg.Latest()
	if combined.Accepts != 8 {
		t.Errorf("expected combined Accepts 8 after replace, got %d", combined.Accepts)
	}
}

func TestWaitForStatsUnblocksOnUpdate(t *testing.T) {
	agg := NewAggregator(1)
	done := make(chan Snapshot, 1)
	go func() {
		snap, err := agg.WaitForStats(context.Background())
		if err != nil {
			t.Error(err)
			return
		}
		done <- snap
	}()

	time.Sleep(10 * time.Millisecond) // let the goroutine start waiting
	agg.Update(0, Snapshot{Accepts: 9})

	select {
	case snap := <-done:
		if snap.Accepts != 9 {
			t.Errorf("expected Accepts 9, got %d", snap.Accepts)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForStats did not unblock on Update")
	}
}

func TestWaitForStatsRespectsContextCancellation(t *testing.T) {
	agg := NewAggregator(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := agg.WaitForStats(ctx); err == nil {
		t.Error("expected context deadline error, got nil")
	}
}
