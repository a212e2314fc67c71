package config

import "testing"

func TestDefaults(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Threads != DefaultThreads {
		t.Errorf("expected Threads %d, got %d", DefaultThreads, c.Threads)
	}
	if c.ReadSlabSize != DefaultReadSlabSize {
		t.Errorf("expected ReadSlabSize %d, got %d", DefaultReadSlabSize, c.ReadSlabSize)
	}
	if c.SlabPayloadSize() != DefaultReadSlabSize-4 {
		t.Errorf("expected SlabPayloadSize %d, got %d", DefaultReadSlabSize-4, c.SlabPayloadSize())
	}
	if c.MaxHandlesPerThread != 0 {
		t.Errorf("expected unlimited MaxHandlesPerThread, got %d", c.MaxHandlesPerThread)
	}
}

func TestOptionsApply(t *testing.T) {
	c, err := New(
		EvhThreads(8),
		EvhReadSlabSize(128),
		EvhReadSlabCount(10),
		EvhTimeout(500),
		Debug(true),
		ReusePort(true),
		MaxHandlesPerThread(1000),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Threads != 8 {
		t.Errorf("expected Threads 8, got %d", c.Threads)
	}
	if !c.Debug {
		t.Error("expected Debug true")
	}
	if !c.ReusePort {
		t.Error("expected ReusePort true")
	}
	if c.MaxHandlesPerThread != 1000 {
		t.Errorf("expected MaxHandlesPerThread 1000, got %d", c.MaxHandlesPerThread)
	}
}

func TestInvalidOptionsRejected(t *testing.T) {
	cases := []struct {
		name string
		opts []Option
	}{
		{"zero threads", []Option{EvhThreads(0)}},
		{"negative threads", []Option{EvhThreads(-1)}},
		{"slab size too small", []Option{EvhReadSlabSize(10)}},
		{"zero slab count", []Option{EvhReadSlabCount(0)}},
		{"zero timeout", []Option{EvhTimeout(0)}},
		{"zero housekeeper freq", []Option{EvhHouseKeeperFrequencyMillis(0)}},
		{"zero stats freq", []Option{EvhStatsUpdateMillis(0)}},
		{"negative max handles", []Option{MaxHandlesPerThread(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.opts...); err == nil {
				t.Errorf("expected error for %s, got none", tc.name)
			}
		})
	}
}

func TestMinReadSlabSizeBoundary(t *testing.T) {
	if _, err := New(EvhReadSlabSize(MinReadSlabSize)); err != nil {
		t.Errorf("expected MinReadSlabSize to be accepted, got %v", err)
	}
	if _, err := New(EvhReadSlabSize(MinReadSlabSize - 1)); err == nil {
		t.Error("expected MinReadSlabSize-1 to be rejected")
	}
}
