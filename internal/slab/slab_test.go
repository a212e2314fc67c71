package slab

import (
	"errors"
	"testing"

	"github.com/evh/evh/errs"
)

func TestAllocateFreeRoundTrip(t *testing.T) {
	s, err := New(64, 4, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.PayloadSize() != 60 {
		t.Errorf("expected payload size 60, got %d", s.PayloadSize())
	}

	var ids []uint32
	for i := 0; i < 4; i++ {
		id, err := s.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		ids = append(ids, id)
	}
	if s.InUse() != 4 {
		t.Errorf("expected InUse 4, got %d", s.InUse())
	}

	if _, err := s.Allocate(); !errors.Is(err, errs.ErrSlabExhausted) {
		t.Errorf("expected ErrSlabExhausted, got %v", err)
	}

	for _, id := range ids {
		s.Free(id)
	}
	if s.InUse() != 0 {
		t.Errorf("expected InUse 0 after freeing all, got %d", s.InUse())
	}

	id, err := s.Allocate()
	if err != nil {
		t.Fatalf("Allocate after free: %v", err)
	}
	found := false
	for _, want := range ids {
		if id == want {
			found = true
		}
	}
	if !found {
		t.Errorf("reallocated id %d not among previously freed ids %v", id, ids)
	}
}

func TestDoubleFreePanicsInDebug(t *testing.T) {
	s, err := New(32, 2, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id, err := s.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	s.Free(id)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on double free, got none")
		}
	}()
	s.Free(id)
}

func TestChainSingleChunkUnderPayloadSize(t *testing.T) {
	s, err := New(100, 100, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := Empty()

	payload := []byte("hello")
	if err := c.EnsureTail(s); err != nil {
		t.Fatalf("EnsureTail: %v", err)
	}
	n := copy(c.WriteWindow(s), payload)
	c.Advance(n)

	it := c.Chunks(s)
	chunk, ok := it.Next()
	if !ok {
		t.Fatal("expected one chunk, got none")
	}
	if string(chunk.Data) != string(payload) {
		t.Errorf("expected chunk %q, got %q", payload, chunk.Data)
	}
	if _, ok := it.Next(); ok {
		t.Error("expected iterator exhausted after one chunk")
	}
}

func TestChainFragmentsAcrossSlabs(t *testing.T) {
	const slabSize = 64 // payload 60
	s, err := New(slabSize, 1000, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := Empty()

	total := make([]byte, 200)
	for i := range total {
		total[i] = byte(i)
	}

	written := 0
	for written < len(total) {
		if err := c.EnsureTail(s); err != nil {
			t.Fatalf("EnsureTail: %v", err)
		}
		n := copy(c.WriteWindow(s), total[written:])
		c.Advance(n)
		written += n
	}

	var sizes []int
	it := c.Chunks(s)
	for {
		chunk, ok := it.Next()
		if !ok {
			break
		}
		sizes = append(sizes, len(chunk.Data))
	}
	want := []int{60, 60, 60, 20}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d chunks, got %d (%v)", len(want), len(sizes), sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("chunk %d: expected size %d, got %d", i, want[i], sizes[i])
		}
	}

	c.ClearAll(s)
	if s.InUse() != 0 {
		t.Errorf("expected InUse 0 after ClearAll, got %d", s.InUse())
	}
	if !c.IsEmpty() {
		t.Error("expected chain empty after ClearAll")
	}
}

func TestClearThroughPartial(t *testing.T) {
	const slabSize = 64
	s, err := New(slabSize, 1000, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := Empty()
	total := make([]byte, 130) // 3 chunks: 60, 60, 10
	written := 0
	for written < len(total) {
		if err := c.EnsureTail(s); err != nil {
			t.Fatalf("EnsureTail: %v", err)
		}
		n := copy(c.WriteWindow(s), total[written:])
		c.Advance(n)
		written += n
	}

	it := c.Chunks(s)
	first, ok := it.Next()
	if !ok {
		t.Fatal("expected a chunk")
	}
	c.ClearThrough(s, first)
	if s.InUse() != 2 {
		t.Errorf("expected 2 slabs still in use after clearing one, got %d", s.InUse())
	}

	it = c.Chunks(s)
	var remaining int
	for {
		chunk, ok := it.Next()
		if !ok {
			break
		}
		remaining += len(chunk.Data)
	}
	if remaining != 70 {
		t.Errorf("expected 70 remaining bytes, got %d", remaining)
	}
}

func TestClearAllIdempotentWhenEmpty(t *testing.T) {
	s, err := New(32, 4, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := Empty()
	c.ClearAll(s) // no panic, no-op
	if !c.IsEmpty() {
		t.Error("expected chain empty")
	}
}
