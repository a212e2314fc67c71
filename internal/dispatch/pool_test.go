package dispatch

import "testing"

func TestHandoffPoolGetPutResets(t *testing.T) {
	p := NewHandoffPool(4)
	h, err := p.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	h.Fd = 7
	h.WorkerIndex = 2
	h.Outbound = true
	p.Put(h)

	h2, err := p.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h2.Fd != 0 || h2.WorkerIndex != 0 || h2.Outbound {
		t.Errorf("expected a zeroed Handoff after Get, got %+v", h2)
	}
}
