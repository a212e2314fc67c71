package conn

import "testing"

func TestWriteQueueFIFOOrder(t *testing.T) {
	q := NewWriteQueue()
	q.Enqueue(&PendingWrite{Data: []byte("a")})
	q.Enqueue(&PendingWrite{Data: []byte("b")})

	if q.Len() != 2 {
		t.Fatalf("expected len 2, got %d", q.Len())
	}
	front, ok := q.Front()
	if !ok || string(front.Data) != "a" {
		t.Fatalf("expected front %q, got %+v (ok=%v)", "a", front, ok)
	}
	q.RemoveFront()
	front, ok = q.Front()
	if !ok || string(front.Data) != "b" {
		t.Fatalf("expected front %q, got %+v (ok=%v)", "b", front, ok)
	}
}

func TestPendingWriteRemainingAndDone(t *testing.T) {
	p := &PendingWrite{Data: []byte("hello")}
	if p.Done() {
		t.Error("expected not done before any bytes written")
	}
	p.Cursor = 3
	if string(p.Remaining()) != "lo" {
		t.Errorf("expected remaining %q, got %q", "lo", p.Remaining())
	}
	p.Cursor = 5
	if !p.Done() {
		t.Error("expected done once cursor reaches len(Data)")
	}
}

func TestCloseAfterFlushFlag(t *testing.T) {
	q := NewWriteQueue()
	if q.ShouldCloseAfterFlush() {
		t.Error("expected close-after-flush unset initially")
	}
	q.MarkCloseAfterFlush()
	if !q.ShouldCloseAfterFlush() {
		t.Error("expected close-after-flush set after MarkCloseAfterFlush")
	}
}

func TestDiscardAllEmptiesQueue(t *testing.T) {
	q := NewWriteQueue()
	q.Enqueue(&PendingWrite{Data: []byte("x")})
	q.Enqueue(&PendingWrite{Data: []byte("y")})
	q.DiscardAll()
	if !q.IsEmpty() {
		t.Error("expected queue empty after DiscardAll")
	}
	if q.Len() != 0 {
		t.Errorf("expected len 0, got %d", q.Len())
	}
}
