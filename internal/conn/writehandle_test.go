package conn

import (
	"testing"

	"github.com/evh/evh/errs"
)

type fakeNotifier struct {
	woken []uint64
}

func (f *fakeNotifier) NotifyWriteReady(id uint64) { f.woken = append(f.woken, id) }

func TestLocalWriteHandleFlushesSynchronously(t *testing.T) {
	c := New(1, 3, RoleServerAccepted, 0)
	var flushed int
	h := NewLocalWriteHandle(c, func(*Conn) { flushed++ })

	if err := h.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if flushed != 1 {
		t.Errorf("expected local flush invoked once, got %d", flushed)
	}
	if c.Write.Len() != 1 {
		t.Errorf("expected one queued entry, got %d", c.Write.Len())
	}
}

func TestCrossThreadWriteHandleNotifies(t *testing.T) {
	c := New(2, 4, RoleServerAccepted, 1)
	n := &fakeNotifier{}
	h := NewWriteHandle(c, n)

	if err := h.Write([]byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(n.woken) != 1 || n.woken[0] != c.ID {
		t.Errorf("expected notifier woken with conn id %d, got %v", c.ID, n.woken)
	}
}

func TestWriteOnClosedConnectionFails(t *testing.T) {
	c := New(3, 5, RoleServerAccepted, 0)
	c.MarkClosed()
	h := NewWriteHandle(c, &fakeNotifier{})
	if err := h.Write([]byte("x")); err != errs.ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestCloseMarksCloseAfterFlushWhenQueueNonEmpty(t *testing.T) {
	c := New(4, 6, RoleServerAccepted, 0)
	n := &fakeNotifier{}
	h := NewWriteHandle(c, n)
	h.Write([]byte("pending"))
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Closed() {
		t.Error("expected connection not yet closed while writes are pending")
	}
	if !c.Write.ShouldCloseAfterFlush() {
		t.Error("expected close-after-flush set")
	}
}

func TestCloseClosesImmediatelyWhenQueueEmpty(t *testing.T) {
	c := New(5, 7, RoleServerAccepted, 0)
	h := NewWriteHandle(c, &fakeNotifier{})
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !c.Closed() {
		t.Error("expected connection closed immediately with empty queue")
	}
}

func TestCloseNowDiscardsPendingWrites(t *testing.T) {
	c := New(6, 8, RoleServerAccepted, 0)
	h := NewWriteHandle(c, &fakeNotifier{})
	h.Write([]byte("dropped"))
	if err := h.CloseNow(); err != nil {
		t.Fatalf("CloseNow: %v", err)
	}
	if !c.Closed() {
		t.Error("expected connection closed")
	}
	if !c.Write.IsEmpty() {
		t.Error("expected write queue discarded")
	}
}

func TestTriggerOnReadSetsFlag(t *testing.T) {
	c := New(7, 9, RoleServerAccepted, 0)
	h := NewWriteHandle(c, &fakeNotifier{})
	h.TriggerOnRead()
	if !c.TriggerPending.Load() {
		t.Error("expected TriggerPending set")
	}
}
