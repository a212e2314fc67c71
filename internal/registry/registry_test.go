package registry

import (
	"testing"

	"github.com/evh/evh/internal/conn"
)

func TestThreadRegistryAddRemoveLookup(t *testing.T) {
	r := NewThreadRegistry()
	c := conn.New(1, 42, conn.RoleServerAccepted, 0)
	r.Add(c)

	if r.Len() != 1 {
		t.Fatalf("expected len 1, got %d", r.Len())
	}
	if got, ok := r.ByFd(42); !ok || got != c {
		t.Errorf("expected ByFd to find the connection")
	}
	if got, ok := r.ByID(1); !ok || got != c {
		t.Errorf("expected ByID to find the connection")
	}

	r.Remove(c)
	if r.Len() != 0 {
		t.Errorf("expected len 0 after Remove, got %d", r.Len())
	}
	if _, ok := r.ByFd(42); ok {
		t.Error("expected ByFd miss after Remove")
	}
}

func TestThreadRegistryEach(t *testing.T) {
	r := NewThreadRegistry()
	r.Add(conn.New(1, 1, conn.RoleServerAccepted, 0))
	r.Add(conn.New(2, 2, conn.RoleServerAccepted, 0))

	seen := map[uint64]bool{}
	r.Each(func(c *conn.Conn) { seen[c.ID] = true })
	if len(seen) != 2 || !seen[1] || !seen[2] {
		t.Errorf("expected Each to visit both connections, got %v", seen)
	}
}

func TestDirectoryPutGetDelete(t *testing.T) {
	d := NewDirectory()
	c := conn.New(9, 90, conn.RoleOutboundClient, 2)
	d.Put(9, DirectoryEntry{Conn: c})

	entry, ok := d.Get(9)
	if !ok || entry.Conn != c {
		t.Fatal("expected directory to return the entry just put")
	}
	if d.Len() != 1 {
		t.Errorf("expected len 1, got %d", d.Len())
	}

	d.Delete(9)
	if _, ok := d.Get(9); ok {
		t.Error("expected miss after Delete")
	}
	if d.Len() != 0 {
		t.Errorf("expected len 0 after Delete, got %d", d.Len())
	}
}
