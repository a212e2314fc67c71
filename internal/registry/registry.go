// Package registry holds the two lookup structures spec §3/§4.5/§5
// describe: a per-thread registry (fd and connection-id keyed, owned
// exclusively by its worker, no locking) and a process-wide directory
// (connection-id keyed, safe for concurrent access) used only to route a
// cross-thread write handle to the worker that actually owns the target
// connection (spec §8 scenario 4).
package registry

import (
	"github.com/wuyongjia/hashmap"

	"github.com/evh/evh/internal/conn"
)

// ThreadRegistry is owned by exactly one worker; spec §5 forbids locking it
// since only the owning goroutine ever touches it.
type ThreadRegistry struct {
	byFd map[int]*conn.Conn
	byID map[uint64]*conn.Conn
}

// NewThreadRegistry returns an empty per-worker registry.
func NewThreadRegistry() *ThreadRegistry {
	return &ThreadRegistry{
		byFd: make(map[int]*conn.Conn),
		byID: make(map[uint64]*conn.Conn),
	}
}

// Add registers c under both its fd and its id.
func (r *ThreadRegistry) Add(c *conn.Conn) {
	r.byFd[c.Fd] = c
	r.byID[c.ID] = c
}

// Remove unregisters c.
func (r *ThreadRegistry) Remove(c *conn.Conn) {
	delete(r.byFd, c.Fd)
	delete(r.byID, c.ID)
}

// ByFd looks up a connection by OS handle.
func (r *ThreadRegistry) ByFd(fd int) (*conn.Conn, bool) {
	c, ok := r.byFd[fd]
	return c, ok
}

// ByID looks up a connection by stable connection id.
func (r *ThreadRegistry) ByID(id uint64) (*conn.Conn, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// Len returns the number of connections currently registered.
func (r *ThreadRegistry) Len() int { return len(r.byFd) }

// Each calls fn for every registered connection. fn must not mutate the
// registry; callers that need to remove entries collect ids and call
// Remove afterwards (this is how the worker's reap step is structured).
func (r *ThreadRegistry) Each(fn func(*conn.Conn)) {
	for _, c := range r.byFd {
		fn(c)
	}
}

// DirectoryEntry is what the process-wide Directory stores per connection:
// the connection record itself (read-only from a foreign thread's
// perspective — only Conn.Write and Conn.MarkClosed are safe to call) and
// a Notifier that wakes the owning worker.
type DirectoryEntry struct {
	Conn     *conn.Conn
	Notifier conn.Notifier
}

// Directory is the process-wide, concurrency-safe connection-id directory.
// It is backed by wuyongjia/hashmap the same way gotcp-epoll's ssl.go keeps
// its accepted-connection table in a *hashmap.HM, generalized here to key
// on the stable 64-bit connection id rather than the OS fd (fds are
// per-worker and can collide across workers; ids are process-unique).
type Directory struct {
	hm *hashmap.HM
}

// NewDirectory returns an empty process-wide directory.
func NewDirectory() *Directory {
	return &Directory{hm: hashmap.New(16)}
}

// Put registers (or replaces) the directory entry for id.
func (d *Directory) Put(id uint64, entry DirectoryEntry) {
	d.hm.Put(id, entry)
}

// Get looks up id's directory entry.
func (d *Directory) Get(id uint64) (DirectoryEntry, bool) {
	v := d.hm.Get(id)
	entry, ok := v.(DirectoryEntry)
	return entry, ok
}

// Delete removes id from the directory.
func (d *Directory) Delete(id uint64) {
	d.hm.Remove(id)
}

// Len returns the number of connections currently tracked process-wide.
func (d *Directory) Len() int {
	return d.hm.GetCount()
}
