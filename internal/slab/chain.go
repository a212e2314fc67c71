package slab

// Chain is a connection's inbound read buffer: a singly-linked list of
// slabs threaded through Store's trailing next-pointers, per spec §4.3.
// A Chain does not own a *Store — every method takes the owning worker's
// store explicitly, since a connection's chain and its worker's slab store
// have independent lifetimes (a Chain is embedded in conn.Conn; the Store
// lives on the worker).
type Chain struct {
	Head        uint32
	Tail        uint32
	TailWritten int
}

// Empty returns a Chain with no slabs.
func Empty() Chain { return Chain{Head: None, Tail: None} }

// IsEmpty reports whether the chain currently holds no slabs.
func (c *Chain) IsEmpty() bool { return c.Head == None }

// EnsureTail makes sure the chain has a writable tail slab, allocating one
// (or a fresh one, if the current tail's payload window is full) from
// store. Returns errs.ErrSlabExhausted when the store has no free slabs.
func (c *Chain) EnsureTail(store *Store) error {
	if c.Tail == None {
		id, err := store.Allocate()
		if err != nil {
			return err
		}
		store.SetNext(id, None)
		c.Head, c.Tail, c.TailWritten = id, id, 0
		return nil
	}
	if c.TailWritten >= store.PayloadSize() {
		id, err := store.Allocate()
		if err != nil {
			return err
		}
		store.SetNext(id, None)
		store.SetNext(c.Tail, id)
		c.Tail = id
		c.TailWritten = 0
	}
	return nil
}

// WriteWindow returns the unwritten remainder of the tail slab's payload,
// suitable for a direct syscall read (no intermediate copy).
func (c *Chain) WriteWindow(store *Store) []byte {
	return store.Payload(c.Tail)[c.TailWritten:]
}

// Advance records that n more bytes were written into the tail slab.
func (c *Chain) Advance(n int) { c.TailWritten += n }

// Chunk is a contiguous window into one slab's payload, presented to the
// on-read callback (spec §4.3's "chunk iteration contract").
type Chunk struct {
	SlabID uint32
	Data   []byte
}

// ChunkIter walks a Chain from its head, restartable per callback
// invocation (spec §4.3: "restartable per-callback-invocation from the
// connection's head").
type ChunkIter struct {
	store *Store
	chain *Chain
	cur   uint32
}

// Chunks returns a fresh iterator positioned at the chain's head.
func (c *Chain) Chunks(store *Store) *ChunkIter {
	return &ChunkIter{store: store, chain: c, cur: c.Head}
}

// Next returns the next unread payload window, or false when exhausted.
func (it *ChunkIter) Next() (Chunk, bool) {
	if it.cur == None {
		return Chunk{}, false
	}
	id := it.cur
	var data []byte
	if id == it.chain.Tail {
		data = it.store.Payload(id)[:it.chain.TailWritten]
	} else {
		data = it.store.Payload(id)
	}
	it.cur = it.store.Next(id)
	return Chunk{SlabID: id, Data: data}, true
}

// ClearThrough frees every slab from the chain's head up to and including
// the slab holding chunk, resetting head to the following slab. It is a
// no-op on an empty chain and defensively resets to empty if chunk no
// longer belongs to the chain (already cleared).
func (c *Chain) ClearThrough(store *Store, chunk Chunk) {
	if c.Head == None {
		return
	}
	cur := c.Head
	for cur != None {
		next := store.Next(cur)
		isTarget := cur == chunk.SlabID
		isTail := cur == c.Tail
		store.Free(cur)
		cur = next
		if isTarget {
			if isTail {
				c.Head, c.Tail, c.TailWritten = None, None, 0
			} else {
				c.Head = cur
			}
			return
		}
	}
	c.Head, c.Tail, c.TailWritten = None, None, 0
}

// ClearAll frees the entire chain. Idempotent when the chain is already
// empty (spec §8).
func (c *Chain) ClearAll(store *Store) {
	cur := c.Head
	for cur != None {
		next := store.Next(cur)
		store.Free(cur)
		cur = next
	}
	c.Head, c.Tail, c.TailWritten = None, None, 0
}
