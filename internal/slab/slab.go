// Package slab implements the fixed-size read-slab pool described in spec
// §4.2/§4.3: one contiguous backing arena sized at start-up, a free list
// threaded through the idle slab bodies themselves, and a singly-linked
// chain (via a trailing 4-byte next-pointer) forming each connection's
// inbound buffer. No heap allocation occurs after New returns.
//
// Grounded on gotcp-epoll's pool.go (the *[]byte object-pool wrapper it
// keeps around a *pool.Pool) generalized to the spec's chained-slab model,
// and on shaovie-goev/bitmap.go for the debug double-free bitmap.
package slab

import (
	"encoding/binary"
	"fmt"

	"github.com/evh/evh/errs"
)

// None is the sentinel next-pointer value meaning "no further slab".
const None uint32 = 0xFFFFFFFF

// Store is a per-worker pool of fixed-size blocks. It is not safe for
// concurrent use — spec §5 keeps the slab store thread-local to its owning
// worker.
type Store struct {
	arena       []byte
	slabSize    int
	payloadSize int
	count       int
	freeHead    uint32
	inUse       int
	debug       bool
	allocated   []uint64 // debug double-free bitmap, one bit per slab id
}

// New allocates the backing arena (slabSize * slabCount bytes) and threads
// every slab onto the free list. debug enables double-free detection.
func New(slabSize, slabCount int, debug bool) (*Store, error) {
	if slabSize < 5 {
		return nil, errs.ConfigurationError("slab size must be able to hold a next-pointer")
	}
	if slabCount <= 0 {
		return nil, errs.ConfigurationError("slab count must be > 0")
	}
	s := &Store{
		arena:       make([]byte, slabSize*slabCount),
		slabSize:    slabSize,
		payloadSize: slabSize - 4,
		count:       slabCount,
		debug:       debug,
	}
	if debug {
		s.allocated = make([]uint64, (slabCount+63)/64)
	}
	for i := 0; i < slabCount; i++ {
		next := uint32(i + 1)
		if i == slabCount-1 {
			next = None
		}
		s.writeTrailer(uint32(i), next)
	}
	s.freeHead = 0
	return s, nil
}

// PayloadSize is slab size minus the trailing next-pointer (spec §3).
func (s *Store) PayloadSize() int { return s.payloadSize }

// Capacity is the total number of slabs the store owns.
func (s *Store) Capacity() int { return s.count }

// InUse returns the current number of allocated (non-free) slabs.
func (s *Store) InUse() int { return s.inUse }

func (s *Store) block(id uint32) []byte {
	off := int(id) * s.slabSize
	return s.arena[off : off+s.slabSize]
}

func (s *Store) readTrailer(id uint32) uint32 {
	b := s.block(id)
	return binary.LittleEndian.Uint32(b[s.payloadSize:])
}

func (s *Store) writeTrailer(id uint32, next uint32) {
	b := s.block(id)
	binary.LittleEndian.PutUint32(b[s.payloadSize:], next)
}

// Allocate pops one id off the free list, or returns
// errs.ErrSlabExhausted when the store has no free blocks (spec §4.2).
func (s *Store) Allocate() (uint32, error) {
	if s.freeHead == None {
		return 0, errs.ErrSlabExhausted
	}
	id := s.freeHead
	s.freeHead = s.readTrailer(id)
	s.writeTrailer(id, None)
	s.inUse++
	if s.debug {
		s.markAllocated(id, true)
	}
	return id, nil
}

// Free returns id to the free list in constant time. Double-freeing an id
// is a programmer error; in debug mode it panics rather than corrupting the
// free list.
func (s *Store) Free(id uint32) {
	if s.debug {
		if !s.isAllocated(id) {
			panic(fmt.Sprintf("evh/slab: double free of slab %d", id))
		}
		s.markAllocated(id, false)
	}
	s.writeTrailer(id, s.freeHead)
	s.freeHead = id
	s.inUse--
}

// Payload returns the payload window of slab id (length PayloadSize()).
func (s *Store) Payload(id uint32) []byte {
	return s.block(id)[:s.payloadSize]
}

// Next returns the next-slab id chained after id, or None.
func (s *Store) Next(id uint32) uint32 { return s.readTrailer(id) }

// SetNext links id's trailer to next.
func (s *Store) SetNext(id uint32, next uint32) { s.writeTrailer(id, next) }

func (s *Store) markAllocated(id uint32, v bool) {
	word, bit := id/64, id%64
	if v {
		s.allocated[word] |= 1 << bit
	} else {
		s.allocated[word] &^= 1 << bit
	}
}

func (s *Store) isAllocated(id uint32) bool {
	word, bit := id/64, id%64
	return s.allocated[word]&(1<<bit) != 0
}
