package slab

import (
	"context"
	"encoding/binary"

	"github.com/slabkernel/core/diag"
)

// noFree marks the tail of a slab's intrusive free list. It can never be
// a valid object address because a slab's object area never spans the
// whole 32-bit address space.
const noFree uint32 = ^uint32(0)

// slab is one frame carved into Cache.objSize-sized slots. The header
// itself (this struct) lives on the Go heap rather than inside the frame,
// though the byte budget it would have cost is still subtracted via
// headerSlot.
// Only the free-list threading through *unallocated* objects is
// intrusive, written through the shared byte arena exactly like the C
// original.
type slab struct {
	next  *slab // singly linked; the owning list's removal scans for this node
	cache *Cache

	frameAddr uint32 // the raw frame this slab was carved from
	mem       uint32 // object area base = frameAddr + headerSlot

	nrObjs uint32
	nrFree uint32

	freelist uint32 // address of the first free object, or noFree
}

// createSlab requests one frame from the cache's frame source and lays
// out a fresh slab: header accounting up front, then an intrusive free
// list threaded through every object, object 0 pointing at object 1, ...,
// the last pointing at noFree.
func (c *Cache) createSlab() (*slab, error) {
	frameAddr, err := c.frames.AllocFrame()
	if err != nil {
		return nil, err
	}

	s := &slab{
		cache:     c,
		frameAddr: frameAddr,
		mem:       frameAddr + c.headerSlot,
		nrObjs:    c.objsPerSlab,
		nrFree:    c.objsPerSlab,
	}

	mem := c.frames.Bytes()
	for i := uint32(0); i < s.nrObjs; i++ {
		obj := s.mem + i*c.objSize
		var next uint32
		if i == s.nrObjs-1 {
			next = noFree
		} else {
			next = s.mem + (i+1)*c.objSize
		}
		binary.LittleEndian.PutUint32(mem[obj:obj+4], next)
	}
	s.freelist = s.mem

	diag.SlabCreated(context.Background(), c.name, frameAddr, s.nrObjs)
	return s, nil
}

// popFree removes and returns the head of the slab's free list. Callers
// must already hold the cache mutex and must have verified nrFree > 0.
func (s *slab) popFree(mem []byte) uint32 {
	obj := s.freelist
	s.freelist = binary.LittleEndian.Uint32(mem[obj : obj+4])
	s.nrFree--
	return obj
}

// pushFree links obj back onto the slab's free list. Callers must
// already hold the cache mutex.
func (s *slab) pushFree(mem []byte, obj uint32) {
	binary.LittleEndian.PutUint32(mem[obj:obj+4], s.freelist)
	s.freelist = obj
	s.nrFree++
}

// contains reports whether obj falls inside this slab's frame.
func (s *slab) contains(obj uint32) bool {
	return obj >= s.frameAddr && obj < s.frameAddr+s.cache.frameSize
}

// --- singly linked list helpers, mirroring slab_remove/slab_add_head ---

func listRemove(head **slab, target *slab) {
	if *head == target {
		*head = target.next
		target.next = nil
		return
	}
	for cur := *head; cur != nil; cur = cur.next {
		if cur.next == target {
			cur.next = target.next
			target.next = nil
			return
		}
	}
}

func listPush(head **slab, s *slab) {
	s.next = *head
	*head = s
}
