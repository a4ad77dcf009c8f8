// Package slab implements the type-specialized object cache layered on
// top of a page-frame source: a Cache carves frames obtained from a
// FrameSource into fixed-size objects, threads an intrusive free list
// through the unallocated ones, and keeps every slab classified into
// empty/partial/full so Alloc takes a slab with a free object from a
// list head instead of searching. Free finds an object's slab by a linear
// scan of the cache's three slab lists.
package slab

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/slabkernel/core/internal/kpanic"
)

const (
	// CacheNameMax bounds a cache's human-readable name.
	CacheNameMax = 32
	// DefaultAlign is the alignment callers conventionally pass when
	// they want cache-line packing; it is never applied implicitly.
	DefaultAlign = 64

	// pointerSize is the width of the intrusive free-list link this
	// package threads through free objects. Addresses in this module
	// are uint32 offsets into a FrameSource's byte arena, so a "machine
	// pointer" here is 4 bytes, not 8.
	pointerSize = 4

	// NullObj is never a valid object address; Free and Destroy treat
	// it (and a nil *Cache) as a no-op, matching the source's
	// free(cache, NULL) / cache_destroy(NULL) contract.
	NullObj uint32 = ^uint32(0)
)

// Constructor initializes a freshly popped object before it is handed to
// the caller. It runs outside the cache mutex.
type Constructor func(obj []byte)

// Destructor tears down an object before it is returned to the cache. It
// runs before the cache mutex is acquired.
type Destructor func(obj []byte)

// FrameSource is the page-frame provider a Cache carves slabs from. A
// *pmm.Allocator satisfies this directly; tests use smaller fakes.
type FrameSource interface {
	FrameSize() uint32
	AllocFrame() (uint32, error)
	FreeFrame(addr uint32)
	Bytes() []byte
}

var (
	// ErrInvalidName rejects an empty or over-long cache name.
	ErrInvalidName = errors.New("slab: invalid cache name")
	// ErrInvalidSize rejects a zero object size.
	ErrInvalidSize = errors.New("slab: object size must be > 0")
	// ErrObjectTooLarge is returned when even one object plus the slab
	// header would not fit inside a single frame.
	ErrObjectTooLarge = errors.New("slab: object size too large for one frame")
)

// headerLayout exists only so unsafe.Sizeof gives us a realistic
// accounting for the bytes a slab header would cost if it were
// serialized inline at the front of the frame, the way the C original
// does it. The real header is the slab struct on the Go heap; this type
// is never instantiated.
type headerLayout struct {
	next     uint32
	mem      uint32
	nrObjs   uint32
	nrFree   uint32
	freelist uint32
}

var headerSize = uint32(unsafe.Sizeof(headerLayout{}))

// Cache is a named, typed object pool. The zero value is not usable;
// construct with NewCache.
type Cache struct {
	name       string
	objSize    uint32 // aligned, pointer-floored object size
	align      uint32
	headerSlot uint32 // bytes reserved at each frame's front for header accounting
	frameSize  uint32
	objsPerSlab uint32

	ctor Constructor
	dtor Destructor

	frames FrameSource

	mu      sync.Mutex
	partial *slab
	full    *slab
	empty   *slab
}

// NewCache creates a cache of objects of the given size, aligned to
// align (0 means no rounding — the caller accepts natural packing, per
// the resolved open question in SPEC_FULL.md §4.2). ctor and dtor may be
// nil. No slabs are created eagerly.
func NewCache(frames FrameSource, name string, size, align uint32, ctor Constructor, dtor Destructor) (*Cache, error) {
	if name == "" || len(name) > CacheNameMax {
		return nil, ErrInvalidName
	}
	if size == 0 {
		return nil, ErrInvalidSize
	}

	objSize := alignSize(size, align)
	if objSize < pointerSize {
		objSize = pointerSize
	}

	frameSize := frames.FrameSize()
	headerSlot := alignSize(headerSize, align)
	if headerSlot >= frameSize || objSize > frameSize-headerSlot {
		return nil, ErrObjectTooLarge
	}

	objsPerSlab := (frameSize - headerSlot) / objSize
	if objsPerSlab < 1 {
		return nil, ErrObjectTooLarge
	}

	return &Cache{
		name:        name,
		objSize:     objSize,
		align:       align,
		headerSlot:  headerSlot,
		frameSize:   frameSize,
		objsPerSlab: objsPerSlab,
		ctor:        ctor,
		dtor:        dtor,
		frames:      frames,
	}, nil
}

// alignSize rounds size up to align, unless align is 0 in which case
// size passes through unchanged (matches original_source/kernel/slab.c
// align_size: align==0 means "no rounding", not "use a default").
func alignSize(size, align uint32) uint32 {
	if align == 0 {
		return size
	}
	return (size + align - 1) &^ (align - 1)
}

// Name, ObjSize, Align, ObjsPerSlab expose the cache's fixed parameters.
func (c *Cache) Name() string       { return c.name }
func (c *Cache) ObjSize() uint32    { return c.objSize }
func (c *Cache) Align() uint32      { return c.align }
func (c *Cache) ObjsPerSlab() uint32 { return c.objsPerSlab }

// Destroy drains every slab this cache ever created, returning each
// frame to the frame source, then discards the cache's own state. It is
// the caller's responsibility to ensure no outstanding objects remain —
// destroying a cache with live objects is undefined, per spec.
//
// Destroy is nil-receiver safe: Destroy(nil) (or calling it on a nil
// *Cache) is a no-op, mirroring cache_destroy(NULL).
func (c *Cache) Destroy() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, head := range []**slab{&c.partial, &c.full, &c.empty} {
		for *head != nil {
			s := *head
			*head = s.next
			c.frames.FreeFrame(s.frameAddr)
		}
	}
}

// Alloc returns one object from the cache, creating a new slab if no
// partial or empty slab can satisfy the request. It returns an error
// only on frame exhaustion — never for any other reason, since a *Cache
// obtained from NewCache is always otherwise well-formed.
func (c *Cache) Alloc() (uint32, error) {
	c.mu.Lock()

	s, fromEmpty, err := c.sourceSlabLocked()
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}

	mem := c.frames.Bytes()
	obj := s.popFree(mem)
	c.reclassifyAfterAllocLocked(s, fromEmpty)

	c.mu.Unlock()

	if c.ctor != nil {
		c.ctor(mem[obj : obj+c.objSize])
	}
	return obj, nil
}

// sourceSlabLocked picks partial > empty > freshly created. Caller must
// hold c.mu.
func (c *Cache) sourceSlabLocked() (s *slab, fromEmpty bool, err error) {
	if c.partial != nil {
		return c.partial, false, nil
	}
	if c.empty != nil {
		return c.empty, true, nil
	}
	s, err = c.createSlab()
	if err != nil {
		return nil, false, err
	}
	// A newly created slab is not yet linked into any list; the caller
	// links it in during reclassifyAfterAllocLocked once the first
	// object has been popped, matching the source's behavior of never
	// inserting a fresh slab into `empty`.
	return s, false, nil
}

func (c *Cache) reclassifyAfterAllocLocked(s *slab, fromEmpty bool) {
	switch {
	case s.nrFree == 0:
		if fromEmpty {
			listRemove(&c.empty, s)
		}
		// A brand new slab or one already unlinked has next == nil;
		// listRemove on a list that doesn't contain it is a no-op.
		listRemove(&c.partial, s)
		listPush(&c.full, s)
	case fromEmpty:
		listRemove(&c.empty, s)
		listPush(&c.partial, s)
	case s.next == nil && c.partial != s:
		// Freshly created slab, still partial, not yet linked anywhere.
		listPush(&c.partial, s)
	}
}

// Free returns obj to its owning slab. A nil *Cache or obj == NullObj is
// a silent no-op. Any object that cannot be matched to one of this
// cache's slabs, or whose offset is misaligned, is a fatal corruption
// signal and panics via internal/kpanic.
func (c *Cache) Free(obj uint32) {
	if c == nil || obj == NullObj {
		return
	}

	mem := c.frames.Bytes()
	if c.dtor != nil {
		c.dtor(mem[obj : obj+c.objSize])
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.findOwningSlabLocked(obj)
	if s == nil {
		kpanic.Fatal("slab", fmt.Sprintf("free: object 0x%x belongs to no slab of cache %q", obj, c.name))
	}

	rel := obj - s.mem
	if obj < s.mem || rel%c.objSize != 0 || obj+c.objSize > s.mem+s.nrObjs*c.objSize {
		kpanic.Fatal("slab", fmt.Sprintf("free: object 0x%x misaligned in cache %q", obj, c.name))
	}

	wasFull := s.nrFree == 0
	s.pushFree(mem, obj)

	switch {
	case s.nrFree == s.nrObjs:
		listRemove(&c.full, s)
		listRemove(&c.partial, s)
		listPush(&c.empty, s)
	case wasFull:
		listRemove(&c.full, s)
		listPush(&c.partial, s)
	}
}

// findOwningSlabLocked scans partial, then full, then empty — matching
// kmem_cache_free's check order in the source. Caller must hold c.mu.
func (c *Cache) findOwningSlabLocked(obj uint32) *slab {
	for _, head := range []*slab{c.partial, c.full, c.empty} {
		for s := head; s != nil; s = s.next {
			if s.contains(obj) {
				return s
			}
		}
	}
	return nil
}

// Stats is a point-in-time snapshot of a cache's slab population.
type Stats struct {
	Name        string
	ObjSize     uint32
	ObjsPerSlab uint32
	EmptySlabs  int
	PartialSlabs int
	FullSlabs   int
}

// Stats reports the current slab classification counts.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Name:         c.name,
		ObjSize:      c.objSize,
		ObjsPerSlab:  c.objsPerSlab,
		EmptySlabs:   listLen(c.empty),
		PartialSlabs: listLen(c.partial),
		FullSlabs:    listLen(c.full),
	}
}

func listLen(head *slab) int {
	n := 0
	for s := head; s != nil; s = s.next {
		n++
	}
	return n
}
