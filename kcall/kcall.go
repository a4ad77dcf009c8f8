// Package kcall is the syscall-facing handle table that sits in front of
// the slab engine: user-visible cache handles are small integers, never
// raw *slab.Cache pointers, so a misbehaving caller can only ever name a
// handle it was actually issued. This mirrors sysslab.c's cache_table —
// a fixed array with linear-scan allocation, not a growable map, because
// the number of live caches in a kernel is small and bounded by policy,
// not by user input.
package kcall

import (
	"context"
	"errors"
	"sync"

	"github.com/slabkernel/core/diag"
	"github.com/slabkernel/core/slab"
)

// MaxCaches bounds the number of caches that can be live at once,
// matching original_source/kernel/sysslab.c's MAX_CACHES.
const MaxCaches = 64

var (
	// ErrTableFull is returned by Create when all MaxCaches slots are in use.
	ErrTableFull = errors.New("kcall: cache table full")
	// ErrBadHandle is returned whenever a caller names a handle outside
	// [0, MaxCaches) or one that does not currently hold a cache.
	ErrBadHandle = errors.New("kcall: invalid cache handle")
)

// Handle identifies a cache across the syscall boundary. The zero
// Handle is not special — unlike slab.NullObj, there is no reserved
// invalid handle value; validity is purely "currently occupied slot".
type Handle int

// Table is the process-wide (or namespace-wide) cache handle table.
// Construct it with NewTable; a zero Table has no frame source, so Create
// on it cannot build a cache.
type Table struct {
	frames slab.FrameSource

	mu     sync.Mutex
	caches [MaxCaches]*slab.Cache
}

// NewTable binds a handle table to the frame source every cache it
// creates will draw from.
func NewTable(frames slab.FrameSource) *Table {
	return &Table{frames: frames}
}

// Create allocates a new cache and returns the handle a caller must use
// to refer to it from now on. ctor/dtor may be nil.
func (t *Table) Create(ctx context.Context, name string, objSize, align uint32, ctor slab.Constructor, dtor slab.Destructor) (Handle, error) {
	c, err := slab.NewCache(t.frames, name, objSize, align, ctor, dtor)
	if err != nil {
		return -1, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.caches {
		if t.caches[i] == nil {
			t.caches[i] = c
			diag.CacheCreated(ctx, name, c.ObjSize(), align)
			return Handle(i), nil
		}
	}

	c.Destroy()
	return -1, ErrTableFull
}

// Alloc allocates one object from the cache named by h.
func (t *Table) Alloc(h Handle) (uint32, error) {
	c, err := t.lookup(h)
	if err != nil {
		return 0, err
	}
	return c.Alloc()
}

// Free returns an object to the cache named by h. An invalid handle is
// reported as an error rather than panicking — unlike slab.Cache.Free,
// the handle itself (not the object address) is the thing a confused
// caller is most likely to get wrong, and that is a normal, recoverable
// syscall-argument-validation failure, not heap corruption.
func (t *Table) Free(h Handle, obj uint32) error {
	c, err := t.lookup(h)
	if err != nil {
		return err
	}
	c.Free(obj)
	return nil
}

// Destroy tears down the cache named by h and releases its handle slot
// for reuse.
func (t *Table) Destroy(ctx context.Context, h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !h.valid() || t.caches[h] == nil {
		return ErrBadHandle
	}

	name := t.caches[h].Name()
	t.caches[h].Destroy()
	t.caches[h] = nil
	diag.CacheDestroyed(ctx, name)
	return nil
}

// Stats reports the handle's cache statistics.
func (t *Table) Stats(h Handle) (slab.Stats, error) {
	c, err := t.lookup(h)
	if err != nil {
		return slab.Stats{}, err
	}
	return c.Stats(), nil
}

func (t *Table) lookup(h Handle) (*slab.Cache, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !h.valid() || t.caches[h] == nil {
		return nil, ErrBadHandle
	}
	return t.caches[h], nil
}

func (h Handle) valid() bool { return h >= 0 && int(h) < MaxCaches }
