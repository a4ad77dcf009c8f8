package slab_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slabkernel/core/pmm"
	"github.com/slabkernel/core/slab"
)

func newFrames(t *testing.T, nFrames uint32) *pmm.Allocator {
	t.Helper()
	physSize := pmm.NSuper*pmm.SuperSize + nFrames*pmm.FrameSize
	region := make([]byte, physSize)
	a, err := pmm.NewAllocator(region, 0, physSize)
	require.NoError(t, err)
	return a
}

// S1 — Simple churn: 1024 iterations of (alloc, free) on a size=1024
// cache never grow past one slab.
func TestScenario_S1_SimpleChurn(t *testing.T) {
	frames := newFrames(t, 8)
	c, err := slab.NewCache(frames, "s", 1024, slab.DefaultAlign, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()

	for i := 0; i < 1024; i++ {
		obj, err := c.Alloc()
		require.NoError(t, err)
		c.Free(obj)
	}

	stats := c.Stats()
	assert.LessOrEqual(t, stats.EmptySlabs+stats.PartialSlabs+stats.FullSlabs, 1)
}

// S2 — Batch of 16 at 64 B, repeated 64 times; frames consumed must match
// the expected ceiling division.
func TestScenario_S2_BatchOf16(t *testing.T) {
	frames := newFrames(t, 64)
	c, err := slab.NewCache(frames, "batch64", 64, slab.DefaultAlign, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()

	objsPerSlab := c.ObjsPerSlab()
	expectedSlabs := ceilDiv(16, objsPerSlab)

	for i := 0; i < 64; i++ {
		var batch []uint32
		for j := 0; j < 16; j++ {
			obj, err := c.Alloc()
			require.NoError(t, err)
			batch = append(batch, obj)
		}
		for _, obj := range batch {
			c.Free(obj)
		}
	}

	stats := c.Stats()
	totalSlabs := stats.EmptySlabs + stats.PartialSlabs + stats.FullSlabs
	assert.Equal(t, expectedSlabs, uint32(totalSlabs))
}

func ceilDiv(total, per uint32) uint32 {
	if per == 0 {
		return 0
	}
	return (total + per - 1) / per
}

// S3 — Non-dividing size: size=80 does not divide FRAME_SIZE evenly.
func TestScenario_S3_NonDividingSize(t *testing.T) {
	frames := newFrames(t, 8)
	c, err := slab.NewCache(frames, "nd80", 80, slab.DefaultAlign, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()

	require.Greater(t, c.ObjsPerSlab(), uint32(0))
	require.LessOrEqual(t, c.ObjsPerSlab()*c.ObjSize(), uint32(pmm.FrameSize))

	objsPerSlab := int(c.ObjsPerSlab())
	for i := 0; i < 16; i++ {
		obj, err := c.Alloc()
		require.NoError(t, err)
		assert.Zero(t, obj%c.Align(), "address must be align-aligned")
		stats := c.Stats()
		if (i+1)%objsPerSlab == 0 {
			assert.Equal(t, (i+1)/objsPerSlab, stats.FullSlabs)
		}
	}
}

// S4 — Out-of-order free: allocate up to 64 (capped at one slab's worth),
// free in reverse, then even-then-odd; the single slab ends up empty.
func TestScenario_S4_OutOfOrderFree(t *testing.T) {
	frames := newFrames(t, 8)
	c, err := slab.NewCache(frames, "ooo", 64, slab.DefaultAlign, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()

	n := int(c.ObjsPerSlab())
	if n > 64 {
		n = 64
	}

	objs := make([]uint32, n)
	for i := range objs {
		obj, err := c.Alloc()
		require.NoError(t, err)
		objs[i] = obj
	}

	for i := len(objs) - 1; i >= 0; i-- {
		c.Free(objs[i])
	}

	// Re-allocate and free in even-then-odd order to exercise the same
	// slab again before the final drain.
	objs2 := make([]uint32, n)
	for i := range objs2 {
		obj, err := c.Alloc()
		require.NoError(t, err)
		objs2[i] = obj
	}
	for i := 0; i < len(objs2); i += 2 {
		c.Free(objs2[i])
	}
	for i := 1; i < len(objs2); i += 2 {
		c.Free(objs2[i])
	}

	stats := c.Stats()
	assert.Equal(t, 1, stats.EmptySlabs)
	assert.Equal(t, 0, stats.PartialSlabs)
	assert.Equal(t, 0, stats.FullSlabs)
}

// S5 — Cache destruction with live objects returns every frame to the
// frame allocator regardless.
func TestScenario_S5_DestroyWithLiveObjects(t *testing.T) {
	frames := newFrames(t, 8)
	c, err := slab.NewCache(frames, "livedestroy", 64, slab.DefaultAlign, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		_, err := c.Alloc()
		require.NoError(t, err)
	}

	c.Destroy()

	// All frames should be back on the frame free list: we should be
	// able to allocate 8 frames again without exhaustion.
	for i := 0; i < 8; i++ {
		_, err := frames.AllocFrame()
		require.NoError(t, err)
	}
}

// S6 — Invalid free is fatal: freeing an address belonging to another
// cache's slab panics.
func TestScenario_S6_CrossCacheFreeIsFatal(t *testing.T) {
	frames := newFrames(t, 8)
	c1, err := slab.NewCache(frames, "c1", 64, slab.DefaultAlign, nil, nil)
	require.NoError(t, err)
	defer c1.Destroy()

	c2, err := slab.NewCache(frames, "c2", 64, slab.DefaultAlign, nil, nil)
	require.NoError(t, err)
	defer c2.Destroy()

	obj, err := c2.Alloc()
	require.NoError(t, err)

	assert.Panics(t, func() { c1.Free(obj) })
}

// S7 — Cross-unit alloc/free: objects allocated by one goroutine, freed
// by another, then re-allocated; every dtor sees the ctor-written
// content, and ctor/dtor counts match the alloc/free counts.
func TestScenario_S7_CrossUnitAllocFree(t *testing.T) {
	frames := newFrames(t, 8)

	var ctorCalls, dtorCalls int
	ctor := func(obj []byte) {
		ctorCalls++
		for i := range obj {
			obj[i] = 0xAA
		}
	}
	dtor := func(obj []byte) {
		dtorCalls++
		assert.Equal(t, byte(0xAA), obj[0], "object must still carry ctor-written content at dtor time")
	}

	c, err := slab.NewCache(frames, "crossunit", 32, slab.DefaultAlign, ctor, dtor)
	require.NoError(t, err)
	defer c.Destroy()

	objs := make([]uint32, 0, 100)
	for i := 0; i < 100; i++ {
		obj, err := c.Alloc()
		require.NoError(t, err)
		objs = append(objs, obj)
	}

	// "unit B" frees everything.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, obj := range objs {
			c.Free(obj)
		}
	}()
	<-done

	objs2 := make([]uint32, 0, 100)
	for i := 0; i < 100; i++ {
		obj, err := c.Alloc()
		require.NoError(t, err)
		objs2 = append(objs2, obj)
	}

	assert.Equal(t, 200, ctorCalls)
	assert.Equal(t, 100, dtorCalls)
	for _, obj := range objs2 {
		c.Free(obj)
	}
}

// Property 2 — alignment: every returned object is align-aligned.
func TestProperty_Alignment(t *testing.T) {
	frames := newFrames(t, 8)
	c, err := slab.NewCache(frames, "align", 48, 16, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()

	for i := 0; i < int(c.ObjsPerSlab()); i++ {
		obj, err := c.Alloc()
		require.NoError(t, err)
		assert.Zero(t, obj%16)
	}
}

// Property 4 — classification: every slab is in the list matching its
// nr_free/nr_objs relationship, observed indirectly via Stats() across a
// sequence of partial fills.
func TestProperty_Classification(t *testing.T) {
	frames := newFrames(t, 8)
	c, err := slab.NewCache(frames, "classify", 64, slab.DefaultAlign, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()

	n := int(c.ObjsPerSlab())
	objs := make([]uint32, n)
	for i := 0; i < n; i++ {
		obj, err := c.Alloc()
		require.NoError(t, err)
		objs[i] = obj
		stats := c.Stats()
		if i < n-1 {
			assert.Equal(t, 1, stats.PartialSlabs)
			assert.Equal(t, 0, stats.FullSlabs)
		} else {
			assert.Equal(t, 0, stats.PartialSlabs)
			assert.Equal(t, 1, stats.FullSlabs)
		}
	}

	for i, obj := range objs {
		c.Free(obj)
		stats := c.Stats()
		if i < n-1 {
			assert.Equal(t, 1, stats.PartialSlabs)
		} else {
			assert.Equal(t, 1, stats.EmptySlabs)
		}
	}
}

// Property 6 — no cross-talk: an object from C1 never collides with a
// live object of C2.
func TestProperty_NoCrossTalk(t *testing.T) {
	frames := newFrames(t, 8)
	c1, err := slab.NewCache(frames, "x1", 64, slab.DefaultAlign, nil, nil)
	require.NoError(t, err)
	defer c1.Destroy()
	c2, err := slab.NewCache(frames, "x2", 64, slab.DefaultAlign, nil, nil)
	require.NoError(t, err)
	defer c2.Destroy()

	seen := map[uint32]bool{}
	for i := 0; i < 10; i++ {
		o1, err := c1.Alloc()
		require.NoError(t, err)
		o2, err := c2.Alloc()
		require.NoError(t, err)
		assert.NotEqual(t, o1, o2)
		assert.False(t, seen[o1])
		assert.False(t, seen[o2])
		seen[o1] = true
		seen[o2] = true
	}
}

// Property 8 — ctor/dtor counts across a closed session.
func TestProperty_CtorDtorCounts(t *testing.T) {
	frames := newFrames(t, 8)
	var ctorN, dtorN int
	c, err := slab.NewCache(frames, "counts", 32, slab.DefaultAlign,
		func(obj []byte) { ctorN++ },
		func(obj []byte) { dtorN++ },
	)
	require.NoError(t, err)
	defer c.Destroy()

	var objs []uint32
	for i := 0; i < 50; i++ {
		obj, err := c.Alloc()
		require.NoError(t, err)
		objs = append(objs, obj)
	}
	for _, obj := range objs {
		c.Free(obj)
	}

	assert.Equal(t, 50, ctorN)
	assert.Equal(t, 50, dtorN)
}

// Property 9 — idempotence of empty operations.
func TestProperty_NilNoOps(t *testing.T) {
	frames := newFrames(t, 8)
	c, err := slab.NewCache(frames, "noop", 32, slab.DefaultAlign, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()

	assert.NotPanics(t, func() { c.Free(slab.NullObj) })

	var nilCache *slab.Cache
	assert.NotPanics(t, func() { nilCache.Free(1) })
	assert.NotPanics(t, func() { nilCache.Destroy() })
}

func TestNewCache_RejectsBadInput(t *testing.T) {
	frames := newFrames(t, 2)

	_, err := slab.NewCache(frames, "", 32, 0, nil, nil)
	assert.ErrorIs(t, err, slab.ErrInvalidName)

	_, err = slab.NewCache(frames, "zero", 0, 0, nil, nil)
	assert.ErrorIs(t, err, slab.ErrInvalidSize)

	_, err = slab.NewCache(frames, "huge", pmm.FrameSize*2, 0, nil, nil)
	assert.ErrorIs(t, err, slab.ErrObjectTooLarge)
}

func TestCacheAlloc_ExhaustsUnderlyingFrames(t *testing.T) {
	frames := newFrames(t, 1)
	c, err := slab.NewCache(frames, "tiny", pmm.FrameSize/2, 0, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()

	n := int(c.ObjsPerSlab())
	for i := 0; i < n; i++ {
		_, err := c.Alloc()
		require.NoError(t, err)
	}

	_, err = c.Alloc()
	assert.ErrorIs(t, err, pmm.ErrFramesExhausted)
}
