// Package pmm is the physical-frame allocator the slab engine is built
// on. It owns a single contiguous byte arena handed to it at boot and
// hands out two fixed size classes — 4 KiB frames and 2 MiB
// super-frames — from independent, separately-locked free lists.
//
// Addresses are uint32 offsets into that arena rather than raw pointers:
// the arena stands in for physical RAM, and every "next free" link is
// read and written through the arena slice itself (the intrusive
// free-list idiom from the C original, re-expressed as bounds-checked
// slice access instead of pointer-cast tricks).
package pmm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/slabkernel/core/internal/klog"
	"github.com/slabkernel/core/internal/kpanic"
)

const (
	// FrameSize is the size of one physical page.
	FrameSize = 4096
	// SuperSize is the size of one superpage (2 MiB).
	SuperSize = 2 * 1024 * 1024
	// NSuper is the fixed count of superpages reserved at Init time.
	NSuper = 8

	// FramePoison is written across a frame before it is linked back
	// onto the free list, to surface use-after-free.
	FramePoison byte = 0x01
	// FrameJunk is written across a frame handed out by AllocFrame;
	// contents are unspecified by contract, this just makes reuse of
	// stale data visible in practice.
	FrameJunk byte = 0x05

	// nullAddr marks "no next node" in either free list. It can never
	// be a valid frame/super-frame address because it is not a multiple
	// of FrameSize, and every address on either list is.
	nullAddr uint32 = ^uint32(0)
)

var (
	// ErrFramesExhausted is returned by AllocFrame when the 4 KiB free
	// list is empty. Not fatal — callers decide how to react.
	ErrFramesExhausted = errors.New("pmm: no free frame")
	// ErrSuperExhausted is returned by AllocSuper when the super-frame
	// free list is empty.
	ErrSuperExhausted = errors.New("pmm: no free super-frame")
	// ErrRegionTooSmall is returned by NewAllocator when the supplied
	// region cannot even fit the reserved superpage prefix.
	ErrRegionTooSmall = errors.New("pmm: region too small to reserve superpages")
)

// Allocator is the physical frame/super-frame allocator. Its zero value
// is not usable; construct with NewAllocator.
type Allocator struct {
	mem       []byte
	kernelEnd uint32
	physTop   uint32

	superBase uint32 // start of the reserved superpage prefix
	superTop  uint32 // end of the reserved superpage prefix (== frame region start)

	frameMu   sync.Mutex
	frameHead uint32

	superMu   sync.Mutex
	superHead uint32
}

// NewAllocator reserves the leading superpage prefix of region and
// threads the remainder onto the 4 KiB free list. region represents the
// physical range [kernelEnd, physTop); region[i] is the byte at address
// kernelEnd+i, so len(region) must equal physTop-kernelEnd.
func NewAllocator(region []byte, kernelEnd, physTop uint32) (*Allocator, error) {
	if physTop <= kernelEnd || uint32(len(region)) != physTop-kernelEnd {
		return nil, fmt.Errorf("pmm: region length %d does not match [%d, %d)", len(region), kernelEnd, physTop)
	}

	superBase := roundUp(kernelEnd, SuperSize)
	superTop := superBase + NSuper*SuperSize
	if superTop > physTop {
		return nil, ErrRegionTooSmall
	}

	a := &Allocator{
		mem:       region,
		kernelEnd: kernelEnd,
		physTop:   physTop,
		superBase: superBase,
		superTop:  superTop,
		frameHead: nullAddr,
		superHead: nullAddr,
	}

	for addr := superBase; addr < superTop; addr += SuperSize {
		a.fill(addr, SuperSize, FramePoison)
		a.pushSuperLocked(addr)
	}
	for addr := alignUp(superTop, FrameSize); addr+FrameSize <= physTop; addr += FrameSize {
		a.fill(addr, FrameSize, FramePoison)
		a.pushFrameLocked(addr)
	}

	return a, nil
}

// Bytes exposes the backing arena. Callers (the slab engine, ctor/dtor
// closures) index into it using the addresses this allocator hands out.
func (a *Allocator) Bytes() []byte { return a.mem }

// FrameSize reports the fixed frame size this allocator hands out,
// satisfying slab.FrameSource.
func (a *Allocator) FrameSize() uint32 { return FrameSize }

// KernelEnd returns the lower bound of the managed region.
func (a *Allocator) KernelEnd() uint32 { return a.kernelEnd }

// PhysTop returns the upper bound (exclusive) of the managed region.
func (a *Allocator) PhysTop() uint32 { return a.physTop }

// AllocFrame returns one 4 KiB-aligned frame, or ErrFramesExhausted if
// none remain. Never panics.
func (a *Allocator) AllocFrame() (uint32, error) {
	a.frameMu.Lock()
	addr := a.frameHead
	if addr == nullAddr {
		a.frameMu.Unlock()
		return 0, ErrFramesExhausted
	}
	a.frameHead = a.readNext(addr)
	a.frameMu.Unlock()

	a.fill(addr, FrameSize, FrameJunk)
	return addr, nil
}

// FreeFrame returns a frame obtained from AllocFrame. addr must be
// 4 KiB-aligned, inside the frame region and not already on the free
// list; any violation (including a double free) is a fatal corruption
// signal and panics via internal/kpanic.
func (a *Allocator) FreeFrame(addr uint32) {
	if !a.isFrameAddr(addr) {
		kpanic.Fatal("pmm", "free_frame: invalid address", klog.Uint32("addr", addr))
	}

	a.frameMu.Lock()
	for p := a.frameHead; p != nullAddr; p = a.readNext(p) {
		if p == addr {
			a.frameMu.Unlock()
			kpanic.Fatal("pmm", "free_frame: double free", klog.Uint32("addr", addr))
		}
	}
	a.frameMu.Unlock()

	a.fill(addr, FrameSize, FramePoison)

	a.frameMu.Lock()
	a.writeNext(addr, a.frameHead)
	a.frameHead = addr
	a.frameMu.Unlock()
}

// AllocSuper returns one 2 MiB-aligned, zero-filled superpage, or
// ErrSuperExhausted if all NSuper superpages are in use.
func (a *Allocator) AllocSuper() (uint32, error) {
	a.superMu.Lock()
	addr := a.superHead
	if addr == nullAddr {
		a.superMu.Unlock()
		return 0, ErrSuperExhausted
	}
	a.superHead = a.readNext(addr)
	a.superMu.Unlock()

	a.fill(addr, SuperSize, 0)
	return addr, nil
}

// FreeSuper returns a superpage obtained from AllocSuper. addr must lie
// in the reserved superpage region and be 2 MiB-aligned; any violation
// panics via internal/kpanic.
func (a *Allocator) FreeSuper(addr uint32) {
	if !a.isSuperAddr(addr) {
		kpanic.Fatal("pmm", "free_super: invalid address", klog.Uint32("addr", addr))
	}

	a.fill(addr, SuperSize, FramePoison)

	a.superMu.Lock()
	a.writeNext(addr, a.superHead)
	a.superHead = addr
	a.superMu.Unlock()
}

func (a *Allocator) isFrameAddr(addr uint32) bool {
	frameStart := alignUp(a.superTop, FrameSize)
	return addr%FrameSize == 0 && addr >= frameStart && addr < a.physTop
}

func (a *Allocator) isSuperAddr(addr uint32) bool {
	return addr%SuperSize == 0 && addr >= a.superBase && addr < a.superTop
}

func (a *Allocator) idx(addr uint32) uint32 { return addr - a.kernelEnd }

func (a *Allocator) readNext(addr uint32) uint32 {
	i := a.idx(addr)
	return binary.LittleEndian.Uint32(a.mem[i : i+4])
}

func (a *Allocator) writeNext(addr, next uint32) {
	i := a.idx(addr)
	binary.LittleEndian.PutUint32(a.mem[i:i+4], next)
}

func (a *Allocator) fill(addr uint32, size uint32, b byte) {
	i := a.idx(addr)
	region := a.mem[i : i+size]
	for j := range region {
		region[j] = b
	}
}

// pushFrameLocked/pushSuperLocked are used only during NewAllocator,
// where no concurrent access is possible yet; they skip the lock
// acquire/release pair that AllocFrame/FreeFrame perform.
func (a *Allocator) pushFrameLocked(addr uint32) {
	a.writeNext(addr, a.frameHead)
	a.frameHead = addr
}

func (a *Allocator) pushSuperLocked(addr uint32) {
	a.writeNext(addr, a.superHead)
	a.superHead = addr
}

func roundUp(n, m uint32) uint32  { return ((n + m - 1) / m) * m }
func alignUp(n, m uint32) uint32  { return roundUp(n, m) }

