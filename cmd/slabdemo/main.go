// Command slabdemo boots a small in-process physical memory region, wires
// it into a slab cache, and drives a handful of allocations through the
// kcall handle table — a smoke test for the whole stack without a real
// kernel underneath it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/slabkernel/core/internal/klog"
	"github.com/slabkernel/core/kcall"
	"github.com/slabkernel/core/pmm"
)

// requestSize is the object size the demo cache is built for — a small
// fixed-layout record, the kind of thing a kernel subsystem would carve
// out of its own slab cache instead of going through a general allocator.
const requestSize = 36

func main() {
	log := klog.Default("slabdemo")
	log.Info("slabdemo starting")

	const physSize = pmm.NSuper*pmm.SuperSize + 64*pmm.FrameSize
	region := make([]byte, physSize)

	allocator, err := pmm.NewAllocator(region, 0, physSize)
	if err != nil {
		log.Error("pmm init failed", klog.Err(err))
		os.Exit(1)
	}

	ctx := context.Background()
	table := kcall.NewTable(allocator)

	handle, err := table.Create(ctx, "request_cache", requestSize, 8, nil, nil)
	if err != nil {
		log.Error("cache create failed", klog.Err(err))
		os.Exit(1)
	}

	var live []uint32
	for i := 0; i < 10; i++ {
		obj, err := table.Alloc(handle)
		if err != nil {
			log.Error("alloc failed", klog.Err(err), klog.Int("i", i))
			break
		}
		live = append(live, obj)
	}

	stats, _ := table.Stats(handle)
	fmt.Printf("cache %q: objSize=%d objsPerSlab=%d partial=%d full=%d empty=%d\n",
		stats.Name, stats.ObjSize, stats.ObjsPerSlab, stats.PartialSlabs, stats.FullSlabs, stats.EmptySlabs)

	for _, obj := range live {
		if err := table.Free(handle, obj); err != nil {
			log.Error("free failed", klog.Err(err))
		}
	}

	if err := table.Destroy(ctx, handle); err != nil {
		log.Error("destroy failed", klog.Err(err))
		os.Exit(1)
	}

	log.Info("slabdemo finished")
}
