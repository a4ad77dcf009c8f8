// Package diag provides coarse-grained tracing for cache lifecycle
// events — cache creation/destruction and slab creation — the same way
// the wider example corpus wraps OpenTelemetry around significant,
// low-frequency events rather than hot-path calls. Alloc/Free are
// deliberately NOT traced here: at millions of calls per second they
// would dwarf the cost of the allocator itself.
//
// By default diag is a no-op: nothing is exported unless a host
// installs a real TracerProvider via SetTracerProvider.
package diag

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	noop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "slabkernel/slab"

var tracer trace.Tracer = noop.NewTracerProvider().Tracer(instrumentationName)

// SetTracerProvider installs a real TracerProvider (e.g. one backed by
// an in-process exporter a host wires up) in place of the default no-op.
// Call it once during boot, before any cache is created.
func SetTracerProvider(tp trace.TracerProvider) {
	tracer = tp.Tracer(instrumentationName)
}

// CacheCreated records that a cache came into existence.
func CacheCreated(ctx context.Context, name string, objSize, align uint32) {
	_, span := tracer.Start(ctx, "cache_create",
		trace.WithAttributes(
			attribute.String("cache.name", name),
			attribute.Int64("cache.obj_size", int64(objSize)),
			attribute.Int64("cache.align", int64(align)),
		))
	span.End()
}

// CacheDestroyed records that a cache was torn down.
func CacheDestroyed(ctx context.Context, name string) {
	_, span := tracer.Start(ctx, "cache_destroy",
		trace.WithAttributes(attribute.String("cache.name", name)))
	span.End()
}

// SlabCreated records that a cache grew by one slab (one frame carved
// into objects). This is the only per-allocation-ish event traced,
// since it happens orders of magnitude less often than Alloc/Free.
func SlabCreated(ctx context.Context, cacheName string, frameAddr uint32, objsPerSlab uint32) {
	_, span := tracer.Start(ctx, "slab_create",
		trace.WithAttributes(
			attribute.String("cache.name", cacheName),
			attribute.Int64("slab.frame_addr", int64(frameAddr)),
			attribute.Int64("slab.objs_per_slab", int64(objsPerSlab)),
		))
	span.End()
}

// Tracer exposes the installed tracer directly for callers that want to
// start their own spans (e.g. the kcall syscall surface wrapping a whole
// batch of cache operations in one span).
func Tracer() trace.Tracer { return tracer }
