// Package kpanic implements the allocator's fatal-on-corruption contract.
//
// Exhaustion is recoverable and surfaces as an error return; corruption
// is not. A CorruptionError is never meant to be recovered by calling
// code — it signals that kernel memory has already been compromised, and
// continuing would only compound it. Treat a call into this package the
// same as a kernel abort, not as Go exception handling.
package kpanic

import (
	"fmt"

	"github.com/slabkernel/core/internal/klog"
)

// CorruptionError is the payload of a panic raised by Fatal. Recovering
// it to keep running is a contract violation: callers that catch a panic
// anywhere in this module must re-panic if the recovered value is a
// *CorruptionError.
type CorruptionError struct {
	Component string
	Message   string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Component, e.Message)
}

// Fatal logs a FATAL line through klog and then panics with a
// *CorruptionError. component identifies the subsystem (e.g. "pmm",
// "slab") and is included in both the log line and the panic value.
func Fatal(component, msg string, fields ...klog.Field) {
	klog.Fatal(fmt.Sprintf("%s: %s", component, msg), fields...)
	panic(&CorruptionError{Component: component, Message: msg})
}
