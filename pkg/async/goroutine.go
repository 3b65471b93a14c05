// Package async provides a safe goroutine helper with panic recovery,
// timeouts, and context cancellation. Used for fire-and-forget work like
// audit writes so the billing hot path never blocks on them.
package async

import (
	"context"
	"log"
	"runtime/debug"
	"time"
)

// SafeGo executes a function in a goroutine with context cancellation,
// panic recovery, timeout enforcement, and error logging. Use instead of
// a bare `go func()`.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SafeGo] PANIC in %s: %v\nStack trace:\n%s",
					taskName, r, string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			log.Printf("[SafeGo] Error in %s: %v", taskName, err)
		}
	}()
}
