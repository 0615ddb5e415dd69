// internal/browser/session/context.go
package session

import (
	"context"
)

// CombineContext returns a context that carries the values of primary (for
// chromedp, the browser target) and is cancelled when either primary or
// secondary (the operation deadline) is done. When secondary ends first its
// cause is kept, so context.Cause reports context.DeadlineExceeded for a
// timed out operation.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(secondary, func() {
		cancel(context.Cause(secondary))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach returns a context that keeps the values of ctx but not its deadline
// or cancellation. Teardown runs on a detached context so a cancelled job can
// still close its browser.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
