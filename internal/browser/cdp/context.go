// internal/browser/cdp/context.go
package cdp

import (
	"context"
	"time"
)

// CombineContext derives a context from session that is also canceled when op
// is done. Values (the chromedp target) come from session; op usually only
// carries the caller's deadline.
func CombineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(session)
	go func() {
		select {
		case <-op.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// valueOnlyContext keeps the parent's values but drops its deadline and
// cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context carrying ctx's values that outlives ctx. Used for
// teardown commands issued after the surface context is already canceled.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
