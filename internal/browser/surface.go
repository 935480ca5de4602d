// File: internal/browser/surface.go
package browser

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/xkilldash9x/humshakals/api/schemas"
)

var (
	// ErrNotAvailable is returned when a navigation capability (back, forward,
	// reload) is not currently available.
	ErrNotAvailable = errors.New("operation not available")
	// ErrClosed is returned by every operation on a closed context.
	ErrClosed = errors.New("browsing context is closed")
)

// AbortErrorCode is the navigation error code for a load the user or a newer
// navigation aborted. It never puts a context into the failed state.
const AbortErrorCode = -3

// Surface is one browsing surface bound to an isolated storage partition.
// It is implemented by the CDP host and by test fakes.
type Surface interface {
	// TargetID identifies the surface to the host, and correlates network events.
	TargetID() string
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	CanGoBack(ctx context.Context) (bool, error)
	CanGoForward(ctx context.Context) (bool, error)
	Evaluate(ctx context.Context, code string) (json.RawMessage, error)
	// CaptureScreenshot returns a PNG of the currently rendered content.
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	// Attach routes the surface's events to sink until the returned func is called.
	Attach(sink Sink) (detach func())
	Close(ctx context.Context) error
}

// Sink receives the raw events of one surface.
type Sink interface {
	HandleLifecycle(ev schemas.LifecycleEvent)
	HandleConsole(msg schemas.ConsoleMessage)
	HandleNetwork(ev schemas.NetworkEvent)
}

// Listener is the capability interface for context subscribers. Callbacks
// run outside the context's lock and may call back into it.
type Listener interface {
	OnLifecycleEvent(c *Context, ev schemas.LifecycleEvent)
	OnConsoleMessage(c *Context, msg schemas.ConsoleMessage)
	OnNetworkEvent(c *Context, ev schemas.NetworkEvent)
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Lifecycle func(c *Context, ev schemas.LifecycleEvent)
	Console   func(c *Context, msg schemas.ConsoleMessage)
	Network   func(c *Context, ev schemas.NetworkEvent)
}

func (f ListenerFuncs) OnLifecycleEvent(c *Context, ev schemas.LifecycleEvent) {
	if f.Lifecycle != nil {
		f.Lifecycle(c, ev)
	}
}

func (f ListenerFuncs) OnConsoleMessage(c *Context, msg schemas.ConsoleMessage) {
	if f.Console != nil {
		f.Console(c, msg)
	}
}

func (f ListenerFuncs) OnNetworkEvent(c *Context, ev schemas.NetworkEvent) {
	if f.Network != nil {
		f.Network(c, ev)
	}
}
