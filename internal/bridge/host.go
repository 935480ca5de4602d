// Package bridge issues viewport and touch emulation commands to the host
// that owns the browser's debugging protocol connection.
package bridge

import "context"

// Host is the privileged side of the bridge. Every method must be safe to
// call on a context that is already detached or closed.
type Host interface {
	AttachDebugChannel(ctx context.Context, contextID string) error
	SetDeviceMetrics(ctx context.Context, contextID string, width, height int64, mobile bool) error
	SetTouchEmulation(ctx context.Context, contextID string, enabled bool) error
	DetachDebugChannel(ctx context.Context, contextID string) error
	OpenDevTools(ctx context.Context, contextID string, docked bool, label string) error
	CaptureScreenshot(ctx context.Context, filename, dataURI string) (string, error)
	SaveReport(ctx context.Context, filename, text string) (string, error)
	AppVersion() string
}
