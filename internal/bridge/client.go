package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/internal/config"
)

// Client wraps a Host with per-call timeouts. Idempotent commands are retried
// after a timeout; everything else runs once.
type Client struct {
	host    Host
	timeout time.Duration
	retries int
	log     *zap.Logger
}

// NewClient creates a Client from the bridge configuration.
func NewClient(host Host, cfg config.BridgeConfig, logger *zap.Logger) *Client {
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Client{host: host, timeout: timeout, retries: retries, log: logger.Named("bridge")}
}

func (c *Client) call(ctx context.Context, op, contextID string, idempotent bool, fn func(context.Context) error) error {
	attempts := 1
	if idempotent {
		attempts += c.retries
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		// Only a timeout of this call is worth another try.
		if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			c.log.Debug("Bridge command timed out, retrying.",
				zap.String("op", op), zap.String("device_id", contextID), zap.Int("attempt", attempt))
		}
	}

	c.log.Warn("Bridge command failed.", zap.String("op", op), zap.String("device_id", contextID), zap.Error(err))
	return fmt.Errorf("bridge: %s: %w", op, err)
}

func (c *Client) Attach(ctx context.Context, contextID string) error {
	return c.call(ctx, "attach", contextID, true, func(ctx context.Context) error {
		return c.host.AttachDebugChannel(ctx, contextID)
	})
}

func (c *Client) Detach(ctx context.Context, contextID string) error {
	return c.call(ctx, "detach", contextID, true, func(ctx context.Context) error {
		return c.host.DetachDebugChannel(ctx, contextID)
	})
}

func (c *Client) SetDeviceMetrics(ctx context.Context, contextID string, width, height int64, mobile bool) error {
	return c.call(ctx, "set-device-metrics", contextID, true, func(ctx context.Context) error {
		return c.host.SetDeviceMetrics(ctx, contextID, width, height, mobile)
	})
}

func (c *Client) SetTouchEmulation(ctx context.Context, contextID string, enabled bool) error {
	return c.call(ctx, "set-touch-emulation", contextID, true, func(ctx context.Context) error {
		return c.host.SetTouchEmulation(ctx, contextID, enabled)
	})
}

func (c *Client) OpenDevTools(ctx context.Context, contextID string, docked bool, label string) error {
	return c.call(ctx, "open-devtools", contextID, false, func(ctx context.Context) error {
		return c.host.OpenDevTools(ctx, contextID, docked, label)
	})
}

// CaptureScreenshot stores a data URI image and returns the saved path.
func (c *Client) CaptureScreenshot(ctx context.Context, filename, dataURI string) (string, error) {
	var path string
	err := c.call(ctx, "capture-screenshot", "", false, func(ctx context.Context) error {
		var err error
		path, err = c.host.CaptureScreenshot(ctx, filename, dataURI)
		return err
	})
	return path, err
}

// SaveReport stores a text report and returns the saved path.
func (c *Client) SaveReport(ctx context.Context, filename, text string) (string, error) {
	var path string
	err := c.call(ctx, "save-report", "", false, func(ctx context.Context) error {
		var err error
		path, err = c.host.SaveReport(ctx, filename, text)
		return err
	})
	return path, err
}

func (c *Client) AppVersion() string { return c.host.AppVersion() }
