package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/internal/browser"
)

// TouchBridge applies the global touch toggle over channels the layout half
// has already attached. It never attaches, detaches or touches metrics.
type TouchBridge struct {
	client *Client
	layout *LayoutBridge
	log    *zap.Logger
}

// NewTouchBridge creates a TouchBridge sharing layout's channels.
func NewTouchBridge(client *Client, layout *LayoutBridge, logger *zap.Logger) *TouchBridge {
	return &TouchBridge{client: client, layout: layout, log: logger.Named("touch")}
}

// Apply sets touch emulation for one context. It is skipped, returning false,
// when the channel is not attached.
func (t *TouchBridge) Apply(ctx context.Context, c *browser.Context, enabled bool) (bool, error) {
	var err error
	ran := t.layout.WithChannel(c.ID(), func() {
		err = t.apply(ctx, c, enabled)
	})
	if !ran {
		t.log.Debug("Touch emulation deferred until attach.", zap.String("device_id", c.ID()))
	}
	return ran, err
}

// ApplyAttached is Apply for callers already holding the channel, such as
// the layout bridge's OnAttached hook.
func (t *TouchBridge) ApplyAttached(ctx context.Context, c *browser.Context, enabled bool) error {
	return t.apply(ctx, c, enabled)
}

func (t *TouchBridge) apply(ctx context.Context, c *browser.Context, enabled bool) error {
	if err := t.client.SetTouchEmulation(ctx, c.ID(), enabled); err != nil {
		c.SetEmulation(browser.EmulationDegraded, err.Error())
		return err
	}
	return nil
}
