package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
)

// channel is the per-context debugging channel state. Its mutex serializes
// every command issued for one context. A closed channel stays in the map as
// a tombstone for its owner; only a new context with the same id replaces it.
type channel struct {
	owner   *browser.Context
	pending sync.WaitGroup
	closed  atomic.Bool

	mu       sync.Mutex
	attached bool
}

// LayoutBridge owns the debugging channel of every context: it is the only
// component that attaches or detaches. On dom-ready and did-navigate of a
// mobile-capable device it attaches when needed and issues the device metrics
// override.
type LayoutBridge struct {
	client *Client
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	channels map[string]*channel

	// OnAttached runs after a fresh attach, still serialized with the
	// context's other commands.
	OnAttached func(ctx context.Context, c *browser.Context)
}

var _ browser.Listener = (*LayoutBridge)(nil)

// NewLayoutBridge creates a LayoutBridge issuing commands through client.
func NewLayoutBridge(client *Client, logger *zap.Logger) *LayoutBridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &LayoutBridge{
		client:   client,
		log:      logger.Named("layout"),
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]*channel),
	}
}

// channelLocked returns the channel owned by c. Callers hold b.mu.
func (b *LayoutBridge) channelLocked(c *browser.Context) *channel {
	ch, ok := b.channels[c.ID()]
	if !ok || (ch.closed.Load() && ch.owner != c) {
		ch = &channel{owner: c}
		b.channels[c.ID()] = ch
	}
	return ch
}

func (b *LayoutBridge) channel(c *browser.Context) *channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channelLocked(c)
}

// Attached reports whether the debugging channel of a context is attached.
func (b *LayoutBridge) Attached(contextID string) bool {
	b.mu.Lock()
	ch, ok := b.channels[contextID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.attached && !ch.closed.Load()
}

// WithChannel runs fn while holding the context's channel, if it is attached.
// It reports whether fn ran.
func (b *LayoutBridge) WithChannel(contextID string, fn func()) bool {
	b.mu.Lock()
	ch, ok := b.channels[contextID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.attached || ch.closed.Load() {
		return false
	}
	fn()
	return true
}

// Sync attaches if needed and issues the metrics override with the
// rotation-aware size. Failures mark the context degraded; the next
// lifecycle event retries. It is a no-op once c has been torn down.
func (b *LayoutBridge) Sync(ctx context.Context, c *browser.Context) error {
	return b.sync(ctx, c, b.channel(c))
}

func (b *LayoutBridge) sync(ctx context.Context, c *browser.Context, ch *channel) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed.Load() {
		return nil
	}

	fresh := false
	if !ch.attached {
		if err := b.client.Attach(ctx, c.ID()); err != nil {
			c.SetEmulation(browser.EmulationDegraded, err.Error())
			return err
		}
		ch.attached = true
		fresh = true
	}

	d := c.Device()
	w, h := d.EffectiveSize(c.Rotated())
	if err := b.client.SetDeviceMetrics(ctx, c.ID(), w, h, d.IsMobileCapable); err != nil {
		c.SetEmulation(browser.EmulationDegraded, err.Error())
		return err
	}
	c.SetEmulation(browser.EmulationAttached, "")
	b.log.Debug("Device metrics applied.", zap.String("device_id", c.ID()), zap.Int64("width", w), zap.Int64("height", h))

	if fresh && b.OnAttached != nil {
		b.OnAttached(ctx, c)
	}
	return nil
}

// SyncAsync runs Sync in the background. Listener callbacks use it so the
// surface's event goroutine never blocks on a bridge round trip.
func (b *LayoutBridge) SyncAsync(c *browser.Context) {
	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		return
	}
	ch := b.channelLocked(c)
	if ch.closed.Load() {
		b.mu.Unlock()
		return
	}
	ch.pending.Add(1)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer ch.pending.Done()
		_ = b.sync(b.ctx, c, ch)
	}()
}

// OnLifecycleEvent triggers a sync on dom-ready and did-navigate of a
// mobile-capable device. Desktops keep their native metrics and are never
// attached.
func (b *LayoutBridge) OnLifecycleEvent(c *browser.Context, ev schemas.LifecycleEvent) {
	if !c.Device().IsMobileCapable {
		return
	}
	switch ev.Kind {
	case schemas.LifecycleDomReady, schemas.LifecycleDidNavigate:
		b.SyncAsync(c)
	}
}

func (b *LayoutBridge) OnConsoleMessage(*browser.Context, schemas.ConsoleMessage) {}
func (b *LayoutBridge) OnNetworkEvent(*browser.Context, schemas.NetworkEvent)     {}

// Teardown closes c's channel, waits for its background syncs and detaches
// if it was attached. Later syncs for c are no-ops; a new context mounted
// under the same id gets a fresh channel.
func (b *LayoutBridge) Teardown(ctx context.Context, c *browser.Context) {
	b.mu.Lock()
	ch := b.channelLocked(c)
	already := ch.closed.Swap(true)
	b.mu.Unlock()
	if already {
		return
	}
	ch.pending.Wait()

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.attached {
		ch.attached = false
		// Failures are already logged by the client.
		_ = b.client.Detach(ctx, c.ID())
	}
}

// Close stops background syncs and waits for the ones in flight.
func (b *LayoutBridge) Close() {
	b.mu.Lock()
	b.cancel()
	b.mu.Unlock()
	b.wg.Wait()
}
