package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
	"github.com/xkilldash9x/humshakals/internal/browser/browsertest"
	"github.com/xkilldash9x/humshakals/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeHost records every command. hang makes the next N calls block until
// their context expires.
type fakeHost struct {
	mu    sync.Mutex
	calls []string
	hang  int
	fail  map[string]error
}

func newFakeHost() *fakeHost { return &fakeHost{fail: map[string]error{}} }

func (h *fakeHost) record(ctx context.Context, op string) error {
	h.mu.Lock()
	h.calls = append(h.calls, op)
	hang := h.hang > 0
	if hang {
		h.hang--
	}
	err := h.fail[op]
	h.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (h *fakeHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *fakeHost) AttachDebugChannel(ctx context.Context, id string) error {
	return h.record(ctx, "attach:"+id)
}

func (h *fakeHost) SetDeviceMetrics(ctx context.Context, id string, w, hh int64, mobile bool) error {
	return h.record(ctx, fmt.Sprintf("metrics:%s:%dx%d:%t", id, w, hh, mobile))
}

func (h *fakeHost) SetTouchEmulation(ctx context.Context, id string, enabled bool) error {
	return h.record(ctx, fmt.Sprintf("touch:%s:%t", id, enabled))
}

func (h *fakeHost) DetachDebugChannel(ctx context.Context, id string) error {
	return h.record(ctx, "detach:"+id)
}

func (h *fakeHost) OpenDevTools(ctx context.Context, id string, docked bool, label string) error {
	return h.record(ctx, "devtools:"+id)
}

func (h *fakeHost) CaptureScreenshot(ctx context.Context, filename, dataURI string) (string, error) {
	return "/out/" + filename, h.record(ctx, "screenshot:"+filename)
}

func (h *fakeHost) SaveReport(ctx context.Context, filename, text string) (string, error) {
	return "/out/" + filename, h.record(ctx, "report:"+filename)
}

func (h *fakeHost) AppVersion() string { return "1.2.3" }

var iPhoneSE = schemas.DeviceProfile{
	ID: "10003", Name: "iPhone SE", Width: 375, Height: 667, DPR: 2,
	Type: schemas.DevicePhone, IsTouchCapable: true, IsMobileCapable: true,
}

func newClient(t *testing.T, host Host, logger *zap.Logger) *Client {
	t.Helper()
	return NewClient(host, config.BridgeConfig{CommandTimeout: 20 * time.Millisecond, Retries: 1}, logger)
}

func newCtx(t *testing.T, d schemas.DeviceProfile) *browser.Context {
	t.Helper()
	c := browser.New(context.Background(), d, browsertest.New("t-"+d.ID), zaptest.NewLogger(t))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent call is retried once after a timeout", func(t *testing.T) {
		host := newFakeHost()
		host.hang = 1
		client := newClient(t, host, zaptest.NewLogger(t))

		require.NoError(t, client.Attach(ctx, "10003"))
		assert.Equal(t, []string{"attach:10003", "attach:10003"}, host.Calls())
	})

	t.Run("gives up after the retry budget and logs", func(t *testing.T) {
		host := newFakeHost()
		host.hang = 5
		core, logs := observer.New(zap.WarnLevel)
		client := newClient(t, host, zap.New(core))

		err := client.SetDeviceMetrics(ctx, "10003", 375, 667, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Len(t, host.Calls(), 2)
		assert.Equal(t, 1, logs.FilterMessage("Bridge command failed.").Len())
	})

	t.Run("non-timeout errors are not retried", func(t *testing.T) {
		host := newFakeHost()
		boom := errors.New("no such target")
		host.fail["detach:10003"] = boom
		client := newClient(t, host, zaptest.NewLogger(t))

		err := client.Detach(ctx, "10003")
		assert.ErrorIs(t, err, boom)
		assert.Len(t, host.Calls(), 1)
	})

	t.Run("non-idempotent calls run once", func(t *testing.T) {
		host := newFakeHost()
		host.hang = 1
		client := newClient(t, host, zaptest.NewLogger(t))

		err := client.OpenDevTools(ctx, "10003", false, "iPhone SE")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Len(t, host.Calls(), 1)
	})

	t.Run("passes results through", func(t *testing.T) {
		host := newFakeHost()
		client := newClient(t, host, zaptest.NewLogger(t))

		path, err := client.CaptureScreenshot(ctx, "a.png", "data:image/png;base64,AA==")
		require.NoError(t, err)
		assert.Equal(t, "/out/a.png", path)

		path, err = client.SaveReport(ctx, "r.txt", "hello")
		require.NoError(t, err)
		assert.Equal(t, "/out/r.txt", path)
		assert.Equal(t, "1.2.3", client.AppVersion())
	})

	t.Run("defaults", func(t *testing.T) {
		client := NewClient(newFakeHost(), config.BridgeConfig{Retries: -1}, zap.NewNop())
		assert.Equal(t, 5*time.Second, client.timeout)
		assert.Zero(t, client.retries)
	})
}

func TestLayoutBridge(t *testing.T) {
	ctx := context.Background()

	t.Run("attaches once and re-issues metrics on every sync", func(t *testing.T) {
		host := newFakeHost()
		layout := NewLayoutBridge(newClient(t, host, zaptest.NewLogger(t)), zaptest.NewLogger(t))
		defer layout.Close()
		c := newCtx(t, iPhoneSE)

		require.NoError(t, layout.Sync(ctx, c))
		require.NoError(t, layout.Sync(ctx, c))
		assert.Equal(t, []string{
			"attach:10003",
			"metrics:10003:375x667:true",
			"metrics:10003:375x667:true",
		}, host.Calls())
		assert.True(t, layout.Attached("10003"))
		assert.Equal(t, browser.EmulationAttached, c.Emulation())
	})

	t.Run("rotation swaps the override", func(t *testing.T) {
		host := newFakeHost()
		layout := NewLayoutBridge(newClient(t, host, zaptest.NewLogger(t)), zaptest.NewLogger(t))
		defer layout.Close()
		c := newCtx(t, iPhoneSE)

		c.SetRotated(true)
		require.NoError(t, layout.Sync(ctx, c))
		assert.Contains(t, host.Calls(), "metrics:10003:667x375:true")
	})

	t.Run("failure degrades and the next sync retries", func(t *testing.T) {
		host := newFakeHost()
		host.fail["attach:10003"] = errors.New("target not found")
		layout := NewLayoutBridge(newClient(t, host, zaptest.NewLogger(t)), zaptest.NewLogger(t))
		defer layout.Close()
		c := newCtx(t, iPhoneSE)

		require.Error(t, layout.Sync(ctx, c))
		snap := c.Snapshot()
		assert.Equal(t, browser.EmulationDegraded, snap.Emulation)
		assert.Contains(t, snap.EmulationError, "target not found")
		assert.False(t, layout.Attached("10003"))

		delete(host.fail, "attach:10003")
		require.NoError(t, layout.Sync(ctx, c))
		assert.Equal(t, browser.EmulationAttached, c.Emulation())
	})

	t.Run("lifecycle events sync in the background", func(t *testing.T) {
		host := newFakeHost()
		layout := NewLayoutBridge(newClient(t, host, zaptest.NewLogger(t)), zaptest.NewLogger(t))
		c := newCtx(t, iPhoneSE)

		layout.OnLifecycleEvent(c, schemas.LifecycleEvent{Kind: schemas.LifecycleStopLoading})
		layout.OnLifecycleEvent(c, schemas.LifecycleEvent{Kind: schemas.LifecycleDomReady})
		layout.Close()

		assert.Equal(t, []string{"attach:10003", "metrics:10003:375x667:true"}, host.Calls())
		layout.OnLifecycleEvent(c, schemas.LifecycleEvent{Kind: schemas.LifecycleDomReady})
		assert.Len(t, host.Calls(), 2, "closed bridges ignore events")
	})

	t.Run("teardown detaches once and blocks later syncs", func(t *testing.T) {
		host := newFakeHost()
		layout := NewLayoutBridge(newClient(t, host, zaptest.NewLogger(t)), zaptest.NewLogger(t))
		defer layout.Close()
		c := newCtx(t, iPhoneSE)

		require.NoError(t, layout.Sync(ctx, c))
		layout.Teardown(ctx, c)
		layout.Teardown(ctx, c)
		assert.Equal(t, []string{"attach:10003", "metrics:10003:375x667:true", "detach:10003"}, host.Calls())
		assert.False(t, layout.Attached("10003"))

		require.NoError(t, layout.Sync(ctx, c))
		layout.SyncAsync(c)
		layout.OnLifecycleEvent(c, schemas.LifecycleEvent{Kind: schemas.LifecycleDidNavigate})
		layout.Close()
		assert.Len(t, host.Calls(), 3, "a torn down context is never re-attached")
		assert.False(t, layout.Attached("10003"))

		other := newCtx(t, schemas.DeviceProfile{ID: "10004", Width: 390, Height: 844, IsMobileCapable: true})
		layout.Teardown(ctx, other)
		assert.Len(t, host.Calls(), 3)
	})

	t.Run("teardown before the first sync still blocks it", func(t *testing.T) {
		host := newFakeHost()
		layout := NewLayoutBridge(newClient(t, host, zaptest.NewLogger(t)), zaptest.NewLogger(t))
		defer layout.Close()
		c := newCtx(t, iPhoneSE)

		layout.Teardown(ctx, c)
		require.NoError(t, layout.Sync(ctx, c))
		assert.Empty(t, host.Calls())
		assert.False(t, layout.Attached("10003"))
	})

	t.Run("teardown waits for background syncs", func(t *testing.T) {
		host := newFakeHost()
		host.hang = 1
		layout := NewLayoutBridge(newClient(t, host, zaptest.NewLogger(t)), zaptest.NewLogger(t))
		defer layout.Close()
		c := newCtx(t, iPhoneSE)

		layout.SyncAsync(c)
		layout.Teardown(ctx, c)
		after := host.Calls()
		if len(after) > 0 {
			assert.Equal(t, "detach:10003", after[len(after)-1], "an attach that won the race is detached")
		}

		layout.Close()
		assert.Equal(t, after, host.Calls(), "nothing is issued after teardown returns")
		assert.False(t, layout.Attached("10003"))
	})

	t.Run("a new context under a torn down id starts fresh", func(t *testing.T) {
		host := newFakeHost()
		layout := NewLayoutBridge(newClient(t, host, zaptest.NewLogger(t)), zaptest.NewLogger(t))
		defer layout.Close()
		old := newCtx(t, iPhoneSE)

		require.NoError(t, layout.Sync(ctx, old))
		layout.Teardown(ctx, old)

		fresh := newCtx(t, iPhoneSE)
		require.NoError(t, layout.Sync(ctx, fresh))
		assert.True(t, layout.Attached("10003"))
		require.NoError(t, layout.Sync(ctx, old))
		assert.Equal(t, []string{
			"attach:10003",
			"metrics:10003:375x667:true",
			"detach:10003",
			"attach:10003",
			"metrics:10003:375x667:true",
		}, host.Calls())
	})

	t.Run("desktop lifecycle events are ignored", func(t *testing.T) {
		host := newFakeHost()
		layout := NewLayoutBridge(newClient(t, host, zaptest.NewLogger(t)), zaptest.NewLogger(t))
		c := newCtx(t, schemas.DeviceProfile{ID: "90002", Width: 1920, Height: 1080, Type: schemas.DeviceDesktop})

		layout.OnLifecycleEvent(c, schemas.LifecycleEvent{Kind: schemas.LifecycleDomReady})
		layout.OnLifecycleEvent(c, schemas.LifecycleEvent{Kind: schemas.LifecycleDidNavigate})
		layout.Close()
		assert.Empty(t, host.Calls())
		assert.False(t, layout.Attached("90002"))
	})

	t.Run("on attached hook runs only on a fresh attach", func(t *testing.T) {
		host := newFakeHost()
		layout := NewLayoutBridge(newClient(t, host, zaptest.NewLogger(t)), zaptest.NewLogger(t))
		defer layout.Close()
		hooks := 0
		layout.OnAttached = func(context.Context, *browser.Context) { hooks++ }
		c := newCtx(t, iPhoneSE)

		require.NoError(t, layout.Sync(ctx, c))
		require.NoError(t, layout.Sync(ctx, c))
		assert.Equal(t, 1, hooks)
	})
}

func TestTouchBridge(t *testing.T) {
	ctx := context.Background()

	t.Run("toggling while attached issues only touch commands", func(t *testing.T) {
		host := newFakeHost()
		client := newClient(t, host, zaptest.NewLogger(t))
		layout := NewLayoutBridge(client, zaptest.NewLogger(t))
		defer layout.Close()
		touch := NewTouchBridge(client, layout, zaptest.NewLogger(t))
		c := newCtx(t, iPhoneSE)

		require.NoError(t, layout.Sync(ctx, c))
		before := len(host.Calls())

		ran, err := touch.Apply(ctx, c, true)
		require.NoError(t, err)
		assert.True(t, ran)
		ran, err = touch.Apply(ctx, c, false)
		require.NoError(t, err)
		assert.True(t, ran)

		assert.Equal(t, []string{"touch:10003:true", "touch:10003:false"}, host.Calls()[before:])
	})

	t.Run("skipped when not attached", func(t *testing.T) {
		host := newFakeHost()
		client := newClient(t, host, zaptest.NewLogger(t))
		layout := NewLayoutBridge(client, zaptest.NewLogger(t))
		defer layout.Close()
		touch := NewTouchBridge(client, layout, zaptest.NewLogger(t))
		c := newCtx(t, iPhoneSE)

		ran, err := touch.Apply(ctx, c, true)
		require.NoError(t, err)
		assert.False(t, ran)
		assert.Empty(t, host.Calls())
	})

	t.Run("failure marks the context degraded", func(t *testing.T) {
		host := newFakeHost()
		host.fail["touch:10003:true"] = errors.New("session closed")
		client := newClient(t, host, zaptest.NewLogger(t))
		layout := NewLayoutBridge(client, zaptest.NewLogger(t))
		defer layout.Close()
		touch := NewTouchBridge(client, layout, zaptest.NewLogger(t))
		c := newCtx(t, iPhoneSE)

		require.NoError(t, layout.Sync(ctx, c))
		_, err := touch.Apply(ctx, c, true)
		require.Error(t, err)
		assert.Equal(t, browser.EmulationDegraded, c.Emulation())
	})
}
