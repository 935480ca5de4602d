// File: internal/orchestrator/orchestrator.go
// Description: Mounts one browsing context per device of the active suite and
// wires the scheduler, emulation bridge, script injection and the capture
// pipeline to each of them.

package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/bridge"
	"github.com/xkilldash9x/humshakals/internal/browser"
	"github.com/xkilldash9x/humshakals/internal/browser/stealth"
	"github.com/xkilldash9x/humshakals/internal/browser/touch"
	"github.com/xkilldash9x/humshakals/internal/config"
	"github.com/xkilldash9x/humshakals/internal/devices"
	"github.com/xkilldash9x/humshakals/internal/kvstore"
	"github.com/xkilldash9x/humshakals/internal/pocket"
	"github.com/xkilldash9x/humshakals/internal/scheduler"
	"github.com/xkilldash9x/humshakals/internal/state"
)

const (
	injectTimeout   = 10 * time.Second
	mountTimeout    = 30 * time.Second
	teardownTimeout = 5 * time.Second
)

// ErrUnknownDevice is returned for a device id that is not mounted.
var ErrUnknownDevice = errors.New("device is not mounted")

// SurfaceFactory creates the browsing surface for a device.
type SurfaceFactory interface {
	NewSurface(ctx context.Context, device schemas.DeviceProfile, persona stealth.Params) (browser.Surface, error)
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Registry *devices.Registry
	Store    *state.Store
	Factory  SurfaceFactory
	Host     bridge.Host
	Pocket   *pocket.Pipeline
	// Clock drives the scheduler; nil means the wall clock.
	Clock scheduler.Clock
	// Now stamps artifacts; nil means time.Now.
	Now func() time.Time
}

// mount is one mounted device.
type mount struct {
	ctx    *browser.Context
	unsubs []func()
}

// Orchestrator keeps the set of mounted contexts equal to the active suite.
type Orchestrator struct {
	cfg      config.Interface
	logger   *zap.Logger
	registry *devices.Registry
	store    *state.Store
	factory  SurfaceFactory
	client   *bridge.Client
	layout   *bridge.LayoutBridge
	touch    *bridge.TouchBridge
	sched    *scheduler.Scheduler
	pocket   *pocket.Pipeline
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// reconcileMu serializes suite reconciliation.
	reconcileMu sync.Mutex

	mu      sync.RWMutex
	mounted map[string]*mount
	order   []string
	closed  bool
}

// New creates an Orchestrator. Nothing is mounted until Start.
func New(cfg config.Interface, logger *zap.Logger, deps Dependencies) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		deps.Registry == nil ||
		deps.Store == nil ||
		deps.Factory == nil ||
		deps.Host == nil ||
		deps.Pocket == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log := logger.Named("orchestrator")

	client := bridge.NewClient(deps.Host, cfg.Bridge(), log)
	layout := bridge.NewLayoutBridge(client, log)
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		logger:   log,
		registry: deps.Registry,
		store:    deps.Store,
		factory:  deps.Factory,
		client:   client,
		layout:   layout,
		touch:    bridge.NewTouchBridge(client, layout, log),
		sched:    scheduler.New(cfg.Scheduler(), deps.Clock, log),
		pocket:   deps.Pocket,
		now:      now,
		ctx:      ctx,
		cancel:   cancel,
		mounted:  make(map[string]*mount),
	}
	// A freshly attached channel picks up the current touch toggle.
	layout.OnAttached = func(ctx context.Context, c *browser.Context) {
		if c.Device().IsTouchCapable && o.store.Touch() {
			_ = o.touch.ApplyAttached(ctx, c, true)
		}
	}
	return o, nil
}

// Start loads the persisted rules and mounts the active suite.
func (o *Orchestrator) Start(ctx context.Context) error {
	rules := o.pocket.LoadRules(ctx)
	o.store.Dispatch(state.SetRules{Rules: rules})

	if id := o.cfg.Preview().Suite; id != "" && id != o.registry.Active().ID {
		if err := o.registry.SetActive(ctx, id); err != nil {
			o.logger.Warn("Configured suite is unavailable, keeping the active one.", zap.String("suite", id), zap.Error(err))
		}
	}
	active := o.registry.Active()
	o.store.Dispatch(state.SetActiveSuite{ID: active.ID})
	o.logger.Info("Starting preview session.", zap.String("suite", active.Name), zap.Strings("devices", active.DeviceIDs))
	return o.Reconcile(ctx)
}

// -- Suite reconciliation --

// Reconcile mounts the devices of the active suite that are missing and
// unmounts the ones that left it. Newly mounted contexts catch up with the
// current address. A device that fails to mount is skipped; the others are
// unaffected and the failures are returned together.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	o.reconcileMu.Lock()
	defer o.reconcileMu.Unlock()

	desired := o.registry.Resolve(o.registry.Active().DeviceIDs)
	want := make(map[string]bool, len(desired))
	for _, d := range desired {
		want[d.ID] = true
	}

	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		return browser.ErrClosed
	}
	var stale []string
	for id := range o.mounted {
		if !want[id] {
			stale = append(stale, id)
		}
	}
	var missing []schemas.DeviceProfile
	for _, d := range desired {
		if _, ok := o.mounted[d.ID]; !ok {
			missing = append(missing, d)
		}
	}
	o.mu.RUnlock()

	for _, id := range stale {
		o.Unmount(ctx, id)
	}

	created := make([]*mount, len(missing))
	errs := make([]error, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range missing {
		i, d := i, d
		g.Go(func() error {
			m, err := o.mount(gctx, d)
			if err != nil {
				errs[i] = fmt.Errorf("mount %s: %w", d.Name, err)
				return nil
			}
			created[i] = m
			return nil
		})
	}
	_ = g.Wait()

	order := make([]string, 0, len(desired))
	o.mu.Lock()
	for _, m := range created {
		if m != nil {
			o.mounted[m.ctx.ID()] = m
		}
	}
	for _, d := range desired {
		if _, ok := o.mounted[d.ID]; ok {
			order = append(order, d.ID)
		}
	}
	o.order = order
	o.mu.Unlock()

	address := o.store.Address()
	for _, m := range created {
		if m == nil || address == "" {
			continue
		}
		o.sched.Reconcile(address, m.ctx, indexOf(order, m.ctx.ID()))
	}

	err := errors.Join(errs...)
	if err != nil {
		o.logger.Error("Some devices failed to mount.", zap.Error(err))
	}
	return err
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return 0
}

func (o *Orchestrator) persona(d schemas.DeviceProfile, rotated bool) stealth.Params {
	opts := stealth.OptionsFromConfig(o.cfg.Stealth())
	opts.Rotated = rotated
	return stealth.ParamsFor(d, opts)
}

func (o *Orchestrator) rotatedFor(d schemas.DeviceProfile) bool {
	return d.IsMobileCapable && o.store.Rotate()
}

func (o *Orchestrator) mount(ctx context.Context, d schemas.DeviceProfile) (*mount, error) {
	ctx, cancel := context.WithTimeout(ctx, mountTimeout)
	defer cancel()

	rotated := o.rotatedFor(d)
	surface, err := o.factory.NewSurface(ctx, d, o.persona(d, rotated))
	if err != nil {
		return nil, err
	}
	c := browser.New(o.ctx, d, surface, o.logger)
	c.SetRotated(rotated)

	m := &mount{ctx: c}
	m.unsubs = append(m.unsubs,
		c.Subscribe(o.sched),
		c.Subscribe(o.layout),
		c.Subscribe(browser.ListenerFuncs{Lifecycle: o.onLifecycle}),
		c.Subscribe(o.pocket),
	)
	c.Logger().Info("Device mounted.", zap.String("partition", c.Partition()))
	return m, nil
}

// Unmount cancels pending navigations, drops every listener, detaches the
// debugging channel and closes the context. Unknown ids are ignored.
func (o *Orchestrator) Unmount(ctx context.Context, id string) {
	o.mu.Lock()
	m, ok := o.mounted[id]
	delete(o.mounted, id)
	for i, v := range o.order {
		if v == id {
			o.order = append(o.order[:i:i], o.order[i+1:]...)
			break
		}
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	o.sched.Cancel(id)
	for _, unsub := range m.unsubs {
		unsub()
	}
	tctx, cancel := context.WithTimeout(ctx, teardownTimeout)
	defer cancel()
	o.layout.Teardown(tctx, m.ctx)
	if err := m.ctx.Close(tctx); err != nil {
		m.ctx.Logger().Debug("Context close reported an error.", zap.Error(err))
	}
	m.ctx.Logger().Info("Device unmounted.")
}

// -- Lifecycle driven injection --

// onLifecycle injects the masking and touch scripts and lets the primary
// device lead the shared address.
func (o *Orchestrator) onLifecycle(c *browser.Context, ev schemas.LifecycleEvent) {
	d := c.Device()
	switch ev.Kind {
	case schemas.LifecycleDomReady:
		if o.cfg.Stealth().Enabled {
			script, err := stealth.Build(o.persona(d, c.Rotated()))
			if err != nil {
				c.Logger().Warn("Skipping stealth injection.", zap.Error(err))
			} else {
				c.Inject("stealth", script, injectTimeout)
			}
		}
	case schemas.LifecycleDidNavigate:
		o.followPrimary(c, ev)
	}
	for _, s := range touch.ScriptsFor(ev.Kind, d) {
		c.Inject(s.Name, s.Source, injectTimeout)
	}
}

// followPrimary propagates a navigation inside the first device of the suite
// to every device. A primary with mirroring off navigates alone.
func (o *Orchestrator) followPrimary(c *browser.Context, ev schemas.LifecycleEvent) {
	if !ev.IsMainFrame || ev.URL == "" || ev.URL == browser.BlankURL || !c.Mirroring() {
		return
	}
	if o.Primary() != c.ID() || ev.URL == o.store.Address() {
		return
	}
	c.Logger().Debug("Primary device navigated, following.", zap.String("url", ev.URL))
	o.store.Dispatch(state.SetAddress{Address: ev.URL})
	o.sched.Navigate(ev.URL, o.Contexts())
}

// -- Session controls --

// Navigate sets the shared address and loads it into every device with the
// stagger applied.
func (o *Orchestrator) Navigate(address string) string {
	address = scheduler.NormalizeAddress(address)
	if address == "" {
		return ""
	}
	o.store.Dispatch(state.SetAddress{Address: address})
	o.sched.Navigate(address, o.Contexts())
	return address
}

// UseSuite switches the active suite and reconciles the mounted devices.
func (o *Orchestrator) UseSuite(ctx context.Context, id string) error {
	if err := o.registry.SetActive(ctx, id); err != nil {
		return err
	}
	o.store.Dispatch(state.SetActiveSuite{ID: id})
	return o.Reconcile(ctx)
}

// ToggleDevice adds or removes a device from the active suite.
func (o *Orchestrator) ToggleDevice(ctx context.Context, deviceID string) error {
	if _, err := o.registry.ToggleInActive(ctx, deviceID); err != nil {
		return err
	}
	return o.Reconcile(ctx)
}

// SetTouch switches global touch emulation. Only attached touch-capable
// devices receive the command; the metrics override is left alone.
func (o *Orchestrator) SetTouch(ctx context.Context, enabled bool) error {
	o.store.Dispatch(state.SetTouch{Enabled: enabled})

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range o.Contexts() {
		c := c
		if !c.Device().IsTouchCapable {
			continue
		}
		g.Go(func() error {
			_, err := o.touch.Apply(gctx, c, enabled)
			if err != nil {
				c.Logger().Warn("Touch emulation failed.", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// SetRotate switches rotation and re-issues the metrics override of every
// mobile-capable device.
func (o *Orchestrator) SetRotate(ctx context.Context, rotate bool) error {
	o.store.Dispatch(state.SetRotate{Rotate: rotate})

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range o.Contexts() {
		c := c
		if !c.Device().IsMobileCapable {
			continue
		}
		c.SetRotated(rotate)
		g.Go(func() error {
			if err := o.layout.Sync(gctx, c); err != nil {
				c.Logger().Warn("Failed to apply rotation.", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Resync applies a persisted value that was changed outside this session,
// such as a suite switched from another terminal.
func (o *Orchestrator) Resync(ctx context.Context, key string) error {
	switch key {
	case kvstore.KeyCustomDevices, kvstore.KeyPreviewSuites, kvstore.KeyActiveSuite:
		o.registry.Reload(ctx)
		o.store.Dispatch(state.SetActiveSuite{ID: o.registry.Active().ID})
		return o.Reconcile(ctx)
	case kvstore.KeyPocketRules:
		o.store.Dispatch(state.SetRules{Rules: o.pocket.LoadRules(ctx)})
	}
	return nil
}

// SetRules merges patch into the capture rules and persists them.
func (o *Orchestrator) SetRules(ctx context.Context, patch schemas.PocketRulesPatch) schemas.PocketRules {
	rules := o.pocket.SetRules(ctx, patch)
	o.store.Dispatch(state.SetRules{Rules: rules})
	return rules
}

// -- Per-device operations --

// Context returns the mounted context for a device.
func (o *Orchestrator) Context(id string) (*browser.Context, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	m, ok := o.mounted[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return m.ctx, nil
}

// Contexts returns the mounted contexts in suite order.
func (o *Orchestrator) Contexts() []*browser.Context {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*browser.Context, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.mounted[id].ctx)
	}
	return out
}

// Primary returns the id of the first mounted device, or "".
func (o *Orchestrator) Primary() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.order) == 0 {
		return ""
	}
	return o.order[0]
}

// Snapshots returns the status of every mounted context in suite order.
func (o *Orchestrator) Snapshots() []browser.Snapshot {
	ctxs := o.Contexts()
	out := make([]browser.Snapshot, 0, len(ctxs))
	for _, c := range ctxs {
		out = append(out, c.Snapshot())
	}
	return out
}

// Reload reloads one device.
func (o *Orchestrator) Reload(ctx context.Context, id string) error {
	c, err := o.Context(id)
	if err != nil {
		return err
	}
	return c.Reload(ctx)
}

// Retry reloads the last address of a failed device.
func (o *Orchestrator) Retry(ctx context.Context, id string) error {
	c, err := o.Context(id)
	if err != nil {
		return err
	}
	return c.Retry(ctx)
}

// GoBack navigates one device back in its history.
func (o *Orchestrator) GoBack(ctx context.Context, id string) error {
	c, err := o.Context(id)
	if err != nil {
		return err
	}
	return c.GoBack(ctx)
}

// GoForward navigates one device forward in its history.
func (o *Orchestrator) GoForward(ctx context.Context, id string) error {
	c, err := o.Context(id)
	if err != nil {
		return err
	}
	return c.GoForward(ctx)
}

// ScrollToTop scrolls one device back to the top of the page.
func (o *Orchestrator) ScrollToTop(ctx context.Context, id string) error {
	c, err := o.Context(id)
	if err != nil {
		return err
	}
	return c.ScrollToTop(ctx)
}

// SetMirroring switches event mirroring for one device.
func (o *Orchestrator) SetMirroring(id string, on bool) error {
	c, err := o.Context(id)
	if err != nil {
		return err
	}
	c.SetMirroring(on)
	return nil
}

// OpenDevTools opens the inspector for one device.
func (o *Orchestrator) OpenDevTools(ctx context.Context, id string) error {
	c, err := o.Context(id)
	if err != nil {
		return err
	}
	return o.client.OpenDevTools(ctx, id, false, c.Device().Name)
}

// Screenshot captures one device and saves it under the output directory.
func (o *Orchestrator) Screenshot(ctx context.Context, id string) (string, error) {
	c, err := o.Context(id)
	if err != nil {
		return "", err
	}
	png, err := c.CapturePage(ctx)
	if err != nil {
		return "", err
	}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	path, err := o.client.CaptureScreenshot(ctx, ScreenshotName(c.Device().Name, o.now()), uri)
	if err != nil {
		return "", err
	}
	c.Logger().Info("Screenshot saved.", zap.String("path", path))
	o.pocket.Notify(schemas.Notification{
		DeviceID: id, Kind: pocket.KindSuccess, Message: "Screenshot saved: " + path, Timestamp: o.now(),
	})
	return path, nil
}

// ScreenshotAll captures every mounted device concurrently. Paths are
// returned in suite order; a failed device leaves an empty entry.
func (o *Orchestrator) ScreenshotAll(ctx context.Context) ([]string, error) {
	o.store.Dispatch(state.SetCapturing{Capturing: true})
	defer o.store.Dispatch(state.SetCapturing{Capturing: false})

	ctxs := o.Contexts()
	paths := make([]string, len(ctxs))
	errs := make([]error, len(ctxs))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range ctxs {
		i, id := i, c.ID()
		g.Go(func() error {
			paths[i], errs[i] = o.Screenshot(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return paths, errors.Join(errs...)
}

// SaveReport renders the captured events of one device and saves them.
func (o *Orchestrator) SaveReport(ctx context.Context, id string) (string, error) {
	d, ok := o.registry.GetByID(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", devices.ErrNotFound, id)
	}
	now := o.now()
	text := pocket.Report(d.Name, o.pocket.Events(id), now)
	path, err := o.client.SaveReport(ctx, pocket.ReportFilename(d.Name, now), text)
	if err != nil {
		return "", err
	}
	o.pocket.Notify(schemas.Notification{
		DeviceID: id, Kind: pocket.KindSuccess, Message: "Report saved: " + path, Timestamp: now,
	})
	return path, nil
}

// AppVersion reports the host's version.
func (o *Orchestrator) AppVersion() string { return o.client.AppVersion() }

// Store exposes the session state container.
func (o *Orchestrator) Store() *state.Store { return o.store }

// Pocket exposes the capture pipeline.
func (o *Orchestrator) Pocket() *pocket.Pipeline { return o.pocket }

// Registry exposes the device registry.
func (o *Orchestrator) Registry() *devices.Registry { return o.registry }

// -- Teardown --

// Close unmounts every device and stops background work. It is idempotent.
func (o *Orchestrator) Close(ctx context.Context) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	ids := append([]string(nil), o.order...)
	o.mu.Unlock()

	o.sched.Close()
	for _, id := range ids {
		o.Unmount(ctx, id)
	}
	o.layout.Close()
	o.cancel()
	o.logger.Info("Preview session closed.")
}
