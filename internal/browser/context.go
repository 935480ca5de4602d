// File: internal/browser/context.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/api/schemas"
)

// State is the load state of a browsing context.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateFailed  State = "failed"
	StateClosed  State = "closed"
)

// EmulationStatus reports whether device emulation is in effect.
type EmulationStatus string

const (
	EmulationDetached EmulationStatus = "detached"
	EmulationAttached EmulationStatus = "attached"
	// EmulationDegraded means the last attach or override failed and the
	// surface is currently showing un-emulated content.
	EmulationDegraded EmulationStatus = "degraded"
)

// BlankURL is the address of an empty surface.
const BlankURL = "about:blank"

// Snapshot is a read-only view of a context's status.
type Snapshot struct {
	DeviceID         string          `json:"deviceId"`
	DeviceName       string          `json:"deviceName"`
	Partition        string          `json:"partition"`
	TargetID         string          `json:"targetId"`
	URL              string          `json:"url"`
	State            State           `json:"state"`
	ErrorCode        int             `json:"errorCode,omitempty"`
	ErrorDescription string          `json:"errorDescription,omitempty"`
	Rotated          bool            `json:"rotated"`
	Mirroring        bool            `json:"mirroring"`
	DevToolsOpen     bool            `json:"devtoolsOpen"`
	Emulation        EmulationStatus `json:"emulation"`
	EmulationError   string          `json:"emulationError,omitempty"`
}

type subscription struct {
	id int
	l  Listener
}

// Context binds one device profile to one surface. Its state is guarded by a
// mutex; subscriber callbacks always run outside of it.
type Context struct {
	device  schemas.DeviceProfile
	surface Surface
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	detach func()
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	url         string
	pending     string
	lastAddress string
	errCode     int
	errDesc     string
	rotated     bool
	mirroring   bool
	devtools    bool
	emulation   EmulationStatus
	emuErr      string
	subs        []subscription
	nextSubID   int
}

// New wraps surface for device and starts receiving its events.
func New(parent context.Context, device schemas.DeviceProfile, surface Surface, logger *zap.Logger) *Context {
	ctx, cancel := context.WithCancel(parent)
	c := &Context{
		device:    device,
		surface:   surface,
		log:       logger.With(zap.String("device_id", device.ID), zap.String("device", device.Name)),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		mirroring: true,
		emulation: EmulationDetached,
	}
	c.detach = surface.Attach(c)
	return c
}

// ID returns the device id the context is bound to.
func (c *Context) ID() string { return c.device.ID }

// Device returns the bound profile.
func (c *Context) Device() schemas.DeviceProfile { return c.device }

// Partition returns the storage partition name, persist:device-<id>.
func (c *Context) Partition() string { return c.device.Partition() }

// TargetID returns the host-side identifier of the surface.
func (c *Context) TargetID() string { return c.surface.TargetID() }

// Logger returns the context's device-scoped logger.
func (c *Context) Logger() *zap.Logger { return c.log }

// -- Navigation --

// SetSource navigates to address unless the context already shows it or a
// navigation to it is in flight. Addresses differing only by an empty path
// or host case are the same page.
func (c *Context) SetSource(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if sameAddress(address, c.pending) || (c.pending == "" && sameAddress(address, c.url)) {
		c.mu.Unlock()
		return nil
	}
	c.pending = address
	c.lastAddress = address
	c.mu.Unlock()

	return c.navigate(ctx, address)
}

func sameAddress(a, b string) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	return normalizeAddress(a) == normalizeAddress(b)
}

func normalizeAddress(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.Host == "" {
		return address
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u.String()
}

// Retry reloads the last requested address, e.g. after a failed load.
func (c *Context) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	addr := c.lastAddress
	if addr == "" {
		addr = c.url
	}
	if addr == "" {
		c.mu.Unlock()
		return ErrNotAvailable
	}
	c.pending = addr
	c.mu.Unlock()

	return c.navigate(ctx, addr)
}

func (c *Context) navigate(ctx context.Context, address string) error {
	if err := c.surface.Navigate(ctx, address); err != nil {
		c.mu.Lock()
		if c.pending == address {
			c.pending = ""
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to navigate to %s: %w", address, err)
	}
	return nil
}

// Reload reloads the current page.
func (c *Context) Reload(ctx context.Context) error {
	c.mu.Lock()
	closed, blank := c.state == StateClosed, c.url == "" && c.lastAddress == ""
	c.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case blank:
		return ErrNotAvailable
	}
	if err := c.surface.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	return nil
}

// GoBack navigates back in history when possible.
func (c *Context) GoBack(ctx context.Context) error {
	return c.traverse(ctx, c.surface.CanGoBack, c.surface.GoBack, "back")
}

// GoForward navigates forward in history when possible.
func (c *Context) GoForward(ctx context.Context) error {
	return c.traverse(ctx, c.surface.CanGoForward, c.surface.GoForward, "forward")
}

func (c *Context) traverse(ctx context.Context, can func(context.Context) (bool, error), do func(context.Context) error, dir string) error {
	if c.isClosed() {
		return ErrClosed
	}
	ok, err := can(ctx)
	if err != nil {
		return fmt.Errorf("failed to query history: %w", err)
	}
	if !ok {
		return ErrNotAvailable
	}
	if err := do(ctx); err != nil {
		return fmt.Errorf("failed to go %s: %w", dir, err)
	}
	return nil
}

// -- Scripts --

// ExecuteScript evaluates code in the page. Script failures are logged and
// reported as a nil result, never as an error.
func (c *Context) ExecuteScript(ctx context.Context, code string) (json.RawMessage, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	res, err := c.surface.Evaluate(ctx, code)
	if err != nil {
		c.log.Warn("Script execution failed.", zap.Error(err))
		return nil, nil
	}
	return res, nil
}

// Inject evaluates code in the background with its own timeout. Failures are
// logged at warn and never retried.
func (c *Context) Inject(name, code string, timeout time.Duration) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, timeout)
		defer cancel()
		if _, err := c.surface.Evaluate(ctx, code); err != nil {
			c.log.Warn("Script injection failed.", zap.String("script", name), zap.Error(err))
		}
	}()
}

// ScrollToTop scrolls the page back to the origin.
func (c *Context) ScrollToTop(ctx context.Context) error {
	_, err := c.ExecuteScript(ctx, "window.scrollTo(0, 0)")
	return err
}

// CapturePage returns a PNG of the rendered content.
func (c *Context) CapturePage(ctx context.Context) ([]byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	img, err := c.surface.CaptureScreenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture %s: %w", c.device.Name, err)
	}
	return img, nil
}

// -- Toggles --

// SetRotated records the rotation flag. Only mobile-capable devices rotate.
func (c *Context) SetRotated(rotated bool) {
	c.mu.Lock()
	c.rotated = rotated && c.device.IsMobileCapable
	c.mu.Unlock()
}

// Rotated reports the effective rotation flag.
func (c *Context) Rotated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rotated
}

// SetMirroring toggles event mirroring for this context.
func (c *Context) SetMirroring(on bool) {
	c.mu.Lock()
	c.mirroring = on
	c.mu.Unlock()
}

// Mirroring reports whether event mirroring is on.
func (c *Context) Mirroring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirroring
}

// DevToolsOpen reports whether DevTools is open for this context.
func (c *Context) DevToolsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devtools
}

// SetEmulation records the outcome of the last emulation command.
func (c *Context) SetEmulation(status EmulationStatus, reason string) {
	c.mu.Lock()
	c.emulation = status
	c.emuErr = reason
	c.mu.Unlock()
}

// Emulation returns the current emulation status.
func (c *Context) Emulation() EmulationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emulation
}

// -- Status --

// URL returns the address of the main frame.
func (c *Context) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// State returns the load state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsBlank reports whether the surface shows no content and has nothing in flight.
func (c *Context) IsBlank() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending == "" && (c.url == "" || c.url == BlankURL)
}

// Snapshot returns the current status.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		DeviceID:         c.device.ID,
		DeviceName:       c.device.Name,
		Partition:        c.device.Partition(),
		TargetID:         c.surface.TargetID(),
		URL:              c.url,
		State:            c.state,
		ErrorCode:        c.errCode,
		ErrorDescription: c.errDesc,
		Rotated:          c.rotated,
		Mirroring:        c.mirroring,
		DevToolsOpen:     c.devtools,
		Emulation:        c.emulation,
		EmulationError:   c.emuErr,
	}
}

func (c *Context) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateClosed
}

// -- Subscriptions --

// Subscribe registers l for every event of this context. The returned func
// removes it and is safe to call more than once.
func (c *Context) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return func() {}
	}
	c.nextSubID++
	id := c.nextSubID
	c.subs = append(c.subs, subscription{id: id, l: l})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Context) listeners() []Listener {
	out := make([]Listener, len(c.subs))
	for i, s := range c.subs {
		out[i] = s.l
	}
	return out
}

// dispatch calls fn for every listener, recovering from panics in callbacks.
func (c *Context) dispatch(ls []Listener, fn func(Listener)) {
	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("Recovered from panic in context listener.", zap.Any("panic_value", r))
				}
			}()
			fn(l)
		}()
	}
}

// -- Sink --

// HandleLifecycle applies a surface lifecycle event to the state machine and
// forwards it to subscribers. Aborted and sub-frame load failures are dropped.
func (c *Context) HandleLifecycle(ev schemas.LifecycleEvent) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	switch ev.Kind {
	case schemas.LifecycleStartLoading:
		c.state = StateLoading
		c.errCode, c.errDesc = 0, ""
	case schemas.LifecycleStopLoading:
		if c.state != StateFailed {
			c.state = StateLoaded
		}
		c.pending = ""
	case schemas.LifecycleDidNavigate:
		if ev.IsMainFrame {
			c.url = ev.URL
		}
	case schemas.LifecycleDidFailLoad:
		if !IsRealFailure(ev) {
			c.mu.Unlock()
			c.log.Debug("Ignoring aborted or sub-frame load failure.",
				zap.Int("code", ev.ErrorCode), zap.String("url", ev.URL))
			return
		}
		c.state = StateFailed
		c.errCode, c.errDesc = ev.ErrorCode, ev.ErrorDescription
		c.pending = ""
	case schemas.LifecycleDevToolsOpened:
		c.devtools = true
	case schemas.LifecycleDevToolsClosed:
		c.devtools = false
	}
	ls := c.listeners()
	c.mu.Unlock()

	if ev.Kind == schemas.LifecycleDidFailLoad {
		c.log.Warn("Page failed to load.",
			zap.Int("code", ev.ErrorCode),
			zap.String("description", ev.ErrorDescription),
			zap.String("url", ev.URL))
	}
	c.dispatch(ls, func(l Listener) { l.OnLifecycleEvent(c, ev) })
}

// HandleConsole forwards a console message to subscribers.
func (c *Context) HandleConsole(msg schemas.ConsoleMessage) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	ls := c.listeners()
	c.mu.Unlock()
	c.dispatch(ls, func(l Listener) { l.OnConsoleMessage(c, msg) })
}

// HandleNetwork forwards a network completion to subscribers.
func (c *Context) HandleNetwork(ev schemas.NetworkEvent) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	ls := c.listeners()
	c.mu.Unlock()
	c.dispatch(ls, func(l Listener) { l.OnNetworkEvent(c, ev) })
}

// IsRealFailure reports whether a did-fail-load event should put a context
// into the failed state: main frame only, and never for aborted loads.
func IsRealFailure(ev schemas.LifecycleEvent) bool {
	if !ev.IsMainFrame || ev.ErrorCode == AbortErrorCode {
		return false
	}
	return !strings.Contains(ev.ErrorDescription, "ERR_ABORTED")
}

// -- Teardown --

// Close detaches from the surface, drops every subscriber, waits for pending
// injections and closes the surface. It is idempotent.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.subs = nil
	c.pending = ""
	c.mu.Unlock()

	c.detach()
	c.cancel()
	c.wg.Wait()

	if err := c.surface.Close(ctx); err != nil {
		c.log.Debug("Surface close reported an error.", zap.Error(err))
		return fmt.Errorf("failed to close surface: %w", err)
	}
	c.log.Debug("Browsing context closed.")
	return nil
}
