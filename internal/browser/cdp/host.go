// internal/browser/cdp/host.go
package cdp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/api/schemas"
	hbrowser "github.com/xkilldash9x/humshakals/internal/browser"
	"github.com/xkilldash9x/humshakals/internal/browser/stealth"
	"github.com/xkilldash9x/humshakals/internal/config"
)

// ErrUnknownContext is returned for a device id with no live surface.
var ErrUnknownContext = errors.New("unknown browsing context")

const (
	defaultCommandTimeout = 5 * time.Second
	maxTouchPoints        = 5
)

// grantedPermissions are accepted up front in every device partition when
// browser.grant_permissions is set.
var grantedPermissions = []browser.PermissionType{
	browser.PermissionTypeGeolocation,
	browser.PermissionTypeNotifications,
	browser.PermissionTypeSensors,
	browser.PermissionTypeClipboardReadWrite,
}

// Host owns the Chromium process and implements the privileged side of the
// emulation bridge. Browsing contexts are addressed by device id.
type Host struct {
	cfg            config.Interface
	log            *zap.Logger
	version        string
	proxyAddr      string
	outputDir      string
	userDataDir    string
	ownsDataDir    bool
	commandTimeout time.Duration

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// Target creation is serialized; Chromium misbehaves when browser
	// contexts are created concurrently on one connection.
	creationMu sync.Mutex

	mu       sync.Mutex
	surfaces map[string]*Surface
	devtools map[target.ID]string
	closed   bool
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithProxy routes every surface through the proxy at addr.
func WithProxy(addr string) HostOption {
	return func(h *Host) { h.proxyAddr = addr }
}

// WithVersion sets the value reported by AppVersion.
func WithVersion(v string) HostOption {
	return func(h *Host) { h.version = v }
}

// WithCommandTimeout bounds host-internal protocol commands.
func WithCommandTimeout(d time.Duration) HostOption {
	return func(h *Host) {
		if d > 0 {
			h.commandTimeout = d
		}
	}
}

// NewHost launches the browser process and returns a Host bound to it. The
// browser lives until Close or until ctx is cancelled.
func NewHost(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts ...HostOption) (*Host, error) {
	h := &Host{
		cfg:            cfg,
		log:            logger.Named("cdp_host"),
		version:        "dev",
		commandTimeout: defaultCommandTimeout,
		surfaces:       make(map[string]*Surface),
		devtools:       make(map[target.ID]string),
	}
	for _, opt := range opts {
		opt(h)
	}

	outputDir, err := homedir.Expand(cfg.Output().Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}
	h.outputDir = outputDir

	bcfg := cfg.Browser()
	if bcfg.UserDataDir != "" {
		if h.userDataDir, err = homedir.Expand(bcfg.UserDataDir); err != nil {
			return nil, fmt.Errorf("failed to resolve user data directory: %w", err)
		}
	} else {
		if h.userDataDir, err = os.MkdirTemp("", "humshakals-profile-"); err != nil {
			return nil, fmt.Errorf("failed to create user data directory: %w", err)
		}
		h.ownsDataDir = true
	}

	h.allocCtx, h.allocCancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(bcfg, h.userDataDir, h.proxyAddr)...)
	sugar := h.log.Sugar()
	h.browserCtx, h.browserCancel = chromedp.NewContext(h.allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	// The first Run starts the process and attaches the initial tab.
	if err := chromedp.Run(h.browserCtx); err != nil {
		h.shutdown()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	chromedp.ListenBrowser(h.browserCtx, h.onBrowserEvent)

	h.log.Info("Browser started.",
		zap.Bool("headless", bcfg.Headless),
		zap.String("user_data_dir", h.userDataDir),
		zap.String("proxy", h.proxyAddr),
	)
	return h, nil
}

// controller returns ctx bound to the browser-level executor.
func (h *Host) controller(ctx context.Context) context.Context {
	return cdproto.WithExecutor(ctx, chromedp.FromContext(h.browserCtx).Browser)
}

// NewSurface creates an isolated browser context and page target for device,
// applies the persona and starts translating its events.
func (h *Host) NewSurface(ctx context.Context, device schemas.DeviceProfile, persona stealth.Params) (hbrowser.Surface, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, hbrowser.ErrClosed
	}
	if _, exists := h.surfaces[device.ID]; exists {
		h.mu.Unlock()
		return nil, fmt.Errorf("surface for device %s already exists", device.ID)
	}
	h.mu.Unlock()

	h.creationMu.Lock()
	defer h.creationMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before creating browser context: %w", err)
	}

	combined, cancel := CombineContext(h.browserCtx, ctx)
	defer cancel()
	ctrl := h.controller(combined)

	log := h.log.With(zap.String("device_id", device.ID))
	browserContextID, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(ctrl)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	targetID, err := target.CreateTarget(hbrowser.BlankURL).
		WithBrowserContextID(browserContextID).
		Do(ctrl)
	if err != nil {
		h.bestEffortDispose(browserContextID)
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(h.browserCtx, chromedp.WithTargetID(targetID))
	s := &Surface{
		host:             h,
		device:           device,
		log:              log.With(zap.String("target_id", string(targetID))),
		targetID:         targetID,
		browserContextID: browserContextID,
		ctx:              tabCtx,
		cancel:           tabCancel,
		tr:               newTranslator(string(targetID)),
	}
	chromedp.ListenTarget(tabCtx, s.onTargetEvent)

	if err := h.setupSurface(combined, s, persona); err != nil {
		tabCancel()
		h.bestEffortDispose(browserContextID)
		return nil, fmt.Errorf("failed to set up surface for %s: %w", device.Name, err)
	}

	h.mu.Lock()
	h.surfaces[device.ID] = s
	h.mu.Unlock()

	s.log.Debug("Surface created.", zap.String("partition", device.Partition()))
	return s, nil
}

func (h *Host) setupSurface(ctx context.Context, s *Surface, persona stealth.Params) error {
	tasks := chromedp.Tasks{stealth.Apply(persona, s.log)}
	if h.cfg.Network().HeaderMode == config.HeaderModeFetch {
		tasks = append(tasks, fetch.Enable().WithPatterns([]*fetch.RequestPattern{
			{URLPattern: "*", RequestStage: fetch.RequestStageRequest},
		}))
	}
	tabCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		return err
	}

	if h.cfg.Browser().GrantPermissions {
		err := browser.GrantPermissions(grantedPermissions).
			WithBrowserContextID(s.browserContextID).
			Do(h.controller(ctx))
		if err != nil {
			s.log.Warn("Failed to grant permissions.", zap.Error(err))
		}
	}
	return nil
}

func (h *Host) bestEffortDispose(id cdproto.BrowserContextID) {
	if h.browserCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(h.browserCtx, h.commandTimeout)
	defer cancel()
	if err := target.DisposeBrowserContext(id).Do(h.controller(ctx)); err != nil {
		h.log.Debug("Failed best-effort cleanup of orphaned browser context.", zap.String("browserContextID", string(id)), zap.Error(err))
	}
}

func (h *Host) surface(contextID string) *Surface {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.surfaces[contextID]
}

func (h *Host) forget(contextID string) {
	h.mu.Lock()
	delete(h.surfaces, contextID)
	for tid, id := range h.devtools {
		if id == contextID {
			delete(h.devtools, tid)
		}
	}
	h.mu.Unlock()
}

// -- bridge.Host --

// AttachDebugChannel marks the surface's protocol session as the target of
// emulation commands. Attaching twice is a no-op.
func (h *Host) AttachDebugChannel(ctx context.Context, contextID string) error {
	s := h.surface(contextID)
	if s == nil || s.isClosed() {
		return fmt.Errorf("%w: %s", ErrUnknownContext, contextID)
	}
	// A cheap round trip proves the session is alive before it is used.
	if err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := target.GetTargetInfo().WithTargetID(s.targetID).Do(ctx)
		return err
	})); err != nil {
		return fmt.Errorf("failed to attach debug channel: %w", err)
	}
	s.setDebugAttached(true)
	return nil
}

func (h *Host) SetDeviceMetrics(ctx context.Context, contextID string, width, height int64, mobile bool) error {
	s := h.surface(contextID)
	if s == nil || !s.debugAttached() {
		h.log.Debug("Skipping device metrics on a detached context.", zap.String("device_id", contextID))
		return nil
	}
	orientation := &emulation.ScreenOrientation{Type: emulation.OrientationTypePortraitPrimary, Angle: 0}
	if width > height {
		orientation = &emulation.ScreenOrientation{Type: emulation.OrientationTypeLandscapePrimary, Angle: 90}
	}
	return s.run(ctx, emulation.SetDeviceMetricsOverride(width, height, s.device.DPR, mobile).
		WithScreenWidth(width).
		WithScreenHeight(height).
		WithScreenOrientation(orientation))
}

func (h *Host) SetTouchEmulation(ctx context.Context, contextID string, enabled bool) error {
	s := h.surface(contextID)
	if s == nil || !s.debugAttached() {
		h.log.Debug("Skipping touch emulation on a detached context.", zap.String("device_id", contextID))
		return nil
	}
	touch := emulation.SetTouchEmulationEnabled(enabled)
	cfg := emulation.SetEmitTouchEventsForMouseConfigurationDesktop
	if enabled {
		touch = touch.WithMaxTouchPoints(maxTouchPoints)
		cfg = emulation.SetEmitTouchEventsForMouseConfigurationMobile
	}
	return s.run(ctx, touch, emulation.SetEmitTouchEventsForMouse(enabled).WithConfiguration(cfg))
}

// DetachDebugChannel clears the overrides and releases the channel. Detaching
// a closed or unknown context is a no-op.
func (h *Host) DetachDebugChannel(ctx context.Context, contextID string) error {
	s := h.surface(contextID)
	if s == nil || !s.debugAttached() {
		return nil
	}
	s.setDebugAttached(false)
	err := s.run(ctx,
		emulation.ClearDeviceMetricsOverride(),
		emulation.SetTouchEmulationEnabled(false),
	)
	if errors.Is(err, hbrowser.ErrClosed) {
		return nil
	}
	return err
}

// OpenDevTools opens the front-end for the context in a new window. The
// docked flag has no equivalent outside an embedding application.
func (h *Host) OpenDevTools(ctx context.Context, contextID string, docked bool, label string) error {
	s := h.surface(contextID)
	if s == nil || s.isClosed() {
		return fmt.Errorf("%w: %s", ErrUnknownContext, contextID)
	}
	port, err := h.debuggingPort()
	if err != nil {
		return err
	}
	url := fmt.Sprintf("devtools://devtools/bundled/inspector.html?ws=127.0.0.1:%s/devtools/page/%s", port, s.targetID)

	combined, cancel := CombineContext(h.browserCtx, ctx)
	defer cancel()
	tid, err := target.CreateTarget(url).WithNewWindow(true).Do(h.controller(combined))
	if err != nil {
		return fmt.Errorf("failed to open devtools: %w", err)
	}

	h.mu.Lock()
	h.devtools[tid] = contextID
	h.mu.Unlock()

	h.log.Debug("DevTools opened.", zap.String("device_id", contextID), zap.String("label", label), zap.Bool("docked", docked))
	s.emit(schemas.LifecycleEvent{Kind: schemas.LifecycleDevToolsOpened})
	return nil
}

// debuggingPort reads the port Chromium wrote into the profile directory.
func (h *Host) debuggingPort() (string, error) {
	raw, err := os.ReadFile(filepath.Join(h.userDataDir, "DevToolsActivePort"))
	if err != nil {
		return "", fmt.Errorf("failed to read debugging port: %w", err)
	}
	port, _, _ := strings.Cut(string(raw), "\n")
	port = strings.TrimSpace(port)
	if port == "" {
		return "", errors.New("debugging port file is empty")
	}
	return port, nil
}

// onBrowserEvent runs on the browser event goroutine.
func (h *Host) onBrowserEvent(ev interface{}) {
	e, ok := ev.(*target.EventTargetDestroyed)
	if !ok {
		return
	}
	h.mu.Lock()
	contextID, ok := h.devtools[e.TargetID]
	delete(h.devtools, e.TargetID)
	s := h.surfaces[contextID]
	h.mu.Unlock()
	if ok && s != nil {
		s.emit(schemas.LifecycleEvent{Kind: schemas.LifecycleDevToolsClosed})
	}
}

func (h *Host) CaptureScreenshot(ctx context.Context, filename, dataURI string) (string, error) {
	data, err := DecodeDataURI(dataURI)
	if err != nil {
		return "", fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return writeArtifact(h.outputDir, filename, data)
}

func (h *Host) SaveReport(ctx context.Context, filename, text string) (string, error) {
	return writeArtifact(h.outputDir, filename, []byte(text))
}

func (h *Host) AppVersion() string { return h.version }

// -- Teardown --

// Close closes every surface and shuts the browser down.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	surfaces := make([]*Surface, 0, len(h.surfaces))
	for _, s := range h.surfaces {
		surfaces = append(surfaces, s)
	}
	h.mu.Unlock()

	for _, s := range surfaces {
		if err := s.Close(ctx); err != nil {
			h.log.Debug("Surface close failed during shutdown.", zap.String("device_id", s.device.ID), zap.Error(err))
		}
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(h.browserCtx) }()
	var err error
	select {
	case err = <-done:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	case <-ctx.Done():
		h.log.Warn("Browser shutdown timed out, proceeding forcefully.")
		err = ctx.Err()
	}
	h.shutdown()
	h.log.Info("Browser stopped.")
	return err
}

func (h *Host) shutdown() {
	h.browserCancel()
	h.allocCancel()
	if h.ownsDataDir {
		if err := os.RemoveAll(h.userDataDir); err != nil {
			h.log.Debug("Failed to remove temporary profile.", zap.String("dir", h.userDataDir), zap.Error(err))
		}
	}
}
