// internal/browser/cdp/surface.go
package cdp

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"sync"

	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
	netnorm "github.com/xkilldash9x/humshakals/internal/network"
)

// Surface is one page target inside its own CDP browser context.
type Surface struct {
	host             *Host
	device           schemas.DeviceProfile
	log              *zap.Logger
	targetID         target.ID
	browserContextID cdproto.BrowserContextID

	ctx    context.Context // chromedp tab context
	cancel context.CancelFunc
	tr     *translator
	wg     sync.WaitGroup

	mu       sync.Mutex
	sink     browser.Sink
	attached bool
	closed   bool
}

var _ browser.Surface = (*Surface)(nil)

func (s *Surface) TargetID() string { return string(s.targetID) }

// run executes actions on the tab, bounded by both the caller's context and
// the surface lifetime.
func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.isClosed() {
		return browser.ErrClosed
	}
	combined, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(combined, actions...)
}

func (s *Surface) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return fmt.Errorf("navigate to %s: %w", url, err)
		}
		// The failure itself arrives as a did-fail-load event.
		if errorText != "" {
			s.log.Debug("Navigation reported an error.", zap.String("url", url), zap.String("error", errorText))
		}
		return nil
	}))
}

func (s *Surface) Reload(ctx context.Context) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.Reload().Do(ctx)
	}))
}

func (s *Surface) GoBack(ctx context.Context) error    { return s.traverse(ctx, -1) }
func (s *Surface) GoForward(ctx context.Context) error { return s.traverse(ctx, 1) }

func (s *Surface) traverse(ctx context.Context, delta int64) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cur, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to read navigation history: %w", err)
		}
		next := cur + delta
		if next < 0 || next >= int64(len(entries)) {
			return browser.ErrNotAvailable
		}
		return page.NavigateToHistoryEntry(entries[next].ID).Do(ctx)
	}))
}

func (s *Surface) CanGoBack(ctx context.Context) (bool, error)    { return s.canTraverse(ctx, -1) }
func (s *Surface) CanGoForward(ctx context.Context) (bool, error) { return s.canTraverse(ctx, 1) }

func (s *Surface) canTraverse(ctx context.Context, delta int64) (bool, error) {
	var ok bool
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cur, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return err
		}
		next := cur + delta
		ok = next >= 0 && next < int64(len(entries))
		return nil
	}))
	return ok, err
}

func (s *Surface) Evaluate(ctx context.Context, code string) (stdjson.RawMessage, error) {
	var out stdjson.RawMessage
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, exc, err := runtime.Evaluate(code).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if res != nil && len(res.Value) > 0 {
			out = stdjson.RawMessage(res.Value)
		}
		return nil
	}))
	return out, err
}

func (s *Surface) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *Surface) Attach(sink browser.Sink) (detach func()) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.sink == sink {
				s.sink = nil
			}
			s.mu.Unlock()
		})
	}
}

func (s *Surface) currentSink() browser.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.sink
}

func (s *Surface) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// emit forwards a translated event to the attached sink.
func (s *Surface) emit(ev interface{}) {
	sink := s.currentSink()
	if sink == nil {
		return
	}
	switch e := ev.(type) {
	case schemas.LifecycleEvent:
		sink.HandleLifecycle(e)
	case schemas.ConsoleMessage:
		sink.HandleConsole(e)
	case schemas.NetworkEvent:
		sink.HandleNetwork(e)
	}
}

// onTargetEvent runs on chromedp's event goroutine. Commands must not be
// issued synchronously from here.
func (s *Surface) onTargetEvent(ev interface{}) {
	if e, ok := ev.(*fetch.EventRequestPaused); ok {
		s.goContinue(e)
		return
	}
	for _, out := range s.tr.translate(ev) {
		s.emit(out)
	}
}

func (s *Surface) goContinue(e *fetch.EventRequestPaused) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		params := fetch.ContinueRequest(e.RequestID)
		if e.Request != nil {
			params = params.WithHeaders(fetchHeaders(e.Request.Headers))
		}
		c := chromedp.FromContext(s.ctx)
		if c == nil || c.Target == nil {
			return
		}
		if err := params.Do(cdproto.WithExecutor(s.ctx, c.Target)); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debug("Failed to continue paused request.", zap.String("request_id", string(e.RequestID)), zap.Error(err))
		}
	}()
}

func fetchHeaders(headers map[string]interface{}) []*fetch.HeaderEntry {
	filtered := netnorm.FilterClientHints(headers)
	out := make([]*fetch.HeaderEntry, 0, len(filtered))
	for _, h := range filtered {
		out = append(out, &fetch.HeaderEntry{Name: h.Name, Value: h.Value})
	}
	return out
}

func (s *Surface) setDebugAttached(on bool) {
	s.mu.Lock()
	s.attached = on
	s.mu.Unlock()
}

func (s *Surface) debugAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached && !s.closed
}

// Close closes the page target and disposes its browser context. It is
// idempotent.
func (s *Surface) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.sink = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.host.forget(s.device.ID)

	var errs []error
	// Cancelling the tab context detaches from and closes the page target.
	if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("close target: %w", err))
	}
	s.cancel()

	ctrl, cancel := context.WithTimeout(Detach(ctx), s.host.commandTimeout)
	defer cancel()
	if err := target.DisposeBrowserContext(s.browserContextID).Do(s.host.controller(ctrl)); err != nil {
		errs = append(errs, fmt.Errorf("dispose browser context: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Debug("Best-effort surface teardown reported errors.", zap.Error(err))
		return err
	}
	s.log.Debug("Surface closed.")
	return nil
}
