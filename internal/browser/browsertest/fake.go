// Package browsertest provides an in-memory Surface for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
)

// Surface is a scriptable browser.Surface. With AutoLoad set, Navigate and
// Reload synchronously emit start-loading, did-navigate, dom-ready and
// stop-loading, the way a real page load would.
type Surface struct {
	ID       string
	AutoLoad bool

	mu          sync.Mutex
	sink        browser.Sink
	url         string
	navigations []string
	reloads     int
	scripts     []string
	history     []string
	cursor      int
	closed      bool

	NavigateErr   error
	EvalErr       error
	EvalResult    json.RawMessage
	Screenshot    []byte
	ScreenshotErr error
}

var _ browser.Surface = (*Surface)(nil)

// New returns a surface with the given target id and AutoLoad enabled.
func New(id string) *Surface {
	return &Surface{ID: id, AutoLoad: true, cursor: -1, Screenshot: []byte("\x89PNG")}
}

func (s *Surface) TargetID() string { return s.ID }

func (s *Surface) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	if s.NavigateErr != nil {
		err := s.NavigateErr
		s.mu.Unlock()
		return err
	}
	s.navigations = append(s.navigations, url)
	s.history = append(s.history[:s.cursor+1], url)
	s.cursor = len(s.history) - 1
	s.url = url
	auto := s.AutoLoad
	s.mu.Unlock()

	if auto {
		s.load(url)
	}
	return nil
}

func (s *Surface) Reload(ctx context.Context) error {
	s.mu.Lock()
	s.reloads++
	url, auto := s.url, s.AutoLoad
	s.mu.Unlock()
	if auto {
		s.load(url)
	}
	return nil
}

func (s *Surface) GoBack(ctx context.Context) error    { return s.move(-1) }
func (s *Surface) GoForward(ctx context.Context) error { return s.move(1) }

func (s *Surface) move(delta int) error {
	s.mu.Lock()
	next := s.cursor + delta
	if next < 0 || next >= len(s.history) {
		s.mu.Unlock()
		return browser.ErrNotAvailable
	}
	s.cursor = next
	s.url = s.history[next]
	url, auto := s.url, s.AutoLoad
	s.mu.Unlock()
	if auto {
		s.load(url)
	}
	return nil
}

func (s *Surface) CanGoBack(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor > 0, nil
}

func (s *Surface) CanGoForward(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor >= 0 && s.cursor < len(s.history)-1, nil
}

func (s *Surface) Evaluate(ctx context.Context, code string) (json.RawMessage, error) {
	s.mu.Lock()
	s.scripts = append(s.scripts, code)
	res, err := s.EvalResult, s.EvalErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return res, ctx.Err()
}

func (s *Surface) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Screenshot, s.ScreenshotErr
}

func (s *Surface) Attach(sink browser.Sink) func() {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.sink = nil
		s.mu.Unlock()
	}
}

func (s *Surface) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Surface) load(url string) {
	s.Emit(schemas.LifecycleEvent{Kind: schemas.LifecycleStartLoading, IsMainFrame: true})
	s.Emit(schemas.LifecycleEvent{Kind: schemas.LifecycleDidNavigate, URL: url, IsMainFrame: true})
	s.Emit(schemas.LifecycleEvent{Kind: schemas.LifecycleDomReady, URL: url, IsMainFrame: true})
	s.Emit(schemas.LifecycleEvent{Kind: schemas.LifecycleStopLoading, URL: url, IsMainFrame: true})
}

func (s *Surface) currentSink() browser.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// Emit delivers a lifecycle event to the attached sink, if any.
func (s *Surface) Emit(ev schemas.LifecycleEvent) {
	if sink := s.currentSink(); sink != nil {
		sink.HandleLifecycle(ev)
	}
}

// EmitConsole delivers a console message to the attached sink, if any.
func (s *Surface) EmitConsole(msg schemas.ConsoleMessage) {
	if sink := s.currentSink(); sink != nil {
		sink.HandleConsole(msg)
	}
}

// EmitNetwork delivers a network event to the attached sink, if any.
func (s *Surface) EmitNetwork(ev schemas.NetworkEvent) {
	if sink := s.currentSink(); sink != nil {
		sink.HandleNetwork(ev)
	}
}

// Navigations returns every address passed to Navigate.
func (s *Surface) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Reloads returns the number of Reload calls.
func (s *Surface) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

// Scripts returns every evaluated script.
func (s *Surface) Scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scripts...)
}

// Attached reports whether a sink is currently attached.
func (s *Surface) Attached() bool { return s.currentSink() != nil }

// Closed reports whether Close was called.
func (s *Surface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
