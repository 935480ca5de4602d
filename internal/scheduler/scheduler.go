// Package scheduler shapes navigation traffic across browsing contexts:
// staggered loads in suite order and a one-shot settle reload for desktops.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
	"github.com/xkilldash9x/humshakals/internal/config"
)

const navigationTimeout = 30 * time.Second

// pendingTimer ties a Timer to the bookkeeping entry that owns it.
type pendingTimer struct {
	t Timer
}

// Scheduler is safe for concurrent use. It never holds its lock while
// calling into a context.
type Scheduler struct {
	clock   Clock
	stagger time.Duration
	settle  time.Duration
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  map[string][]*pendingTimer
	address  map[string]string
	reloaded map[string]bool
}

var _ browser.Listener = (*Scheduler)(nil)

// New creates a Scheduler. A nil clock means the wall clock.
func New(cfg config.SchedulerConfig, clock Clock, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:    clock,
		stagger:  cfg.StaggerDelay,
		settle:   cfg.SettleDelay,
		log:      logger.Named("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string][]*pendingTimer),
		address:  make(map[string]string),
		reloaded: make(map[string]bool),
	}
}

// NormalizeAddress prepends https:// to addresses without an http(s)
// scheme. about: and file: addresses pass through.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	lower := strings.ToLower(address)
	for _, prefix := range []string{"http://", "https://", "about:", "file://"} {
		if strings.HasPrefix(lower, prefix) {
			return address
		}
	}
	return "https://" + address
}

// Navigate loads address into every context, context i after i stagger delays.
func (s *Scheduler) Navigate(address string, contexts []*browser.Context) {
	address = NormalizeAddress(address)
	if address == "" {
		return
	}
	s.log.Info("Scheduling staggered navigation.",
		zap.String("address", address), zap.Int("contexts", len(contexts)), zap.Duration("stagger", s.stagger))
	for i, c := range contexts {
		s.schedule(c, address, time.Duration(i)*s.stagger)
	}
}

// Reconcile brings a newly mounted context to address. A blank surface loads
// immediately; anything else waits its turn at position index.
func (s *Scheduler) Reconcile(address string, c *browser.Context, index int) {
	address = NormalizeAddress(address)
	if address == "" {
		return
	}
	if c.IsBlank() {
		s.mu.Lock()
		s.stopLocked(c.ID())
		s.address[c.ID()] = address
		s.mu.Unlock()
		s.load(c, address)
		return
	}
	s.schedule(c, address, time.Duration(index)*s.stagger)
}

func (s *Scheduler) schedule(c *browser.Context, address string, delay time.Duration) {
	id := c.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	// A newer address supersedes anything still waiting for this context.
	s.stopLocked(id)
	s.address[id] = address

	tok := &pendingTimer{}
	tok.t = s.clock.AfterFunc(delay, func() {
		if !s.take(id, tok) {
			return
		}
		s.load(c, address)
	})
	s.pending[id] = append(s.pending[id], tok)
}

// take removes tok from the pending set, reporting whether it was still there.
func (s *Scheduler) take(id string, tok *pendingTimer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.pending[id]
	for i, p := range list {
		if p == tok {
			s.pending[id] = append(list[:i:i], list[i+1:]...)
			if len(s.pending[id]) == 0 {
				delete(s.pending, id)
			}
			return true
		}
	}
	return false
}

func (s *Scheduler) load(c *browser.Context, address string) {
	ctx, cancel := context.WithTimeout(s.ctx, navigationTimeout)
	defer cancel()
	if err := c.SetSource(ctx, address); err != nil {
		if errors.Is(err, browser.ErrClosed) {
			s.log.Debug("Skipping navigation for closed context.", zap.String("device_id", c.ID()))
			return
		}
		s.log.Warn("Navigation failed.", zap.String("device_id", c.ID()), zap.String("address", address), zap.Error(err))
	}
}

// OnLifecycleEvent arms the desktop one-shot reload: after the first
// successful stop-loading on a non-blank address, reload once after the
// settle delay. The flag lives as long as the context; only Cancel clears it.
func (s *Scheduler) OnLifecycleEvent(c *browser.Context, ev schemas.LifecycleEvent) {
	if ev.Kind != schemas.LifecycleStopLoading || !c.Device().IsDesktop() {
		return
	}
	if c.State() == browser.StateFailed {
		return
	}
	if u := c.URL(); u == "" || u == browser.BlankURL {
		return
	}

	id := c.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := s.address[id]
	if s.ctx.Err() != nil || addr == "" || addr == browser.BlankURL || s.reloaded[id] {
		return
	}
	s.reloaded[id] = true

	s.log.Debug("Arming one-time settle reload.", zap.String("device_id", id), zap.Duration("delay", s.settle))
	tok := &pendingTimer{}
	tok.t = s.clock.AfterFunc(s.settle, func() {
		if !s.take(id, tok) {
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, navigationTimeout)
		defer cancel()
		if err := c.Reload(ctx); err != nil && !errors.Is(err, browser.ErrClosed) {
			s.log.Warn("Settle reload failed.", zap.String("device_id", id), zap.Error(err))
		}
	})
	s.pending[id] = append(s.pending[id], tok)
}

func (s *Scheduler) OnConsoleMessage(*browser.Context, schemas.ConsoleMessage) {}
func (s *Scheduler) OnNetworkEvent(*browser.Context, schemas.NetworkEvent)     {}

// Cancel drops every pending timer and the reload flag of a context.
func (s *Scheduler) Cancel(contextID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(contextID)
	delete(s.address, contextID)
	delete(s.reloaded, contextID)
}

// PendingFor returns the number of timers waiting for a context.
func (s *Scheduler) PendingFor(contextID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[contextID])
}

func (s *Scheduler) stopLocked(id string) {
	for _, p := range s.pending[id] {
		p.t.Stop()
	}
	delete(s.pending, id)
}

// Close cancels every pending timer and in-flight navigation.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	for id := range s.pending {
		s.stopLocked(id)
	}
}
