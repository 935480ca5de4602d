// File: internal/pocket/pipeline.go
package pocket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
	"github.com/xkilldash9x/humshakals/internal/config"
	"github.com/xkilldash9x/humshakals/internal/kvstore"
)

const (
	defaultMaxEvents = 500
	notifyBuffer     = 64
)

// Notification kinds.
const (
	KindError   = "error"
	KindLog     = "log"
	KindNetwork = "network"
	KindSuccess = "success"
)

// Pipeline filters console and network traffic from every mounted context
// into per-device capture logs. It implements browser.Listener.
type Pipeline struct {
	settings *kvstore.Settings
	log      *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	cfg       config.PocketConfig
	noise     *noiseFilter
	rules     schemas.PocketRules
	events    map[string][]schemas.CaughtEvent
	limiters  map[string]*rate.Limiter
	subs      map[int]chan schemas.Notification
	nextSubID int
}

var _ browser.Listener = (*Pipeline)(nil)

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source used for timestamps and rate limiting.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a pipeline. settings may be nil, in which case rules are kept in
// memory only.
func New(cfg config.PocketConfig, settings *kvstore.Settings, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	noise, err := newNoiseFilter(cfg.ExtraNoise)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		settings: settings,
		log:      logger.Named("pocket"),
		now:      time.Now,
		cfg:      normalize(cfg),
		noise:    noise,
		events:   make(map[string][]schemas.CaughtEvent),
		limiters: make(map[string]*rate.Limiter),
		subs:     make(map[int]chan schemas.Notification),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func normalize(cfg config.PocketConfig) config.PocketConfig {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.NotifyBurst <= 0 {
		cfg.NotifyBurst = 1
	}
	return cfg
}

// LoadRules reads the persisted rules, merged over the defaults.
func (p *Pipeline) LoadRules(ctx context.Context) schemas.PocketRules {
	var rules schemas.PocketRules
	if p.settings != nil {
		p.settings.Load(ctx, kvstore.KeyPocketRules, &rules)
	}
	p.mu.Lock()
	p.rules = rules
	p.mu.Unlock()
	return rules
}

// Rules returns the current rules.
func (p *Pipeline) Rules() schemas.PocketRules {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules
}

// SetRules merges patch into the current rules and persists the result.
func (p *Pipeline) SetRules(ctx context.Context, patch schemas.PocketRulesPatch) schemas.PocketRules {
	p.mu.Lock()
	p.rules = patch.Apply(p.rules)
	rules := p.rules
	p.mu.Unlock()

	if p.settings != nil {
		p.settings.Save(ctx, kvstore.KeyPocketRules, rules)
	}
	p.log.Debug("Pocket rules updated.", zap.Any("rules", rules))
	return rules
}

// Reconfigure swaps in new limits and noise patterns. Existing logs are
// trimmed to the new capacity.
func (p *Pipeline) Reconfigure(cfg config.PocketConfig) error {
	noise, err := newNoiseFilter(cfg.ExtraNoise)
	if err != nil {
		return err
	}
	cfg = normalize(cfg)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.noise = noise
	for id, evs := range p.events {
		if len(evs) > cfg.MaxEvents {
			p.events[id] = append([]schemas.CaughtEvent(nil), evs[len(evs)-cfg.MaxEvents:]...)
		}
	}
	for _, l := range p.limiters {
		l.SetLimitAt(p.now(), rate.Limit(cfg.NotifyRate))
		l.SetBurstAt(p.now(), cfg.NotifyBurst)
	}
	p.log.Info("Pocket limits reconfigured.",
		zap.Int("max_events", cfg.MaxEvents),
		zap.Float64("notify_rate", cfg.NotifyRate),
		zap.Int("notify_burst", cfg.NotifyBurst),
	)
	return nil
}

// Events returns a copy of a device's capture log, oldest first.
func (p *Pipeline) Events(deviceID string) []schemas.CaughtEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]schemas.CaughtEvent(nil), p.events[deviceID]...)
}

// Clear empties a device's capture log.
func (p *Pipeline) Clear(deviceID string) {
	p.mu.Lock()
	delete(p.events, deviceID)
	p.mu.Unlock()
}

// Subscribe returns a channel of notifications. Slow subscribers miss
// notifications rather than block capture.
func (p *Pipeline) Subscribe() (<-chan schemas.Notification, func()) {
	ch := make(chan schemas.Notification, notifyBuffer)
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Notify fans n out to every subscriber without rate limiting. It is used for
// operation outcomes such as saved screenshots.
func (p *Pipeline) Notify(n schemas.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = p.now()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- n:
		default:
			p.log.Debug("Dropped notification for slow subscriber.", zap.String("kind", n.Kind))
		}
	}
}

// OnLifecycleEvent is a no-op; the pipeline only watches traffic.
func (p *Pipeline) OnLifecycleEvent(*browser.Context, schemas.LifecycleEvent) {}

// OnConsoleMessage classifies one console entry.
func (p *Pipeline) OnConsoleMessage(c *browser.Context, msg schemas.ConsoleMessage) {
	p.mu.RLock()
	noisy := p.noise.isNoise(msg.Message, msg.SourceID)
	rules := p.rules
	p.mu.RUnlock()
	if noisy {
		return
	}

	ev := schemas.CaughtEvent{
		Message: msg.Message,
		Source:  msg.SourceID,
		Line:    msg.Line,
	}
	if msg.Level == schemas.ConsoleError {
		if !MatchConsoleError(rules, msg.SourceID) {
			return
		}
		ev.Type = schemas.EventConsoleError
	} else {
		if !MatchConsoleLog(rules, msg.Message) {
			return
		}
		ev.Type = schemas.EventConsoleLog
	}
	p.capture(c.Device(), ev)
}

// OnNetworkEvent classifies one completed or failed request issued by the
// context's own surface.
func (p *Pipeline) OnNetworkEvent(c *browser.Context, ev schemas.NetworkEvent) {
	if ev.TargetID != c.TargetID() {
		return
	}
	if !MatchNetwork(p.Rules(), ev.URL) {
		return
	}
	p.capture(c.Device(), schemas.CaughtEvent{
		Type:    schemas.EventNetwork,
		URL:     ev.URL,
		Message: networkDetails(ev),
	})
}

func networkDetails(ev schemas.NetworkEvent) string {
	method := ev.Method
	if method == "" {
		method = "GET"
	}
	if ev.Failed {
		return fmt.Sprintf("%s failed: %s", method, ev.ErrorText)
	}
	parts := []string{method, fmt.Sprint(ev.Status)}
	if ev.MimeType != "" {
		parts = append(parts, ev.MimeType)
	}
	return strings.Join(parts, " ")
}

func (p *Pipeline) capture(d schemas.DeviceProfile, ev schemas.CaughtEvent) {
	now := p.now()
	ev.ID = uuid.NewString()
	ev.Timestamp = now

	p.mu.Lock()
	evs := append(p.events[d.ID], ev)
	if over := len(evs) - p.cfg.MaxEvents; over > 0 {
		evs = append([]schemas.CaughtEvent(nil), evs[over:]...)
	}
	p.events[d.ID] = evs

	lim, ok := p.limiters[d.ID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(p.cfg.NotifyRate), p.cfg.NotifyBurst)
		p.limiters[d.ID] = lim
	}
	p.mu.Unlock()

	p.log.Debug("Captured event.",
		zap.String("device_id", d.ID),
		zap.String("type", string(ev.Type)),
	)

	if !lim.AllowN(now, 1) {
		return
	}
	p.Notify(schemas.Notification{
		DeviceID:  d.ID,
		Kind:      kindFor(ev.Type),
		Message:   fmt.Sprintf("%s: %s", d.Name, truncate(ev.Message, 120)),
		Timestamp: now,
	})
}

func kindFor(t schemas.EventType) string {
	switch t {
	case schemas.EventConsoleError:
		return KindError
	case schemas.EventNetwork:
		return KindNetwork
	}
	return KindLog
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
