// File: internal/state/state.go
package state

import (
	"math"
	"sort"
	"sync"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/config"
)

// State is the session wide view state. It is a plain value; every change
// goes through Reduce.
type State struct {
	Address     string              `json:"address"`
	Rotate      bool                `json:"rotate"`
	Zoom        float64             `json:"zoom"`
	Touch       bool                `json:"touch"`
	Inspecting  bool                `json:"inspecting"`
	Capturing   bool                `json:"capturing"`
	ActiveSuite string              `json:"activeSuite"`
	Rules       schemas.PocketRules `json:"rules"`
}

// Initial builds the starting state from the preview configuration.
func Initial(cfg config.PreviewConfig) State {
	zoom := cfg.Zoom
	if zoom <= 0 {
		zoom = 0.5
	}
	return State{
		Zoom:        snapZoom(zoom),
		Touch:       cfg.Touch,
		Rotate:      cfg.Rotate,
		ActiveSuite: cfg.Suite,
	}
}

// Action is a state transition request.
type Action interface {
	apply(State) State
}

type (
	SetAddress     struct{ Address string }
	SetRotate      struct{ Rotate bool }
	ToggleRotate   struct{}
	SetZoom        struct{ Zoom float64 }
	ZoomIn         struct{}
	ZoomOut        struct{}
	SetTouch       struct{ Enabled bool }
	ToggleTouch    struct{}
	SetInspecting  struct{ Inspecting bool }
	SetCapturing   struct{ Capturing bool }
	SetActiveSuite struct{ ID string }
	SetRules       struct{ Rules schemas.PocketRules }
)

func (a SetAddress) apply(s State) State     { s.Address = a.Address; return s }
func (a SetRotate) apply(s State) State      { s.Rotate = a.Rotate; return s }
func (ToggleRotate) apply(s State) State     { s.Rotate = !s.Rotate; return s }
func (a SetZoom) apply(s State) State        { s.Zoom = snapZoom(a.Zoom); return s }
func (ZoomIn) apply(s State) State           { s.Zoom = stepZoom(s.Zoom, 1); return s }
func (ZoomOut) apply(s State) State          { s.Zoom = stepZoom(s.Zoom, -1); return s }
func (a SetTouch) apply(s State) State       { s.Touch = a.Enabled; return s }
func (ToggleTouch) apply(s State) State      { s.Touch = !s.Touch; return s }
func (a SetInspecting) apply(s State) State  { s.Inspecting = a.Inspecting; return s }
func (a SetCapturing) apply(s State) State   { s.Capturing = a.Capturing; return s }
func (a SetActiveSuite) apply(s State) State { s.ActiveSuite = a.ID; return s }
func (a SetRules) apply(s State) State       { s.Rules = a.Rules; return s }

// Reduce returns the state that results from applying a to s. It has no side effects.
func Reduce(s State, a Action) State {
	if a == nil {
		return s
	}
	return a.apply(s)
}

// snapZoom returns the offered zoom level closest to z.
func snapZoom(z float64) float64 {
	best := config.ZoomLevels[0]
	for _, l := range config.ZoomLevels[1:] {
		if math.Abs(l-z) < math.Abs(best-z) {
			best = l
		}
	}
	return best
}

func stepZoom(z float64, dir int) float64 {
	levels := config.ZoomLevels
	i := sort.SearchFloat64s(levels, snapZoom(z)) + dir
	if i < 0 {
		i = 0
	}
	if i >= len(levels) {
		i = len(levels) - 1
	}
	return levels[i]
}

// Listener observes committed transitions.
type Listener func(prev, next State)

// Store holds the current State and notifies subscribers of each transition.
type Store struct {
	mu     sync.RWMutex
	state  State
	nextID int
	subs   map[int]Listener
}

// NewStore creates a store seeded with initial.
func NewStore(initial State) *Store {
	return &Store{state: initial, subs: make(map[int]Listener)}
}

// Dispatch applies a and notifies subscribers, outside the lock, when the state changed.
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	prev := s.state
	next := Reduce(prev, a)
	s.state = next
	subs := make([]Listener, 0, len(s.subs))
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	if prev != next {
		for _, fn := range subs {
			fn(prev, next)
		}
	}
	return next
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Get returns a copy of the current state.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Named accessors.

func (s *Store) Address() string            { return s.Get().Address }
func (s *Store) Rotate() bool               { return s.Get().Rotate }
func (s *Store) Zoom() float64              { return s.Get().Zoom }
func (s *Store) Touch() bool                { return s.Get().Touch }
func (s *Store) ActiveSuite() string        { return s.Get().ActiveSuite }
func (s *Store) Rules() schemas.PocketRules { return s.Get().Rules }
