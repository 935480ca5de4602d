// File: internal/devices/registry.go
package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/kvstore"
)

var (
	// ErrNotFound is returned for unknown device or suite ids.
	ErrNotFound = errors.New("not found")
	// ErrNotCustom is returned when a built-in device is targeted by a custom-only operation.
	ErrNotCustom = errors.New("device is not a custom device")
	// ErrDuplicate is returned when an id is already registered.
	ErrDuplicate = errors.New("id already exists")
)

// Registry is the catalog of device profiles plus the user's preview suites.
// It is safe for concurrent use. Every mutation is persisted before it returns.
type Registry struct {
	mu       sync.RWMutex
	builtins []schemas.DeviceProfile
	customs  []schemas.DeviceProfile
	suites   []schemas.PreviewSuite
	activeID string

	settings *kvstore.Settings
	log      *zap.Logger
}

// NewRegistry loads custom devices and suites from settings. Missing or
// unreadable values fall back to an empty custom list and the default suite.
func NewRegistry(ctx context.Context, settings *kvstore.Settings, logger *zap.Logger) *Registry {
	r := &Registry{
		builtins: Builtins(),
		settings: settings,
		log:      logger.Named("devices"),
	}
	r.Reload(ctx)
	return r
}

// Reload replaces the custom devices and suites with the persisted values,
// picking up edits made by another process.
func (r *Registry) Reload(ctx context.Context) {
	suites := []schemas.PreviewSuite{schemas.DefaultSuite()}
	activeID := schemas.DefaultSuiteID

	var customs []schemas.DeviceProfile
	r.settings.Load(ctx, kvstore.KeyCustomDevices, &customs)

	var stored []schemas.PreviewSuite
	if r.settings.Load(ctx, kvstore.KeyPreviewSuites, &stored) && len(stored) > 0 {
		suites = stored
	}
	if indexOfSuite(suites, schemas.DefaultSuiteID) < 0 {
		suites = append([]schemas.PreviewSuite{schemas.DefaultSuite()}, suites...)
	}

	var active string
	if r.settings.Load(ctx, kvstore.KeyActiveSuite, &active) && indexOfSuite(suites, active) >= 0 {
		activeID = active
	}

	r.mu.Lock()
	r.customs = r.sanitizeCustoms(customs)
	r.suites = suites
	r.activeID = activeID
	r.mu.Unlock()

	r.log.Debug("Device registry loaded.",
		zap.Int("builtins", len(r.builtins)),
		zap.Int("customs", len(customs)),
		zap.Int("suites", len(suites)),
		zap.String("active_suite", activeID))
}

func indexOfSuite(suites []schemas.PreviewSuite, id string) int {
	for i, s := range suites {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// sanitizeCustoms drops persisted entries that no longer satisfy the invariants.
func (r *Registry) sanitizeCustoms(in []schemas.DeviceProfile) []schemas.DeviceProfile {
	seen := make(map[string]bool, len(in)+len(r.builtins))
	for _, b := range r.builtins {
		seen[b.ID] = true
	}
	out := make([]schemas.DeviceProfile, 0, len(in))
	for _, d := range in {
		if err := d.Validate(); err != nil || !d.IsCustom() || seen[d.ID] {
			r.log.Warn("Dropping invalid persisted custom device.", zap.String("device_id", d.ID))
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}

// -- Lookup --

// GetByID returns the built-in or custom profile with the given id.
func (r *Registry) GetByID(id string) (schemas.DeviceProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(id)
}

func (r *Registry) lookup(id string) (schemas.DeviceProfile, bool) {
	for _, d := range r.builtins {
		if d.ID == id {
			return d, true
		}
	}
	for _, d := range r.customs {
		if d.ID == id {
			return d, true
		}
	}
	return schemas.DeviceProfile{}, false
}

// List returns built-ins then customs, in catalog order.
func (r *Registry) List() []schemas.DeviceProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schemas.DeviceProfile, 0, len(r.builtins)+len(r.customs))
	out = append(out, r.builtins...)
	return append(out, r.customs...)
}

// ListByType returns every profile of the given class in catalog order.
func (r *Registry) ListByType(class schemas.DeviceClass) []schemas.DeviceProfile {
	var out []schemas.DeviceProfile
	for _, d := range r.List() {
		if d.Type == class {
			out = append(out, d)
		}
	}
	return out
}

// Resolve maps ids to profiles in order, skipping unknown ids.
func (r *Registry) Resolve(ids []string) []schemas.DeviceProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schemas.DeviceProfile, 0, len(ids))
	for _, id := range ids {
		if d, ok := r.lookup(id); ok {
			out = append(out, d)
		}
	}
	return out
}

// Filter returns the profiles whose name matches a case-insensitive glob
// pattern. A pattern without wildcards matches as a substring.
func (r *Registry) Filter(pattern string) ([]schemas.DeviceProfile, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return r.List(), nil
	}
	if !strings.ContainsAny(pattern, "*?[{") {
		pattern = "*" + pattern + "*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid device filter %q: %w", pattern, err)
	}

	var out []schemas.DeviceProfile
	for _, d := range r.List() {
		if g.Match(strings.ToLower(d.Name)) {
			out = append(out, d)
		}
	}
	return out, nil
}

// -- Custom devices --

// AddCustom registers a user-defined profile. An empty id becomes
// custom-<uuid>; any other id is namespaced with the custom prefix.
func (r *Registry) AddCustom(ctx context.Context, d schemas.DeviceProfile) (schemas.DeviceProfile, error) {
	switch {
	case strings.TrimSpace(d.ID) == "":
		d.ID = schemas.CustomDevicePrefix + uuid.NewString()
	case !strings.HasPrefix(d.ID, schemas.CustomDevicePrefix):
		d.ID = schemas.CustomDevicePrefix + d.ID
	}
	if err := d.Validate(); err != nil {
		return schemas.DeviceProfile{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.lookup(d.ID); exists {
		return schemas.DeviceProfile{}, fmt.Errorf("device %q: %w", d.ID, ErrDuplicate)
	}
	r.customs = append(r.customs, d)
	r.persistCustoms(ctx)

	r.log.Info("Custom device added.", zap.String("device_id", d.ID), zap.String("name", d.Name))
	return d, nil
}

// RemoveCustom deletes a custom profile and drops it from every suite.
func (r *Registry) RemoveCustom(ctx context.Context, id string) error {
	if !strings.HasPrefix(id, schemas.CustomDevicePrefix) {
		return fmt.Errorf("device %q: %w", id, ErrNotCustom)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, d := range r.customs {
		if d.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("device %q: %w", id, ErrNotFound)
	}
	r.customs = append(r.customs[:idx], r.customs[idx+1:]...)

	suitesChanged := false
	for i, s := range r.suites {
		if s.Contains(id) {
			r.suites[i] = s.Without(id)
			suitesChanged = true
		}
	}

	r.persistCustoms(ctx)
	if suitesChanged {
		r.persistSuites(ctx)
	}
	r.log.Info("Custom device removed.", zap.String("device_id", id))
	return nil
}

// Customs returns only the user-defined profiles.
func (r *Registry) Customs() []schemas.DeviceProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schemas.DeviceProfile, len(r.customs))
	copy(out, r.customs)
	return out
}

// -- Suites --

// Suites returns every preview suite.
func (r *Registry) Suites() []schemas.PreviewSuite {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schemas.PreviewSuite, len(r.suites))
	for i, s := range r.suites {
		out[i] = s.Clone()
	}
	return out
}

// Active returns the active suite.
func (r *Registry) Active() schemas.PreviewSuite {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.suites[r.suiteIndex(r.activeID)].Clone()
}

// SetActive makes the suite with the given id active.
func (r *Registry) SetActive(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.suiteIndex(id) < 0 {
		return fmt.Errorf("suite %q: %w", id, ErrNotFound)
	}
	r.activeID = id
	r.settings.Save(ctx, kvstore.KeyActiveSuite, id)
	return nil
}

// AddSuite registers a new suite. An empty id is replaced by a uuid.
// Unknown device ids are dropped.
func (r *Registry) AddSuite(ctx context.Context, s schemas.PreviewSuite) (schemas.PreviewSuite, error) {
	if strings.TrimSpace(s.Name) == "" {
		return schemas.PreviewSuite{}, fmt.Errorf("suite name is required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.suiteIndex(s.ID) >= 0 {
		return schemas.PreviewSuite{}, fmt.Errorf("suite %q: %w", s.ID, ErrDuplicate)
	}
	clean := schemas.PreviewSuite{ID: s.ID, Name: s.Name}
	for _, id := range s.DeviceIDs {
		if _, ok := r.lookup(id); ok && !clean.Contains(id) {
			clean.DeviceIDs = append(clean.DeviceIDs, id)
		}
	}
	r.suites = append(r.suites, clean)
	r.persistSuites(ctx)
	return clean, nil
}

// ToggleInActive adds deviceID to the active suite, or removes it if present.
func (r *Registry) ToggleInActive(ctx context.Context, deviceID string) (schemas.PreviewSuite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.suiteIndex(r.activeID)
	if !r.suites[idx].Contains(deviceID) {
		if _, ok := r.lookup(deviceID); !ok {
			return schemas.PreviewSuite{}, fmt.Errorf("device %q: %w", deviceID, ErrNotFound)
		}
	}
	r.suites[idx] = r.suites[idx].Toggle(deviceID)
	r.persistSuites(ctx)
	return r.suites[idx].Clone(), nil
}

// RemoveFromActive drops deviceID from the active suite. Removing an absent
// id is a no-op.
func (r *Registry) RemoveFromActive(ctx context.Context, deviceID string) schemas.PreviewSuite {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.suiteIndex(r.activeID)
	if r.suites[idx].Contains(deviceID) {
		r.suites[idx] = r.suites[idx].Without(deviceID)
		r.persistSuites(ctx)
	}
	return r.suites[idx].Clone()
}

// suiteIndex must be called with the lock held.
func (r *Registry) suiteIndex(id string) int { return indexOfSuite(r.suites, id) }

// -- Persistence --

func (r *Registry) persistCustoms(ctx context.Context) {
	r.settings.Save(ctx, kvstore.KeyCustomDevices, r.customs)
}

func (r *Registry) persistSuites(ctx context.Context) {
	r.settings.Save(ctx, kvstore.KeyPreviewSuites, r.suites)
}
