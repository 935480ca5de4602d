package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// -- Device Profile Schemas --

// DeviceClass groups device profiles by form factor.
type DeviceClass string

const (
	DevicePhone   DeviceClass = "phone"
	DeviceTablet  DeviceClass = "tablet"
	DeviceDesktop DeviceClass = "desktop"
)

// DeviceClasses lists every known class in display order.
var DeviceClasses = []DeviceClass{DevicePhone, DeviceTablet, DeviceDesktop}

// Valid reports whether c is one of the known classes.
func (c DeviceClass) Valid() bool {
	switch c {
	case DevicePhone, DeviceTablet, DeviceDesktop:
		return true
	}
	return false
}

// CustomDevicePrefix namespaces user-created device ids so they can never
// collide with the built-in catalog.
const CustomDevicePrefix = "custom-"

// ErrInvalidDevice is returned when a profile violates its invariants.
var ErrInvalidDevice = errors.New("invalid device profile")

// DeviceProfile describes one emulated device. Profiles are treated as values
// and never mutated after registration.
type DeviceProfile struct {
	ID              string      `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	Width           int64       `json:"width" yaml:"width"`
	Height          int64       `json:"height" yaml:"height"`
	DPR             float64     `json:"dpr" yaml:"dpr"`
	UserAgent       string      `json:"userAgent" yaml:"user_agent"`
	Type            DeviceClass `json:"type" yaml:"type"`
	IsTouchCapable  bool        `json:"isTouchCapable" yaml:"touch"`
	IsMobileCapable bool        `json:"isMobileCapable" yaml:"mobile"`
	// DisplayScale is the OS level scaling percentage (e.g. 150), zero when unset.
	DisplayScale int `json:"customScale,omitempty" yaml:"display_scale,omitempty"`
}

// Validate checks the structural invariants of a profile.
func (d DeviceProfile) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w: width and height must be positive (got %dx%d)", ErrInvalidDevice, d.Width, d.Height)
	}
	if d.DPR <= 0 {
		return fmt.Errorf("%w: dpr must be positive", ErrInvalidDevice)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown device type %q", ErrInvalidDevice, d.Type)
	}
	if d.DisplayScale < 0 {
		return fmt.Errorf("%w: display scale must not be negative", ErrInvalidDevice)
	}
	return nil
}

// IsCustom reports whether the profile lives in the user namespace.
func (d DeviceProfile) IsCustom() bool {
	return strings.HasPrefix(d.ID, CustomDevicePrefix)
}

// IsDesktop is a shorthand used by the scheduler and stealth builder.
func (d DeviceProfile) IsDesktop() bool { return d.Type == DeviceDesktop }

// EffectiveSize returns the viewport size after applying rotation. Only
// mobile-capable devices rotate.
func (d DeviceProfile) EffectiveSize(rotated bool) (width, height int64) {
	if rotated && d.IsMobileCapable {
		return d.Height, d.Width
	}
	return d.Width, d.Height
}

// Partition returns the storage partition bound to this device.
func (d DeviceProfile) Partition() string {
	return PartitionFor(d.ID)
}

// PartitionFor derives the deterministic storage partition name for a device id.
func PartitionFor(deviceID string) string {
	return "persist:device-" + deviceID
}

// -- Preview Suite Schemas --

// PreviewSuite is an ordered set of device ids shown together.
type PreviewSuite struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	DeviceIDs []string `json:"deviceIds" yaml:"devices"`
}

// Contains reports whether id is a member of the suite.
func (s PreviewSuite) Contains(id string) bool {
	return s.IndexOf(id) >= 0
}

// IndexOf returns the display position of id, or -1.
func (s PreviewSuite) IndexOf(id string) int {
	for i, d := range s.DeviceIDs {
		if d == id {
			return i
		}
	}
	return -1
}

// Toggle returns a copy of the suite with id removed if present, appended otherwise.
func (s PreviewSuite) Toggle(id string) PreviewSuite {
	if s.Contains(id) {
		return s.Without(id)
	}
	out := s.Clone()
	out.DeviceIDs = append(out.DeviceIDs, id)
	return out
}

// Without returns a copy of the suite with every occurrence of id removed.
func (s PreviewSuite) Without(id string) PreviewSuite {
	out := s.Clone()
	out.DeviceIDs = out.DeviceIDs[:0]
	for _, d := range s.DeviceIDs {
		if d != id {
			out.DeviceIDs = append(out.DeviceIDs, d)
		}
	}
	return out
}

// Clone returns a deep copy of the suite.
func (s PreviewSuite) Clone() PreviewSuite {
	ids := make([]string, len(s.DeviceIDs))
	copy(ids, s.DeviceIDs)
	return PreviewSuite{ID: s.ID, Name: s.Name, DeviceIDs: ids}
}

// DefaultSuiteID identifies the suite created on first run.
const DefaultSuiteID = "default"

// DefaultSuite returns a fresh copy of the suite created on first run:
// iPhone SE, iPhone 14 Pro Max and Desktop 1080p.
func DefaultSuite() PreviewSuite {
	return PreviewSuite{
		ID:        DefaultSuiteID,
		Name:      "Default",
		DeviceIDs: []string{"10003", "10010", "90002"},
	}
}
