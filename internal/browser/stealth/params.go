// internal/browser/stealth/params.go
package stealth

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // timezone offsets must resolve on hosts without a zoneinfo database

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/config"
)

// OSFamily is the operating system a device's user agent claims.
type OSFamily string

const (
	FamilyIOS     OSFamily = "ios"
	FamilyAndroid OSFamily = "android"
	FamilyMac     OSFamily = "mac"
	FamilyWindows OSFamily = "windows"
)

// Chrome object policies.
const (
	ChromeKeep    = "keep"
	ChromeDelete  = "delete"
	ChromeRuntime = "runtime"
	ChromeFull    = "full" // runtime plus the legacy chrome.app object
)

// MaxNoise bounds the fingerprint noise amplitude.
const MaxNoise = 0.0001

const defaultTimezone = "America/Los_Angeles"

var iosPattern = regexp.MustCompile(`iPhone|iPad|iPod`)

// DetectFamily infers the OS family from a user agent string.
func DetectFamily(userAgent string) OSFamily {
	switch {
	case iosPattern.MatchString(userAgent):
		return FamilyIOS
	case strings.Contains(userAgent, "Android"):
		return FamilyAndroid
	case strings.Contains(userAgent, "Mac"):
		return FamilyMac
	}
	return FamilyWindows
}

// GPU is a WebGL UNMASKED_VENDOR / UNMASKED_RENDERER pair.
type GPU struct {
	Vendor   string `json:"vendor"`
	Renderer string `json:"renderer"`
}

// familyProfile is the whitelist of navigator values for a family.
type familyProfile struct {
	platform       string
	vendor         string
	maxTouchPoints int
	gpu            *GPU
}

var families = map[OSFamily]familyProfile{
	FamilyIOS:     {platform: "iPhone", vendor: "Apple Computer, Inc.", maxTouchPoints: 5, gpu: &GPU{"Apple Inc.", "Apple GPU"}},
	FamilyAndroid: {platform: "Linux armv81", vendor: "Google Inc.", maxTouchPoints: 5, gpu: &GPU{"Qualcomm", "Adreno (TM) 640"}},
	FamilyMac:     {platform: "MacIntel", vendor: "Apple Computer, Inc.", gpu: &GPU{"Apple", "Apple M2"}},
	FamilyWindows: {platform: "Win32", vendor: "Google Inc."},
}

// Screen is the geometry reported through window.screen.
type Screen struct {
	Width       int64  `json:"width"`
	Height      int64  `json:"height"`
	ColorDepth  int    `json:"colorDepth"`
	Orientation string `json:"orientation,omitempty"`
}

// Connection is the navigator.connection stand-in.
type Connection struct {
	EffectiveType string  `json:"effectiveType"`
	RTT           int     `json:"rtt"`
	Downlink      float64 `json:"downlink"`
}

// Params is everything the masking script needs, derived from one device.
// It is serialized once as JSON into the generated script.
type Params struct {
	Family         OSFamily   `json:"family"`
	Platform       string     `json:"platform"`
	Vendor         string     `json:"vendor"`
	MaxTouchPoints int        `json:"maxTouchPoints"`
	Chrome         string     `json:"chrome"`
	GPU            *GPU       `json:"gpu,omitempty"`
	Desktop        bool       `json:"desktop"`
	Mobile         bool       `json:"mobile"`
	Plugins        int        `json:"plugins"`
	Languages      []string   `json:"languages"`
	Locale         string     `json:"locale"`
	Timezone       string     `json:"timezone"`
	TimezoneOffset int        `json:"timezoneOffset"`
	Screen         Screen     `json:"screen"`
	Hardware       int        `json:"hardwareConcurrency"`
	DeviceMemory   int        `json:"deviceMemory"`
	OuterWidth     int        `json:"outerWidthOffset"`
	OuterHeight    int        `json:"outerHeightOffset"`
	Connection     Connection `json:"connection"`
	Noise          float64    `json:"noise"`

	// UserAgent feeds the CDP side persona only.
	UserAgent string `json:"-"`
}

// Options tune ParamsFor.
type Options struct {
	NoiseSeedMode string
	Timezone      string
	Locale        string
	Rotated       bool
	// Rand returns a value in [0,1). Defaults to math/rand.
	Rand func() float64
}

// OptionsFromConfig maps the stealth configuration onto Options.
func OptionsFromConfig(cfg config.StealthConfig) Options {
	return Options{NoiseSeedMode: cfg.NoiseSeedMode, Timezone: cfg.Timezone, Locale: cfg.Locale}
}

// ParamsFor derives the masking parameters for a device.
func ParamsFor(d schemas.DeviceProfile, opts Options) Params {
	family := DetectFamily(d.UserAgent)
	fp := families[family]

	w, h := d.EffectiveSize(opts.Rotated)
	screen := Screen{Width: w, Height: h, ColorDepth: 24}
	if w > h {
		screen.Orientation = "landscape-primary"
	}

	locale := opts.Locale
	if locale == "" {
		locale = "en-US"
	}
	tz := opts.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	offset, err := standardOffsetMinutes(tz)
	if err != nil {
		tz, offset = defaultTimezone, 480
	}

	p := Params{
		Family:         family,
		Platform:       fp.platform,
		Vendor:         fp.vendor,
		MaxTouchPoints: fp.maxTouchPoints,
		Chrome:         chromePolicy(family, d.UserAgent),
		GPU:            fp.gpu,
		Desktop:        d.IsDesktop(),
		Mobile:         family == FamilyIOS || family == FamilyAndroid,
		Languages:      languagesFor(locale),
		Locale:         locale,
		Timezone:       tz,
		TimezoneOffset: offset,
		Screen:         screen,
		OuterWidth:     16,
		OuterHeight:    80,
		Connection:     Connection{EffectiveType: "4g", RTT: 50, Downlink: 10},
		Noise:          noiseFor(d.ID, opts),
		UserAgent:      d.UserAgent,
	}
	if p.Desktop {
		p.Plugins = 5
	}
	switch {
	case family == FamilyMac:
		p.Hardware, p.DeviceMemory = 8, 8
	case !p.Desktop:
		p.Hardware, p.DeviceMemory = 4, 4
	}
	return p
}

func chromePolicy(family OSFamily, ua string) string {
	switch family {
	case FamilyIOS:
		return ChromeDelete
	case FamilyAndroid:
		return ChromeRuntime
	case FamilyMac:
		if strings.Contains(ua, "Safari") && !strings.Contains(ua, "Chrome") {
			return ChromeDelete
		}
		return ChromeKeep
	}
	return ChromeFull
}

func languagesFor(locale string) []string {
	base := strings.SplitN(locale, "-", 2)[0]
	if base == locale {
		return []string{locale}
	}
	return []string{locale, base}
}

// standardOffsetMinutes returns the value Date.getTimezoneOffset reports in
// January for tz (positive west of UTC).
func standardOffsetMinutes(tz string) (int, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, err
	}
	_, secs := time.Date(time.Now().Year(), time.January, 1, 12, 0, 0, 0, loc).Zone()
	return -secs / 60, nil
}

// noiseFor returns a value in [0, MaxNoise). In per_device mode it is a
// stable function of the device id.
func noiseFor(deviceID string, opts Options) float64 {
	if opts.NoiseSeedMode == config.NoiseSeedPerDevice {
		h := fnv.New32a()
		_, _ = h.Write([]byte(deviceID))
		return float64(h.Sum32()%10000) / 10000 * MaxNoise
	}
	r := opts.Rand
	if r == nil {
		r = rand.Float64
	}
	return r() * MaxNoise
}

var (
	localePattern   = regexp.MustCompile(`^[a-z]{2,3}(-[A-Z]{2})?$`)
	timezonePattern = regexp.MustCompile(`^[A-Za-z]+(/[A-Za-z0-9_+-]+){0,2}$`)
)

// Validate checks every value against its allowed range or whitelist.
func (p Params) Validate() error {
	fp, ok := families[p.Family]
	if !ok {
		return fmt.Errorf("unknown os family %q", p.Family)
	}
	if p.Platform != fp.platform || p.Vendor != fp.vendor {
		return fmt.Errorf("platform/vendor %q/%q not allowed for %s", p.Platform, p.Vendor, p.Family)
	}
	if p.MaxTouchPoints != fp.maxTouchPoints {
		return fmt.Errorf("maxTouchPoints %d not allowed for %s", p.MaxTouchPoints, p.Family)
	}
	if (p.GPU == nil) != (fp.gpu == nil) || (p.GPU != nil && *p.GPU != *fp.gpu) {
		return fmt.Errorf("gpu pair not allowed for %s", p.Family)
	}
	switch p.Chrome {
	case ChromeKeep, ChromeDelete, ChromeRuntime, ChromeFull:
	default:
		return fmt.Errorf("unknown chrome policy %q", p.Chrome)
	}

	if !localePattern.MatchString(p.Locale) {
		return fmt.Errorf("invalid locale %q", p.Locale)
	}
	if len(p.Languages) == 0 || len(p.Languages) > 8 {
		return fmt.Errorf("languages must hold 1 to 8 entries")
	}
	for _, l := range p.Languages {
		if !localePattern.MatchString(l) {
			return fmt.Errorf("invalid language %q", l)
		}
	}
	if !timezonePattern.MatchString(p.Timezone) {
		return fmt.Errorf("invalid timezone %q", p.Timezone)
	}
	if p.TimezoneOffset < -14*60 || p.TimezoneOffset > 12*60 {
		return fmt.Errorf("timezone offset %d out of range", p.TimezoneOffset)
	}

	if err := bounded("screen.width", float64(p.Screen.Width), 1, 16384); err != nil {
		return err
	}
	if err := bounded("screen.height", float64(p.Screen.Height), 1, 16384); err != nil {
		return err
	}
	if p.Screen.ColorDepth != 24 && p.Screen.ColorDepth != 30 && p.Screen.ColorDepth != 48 {
		return fmt.Errorf("unsupported color depth %d", p.Screen.ColorDepth)
	}
	switch p.Screen.Orientation {
	case "", "landscape-primary", "portrait-primary":
	default:
		return fmt.Errorf("unknown orientation %q", p.Screen.Orientation)
	}

	checks := []struct {
		name     string
		v        float64
		min, max float64
	}{
		{"plugins", float64(p.Plugins), 0, 10},
		{"hardwareConcurrency", float64(p.Hardware), 0, 64},
		{"deviceMemory", float64(p.DeviceMemory), 0, 64},
		{"outerWidthOffset", float64(p.OuterWidth), 0, 200},
		{"outerHeightOffset", float64(p.OuterHeight), 0, 200},
		{"connection.rtt", float64(p.Connection.RTT), 0, 10000},
		{"connection.downlink", p.Connection.Downlink, 0, 10000},
		{"noise", p.Noise, 0, MaxNoise},
	}
	for _, c := range checks {
		if err := bounded(c.name, c.v, c.min, c.max); err != nil {
			return err
		}
	}
	switch p.Connection.EffectiveType {
	case "slow-2g", "2g", "3g", "4g":
	default:
		return fmt.Errorf("unknown effective connection type %q", p.Connection.EffectiveType)
	}
	return nil
}

func bounded(name string, v, min, max float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be finite", name)
	}
	if v < min || v > max {
		return fmt.Errorf("%s=%v out of range [%v, %v]", name, v, min, max)
	}
	return nil
}
