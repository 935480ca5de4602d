// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Scheduler() SchedulerConfig
	Stealth() StealthConfig
	Bridge() BridgeConfig
	Pocket() PocketConfig
	Store() StoreConfig
	Output() OutputConfig
	API() APIConfig
	Preview() PreviewConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserExecPath(string)

	// Preview Setters
	SetPreviewSuite(string)
	SetPreviewZoom(float64)

	// Store Setters
	SetStoreBackend(string)
}

// Config holds the entire application configuration.
// It uses private fields to enforce access through the Interface's getter methods.
type Config struct {
	logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	stealth   StealthConfig   `mapstructure:"stealth" yaml:"stealth"`
	bridge    BridgeConfig    `mapstructure:"bridge" yaml:"bridge"`
	pocket    PocketConfig    `mapstructure:"pocket" yaml:"pocket"`
	store     StoreConfig     `mapstructure:"store" yaml:"store"`
	output    OutputConfig    `mapstructure:"output" yaml:"output"`
	api       APIConfig       `mapstructure:"api" yaml:"api"`
	preview   PreviewConfig   `mapstructure:"preview" yaml:"preview"`
}

// rawConfig mirrors Config with exported fields so viper can decode into it.
type rawConfig struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Network   NetworkConfig   `mapstructure:"network"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Stealth   StealthConfig   `mapstructure:"stealth"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Pocket    PocketConfig    `mapstructure:"pocket"`
	Store     StoreConfig     `mapstructure:"store"`
	Output    OutputConfig    `mapstructure:"output"`
	API       APIConfig       `mapstructure:"api"`
	Preview   PreviewConfig   `mapstructure:"preview"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.logger }
func (c *Config) Browser() BrowserConfig     { return c.browser }
func (c *Config) Network() NetworkConfig     { return c.network }
func (c *Config) Scheduler() SchedulerConfig { return c.scheduler }
func (c *Config) Stealth() StealthConfig     { return c.stealth }
func (c *Config) Bridge() BridgeConfig       { return c.bridge }
func (c *Config) Pocket() PocketConfig       { return c.pocket }
func (c *Config) Store() StoreConfig         { return c.store }
func (c *Config) Output() OutputConfig       { return c.output }
func (c *Config) API() APIConfig             { return c.api }
func (c *Config) Preview() PreviewConfig     { return c.preview }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)      { c.browser.Headless = b }
func (c *Config) SetBrowserExecPath(p string)    { c.browser.ExecPath = p }
func (c *Config) SetPreviewSuite(id string)      { c.preview.Suite = id }
func (c *Config) SetPreviewZoom(z float64)       { c.preview.Zoom = z }
func (c *Config) SetStoreBackend(backend string) { c.store.Backend = backend }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chromium process hosting every viewport.
type BrowserConfig struct {
	Headless    bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath    string   `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args        []string `mapstructure:"args" yaml:"args"`
	// WindowWidth/WindowHeight size the host window; device viewports are
	// emulated inside it.
	WindowWidth  int  `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int  `mapstructure:"window_height" yaml:"window_height"`
	Debug        bool `mapstructure:"debug" yaml:"debug"`
	// GrantPermissions auto-accepts permission prompts in every device partition.
	GrantPermissions bool `mapstructure:"grant_permissions" yaml:"grant_permissions"`
}

// Header normalization modes.
const (
	HeaderModeFetch = "fetch"
	HeaderModeProxy = "proxy"
	HeaderModeOff   = "off"
)

// NetworkConfig controls outbound header normalization.
type NetworkConfig struct {
	HeaderMode string      `mapstructure:"header_mode" yaml:"header_mode"`
	Proxy      ProxyConfig `mapstructure:"proxy" yaml:"proxy"`
}

// ProxyConfig defines the local interception proxy used in "proxy" header mode.
type ProxyConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
	CACert  string `mapstructure:"ca_cert" yaml:"ca_cert"`
	CAKey   string `mapstructure:"ca_key" yaml:"ca_key"`
	// CADir holds the generated CA pair used when no pair is configured.
	CADir   string `mapstructure:"ca_dir" yaml:"ca_dir"`
}

// SchedulerConfig tunes the traffic shaping of navigations.
type SchedulerConfig struct {
	StaggerDelay time.Duration `mapstructure:"stagger_delay" yaml:"stagger_delay"`
	SettleDelay  time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// Noise seed modes for canvas and rect fingerprint noise.
const (
	NoiseSeedPerInjection = "per_injection"
	NoiseSeedPerDevice    = "per_device"
)

// StealthConfig holds the fingerprint masking settings.
type StealthConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	NoiseSeedMode string `mapstructure:"noise_seed_mode" yaml:"noise_seed_mode"`
	Timezone      string `mapstructure:"timezone" yaml:"timezone"`
	Locale        string `mapstructure:"locale" yaml:"locale"`
}

// BridgeConfig holds the request/response policy for emulation commands.
type BridgeConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	Retries        int           `mapstructure:"retries" yaml:"retries"`
}

// PocketConfig tunes the DevTools Pocket capture pipeline.
type PocketConfig struct {
	MaxEvents   int      `mapstructure:"max_events" yaml:"max_events"`
	NotifyRate  float64  `mapstructure:"notify_rate" yaml:"notify_rate"`
	NotifyBurst int      `mapstructure:"notify_burst" yaml:"notify_burst"`
	ExtraNoise  []string `mapstructure:"extra_noise" yaml:"extra_noise"`
}

// Store backends.
const (
	StoreBackendFile     = "file"
	StoreBackendSQLite   = "sqlite"
	StoreBackendPostgres = "postgres"
)

// StoreConfig selects the persisted key-value store backend.
type StoreConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Dir         string `mapstructure:"dir" yaml:"dir"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// OutputConfig sets where screenshots and reports land.
type OutputConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// APIConfig configures the local control API.
type APIConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// PreviewConfig holds the session defaults.
type PreviewConfig struct {
	Suite  string  `mapstructure:"suite" yaml:"suite"`
	Zoom   float64 `mapstructure:"zoom" yaml:"zoom"`
	Touch  bool    `mapstructure:"touch" yaml:"touch"`
	Rotate bool    `mapstructure:"rotate" yaml:"rotate"`
}

// ZoomLevels are the zoom factors offered by the preview controls.
var ZoomLevels = []float64{0.25, 0.33, 0.5, 0.67, 0.75, 1.0}

// NewDefaultConfig creates a configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var raw rawConfig
	// Unmarshal will not fail with only defaults set.
	_ = v.Unmarshal(&raw)
	return fromRaw(raw)
}

// SetDefaults registers every default value on the given viper instance.
func SetDefaults(v *viper.Viper) {
	dataDir := defaultDataDir()

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "humshakals")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_data_dir", filepath.Join(dataDir, "profile"))
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.window_width", 1400)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.grant_permissions", true)

	// -- Network --
	v.SetDefault("network.header_mode", HeaderModeFetch)
	v.SetDefault("network.proxy.address", "127.0.0.1:8089")
	v.SetDefault("network.proxy.ca_cert", "")
	v.SetDefault("network.proxy.ca_key", "")
	v.SetDefault("network.proxy.ca_dir", filepath.Join(dataDir, "ca"))

	// -- Scheduler --
	v.SetDefault("scheduler.stagger_delay", 1500*time.Millisecond)
	v.SetDefault("scheduler.settle_delay", 500*time.Millisecond)

	// -- Stealth --
	v.SetDefault("stealth.enabled", true)
	v.SetDefault("stealth.noise_seed_mode", NoiseSeedPerInjection)
	v.SetDefault("stealth.timezone", "America/Los_Angeles")
	v.SetDefault("stealth.locale", "en-US")

	// -- Bridge --
	v.SetDefault("bridge.command_timeout", 5*time.Second)
	v.SetDefault("bridge.retries", 1)

	// -- Pocket --
	v.SetDefault("pocket.max_events", 500)
	v.SetDefault("pocket.notify_rate", 2.0)
	v.SetDefault("pocket.notify_burst", 5)
	v.SetDefault("pocket.extra_noise", []string{})

	// -- Store --
	v.SetDefault("store.backend", StoreBackendFile)
	v.SetDefault("store.dir", filepath.Join(dataDir, "store"))
	v.SetDefault("store.sqlite_path", filepath.Join(dataDir, "humshakals.db"))
	v.SetDefault("store.postgres_url", "")

	// -- Output --
	v.SetDefault("output.dir", defaultOutputDir())

	// -- API --
	v.SetDefault("api.listen", "127.0.0.1:7411")

	// -- Preview --
	v.SetDefault("preview.suite", "default")
	v.SetDefault("preview.zoom", 0.5)
	v.SetDefault("preview.touch", false)
	v.SetDefault("preview.rotate", false)
}

// NewConfigFromViper decodes and validates a configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var raw rawConfig

	// Bind environment variables for sensitive data
	_ = v.BindEnv("store.postgres_url", "HUMSHAKALS_POSTGRES_URL")

	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg := fromRaw(raw)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func fromRaw(raw rawConfig) *Config {
	return &Config{
		logger:    raw.Logger,
		browser:   raw.Browser,
		network:   raw.Network,
		scheduler: raw.Scheduler,
		stealth:   raw.Stealth,
		bridge:    raw.Bridge,
		pocket:    raw.Pocket,
		store:     raw.Store,
		output:    raw.Output,
		api:       raw.API,
		preview:   raw.Preview,
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.scheduler.StaggerDelay < 0 || c.scheduler.SettleDelay < 0 {
		return fmt.Errorf("scheduler delays must not be negative")
	}
	if c.bridge.CommandTimeout <= 0 {
		return fmt.Errorf("bridge.command_timeout must be positive")
	}
	if c.bridge.Retries < 0 {
		return fmt.Errorf("bridge.retries must not be negative")
	}
	if c.pocket.MaxEvents <= 0 {
		return fmt.Errorf("pocket.max_events must be a positive integer")
	}
	if c.pocket.NotifyRate < 0 || c.pocket.NotifyBurst < 0 {
		return fmt.Errorf("pocket notification limits must not be negative")
	}
	if err := c.network.Validate(); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}
	if err := c.stealth.Validate(); err != nil {
		return fmt.Errorf("stealth configuration invalid: %w", err)
	}
	if err := c.store.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if c.preview.Zoom <= 0 || c.preview.Zoom > 1 {
		return fmt.Errorf("preview.zoom must be in (0, 1]")
	}
	return nil
}

// Validate checks the header normalization mode.
func (n *NetworkConfig) Validate() error {
	switch n.HeaderMode {
	case HeaderModeFetch, HeaderModeOff:
		return nil
	case HeaderModeProxy:
		if n.Proxy.Address == "" {
			return fmt.Errorf("proxy.address is required in proxy mode")
		}
		if (n.Proxy.CACert == "") != (n.Proxy.CAKey == "") {
			return fmt.Errorf("proxy.ca_cert and proxy.ca_key must be set together")
		}
		return nil
	}
	return fmt.Errorf("unknown header_mode %q", n.HeaderMode)
}

// Validate checks the noise seed mode.
func (s *StealthConfig) Validate() error {
	switch s.NoiseSeedMode {
	case NoiseSeedPerInjection, NoiseSeedPerDevice:
		return nil
	}
	return fmt.Errorf("unknown noise_seed_mode %q", s.NoiseSeedMode)
}

// Validate checks that the selected backend has what it needs.
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case StoreBackendFile:
		if s.Dir == "" {
			return fmt.Errorf("store.dir is required for the file backend")
		}
	case StoreBackendSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	case StoreBackendPostgres:
		if s.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", s.Backend)
	}
	return nil
}

// defaultDataDir resolves ~/.humshakals, falling back to the working directory.
func defaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".humshakals"
	}
	return filepath.Join(home, ".humshakals")
}

func defaultOutputDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return "Humshakals"
	}
	return filepath.Join(home, "Humshakals")
}
