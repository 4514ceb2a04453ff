package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for volumeosd.
//
// Defaults, file values and flag overrides are merged in that order, then
// Validate is called once so the rest of the daemon can assume a
// well-formed config.
type Config struct {
	Input     InputConfig    `yaml:"input"`
	Keys      KeysConfig     `yaml:"keys"`
	RateLimit RateLimitFile  `yaml:"rate_limit"`
	Dispatch  DispatchConfig `yaml:"dispatch"`
	Audio     AudioConfig    `yaml:"audio"`
	Display   DisplayConfig  `yaml:"display"`
	HTTP      HTTPConfig     `yaml:"http"`
	IPC       IPCConfig      `yaml:"ipc"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	Logging   LoggingConfig  `yaml:"logging"`
}

type InputConfig struct {
	// Backend selects how device nodes are read: "evdev" or "raw".
	Backend string `yaml:"backend"`

	// Devices to monitor. Empty means discover keyboards at startup.
	Devices []string `yaml:"devices,omitempty"`

	GPIO GPIOConfig `yaml:"gpio"`
}

// GPIOConfig describes front-panel buttons wired to a GPIO chip.
type GPIOConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Chip       string       `yaml:"chip"`
	ActiveLow  bool         `yaml:"active_low"`
	DebounceMS int          `yaml:"debounce_ms"`
	Buttons    []GPIOButton `yaml:"buttons,omitempty"`
}

// GPIOButton binds one line offset to the key code it should emit.
type GPIOButton struct {
	Line int    `yaml:"line"`
	Key  string `yaml:"key"`
}

// KeysConfig is the user-facing binding table, compiled by newKeymap.
type KeysConfig struct {
	// Modifiers maps a class name to the keys that count as that class.
	Modifiers     map[string][]string `yaml:"modifiers"`
	ComboModifier string              `yaml:"combo_modifier"`
	Hardware      ActionKeysConfig    `yaml:"hardware"`
	Combo         ActionKeysConfig    `yaml:"combo"`
}

type ActionKeysConfig struct {
	Increase   []string `yaml:"increase,omitempty"`
	Decrease   []string `yaml:"decrease,omitempty"`
	ToggleMute []string `yaml:"toggle_mute,omitempty"`
}

// RateLimitFile is the YAML form of RateLimitConfig (milliseconds).
type RateLimitFile struct {
	IncreaseIntervalMS   int `yaml:"increase_interval_ms"`
	DecreaseIntervalMS   int `yaml:"decrease_interval_ms"`
	ToggleMuteIntervalMS int `yaml:"toggle_mute_interval_ms"`
}

type DispatchConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type AudioConfig struct {
	// Backend is "pactl" or "camilladsp".
	Backend     string           `yaml:"backend"`
	StepPercent int              `yaml:"step_percent"`
	Pactl       PactlConfig      `yaml:"pactl"`
	CamillaDSP  CamillaDSPConfig `yaml:"camilladsp"`
}

type PactlConfig struct {
	Binary string `yaml:"binary"`
}

type CamillaDSPConfig struct {
	WsURL     string  `yaml:"ws_url"`
	TimeoutMS int     `yaml:"timeout_ms"`
	MinDB     float64 `yaml:"min_db"`
	MaxDB     float64 `yaml:"max_db"`
}

type DisplayConfig struct {
	// Theme is resolved by resolveTheme; empty defers to OSD_THEME and
	// legacy osd.conf files.
	Theme       string `yaml:"theme"`
	HideAfterMS int    `yaml:"hide_after_ms"`
}

type HTTPConfig struct {
	// Addr for the websocket/status server. Empty disables it.
	Addr string `yaml:"addr"`
}

type IPCConfig struct {
	// SocketPath for the unix socket server. Empty disables it.
	SocketPath string `yaml:"socket_path"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"` // default volumeosd/<hostname>/state
	ClientID string `yaml:"client_id"` // default volumeosd-<random>
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			Backend: "evdev",
			GPIO: GPIOConfig{
				Chip:       "gpiochip0",
				ActiveLow:  true,
				DebounceMS: 10,
			},
		},
		Keys: KeysConfig{
			Modifiers: map[string][]string{
				"alt": {"KEY_LEFTALT", "KEY_RIGHTALT"},
			},
			ComboModifier: "alt",
			Hardware: ActionKeysConfig{
				Increase:   []string{"KEY_VOLUMEUP"},
				Decrease:   []string{"KEY_VOLUMEDOWN"},
				ToggleMute: []string{"KEY_MUTE"},
			},
			Combo: ActionKeysConfig{
				Increase:   []string{"KEY_UP"},
				Decrease:   []string{"KEY_DOWN"},
				ToggleMute: []string{"KEY_M"},
			},
		},
		RateLimit: RateLimitFile{
			IncreaseIntervalMS:   int(defaultStepInterval / time.Millisecond),
			DecreaseIntervalMS:   int(defaultStepInterval / time.Millisecond),
			ToggleMuteIntervalMS: int(defaultMuteInterval / time.Millisecond),
		},
		Dispatch: DispatchConfig{
			QueueSize: defaultQueueSize,
		},
		Audio: AudioConfig{
			Backend:     "pactl",
			StepPercent: defaultStepPercent,
			Pactl: PactlConfig{
				Binary: "pactl",
			},
			CamillaDSP: CamillaDSPConfig{
				WsURL:     "ws://127.0.0.1:1234",
				TimeoutMS: defaultReadTimeoutMS,
				MinDB:     -65.0,
				MaxDB:     0.0,
			},
		},
		Display: DisplayConfig{
			HideAfterMS: int(defaultHideAfter / time.Millisecond),
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:3002",
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/volumeosd.sock",
		},
		MQTT: MQTTConfig{
			Broker: "tcp://127.0.0.1:1883",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected so typos fail loudly.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		// An empty file is a valid "use defaults" config.
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// configSearchPaths lists the default config locations in priority order.
func configSearchPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "volumeosd", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "volumeosd", "config.yaml"))
	}
	return paths
}

// findConfigFile returns the first existing default config file, or "".
func findConfigFile() string {
	for _, p := range configSearchPaths() {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// FlagOverrides carries flag values that take precedence over the config
// file. Each field is applied only when non-nil, even if it holds a zero
// value; main.go decides which flags exist.
type FlagOverrides struct {
	Devices      *[]string
	InputBackend *string

	AudioBackend *string
	StepPercent  *int
	CamillaWsURL *string

	HideAfterMS *int

	HTTPAddr      *string
	IPCSocketPath *string

	MQTTEnabled *bool
	MQTTBroker  *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Devices != nil {
		cfg.Input.Devices = append([]string(nil), (*o.Devices)...)
	}
	if o.InputBackend != nil {
		cfg.Input.Backend = *o.InputBackend
	}

	if o.AudioBackend != nil {
		cfg.Audio.Backend = *o.AudioBackend
	}
	if o.StepPercent != nil {
		cfg.Audio.StepPercent = *o.StepPercent
	}
	if o.CamillaWsURL != nil {
		cfg.Audio.CamillaDSP.WsURL = *o.CamillaWsURL
	}

	if o.HideAfterMS != nil {
		cfg.Display.HideAfterMS = *o.HideAfterMS
	}

	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.MQTTEnabled != nil {
		cfg.MQTT.Enabled = *o.MQTTEnabled
	}
	if o.MQTTBroker != nil {
		cfg.MQTT.Broker = *o.MQTTBroker
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Input
	switch c.Input.Backend {
	case "evdev", "raw":
	default:
		return fmt.Errorf("input.backend must be %q or %q", "evdev", "raw")
	}
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}
	if c.Input.GPIO.Enabled {
		if c.Input.GPIO.Chip == "" {
			return errors.New("input.gpio.enabled is true but input.gpio.chip is empty")
		}
		if len(c.Input.GPIO.Buttons) == 0 {
			return errors.New("input.gpio.enabled is true but input.gpio.buttons is empty")
		}
		if c.Input.GPIO.DebounceMS < 0 {
			return errors.New("input.gpio.debounce_ms must be >= 0")
		}
		for i, b := range c.Input.GPIO.Buttons {
			if b.Line < 0 {
				return fmt.Errorf("input.gpio.buttons[%d].line must be >= 0", i)
			}
			if _, err := parseKeyCode(b.Key); err != nil {
				return fmt.Errorf("input.gpio.buttons[%d].key: %w", i, err)
			}
		}
	}

	// Keys
	if _, err := newKeymap(c.Keys); err != nil {
		return err
	}

	// Rate limits
	if c.RateLimit.IncreaseIntervalMS < 0 {
		return errors.New("rate_limit.increase_interval_ms must be >= 0")
	}
	if c.RateLimit.DecreaseIntervalMS < 0 {
		return errors.New("rate_limit.decrease_interval_ms must be >= 0")
	}
	if c.RateLimit.ToggleMuteIntervalMS < 0 {
		return errors.New("rate_limit.toggle_mute_interval_ms must be >= 0")
	}

	// Dispatch
	if c.Dispatch.QueueSize <= 0 {
		return errors.New("dispatch.queue_size must be > 0")
	}

	// Audio
	if c.Audio.StepPercent <= 0 || c.Audio.StepPercent > 100 {
		return errors.New("audio.step_percent must be between 1 and 100")
	}
	switch c.Audio.Backend {
	case "pactl":
		if c.Audio.Pactl.Binary == "" {
			return errors.New("audio.pactl.binary must not be empty")
		}
	case "camilladsp":
		if c.Audio.CamillaDSP.WsURL == "" {
			return errors.New("audio.camilladsp.ws_url must not be empty")
		}
		if c.Audio.CamillaDSP.TimeoutMS <= 0 {
			return errors.New("audio.camilladsp.timeout_ms must be > 0")
		}
		if c.Audio.CamillaDSP.MinDB >= c.Audio.CamillaDSP.MaxDB {
			return errors.New("audio.camilladsp.min_db must be < audio.camilladsp.max_db")
		}
	default:
		return fmt.Errorf("audio.backend must be %q or %q", "pactl", "camilladsp")
	}

	// Display
	if c.Display.HideAfterMS <= 0 {
		return errors.New("display.hide_after_ms must be > 0")
	}

	// MQTT
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.enabled is true but mqtt.broker is empty")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToRateLimitConfig converts the file representation into limiter intervals.
func (c *Config) ToRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Increase:   time.Duration(c.RateLimit.IncreaseIntervalMS) * time.Millisecond,
		Decrease:   time.Duration(c.RateLimit.DecreaseIntervalMS) * time.Millisecond,
		ToggleMute: time.Duration(c.RateLimit.ToggleMuteIntervalMS) * time.Millisecond,
	}
}

// HideAfter returns the display auto-hide delay.
func (c *Config) HideAfter() time.Duration {
	return time.Duration(c.Display.HideAfterMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
