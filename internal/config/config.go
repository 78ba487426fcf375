package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all bridge configuration.
type Config struct {
	Host       HostConfig       `yaml:"host"`
	Controller ControllerConfig `yaml:"controller"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Backoff    BackoffConfig    `yaml:"backoff"`
	Activity   ActivityConfig   `yaml:"activity"`
	Status     StatusConfig     `yaml:"status"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // "text" or "json"
}

// HostConfig describes the serial port facing the host.
type HostConfig struct {
	Port        string        `yaml:"port"` // "-" uses stdin and stdout
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ControllerConfig describes how the Bluetooth controller is reached.
type ControllerConfig struct {
	Transport   string        `yaml:"transport"` // "hci_user" or "uart"
	Device      int           `yaml:"device"`    // hciN index for hci_user
	Port        string        `yaml:"port"`      // serial device for uart
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	BringUp     bool          `yaml:"bring_up"` // hci_user only; ignored for uart
}

// BridgeConfig holds relay settings.
type BridgeConfig struct {
	Mode      string `yaml:"mode"` // "concurrent" or "polling"
	ChunkSize int    `yaml:"chunk_size"`
}

// BackoffConfig controls the delay between bridge sessions.
type BackoffConfig struct {
	Interval time.Duration `yaml:"interval"`
	Max      time.Duration `yaml:"max"` // exponential backoff when > interval
}

// ActivityConfig selects the transfer indicator.
type ActivityConfig struct {
	LED string `yaml:"led"` // /sys/class/leds entry name; empty disables
}

// StatusConfig enables the HTTP status endpoint.
type StatusConfig struct {
	Listen string `yaml:"listen"` // e.g. "127.0.0.1:8089"; empty disables
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hci-bridge")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			Port:        "/dev/ttyGS0",
			Baud:        115200,
			ReadTimeout: 100 * time.Millisecond,
		},
		Controller: ControllerConfig{
			Transport:   "hci_user",
			Device:      0,
			Baud:        1000000,
			ReadTimeout: 100 * time.Millisecond,
			BringUp:     true,
		},
		Bridge: BridgeConfig{
			Mode:      "concurrent",
			ChunkSize: 256,
		},
		Backoff: BackoffConfig{
			Interval: time.Second,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in device paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Host.Port = expandTilde(cfg.Host.Port)
	cfg.Controller.Port = expandTilde(cfg.Controller.Port)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Host.Port == "" {
		return errors.New("host.port must not be empty")
	}
	if c.Host.Baud <= 0 {
		return errors.New("host.baud must be > 0")
	}
	if c.Host.ReadTimeout <= 0 {
		return errors.New("host.read_timeout must be > 0")
	}

	switch c.Controller.Transport {
	case "hci_user":
		if c.Controller.Device < 0 {
			return fmt.Errorf("controller.device must be >= 0, got %d", c.Controller.Device)
		}
	case "uart":
		if c.Controller.Port == "" || c.Controller.Port == "-" {
			return errors.New("controller.port must name a serial device when controller.transport is \"uart\"")
		}
		if c.Controller.Port == c.Host.Port {
			return fmt.Errorf("controller.port and host.port must differ, both are %q", c.Host.Port)
		}
		if c.Controller.Baud <= 0 {
			return errors.New("controller.baud must be > 0")
		}
	default:
		return fmt.Errorf("controller.transport must be \"hci_user\" or \"uart\", got %q", c.Controller.Transport)
	}
	if c.Controller.ReadTimeout <= 0 {
		return errors.New("controller.read_timeout must be > 0")
	}

	switch c.Bridge.Mode {
	case "concurrent", "polling":
	default:
		return fmt.Errorf("bridge.mode must be \"concurrent\" or \"polling\", got %q", c.Bridge.Mode)
	}
	if c.Bridge.ChunkSize <= 0 {
		return errors.New("bridge.chunk_size must be > 0")
	}

	if c.Backoff.Interval <= 0 {
		return errors.New("backoff.interval must be > 0")
	}
	if c.Backoff.Max < 0 {
		return errors.New("backoff.max must not be negative")
	}

	if strings.ContainsRune(c.Activity.LED, '/') {
		return fmt.Errorf("activity.led must be a LED name, not a path: %q", c.Activity.LED)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# hci-bridge configuration
#
# host:        serial port the HCI host talks H4 on (USB gadget or UART), or "-" for stdin/stdout
# controller:  hci_user takes over hciN; uart talks H4 to a serial controller
#              bring_up initializes hciN once at startup (hci_user only)
# bridge.mode: concurrent (one goroutine per direction) or polling
# backoff:     delay between sessions; max > interval enables exponential backoff
# activity.led: /sys/class/leds name toggled around host transfers
# status.listen: address for the /health and /status HTTP endpoints

`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" without touching anything if the file exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
