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

// Config holds all application configuration.
type Config struct {
	LogLevel  string     `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"` // "text" or "json"
	BLE       BLEConfig  `yaml:"ble"`
	HTTP      HTTPConfig `yaml:"http"`
	PrefsPath string     `yaml:"prefs_path"`
	MQTT      MQTTConfig `yaml:"mqtt"`
}

// BLEConfig holds Bluetooth transport and connection settings.
type BLEConfig struct {
	Backend            string        `yaml:"backend"`    // "tinygo" or "hci"
	AdapterID          string        `yaml:"adapter_id"` // e.g. "hci0"; empty for the default
	PollInterval       time.Duration `yaml:"poll_interval"`
	UnsubscribeTimeout time.Duration `yaml:"unsubscribe_timeout"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// HTTPConfig holds the local control server settings.
type HTTPConfig struct {
	Listen       string        `yaml:"listen"`
	Port         int           `yaml:"port"`
	PortSearch   int           `yaml:"port_search"` // ports tried upward from Port
	ScanDuration time.Duration `yaml:"scan_duration"`
}

// MQTTConfig holds the optional heart rate publisher settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hrbridge")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		BLE: BLEConfig{
			Backend:            "tinygo",
			PollInterval:       5 * time.Second,
			UnsubscribeTimeout: time.Second,
			ConnectTimeout:     30 * time.Second,
		},
		HTTP: HTTPConfig{
			Listen:       "127.0.0.1",
			Port:         17878,
			PortSearch:   100,
			ScanDuration: 10 * time.Second,
		},
		PrefsPath: filepath.Join(DefaultConfigDir(), "prefs.toml"),
		MQTT: MQTTConfig{
			Broker:   "localhost",
			Port:     1883,
			ClientID: "hrbridge",
			Topic:    "hrbridge",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in prefs_path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.PrefsPath = expandTilde(cfg.PrefsPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
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

	switch c.BLE.Backend {
	case "tinygo", "hci":
	default:
		return fmt.Errorf("ble.backend must be \"tinygo\" or \"hci\", got %q", c.BLE.Backend)
	}

	if c.BLE.PollInterval <= 0 {
		return errors.New("ble.poll_interval must be > 0")
	}
	if c.BLE.UnsubscribeTimeout <= 0 {
		return errors.New("ble.unsubscribe_timeout must be > 0")
	}
	if c.BLE.ConnectTimeout <= 0 {
		return errors.New("ble.connect_timeout must be > 0")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.PortSearch < 1 {
		return errors.New("http.port_search must be >= 1")
	}
	if c.HTTP.ScanDuration <= 0 {
		return errors.New("http.scan_duration must be > 0")
	}

	if c.PrefsPath == "" {
		return errors.New("prefs_path must not be empty")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt.port must be between 1 and 65535, got %d", c.MQTT.Port)
		}
		if c.MQTT.Topic == "" {
			return errors.New("mqtt.topic is required when mqtt is enabled")
		}
	}

	return nil
}

// ParseLogLevel maps a log_level string to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

const defaultConfigTemplate = `# hrbridge configuration
# Bridges a Bluetooth LE heart rate monitor to a local HTTP API.

# debug, info, warn or error
log_level: info
# text (coloured console) or json
log_format: text

ble:
  # tinygo (BlueZ/WinRT) or hci (raw HCI socket, Linux only)
  backend: tinygo
  # controller to use, empty for the system default
  adapter_id: ""
  # how often a lost connection is retried
  poll_interval: 5s
  unsubscribe_timeout: 1s
  connect_timeout: 30s

http:
  listen: 127.0.0.1
  # first port tried; the next free one within port_search is used
  port: 17878
  port_search: 100
  scan_duration: 10s

# theme and last connected device
prefs_path: ~/.config/hrbridge/prefs.toml

mqtt:
  enabled: false
  broker: localhost
  port: 1883
  client_id: hrbridge
  topic: hrbridge
`

// WriteDefault writes a commented default config to DefaultConfigPath.
// It returns the path written, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
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
