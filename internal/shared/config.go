package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Duration is a [time.Duration] that decodes from TOML strings such as "30s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q", ErrInvalidConfig, string(text))
	}
	d.Duration = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Gateway  GatewayConfig  `toml:"gateway"`
	Notify   NotifyConfig   `toml:"notify"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
}

// GatewayConfig contains the verification gateway's network, timing and rate limit settings.
type GatewayConfig struct {
	Host             string   `toml:"host"`
	PortStart        int      `toml:"port_start"`
	PortEnd          int      `toml:"port_end"`
	SessionTimeout   Duration `toml:"session_timeout"`
	CodeTimeout      Duration `toml:"code_timeout"`
	MaxPerMinute     int      `toml:"max_per_minute"`
	MaxPerHour       int      `toml:"max_per_hour"`
	LockoutWindow    Duration `toml:"lockout_window"`
	NewCodeInterval  Duration `toml:"new_code_interval"`
	RequireValidator bool     `toml:"require_validator"`
	OpenBrowser      bool     `toml:"open_browser"`
	Linger           Duration `toml:"linger"`
}

type NotifyConfig struct {
	Enabled  bool   `toml:"enabled"`
	URL      string `toml:"url"`
	Token    string `toml:"token"`
	Title    string `toml:"title"`
	Priority string `toml:"priority"`
}

// DatabaseConfig contains the attempt history database settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Validate reports the first setting that cannot produce a working gateway.
func (c *Config) Validate() error {
	g := c.Gateway
	switch {
	case g.PortStart <= 0 || g.PortEnd > 65535 || g.PortEnd < g.PortStart:
		return fmt.Errorf("%w: port range %d-%d", ErrInvalidConfig, g.PortStart, g.PortEnd)
	case g.SessionTimeout.Duration <= 0:
		return fmt.Errorf("%w: session_timeout must be positive", ErrInvalidConfig)
	case g.CodeTimeout.Duration <= 0:
		return fmt.Errorf("%w: code_timeout must be positive", ErrInvalidConfig)
	case g.MaxPerMinute <= 0 || g.MaxPerHour <= 0:
		return fmt.Errorf("%w: rate limits must be positive", ErrInvalidConfig)
	case g.NewCodeInterval.Duration < 0 || g.Linger.Duration < 0 || g.LockoutWindow.Duration < 0:
		return fmt.Errorf("%w: intervals must not be negative", ErrInvalidConfig)
	case c.Notify.Enabled && c.Notify.URL == "":
		return fmt.Errorf("%w: notify.url is required when notifications are enabled", ErrInvalidConfig)
	}

	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig encodes config as TOML and writes it to path, replacing any existing file.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
