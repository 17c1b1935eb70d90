// Package config loads settings with precedence flags > WALKINGPAD_* env >
// config file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/logging"
)

const EnvPrefix = "WALKINGPAD"

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Connect   ConnectConfig   `mapstructure:"connect"`
	Legacy    LegacyConfig    `mapstructure:"legacy"`
	KingSmith KingSmithConfig `mapstructure:"kingsmith"`
	Poll      PollConfig      `mapstructure:"poll"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Mock      MockConfig      `mapstructure:"mock"`
	State     StateConfig     `mapstructure:"state"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type ConnectConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type LegacyConfig struct {
	CommandSpacing time.Duration `mapstructure:"command_spacing"`
}

type KingSmithConfig struct {
	HandshakeDelay time.Duration `mapstructure:"handshake_delay"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ScanConfig struct {
	AutoConnect bool `mapstructure:"auto_connect"` // connect to the stored device when seen
}

type FeedConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the websocket feed
}

type MockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type StateConfig struct {
	File string `mapstructure:"file"`
}

// DefaultDir is ~/.walkingpad, or ./.walkingpad without a home directory
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".walkingpad")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	dir := DefaultDir()
	v.SetDefault("log.file", filepath.Join(dir, "walkingpad.log"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("connect.timeout", 15*time.Second)
	v.SetDefault("legacy.command_spacing", 690*time.Millisecond)
	v.SetDefault("kingsmith.handshake_delay", 300*time.Millisecond)
	v.SetDefault("poll.interval", time.Second)
	v.SetDefault("scan.auto_connect", true)
	v.SetDefault("feed.listen", "")
	v.SetDefault("mock.enabled", false)
	v.SetDefault("mock.listen", "localhost:8090")
	v.SetDefault("state.file", filepath.Join(dir, "state.yaml"))
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("walkingpad", pflag.ContinueOnError)
	fs.String("config", "", "config file (default ~/.walkingpad/config.yaml)")
	fs.String("log-file", "", "log file path")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.Duration("connect-timeout", 0, "connection watchdog timeout")
	fs.Duration("command-spacing", 0, "minimum spacing between legacy commands")
	fs.Duration("poll-interval", 0, "status polling interval")
	fs.Bool("auto-connect", true, "connect to the last used treadmill when it is seen")
	fs.String("feed", "", "serve the websocket status feed on host:port")
	fs.Bool("mock", false, "use simulated treadmills instead of the Bluetooth adapter")
	fs.String("mock-listen", "", "mock inspection page host:port")
	fs.String("state-file", "", "preferred device file")
	return fs
}

var flagKeys = map[string]string{
	"log-file":        "log.file",
	"log-level":       "log.level",
	"connect-timeout": "connect.timeout",
	"command-spacing": "legacy.command_spacing",
	"poll-interval":   "poll.interval",
	"auto-connect":    "scan.auto_connect",
	"feed":            "feed.listen",
	"mock":            "mock.enabled",
	"mock-listen":     "mock.listen",
	"state-file":      "state.file",
}

// Load parses args (without the program name) and merges every source.
// A missing default config file is fine; a missing explicit one is not.
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	// only flags the user set override lower layers
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("binding flag %s: %w", name, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, _ := fs.GetString("config")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Log.File = expandTilde(cfg.Log.File)
	cfg.State.File = expandTilde(cfg.State.File)
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0")
	}
	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_backups must be >= 0")
	}

	durations := []struct {
		key   string
		value time.Duration
	}{
		{"connect.timeout", c.Connect.Timeout},
		{"legacy.command_spacing", c.Legacy.CommandSpacing},
		{"kingsmith.handshake_delay", c.KingSmith.HandshakeDelay},
		{"poll.interval", c.Poll.Interval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be > 0, got %s", d.key, d.value)
		}
	}

	if c.Mock.Enabled && c.Mock.Listen == "" {
		return fmt.Errorf("mock.listen must not be empty when mock.enabled is set")
	}
	if c.State.File == "" {
		return fmt.Errorf("state.file must not be empty")
	}
	return nil
}

func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		File:       c.Log.File,
		Level:      c.Log.Level,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
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
