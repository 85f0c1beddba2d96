// Package config loads the session configuration. Precedence, lowest to
// highest: built-in defaults, the YAML config file, variables from an
// optional .env file, then real environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "INTERCEPTD_"

// DiscoveryOrder lists the config file names probed in the working
// directory when no path is given.
var DiscoveryOrder = []string{
	"interceptd.yaml",
	"interceptd.yml",
	".interceptd.yaml",
}

// ErrNotFound means no config file was discovered; defaults apply.
var ErrNotFound = errors.New("no configuration file found")

// Config is the full session configuration.
type Config struct {
	// Listen is the control server address.
	Listen string `yaml:"listen"`

	// Mode is the initial session mode: recording, debug or mock.
	Mode string `yaml:"mode"`

	// DebugTimeout bounds how long a debug-mode flow waits for an
	// operator. Zero waits indefinitely.
	DebugTimeout time.Duration `yaml:"debugTimeout"`

	// ProxyListen is the wire-level proxy address. Empty disables the
	// proxy.
	ProxyListen string `yaml:"proxyListen"`

	// RulesFile is a YAML rule collection loaded at startup.
	RulesFile string `yaml:"rulesFile"`

	// MaxBodySize caps captured body sizes in bytes.
	MaxBodySize int64 `yaml:"maxBodySize"`

	Log    LogConfig    `yaml:"log"`
	Filter FilterConfig `yaml:"filter"`
}

// LogConfig selects log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FilterConfig scopes interception with glob patterns.
type FilterConfig struct {
	IncludeHosts []string `yaml:"includeHosts,omitempty"`
	ExcludeHosts []string `yaml:"excludeHosts,omitempty"`
	IncludePaths []string `yaml:"includePaths,omitempty"`
	ExcludePaths []string `yaml:"excludePaths,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:      "127.0.0.1:9999",
		Mode:        "recording",
		MaxBodySize: 10 * 1024 * 1024,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration. path may be empty, in which case
// the file is discovered (ErrNotFound from discovery is not fatal; defaults
// apply). A .env file in the working directory is folded into the
// environment first, without overriding variables already set.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		var err error
		path, err = Discover()
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Discover finds a config file: the INTERCEPTD_CONFIG variable first, then
// the discovery order in the working directory.
func Discover() (string, error) {
	if envPath := os.Getenv(EnvPrefix + "CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("%sCONFIG points to unreadable file %s: %w", EnvPrefix, envPath, err)
		}
		return envPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	for _, name := range DiscoveryOrder {
		path := filepath.Join(cwd, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNotFound
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// applyEnv folds INTERCEPTD_* variables over the current values.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	setString("LISTEN", &c.Listen)
	setString("MODE", &c.Mode)
	setString("PROXY_LISTEN", &c.ProxyListen)
	setString("RULES_FILE", &c.RulesFile)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)

	if v := os.Getenv(EnvPrefix + "DEBUG_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DebugTimeout = d
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_BODY_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.MaxBodySize = n
		}
	}
}

// Validate checks the configuration for values nothing downstream can work
// with.
func (c *Config) Validate() error {
	switch c.Mode {
	case "recording", "debug", "mock":
	default:
		return fmt.Errorf("invalid mode %q: must be recording, debug or mock", c.Mode)
	}
	if c.Listen == "" {
		return errors.New("listen address must not be empty")
	}
	if c.MaxBodySize <= 0 {
		return errors.New("maxBodySize must be positive")
	}
	if c.DebugTimeout < 0 {
		return errors.New("debugTimeout must not be negative")
	}
	return nil
}
