// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/cors-proxy/config.toml",
	"configs/config.toml",
}

func init() {
	// Report validation errors under the TOML key names users write.
	validation.ErrorTag = "toml"
}

// reservedRoutes are served by the proxy itself and cannot host metrics.
var reservedRoutes = []string{"/", "/proxy/status", "/iscorsneeded"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Debug    bool   `kong:"help='Enable debug logging (overrides config).',env='DEBUG'"`
	Strategy string `kong:"help='Target derivation: path|param (overrides config).',env='PROXY_STRATEGY'"`
	Event    string `kong:"name='gateway-event',help='API Gateway payload for the Lambda binary: rest|http (overrides config).',env='GATEWAY_EVENT'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Policy   PolicyConfig   `toml:"policy"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	Serverless ServerlessConfig `toml:"serverless"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// UpstreamConfig holds settings for calls to proxy targets.
type UpstreamConfig struct {
	Strategy        string `toml:"strategy"`
	DefaultScheme   string `toml:"default_scheme"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// PolicyConfig restricts who may use the proxy and where it may forward.
// Empty lists disable the corresponding check.
type PolicyConfig struct {
	OriginAllowlist []string `toml:"origin_allowlist"`
	OriginDenylist  []string `toml:"origin_denylist"`
	AllowedHosts    []string `toml:"allowed_hosts"`
	RequireHeader   bool     `toml:"require_header"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Debug  bool   `toml:"debug"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns the configuration used when no file and no overrides are given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			BodyMaxBytes: 10 << 20,
		},
		Upstream: UpstreamConfig{
			Strategy:        "path",
			DefaultScheme:   "https",
			TimeoutSeconds:  30,
			IdleConnections: 100,
		},
		Log:        LogConfig{Format: "json"},
		Metrics:    MetricsConfig{Path: "/metrics"},
		Serverless: ServerlessConfig{Event: "rest"},
	}
}

// ServerlessConfig holds settings for the Lambda binary.
type ServerlessConfig struct {
	// Event is "rest" for REST API (payload 1.0) or "http" for HTTP API
	// (payload 2.0) events.
	Event string `toml:"event"`
}

// Load decodes the TOML config file over Default and applies CLI overrides.
// Keys absent from the file keep their defaults. When no explicit path is
// given (via --config or CONFIG_PATH), it searches /etc/cors-proxy/config.toml
// then configs/config.toml; finding neither is not an error, which is the
// normal case for serverless deployments.
func Load(cli *CLI) (*Config, error) {
	cfg := Default()

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Debug {
		c.Log.Debug = true
	}
	if cli.Strategy != "" {
		c.Upstream.Strategy = cli.Strategy
	}
	if cli.Event != "" {
		c.Serverless.Event = cli.Event
	}
}

// Validate checks field bounds and enumerations.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Upstream),
		validation.Field(&c.Log),
		validation.Field(&c.Metrics),
		validation.Field(&c.Serverless),
	)
}

// Validate implements validation.Validatable.
func (s ServerlessConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Event, validation.Required, validation.In("rest", "http")),
	)
}

// Validate implements validation.Validatable.
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Host, validation.Required),
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.BodyMaxBytes, validation.Required, validation.Min(int64(1))),
	)
}

// Validate implements validation.Validatable.
func (u UpstreamConfig) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Strategy, validation.Required, validation.In("path", "param")),
		validation.Field(&u.DefaultScheme, validation.Required, validation.In("http", "https")),
		validation.Field(&u.TimeoutSeconds, validation.Required, validation.Min(1)),
		validation.Field(&u.IdleConnections, validation.Min(0)),
	)
}

// Validate implements validation.Validatable.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Format, validation.By(func(v any) error {
			switch strings.ToLower(v.(string)) {
			case "json", "text":
				return nil
			}
			return errors.New("must be one of: json, text")
		})),
	)
}

// Validate implements validation.Validatable. The path is only checked when
// metrics are enabled.
func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Path, validation.When(m.Enabled, validation.Required, validation.By(checkMetricsPath))),
	)
}

func checkMetricsPath(v any) error {
	p, _ := v.(string)
	if p == "" {
		return nil
	}
	if p[0] != '/' {
		return fmt.Errorf("must start with '/'; got %q", p)
	}
	for _, reserved := range reservedRoutes {
		if p == reserved {
			return fmt.Errorf("%q conflicts with reserved route %q", p, reserved)
		}
	}
	return nil
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogLevel maps the debug flag to a slog level.
func (c *LogConfig) LogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
