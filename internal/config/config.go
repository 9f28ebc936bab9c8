// Package config loads client settings from a YAML file, a .env file and
// ROLLCALL_* environment variables, in increasing order of precedence.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rollcall/internal/connection"
	"github.com/roach88/rollcall/internal/remote"
)

//go:embed schema.cue
var schemaSource string

// Config is the client's runtime configuration.
type Config struct {
	DatabasePath string `yaml:"database_path" validate:"required"`
	APIBaseURL   string `yaml:"api_base_url" validate:"required,url"`
	LiveEndpoint string `yaml:"live_endpoint" validate:"required,url"`
	Token        string `yaml:"token"`
	DeviceID     string `yaml:"device_id" validate:"required"`

	HTTPTimeout          time.Duration `yaml:"http_timeout"`
	MonitorInterval      time.Duration `yaml:"monitor_interval"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	device, err := os.Hostname()
	if err != nil || device == "" {
		device = "rollcall"
	}
	return Config{
		DatabasePath:         "rollcall.db",
		APIBaseURL:           "http://localhost:8080/api",
		LiveEndpoint:         "ws://localhost:8080/live",
		DeviceID:             device,
		HTTPTimeout:          10 * time.Second,
		MonitorInterval:      5 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		MaxReconnectAttempts: 5,
	}
}

// Option adjusts how Load finds its inputs.
type Option func(*loader)

type loader struct {
	envFile string
	lookup  func(string) (string, bool)
}

// WithEnvFile sets the dotenv file read by Load. Default: ".env".
// A missing file is not an error.
func WithEnvFile(path string) Option {
	return func(l *loader) {
		l.envFile = path
	}
}

// WithLookup replaces os.LookupEnv, for tests.
func WithLookup(lookup func(string) (string, bool)) Option {
	return func(l *loader) {
		l.lookup = lookup
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), then environment overrides. Process environment wins
// over the dotenv file.
func Load(path string, opts ...Option) (Config, error) {
	l := &loader{envFile: ".env", lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if l.envFile != "" {
		m, err := godotenv.Read(l.envFile)
		switch {
		case err == nil:
			dotenv = m
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("load env file %s: %w", l.envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := l.lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	texts := map[string]*string{
		"ROLLCALL_DATABASE":  &c.DatabasePath,
		"ROLLCALL_API_URL":   &c.APIBaseURL,
		"ROLLCALL_LIVE_URL":  &c.LiveEndpoint,
		"ROLLCALL_TOKEN":     &c.Token,
		"ROLLCALL_DEVICE_ID": &c.DeviceID,
	}
	for key, dst := range texts {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"ROLLCALL_HTTP_TIMEOUT":         &c.HTTPTimeout,
		"ROLLCALL_MONITOR_INTERVAL":     &c.MonitorInterval,
		"ROLLCALL_HEARTBEAT_INTERVAL":   &c.HeartbeatInterval,
		"ROLLCALL_RECONNECT_BASE_DELAY": &c.ReconnectBaseDelay,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v, ok := lookup("ROLLCALL_MAX_RECONNECT_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ROLLCALL_MAX_RECONNECT_ATTEMPTS: %w", err)
		}
		c.MaxReconnectAttempts = n
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.checkRanges(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c Config) checkRanges() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(map[string]any{
		"http_timeout_ms":         c.HTTPTimeout.Milliseconds(),
		"monitor_interval_ms":     c.MonitorInterval.Milliseconds(),
		"heartbeat_interval_ms":   c.HeartbeatInterval.Milliseconds(),
		"reconnect_base_delay_ms": c.ReconnectBaseDelay.Milliseconds(),
		"max_reconnect_attempts":  c.MaxReconnectAttempts,
	}))
	return v.Validate(cue.Concrete(true))
}

// RemoteSettings returns HTTP timeouts for the remote client.
func (c Config) RemoteSettings() *remote.Settings {
	s := remote.DefaultSettings()
	s.RequestTimeout = c.HTTPTimeout
	return s
}

// Connection returns the connection manager's timings.
func (c Config) Connection() connection.Config {
	return connection.Config{
		Endpoint:          c.LiveEndpoint,
		MonitorInterval:   c.MonitorInterval,
		HeartbeatInterval: c.HeartbeatInterval,
		BaseDelay:         c.ReconnectBaseDelay,
		MaxAttempts:       c.MaxReconnectAttempts,
	}
}
