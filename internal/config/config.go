// Package config loads dispatcher settings.
//
// Resolution order, later wins:
//
//  1. Default()
//  2. a YAML file (unknown keys are an error)
//  3. EVENTSYNC_* environment variables
//
// The result is then checked against an embedded CUE schema, so a bad value
// from any layer is reported the same way.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EVENTSYNC_"

// Config is the complete dispatcher configuration.
type Config struct {
	Ordering    Ordering    `yaml:"ordering" json:"ordering" envPrefix:"ORDERING_"`
	Dedup       Dedup       `yaml:"dedup" json:"dedup" envPrefix:"DEDUP_"`
	Correlation Correlation `yaml:"correlation" json:"correlation" envPrefix:"CORRELATION_"`
	Journal     Journal     `yaml:"journal" json:"journal" envPrefix:"JOURNAL_"`
	Pump        Pump        `yaml:"pump" json:"pump" envPrefix:"PUMP_"`
	Log         Log         `yaml:"log" json:"log" envPrefix:"LOG_"`
}

// Ordering configures the sequence ordering buffer.
type Ordering struct {
	TimeoutMS    int64 `yaml:"timeout_ms" json:"timeoutMs" env:"TIMEOUT_MS"`
	MaxQueueSize int   `yaml:"max_queue_size" json:"maxQueueSize" env:"MAX_QUEUE_SIZE"`
}

// Dedup configures the duplicate envelope window.
type Dedup struct {
	CacheSize int `yaml:"cache_size" json:"cacheSize" env:"CACHE_SIZE"`
}

// Correlation configures optimistic matching and orphan sweeps.
type Correlation struct {
	WindowMS int64 `yaml:"window_ms" json:"windowMs" env:"WINDOW_MS"`
}

// Journal configures the outcome journal. An empty path disables it.
type Journal struct {
	Path string `yaml:"path" json:"path" env:"PATH"`
}

// Pump configures per-stream concurrent processing.
type Pump struct {
	MaxConcurrent int64 `yaml:"max_concurrent" json:"maxConcurrent" env:"MAX_CONCURRENT"`
}

// Log configures the process logger.
type Log struct {
	Level string `yaml:"level" json:"level" env:"LEVEL"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Ordering:    Ordering{TimeoutMS: 30_000, MaxQueueSize: 1000},
		Dedup:       Dedup{CacheSize: 1000},
		Correlation: Correlation{WindowMS: 30_000},
		Pump:        Pump{MaxConcurrent: 8},
		Log:         Log{Level: "info"},
	}
}

// OrderingTimeout returns the gap timeout as a duration.
func (c Config) OrderingTimeout() time.Duration {
	return time.Duration(c.Ordering.TimeoutMS) * time.Millisecond
}

// CorrelationWindow returns the correlation window as a duration.
func (c Config) CorrelationWindow() time.Duration {
	return time.Duration(c.Correlation.WindowMS) * time.Millisecond
}

// SlogLevel maps Log.Level to a slog level. Unknown values map to Info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
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

// Load resolves configuration from path (optional) and the process
// environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment. A nil environ reads the
// process environment.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Overlay decodes YAML over cfg. Used for per-scenario overrides.
func Overlay(cfg Config, r io.Reader) (Config, error) {
	if err := decodeYAML(r, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// ValidationError reports a configuration rejected by the schema.
type ValidationError struct {
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "invalid config: " + e.Message
}

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := ctx.Encode(cfg)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	return nil
}
