// Package config loads dynvoke server configuration from an optional YAML
// file and DYNVOKE_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override. Field names are split on
// word boundaries, so HTTP.ReadHeaderTimeout is DYNVOKE_HTTP_READ_HEADER_TIMEOUT.
const EnvPrefix = "DYNVOKE"

// Config holds the settings of a dynvoke server process.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http" split_words:"true"`
	Metrics   MetricsConfig   `yaml:"metrics" split_words:"true"`
	NATS      NATSConfig      `yaml:"nats" split_words:"true"`
	RateLimit RateLimitConfig `yaml:"rate_limit" split_words:"true"`
	CORS      CORSConfig      `yaml:"cors" split_words:"true"`
	Log       LogConfig       `yaml:"log" split_words:"true"`
	Tracing   TracingConfig   `yaml:"tracing" split_words:"true"`
}

type HTTPConfig struct {
	Addr              string        `yaml:"addr" split_words:"true" validate:"required,hostname_port"`
	PathPrefix        string        `yaml:"path_prefix" split_words:"true" validate:"omitempty,startswith=/"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" split_words:"true" validate:"gte=0"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" split_words:"true" validate:"gt=0"`
	Gzip              bool          `yaml:"gzip" split_words:"true"`
	StubNamespace     string        `yaml:"stub_namespace" split_words:"true" validate:"omitempty,max=64"`
}

type MetricsConfig struct {
	// Addr serves /metrics on a separate listener. Empty disables it.
	Addr string `yaml:"addr" split_words:"true" validate:"omitempty,hostname_port"`
}

type NATSConfig struct {
	// URL enables the NATS bridge. Empty disables it.
	URL           string `yaml:"url" split_words:"true" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix" split_words:"true" validate:"omitempty,excludesall=*>"`
	Queue         string `yaml:"queue" split_words:"true"`
}

type RateLimitConfig struct {
	// RPS of 0 disables rate limiting.
	RPS   float64 `yaml:"rps" split_words:"true" validate:"gte=0"`
	Burst int     `yaml:"burst" split_words:"true" validate:"required_with=RPS,gte=0"`
}

type CORSConfig struct {
	Enabled      bool     `yaml:"enabled" split_words:"true"`
	AllowOrigins []string `yaml:"allow_origins" split_words:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level" split_words:"true" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" split_words:"true" validate:"oneof=text json"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" split_words:"true"`
	ServiceName string `yaml:"service_name" split_words:"true"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:              "127.0.0.1:8080",
			MaxBodyBytes:      1 << 20,
			ReadHeaderTimeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			SubjectPrefix: "dynvoke",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			ServiceName: "dynvoke",
		},
	}
}

// Load reads defaults, then the YAML file at path (skipped when path is
// empty), then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid field in one error.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		param := fe.Param()
		if param != "" {
			param = "=" + param
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s%s (got %v)", fe.Namespace(), fe.Tag(), param, fe.Value()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// NewLogger builds the process logger described by the log section.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
