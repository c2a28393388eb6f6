// Package config provides the hwstreams configuration: NATS connection
// parameters, JetStream stream identity, and the subject naming scheme
// that forms the compatibility surface with existing producers and
// consumers. Config loads from JSON with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/types"
)

// Defaults.
const (
	DefaultURL           = "nats://localhost:4222"
	DefaultStreamName    = "TELEMETRY"
	DefaultSubjectPrefix = "telemetry"
)

// Config holds connection and naming configuration shared by publishers,
// subscribers, and monitors.
type Config struct {
	// URL is the NATS server URL.
	URL string `json:"url"`

	// StreamName is the JetStream stream carrying all telemetry subjects.
	StreamName string `json:"stream_name"`

	// SubjectPrefix scopes every subject this deployment uses.
	SubjectPrefix string `json:"subject_prefix"`

	ConnectTimeout Duration `json:"connect_timeout"`
	ReconnectWait  Duration `json:"reconnect_wait"`
	MaxReconnects  int      `json:"max_reconnects"`

	// SchemaPublishInterval is how often a publisher rebroadcasts its
	// schema frame so late-joining subscribers can decode the stream.
	SchemaPublishInterval Duration `json:"schema_publish_interval"`

	// SchemaWaitTimeout bounds how long a monitor waits for the first
	// schema frame before giving up.
	SchemaWaitTimeout Duration `json:"schema_wait_timeout"`

	// Authentication, optional.
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Duration wraps time.Duration with JSON string form ("5s", "250ms").
type Duration time.Duration

// MarshalJSON emits the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or nanosecond number.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return fmt.Errorf("duration must be a string or number: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a config with production defaults against a local
// server.
func Default() *Config {
	return &Config{
		URL:                   DefaultURL,
		StreamName:            DefaultStreamName,
		SubjectPrefix:         DefaultSubjectPrefix,
		ConnectTimeout:        Duration(5 * time.Second),
		ReconnectWait:         Duration(time.Second),
		MaxReconnects:         -1,
		SchemaPublishInterval: Duration(time.Second),
		SchemaWaitTimeout:     Duration(30 * time.Second),
	}
}

// Load reads a JSON config file, applies environment overrides, and
// validates. A missing path returns defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse JSON")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays HWSTREAMS_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("HWSTREAMS_NATS_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv("HWSTREAMS_STREAM_NAME"); v != "" {
		c.StreamName = v
	}
	if v := os.Getenv("HWSTREAMS_SUBJECT_PREFIX"); v != "" {
		c.SubjectPrefix = v
	}
	if v := os.Getenv("HWSTREAMS_NATS_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("HWSTREAMS_NATS_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("HWSTREAMS_NATS_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("HWSTREAMS_MAX_RECONNECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxReconnects = n
		}
	}
}

// Validate checks invariants. Failures are configuration errors raised
// before any connection is attempted.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: NATS URL is required", errors.ErrInvalidConfig),
			"config", "Validate", "url")
	}
	if c.StreamName == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: stream name is required", errors.ErrInvalidConfig),
			"config", "Validate", "stream name")
	}
	if c.SubjectPrefix == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: subject prefix is required", errors.ErrInvalidConfig),
			"config", "Validate", "subject prefix")
	}
	if c.ConnectTimeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: connect timeout must be positive", errors.ErrInvalidConfig),
			"config", "Validate", "connect timeout")
	}
	if c.SchemaPublishInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: schema publish interval must be positive", errors.ErrInvalidConfig),
			"config", "Validate", "schema publish interval")
	}
	return nil
}

// Subject naming. These strings are part of the compatibility surface.

// DataSubject is where data frames for a source are published.
func (c *Config) DataSubject(sourceID types.SourceID) string {
	return fmt.Sprintf("%s.%s.data", c.SubjectPrefix, sourceID)
}

// SchemaSubject is where schema frames for a source are published.
func (c *Config) SchemaSubject(sourceID types.SourceID) string {
	return fmt.Sprintf("%s.%s.schema", c.SubjectPrefix, sourceID)
}

// SourceWildcard matches both frame kinds for a source on one
// subscription.
func (c *Config) SourceWildcard(sourceID types.SourceID) string {
	return fmt.Sprintf("%s.%s.>", c.SubjectPrefix, sourceID)
}

// StateSubject carries environmental state transitions.
func (c *Config) StateSubject() string {
	return c.SubjectPrefix + ".state"
}

// ResultSubject carries monitor results.
func (c *Config) ResultSubject() string {
	return c.SubjectPrefix + ".monitor.results"
}

// StreamWildcard covers every subject in this deployment; the JetStream
// stream is created over it.
func (c *Config) StreamWildcard() string {
	return c.SubjectPrefix + ".>"
}
