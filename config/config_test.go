package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "nats://localhost:4222", cfg.URL)
	assert.Equal(t, "TELEMETRY", cfg.StreamName)
	assert.Equal(t, "telemetry", cfg.SubjectPrefix)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout.Std())
	assert.Equal(t, time.Second, cfg.SchemaPublishInterval.Std())
	assert.Equal(t, 30*time.Second, cfg.SchemaWaitTimeout.Std())
	assert.Equal(t, -1, cfg.MaxReconnects)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().URL, cfg.URL)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"url": "nats://broker:4222",
		"subject_prefix": "lab7",
		"connect_timeout": "2s",
		"schema_publish_interval": "500ms"
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://broker:4222", cfg.URL)
	assert.Equal(t, "lab7", cfg.SubjectPrefix)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.SchemaPublishInterval.Std())
	// Unspecified fields keep their defaults.
	assert.Equal(t, "TELEMETRY", cfg.StreamName)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HWSTREAMS_NATS_URL", "nats://env-host:4222")
	t.Setenv("HWSTREAMS_SUBJECT_PREFIX", "envprefix")
	t.Setenv("HWSTREAMS_MAX_RECONNECTS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "nats://env-host:4222", cfg.URL)
	assert.Equal(t, "envprefix", cfg.SubjectPrefix)
	assert.Equal(t, 7, cfg.MaxReconnects)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty url", func(c *Config) { c.URL = "" }},
		{"empty stream", func(c *Config) { c.StreamName = "" }},
		{"empty prefix", func(c *Config) { c.SubjectPrefix = "" }},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }},
		{"zero schema interval", func(c *Config) { c.SchemaPublishInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"250ms"`), &d))
	assert.Equal(t, 250*time.Millisecond, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`"fast"`), &d))

	out, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(out))
}

// Subject names are the compatibility surface shared with other
// producers and consumers; the exact strings matter.
func TestSubjectNaming(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "telemetry.daq1.data", cfg.DataSubject("daq1"))
	assert.Equal(t, "telemetry.daq1.schema", cfg.SchemaSubject("daq1"))
	assert.Equal(t, "telemetry.daq1.>", cfg.SourceWildcard("daq1"))
	assert.Equal(t, "telemetry.state", cfg.StateSubject())
	assert.Equal(t, "telemetry.monitor.results", cfg.ResultSubject())
	assert.Equal(t, "telemetry.>", cfg.StreamWildcard())
}
