package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuefusion/internal/model"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 1920, cfg.Scoring.FrameWidth)
	assert.Equal(t, 1080, cfg.Scoring.FrameHeight)
	assert.Equal(t, 0.089, cfg.Scoring.FireContactIoU)
	assert.Equal(t, 300.0, cfg.Matching.DistanceThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Matching.WifiRecencyWindow)
	assert.Equal(t, 100*time.Millisecond, cfg.Coalescer.FlushInterval)
}

func TestParseYAMLOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
scoring:
  frame_width: 1280
  frame_height: 720
  fire_contact_iou: 0.1
  dense_smoke_ratio: 0.5
  spreading_fire_ratio: 0.3
  local_fire_ratio: 0.05
  contained_fire_ratio: 0.05
matching:
  distance_threshold: 120
  wifi_recency_window: 5m
coalescer:
  flush_interval: 250ms
alerts:
  min_urgency: critical
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 1280, cfg.Scoring.FrameWidth)
	assert.Equal(t, 120.0, cfg.Matching.DistanceThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Matching.WifiRecencyWindow)
	assert.Equal(t, 250*time.Millisecond, cfg.Coalescer.FlushInterval)
	assert.Equal(t, model.UrgencyCritical, cfg.Alerts.MinUrgency)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"log_level":"warn","storage":{"driver":"sqlite","dsn":"file:test.db"}}`))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"threshold order":  func(c *Config) { c.Scoring.LocalFireRatio = 0.4 },
		"contained above":  func(c *Config) { c.Scoring.ContainedFireRatio = 0.06 },
		"iou out of range": func(c *Config) { c.Scoring.FireContactIoU = 1.5 },
		"zero distance":    func(c *Config) { c.Matching.DistanceThreshold = 0 },
		"unknown driver":   func(c *Config) { c.Storage.Driver = "mongo" },
		"sqlite no dsn":    func(c *Config) { c.Storage.Driver = "sqlite" },
		"mqtt no broker":   func(c *Config) { c.Ingest.MQTT.Enabled = true },
		"kafka partial":    func(c *Config) { c.Ingest.Kafka.Enabled = true; c.Ingest.Kafka.Topic = "frames" },
		"bad urgency":      func(c *Config) { c.Alerts.MinUrgency = "SEVERE" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse([]byte("   \n"))
	assert.Error(t, err)
}

func TestManagerReloadAndUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))

	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, "info", m.Get().LogLevel)

	next := DefaultConfig()
	next.Matching.DistanceThreshold = 150
	require.NoError(t, m.Update(next))
	assert.Equal(t, 150.0, m.Get().Matching.DistanceThreshold)

	reloaded, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, 150.0, reloaded.Matching.DistanceThreshold)

	needs, err := m.NeedsReload()
	require.NoError(t, err)
	assert.False(t, needs)
}
