package config

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"rescuefusion/internal/model"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Scoring   ScoringConfig   `json:"scoring" yaml:"scoring"`
	Matching  MatchingConfig  `json:"matching" yaml:"matching"`
	Coalescer CoalescerConfig `json:"coalescer" yaml:"coalescer"`
	Fusion    FusionConfig    `json:"fusion" yaml:"fusion"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Broadcast BroadcastConfig `json:"broadcast" yaml:"broadcast"`
	Retention RetentionConfig `json:"retention" yaml:"retention"`
	API       APIConfig       `json:"api" yaml:"api"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	Workers       int             `json:"workers" yaml:"workers"`
	HTTP          HTTPConfig      `json:"http" yaml:"http"`
	MQTT          MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	Replay        ReplayConfig    `json:"replay" yaml:"replay"`
}

type HTTPConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Addr         string `json:"addr" yaml:"addr"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Topic    string `json:"topic" yaml:"topic"`
	QoS      byte   `json:"qos" yaml:"qos"`

	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type ReplayConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type ScoringConfig struct {
	FrameWidth                int     `json:"frame_width" yaml:"frame_width"`
	FrameHeight               int     `json:"frame_height" yaml:"frame_height"`
	FireContactIoU            float64 `json:"fire_contact_iou" yaml:"fire_contact_iou"`
	DenseSmokeRatio           float64 `json:"dense_smoke_ratio" yaml:"dense_smoke_ratio"`
	SpreadingFireRatio        float64 `json:"spreading_fire_ratio" yaml:"spreading_fire_ratio"`
	LocalFireRatio            float64 `json:"local_fire_ratio" yaml:"local_fire_ratio"`
	ContainedFireRatio        float64 `json:"contained_fire_ratio" yaml:"contained_fire_ratio"`
	WifiStatusScore           float64 `json:"wifi_status_score" yaml:"wifi_status_score"`
	WifiEnvironmentMultiplier float64 `json:"wifi_environment_multiplier" yaml:"wifi_environment_multiplier"`
}

type MatchingConfig struct {
	DistanceThreshold float64       `json:"distance_threshold" yaml:"distance_threshold"`
	WifiRecencyWindow time.Duration `json:"wifi_recency_window" yaml:"wifi_recency_window"`
}

type CoalescerConfig struct {
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
	StatsInterval time.Duration `json:"stats_interval" yaml:"stats_interval"`
	Workers       int           `json:"workers" yaml:"workers"`
	RateWindow    time.Duration `json:"rate_window" yaml:"rate_window"`
}

type FusionConfig struct {
	DedupeWindow time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type BroadcastConfig struct {
	WebSocket WebSocketConfig      `json:"websocket" yaml:"websocket"`
	Redis     RedisBroadcastConfig `json:"redis" yaml:"redis"`
	Kafka     KafkaBroadcastConfig `json:"kafka" yaml:"kafka"`
}

type WebSocketConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	ClientBuffer int  `json:"client_buffer" yaml:"client_buffer"`
}

type RedisBroadcastConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Addr          string `json:"addr" yaml:"addr"`
	Password      string `json:"password" yaml:"password"`
	DB            int    `json:"db" yaml:"db"`
	ChannelPrefix string `json:"channel_prefix" yaml:"channel_prefix"`
}

type KafkaBroadcastConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type RetentionConfig struct {
	Enabled           bool          `json:"enabled" yaml:"enabled"`
	Schedule          string        `json:"schedule" yaml:"schedule"`
	InactivityTimeout time.Duration `json:"inactivity_timeout" yaml:"inactivity_timeout"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit int               `json:"store_limit" yaml:"store_limit"`
	MinUrgency model.UrgencyTier `json:"min_urgency" yaml:"min_urgency"`
	Cooldown   time.Duration     `json:"cooldown" yaml:"cooldown"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 1024,
			Workers:       4,
			HTTP:          HTTPConfig{Enabled: true, Addr: ":8080", MaxBodyBytes: 4 << 20},
			MQTT:          MQTTConfig{Enabled: false, ClientID: "rescuefusion", Topic: "sensors/wifi/+/csi", QoS: 1, ConnectTimeout: 10 * time.Second},
			Kafka:         KafkaConfig{Enabled: false},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			Replay:        ReplayConfig{Enabled: false, StartAtEnd: true},
		},
		Scoring: ScoringConfig{
			FrameWidth:                1920,
			FrameHeight:               1080,
			FireContactIoU:            0.089,
			DenseSmokeRatio:           0.5,
			SpreadingFireRatio:        0.3,
			LocalFireRatio:            0.05,
			ContainedFireRatio:        0.05,
			WifiStatusScore:           3.0,
			WifiEnvironmentMultiplier: 0.1,
		},
		Matching: MatchingConfig{
			DistanceThreshold: 300,
			WifiRecencyWindow: 10 * time.Minute,
		},
		Coalescer: CoalescerConfig{
			FlushInterval: 100 * time.Millisecond,
			StatsInterval: 10 * time.Second,
			Workers:       8,
			RateWindow:    10 * time.Second,
		},
		Storage: StorageConfig{Driver: "memory"},
		Broadcast: BroadcastConfig{
			WebSocket: WebSocketConfig{Enabled: true, ClientBuffer: 64},
			Redis:     RedisBroadcastConfig{Enabled: false, Addr: "localhost:6379", ChannelPrefix: "rescue:"},
			Kafka:     KafkaBroadcastConfig{Enabled: false},
		},
		Retention: RetentionConfig{Enabled: true, Schedule: "@every 1m", InactivityTimeout: 30 * time.Minute},
		API:       APIConfig{Enabled: true, Addr: ":8081"},
		Metrics:   MetricsConfig{StoreLimit: 5000},
		Alerts:    AlertsConfig{StoreLimit: 1000, MinUrgency: model.UrgencyHigh, Cooldown: 30 * time.Second},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open config %s", path)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, eris.Wrapf(err, "read config %s", path)
	}
	return Parse(content)
}

// Parse decodes a YAML or JSON document over the defaults and validates the result.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, eris.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, eris.Wrap(decodeErr, "decode config")
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return eris.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return eris.Wrap(err, "encode config")
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = def.Ingest.Workers
	}
	if cfg.Ingest.HTTP.MaxBodyBytes <= 0 {
		cfg.Ingest.HTTP.MaxBodyBytes = def.Ingest.HTTP.MaxBodyBytes
	}
	if cfg.Ingest.MQTT.Topic == "" {
		cfg.Ingest.MQTT.Topic = def.Ingest.MQTT.Topic
	}
	if cfg.Ingest.MQTT.ClientID == "" {
		cfg.Ingest.MQTT.ClientID = def.Ingest.MQTT.ClientID
	}
	if cfg.Ingest.MQTT.ConnectTimeout <= 0 {
		cfg.Ingest.MQTT.ConnectTimeout = def.Ingest.MQTT.ConnectTimeout
	}
	if cfg.Scoring.FrameWidth <= 0 {
		cfg.Scoring.FrameWidth = def.Scoring.FrameWidth
	}
	if cfg.Scoring.FrameHeight <= 0 {
		cfg.Scoring.FrameHeight = def.Scoring.FrameHeight
	}
	if cfg.Matching.WifiRecencyWindow <= 0 {
		cfg.Matching.WifiRecencyWindow = def.Matching.WifiRecencyWindow
	}
	if cfg.Coalescer.FlushInterval <= 0 {
		cfg.Coalescer.FlushInterval = def.Coalescer.FlushInterval
	}
	if cfg.Coalescer.StatsInterval <= 0 {
		cfg.Coalescer.StatsInterval = def.Coalescer.StatsInterval
	}
	if cfg.Coalescer.Workers <= 0 {
		cfg.Coalescer.Workers = def.Coalescer.Workers
	}
	if cfg.Coalescer.RateWindow <= 0 {
		cfg.Coalescer.RateWindow = def.Coalescer.RateWindow
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
	if cfg.Broadcast.WebSocket.ClientBuffer <= 0 {
		cfg.Broadcast.WebSocket.ClientBuffer = def.Broadcast.WebSocket.ClientBuffer
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = def.Retention.Schedule
	}
	if cfg.Retention.InactivityTimeout <= 0 {
		cfg.Retention.InactivityTimeout = def.Retention.InactivityTimeout
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = def.Metrics.StoreLimit
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Alerts.MinUrgency == "" {
		cfg.Alerts.MinUrgency = def.Alerts.MinUrgency
	}
	cfg.Alerts.MinUrgency = model.UrgencyTier(strings.ToUpper(string(cfg.Alerts.MinUrgency)))
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return eris.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.HTTP.Enabled && cfg.Ingest.HTTP.Addr == "" {
		return eris.New("ingest.http.addr required when ingest.http.enabled is true")
	}
	if cfg.Ingest.MQTT.Enabled && cfg.Ingest.MQTT.Broker == "" {
		return eris.New("ingest.mqtt.broker required when ingest.mqtt.enabled is true")
	}
	if cfg.Ingest.MQTT.QoS > 2 {
		return eris.Errorf("ingest.mqtt.qos must be 0, 1 or 2, got %d", cfg.Ingest.MQTT.QoS)
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return eris.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.Replay.Enabled && len(cfg.Ingest.Replay.Files) == 0 {
		return eris.New("ingest.replay.files required when ingest.replay.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return eris.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	s := cfg.Scoring
	for name, v := range map[string]float64{
		"fire_contact_iou":     s.FireContactIoU,
		"dense_smoke_ratio":    s.DenseSmokeRatio,
		"spreading_fire_ratio": s.SpreadingFireRatio,
		"local_fire_ratio":     s.LocalFireRatio,
		"contained_fire_ratio": s.ContainedFireRatio,
	} {
		if v < 0 || v > 1 {
			return eris.Errorf("scoring.%s must be within [0,1], got %v", name, v)
		}
	}
	if s.LocalFireRatio > s.SpreadingFireRatio {
		return eris.New("scoring.local_fire_ratio must not exceed scoring.spreading_fire_ratio")
	}
	if s.ContainedFireRatio > s.LocalFireRatio {
		return eris.New("scoring.contained_fire_ratio must not exceed scoring.local_fire_ratio")
	}
	if s.WifiStatusScore < 0 || s.WifiEnvironmentMultiplier < 0 {
		return eris.New("scoring wifi defaults must be >= 0")
	}
	if cfg.Matching.DistanceThreshold <= 0 {
		return eris.New("matching.distance_threshold must be > 0")
	}
	switch cfg.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if cfg.Storage.DSN == "" {
			return eris.Errorf("storage.dsn required for driver %s", cfg.Storage.Driver)
		}
	default:
		return eris.Errorf("unsupported storage.driver: %s", cfg.Storage.Driver)
	}
	if cfg.Broadcast.Redis.Enabled && cfg.Broadcast.Redis.Addr == "" {
		return eris.New("broadcast.redis.addr required when broadcast.redis.enabled is true")
	}
	if cfg.Broadcast.Kafka.Enabled && (len(cfg.Broadcast.Kafka.Brokers) == 0 || cfg.Broadcast.Kafka.Topic == "") {
		return eris.New("broadcast.kafka requires brokers and topic")
	}
	if cfg.Alerts.MinUrgency.Rank() == 0 {
		return eris.Errorf("alerts.min_urgency must be one of CRITICAL, HIGH, MEDIUM, LOW, got %q", cfg.Alerts.MinUrgency)
	}
	return nil
}

type Manager struct {
	path string
	cfg  atomic.Value

	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.stamp()
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.stamp()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return eris.New("nil config")
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	m.stamp()
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) stamp() {
	info, err := os.Stat(m.path)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.modTime = info.ModTime()
	m.mu.Unlock()
}

// Watch polls the config file until ctx is done and hands every successfully reloaded config to onReload.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-ctx.Done():
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
