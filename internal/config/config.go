package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Audio describes the siren tone
type Audio struct {
	SampleRate  int           `yaml:"sample_rate" env:"AUDIO_SAMPLE_RATE"`
	SweepLowHz  float64       `yaml:"sweep_low_hz" env:"AUDIO_SWEEP_LOW_HZ"`
	SweepHighHz float64       `yaml:"sweep_high_hz" env:"AUDIO_SWEEP_HIGH_HZ"`
	SweepPeriod time.Duration `yaml:"sweep_period" env:"AUDIO_SWEEP_PERIOD"`
}

// Config is read from an optional YAML file, then overridden by the environment
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr" env:"HTTP_ADDR"`
	} `yaml:"http"`

	Inference struct {
		BaseURL string        `yaml:"base_url" env:"INFERENCE_BASE_URL"`
		Timeout time.Duration `yaml:"timeout" env:"INFERENCE_TIMEOUT"`
	} `yaml:"inference"`

	DetectionLog struct {
		BaseURL  string        `yaml:"base_url" env:"DETECTION_LOG_BASE_URL"`
		PageSize int           `yaml:"page_size" env:"DETECTION_LOG_PAGE_SIZE"`
		Timeout  time.Duration `yaml:"timeout" env:"DETECTION_LOG_TIMEOUT"`
	} `yaml:"detection_log"`

	Pipeline struct {
		DeviceID      string        `yaml:"device_id" env:"PIPELINE_DEVICE_ID"`
		PollInterval  time.Duration `yaml:"poll_interval" env:"PIPELINE_POLL_INTERVAL"`
		AlertDwell    time.Duration `yaml:"alert_dwell" env:"PIPELINE_ALERT_DWELL"`
		JPEGQuality   int           `yaml:"jpeg_quality" env:"PIPELINE_JPEG_QUALITY"`
		WatchInterval time.Duration `yaml:"watch_interval" env:"PIPELINE_WATCH_INTERVAL"`
	} `yaml:"pipeline"`

	Audio Audio `yaml:"audio"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
		Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
	} `yaml:"minio"`

	Kafka struct {
		Brokers        []string      `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID        string        `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		CommandTopic   string        `yaml:"command_topic" env:"KAFKA_COMMAND_TOPIC"`
		EventTopic     string        `yaml:"event_topic" env:"KAFKA_EVENT_TOPIC"`
		HeartbeatTopic string        `yaml:"heartbeat_topic" env:"KAFKA_HEARTBEAT_TOPIC"`
		OutboxInterval time.Duration `yaml:"outbox_interval" env:"KAFKA_OUTBOX_INTERVAL"`
	} `yaml:"kafka"`

	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"log"`
}

// Default returns the values used when neither the file nor the environment sets a key
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = "127.0.0.1:8090"
	cfg.Inference.BaseURL = "http://localhost:8000"
	cfg.Inference.Timeout = 30 * time.Second
	cfg.DetectionLog.BaseURL = "http://localhost:8000"
	cfg.DetectionLog.PageSize = 10
	cfg.DetectionLog.Timeout = 10 * time.Second
	cfg.Pipeline.PollInterval = 5 * time.Second
	cfg.Pipeline.AlertDwell = 10 * time.Second
	cfg.Pipeline.JPEGQuality = 80
	cfg.Pipeline.WatchInterval = 3 * time.Second
	cfg.Audio.SampleRate = 44100
	cfg.Audio.SweepLowHz = 600
	cfg.Audio.SweepHighHz = 1400
	cfg.Audio.SweepPeriod = time.Second
	cfg.Minio.Bucket = "fire-snapshots"
	cfg.Kafka.GroupID = "firewatch"
	cfg.Kafka.CommandTopic = "firewatch-commands"
	cfg.Kafka.EventTopic = "firewatch-alerts"
	cfg.Kafka.HeartbeatTopic = "firewatch-heartbeats"
	cfg.Kafka.OutboxInterval = 5 * time.Second
	cfg.Log.Level = "info"
	return cfg
}

// LoadConfig reads the YAML file (if any) over the defaults, then lets the environment win
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", filename, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", filename, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("pipeline.poll_interval must be positive")
	}
	if c.Pipeline.AlertDwell <= 0 {
		return fmt.Errorf("pipeline.alert_dwell must be positive")
	}
	if c.DetectionLog.PageSize < 1 {
		return fmt.Errorf("detection_log.page_size must be at least 1")
	}
	if c.DetectionLog.Timeout <= 0 {
		return fmt.Errorf("detection_log.timeout must be positive")
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		return fmt.Errorf("pipeline.jpeg_quality must be within 1..100")
	}
	if c.Audio.SweepLowHz <= 0 || c.Audio.SweepHighHz <= c.Audio.SweepLowHz {
		return fmt.Errorf("audio sweep range is empty")
	}
	return nil
}
