package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/livecam-uploader/internal/settings"
)

// Config is the uploader's runtime configuration.
type Config struct {
	Upload   UploadConfig   `yaml:"upload"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Source   SourceConfig   `yaml:"source"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Recorder RecorderConfig `yaml:"recorder"`
	API      APIConfig      `yaml:"api"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// UploadConfig is the HTTP endpoint and throttle settings.
type UploadConfig struct {
	HostAddress string        `yaml:"host_address"`
	IntervalS   int           `yaml:"interval_s"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxInFlight int           `yaml:"max_in_flight"` // 0 = unbounded
	Path        string        `yaml:"path"`
}

// MQTTConfig configures the optional MQTT transport.
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`    // tcp://host:1883
	ClientID       string        `yaml:"client_id"` // generated when empty
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	Retained       bool          `yaml:"retained"`
	Format         string        `yaml:"format"` // raw, envelope
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// SourceConfig selects the frame producer.
type SourceConfig struct {
	Kind   string `yaml:"kind"` // pattern, dir
	Dir    string `yaml:"dir"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	Loop   bool   `yaml:"loop"`
}

type EncoderConfig struct {
	Overlay bool `yaml:"overlay"`
}

// RecorderConfig controls the local frame archive.
type RecorderConfig struct {
	Path      string `yaml:"path"`
	AutoStart bool   `yaml:"auto_start"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures the logger and the optional rotating log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	Color      bool   `yaml:"color"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Source kinds and MQTT payload formats.
const (
	SourcePattern = "pattern"
	SourceDir     = "dir"

	FormatRaw      = "raw"
	FormatEnvelope = "envelope"
)

// MaxFPS bounds the source frame rate.
const MaxFPS = 1000

// Default returns the configuration used when no file is given or the file
// cannot be read.
func Default() Config {
	return Config{
		Upload: UploadConfig{
			HostAddress: settings.DefaultHostAddress,
			IntervalS:   settings.DefaultMinInterval,
			Timeout:     10 * time.Second,
			Path:        settings.ImagesPath,
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			Topic:          "stream/detection",
			QoS:            1,
			Format:         FormatRaw,
			KeepAlive:      60 * time.Second,
			ConnectTimeout: 5 * time.Second,
			PublishTimeout: 2 * time.Second,
		},
		Source: SourceConfig{
			Kind:   SourcePattern,
			Width:  640,
			Height: 480,
			FPS:    30,
			Loop:   true,
		},
		Recorder: RecorderConfig{Path: "./recordings"},
		API:      APIConfig{Addr: ":8080"},
		Metrics:  MetricsConfig{Addr: ":9090"},
		Log: LogConfig{
			Level:      "info",
			Color:      true,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults. On any error the returned config is
// still usable: it holds the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	loaded := Default()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return loaded, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var errs []error

	if c.Upload.IntervalS < 0 || int64(c.Upload.IntervalS) > settings.MaxMinInterval {
		errs = append(errs, fmt.Errorf("upload.interval_s must be between 0 and %d, got %d", settings.MaxMinInterval, c.Upload.IntervalS))
	}
	if c.Upload.Timeout < 0 {
		errs = append(errs, fmt.Errorf("upload.timeout must be >= 0"))
	}
	if c.Upload.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("upload.max_in_flight must be >= 0"))
	}
	if c.Upload.Path != "" && !strings.HasPrefix(c.Upload.Path, "/") {
		errs = append(errs, fmt.Errorf("upload.path must start with /"))
	}

	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	switch c.MQTT.Format {
	case FormatRaw, FormatEnvelope:
	default:
		errs = append(errs, fmt.Errorf("mqtt.format must be %q or %q, got %q", FormatRaw, FormatEnvelope, c.MQTT.Format))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}

	if c.Recorder.Path == "" {
		errs = append(errs, fmt.Errorf("recorder.path is required"))
	}

	switch c.Source.Kind {
	case SourcePattern:
	case SourceDir:
		if c.Source.Dir == "" {
			errs = append(errs, fmt.Errorf("source.dir is required for the dir source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source.kind %q", c.Source.Kind))
	}
	if c.Source.Width <= 0 || c.Source.Height <= 0 {
		errs = append(errs, fmt.Errorf("source size must be positive, got %dx%d", c.Source.Width, c.Source.Height))
	}
	if c.Source.FPS <= 0 || c.Source.FPS > MaxFPS {
		errs = append(errs, fmt.Errorf("source.fps must be between 1 and %d, got %d", MaxFPS, c.Source.FPS))
	}

	return errors.Join(errs...)
}

// Endpoint returns the upload section as a settings value.
func (c Config) Endpoint() settings.Endpoint {
	return settings.Endpoint{
		HostAddress: c.Upload.HostAddress,
		MinInterval: c.Upload.IntervalS,
	}
}
