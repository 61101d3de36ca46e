package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/session"
	"github.com/srg/motionlink/internal/transport/gatt"
	"github.com/srg/motionlink/internal/transport/mqtt"
	"github.com/srg/motionlink/pkg/motionlink"
)

// Config holds application configuration
type Config struct {
	LogLevel   string `yaml:"log_level" default:"info"`
	AppVersion uint16 `yaml:"app_version" default:"1"`

	Session SessionConfig `yaml:"session"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	GATT    GATTConfig    `yaml:"gatt"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SessionConfig tunes the streaming session and the engine loop.
type SessionConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval" default:"100ms"`
	SilenceTimeout    time.Duration `yaml:"silence_timeout" default:"8s"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	BufferCapacity    int `yaml:"buffer_capacity" default:"500"`
	ResendCapacity    int `yaml:"resend_capacity" default:"10"`
	MaxResendAttempts int `yaml:"max_resend_attempts" default:"5"`
	SafetyMargin      int `yaml:"safety_margin" default:"32"`
	InboxSize         int `yaml:"inbox_size" default:"3000"`
	OutboxSize        int `yaml:"outbox_size" default:"3000"`

	SamplingRate uint8 `yaml:"sampling_rate" default:"50"`
	SensorBatch  int   `yaml:"sensor_batch" default:"10"`

	// BenignFailures lists failure reasons that are ignored entirely.
	BenignFailures []string `yaml:"benign_failures" default:"[send_rejected]"`

	// DrainAttempts of 0 skips the shutdown drain.
	DrainAttempts int           `yaml:"drain_attempts" default:"5"`
	DrainPause    time.Duration `yaml:"drain_pause" default:"50ms"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker" default:"tcp://localhost:1883"`
	ClientID       string        `yaml:"client_id" default:"motionlink"`
	TopicPrefix    string        `yaml:"topic_prefix" default:"motionlink"`
	QoS            uint8         `yaml:"qos" default:"1"`
	MaxPayload     int           `yaml:"max_payload" default:"1024"`
	InFlight       int           `yaml:"in_flight" default:"8"`
	PublishTimeout time.Duration `yaml:"publish_timeout" default:"5s"`
}

type GATTConfig struct {
	DeviceName  string `yaml:"device_name" default:"motionlink"`
	ServiceUUID string `yaml:"service_uuid" default:"464d0001-7c2b-4e5a-9f3d-6d6f74696f6e"`
	// MTUPayload is the largest notification the central is expected to accept.
	MTUPayload int `yaml:"mtu_payload" default:"244"`
}

type MetricsConfig struct {
	// Addr enables the Prometheus endpoint when set, e.g. ":9100".
	Addr string `yaml:"addr"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load overlays the YAML file at path on the defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if !protocol.SamplingRate(c.Session.SamplingRate).Valid() {
		errs = append(errs, fmt.Errorf("sampling_rate %d is not one of %v", c.Session.SamplingRate, protocol.SamplingRates))
	}
	if _, err := c.benignFailures(); err != nil {
		errs = append(errs, err)
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"tick_interval", int64(c.Session.TickInterval)},
		{"silence_timeout", int64(c.Session.SilenceTimeout)},
		{"buffer_capacity", int64(c.Session.BufferCapacity)},
		{"resend_capacity", int64(c.Session.ResendCapacity)},
		{"max_resend_attempts", int64(c.Session.MaxResendAttempts)},
		{"safety_margin", int64(c.Session.SafetyMargin)},
		{"inbox_size", int64(c.Session.InboxSize)},
		{"outbox_size", int64(c.Session.OutboxSize)},
		{"sensor_batch", int64(c.Session.SensorBatch)},
		{"mqtt.max_payload", int64(c.MQTT.MaxPayload)},
		{"mqtt.in_flight", int64(c.MQTT.InFlight)},
		{"mqtt.publish_timeout", int64(c.MQTT.PublishTimeout)},
		{"gatt.mtu_payload", int64(c.GATT.MTUPayload)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}
	minPayload := session.MinPayload(c.Session.SafetyMargin)
	limits := []struct {
		name  string
		value int
	}{
		{"outbox_size", c.Session.OutboxSize},
		{"mqtt.max_payload", c.MQTT.MaxPayload},
		{"gatt.mtu_payload", c.GATT.MTUPayload},
	}
	for _, l := range limits {
		if l.value > 0 && l.value < minPayload {
			errs = append(errs, fmt.Errorf("%s %d is below the %d bytes a sample message needs", l.name, l.value, minPayload))
		}
	}
	if c.Session.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("heartbeat_interval must not be negative"))
	}
	if c.Session.DrainAttempts < 0 {
		errs = append(errs, fmt.Errorf("drain_attempts must not be negative"))
	}

	return errors.Join(errs...)
}

func (c *Config) benignFailures() ([]session.FailureReason, error) {
	reasons := make([]session.FailureReason, 0, len(c.Session.BenignFailures))
	for _, name := range c.Session.BenignFailures {
		r, err := session.ParseFailureReason(name)
		if err != nil {
			return nil, err
		}
		reasons = append(reasons, r)
	}
	return reasons, nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions maps the session section onto session.Options.
func (c *Config) SessionOptions() (session.Options, error) {
	benign, err := c.benignFailures()
	if err != nil {
		return session.Options{}, err
	}

	opts := session.DefaultOptions()
	opts.AppVersion = c.AppVersion
	opts.SamplingRate = protocol.SamplingRate(c.Session.SamplingRate)
	opts.SensorBatch = c.Session.SensorBatch
	opts.BufferCapacity = c.Session.BufferCapacity
	opts.ResendCapacity = c.Session.ResendCapacity
	opts.MaxResendAttempts = c.Session.MaxResendAttempts
	opts.SafetyMargin = c.Session.SafetyMargin
	opts.SilenceTimeout = c.Session.SilenceTimeout
	opts.HeartbeatInterval = c.Session.HeartbeatInterval
	opts.BenignFailures = benign
	opts.DrainPause = c.Session.DrainPause
	opts.DrainAttempts = c.Session.DrainAttempts
	if opts.DrainAttempts == 0 {
		opts.DrainAttempts = -1
	}
	return opts, nil
}

// EngineOptions returns engine options without a transport; the caller
// picks one.
func (c *Config) EngineOptions(logger *logrus.Logger) (motionlink.Options, error) {
	sopts, err := c.SessionOptions()
	if err != nil {
		return motionlink.Options{}, err
	}

	opts := motionlink.DefaultOptions()
	opts.Session = sopts
	opts.Capacity = session.Capacity{Inbox: c.Session.InboxSize, Outbox: c.Session.OutboxSize}
	opts.TickInterval = c.Session.TickInterval
	opts.Logger = logger
	return opts, nil
}

func (c *Config) MQTTOptions() mqtt.Options {
	opts := mqtt.DefaultOptions()
	opts.Broker = c.MQTT.Broker
	opts.ClientID = c.MQTT.ClientID
	opts.TopicPrefix = c.MQTT.TopicPrefix
	opts.QoS = c.MQTT.QoS
	opts.MaxPayload = c.MQTT.MaxPayload
	opts.InFlight = c.MQTT.InFlight
	opts.PublishTimeout = c.MQTT.PublishTimeout
	return opts
}

func (c *Config) GATTOptions() gatt.Options {
	opts := gatt.DefaultOptions()
	opts.DeviceName = c.GATT.DeviceName
	opts.ServiceUUID = c.GATT.ServiceUUID
	opts.MaxPayload = c.GATT.MTUPayload
	return opts
}
