// Package config loads the client configuration from an optional file and
// NETSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"arena/netsync/internal/latency"
	"arena/netsync/internal/net/proto"
	"arena/netsync/internal/net/transport"
	"arena/netsync/internal/netsync"
	"arena/netsync/internal/recorder"
	"arena/netsync/logging"
)

// EnvPrefix namespaces environment overrides. Keys map to variables by
// upper-casing and replacing dots, e.g. sync.tickRate -> NETSYNC_SYNC_TICKRATE.
const EnvPrefix = "NETSYNC"

type ServerConfig struct {
	Address  string `mapstructure:"address"`
	Identity string `mapstructure:"identity"`
}

type TransportConfig struct {
	Codec             string        `mapstructure:"codec"`
	ConnectTimeout    time.Duration `mapstructure:"connectTimeout"`
	KeepAliveInterval time.Duration `mapstructure:"keepAliveInterval"`
	ReadTimeout       time.Duration `mapstructure:"readTimeout"`
	WriteTimeout      time.Duration `mapstructure:"writeTimeout"`
	SendQueueSize     int           `mapstructure:"sendQueueSize"`
}

type SyncConfig struct {
	TickRate            int           `mapstructure:"tickRate"`
	BufferCapacity      int           `mapstructure:"bufferCapacity"`
	BufferRetention     time.Duration `mapstructure:"bufferRetention"`
	EventTTL            time.Duration `mapstructure:"eventTTL"`
	InitialStateTimeout time.Duration `mapstructure:"initialStateTimeout"`
	Prediction          bool          `mapstructure:"prediction"`
	Reconciliation      bool          `mapstructure:"reconciliation"`
	Extrapolation       bool          `mapstructure:"extrapolation"`
	MaxExtrapolation    time.Duration `mapstructure:"maxExtrapolation"`
}

type LoggingConfig struct {
	Level       string   `mapstructure:"level"`
	Sinks       []string `mapstructure:"sinks"`
	JSONPath    string   `mapstructure:"jsonPath"`
	GELFAddress string   `mapstructure:"gelfAddress"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type RecorderConfig struct {
	Driver   string        `mapstructure:"driver"`
	DSN      string        `mapstructure:"dsn"`
	Interval time.Duration `mapstructure:"interval"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

// Config is the full client configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Recorder  RecorderConfig  `mapstructure:"recorder"`
	Influx    InfluxConfig    `mapstructure:"influx"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "ws://localhost:8080/ws")
	v.SetDefault("server.identity", "")

	v.SetDefault("transport.codec", proto.CodecJSON)
	v.SetDefault("transport.connectTimeout", transport.DefaultConnectTimeout)
	v.SetDefault("transport.keepAliveInterval", transport.DefaultKeepAliveInterval)
	v.SetDefault("transport.readTimeout", time.Duration(0))
	v.SetDefault("transport.writeTimeout", transport.DefaultWriteTimeout)
	v.SetDefault("transport.sendQueueSize", transport.DefaultSendQueueSize)

	defaults := netsync.DefaultConfig()
	v.SetDefault("sync.tickRate", defaults.TickRate)
	v.SetDefault("sync.bufferCapacity", defaults.BufferCapacity)
	v.SetDefault("sync.bufferRetention", defaults.BufferRetention)
	v.SetDefault("sync.eventTTL", defaults.EventTTL)
	v.SetDefault("sync.initialStateTimeout", defaults.InitialStateTimeout)
	v.SetDefault("sync.prediction", defaults.Features.Prediction)
	v.SetDefault("sync.reconciliation", defaults.Features.Reconciliation)
	v.SetDefault("sync.extrapolation", defaults.Features.Extrapolation)
	v.SetDefault("sync.maxExtrapolation", defaults.MaxExtrapolation)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.sinks", []string{logging.SinkZerolog})
	v.SetDefault("logging.jsonPath", "")
	v.SetDefault("logging.gelfAddress", "")

	v.SetDefault("metrics.enabled", false)

	v.SetDefault("recorder.driver", recorder.DriverNone)
	v.SetDefault("recorder.dsn", "")
	v.SetDefault("recorder.interval", recorder.DefaultInterval)

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "")
}

// Load reads path (JSON, YAML or TOML by extension) when it is non-empty,
// applies environment overrides and validates the result. A missing
// identity is replaced with a random one.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Server.Identity == "" {
		cfg.Server.Identity = uuid.NewString()
	}
	cfg.Recorder.Driver = strings.ToLower(strings.TrimSpace(cfg.Recorder.Driver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the client cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if _, err := proto.NewCodec(c.Transport.Codec); err != nil {
		errs = append(errs, fmt.Errorf("transport.codec: %w", err))
	}
	if c.Sync.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("sync.tickRate must be positive, got %d", c.Sync.TickRate))
	}
	if c.Sync.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("sync.bufferCapacity must be positive, got %d", c.Sync.BufferCapacity))
	}
	switch c.Recorder.Driver {
	case recorder.DriverNone, "", recorder.DriverSQLite, recorder.DriverPostgres:
	case recorder.DriverInflux:
		if c.Influx.URL == "" || c.Influx.Org == "" || c.Influx.Bucket == "" {
			errs = append(errs, errors.New("influx.url, influx.org and influx.bucket are required for the influx recorder"))
		}
	default:
		errs = append(errs, fmt.Errorf("recorder.driver: unknown driver %q", c.Recorder.Driver))
	}
	if c.Logging.HasSink(logging.SinkGELF) && c.Logging.GELFAddress == "" {
		errs = append(errs, errors.New("logging.gelfAddress is required for the gelf sink"))
	}
	if c.Logging.HasSink(logging.SinkJSON) && c.Logging.JSONPath == "" {
		errs = append(errs, errors.New("logging.jsonPath is required for the json sink"))
	}
	return errors.Join(errs...)
}

// HasSink reports whether name is enabled, ignoring case.
func (l LoggingConfig) HasSink(name string) bool {
	for _, sink := range l.Sinks {
		if strings.EqualFold(strings.TrimSpace(sink), name) {
			return true
		}
	}
	return false
}

// TransportSettings converts the transport section. Probe, logger and
// metrics are wired by the caller.
func (c Config) TransportSettings() transport.Config {
	settings := transport.DefaultConfig()
	settings.ConnectTimeout = c.Transport.ConnectTimeout
	settings.KeepAliveInterval = c.Transport.KeepAliveInterval
	settings.ReadTimeout = c.Transport.ReadTimeout
	settings.WriteTimeout = c.Transport.WriteTimeout
	settings.SendQueueSize = c.Transport.SendQueueSize
	settings.Binary = c.Transport.Codec == proto.CodecMsgpack
	return settings
}

// SyncSettings converts the sync section.
func (c Config) SyncSettings() netsync.Config {
	return netsync.Config{
		Identity:            c.Server.Identity,
		TickRate:            c.Sync.TickRate,
		BufferCapacity:      c.Sync.BufferCapacity,
		BufferRetention:     c.Sync.BufferRetention,
		EventTTL:            c.Sync.EventTTL,
		InitialStateTimeout: c.Sync.InitialStateTimeout,
		MaxExtrapolation:    c.Sync.MaxExtrapolation,
		RecordInterval:      c.Recorder.Interval,
		Features: latency.Features{
			Prediction:     c.Sync.Prediction,
			Reconciliation: c.Sync.Reconciliation,
			Extrapolation:  c.Sync.Extrapolation,
		},
	}
}

// LoggingSettings converts the logging section.
func (c Config) LoggingSettings() logging.Config {
	settings := logging.DefaultConfig()
	if len(c.Logging.Sinks) > 0 {
		settings.Sinks = append([]string(nil), c.Logging.Sinks...)
	}
	settings.MinimumSeverity = logging.ParseSeverity(c.Logging.Level)
	settings.JSON.FilePath = c.Logging.JSONPath
	settings.GELF.Address = c.Logging.GELFAddress
	settings.Fields = map[string]any{"identity": c.Server.Identity}
	return settings
}

// RecorderSettings converts the recorder and influx sections.
func (c Config) RecorderSettings() recorder.Config {
	return recorder.Config{
		Driver:   c.Recorder.Driver,
		DSN:      c.Recorder.DSN,
		Interval: c.Recorder.Interval,
		Influx: recorder.InfluxConfig{
			URL:    c.Influx.URL,
			Token:  c.Influx.Token,
			Org:    c.Influx.Org,
			Bucket: c.Influx.Bucket,
		},
	}
}
