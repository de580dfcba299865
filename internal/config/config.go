// Package config loads rxcapture settings: defaults, then an optional YAML
// file, then RXCAP_* environment overrides. Command-line flags are applied
// last by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rjboer/rxcapture/internal/acquisition"
	"github.com/rjboer/rxcapture/internal/logging"
)

type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Output      OutputConfig      `yaml:"output"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
}

type DeviceConfig struct {
	Backend    string  `yaml:"backend"` // mock | replay
	ReplayPath string  `yaml:"replay_path"`
	ReplayLoop bool    `yaml:"replay_loop"`
	Rate       float64 `yaml:"rate"`
	Frequency  float64 `yaml:"frequency"`
	LOOffset   float64 `yaml:"lo_offset"`
	Gain       float64 `yaml:"gain"`
	ToneOffset float64 `yaml:"tone_offset"` // mock only
	NoiseStd   float64 `yaml:"noise_std"`   // mock only
}

type AcquisitionConfig struct {
	Samples     int            `yaml:"samples"`
	Timeout     time.Duration  `yaml:"timeout"`
	Priority    int            `yaml:"priority"`
	Escalation  map[string]int `yaml:"escalation"`
	StatusQueue int            `yaml:"status_queue"`
}

type OutputConfig struct {
	MetadataLog string `yaml:"metadata_log"`
	RawData     string `yaml:"raw_data"`
	RawFIFO     bool   `yaml:"raw_fifo"`
	RawQueue    int    `yaml:"raw_queue"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
}

type TelemetryConfig struct {
	Addr          string  `yaml:"addr"`
	HistoryLimit  int     `yaml:"history_limit"`
	JWTSecret     string  `yaml:"jwt_secret"`
	Announce      bool    `yaml:"announce"`
	Instance      string  `yaml:"instance"`
	ThresholdDBFS float64 `yaml:"threshold_dbfs"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type SupervisorConfig struct {
	MaxRestarts     int           `yaml:"max_restarts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Default reproduces the classic single-channel capture setup.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Backend:    "mock",
			Rate:       125e3,
			Frequency:  135e6,
			LOOffset:   55e3,
			ToneOffset: 10e3,
		},
		Acquisition: AcquisitionConfig{
			Samples:     10000,
			Timeout:     5 * time.Second,
			StatusQueue: 256,
		},
		Output: OutputConfig{
			MetadataLog: "rx_log.txt",
			RawData:     "rx_data.bin",
			RawQueue:    64,
			MaxSizeMB:   100,
			MaxBackups:  3,
		},
		Telemetry: TelemetryConfig{
			Addr:          ":8090",
			HistoryLimit:  500,
			Instance:      "rxcapture",
			ThresholdDBFS: -60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Supervisor: SupervisorConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected. A missing
// file is an error; an empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate checks values that would otherwise fail deep inside startup.
func (c Config) Validate() error {
	var errs []error
	switch c.Device.Backend {
	case "mock":
	case "replay":
		if c.Device.ReplayPath == "" {
			errs = append(errs, errors.New("device.replay_path is required for the replay backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown device.backend %q", c.Device.Backend))
	}
	if c.Device.Rate <= 0 {
		errs = append(errs, fmt.Errorf("device.rate must be positive, got %g", c.Device.Rate))
	}
	if c.Device.Frequency <= 0 {
		errs = append(errs, fmt.Errorf("device.frequency must be positive, got %g", c.Device.Frequency))
	}
	if c.Acquisition.Samples <= 0 {
		errs = append(errs, fmt.Errorf("acquisition.samples must be positive, got %d", c.Acquisition.Samples))
	}
	if c.Acquisition.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("acquisition.timeout must be positive, got %s", c.Acquisition.Timeout))
	}
	if _, err := c.Acquisition.Policy(); err != nil {
		errs = append(errs, fmt.Errorf("acquisition.escalation: %w", err))
	}
	if c.Telemetry.Addr != "" && (c.Telemetry.HistoryLimit < 1 || c.Telemetry.HistoryLimit > 100_000) {
		errs = append(errs, fmt.Errorf("telemetry.history_limit must be between 1 and 100000, got %d", c.Telemetry.HistoryLimit))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, fmt.Errorf("logging.format: %w", err))
	}
	return errors.Join(errs...)
}

// Policy converts the escalation limits keyed by error name.
func (a AcquisitionConfig) Policy() (acquisition.EscalationPolicy, error) {
	return acquisition.ParseEscalationLimits(a.Escalation)
}

// LoggingOptions maps the logging and output sections onto logging.Options.
func (c Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Output.MaxSizeMB,
		MaxBackups: c.Output.MaxBackups,
	}
}
