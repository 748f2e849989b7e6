// Package config provides configuration loading for learnd.
package config

import (
	"fmt"
	"time"

	"github.com/haldanelabs/learnd/internal/logging"
)

// Config is the root learnd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    logging.Config   `koanf:"logging"`
	NATS       NATSConfig       `koanf:"nats"`
	Training   TrainingConfig   `koanf:"training"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Experiment ExperimentConfig `koanf:"experiment"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `koanf:"host"`

	// Port is the HTTP port.
	Port int `koanf:"port"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NATSConfig holds event broker settings.
type NATSConfig struct {
	// URL is the broker address. Ignored when Embedded is set.
	URL string `koanf:"url"`

	// Embedded runs an in-process broker instead of dialing URL.
	Embedded bool `koanf:"embedded"`
}

// TrainingConfig holds orchestrator settings.
type TrainingConfig struct {
	// FitTimeout bounds a single training session.
	FitTimeout Duration `koanf:"fit_timeout"`
}

// SchedulerConfig holds the recurring job cadences.
type SchedulerConfig struct {
	// Enabled turns the recurring jobs on.
	Enabled bool `koanf:"enabled"`

	// IncrementalEvery is the cadence of incremental training.
	IncrementalEvery Duration `koanf:"incremental_every"`

	// AnalysisEvery is the cadence of pattern analysis.
	AnalysisEvery Duration `koanf:"analysis_every"`

	// OptimizeEvery is the cadence of optimization passes.
	OptimizeEvery Duration `koanf:"optimize_every"`

	// SynthesisEvery is the cadence of deep knowledge synthesis.
	SynthesisEvery Duration `koanf:"synthesis_every"`
}

// ExperimentConfig holds experiment runner settings.
type ExperimentConfig struct {
	// ObservationWindow is how long AB tests sample.
	ObservationWindow Duration `koanf:"observation_window"`

	// Samples is the number of samples per AB test window.
	Samples int `koanf:"samples"`
}

// NewDefaultConfig returns the built-in defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8089,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		NATS: NATSConfig{
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
		},
		Training: TrainingConfig{
			FitTimeout: Duration(10 * time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			IncrementalEvery: Duration(time.Hour),
			AnalysisEvery:    Duration(6 * time.Hour),
			OptimizeEvery:    Duration(12 * time.Hour),
			SynthesisEvery:   Duration(24 * time.Hour),
		},
		Experiment: ExperimentConfig{
			ObservationWindow: Duration(30 * time.Second),
			Samples:           50,
		},
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.embedded is false")
	}
	if c.Training.FitTimeout.Duration() <= 0 {
		return fmt.Errorf("training.fit_timeout must be positive")
	}
	if c.Scheduler.Enabled {
		for name, d := range map[string]Duration{
			"scheduler.incremental_every": c.Scheduler.IncrementalEvery,
			"scheduler.analysis_every":    c.Scheduler.AnalysisEvery,
			"scheduler.optimize_every":    c.Scheduler.OptimizeEvery,
			"scheduler.synthesis_every":   c.Scheduler.SynthesisEvery,
		} {
			if d.Duration() <= 0 {
				return fmt.Errorf("%s must be positive", name)
			}
		}
	}
	if c.Experiment.ObservationWindow.Duration() <= 0 {
		return fmt.Errorf("experiment.observation_window must be positive")
	}
	if c.Experiment.Samples < 1 {
		return fmt.Errorf("experiment.samples must be at least 1, got %d", c.Experiment.Samples)
	}
	return nil
}
