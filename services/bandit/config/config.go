// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the bandit service configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full bandit service configuration.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	// DataDir is the BadgerDB directory. Ignored when InMemory is set.
	DataDir string `yaml:"data_dir"`

	// InMemory runs the posterior store without persistence. Testing
	// and replay only; a restart loses all posteriors.
	InMemory bool `yaml:"in_memory"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// LogDir enables file logging when non-empty.
	LogDir string `yaml:"log_dir"`

	Stopping Stopping `yaml:"stopping"`
	Select   Select   `yaml:"select"`
	LinUCB   LinUCB   `yaml:"linucb"`
	Influx   Influx   `yaml:"influx"`
}

// Stopping configures the conclusion rule.
type Stopping struct {
	// Threshold is the P(best) level that concludes an experiment.
	Threshold float64 `yaml:"threshold" validate:"gt=0,lt=1"`

	// Samples is the Monte Carlo sample count at conclusion time.
	Samples int `yaml:"samples" validate:"gte=100"`
}

// Select configures selection-time behavior.
type Select struct {
	// PBestSamples is the Monte Carlo sample count for the p_best
	// estimate returned with each selection. Zero disables the
	// estimate and keeps the hot path to read-sample-argmax.
	PBestSamples int `yaml:"p_best_samples" validate:"gte=0"`
}

// LinUCB configures contextual experiment defaults.
type LinUCB struct {
	// DefaultAlpha is the exploration coefficient used when an
	// experiment is created without one.
	DefaultAlpha float64 `yaml:"default_alpha" validate:"gte=0"`

	// DefaultLambda is the A = lambda*I regularization default.
	DefaultLambda float64 `yaml:"default_lambda" validate:"gt=0"`

	// InverseRefreshEvery recomputes the cached inverse from A after
	// this many rank-1 updates per arm. Zero disables the cadence.
	InverseRefreshEvery int64 `yaml:"inverse_refresh_every" validate:"gte=0"`

	// MaintenanceInterval drives the background inverse refresh sweep
	// in the server. Zero disables the sweep.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// Influx configures the event log sink. Disabled unless Enabled.
type Influx struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		DataDir:    "data/bandit",
		LogLevel:   "info",
		Stopping: Stopping{
			Threshold: 0.95,
			Samples:   10000,
		},
		Select: Select{
			PBestSamples: 1000,
		},
		LinUCB: LinUCB{
			DefaultAlpha:        1.0,
			DefaultLambda:       1.0,
			InverseRefreshEvery: 1000,
			MaintenanceInterval: 10 * time.Minute,
		},
		Influx: Influx{
			URL:    "http://localhost:8086",
			Org:    "aleutian",
			Bucket: "bandit-events",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates. An empty path skips the file.
//
// Environment overrides:
//
//	BANDIT_LISTEN_ADDR, BANDIT_DATA_DIR, BANDIT_LOG_LEVEL,
//	BANDIT_STOPPING_THRESHOLD, INFLUXDB_URL, INFLUXDB_TOKEN,
//	INFLUXDB_ORG, INFLUXDB_BUCKET
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BANDIT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BANDIT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BANDIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BANDIT_STOPPING_THRESHOLD"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Stopping.Threshold = parsed
		}
	}
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		cfg.Influx.URL = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		cfg.Influx.Token = v
	}
	if v := os.Getenv("INFLUXDB_ORG"); v != "" {
		cfg.Influx.Org = v
	}
	if v := os.Getenv("INFLUXDB_BUCKET"); v != "" {
		cfg.Influx.Bucket = v
	}
}

// Validate checks structural constraints on the configuration.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("invalid configuration: data_dir required unless in_memory is set")
	}
	return nil
}
