// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Duration is a time.Duration that unmarshals from YAML strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// DeliveryConfig overrides the pipeline's timeout and retry policy.
// Zero values keep the production defaults.
type DeliveryConfig struct {
	DirectTimeout Duration `yaml:"direct_timeout"`
	GroupTimeout  Duration `yaml:"group_timeout"`
	RetryDelay    Duration `yaml:"retry_delay"`
	MaxAttempts   int      `yaml:"max_attempts"`
}

type Config struct {
	// LogLevel is a zerolog level name (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// SnapshotPath is where the session store snapshot is persisted for
	// warm starts. Empty disables persistence.
	SnapshotPath string `yaml:"snapshot_path"`

	// SnapshotInterval is how often the snapshot is rewritten while the
	// daemon runs.
	SnapshotInterval Duration `yaml:"snapshot_interval"`

	// DeliveryLogPath is the SQLite delivery outcome log. Empty disables it.
	DeliveryLogPath string `yaml:"delivery_log_path"`

	MediaTempDir string `yaml:"media_temp_dir"`
	FFmpegPath   string `yaml:"ffmpeg_path"`

	Delivery DeliveryConfig `yaml:"delivery"`
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode((*umConfig)(c)); err != nil {
		return err
	}
	return c.PostProcess()
}

// PostProcess fills defaults after decoding.
func (c *Config) PostProcess() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = Duration(5 * time.Minute)
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	return nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
