// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

// Package config loads and validates application configuration using
// Koanf v2 with layered sources: built-in defaults, an optional YAML file,
// and AFFINITY_* environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	NATS       NATSConfig       `koanf:"nats"`
	Streams    StreamsConfig    `koanf:"streams"`
	Aggregator AggregatorConfig `koanf:"aggregator"`
	Analyzer   AnalyzerConfig   `koanf:"analyzer"`
	API        APIConfig        `koanf:"api"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the listen address.
	// Env: AFFINITY_SERVER_HOST (default: 0.0.0.0)
	Host string `koanf:"host"`

	// Port is the listen port.
	// Env: AFFINITY_SERVER_PORT (default: 8642)
	Port int `koanf:"port"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level: trace, debug, info, warn, error.
	Level string `koanf:"level"`
	// Format: json or console.
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// NATSConfig holds NATS JetStream connection settings.
type NATSConfig struct {
	// URL is the NATS server connection URL, ignored when Embedded is true.
	// Env: AFFINITY_NATS_URL (default: nats://127.0.0.1:4222)
	URL string `koanf:"url"`

	// Embedded runs an in-process NATS server with JetStream.
	// Env: AFFINITY_NATS_EMBEDDED (default: true)
	Embedded bool `koanf:"embedded"`

	// StoreDir is the JetStream storage directory for the embedded server.
	StoreDir string `koanf:"store_dir"`

	// MaxMemory / MaxStore bound embedded JetStream resources in bytes.
	MaxMemory int64 `koanf:"max_memory"`
	MaxStore  int64 `koanf:"max_store"`

	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// StreamsConfig names the two durable logs and their retention.
type StreamsConfig struct {
	// ActionStream is the JetStream stream holding user actions,
	// subjects action_subject_prefix.<userID>.
	ActionStream        string `koanf:"action_stream"`
	ActionSubjectPrefix string `koanf:"action_subject_prefix"`

	// SimilarityStream holds emitted pair similarities,
	// subjects similarity_subject_prefix.<a>-<b>.
	SimilarityStream        string `koanf:"similarity_stream"`
	SimilaritySubjectPrefix string `koanf:"similarity_subject_prefix"`

	RetentionDays   int           `koanf:"retention_days"`
	DuplicateWindow time.Duration `koanf:"duplicate_window"`
}

// AggregatorConfig tunes the similarity aggregator.
type AggregatorConfig struct {
	// Shards is the number of user-state shards. Users hash onto shards;
	// updates for one user always serialize on its shard.
	// Env: AFFINITY_AGGREGATOR_SHARDS (default: 32)
	Shards int `koanf:"shards"`

	// MaxUserItems caps the per-action pair fan-out. Items beyond the cap
	// still count into item weight sums but do not join pair updates.
	// Env: AFFINITY_AGGREGATOR_MAX_USER_ITEMS (default: 1000)
	MaxUserItems int `koanf:"max_user_items"`
}

// AnalyzerConfig tunes the projection store and query service.
type AnalyzerConfig struct {
	// StoreDir is the BadgerDB directory for projections.
	// Env: AFFINITY_ANALYZER_STORE_DIR (default: /data/affinity/store)
	StoreDir string `koanf:"store_dir"`

	// InMemory runs badger without disk persistence. Tests only.
	InMemory bool `koanf:"in_memory"`

	// DurableName prefixes the analyzer's durable JetStream consumers.
	DurableName string `koanf:"durable_name"`

	// Neighbors is k for the kNN score prediction.
	// Env: AFFINITY_ANALYZER_NEIGHBORS (default: 5)
	Neighbors int `koanf:"neighbors"`
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	// RateLimit is the sustained requests/second allowed per process,
	// 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`

	// MaxResultsLimit bounds maxResults in query requests.
	MaxResultsLimit int `koanf:"max_results_limit"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8642,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Embedded:      true,
			StoreDir:      "/data/affinity/jetstream",
			MaxMemory:     1 << 30,  // 1GB
			MaxStore:      10 << 30, // 10GB
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Streams: StreamsConfig{
			ActionStream:            "AFFINITY_ACTIONS",
			ActionSubjectPrefix:     "actions.user",
			SimilarityStream:        "AFFINITY_SIMILARITY",
			SimilaritySubjectPrefix: "similarity.pair",
			RetentionDays:           30,
			DuplicateWindow:         2 * time.Minute,
		},
		Aggregator: AggregatorConfig{
			Shards:       32,
			MaxUserItems: 1000,
		},
		Analyzer: AnalyzerConfig{
			StoreDir:    "/data/affinity/store",
			InMemory:    false,
			DurableName: "analyzer",
			Neighbors:   5,
		},
		API: APIConfig{
			RateLimit:       200,
			Burst:           50,
			MaxResultsLimit: 100,
		},
	}
}

// Validate checks configuration invariants. It is called by Load and may be
// called again after programmatic mutation.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Streams.ActionStream == "" {
		return fmt.Errorf("streams.action_stream must not be empty")
	}
	if c.Streams.SimilarityStream == "" {
		return fmt.Errorf("streams.similarity_stream must not be empty")
	}
	if c.Streams.ActionSubjectPrefix == "" || c.Streams.SimilaritySubjectPrefix == "" {
		return fmt.Errorf("stream subject prefixes must not be empty")
	}
	if c.Streams.RetentionDays < 1 {
		return fmt.Errorf("streams.retention_days must be >= 1, got %d", c.Streams.RetentionDays)
	}
	if c.Aggregator.Shards < 1 {
		return fmt.Errorf("aggregator.shards must be >= 1, got %d", c.Aggregator.Shards)
	}
	if c.Aggregator.MaxUserItems < 1 {
		return fmt.Errorf("aggregator.max_user_items must be >= 1, got %d", c.Aggregator.MaxUserItems)
	}
	if !c.Analyzer.InMemory && c.Analyzer.StoreDir == "" {
		return fmt.Errorf("analyzer.store_dir must not be empty")
	}
	if c.Analyzer.Neighbors < 1 {
		return fmt.Errorf("analyzer.neighbors must be >= 1, got %d", c.Analyzer.Neighbors)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative")
	}
	if c.API.MaxResultsLimit < 1 {
		return fmt.Errorf("api.max_results_limit must be >= 1, got %d", c.API.MaxResultsLimit)
	}
	return nil
}
