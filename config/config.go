// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads the mqlens configuration from YAML with defaults
// and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the history engine and its
// surrounding services.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Storage   StorageConfig   `yaml:"storage"`
	History   HistoryConfig   `yaml:"history"`
	Retention RetentionConfig `yaml:"retention"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// BrokerConfig holds the MQTT broker connection settings.
type BrokerConfig struct {
	// URL is the broker address, e.g. "tcp://localhost:1883".
	URL          string        `yaml:"url"`
	ClientID     string        `yaml:"client_id"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	KeepAlive    time.Duration `yaml:"keep_alive"`
	ConnectRetry time.Duration `yaml:"connect_retry"`

	// Subscriptions are the topic filters subscribed on connect.
	Subscriptions []string `yaml:"subscriptions"`
}

// StorageConfig selects and configures the message store backend.
type StorageConfig struct {
	Type      string `yaml:"type"` // "memory" or "badger"
	BadgerDir string `yaml:"badger_dir"`
}

// HistoryConfig holds history lifecycle policy.
type HistoryConfig struct {
	// ResetOnConnect also wipes the durable store on every new broker
	// connection. Off by default: history persists across reconnects
	// and only the topic tree represents current-session state.
	ResetOnConnect bool `yaml:"reset_on_connect"`
}

// RetentionConfig bounds history growth.
type RetentionConfig struct {
	MaxAge        time.Duration `yaml:"max_age"`
	MaxCount      int           `yaml:"max_count"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// ServerConfig holds the presentation-layer endpoints.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	HTTPEnabled     bool          `yaml:"http_enabled"`
	WSAddr          string        `yaml:"ws_addr"`
	WSPath          string        `yaml:"ws_path"`
	WSEnabled       bool          `yaml:"ws_enabled"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// OpenTelemetry configuration
	MetricsEnabled     bool   `yaml:"metrics_enabled"`
	MetricsAddr        string `yaml:"metrics_addr"` // OTLP endpoint
	OtelServiceName    string `yaml:"otel_service_name"`
	OtelServiceVersion string `yaml:"otel_service_version"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:          "tcp://localhost:1883",
			ClientID:     "mqlens",
			KeepAlive:    30 * time.Second,
			ConnectRetry: 5 * time.Second,
			Subscriptions: []string{
				"#",
			},
		},
		Storage: StorageConfig{
			Type:      "badger",
			BadgerDir: "/tmp/mqlens/data",
		},
		History: HistoryConfig{
			ResetOnConnect: false,
		},
		Retention: RetentionConfig{
			MaxAge:        0, // unbounded by default
			MaxCount:      100000,
			CheckInterval: 5 * time.Minute,
		},
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			HTTPEnabled:     true,
			WSAddr:          ":8083",
			WSPath:          "/events",
			WSEnabled:       true,
			ShutdownTimeout: 30 * time.Second,

			MetricsEnabled:     false,
			MetricsAddr:        "localhost:4317",
			OtelServiceName:    "mqlens",
			OtelServiceVersion: "0.1.0",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url cannot be empty")
	}
	if c.Broker.ClientID == "" {
		return fmt.Errorf("broker.client_id cannot be empty")
	}

	validStorage := map[string]bool{"memory": true, "badger": true}
	if !validStorage[c.Storage.Type] {
		return fmt.Errorf("storage.type must be one of: memory, badger")
	}
	if c.Storage.Type == "badger" && c.Storage.BadgerDir == "" {
		return fmt.Errorf("storage.badger_dir required when type is badger")
	}

	if c.Retention.MaxAge < 0 {
		return fmt.Errorf("retention.max_age cannot be negative")
	}
	if c.Retention.MaxCount < 0 {
		return fmt.Errorf("retention.max_count cannot be negative")
	}

	if c.Server.HTTPEnabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr required when HTTP is enabled")
	}
	if c.Server.WSEnabled && c.Server.WSAddr == "" {
		return fmt.Errorf("server.ws_addr required when WebSocket is enabled")
	}
	if c.Server.MetricsEnabled && c.Server.OtelServiceName == "" {
		return fmt.Errorf("server.otel_service_name cannot be empty when metrics enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
