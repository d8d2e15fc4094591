// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Broker.URL != "tcp://localhost:1883" {
		t.Errorf("expected default broker url tcp://localhost:1883, got %s", cfg.Broker.URL)
	}
	if cfg.Broker.ClientID != "mqlens" {
		t.Errorf("expected default client id mqlens, got %s", cfg.Broker.ClientID)
	}
	if len(cfg.Broker.Subscriptions) != 1 || cfg.Broker.Subscriptions[0] != "#" {
		t.Errorf("expected default subscription #, got %v", cfg.Broker.Subscriptions)
	}

	if cfg.Storage.Type != "badger" {
		t.Errorf("expected default storage badger, got %s", cfg.Storage.Type)
	}
	if cfg.History.ResetOnConnect {
		t.Error("expected reset_on_connect off by default")
	}

	if cfg.Retention.MaxCount != 100000 {
		t.Errorf("expected default max count 100000, got %d", cfg.Retention.MaxCount)
	}
	if cfg.Retention.CheckInterval != 5*time.Minute {
		t.Errorf("expected default check interval 5m, got %v", cfg.Retention.CheckInterval)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"empty broker url", func(c *Config) { c.Broker.URL = "" }, true},
		{"empty client id", func(c *Config) { c.Broker.ClientID = "" }, true},
		{"memory storage", func(c *Config) { c.Storage.Type = "memory" }, false},
		{"unknown storage", func(c *Config) { c.Storage.Type = "postgres" }, true},
		{"badger without dir", func(c *Config) { c.Storage.BadgerDir = "" }, true},
		{"negative max age", func(c *Config) { c.Retention.MaxAge = -time.Hour }, true},
		{"negative max count", func(c *Config) { c.Retention.MaxCount = -1 }, true},
		{"http enabled without addr", func(c *Config) { c.Server.HTTPAddr = "" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.URL != Default().Broker.URL {
		t.Errorf("expected defaults for missing file, got %s", cfg.Broker.URL)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
broker:
  url: tcp://broker.example.com:1883
  client_id: custom
storage:
  type: memory
retention:
  max_count: 500
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.URL != "tcp://broker.example.com:1883" {
		t.Errorf("broker url not overridden: %s", cfg.Broker.URL)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage type not overridden: %s", cfg.Storage.Type)
	}
	if cfg.Retention.MaxCount != 500 {
		t.Errorf("max count not overridden: %d", cfg.Retention.MaxCount)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("expected default http addr, got %s", cfg.Server.HTTPAddr)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: shout\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for bad log level")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Broker.ClientID = "saved"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Broker.ClientID != "saved" {
		t.Errorf("round trip lost client id: %s", got.Broker.ClientID)
	}
}
