// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, uint8(1), cfg.Serial.Address)
	assert.Equal(t, 9600, cfg.Serial.Baudrate)
	assert.Equal(t, 8, cfg.Serial.Channels)
	assert.Equal(t, "localhost", cfg.MQTT.Host)
	assert.Equal(t, "sensors/r4dcb08", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 10*time.Second, cfg.Daemon.Interval)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.True(t, cfg.MQTT.Retain)
	assert.Equal(t, 60*time.Second, cfg.MQTT.Keepalive)
	assert.Equal(t, 6, cfg.Daemon.DiagnosticsEvery)
	assert.Equal(t, 5, cfg.Filter.MAFWindow)
	assert.Equal(t, 10, cfg.Daemon.ErrorBudget)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Serial, cfg.Serial)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeFile(t, "tempbus.yaml", `
serial:
  port: /dev/ttyAMA0
  insecure: true
  address: 12
  channels: 4
mqtt:
  host: broker.lan
  topic_prefix: home/boiler/
  retain: false
  tls:
    enabled: true
daemon:
  interval: 30s
  diagnostics_format: cbor
filter:
  median: true
  maf: true
  maf_window: 7
metrics:
  listen: ":9108"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	Normalize(cfg)

	assert.Equal(t, "/dev/ttyAMA0", cfg.Serial.Port)
	assert.Equal(t, uint8(12), cfg.Serial.Address)
	assert.True(t, cfg.Serial.Insecure)
	assert.Equal(t, 4, cfg.Serial.Channels)
	assert.Equal(t, 9600, cfg.Serial.Baudrate, "unset keys keep their default")
	assert.Equal(t, "broker.lan", cfg.MQTT.Host)
	assert.Equal(t, "home/boiler", cfg.MQTT.TopicPrefix)
	assert.False(t, cfg.MQTT.Retain)
	assert.Equal(t, 8883, cfg.MQTT.Port, "TLS picks the TLS port")
	assert.Equal(t, 30*time.Second, cfg.Daemon.Interval)
	assert.Equal(t, "cbor", cfg.Daemon.DiagnosticsFormat)
	assert.True(t, cfg.Filter.Median)
	assert.Equal(t, 7, cfg.Filter.MAFWindow)
	assert.Equal(t, ":9108", cfg.Metrics.Listen)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, cfg.Daemon.Interval)
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "serial:\n  speed: 9600\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNormalize_PlainPort(t *testing.T) {
	cfg := Default()
	Normalize(cfg)
	assert.Equal(t, 1883, cfg.MQTT.Port)

	cfg.MQTT.Port = 11883
	cfg.MQTT.TLS.Enabled = true
	Normalize(cfg)
	assert.Equal(t, 11883, cfg.MQTT.Port, "explicit port is kept")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no port or url", func(c *Config) { c.Serial.Port = "" }},
		{"address 0", func(c *Config) { c.Serial.Address = 0 }},
		{"address 255", func(c *Config) { c.Serial.Address = 255 }},
		{"channels 0", func(c *Config) { c.Serial.Channels = 0 }},
		{"channels 9", func(c *Config) { c.Serial.Channels = 9 }},
		{"baudrate", func(c *Config) { c.Serial.Baudrate = 9601 }},
		{"host", func(c *Config) { c.MQTT.Host = "" }},
		{"mqtt port", func(c *Config) { c.MQTT.Port = 70000 }},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }},
		{"topic wildcard", func(c *Config) { c.MQTT.TopicPrefix = "sensors/#" }},
		{"keepalive", func(c *Config) { c.MQTT.Keepalive = 0 }},
		{"cert without key", func(c *Config) { c.MQTT.TLS.CertFile = "client.pem" }},
		{"interval", func(c *Config) { c.Daemon.Interval = 500 * time.Millisecond }},
		{"diagnostics", func(c *Config) { c.Daemon.DiagnosticsEvery = -1 }},
		{"diagnostics format", func(c *Config) { c.Daemon.DiagnosticsFormat = "xml" }},
		{"error budget", func(c *Config) { c.Daemon.ErrorBudget = 0 }},
		{"maf even", func(c *Config) { c.Filter.MAF = true; c.Filter.MAFWindow = 4 }},
		{"maf large", func(c *Config) { c.Filter.MAF = true; c.Filter.MAFWindow = 17 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, Validate(cfg), ErrInvalid)
		})
	}
}

func TestValidate_URLInsteadOfPort(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = ""
	cfg.Serial.URL = "wss://bridge.lan/serial"
	assert.NoError(t, Validate(cfg))
}

func TestValidate_MAFWindowIgnoredWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Filter.MAFWindow = 2
	assert.NoError(t, Validate(cfg))
}

func TestResolvePassword(t *testing.T) {
	env := func(v string) func(string) string {
		return func(key string) string {
			if key == PasswordEnv {
				return v
			}
			return ""
		}
	}

	cfg := Default()
	cfg.MQTT.Password = "from-config"
	require.NoError(t, ResolvePassword(cfg, env("")))
	assert.Equal(t, "from-config", cfg.MQTT.Password)

	require.NoError(t, ResolvePassword(cfg, env("from-env")))
	assert.Equal(t, "from-env", cfg.MQTT.Password)

	cfg.MQTT.PasswordFile = writeFile(t, "pw", "from-file\n")
	require.NoError(t, ResolvePassword(cfg, env("from-env")))
	assert.Equal(t, "from-file", cfg.MQTT.Password)

	cfg.MQTT.PasswordFile = filepath.Join(t.TempDir(), "missing")
	assert.Error(t, ResolvePassword(cfg, env("")))
}
