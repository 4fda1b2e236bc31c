// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config holds the daemon configuration file
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultSerialPort        = "/dev/ttyUSB0"
	DefaultAddress           = 1
	DefaultBaudrate          = 9600
	DefaultChannels          = 8
	DefaultMQTTHost          = "localhost"
	DefaultMQTTPort          = 1883
	DefaultMQTTPortTLS       = 8883
	DefaultTopicPrefix       = "sensors/r4dcb08"
	DefaultInterval          = 10 * time.Second
	DefaultQoS               = 1
	DefaultKeepalive         = 60 * time.Second
	DefaultDiagnosticsEvery  = 6
	DefaultDiagnosticsFormat = "json"
	DefaultMAFWindow         = 5
	DefaultErrorBudget       = 10

	// PasswordEnv overrides mqtt.password when set
	PasswordEnv = "MQTT_PASSWORD"
)

type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Filter  FilterConfig  `yaml:"filter"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// ---- SERIAL ----

type SerialConfig struct {
	Port     string `yaml:"port"`
	URL      string `yaml:"url"` // WebSocket serial bridge, replaces port when set
	Username string `yaml:"username"`
	Insecure bool   `yaml:"insecure"` // skip bridge certificate verification (wss only)
	Address  uint8  `yaml:"address"`
	Baudrate int    `yaml:"baudrate"`
	Channels int    `yaml:"channels"`
}

// ---- MQTT ----

type MQTTConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"` // 0 picks 1883, or 8883 with TLS
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	PasswordFile string        `yaml:"password_file"`
	TopicPrefix  string        `yaml:"topic_prefix"`
	ClientID     string        `yaml:"client_id"`
	QoS          int           `yaml:"qos"`
	Retain       bool          `yaml:"retain"`
	Keepalive    time.Duration `yaml:"keepalive"`
	TLS          TLSConfig     `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Insecure bool   `yaml:"insecure"` // skip certificate verification
}

// ---- DAEMON ----

type DaemonConfig struct {
	Interval          time.Duration `yaml:"interval"`
	DiagnosticsEvery  int           `yaml:"diagnostics_every"` // cycles, 0 disables
	DiagnosticsFormat string        `yaml:"diagnostics_format"`
	ErrorBudget       int           `yaml:"error_budget"`
}

// ---- FILTER ----

type FilterConfig struct {
	Median    bool `yaml:"median"`
	MAF       bool `yaml:"maf"`
	MAFWindow int  `yaml:"maf_window"`
}

// ---- METRICS / LOG ----

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     DefaultSerialPort,
			Address:  DefaultAddress,
			Baudrate: DefaultBaudrate,
			Channels: DefaultChannels,
		},
		MQTT: MQTTConfig{
			Host:        DefaultMQTTHost,
			TopicPrefix: DefaultTopicPrefix,
			ClientID:    fmt.Sprintf("tempbus-%d", os.Getpid()),
			QoS:         DefaultQoS,
			Retain:      true,
			Keepalive:   DefaultKeepalive,
		},
		Daemon: DaemonConfig{
			Interval:          DefaultInterval,
			DiagnosticsEvery:  DefaultDiagnosticsEvery,
			DiagnosticsFormat: DefaultDiagnosticsFormat,
			ErrorBudget:       DefaultErrorBudget,
		},
		Filter: FilterConfig{
			MAFWindow: DefaultMAFWindow,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
