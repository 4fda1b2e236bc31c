// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// ValidBaudrates are the line speeds the serial side accepts
var ValidBaudrates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return invalid("no configuration")
	}

	// serial
	if cfg.Serial.Port == "" && cfg.Serial.URL == "" {
		return invalid("serial.port or serial.url is required")
	}
	if cfg.Serial.Address < 1 || cfg.Serial.Address > 254 {
		return invalid("serial.address %d is not 1..254", cfg.Serial.Address)
	}
	if cfg.Serial.Channels < 1 || cfg.Serial.Channels > 8 {
		return invalid("serial.channels %d is not 1..8", cfg.Serial.Channels)
	}
	if !slices.Contains(ValidBaudrates, cfg.Serial.Baudrate) {
		return invalid("serial.baudrate %d is not supported", cfg.Serial.Baudrate)
	}

	// mqtt
	if cfg.MQTT.Host == "" {
		return invalid("mqtt.host is required")
	}
	if cfg.MQTT.Port < 0 || cfg.MQTT.Port > 65535 {
		return invalid("mqtt.port %d is out of range", cfg.MQTT.Port)
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return invalid("mqtt.qos %d is not 0..2", cfg.MQTT.QoS)
	}
	if cfg.MQTT.TopicPrefix == "" || strings.ContainsAny(cfg.MQTT.TopicPrefix, "+#") {
		return invalid("mqtt.topic_prefix %q must be non-empty and free of wildcards", cfg.MQTT.TopicPrefix)
	}
	if cfg.MQTT.Keepalive < time.Second {
		return invalid("mqtt.keepalive %v is shorter than 1s", cfg.MQTT.Keepalive)
	}
	if (cfg.MQTT.TLS.CertFile == "") != (cfg.MQTT.TLS.KeyFile == "") {
		return invalid("mqtt.tls.cert_file and mqtt.tls.key_file must be set together")
	}

	// daemon
	if cfg.Daemon.Interval < time.Second {
		return invalid("daemon.interval %v is shorter than 1s", cfg.Daemon.Interval)
	}
	if cfg.Daemon.DiagnosticsEvery < 0 {
		return invalid("daemon.diagnostics_every %d is negative", cfg.Daemon.DiagnosticsEvery)
	}
	switch cfg.Daemon.DiagnosticsFormat {
	case "json", "cbor":
	default:
		return invalid("daemon.diagnostics_format %q is not json or cbor", cfg.Daemon.DiagnosticsFormat)
	}
	if cfg.Daemon.ErrorBudget < 1 {
		return invalid("daemon.error_budget %d must be at least 1", cfg.Daemon.ErrorBudget)
	}

	// filter
	if cfg.Filter.MAF {
		w := cfg.Filter.MAFWindow
		if w < 3 || w > 15 || w%2 == 0 {
			return invalid("filter.maf_window %d must be odd and 3..15", w)
		}
	}

	return nil
}

// Normalize fills values derived from others. Call it after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = DefaultMQTTPort
		if cfg.MQTT.TLS.Enabled {
			cfg.MQTT.Port = DefaultMQTTPortTLS
		}
	}
	cfg.MQTT.TopicPrefix = strings.TrimRight(cfg.MQTT.TopicPrefix, "/")
}

// ResolvePassword picks the MQTT password. A password file wins over the
// environment, which wins over the value in the file.
func ResolvePassword(cfg *Config, getenv func(string) string) error {
	if cfg.MQTT.PasswordFile != "" {
		data, err := os.ReadFile(cfg.MQTT.PasswordFile)
		if err != nil {
			return fmt.Errorf("read password file: %w", err)
		}
		cfg.MQTT.Password = strings.TrimRight(string(data), "\r\n")
		return nil
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if pw := getenv(PasswordEnv); pw != "" {
		cfg.MQTT.Password = pw
	}
	return nil
}
