// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqttsink publishes daemon messages to an MQTT broker
package mqttsink

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Thermoquad/tempbus/internal/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	publishTimeout        = 5 * time.Second
	disconnectQuiesce     = 250 // ms
)

// ErrNotConnected is returned by Publish while the broker is unreachable
var ErrNotConnected = errors.New("mqtt: not connected")

// Options configures the broker connection
type Options struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	// TopicPrefix and Address form the base topic: <prefix>/<address>
	TopicPrefix string
	Address     byte

	QoS            byte
	Keepalive      time.Duration
	ConnectTimeout time.Duration
	TLS            config.TLSConfig
}

// OptionsFromConfig derives sink options from a normalized configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Host:        cfg.MQTT.Host,
		Port:        cfg.MQTT.Port,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		Address:     cfg.Serial.Address,
		QoS:         byte(cfg.MQTT.QoS),
		Keepalive:   cfg.MQTT.Keepalive,
		TLS:         cfg.MQTT.TLS,
	}
}

// Sink is a daemon.Sink backed by a paho client. Automatic reconnects are
// off; the daemon decides when to reconnect.
type Sink struct {
	client    mqtt.Client
	base      string
	timeout   time.Duration
	logger    *slog.Logger
	connected atomic.Bool
}

// New creates a sink. It does not connect.
func New(opts Options, logger *slog.Logger) (*Sink, error) {
	return newSink(opts, logger, mqtt.NewClient)
}

func newSink(opts Options, logger *slog.Logger, newClient func(*mqtt.ClientOptions) mqtt.Client) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		base:    fmt.Sprintf("%s/%d", opts.TopicPrefix, opts.Address),
		timeout: opts.ConnectTimeout,
		logger:  logger,
	}
	if s.timeout <= 0 {
		s.timeout = defaultConnectTimeout
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(BrokerURL(opts.Host, opts.Port, opts.TLS.Enabled))
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetKeepAlive(opts.Keepalive)
	co.SetCleanSession(true)
	co.SetAutoReconnect(false)
	co.SetConnectRetry(false)
	co.SetConnectTimeout(s.timeout)
	co.SetWill(s.Topic("status"), "offline", opts.QoS, true)
	co.SetOnConnectHandler(s.onConnect)
	co.SetConnectionLostHandler(s.onConnectionLost)

	if opts.TLS.Enabled {
		tc, err := TLSConfig(opts.TLS)
		if err != nil {
			return nil, err
		}
		co.SetTLSConfig(tc)
	}

	s.client = newClient(co)
	return s, nil
}

// BrokerURL returns the paho broker URL for host and port
func BrokerURL(host string, port int, useTLS bool) string {
	scheme := "tcp"
	if useTLS {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// TLSConfig builds the client TLS configuration
func TLSConfig(o config.TLSConfig) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: o.Insecure, //nolint:gosec // opt-in for test brokers
	}
	if o.CAFile != "" {
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in CA file %s", o.CAFile)
		}
		tc.RootCAs = pool
	}
	if o.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// Topic returns the full topic for a topic relative to the base
func (s *Sink) Topic(rel string) string {
	return s.base + "/" + rel
}

// onConnect runs on a paho goroutine
func (s *Sink) onConnect(mqtt.Client) {
	s.connected.Store(true)
	s.logger.Info("connected to broker")
}

// onConnectionLost runs on a paho goroutine
func (s *Sink) onConnectionLost(_ mqtt.Client, err error) {
	s.connected.Store(false)
	s.logger.Warn("broker connection lost", "error", err)
}

// Connect connects to the broker and waits for the result
func (s *Sink) Connect() error {
	tok := s.client.Connect()
	if !tok.WaitTimeout(s.timeout) {
		return fmt.Errorf("mqtt: connect timed out after %v", s.timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}
	s.connected.Store(true)
	return nil
}

// Reconnect connects again after the connection was lost
func (s *Sink) Reconnect() error {
	return s.Connect()
}

// IsConnected reports the last connectivity seen by the callbacks
func (s *Sink) IsConnected() bool {
	return s.connected.Load()
}

// Publish sends payload to the topic relative to the base and waits for
// the broker to accept it.
func (s *Sink) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	full := s.Topic(topic)
	tok := s.client.Publish(full, qos, retain, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", full)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", full, err)
	}
	return nil
}

// Close disconnects from the broker
func (s *Sink) Close() {
	s.connected.Store(false)
	s.client.Disconnect(disconnectQuiesce)
}
