// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttsink

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tempbus/internal/config"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the sink uses
type fakeClient struct {
	mqtt.Client
	opts         *mqtt.ClientOptions
	connectErrs  []error
	publishErr   error
	published    []published
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	var err error
	if len(c.connectErrs) > 0 {
		err, c.connectErrs = c.connectErrs[0], c.connectErrs[1:]
	}
	return &fakeToken{err: err}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, published{topic: topic, qos: qos, retain: retained, payload: payload.([]byte)})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.disconnected = true
}

func testOptions() Options {
	return Options{
		Host:        "broker.lan",
		Port:        1883,
		ClientID:    "tempbus-test",
		Username:    "sensor",
		Password:    "secret",
		TopicPrefix: "sensors/r4dcb08",
		Address:     1,
		QoS:         1,
		Keepalive:   60 * time.Second,
	}
}

func newTestSink(t *testing.T, opts Options) (*Sink, *fakeClient) {
	t.Helper()
	fc := &fakeClient{}
	s, err := newSink(opts, slog.New(slog.NewTextHandler(io.Discard, nil)), func(o *mqtt.ClientOptions) mqtt.Client {
		fc.opts = o
		return fc
	})
	require.NoError(t, err)
	return s, fc
}

func TestNew_ClientOptions(t *testing.T) {
	_, fc := newTestSink(t, testOptions())

	require.Len(t, fc.opts.Servers, 1)
	assert.Equal(t, "tcp://broker.lan:1883", fc.opts.Servers[0].String())
	assert.Equal(t, "tempbus-test", fc.opts.ClientID)
	assert.Equal(t, "sensor", fc.opts.Username)
	assert.False(t, fc.opts.AutoReconnect)
	assert.True(t, fc.opts.WillEnabled)
	assert.Equal(t, "sensors/r4dcb08/1/status", fc.opts.WillTopic)
	assert.Equal(t, []byte("offline"), fc.opts.WillPayload)
	assert.True(t, fc.opts.WillRetained)
	assert.Equal(t, int64(60), fc.opts.KeepAlive)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", BrokerURL("localhost", 1883, false))
	assert.Equal(t, "ssl://localhost:8883", BrokerURL("localhost", 8883, true))
	assert.Equal(t, "tcp://[::1]:1883", BrokerURL("::1", 1883, false))
}

func TestSink_ConnectAndPublish(t *testing.T) {
	s, fc := newTestSink(t, testOptions())
	assert.False(t, s.IsConnected())

	assert.ErrorIs(t, s.Publish("status", []byte("online"), 1, true), ErrNotConnected)

	require.NoError(t, s.Connect())
	assert.True(t, s.IsConnected())

	require.NoError(t, s.Publish("temperature/ch1", []byte("21.5"), 1, true))
	require.Len(t, fc.published, 1)
	assert.Equal(t, "sensors/r4dcb08/1/temperature/ch1", fc.published[0].topic)
	assert.Equal(t, []byte("21.5"), fc.published[0].payload)
	assert.True(t, fc.published[0].retain)

	s.Close()
	assert.True(t, fc.disconnected)
	assert.False(t, s.IsConnected())
}

func TestSink_ConnectFailure(t *testing.T) {
	s, fc := newTestSink(t, testOptions())
	fc.connectErrs = []error{errors.New("connection refused")}

	assert.Error(t, s.Connect())
	assert.False(t, s.IsConnected())

	require.NoError(t, s.Reconnect())
	assert.True(t, s.IsConnected())
}

func TestSink_PublishError(t *testing.T) {
	s, fc := newTestSink(t, testOptions())
	require.NoError(t, s.Connect())
	fc.publishErr = errors.New("broker gone")

	assert.ErrorContains(t, s.Publish("timestamp", []byte("x"), 0, false), "broker gone")
}

func TestSink_ConnectionCallbacks(t *testing.T) {
	s, _ := newTestSink(t, testOptions())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.onConnect(nil)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = s.IsConnected()
		}
	}()
	wg.Wait()
	assert.True(t, s.IsConnected())

	done := make(chan struct{})
	go func() {
		s.onConnectionLost(nil, errors.New("EOF"))
		close(done)
	}()
	<-done
	assert.False(t, s.IsConnected())
}

func TestTLSConfig(t *testing.T) {
	tc, err := TLSConfig(config.TLSConfig{Enabled: true, Insecure: true})
	require.NoError(t, err)
	assert.True(t, tc.InsecureSkipVerify)
	assert.Nil(t, tc.RootCAs)

	dir := t.TempDir()
	bad := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))

	_, err = TLSConfig(config.TLSConfig{CAFile: bad})
	assert.Error(t, err)

	_, err = TLSConfig(config.TLSConfig{CAFile: filepath.Join(dir, "missing.pem")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = TLSConfig(config.TLSConfig{CertFile: bad, KeyFile: bad})
	assert.Error(t, err)
}

func TestNew_TLSScheme(t *testing.T) {
	opts := testOptions()
	opts.Port = 8883
	opts.TLS = config.TLSConfig{Enabled: true}

	_, fc := newTestSink(t, opts)
	assert.Equal(t, "ssl://broker.lan:8883", fc.opts.Servers[0].String())
	assert.NotNil(t, fc.opts.TLSConfig)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Serial.Address = 12
	config.Normalize(cfg)

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 1883, opts.Port)
	assert.Equal(t, byte(12), opts.Address)

	s, _ := newTestSink(t, opts)
	assert.Equal(t, "sensors/r4dcb08/12/timestamp", s.Topic("timestamp"))
}
