// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/tempbus/pkg/rtu"
)

// PasswordEnv holds the WebSocket bridge password
const PasswordEnv = "TEMPBUS_PASSWORD"

// Connection is a Modbus transport that can be closed
type Connection interface {
	rtu.Transport
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port    serial.Port
	timeout time.Duration
}

// ReadTimeout reads whatever arrives within timeout. The serial driver
// returns 0, nil when the timeout expires.
func (s *SerialConnection) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if timeout != s.timeout {
		if err := s.port.SetReadTimeout(timeout); err != nil {
			return 0, err
		}
		s.timeout = timeout
	}
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// ResetInputBuffer discards bytes received but not yet read
func (s *SerialConnection) ResetInputBuffer() error {
	return s.port.ResetInputBuffer()
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection carries raw serial bytes over binary WebSocket
// messages. A reader goroutine feeds incoming messages to ReadTimeout.
type WebSocketConnection struct {
	conn *websocket.Conn
	msgs chan []byte
	done chan struct{}
	err  error // set before done is closed

	buf       []byte
	bufOffset int

	closeOnce sync.Once
	writeMu   sync.Mutex
}

func newWebSocketConnection(conn *websocket.Conn) *WebSocketConnection {
	w := &WebSocketConnection{
		conn: conn,
		msgs: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketConnection) readLoop() {
	defer close(w.done)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = err
			return
		}
		// Text frames are bridge chatter, not bus traffic
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		w.msgs <- data
	}
}

// ReadTimeout returns buffered bytes first, then waits up to timeout for the
// next binary message. It returns 0, nil when nothing arrived in time.
func (w *WebSocketConnection) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-w.msgs:
		w.buf = data
		n := copy(p, data)
		w.bufOffset = n
		return n, nil
	case <-w.done:
		// Drain messages that raced with the close
		select {
		case data := <-w.msgs:
			w.buf = data
			n := copy(p, data)
			w.bufOffset = n
			return n, nil
		default:
		}
		if w.err != nil {
			return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, w.err)
		}
		return 0, ErrConnectionClosed
	case <-timer.C:
		return 0, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ResetInputBuffer drops buffered and queued messages
func (w *WebSocketConnection) ResetInputBuffer() error {
	w.buf = nil
	w.bufOffset = 0
	for {
		select {
		case <-w.msgs:
		default:
			return nil
		}
	}
}

func (w *WebSocketConnection) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.conn.Close()
		// Unblock a reader stuck on a full channel
		go func() {
			for {
				select {
				case <-w.msgs:
				case <-w.done:
					return
				}
			}
		}()
	})
	return err
}

// OpenSerialConnection opens a serial port at 8N1
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketConnection(conn), nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// Dial opens a serial port, or the WebSocket bridge when bridgeURL is set
func Dial(port string, baud int, bridgeURL, username, password string, skipSSLVerify bool) (Connection, string, error) {
	if bridgeURL != "" {
		conn, err := OpenWebSocketConnection(bridgeURL, username, password, skipSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", bridgeURL), nil
	}

	if port != "" {
		conn, err := OpenSerialConnection(port, baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", port, baud), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// bridgePassword prompts for the WebSocket password when a username is set
func bridgePassword(bridgeURL, username string) (string, error) {
	if bridgeURL == "" || username == "" {
		return "", nil
	}
	return GetPassword()
}

// OpenConnection opens either a serial or WebSocket connection based on flags
func OpenConnection() (Connection, string, error) {
	password, err := bridgePassword(wsURL, wsUsername)
	if err != nil {
		return nil, "", err
	}
	return Dial(portName, baudRate, wsURL, wsUsername, password, wsNoSSLVerify)
}
