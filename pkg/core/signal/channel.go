// Package signal provides the low-latency control channel to the agent
// process: an ordered, reliable, bidirectional stream of protocol messages.
package signal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dialkit/dialkit/pkg/core/protocol"
)

// Channel is the controller's view of the signaling stream. Send is safe to
// call from any goroutine; Events delivers decoded inbound events in arrival
// order and is closed when the underlying stream ends.
type Channel interface {
	Send(msg protocol.ClientMessage) error
	Events() <-chan protocol.ServerEvent
	Close() error
}

// Config tunes the websocket transport.
type Config struct {
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageBytes  int64
}

// DefaultConfig returns transport defaults matching typical gateway limits.
func DefaultConfig() Config {
	return Config{
		PingInterval:     20 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		MaxMessageBytes:  256 * 1024,
	}
}

// WSChannel is a Channel over a websocket connection.
type WSChannel struct {
	cfg    Config
	logger *slog.Logger
	conn   *websocket.Conn

	outbound chan []byte
	events   chan protocol.ServerEvent
	done     chan struct{}
	closed   atomic.Bool

	writeErr  atomic.Value
	closeOnce sync.Once
}

// Dial connects to the agent endpoint and starts the reader/writer loops.
// Header may carry authorization; nil is fine.
func Dial(ctx context.Context, url string, header http.Header, cfg Config, logger *slog.Logger) (*WSChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial signaling channel: %w", err)
	}
	return NewWSChannel(conn, cfg, logger), nil
}

// NewWSChannel wraps an established websocket connection.
func NewWSChannel(conn *websocket.Conn, cfg Config, logger *slog.Logger) *WSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}

	ch := &WSChannel{
		cfg:      cfg,
		logger:   logger,
		conn:     conn,
		outbound: make(chan []byte, 64),
		events:   make(chan protocol.ServerEvent, 64),
		done:     make(chan struct{}),
	}
	go ch.writeLoop()
	go ch.readLoop()
	return ch
}

// Send encodes and queues an outbound message. It fails once the channel is
// closed or the writer has hit a transport error.
func (ch *WSChannel) Send(msg protocol.ClientMessage) error {
	if ch.closed.Load() {
		return fmt.Errorf("signaling channel closed")
	}
	if err, ok := ch.writeErr.Load().(error); ok && err != nil {
		return fmt.Errorf("signaling channel broken: %w", err)
	}
	data, err := protocol.EncodeClientMessage(msg)
	if err != nil {
		return err
	}
	select {
	case ch.outbound <- data:
		return nil
	case <-ch.done:
		return fmt.Errorf("signaling channel closed")
	}
}

// Events returns the inbound event stream. The channel is closed when the
// connection ends; the controller treats that as a connection error unless it
// initiated the close.
func (ch *WSChannel) Events() <-chan protocol.ServerEvent {
	return ch.events
}

// Close tears down the connection. Safe to call more than once.
func (ch *WSChannel) Close() error {
	ch.closeOnce.Do(func() {
		ch.closed.Store(true)
		close(ch.done)
		deadline := time.Now().Add(ch.cfg.WriteTimeout)
		_ = ch.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = ch.conn.Close()
	})
	return nil
}

func (ch *WSChannel) writeLoop() {
	pingTicker := time.NewTicker(ch.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ch.done:
			return
		case <-pingTicker.C:
			deadline := time.Now().Add(ch.cfg.WriteTimeout)
			if err := ch.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				ch.failWrite(err)
				return
			}
		case data := <-ch.outbound:
			if err := ch.conn.SetWriteDeadline(time.Now().Add(ch.cfg.WriteTimeout)); err != nil {
				ch.failWrite(err)
				return
			}
			if err := ch.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				ch.failWrite(err)
				return
			}
		}
	}
}

func (ch *WSChannel) failWrite(err error) {
	ch.writeErr.Store(err)
	if !ch.closed.Load() {
		ch.logger.Warn("signaling write failed", "error", err)
	}
	ch.Close()
}

func (ch *WSChannel) readLoop() {
	defer close(ch.events)
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if !ch.closed.Load() {
				ch.logger.Warn("signaling read failed", "error", err)
			}
			ch.Close()
			return
		}
		ev, err := protocol.DecodeServerEvent(data)
		if err != nil {
			// Malformed frames become error events rather than killing the
			// stream; the controller decides severity from the code.
			ev = protocol.ErrorEvent{Code: "decode_error", Message: err.Error()}
		}
		select {
		case ch.events <- ev:
		case <-ch.done:
			return
		}
	}
}
