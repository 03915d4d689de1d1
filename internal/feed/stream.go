package feed

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection watchdog parameters. The application-level ping runs at one
// third of the watchdog timeout so a half-open connection misses several
// pings before the read deadline declares it dead.
const (
	watchdogTimeout  = 15 * time.Second
	pingInterval     = watchdogTimeout / 3
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second

	// Reconnect is a simple randomized retry: base delay plus uniform
	// jitter, no exponential growth.
	reconnectBase   = 1 * time.Second
	reconnectJitter = 1 * time.Second
)

// stream describes one websocket connection in protocol-agnostic terms.
// Adapters differ only in subscribe payload, keepalive shape and message
// parsing.
type stream struct {
	name      string
	url       string
	subscribe func(c *wsConn) error
	handle    func(data []byte)
	// ping overrides the keepalive; nil sends a websocket ping frame.
	// Some venues (OKX) expect a literal text "ping" instead.
	ping func(c *wsConn) error
}

// wsConn wraps a websocket connection with a write mutex, since the ping
// loop and subscribe writes race otherwise.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// runStream keeps one stream alive until ctx is cancelled. Each connection
// attempt that fails or drops is followed by a jittered reconnect delay.
func runStream(ctx context.Context, s stream, logger *log.Logger) error {
	for {
		err := runOnce(ctx, s, logger)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := reconnectBase + time.Duration(rand.Int63n(int64(reconnectJitter)))
		logger.Printf("[%s] connection lost, reconnecting in %v: %v", s.name, delay.Round(time.Millisecond), err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce dials, subscribes and reads until the connection dies.
func runOnce(ctx context.Context, s stream, logger *log.Logger) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	raw, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	c := &wsConn{conn: raw}
	defer raw.Close()

	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(watchdogTimeout))
	})

	if s.subscribe != nil {
		if err := s.subscribe(c); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	logger.Printf("[%s] connected and subscribed", s.name)

	// Close the connection when ctx is cancelled so the blocked read
	// returns promptly.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			raw.Close()
		case <-done:
		}
	}()

	// Keepalive loop.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				var err error
				if s.ping != nil {
					err = s.ping(c)
				} else {
					err = c.writeMessage(websocket.PingMessage, nil)
				}
				if err != nil {
					// Connection is likely dead; the read loop will
					// notice via its deadline.
					return
				}
			}
		}
	}()

	for {
		raw.SetReadDeadline(time.Now().Add(watchdogTimeout))
		_, message, err := raw.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.handle(message)
	}
}
