// Package client provides a reusable WebSocket load test client for the chat
// relay. It connects using gobwas/ws (the same library the server uses),
// answers session_created with a join when a nickname and room are set, and
// tracks per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/campus/chat-relay/internal/protocol"
)

// bufferedConn reads through the reader the handshake left data in.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration // dial + upgrade
	JoinLatency      time.Duration // dial until join_success
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client represents a single simulated user connection to the relay. It
// dispatches incoming messages to registered handlers from one read
// goroutine.
type Client struct {
	conn      net.Conn
	username  string
	room      string
	start     time.Time
	sessionID string
	joined    chan struct{}
	joinOnce  sync.Once

	writeMu  sync.Mutex
	mu       sync.Mutex // protects metrics, handlers, sessionID
	metrics  Metrics
	handlers map[string]func(json.RawMessage)

	done      chan struct{}
	closeOnce sync.Once
}

// New dials url and starts reading. When username and room are both set the
// client joins as soon as the server acknowledges the session.
func New(ctx context.Context, url, username, room string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if br != nil {
		// Frames sent right after the handshake may already be buffered.
		conn = &bufferedConn{Conn: conn, r: br}
	}

	c := &Client{
		conn:     conn,
		username: username,
		room:     room,
		start:    start,
		joined:   make(chan struct{}),
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// SendText sends a send_message frame.
func (c *Client) SendText(text string) error {
	return c.Send(protocol.SendMessageMsg{Type: protocol.TypeSendMessage, Message: text})
}

// On registers a handler for a server message type. Handlers run on the read
// goroutine; registering a second handler for a type replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitForJoin blocks until join_success arrives, the connection closes, or
// ctx is done.
func (c *Client) WaitForJoin(ctx context.Context) error {
	select {
	case <-c.joined:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed before join completed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// SessionID returns the ID assigned by session_created, or "" before it.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Username returns the nickname this client joins with.
func (c *Client) Username() string {
	return c.username
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Closed on purpose; not an error.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		var envelope protocol.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()

		switch envelope.Type {
		case protocol.TypeSessionCreated:
			c.onSessionCreated(data)
		case protocol.TypeJoinSuccess:
			c.joinOnce.Do(func() {
				c.mu.Lock()
				c.metrics.JoinLatency = time.Since(c.start)
				c.mu.Unlock()
				close(c.joined)
			})
		}

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

func (c *Client) onSessionCreated(data []byte) {
	var msg protocol.SessionCreatedMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	c.mu.Lock()
	c.sessionID = msg.SessionID
	c.mu.Unlock()

	if c.username == "" || c.room == "" {
		return
	}
	_ = c.Send(protocol.JoinMsg{
		Type:     protocol.TypeJoin,
		Username: c.username,
		Room:     c.room,
	})
}
