// Package messaging provides a NATS client wrapper that mirrors room traffic
// onto a subject tree so out-of-process tools can observe it. The relay never
// consumes its own publications; room state stays in-process.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used by the relay.
const (
	SubjectRoom    = "relay.room"   // + .<room token>
	SubjectRoomAll = "relay.room.>" // wildcard for taps
)

// RoomEvent is the tap payload: one server event as delivered to a room.
type RoomEvent struct {
	Room   string          `json:"room"`
	Type   string          `json:"type"`
	Server string          `json:"server"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data"`
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	server string
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chat-relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn:   nc,
		server: config.Name,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// RoomSubject returns the subject a room's events are published on. Room
// names are free-form, so NATS token separators and wildcards are replaced.
func RoomSubject(room string) string {
	if room == "" {
		return SubjectRoom + "._"
	}
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, room)
	return SubjectRoom + "." + token
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishRoomEvent wraps an encoded server event and publishes it on the
// room's subject.
func (c *NATSClient) PublishRoomEvent(room, eventType string, data []byte) error {
	payload, err := json.Marshal(RoomEvent{
		Room:   room,
		Type:   eventType,
		Server: c.server,
		At:     time.Now(),
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("nats: encode room event: %w", err)
	}
	return c.Publish(RoomSubject(room), payload)
}

// SubscribeRoomEvents subscribes to every room's events. Payloads that fail
// to decode are logged and skipped.
func (c *NATSClient) SubscribeRoomEvents(handler func(RoomEvent)) error {
	return c.Subscribe(SubjectRoomAll, func(msg *nats.Msg) {
		var ev RoomEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad room event on %s: %v", msg.Subject, err)
			return
		}
		handler(ev)
	})
}

// UnsubscribeRoomEvents removes the subscription created by SubscribeRoomEvents.
func (c *NATSClient) UnsubscribeRoomEvents() error {
	return c.unsubscribe(SubjectRoomAll)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
