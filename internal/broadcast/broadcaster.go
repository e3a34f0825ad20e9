// Package broadcast is the single fan-out path for server events. Presence
// and chat code hand it recipients and a payload; it encodes once, enqueues
// per recipient, and mirrors room-wide events to an optional tap.
package broadcast

import (
	"log"

	"github.com/campus/chat-relay/internal/metrics"
	"github.com/campus/chat-relay/internal/protocol"
)

// Sender delivers one encoded frame to one connection. Implementations must
// not block on a slow peer; a frame that cannot be queued is reported as an
// error and dropped.
type Sender interface {
	SendMessage(connID string, data []byte) error
}

// Tap receives a copy of every room-wide event. messaging.NATSClient
// satisfies it.
type Tap interface {
	PublishRoomEvent(room, eventType string, data []byte) error
}

// Broadcaster encodes server messages and fans them out through a Sender.
type Broadcaster struct {
	sender Sender
	tap    Tap
}

// New creates a Broadcaster. tap may be nil.
func New(sender Sender, tap Tap) *Broadcaster {
	return &Broadcaster{sender: sender, tap: tap}
}

// Unicast sends one message to a single connection.
func (b *Broadcaster) Unicast(connID, msgType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return err
	}
	if err := b.sender.SendMessage(connID, data); err != nil {
		metrics.FramesDropped.Inc()
		return err
	}
	return nil
}

// Multicast sends one message to every connection in recipients and returns
// how many accepted it. A failing recipient never affects the others. room is
// only used for the tap; pass "" to skip it.
func (b *Broadcaster) Multicast(room string, recipients []string, msgType string, payload interface{}) int {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[broadcast] encode %s: %v", msgType, err)
		return 0
	}

	delivered := 0
	for _, id := range recipients {
		if err := b.sender.SendMessage(id, data); err != nil {
			metrics.FramesDropped.Inc()
			continue
		}
		delivered++
	}

	if room != "" && b.tap != nil {
		if err := b.tap.PublishRoomEvent(room, msgType, data); err != nil {
			log.Printf("[broadcast] tap publish %s to %q: %v", msgType, room, err)
		}
	}
	return delivered
}
