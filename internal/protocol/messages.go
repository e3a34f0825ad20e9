// Package protocol defines the WebSocket message types and structures used for
// communication between chat clients and the relay. All messages are JSON and
// share an envelope with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin        = "join"
	TypeJoinRoom    = "join_room" // legacy alias of TypeJoin
	TypeSendMessage = "send_message"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypeNicknameTaken  = "nickname_taken"
	TypeJoinSuccess    = "join_success"
	TypeUserJoined     = "user_joined"
	TypeUserLeft       = "user_left"
	TypeNewMessage     = "new_message"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// TimestampLayout formats the timestamp field of presence and chat events.
const TimestampLayout = "15:04:05"

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// Command is the structured directive attached to a chat message, e.g.
// {"type":"川小农","content":"校训"}.
type Command struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinMsg asks to join Room under the display name Username.
type JoinMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

// SendMessageMsg is a chat line for the sender's room. Command is optional;
// when absent the relay sniffs the text for an "@name content" directive.
type SendMessageMsg struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Command *Command `json:"command,omitempty"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg acknowledges a new connection.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// NicknameTakenMsg is sent privately when the requested name is already used
// in the target room.
type NicknameTakenMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// JoinSuccessMsg is sent privately to a client that joined a room. The roster
// includes the client itself.
type JoinSuccessMsg struct {
	Type        string   `json:"type"`
	Room        string   `json:"room"`
	OnlineUsers []string `json:"online_users"`
	Username    string   `json:"username"`
}

// PresenceMsg is the payload of user_joined and user_left.
type PresenceMsg struct {
	Type        string   `json:"type"`
	Username    string   `json:"username"`
	Room        string   `json:"room"`
	OnlineUsers []string `json:"online_users"`
	Timestamp   string   `json:"timestamp"`
}

// NewMessageMsg is a chat line broadcast to every member of a room. Command
// is serialized as null when the line carried no directive.
type NewMessageMsg struct {
	Type      string   `json:"type"`
	Username  string   `json:"username"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
	Command   *Command `json:"command"`
}

// RateLimitedMsg is sent when the client is sending too fast.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. The legacy join_room type is reported as
// TypeJoin. An error is returned for unknown or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin, TypeJoinRoom:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		m.Type = TypeJoin
		msg = m
		env.Type = TypeJoin
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The payload is marshalled, msgType is injected under the "type" key, and
// the final bytes are returned.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
