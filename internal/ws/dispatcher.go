package ws

import (
	"log"

	"github.com/campus/chat-relay/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.JoinMsg, protocol.SendMessageMsg).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It answers ping itself and sends structured error
// responses for malformed or unsupported messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error id=%s: %v", conn.ID, err)
		SendError(conn, "parse_error", "invalid message format")
		return
	}

	// Built-in ping handler: respond immediately without requiring registration.
	if msgType == protocol.TypePing {
		conn.Touch()
		d.reply(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported message type=%q id=%s", msgType, conn.ID)
		SendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) reply(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("ws: failed to build %s id=%s: %v", msgType, conn.ID, err)
		return
	}
	if err := conn.Enqueue(data); err != nil {
		log.Printf("ws: failed to queue %s id=%s: %v", msgType, conn.ID, err)
	}
}

// SendError queues a structured error message for the client. Failures are
// logged but not propagated.
func SendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error message id=%s: %v", conn.ID, err)
		return
	}

	if err := conn.Enqueue(data); err != nil {
		log.Printf("ws: failed to queue error message id=%s: %v", conn.ID, err)
	}
}
