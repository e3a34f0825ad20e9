package ws

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var (
	ErrConnectionNotFound = errors.New("ws: connection not found")
	ErrConnectionClosed   = errors.New("ws: connection closed")
	ErrOutboxFull         = errors.New("ws: outbox full")
)

// Connection represents a single WebSocket client connection. Outbound text
// frames go through a bounded outbox drained by one writer goroutine, so a
// slow peer only ever delays itself.
type Connection struct {
	ID         string    // connection ID (UUID)
	Conn       net.Conn  // connection frames are read from and written to
	RemoteAddr string    // client address as seen by the HTTP layer
	CreatedAt  time.Time // when the connection was established

	lastActive   atomic.Int64 // unix nanos of the last frame received
	outbox       chan []byte
	writeTimeout time.Duration
	writeMu      sync.Mutex // serializes frames from the writer and heartbeat
	done         chan struct{}
	closeOnce    sync.Once
	processing   int32 // atomic flag: 0 = idle, 1 = being read by handleConn
}

func newConnection(id string, conn net.Conn, outboxSize int, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:           id,
		Conn:         conn,
		CreatedAt:    time.Now(),
		outbox:       make(chan []byte, outboxSize),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	c.Touch()
	return c
}

// Enqueue queues a text frame without blocking. It fails with ErrOutboxFull
// when the peer is too slow to keep up and ErrConnectionClosed after Close.
func (c *Connection) Enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.outbox <- data:
		return nil
	default:
		return ErrOutboxFull
	}
}

// writeLoop drains the outbox until the connection is closed. onError is
// called once if a write fails.
func (c *Connection) writeLoop(onError func(*Connection, error)) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbox:
			if err := c.WriteMessage(data); err != nil {
				onError(c, err)
				return
			}
		}
	}
}

// WriteMessage writes a text frame immediately, bypassing the outbox. The
// write mutex ensures that concurrent goroutines do not interleave frame
// bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	err := wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	err := ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

func (c *Connection) setWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

// Touch records activity from the peer.
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns when the peer was last heard from.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Close stops the writer and closes the underlying network connection. It is
// safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.Conn.Close()
	})
	return err
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ConnectionManager is a thread-safe registry that maps connection IDs and
// network connections to their Connection objects.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection   // connection ID -> Connection
	byConn map[net.Conn]*Connection // net.Conn -> Connection, for poller lookups
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

// Add registers a new connection in both lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byConn[conn.Conn] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID and closes it. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byConn, conn.Conn)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection wrapping c, or nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	conn := cm.byConn[c]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
