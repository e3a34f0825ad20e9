// Package ws handles WebSocket connection management, including upgrading
// HTTP connections, maintaining active client connections, and dispatching
// incoming frames to the application.
package ws

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/campus/chat-relay/internal/metrics"
	"github.com/campus/chat-relay/internal/protocol"
)

// pollTimeoutMs bounds each poller wait so the event loop notices shutdown.
const pollTimeoutMs = 200

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for reading one frame once data is ready
	WriteTimeout   time.Duration // timeout for writing one frame
	OutboxSize     int           // queued outbound frames per connection
	MaxFrameBytes  int64         // larger client frames close the connection
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize: 64,
		MaxConnections: 10000,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		OutboxSize:     64,
		MaxFrameBytes:  64 << 10,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server upgrades HTTP requests to WebSocket connections built on gobwas/ws,
// registers them with a readiness poller (epoll on Linux), and hands ready
// connections to a bounded worker pool for frame reading.
type Server struct {
	config       ServerConfig
	poller       *Poller
	conns        *ConnectionManager
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onConnect    func(conn *Connection)              // called after a connection is registered
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onDisconnect func(connID string)                 // called when a connection is removed
	done         chan struct{}
	stopOnce     sync.Once
	startedAt    time.Time
}

// NewServer creates a Server. onMessage is called from a worker goroutine
// whenever a complete text frame is received from a client.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	if config.OutboxSize <= 0 {
		config.OutboxSize = 1
	}
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
		startedAt:  time.Now(),
	}
}

// SetOnConnect registers a callback invoked once a connection is registered
// and its session_created acknowledgement is queued.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (due to read error, heartbeat timeout, or close frame). The connection is
// already unreachable through SendMessage and IsConnected when it runs.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// Start creates the poller and launches the event loop and heartbeat. It
// returns immediately; HTTP serving is the caller's job (see HandleUpgrade).
func (s *Server) Start() error {
	p, err := NewPoller()
	if err != nil {
		return fmt.Errorf("ws: failed to create poller: %w", err)
	}
	s.poller = p
	s.startedAt = time.Now()

	go s.startEventLoop()
	StartHeartbeat(s, s.config.Heartbeat)

	log.Printf("ws: server started (workers=%d, max_conns=%d, outbox=%d)",
		s.config.WorkerPoolSize, s.config.MaxConnections, s.config.OutboxSize)
	return nil
}

// HandleUpgrade upgrades an HTTP request to a WebSocket connection using the
// gobwas/ws zero-copy upgrader and registers it.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c, err := s.register(conn, r.RemoteAddr)
	if err != nil {
		log.Printf("ws: register failed remote=%s: %v", r.RemoteAddr, err)
		conn.Close()
		return
	}

	log.Printf("ws: new connection id=%s remote=%s (total=%d)", c.ID, c.RemoteAddr, s.conns.Count())
}

// register wires a freshly upgraded conn into the poller and manager, starts
// its writer, and queues the session_created acknowledgement.
func (s *Server) register(conn net.Conn, remoteAddr string) (*Connection, error) {
	readable := conn
	if s.poller != nil {
		rc, err := s.poller.Add(conn)
		if err != nil {
			return nil, err
		}
		readable = rc
	}

	c := newConnection(uuid.New().String(), readable, s.config.OutboxSize, s.config.WriteTimeout)
	c.RemoteAddr = remoteAddr
	s.conns.Add(c)
	metrics.Connections.Inc()

	go c.writeLoop(func(c *Connection, err error) {
		log.Printf("ws: write failed id=%s: %v", c.ID, err)
		s.RemoveConnection(c)
	})

	ack, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID: c.ID,
	})
	if err != nil {
		log.Printf("ws: failed to build session_created id=%s: %v", c.ID, err)
	} else if err := c.Enqueue(ack); err != nil {
		log.Printf("ws: failed to queue session_created id=%s: %v", c.ID, err)
	}

	if s.onConnect != nil {
		s.onConnect(c)
	}
	return c, nil
}

// startEventLoop runs the poller wait loop. Each ready connection is read by
// a worker goroutine, bounded by the worker pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.poller.Wait(pollTimeoutMs)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			log.Printf("ws: poll wait error: %v", err)
			continue
		}

		for _, conn := range conns {
			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames are handled without blocking on a
// data frame that may never arrive. Read failures remove the connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
	defer netConn.SetReadDeadline(time.Time{})

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale readiness).
		// The heartbeat handles connections that are actually dead.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			s.resume(netConn)
			return
		}
		s.RemoveConnection(c)
		return
	}

	// Any frame proves the connection is alive.
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
			return
		}
		// Pong/ping: connection is alive, nothing else to do.
		s.resume(netConn)
		return
	}

	if s.config.MaxFrameBytes > 0 && header.Length > s.config.MaxFrameBytes {
		log.Printf("ws: frame too large id=%s len=%d", c.ID, header.Length)
		s.RemoveConnection(c)
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	s.resume(netConn)

	if len(data) == 0 {
		return
	}

	metrics.MessagesTotal.WithLabelValues("received").Inc()
	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

func (s *Server) resume(conn net.Conn) {
	if s.poller != nil {
		s.poller.Resume(conn)
	}
}

// RemoveConnection unregisters a connection, closes it, and notifies the
// disconnect callback. Concurrent or repeated calls for the same connection
// run the callback once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.poller != nil {
		if err := s.poller.Remove(c.Conn); err != nil {
			log.Printf("ws: poller remove id=%s: %v", c.ID, err)
		}
	}

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.Connections.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	log.Printf("ws: connection closed id=%s (total=%d)", c.ID, s.conns.Count())
}

// SendMessage queues a text frame for connID. It never blocks: a full outbox
// drops the frame and returns ErrOutboxFull.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connID)
	}
	return c.Enqueue(data)
}

// IsConnected reports whether connID is still registered.
func (s *Server) IsConnected(connID string) bool {
	return s.conns.Get(connID) != nil
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Shutdown stops the event loop and heartbeat, then removes every
// connection so disconnect callbacks run for each one.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	s.stopOnce.Do(func() { close(s.done) })

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	if s.poller != nil {
		_ = s.poller.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}
