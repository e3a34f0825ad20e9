//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// Poller is the portable fallback for platforms without epoll. Each
// connection gets a goroutine that peeks for the next byte without consuming
// it, reports the connection ready, and then waits for Resume before peeking
// again, so it never reads concurrently with the frame reader.
type Poller struct {
	mu      sync.Mutex
	watches map[net.Conn]*watch
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

type watch struct {
	resume chan struct{}
	stop   chan struct{}
}

// peekConn routes reads through the buffer the watcher peeks into.
type peekConn struct {
	net.Conn
	br *bufio.Reader
}

func (c *peekConn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

// NewPoller creates a fallback poller.
func NewPoller() (*Poller, error) {
	return &Poller{
		watches: make(map[net.Conn]*watch),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts watching conn. The returned conn must be used for all reads.
func (p *Poller) Add(conn net.Conn) (net.Conn, error) {
	pc := &peekConn{Conn: conn, br: bufio.NewReader(conn)}
	w := &watch{
		resume: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}

	p.mu.Lock()
	p.watches[pc] = w
	p.mu.Unlock()

	go p.monitor(pc, w)
	return pc, nil
}

func (p *Poller) monitor(pc *peekConn, w *watch) {
	for {
		_, err := pc.br.Peek(1)

		select {
		case p.readyCh <- pc:
		case <-w.stop:
			return
		case <-p.done:
			return
		}
		if err != nil {
			// The reader will observe the same error and drop the connection.
			return
		}

		select {
		case <-w.resume:
		case <-w.stop:
			return
		case <-p.done:
			return
		}
	}
}

// Resume lets the watcher look for the next frame after the reader is done.
func (p *Poller) Resume(conn net.Conn) {
	p.mu.Lock()
	w, ok := p.watches[conn]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

// Remove stops watching conn. Removing an unknown conn is a no-op.
func (p *Poller) Remove(conn net.Conn) error {
	p.mu.Lock()
	w, ok := p.watches[conn]
	delete(p.watches, conn)
	p.mu.Unlock()
	if ok {
		close(w.stop)
	}
	return nil
}

// Wait blocks for up to timeoutMs until at least one connection is ready.
func (p *Poller) Wait(timeoutMs int) ([]net.Conn, error) {
	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timer.Stop()

	var first net.Conn
	select {
	case first = <-p.readyCh:
	case <-timer.C:
		return nil, nil
	case <-p.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-p.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close stops every watcher.
func (p *Poller) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.watches = make(map[net.Conn]*watch)
		p.mu.Unlock()
	})
	return nil
}
