//go:build linux

package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Poller wraps Linux epoll for read readiness on many connections. Instead of
// parking a goroutine per connection, sockets are registered with the kernel
// and returned by Wait only when data is ready.
type Poller struct {
	fd     int               // epoll file descriptor
	byFd   map[int]net.Conn  // fd -> conn, for Wait
	fdOf   map[net.Conn]int  // conn -> fd, so Remove works after Close
	mu     sync.RWMutex      // protects both maps
	events []unix.EpollEvent // reusable event buffer for Wait
}

// NewPoller creates a new epoll instance using epoll_create1.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ws: epoll_create1: %w", err)
	}
	return &Poller{
		fd:     fd,
		byFd:   make(map[int]net.Conn),
		fdOf:   make(map[net.Conn]int),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add registers conn for EPOLLIN/EPOLLHUP notifications. The returned conn
// is the one to read from; on Linux it is conn itself.
func (p *Poller) Add(conn net.Conn) (net.Conn, error) {
	fd := socketFD(conn)
	if fd < 0 {
		return nil, fmt.Errorf("ws: connection has no socket descriptor")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}); err != nil {
		return nil, fmt.Errorf("ws: epoll add fd=%d: %w", fd, err)
	}
	p.byFd[fd] = conn
	p.fdOf[conn] = fd
	return conn, nil
}

// Remove unregisters conn. It must run before the socket is closed so a
// reused descriptor is never deregistered by mistake; removing an unknown
// conn is a no-op.
func (p *Poller) Remove(conn net.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fd, ok := p.fdOf[conn]
	if !ok {
		return nil
	}
	delete(p.fdOf, conn)
	if p.byFd[fd] == conn {
		delete(p.byFd, fd)
	}

	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.EBADF) && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("ws: epoll del fd=%d: %w", fd, err)
	}
	return nil
}

// Resume is a no-op on Linux: epoll is level-triggered, so unread data is
// reported again by the next Wait.
func (p *Poller) Resume(net.Conn) {}

// Wait blocks for up to timeoutMs until registered connections are ready
// and returns them. An interrupted wait returns no connections and no error.
func (p *Poller) Wait(timeoutMs int) ([]net.Conn, error) {
	n, err := unix.EpollWait(p.fd, p.events, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("ws: epoll wait: %w", err)
	}

	p.mu.RLock()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := p.byFd[int(p.events[i].Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	p.mu.RUnlock()
	return conns, nil
}

// Close closes the epoll file descriptor.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byFd = make(map[int]net.Conn)
	p.fdOf = make(map[net.Conn]int)
	return unix.Close(p.fd)
}

// socketFD extracts the file descriptor from a net.Conn using the
// SyscallConn interface. This avoids duplicating the descriptor (which
// File() does), keeping the original fd valid for epoll registration.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	if err := raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	}); err != nil {
		return -1
	}
	return fd
}
