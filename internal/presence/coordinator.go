// Package presence owns the join and leave transitions of a connection:
// Unjoined -> Joined -> Left. It is the only code that mutates room
// membership, and it keeps the room and session registries consistent with
// each other.
package presence

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/campus/chat-relay/internal/broadcast"
	"github.com/campus/chat-relay/internal/metrics"
	"github.com/campus/chat-relay/internal/protocol"
	"github.com/campus/chat-relay/internal/room"
	"github.com/campus/chat-relay/internal/session"
)

// NicknameTakenMessage is the text of the nickname_taken notice.
const NicknameTakenMessage = "昵称已被使用，请选择其他昵称"

var (
	ErrAlreadyJoined  = errors.New("presence: connection already joined a room")
	ErrConnectionGone = errors.New("presence: connection is gone")
	ErrInvalidJoin    = errors.New("presence: username and room are required")
)

// Liveness reports whether a connection is still open. A connection that is
// no longer open is in the terminal Left state and can never join.
type Liveness interface {
	IsConnected(connID string) bool
}

// Mirror receives a best-effort copy of every session. session.Store
// satisfies it.
type Mirror interface {
	Save(ctx context.Context, sess session.Session) error
	Delete(ctx context.Context, connID string) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMirror mirrors joined sessions to m.
func WithMirror(m Mirror) Option {
	return func(c *Coordinator) { c.mirror = m }
}

// WithClock replaces the wall clock used for join times and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator serializes join and leave with one mutex. Events are only
// enqueued while it is held, never written to a socket.
type Coordinator struct {
	mu       sync.Mutex
	rooms    *room.Registry
	sessions *session.Registry
	out      *broadcast.Broadcaster
	live     Liveness
	mirror   Mirror
	now      func() time.Time
}

// New creates a Coordinator over the given registries.
func New(rooms *room.Registry, sessions *session.Registry, out *broadcast.Broadcaster, live Liveness, opts ...Option) *Coordinator {
	c := &Coordinator{
		rooms:    rooms,
		sessions: sessions,
		out:      out,
		live:     live,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join places connID in roomName under username.
//
// On a name conflict the requester alone gets nickname_taken and nothing
// changes; the connection may retry with another name. On success the
// requester gets join_success with the full roster before any other member
// sees user_joined.
func (c *Coordinator) Join(ctx context.Context, connID, username, roomName string) error {
	c.mu.Lock()
	sess, err := c.join(connID, username, roomName)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.mirrorSave(ctx, sess)
	return nil
}

func (c *Coordinator) join(connID, username, roomName string) (session.Session, error) {
	if !c.live.IsConnected(connID) {
		return session.Session{}, ErrConnectionGone
	}

	if _, joined := c.sessions.Get(connID); joined {
		metrics.JoinRejections.WithLabelValues("already_joined").Inc()
		c.sendError(connID, "already_joined", "already in a room; reconnect to join another")
		return session.Session{}, ErrAlreadyJoined
	}

	if strings.TrimSpace(username) == "" || strings.TrimSpace(roomName) == "" {
		metrics.JoinRejections.WithLabelValues("invalid").Inc()
		c.sendError(connID, "invalid_join", "username and room are required")
		return session.Session{}, ErrInvalidJoin
	}

	if err := c.rooms.AddMember(roomName, username); err != nil {
		if errors.Is(err, room.ErrNameTaken) {
			metrics.JoinRejections.WithLabelValues("name_taken").Inc()
			if sendErr := c.out.Unicast(connID, protocol.TypeNicknameTaken, protocol.NicknameTakenMsg{
				Message: NicknameTakenMessage,
			}); sendErr != nil {
				log.Printf("[presence] nickname_taken to %s: %v", connID, sendErr)
			}
		}
		return session.Session{}, err
	}

	now := c.now()
	sess := session.Session{
		ConnID:   connID,
		Username: username,
		Room:     roomName,
		JoinedAt: now,
	}
	c.sessions.Put(connID, sess)
	metrics.Sessions.Inc()

	members := c.rooms.ListMembers(roomName)
	if err := c.out.Unicast(connID, protocol.TypeJoinSuccess, protocol.JoinSuccessMsg{
		Room:        roomName,
		OnlineUsers: members,
		Username:    username,
	}); err != nil {
		log.Printf("[presence] join_success to %s: %v", connID, err)
	}

	others := lo.Without(c.sessions.InRoom(roomName), connID)
	c.out.Multicast(roomName, others, protocol.TypeUserJoined, protocol.PresenceMsg{
		Username:    username,
		Room:        roomName,
		OnlineUsers: members,
		Timestamp:   now.Format(protocol.TimestampLayout),
	})

	log.Printf("[presence] %s joined %q as %q (%d online)", connID, roomName, username, len(members))
	return sess, nil
}

// Leave removes connID's session, if any, and tells the remaining members.
// Calling it for a connection that never joined, or twice, is a no-op.
func (c *Coordinator) Leave(ctx context.Context, connID string) {
	c.mu.Lock()
	_, ok := c.leave(connID)
	c.mu.Unlock()
	if !ok {
		return
	}

	if c.mirror != nil {
		if err := c.mirror.Delete(ctx, connID); err != nil {
			log.Printf("[presence] mirror delete %s: %v", connID, err)
		}
	}
}

func (c *Coordinator) leave(connID string) (session.Session, bool) {
	sess, ok := c.sessions.Remove(connID)
	if !ok {
		return session.Session{}, false
	}
	metrics.Sessions.Dec()

	remaining := c.rooms.RemoveMember(sess.Room, sess.Username)
	recipients := c.sessions.InRoom(sess.Room)
	c.out.Multicast(sess.Room, recipients, protocol.TypeUserLeft, protocol.PresenceMsg{
		Username:    sess.Username,
		Room:        sess.Room,
		OnlineUsers: remaining,
		Timestamp:   c.now().Format(protocol.TimestampLayout),
	})

	log.Printf("[presence] %s left %q (%q, %d online)", connID, sess.Room, sess.Username, len(remaining))
	return sess, true
}

// Roster returns the room's current member list.
func (c *Coordinator) Roster(roomName string) []string {
	return c.rooms.ListMembers(roomName)
}

func (c *Coordinator) mirrorSave(ctx context.Context, sess session.Session) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.Save(ctx, sess); err != nil {
		log.Printf("[presence] mirror save %s: %v", sess.ConnID, err)
		return
	}
	// A leave that ran between join and Save has already deleted the key.
	if _, ok := c.sessions.Get(sess.ConnID); !ok {
		if err := c.mirror.Delete(ctx, sess.ConnID); err != nil {
			log.Printf("[presence] mirror delete %s: %v", sess.ConnID, err)
		}
	}
}

func (c *Coordinator) sendError(connID, code, message string) {
	if err := c.out.Unicast(connID, protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	}); err != nil {
		log.Printf("[presence] error %s to %s: %v", code, connID, err)
	}
}
