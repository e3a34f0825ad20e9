// Package chat routes chat lines to the members of the sender's room and
// hands directives found on them to the assistant dispatcher.
package chat

import (
	"context"
	"time"

	"github.com/campus/chat-relay/internal/broadcast"
	"github.com/campus/chat-relay/internal/metrics"
	"github.com/campus/chat-relay/internal/protocol"
	"github.com/campus/chat-relay/internal/session"
)

// DirectiveHandler is told about every directive on a message from a real
// client session.
type DirectiveHandler interface {
	Dispatch(ctx context.Context, sender, room string, d Directive)
}

// Router stamps and fans out chat lines. It never mutates room membership.
type Router struct {
	sessions *session.Registry
	out      *broadcast.Broadcaster
	handler  DirectiveHandler
	now      func() time.Time
}

// NewRouter creates a Router over the session registry.
func NewRouter(sessions *session.Registry, out *broadcast.Broadcaster) *Router {
	return &Router{
		sessions: sessions,
		out:      out,
		now:      time.Now,
	}
}

// SetDirectiveHandler installs the handler that receives client directives.
// It must be called before the router is used.
func (r *Router) SetDirectiveHandler(h DirectiveHandler) {
	r.handler = h
}

// SetClock replaces the wall clock used for message timestamps.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// Route broadcasts raw from connID to everyone in the sender's room,
// including the sender. A connection without a session is dropped silently.
// supplied, when non-nil, is used as the directive verbatim; otherwise raw is
// parsed for one. After the broadcast, a resolved directive goes to the
// handler.
func (r *Router) Route(ctx context.Context, connID, raw string, supplied *Directive) {
	start := time.Now()

	sess, ok := r.sessions.Get(connID)
	if !ok {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		return
	}

	d := supplied
	if d == nil {
		d = ParseDirective(raw)
	}

	r.broadcast(sess.Room, sess.Username, raw, d)
	metrics.MessagesTotal.WithLabelValues("broadcast").Inc()
	metrics.RouteLatency.Observe(time.Since(start).Seconds())

	if d != nil && r.handler != nil {
		r.handler.Dispatch(ctx, sess.Username, sess.Room, *d)
	}
}

// RouteAs broadcasts a message on behalf of a name that has no session,
// such as the assistant. It never reaches the directive handler, so
// synthesized messages cannot trigger further replies.
func (r *Router) RouteAs(_ context.Context, username, room, text string, d *Directive) int {
	return r.broadcast(room, username, text, d)
}

func (r *Router) broadcast(room, username, text string, d *Directive) int {
	recipients := r.sessions.InRoom(room)
	return r.out.Multicast(room, recipients, protocol.TypeNewMessage, protocol.NewMessageMsg{
		Username:  username,
		Message:   text,
		Timestamp: r.now().Format(protocol.TimestampLayout),
		Command:   d.command(),
	})
}
