package chat

import (
	"context"
	"log"

	"github.com/campus/chat-relay/internal/assistant"
	"github.com/campus/chat-relay/internal/metrics"
)

// Responder produces the assistant's replies.
type Responder interface {
	Name() string
	Reply(content string) assistant.Reply
}

// Dispatcher answers directives addressed to the assistant by posting its
// replies back into the room. Directives of any other type are ignored.
type Dispatcher struct {
	router    *Router
	responder Responder
}

// NewDispatcher creates a Dispatcher and installs it on router.
func NewDispatcher(router *Router, responder Responder) *Dispatcher {
	d := &Dispatcher{router: router, responder: responder}
	router.SetDirectiveHandler(d)
	return d
}

// Dispatch implements DirectiveHandler.
func (d *Dispatcher) Dispatch(ctx context.Context, sender, room string, dir Directive) {
	name := d.responder.Name()
	if dir.Type != name {
		return
	}

	reply := d.responder.Reply(dir.Content)
	metrics.AssistantReplies.WithLabelValues(string(reply.Branch)).Inc()
	log.Printf("[assistant] %q in %q -> %s (%d replies)", sender, room, reply.Branch, len(reply.Texts))

	for _, text := range reply.Texts {
		d.router.RouteAs(ctx, name, room, text, &Directive{Type: name, Content: text})
		metrics.MessagesTotal.WithLabelValues("assistant").Inc()
	}
}
