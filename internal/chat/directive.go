package chat

import (
	"strings"

	"github.com/campus/chat-relay/internal/protocol"
)

// DirectiveMarker opens an inline directive such as "@川小农 校训".
const DirectiveMarker = "@"

// Directive addresses a message to a named in-room agent.
type Directive struct {
	Type    string
	Content string
}

// ParseDirective extracts a directive from raw message text. The text must
// begin with the marker; everything up to the first space is the type and
// the rest is the content. Text with no space after the marker carries no
// directive and nil is returned.
func ParseDirective(raw string) *Directive {
	if !strings.HasPrefix(raw, DirectiveMarker) {
		return nil
	}
	head, content, ok := strings.Cut(raw, " ")
	if !ok {
		return nil
	}
	return &Directive{
		Type:    strings.TrimPrefix(head, DirectiveMarker),
		Content: content,
	}
}

// FromCommand converts the wire form. A nil command yields nil.
func FromCommand(cmd *protocol.Command) *Directive {
	if cmd == nil {
		return nil
	}
	return &Directive{Type: cmd.Type, Content: cmd.Content}
}

func (d *Directive) command() *protocol.Command {
	if d == nil {
		return nil
	}
	return &protocol.Command{Type: d.Type, Content: d.Content}
}
