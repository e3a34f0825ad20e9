package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus/chat-relay/internal/assistant"
	"github.com/campus/chat-relay/internal/broadcast"
	"github.com/campus/chat-relay/internal/presence"
	"github.com/campus/chat-relay/internal/protocol"
	"github.com/campus/chat-relay/internal/room"
	"github.com/campus/chat-relay/internal/session"
)

type fakeTransport struct {
	mu     sync.Mutex
	open   map[string]bool
	frames map[string][]protocol.NewMessageMsg
	all    map[string][]string
}

func newFakeTransport(ids ...string) *fakeTransport {
	ft := &fakeTransport{
		open:   make(map[string]bool),
		frames: make(map[string][]protocol.NewMessageMsg),
		all:    make(map[string][]string),
	}
	for _, id := range ids {
		ft.open[id] = true
	}
	return ft
}

func (ft *fakeTransport) SendMessage(connID string, data []byte) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if !ft.open[connID] {
		return errors.New("connection not found")
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	ft.all[connID] = append(ft.all[connID], env.Type)
	if env.Type == protocol.TypeNewMessage {
		var m protocol.NewMessageMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		ft.frames[connID] = append(ft.frames[connID], m)
	}
	return nil
}

func (ft *fakeTransport) IsConnected(connID string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.open[connID]
}

func (ft *fakeTransport) messages(connID string) []protocol.NewMessageMsg {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([]protocol.NewMessageMsg, len(ft.frames[connID]))
	copy(out, ft.frames[connID])
	return out
}

type relay struct {
	ft     *fakeTransport
	coord  *presence.Coordinator
	router *Router
}

var testNow = time.Date(2025, time.March, 7, 8, 0, 1, 0, time.Local)

// newRelay wires the real registries, coordinator, router, dispatcher and
// rule engine over a fake transport.
func newRelay(t *testing.T, assistantName string, ids ...string) *relay {
	t.Helper()
	ft := newFakeTransport(ids...)
	sessions := session.NewRegistry()
	out := broadcast.New(ft, nil)
	coord := presence.New(room.NewRegistry(), sessions, out, ft)
	router := NewRouter(sessions, out)
	router.SetClock(func() time.Time { return testNow })

	engine := assistant.NewEngine(
		assistant.WithName(assistantName),
		assistant.WithChooser(func(int) int { return 0 }),
	)
	NewDispatcher(router, engine)
	return &relay{ft: ft, coord: coord, router: router}
}

func (r *relay) join(t *testing.T, connID, name, roomName string) {
	t.Helper()
	require.NoError(t, r.coord.Join(context.Background(), connID, name, roomName))
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestRoute_BroadcastsToRoomIncludingSender(t *testing.T) {
	r := newRelay(t, assistant.DefaultName, "A", "B", "C")
	r.join(t, "A", "alice", "lobby")
	r.join(t, "B", "bob", "lobby")
	r.join(t, "C", "carol", "garden")

	r.router.Route(context.Background(), "A", "hello", nil)

	for _, id := range []string{"A", "B"} {
		msgs := r.ft.messages(id)
		require.Len(t, msgs, 1, id)
		assert.Equal(t, "alice", msgs[0].Username)
		assert.Equal(t, "hello", msgs[0].Message)
		assert.Equal(t, "08:00:01", msgs[0].Timestamp)
		assert.Nil(t, msgs[0].Command)
	}
	assert.Empty(t, r.ft.messages("C"), "no cross-room leakage")
}

func TestRoute_UnknownConnectionDropped(t *testing.T) {
	r := newRelay(t, assistant.DefaultName, "A", "ghost")
	r.join(t, "A", "alice", "lobby")

	r.router.Route(context.Background(), "ghost", "boo", nil)
	r.router.Route(context.Background(), "never-existed", "boo", nil)

	assert.Empty(t, r.ft.messages("A"))
}

func TestRoute_AfterLeaveDropped(t *testing.T) {
	r := newRelay(t, assistant.DefaultName, "A", "B")
	r.join(t, "A", "alice", "lobby")
	r.join(t, "B", "bob", "lobby")

	r.coord.Leave(context.Background(), "B")
	r.router.Route(context.Background(), "B", "still here?", nil)

	assert.Empty(t, r.ft.messages("A"))
}

func TestRoute_ParsedDirectiveAttached(t *testing.T) {
	r := newRelay(t, "assistant", "A")
	r.join(t, "A", "alice", "lobby")

	r.router.Route(context.Background(), "A", "@someone hi there", nil)

	msgs := r.ft.messages("A")
	require.Len(t, msgs, 1, "directive for another name is inert")
	require.NotNil(t, msgs[0].Command)
	assert.Equal(t, "someone", msgs[0].Command.Type)
	assert.Equal(t, "hi there", msgs[0].Command.Content)
}

func TestRoute_MarkerWithoutSpaceIsPlainText(t *testing.T) {
	r := newRelay(t, "assistant", "A")
	r.join(t, "A", "alice", "lobby")

	r.router.Route(context.Background(), "A", "@assistant", nil)

	msgs := r.ft.messages("A")
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Command)
}

func TestRoute_SuppliedDirectiveWins(t *testing.T) {
	r := newRelay(t, "assistant", "A")
	r.join(t, "A", "alice", "lobby")

	r.router.Route(context.Background(), "A", "@other ignored", &Directive{Type: "assistant", Content: ""})

	msgs := r.ft.messages("A")
	require.Len(t, msgs, 3)
	assert.Equal(t, &protocol.Command{Type: "assistant", Content: ""}, msgs[0].Command)
	assert.Equal(t, "大家好，我是assistant，四川农业大学的AI小助手。", msgs[2].Message)
}

// ---------------------------------------------------------------------------
// Assistant dispatch
// ---------------------------------------------------------------------------

func TestAssistant_EndToEndMotto(t *testing.T) {
	r := newRelay(t, "assistant", "A", "B")
	r.join(t, "A", "alice", "lobby")
	r.join(t, "B", "bob", "lobby")

	r.router.Route(context.Background(), "A", "@assistant 四川农业大学校训", nil)

	for _, id := range []string{"A", "B"} {
		msgs := r.ft.messages(id)
		require.Len(t, msgs, 3, id)

		assert.Equal(t, "alice", msgs[0].Username)
		assert.Equal(t, &protocol.Command{Type: "assistant", Content: "四川农业大学校训"}, msgs[0].Command)

		assert.Equal(t, "assistant", msgs[1].Username)
		assert.Equal(t, "😊 小花知道了", msgs[1].Message)
		assert.Equal(t, &protocol.Command{Type: "assistant", Content: "😊 小花知道了"}, msgs[1].Command)

		assert.Equal(t, "assistant", msgs[2].Username)
		assert.Equal(t, "四川农业大学校训是：追求真理、造福社会、自强不息。", msgs[2].Message)
		assert.Equal(t, msgs[2].Message, msgs[2].Command.Content)
	}
}

func TestAssistant_PoemInDefaultName(t *testing.T) {
	r := newRelay(t, assistant.DefaultName, "A")
	r.join(t, "A", "alice", "lobby")

	r.router.Route(context.Background(), "A", "@川小农 帮我生成一首古诗", nil)

	msgs := r.ft.messages("A")
	require.Len(t, msgs, 3)
	assert.Equal(t, assistant.DefaultName, msgs[2].Username)
	assert.Contains(t, msgs[2].Message, "川农")
}

func TestAssistant_HostileSingleReply(t *testing.T) {
	r := newRelay(t, "assistant", "A")
	r.join(t, "A", "alice", "lobby")

	r.router.Route(context.Background(), "A", "@assistant 电子科大怎么样", nil)

	msgs := r.ft.messages("A")
	require.Len(t, msgs, 2)
	assert.Equal(t, "🗑️ 我只关心四川农业大学，其他学校关我什么事！🗑️", msgs[1].Message)
}

func TestAssistant_RepliesStayInRoom(t *testing.T) {
	r := newRelay(t, "assistant", "A", "C")
	r.join(t, "A", "alice", "lobby")
	r.join(t, "C", "carol", "garden")

	r.router.Route(context.Background(), "A", "@assistant hi", nil)

	assert.Len(t, r.ft.messages("A"), 3)
	assert.Empty(t, r.ft.messages("C"))
}

func TestRouteAs_NeverDispatches(t *testing.T) {
	r := newRelay(t, "assistant", "A")
	r.join(t, "A", "alice", "lobby")

	n := r.router.RouteAs(context.Background(), "assistant", "lobby", "@assistant loop?",
		&Directive{Type: "assistant", Content: "loop?"})

	assert.Equal(t, 1, n)
	assert.Len(t, r.ft.messages("A"), 1)
}

// countingResponder checks the dispatcher only fires for its own name.
type countingResponder struct {
	calls int
}

func (c *countingResponder) Name() string { return "bot" }

func (c *countingResponder) Reply(string) assistant.Reply {
	c.calls++
	return assistant.Reply{Branch: assistant.BranchDismiss, Texts: []string{"@bot again"}}
}

func TestDispatch_OnlyOwnType(t *testing.T) {
	ft := newFakeTransport("A")
	sessions := session.NewRegistry()
	out := broadcast.New(ft, nil)
	coord := presence.New(room.NewRegistry(), sessions, out, ft)
	router := NewRouter(sessions, out)
	resp := &countingResponder{}
	d := NewDispatcher(router, resp)
	require.NoError(t, coord.Join(context.Background(), "A", "alice", "lobby"))

	d.Dispatch(context.Background(), "alice", "lobby", Directive{Type: "other", Content: "x"})
	assert.Equal(t, 0, resp.calls)

	router.Route(context.Background(), "A", "@bot go", nil)
	assert.Equal(t, 1, resp.calls, "a reply that looks like a directive must not re-dispatch")
	assert.Len(t, ft.messages("A"), 2)
}

func TestRoute_ConcurrentWithLeave(t *testing.T) {
	r := newRelay(t, "assistant", "A", "B")
	r.join(t, "A", "alice", "lobby")
	r.join(t, "B", "bob", "lobby")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.router.Route(context.Background(), "B", "spam", nil)
		}
	}()
	go func() {
		defer wg.Done()
		r.coord.Leave(context.Background(), "B")
	}()
	wg.Wait()

	for _, m := range r.ft.messages("A") {
		assert.Equal(t, "bob", m.Username)
	}
}
