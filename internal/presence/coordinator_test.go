package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus/chat-relay/internal/broadcast"
	"github.com/campus/chat-relay/internal/protocol"
	"github.com/campus/chat-relay/internal/room"
	"github.com/campus/chat-relay/internal/session"
)

// fakeTransport records frames per connection and tracks which connections
// are open.
type fakeTransport struct {
	mu     sync.Mutex
	open   map[string]bool
	frames map[string][]map[string]interface{}
}

func newFakeTransport(ids ...string) *fakeTransport {
	ft := &fakeTransport{
		open:   make(map[string]bool),
		frames: make(map[string][]map[string]interface{}),
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
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	ft.frames[connID] = append(ft.frames[connID], m)
	return nil
}

func (ft *fakeTransport) IsConnected(connID string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.open[connID]
}

func (ft *fakeTransport) close(connID string) {
	ft.mu.Lock()
	delete(ft.open, connID)
	ft.mu.Unlock()
}

func (ft *fakeTransport) received(connID string) []map[string]interface{} {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([]map[string]interface{}, len(ft.frames[connID]))
	copy(out, ft.frames[connID])
	return out
}

func (ft *fakeTransport) types(connID string) []string {
	var out []string
	for _, f := range ft.received(connID) {
		out = append(out, f["type"].(string))
	}
	return out
}

func users(t *testing.T, frame map[string]interface{}) []string {
	t.Helper()
	raw, ok := frame["online_users"].([]interface{})
	require.True(t, ok, "online_users missing in %v", frame)
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i] = v.(string)
	}
	return out
}

type fakeMirror struct {
	mu      sync.Mutex
	saved   map[string]session.Session
	deletes int
}

func (m *fakeMirror) Save(_ context.Context, sess session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[sess.ConnID] = sess
	return nil
}

func (m *fakeMirror) Delete(_ context.Context, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, connID)
	m.deletes++
	return nil
}

type fixture struct {
	ft       *fakeTransport
	rooms    *room.Registry
	sessions *session.Registry
	coord    *Coordinator
}

var testNow = time.Date(2025, time.March, 7, 14, 5, 9, 0, time.Local)

func newFixture(ids ...string) *fixture {
	ft := newFakeTransport(ids...)
	rooms := room.NewRegistry()
	sessions := session.NewRegistry()
	coord := New(rooms, sessions, broadcast.New(ft, nil), ft,
		WithClock(func() time.Time { return testNow }))
	return &fixture{ft: ft, rooms: rooms, sessions: sessions, coord: coord}
}

// ---------------------------------------------------------------------------
// Join
// ---------------------------------------------------------------------------

func TestJoin_EndToEndScenario(t *testing.T) {
	f := newFixture("A", "B")
	ctx := context.Background()

	// A joins lobby as alice.
	require.NoError(t, f.coord.Join(ctx, "A", "alice", "lobby"))
	aFrames := f.ft.received("A")
	require.Len(t, aFrames, 1)
	assert.Equal(t, protocol.TypeJoinSuccess, aFrames[0]["type"])
	assert.Equal(t, []string{"alice"}, users(t, aFrames[0]))
	assert.Equal(t, "alice", aFrames[0]["username"])
	assert.Equal(t, "lobby", aFrames[0]["room"])

	// B tries alice too.
	err := f.coord.Join(ctx, "B", "alice", "lobby")
	require.Error(t, err)
	assert.True(t, errors.Is(err, room.ErrNameTaken))
	bFrames := f.ft.received("B")
	require.Len(t, bFrames, 1)
	assert.Equal(t, protocol.TypeNicknameTaken, bFrames[0]["type"])
	assert.Equal(t, NicknameTakenMessage, bFrames[0]["message"])
	assert.Equal(t, []string{"alice"}, f.rooms.ListMembers("lobby"))
	assert.Len(t, f.ft.received("A"), 1, "rejected join must not notify others")

	// B retries as bob.
	require.NoError(t, f.coord.Join(ctx, "B", "bob", "lobby"))
	bFrames = f.ft.received("B")
	require.Len(t, bFrames, 2)
	assert.Equal(t, protocol.TypeJoinSuccess, bFrames[1]["type"])
	assert.Equal(t, []string{"alice", "bob"}, users(t, bFrames[1]))

	aFrames = f.ft.received("A")
	require.Len(t, aFrames, 2)
	assert.Equal(t, protocol.TypeUserJoined, aFrames[1]["type"])
	assert.Equal(t, "bob", aFrames[1]["username"])
	assert.Equal(t, []string{"alice", "bob"}, users(t, aFrames[1]))
	assert.Equal(t, "14:05:09", aFrames[1]["timestamp"])
}

func TestJoin_RequesterDoesNotGetOwnUserJoined(t *testing.T) {
	f := newFixture("A", "B")
	ctx := context.Background()

	require.NoError(t, f.coord.Join(ctx, "A", "alice", "lobby"))
	require.NoError(t, f.coord.Join(ctx, "B", "bob", "lobby"))

	assert.Equal(t, []string{protocol.TypeJoinSuccess}, f.ft.types("B"))
}

func TestJoin_RecordsSession(t *testing.T) {
	f := newFixture("A")
	require.NoError(t, f.coord.Join(context.Background(), "A", "alice", "lobby"))

	sess, ok := f.sessions.Get("A")
	require.True(t, ok)
	assert.Equal(t, session.Session{
		ConnID:   "A",
		Username: "alice",
		Room:     "lobby",
		JoinedAt: testNow,
	}, sess)
}

func TestJoin_AlreadyJoined(t *testing.T) {
	f := newFixture("A")
	ctx := context.Background()
	require.NoError(t, f.coord.Join(ctx, "A", "alice", "lobby"))

	err := f.coord.Join(ctx, "A", "alice2", "garden")
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	frames := f.ft.received("A")
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.TypeError, frames[1]["type"])
	assert.Equal(t, "already_joined", frames[1]["code"])
	assert.Equal(t, []string{"alice"}, f.rooms.ListMembers("lobby"))
	assert.Empty(t, f.rooms.ListMembers("garden"))
}

func TestJoin_ClosedConnectionIsNoOp(t *testing.T) {
	f := newFixture("A")
	f.ft.close("A")

	err := f.coord.Join(context.Background(), "A", "alice", "lobby")
	assert.ErrorIs(t, err, ErrConnectionGone)
	assert.Empty(t, f.rooms.ListMembers("lobby"))
	assert.Equal(t, 0, f.sessions.Count())
}

func TestJoin_Invalid(t *testing.T) {
	f := newFixture("A")
	ctx := context.Background()

	assert.ErrorIs(t, f.coord.Join(ctx, "A", "  ", "lobby"), ErrInvalidJoin)
	assert.ErrorIs(t, f.coord.Join(ctx, "A", "alice", ""), ErrInvalidJoin)
	assert.Equal(t, []string{protocol.TypeError, protocol.TypeError}, f.ft.types("A"))

	// Still Unjoined, so a valid join succeeds.
	require.NoError(t, f.coord.Join(ctx, "A", "alice", "lobby"))
}

func TestJoin_SameNameOtherRoom(t *testing.T) {
	f := newFixture("A", "B")
	ctx := context.Background()

	require.NoError(t, f.coord.Join(ctx, "A", "alice", "lobby"))
	require.NoError(t, f.coord.Join(ctx, "B", "alice", "garden"))

	// Rooms are isolated: A hears nothing about garden.
	assert.Equal(t, []string{protocol.TypeJoinSuccess}, f.ft.types("A"))
}

// ---------------------------------------------------------------------------
// Leave
// ---------------------------------------------------------------------------

func TestLeave_BroadcastsToRemaining(t *testing.T) {
	f := newFixture("A", "B", "C")
	ctx := context.Background()
	require.NoError(t, f.coord.Join(ctx, "A", "alice", "lobby"))
	require.NoError(t, f.coord.Join(ctx, "B", "bob", "lobby"))
	require.NoError(t, f.coord.Join(ctx, "C", "carol", "lobby"))

	f.ft.close("B")
	f.coord.Leave(ctx, "B")

	assert.Equal(t, []string{"alice", "carol"}, f.rooms.ListMembers("lobby"))
	_, ok := f.sessions.Get("B")
	assert.False(t, ok)

	for _, id := range []string{"A", "C"} {
		frames := f.ft.received(id)
		last := frames[len(frames)-1]
		assert.Equal(t, protocol.TypeUserLeft, last["type"], id)
		assert.Equal(t, "bob", last["username"], id)
		assert.Equal(t, []string{"alice", "carol"}, users(t, last), id)
		assert.Equal(t, "14:05:09", last["timestamp"], id)
	}
}

func TestLeave_UnknownAndRepeatedAreNoOps(t *testing.T) {
	f := newFixture("A", "B")
	ctx := context.Background()
	require.NoError(t, f.coord.Join(ctx, "A", "alice", "lobby"))
	require.NoError(t, f.coord.Join(ctx, "B", "bob", "lobby"))

	f.coord.Leave(ctx, "nobody")
	assert.Equal(t, []string{"alice", "bob"}, f.rooms.ListMembers("lobby"))

	f.coord.Leave(ctx, "B")
	before := len(f.ft.received("A"))
	f.coord.Leave(ctx, "B")
	assert.Len(t, f.ft.received("A"), before, "second leave must not broadcast")
	assert.Equal(t, []string{"alice"}, f.rooms.ListMembers("lobby"))
}

func TestLeave_FreesName(t *testing.T) {
	f := newFixture("A", "A2")
	ctx := context.Background()
	require.NoError(t, f.coord.Join(ctx, "A", "alice", "lobby"))

	f.ft.close("A")
	f.coord.Leave(ctx, "A")

	require.NoError(t, f.coord.Join(ctx, "A2", "alice", "lobby"))
	assert.Equal(t, []string{"alice"}, f.coord.Roster("lobby"))
}

func TestLeave_LastMemberKeepsEmptyRoom(t *testing.T) {
	f := newFixture("A")
	ctx := context.Background()
	require.NoError(t, f.coord.Join(ctx, "A", "alice", "lobby"))

	f.coord.Leave(ctx, "A")
	assert.Equal(t, []string{"lobby"}, f.rooms.Rooms())
	assert.Empty(t, f.rooms.ListMembers("lobby"))
}

// ---------------------------------------------------------------------------
// Mirror
// ---------------------------------------------------------------------------

func TestMirror_SaveAndDelete(t *testing.T) {
	ft := newFakeTransport("A")
	mirror := &fakeMirror{saved: make(map[string]session.Session)}
	coord := New(room.NewRegistry(), session.NewRegistry(), broadcast.New(ft, nil), ft, WithMirror(mirror))
	ctx := context.Background()

	require.NoError(t, coord.Join(ctx, "A", "alice", "lobby"))
	require.Contains(t, mirror.saved, "A")
	assert.Equal(t, "alice", mirror.saved["A"].Username)

	coord.Leave(ctx, "A")
	assert.NotContains(t, mirror.saved, "A")
	assert.Equal(t, 1, mirror.deletes)
}

func TestMirror_NotWrittenOnRejectedJoin(t *testing.T) {
	ft := newFakeTransport("A", "B")
	mirror := &fakeMirror{saved: make(map[string]session.Session)}
	coord := New(room.NewRegistry(), session.NewRegistry(), broadcast.New(ft, nil), ft, WithMirror(mirror))
	ctx := context.Background()

	require.NoError(t, coord.Join(ctx, "A", "alice", "lobby"))
	require.Error(t, coord.Join(ctx, "B", "alice", "lobby"))

	assert.Len(t, mirror.saved, 1)
	coord.Leave(ctx, "B")
	assert.Equal(t, 0, mirror.deletes)
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestJoin_ConcurrentSameNameExactlyOneWins(t *testing.T) {
	const n = 50
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%d", i)
	}
	f := newFixture(ids...)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		taken atomic.Int32
	)
	wg.Add(n)
	for _, id := range ids {
		go func(id string) {
			defer wg.Done()
			err := f.coord.Join(ctx, id, "alice", "lobby")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, room.ErrNameTaken):
				taken.Add(1)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), taken.Load())
	assert.Equal(t, []string{"alice"}, f.rooms.ListMembers("lobby"))
	assert.Equal(t, 1, f.sessions.Count())
}

func TestJoinLeaveRace_StaysConsistent(t *testing.T) {
	const n = 100
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%d", i)
	}
	f := newFixture(ids...)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i, id := range ids {
		name := fmt.Sprintf("user%d", i)
		go func(id string) {
			defer wg.Done()
			_ = f.coord.Join(ctx, id, name, "lobby")
		}(id)
		go func(id string) {
			defer wg.Done()
			// Disconnect: the transport forgets the connection, then leaves.
			f.ft.close(id)
			f.coord.Leave(ctx, id)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 0, f.sessions.Count())
	assert.Empty(t, f.rooms.ListMembers("lobby"))
}
