package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus/chat-relay/internal/protocol"
)

type recordingSender struct {
	mu     sync.Mutex
	frames map[string][][]byte
	fail   map[string]bool
}

func newRecordingSender(failing ...string) *recordingSender {
	s := &recordingSender{
		frames: make(map[string][][]byte),
		fail:   make(map[string]bool),
	}
	for _, id := range failing {
		s.fail[id] = true
	}
	return s
}

func (s *recordingSender) SendMessage(connID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[connID] {
		return errors.New("outbox full")
	}
	s.frames[connID] = append(s.frames[connID], data)
	return nil
}

type recordingTap struct {
	rooms []string
	types []string
}

func (t *recordingTap) PublishRoomEvent(room, eventType string, _ []byte) error {
	t.rooms = append(t.rooms, room)
	t.types = append(t.types, eventType)
	return nil
}

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestUnicast(t *testing.T) {
	s := newRecordingSender()
	b := New(s, nil)

	require.NoError(t, b.Unicast("c1", protocol.TypeNicknameTaken, protocol.NicknameTakenMsg{Message: "taken"}))

	require.Len(t, s.frames["c1"], 1)
	m := decode(t, s.frames["c1"][0])
	assert.Equal(t, protocol.TypeNicknameTaken, m["type"])
	assert.Equal(t, "taken", m["message"])
}

func TestUnicast_SenderError(t *testing.T) {
	b := New(newRecordingSender("c1"), nil)
	assert.Error(t, b.Unicast("c1", protocol.TypePong, protocol.PongMsg{}))
}

func TestMulticast_SkipsFailingRecipients(t *testing.T) {
	s := newRecordingSender("slow")
	tap := &recordingTap{}
	b := New(s, tap)

	n := b.Multicast("lobby", []string{"a", "slow", "b"}, protocol.TypeNewMessage, protocol.NewMessageMsg{
		Username: "alice",
		Message:  "hi",
	})

	assert.Equal(t, 2, n)
	assert.Len(t, s.frames["a"], 1)
	assert.Len(t, s.frames["b"], 1)
	assert.Empty(t, s.frames["slow"])
	assert.Equal(t, []string{"lobby"}, tap.rooms)
	assert.Equal(t, []string{protocol.TypeNewMessage}, tap.types)
}

func TestMulticast_SameBytesForEveryone(t *testing.T) {
	s := newRecordingSender()
	b := New(s, nil)

	b.Multicast("lobby", []string{"a", "b"}, protocol.TypeUserLeft, protocol.PresenceMsg{
		Username:    "bob",
		Room:        "lobby",
		OnlineUsers: []string{"alice"},
	})

	assert.Equal(t, s.frames["a"][0], s.frames["b"][0])
}

func TestMulticast_NoRoomSkipsTap(t *testing.T) {
	tap := &recordingTap{}
	b := New(newRecordingSender(), tap)

	b.Multicast("", []string{"a"}, protocol.TypePong, protocol.PongMsg{})
	assert.Empty(t, tap.rooms)
}

func TestMulticast_EmptyRecipientsStillTapped(t *testing.T) {
	tap := &recordingTap{}
	b := New(newRecordingSender(), tap)

	assert.Equal(t, 0, b.Multicast("lobby", nil, protocol.TypeUserLeft, protocol.PresenceMsg{}))
	assert.Equal(t, []string{"lobby"}, tap.rooms)
}
