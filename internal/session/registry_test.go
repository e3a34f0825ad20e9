package session

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PutGetRemove(t *testing.T) {
	r := NewRegistry()
	joined := time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local)

	r.Put("c1", Session{ConnID: "c1", Username: "alice", Room: "lobby", JoinedAt: joined})

	s, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, "lobby", s.Room)
	assert.Equal(t, joined, s.JoinedAt)

	removed, ok := r.Remove("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", removed.Username)

	_, ok = r.Get("c1")
	assert.False(t, ok)
}

func TestRegistry_PutOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Put("c1", Session{ConnID: "c1", Username: "alice", Room: "lobby"})
	r.Put("c1", Session{ConnID: "c1", Username: "alice2", Room: "garden"})

	s, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "alice2", s.Username)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_MissingIsNotAnError(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Get("ghost")
	assert.False(t, ok)

	_, ok = r.Remove("ghost")
	assert.False(t, ok)
}

func TestRegistry_InRoom(t *testing.T) {
	r := NewRegistry()
	r.Put("a", Session{ConnID: "a", Username: "alice", Room: "lobby"})
	r.Put("b", Session{ConnID: "b", Username: "bob", Room: "lobby"})
	r.Put("c", Session{ConnID: "c", Username: "carol", Room: "garden"})

	ids := r.InRoom("lobby")
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b"}, ids)

	assert.Equal(t, []string{"c"}, r.InRoom("garden"))

	empty := r.InRoom("attic")
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	const goroutines = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", id)
			r.Put(connID, Session{ConnID: connID, Room: "lobby"})
			_ = r.InRoom("lobby")
			if id%2 == 0 {
				r.Remove(connID)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, goroutines/2, r.Count())
	assert.Len(t, r.InRoom("lobby"), goroutines/2)
}
