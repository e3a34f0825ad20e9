// Package room tracks which display names are present in which room. Member
// lists keep join order so presence rosters render the same way for every
// client.
package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// ErrNameTaken is matched by every *NameTakenError via errors.Is.
var ErrNameTaken = errors.New("room: name taken")

// NameTakenError reports a join conflict: Name is already a member of Room.
type NameTakenError struct {
	Room string
	Name string
}

func (e *NameTakenError) Error() string {
	return fmt.Sprintf("room: name %q already taken in room %q", e.Name, e.Room)
}

// Is lets callers compare against ErrNameTaken.
func (e *NameTakenError) Is(target error) bool {
	return target == ErrNameTaken
}

// Registry maps room name -> ordered member names. Rooms are created on first
// join and are never deleted; an emptied room stays as an empty entry.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string][]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string][]string),
	}
}

// AddMember appends name to room, creating the room if needed. The membership
// check and the append happen under one lock, so of two concurrent joins with
// the same name exactly one gets a *NameTakenError.
func (r *Registry) AddMember(room, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	if lo.Contains(members, name) {
		return &NameTakenError{Room: room, Name: name}
	}
	r.rooms[room] = append(members, name)
	return nil
}

// RemoveMember removes the first occurrence of name from room and returns the
// resulting member list. Removing an absent name is a no-op.
func (r *Registry) RemoveMember(room, name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return []string{}
	}

	if idx := lo.IndexOf(members, name); idx >= 0 {
		next := make([]string, 0, len(members)-1)
		next = append(next, members[:idx]...)
		next = append(next, members[idx+1:]...)
		r.rooms[room] = next
		members = next
	}

	return clone(members)
}

// ListMembers returns a copy of the room's ordered member list, or an empty
// slice if the room has never been created.
func (r *Registry) ListMembers(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return clone(r.rooms[room])
}

// Rooms returns every room name ever created, sorted.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	names := lo.Keys(r.rooms)
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

func clone(members []string) []string {
	out := make([]string, len(members))
	copy(out, members)
	return out
}
