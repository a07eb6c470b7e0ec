package rooms

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// MinNameLength is the shortest room name accepted from user input.
const MinNameLength = 3

// Well-known room name prefixes.
const (
	PrefixLeaderboard = "leaderboard:"
	PrefixMatch       = "match:"
	PrefixPlayer      = "player:"
	PrefixPubSub      = "pubsub:"
)

// ValidationError reports a malformed room name derived from client input.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid room name %q: %s", e.Name, e.Reason)
}

// ValidateName applies the minimal shape check for room names built from
// user-supplied identifiers. Rejection never mutates registry state.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Name: name, Reason: "must not be empty"}
	}
	if len(name) < MinNameLength {
		return &ValidationError{Name: name, Reason: fmt.Sprintf("must be at least %d characters", MinNameLength)}
	}
	return nil
}

// ValidateID applies the shape check for a bare identifier (match id,
// scope, channel, player id) before a room name is derived from it.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Name: id, Reason: "must not be empty"}
	}
	return nil
}

// LeaderboardRoom returns the room name for a leaderboard scope.
func LeaderboardRoom(scope string) string { return PrefixLeaderboard + scope }

// MatchRoom returns the room name for a match.
func MatchRoom(matchID string) string { return PrefixMatch + matchID }

// PlayerRoom returns the private room name for a player.
func PlayerRoom(playerID string) string { return PrefixPlayer + playerID }

// ChannelRoom returns the room name backing an application pubsub channel.
func ChannelRoom(channel string) string { return PrefixPubSub + channel }

// Registry tracks room membership bidirectionally: room→connections and
// connection→rooms. It is a plain value passed into the connection manager
// and dispatcher; there is no package-level instance.
type Registry struct {
	mu      sync.RWMutex
	members map[string]map[string]bool // room -> connection ids
	joined  map[string]map[string]bool // connection id -> rooms
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[string]map[string]bool),
		joined:  make(map[string]map[string]bool),
	}
}

// Join adds a connection to a room, creating the room lazily. Joining a room
// the connection is already in is a no-op.
func (r *Registry) Join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[room] == nil {
		r.members[room] = make(map[string]bool)
	}
	if r.members[room][connID] {
		return
	}
	r.members[room][connID] = true

	if r.joined[connID] == nil {
		r.joined[connID] = make(map[string]bool)
	}
	r.joined[connID][room] = true

	log.Debug().
		Str("connection_id", connID).
		Str("room", room).
		Int("members", len(r.members[room])).
		Msg("joined room")
}

// Leave removes a connection from a room. Leaving a room the connection is
// not in is a no-op.
func (r *Registry) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, room)
}

func (r *Registry) leaveLocked(connID, room string) {
	if members, ok := r.members[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.members, room)
		}
	}
	if joined, ok := r.joined[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.joined, connID)
		}
	}
}

// LeaveAll removes the connection from every room it joined and returns the
// rooms it was removed from.
func (r *Registry) LeaveAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for room := range r.joined[connID] {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(connID, room)
	}
	return left
}

// MembersOf returns the connection ids currently joined to the room.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]string, 0, len(r.members[room]))
	for id := range r.members[room] {
		members = append(members, id)
	}
	return members
}

// RoomsOf returns the rooms the connection is joined to.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := make([]string, 0, len(r.joined[connID]))
	for room := range r.joined[connID] {
		joined = append(joined, room)
	}
	return joined
}

// Contains reports whether the connection is joined to the room.
func (r *Registry) Contains(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[room][connID]
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
