// Package rooms holds the in-memory room registry: each room pairs at most
// two endpoints for the lifetime of their rendezvous connections. Rooms are
// ephemeral; the registry starts empty and a room is gone the moment its
// last endpoint leaves.
package rooms

import (
	"errors"
	"sync"
	"time"

	"github.com/duodrop/duodrop/pkg/protocol"
)

// MaxEndpoints is the hard cap on endpoints per room.
const MaxEndpoints = 2

var (
	// ErrRoomFull is returned when a third endpoint attempts to join.
	ErrRoomFull = errors.New("room is full")
	// ErrNotFound is returned when the room does not exist.
	ErrNotFound = errors.New("room not found")
)

// Handle delivers signaling messages to one connected endpoint. The
// registry never closes a handle; it only tracks the association.
type Handle interface {
	Deliver(msg protocol.Message) error
}

// Room pairs up to two endpoints under a shared identifier.
type Room struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	endpoints map[string]Handle
	deleted   bool
}

// Registry is a thread-safe store of rooms. The registry mutex guards the
// map; each room's own mutex serializes endpoint mutation, so unrelated
// rooms mutate concurrently.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return NewRegistryWithNow(time.Now)
}

// NewRegistryWithNow creates a registry with a custom time source (for tests).
func NewRegistryWithNow(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		rooms: make(map[string]*Room),
		now:   now,
	}
}

// CreateOrGet returns the room with the given id, creating it on first use.
func (r *Registry) CreateOrGet(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{
			ID:        roomID,
			CreatedAt: r.now(),
			endpoints: make(map[string]Handle),
		}
		r.rooms[roomID] = room
	}
	return room
}

// Join adds an endpoint to an existing room. Returns ErrNotFound if the
// room does not exist and ErrRoomFull if it already has two endpoints;
// a rejected join never mutates the room.
func (r *Registry) Join(roomID, endpointID string, h Handle) error {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.deleted {
		// Lost a race with the last endpoint leaving; the room id no
		// longer resolves, so report it missing.
		return ErrNotFound
	}
	if len(room.endpoints) >= MaxEndpoints {
		return ErrRoomFull
	}
	room.endpoints[endpointID] = h
	return nil
}

// Leave removes an endpoint from a room and deletes the room immediately
// if it becomes empty. Leaving never closes the endpoint's connection.
func (r *Registry) Leave(roomID, endpointID string) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return
	}

	room.mu.Lock()
	delete(room.endpoints, endpointID)
	empty := len(room.endpoints) == 0
	if empty {
		room.deleted = true
	}
	room.mu.Unlock()

	if empty {
		r.mu.Lock()
		if r.rooms[roomID] == room {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}
}

// Other returns the handle of the endpoint sharing the room, if any.
func (r *Registry) Other(roomID, endpointID string) (Handle, bool) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	for id, h := range room.endpoints {
		if id != endpointID {
			return h, true
		}
	}
	return nil, false
}

// Size reports the number of endpoints currently in a room.
func (r *Registry) Size(roomID string) int {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return len(room.endpoints)
}

// Len reports the number of rooms in the registry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Sweep deletes empty rooms whose age exceeds ttl and returns how many
// were removed. A room with live endpoints is never touched; the normal
// leave path already removes empty rooms, so the sweep only catches rooms
// that were created but never emptied through Leave (e.g. a join that was
// rejected before any endpoint was added).
func (r *Registry) Sweep(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	candidates := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		candidates = append(candidates, room)
	}
	r.mu.Unlock()

	removed := 0
	for _, room := range candidates {
		room.mu.Lock()
		expired := len(room.endpoints) == 0 && now.Sub(room.CreatedAt) > ttl
		if expired {
			room.deleted = true
		}
		room.mu.Unlock()

		if expired {
			r.mu.Lock()
			if r.rooms[room.ID] == room {
				delete(r.rooms, room.ID)
				removed++
			}
			r.mu.Unlock()
		}
	}
	return removed
}
