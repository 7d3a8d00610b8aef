package relay

import (
	"sync"

	"github.com/samber/lo"

	"consultlink-backend/internal/domain"
)

// Endpoint is one connected client as seen by the relay. Implementations must
// make Send non-blocking and Close idempotent.
type Endpoint interface {
	ID() string
	Identity() domain.Identity
	// Send queues a frame for delivery. It returns false when the endpoint
	// cannot take more frames or is closed.
	Send(frame []byte) bool
	Close()
}

// Registry tracks which endpoints are present in which rooms
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]Endpoint
	memberships map[string]map[string]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		rooms:       make(map[string]map[string]Endpoint),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Join adds ep to roomID. It returns the members present before the join and
// whether ep was newly added; joining a room twice is a no-op.
func (r *Registry) Join(roomID string, ep Endpoint) ([]Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Endpoint)
		r.rooms[roomID] = members
	}

	_, present := members[ep.ID()]
	others := othersOf(members, ep.ID())
	if present {
		return others, false
	}

	members[ep.ID()] = ep
	rooms, ok := r.memberships[ep.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		r.memberships[ep.ID()] = rooms
	}
	rooms[roomID] = struct{}{}

	return others, true
}

// Leave removes ep from roomID and returns the members that remain
func (r *Registry) Leave(roomID string, ep Endpoint) ([]Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	if _, present := members[ep.ID()]; !present {
		return nil, false
	}

	r.removeLocked(roomID, ep.ID())
	return lo.Values(r.rooms[roomID]), true
}

// RemoveEndpoint drops ep from every room it joined. The result maps each of
// those rooms to the members still present in it.
func (r *Registry) RemoveEndpoint(ep Endpoint) map[string][]Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.memberships[ep.ID()]
	remaining := make(map[string][]Endpoint, len(rooms))
	for roomID := range rooms {
		r.removeLocked(roomID, ep.ID())
		remaining[roomID] = lo.Values(r.rooms[roomID])
	}
	return remaining
}

// Others returns every member of roomID except ep
func (r *Registry) Others(roomID string, ep Endpoint) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return othersOf(r.rooms[roomID], ep.ID())
}

// Members returns every member of roomID
func (r *Registry) Members(roomID string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.rooms[roomID])
}

// IsMember reports whether ep has joined roomID
func (r *Registry) IsMember(roomID string, ep Endpoint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][ep.ID()]
	return ok
}

// Stats returns the number of non-empty rooms and of endpoints in at least one room
func (r *Registry) Stats() (rooms, endpoints int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.memberships)
}

// removeLocked deletes one membership, dropping empty rooms and index entries.
// Caller holds r.mu.
func (r *Registry) removeLocked(roomID, endpointID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, endpointID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if rooms, ok := r.memberships[endpointID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.memberships, endpointID)
		}
	}
}

func othersOf(members map[string]Endpoint, exclude string) []Endpoint {
	others := make([]Endpoint, 0, len(members))
	for id, ep := range members {
		if id != exclude {
			others = append(others, ep)
		}
	}
	return others
}
