package ws

import (
	"log"
	"sort"
	"sync"
)

// Registry maps room names to the connections currently joined to them.
//
// Lock order is Registry.mu, then room.deliver, then room.mu. Broadcast never
// takes Registry.mu while holding a room lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	name string

	// deliver serializes broadcasts so every member sees the same order.
	deliver sync.Mutex

	mu      sync.Mutex
	members map[*Connection]struct{}
}

// RoomInfo is a live room and its member count.
type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Join adds c to the named room, creating the room on first use. Joining
// twice is a no-op.
func (r *Registry) Join(name string, c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[name]
	if !ok {
		rm = &room{name: name, members: make(map[*Connection]struct{})}
		r.rooms[name] = rm
	}

	rm.mu.Lock()
	rm.members[c] = struct{}{}
	rm.mu.Unlock()
}

// Leave removes c from the named room and drops the room once empty. It waits
// for an in-flight broadcast to that room, so c receives nothing after Leave
// returns. Leaving a room c is not in is a no-op.
func (r *Registry) Leave(name string, c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[name]
	if !ok {
		return
	}

	rm.deliver.Lock()
	rm.mu.Lock()
	delete(rm.members, c)
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	rm.deliver.Unlock()

	if empty {
		delete(r.rooms, name)
	}
}

// Broadcast queues frame on every member of the named room and returns how
// many members accepted it. Members whose queue is full or closed are
// evicted. A room with no members is a no-op.
func (r *Registry) Broadcast(name string, frame []byte) int {
	r.mu.RLock()
	rm, ok := r.rooms[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	rm.deliver.Lock()

	rm.mu.Lock()
	members := make([]*Connection, 0, len(rm.members))
	for c := range rm.members {
		members = append(members, c)
	}
	rm.mu.Unlock()

	delivered := 0
	var slow []*Connection
	for _, c := range members {
		if c.Enqueue(frame) {
			delivered++
		} else {
			slow = append(slow, c)
		}
	}

	rm.deliver.Unlock()

	for _, c := range slow {
		log.Printf("[Registry] Connection %s cannot keep up in room %q, evicting", c.ID(), name)
		r.Leave(name, c)
		c.evict()
	}

	return delivered
}

// Members returns the number of connections joined to the named room.
func (r *Registry) Members(name string) int {
	r.mu.RLock()
	rm, ok := r.rooms[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// Rooms lists live rooms sorted by name.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(r.rooms))
	for name, rm := range r.rooms {
		rm.mu.Lock()
		infos = append(infos, RoomInfo{Name: name, Members: len(rm.members)})
		rm.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
