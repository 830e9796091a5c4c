package realtime

import (
	"encoding/json"
	"sync"

	"dinein_backend/pkg/utils"
)

// Subscriber is a live connection that can receive encoded events.
type Subscriber interface {
	ID() string
	// Send queues msg without blocking and reports whether it was accepted.
	Send(msg []byte) bool
	Close()
}

// Subscription is the handle returned by Join.
type Subscription struct {
	hub  *Hub
	room string
	sub  Subscriber
}

// Room returns the room this subscription belongs to.
func (s Subscription) Room() string { return s.room }

// Leave removes the subscriber from the room. Leaving twice is harmless.
func (s Subscription) Leave() {
	if s.hub != nil {
		s.hub.leave(s.room, s.sub.ID())
	}
}

// Hub tracks room membership and fans events out. It holds no business rules.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]Subscriber
	memberships map[string]map[string]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:       make(map[string]map[string]Subscriber),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Join adds sub to room.
func (h *Hub) Join(room string, sub Subscriber) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Subscriber)
		h.rooms[room] = members
	}
	members[sub.ID()] = sub

	joined, ok := h.memberships[sub.ID()]
	if !ok {
		joined = make(map[string]struct{})
		h.memberships[sub.ID()] = joined
	}
	joined[room] = struct{}{}
	return Subscription{hub: h, room: room, sub: sub}
}

func (h *Hub) leave(room, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(room, id)
}

func (h *Hub) removeLocked(room, id string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.memberships[id]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(h.memberships, id)
		}
	}
}

// Disconnect removes sub from every room it joined.
func (h *Hub) Disconnect(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.memberships[sub.ID()] {
		h.removeLocked(room, sub.ID())
	}
	delete(h.memberships, sub.ID())
}

// Broadcast delivers ev once to every subscriber of any of rooms and returns
// the number of deliveries. Subscribers whose queue is full are dropped.
func (h *Hub) Broadcast(ev Event, rooms ...string) int {
	msg, err := json.Marshal(ev)
	if err != nil {
		utils.LogError(err, "Failed to encode event", map[string]interface{}{"event": ev.Name})
		return 0
	}

	h.mu.RLock()
	targets := make(map[string]Subscriber)
	for _, room := range rooms {
		for id, sub := range h.rooms[room] {
			targets[id] = sub
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.Send(msg) {
			delivered++
			continue
		}
		utils.LogWarn("Dropping slow subscriber", map[string]interface{}{"subscriber": sub.ID(), "event": ev.Name})
		h.Disconnect(sub)
		sub.Close()
	}
	return delivered
}

// RoomSize reports the number of subscribers in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// RoomsOf lists the rooms sub currently belongs to.
func (h *Hub) RoomsOf(sub Subscriber) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.memberships[sub.ID()]))
	for room := range h.memberships[sub.ID()] {
		out = append(out, room)
	}
	return out
}

// Close disconnects every subscriber. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make(map[string]Subscriber)
	for _, members := range h.rooms {
		for id, sub := range members {
			subs[id] = sub
		}
	}
	h.rooms = make(map[string]map[string]Subscriber)
	h.memberships = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
