// Package hub tracks which sessions are watching which collection and
// fans accepted changes out to them. It is the in-process pub/sub
// implementation of the engine's Broadcaster dependency; the websocket
// layer plugs its sessions into it.
package hub

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/fieldsync/fieldsync/internal/entity"
)

// Subscriber receives broadcast events for the rooms it has joined.
// Deliver must not block; implementations buffer or drop. A session
// that misses events reconciles with a full fetch on reconnect.
type Subscriber interface {
	SessionID() string
	Deliver(ev entity.Event)
}

// room is the set of sessions watching one collection. Created on
// first join, removed on last leave.
type room struct {
	collectionID string
	sessions     map[string]Subscriber
}

// Hub is the session registry and broadcaster. Room membership is
// mutated under its own short-lived lock, fully decoupled from record
// mutation: a join or leave never waits on an in-flight mutation and
// vice versa.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Join adds the session to the collection's room, creating the room on
// first join, and broadcasts current membership to the whole room.
func (h *Hub) Join(collectionID string, sub Subscriber) {
	h.mu.Lock()
	rm, ok := h.rooms[collectionID]
	if !ok {
		rm = &room{collectionID: collectionID, sessions: make(map[string]Subscriber)}
		h.rooms[collectionID] = rm
	}
	rm.sessions[sub.SessionID()] = sub
	members := rm.memberIDs()
	targets := rm.subscribers()
	h.mu.Unlock()

	slog.Debug("session joined", "collection", collectionID, "session", sub.SessionID(), "members", len(members))

	ev := entity.PresenceEvent(collectionID, members)
	for _, s := range targets {
		s.Deliver(ev)
	}
}

// Leave removes the session from the collection's room. The room is
// dropped when its last session leaves. Remaining members get a fresh
// presence broadcast.
//
// The entry is removed only when the registered subscriber is the one
// departing: a client reconnecting under the same session id replaces
// the map entry on Join, and the stale connection's delayed Leave must
// not evict the live replacement.
func (h *Hub) Leave(collectionID string, sub Subscriber) {
	h.mu.Lock()
	rm, ok := h.rooms[collectionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if cur, ok := rm.sessions[sub.SessionID()]; !ok || cur != sub {
		h.mu.Unlock()
		return
	}
	delete(rm.sessions, sub.SessionID())
	if len(rm.sessions) == 0 {
		delete(h.rooms, collectionID)
		h.mu.Unlock()
		slog.Debug("room closed", "collection", collectionID)
		return
	}
	members := rm.memberIDs()
	targets := rm.subscribers()
	h.mu.Unlock()

	ev := entity.PresenceEvent(collectionID, members)
	for _, s := range targets {
		s.Deliver(ev)
	}
}

// Publish delivers the event to every session in the collection's room.
// At-least-once, unordered-safe, no persistent queue: a session with no
// room membership at publish time simply misses the event and
// reconciles on reconnect. The originator is included; idempotent apply
// on the client makes the echo harmless.
func (h *Hub) Publish(collectionID string, ev entity.Event) {
	h.mu.RLock()
	rm, ok := h.rooms[collectionID]
	var targets []Subscriber
	if ok {
		targets = rm.subscribers()
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.Deliver(ev)
	}
}

// Members returns the session ids currently in the collection's room.
func (h *Hub) Members(collectionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rm, ok := h.rooms[collectionID]
	if !ok {
		return nil
	}
	return rm.memberIDs()
}

// Rooms returns the number of active rooms.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (r *room) memberIDs() []string {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *room) subscribers() []Subscriber {
	subs := make([]Subscriber, 0, len(r.sessions))
	for _, s := range r.sessions {
		subs = append(subs, s)
	}
	return subs
}
