package hub

import (
	"sync"

	"github.com/astromechza/textsync/pkg/engine"
	"github.com/astromechza/textsync/pkg/protocol"
)

// Rooms fans messages out to the connections that joined each document. It is the engine's
// Broadcaster, so it must be created before the engine and handed to both.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[*Conn]struct{})}
}

// Publish implements engine.Broadcaster. The origin of an operation receives an ack, everyone else
// the transformed delta. Restores go to every member including the requester.
func (r *Rooms) Publish(ev engine.Event) {
	var others, origin []byte
	switch ev.Kind {
	case engine.OperationApplied:
		others = protocol.Encode(protocol.Operation(ev.DocumentID, ev.Revision, ev.Delta))
		origin = protocol.Encode(protocol.Ack(ev.DocumentID, ev.Revision))
	case engine.Restored:
		others = protocol.Encode(protocol.Restore(ev.DocumentID, ev.Text, ev.Revision, ev.Delta))
		origin = others
	default:
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.rooms[ev.DocumentID] {
		if c.id == ev.Origin {
			c.enqueue(origin)
		} else {
			c.enqueue(others)
		}
	}
}

// Broadcast sends m to every member of a document.
func (r *Rooms) Broadcast(documentID string, m protocol.Message) {
	raw := protocol.Encode(m)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.rooms[documentID] {
		c.enqueue(raw)
	}
}

func (r *Rooms) add(documentID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[documentID]
	if !ok {
		members = make(map[*Conn]struct{})
		r.rooms[documentID] = members
	}
	members[c] = struct{}{}
}

func (r *Rooms) has(documentID string, c *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[documentID][c]
	return ok
}

// removeAll drops c from every room and returns the documents it was a member of.
func (r *Rooms) removeAll(c *Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []string
	for doc, members := range r.rooms {
		if _, ok := members[c]; !ok {
			continue
		}
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, doc)
		}
		docs = append(docs, doc)
	}
	return docs
}
