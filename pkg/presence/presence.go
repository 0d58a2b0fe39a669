// Package presence tracks which participants are connected to which documents.
package presence

import "sync"

// Entry is one connected participant of a document.
type Entry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
}

// Tracker keeps the participant list of every document, in join order.
type Tracker struct {
	mu   sync.Mutex
	docs map[string][]Entry
}

func NewTracker() *Tracker {
	return &Tracker{docs: make(map[string][]Entry)}
}

// Join adds the participant to a document, or renames it if it already joined, and returns the
// document's full list.
func (t *Tracker) Join(documentID, participantID, displayName string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.docs[documentID]
	for i := range entries {
		if entries[i].ParticipantID == participantID {
			entries[i].DisplayName = displayName
			return clone(entries)
		}
	}
	entries = append(entries, Entry{ParticipantID: participantID, DisplayName: displayName})
	t.docs[documentID] = entries
	return clone(entries)
}

// Leave removes the participant from every document it joined and returns the updated list of each
// affected document.
func (t *Tracker) Leave(participantID string) map[string][]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	affected := make(map[string][]Entry)
	for doc, entries := range t.docs {
		kept := entries[:0]
		removed := false
		for _, e := range entries {
			if e.ParticipantID == participantID {
				removed = true
				continue
			}
			kept = append(kept, e)
		}
		if !removed {
			continue
		}
		if len(kept) == 0 {
			delete(t.docs, doc)
		} else {
			t.docs[doc] = kept
		}
		affected[doc] = clone(kept)
	}
	return affected
}

// List returns the participants of a document.
func (t *Tracker) List(documentID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clone(t.docs[documentID])
}

func clone(entries []Entry) []Entry {
	return append([]Entry{}, entries...)
}
