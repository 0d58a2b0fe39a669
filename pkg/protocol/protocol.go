// Package protocol defines the JSON messages exchanged over a document websocket.
//
// Every message carries a "type" field naming its kind. Messages are document scoped because one
// connection may join several documents.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/astromechza/textsync/pkg/delta"
	"github.com/astromechza/textsync/pkg/presence"
)

const (
	TypeJoin           = "join"
	TypeState          = "state"
	TypeOperation      = "operation"
	TypeAck            = "ack"
	TypeRequestHistory = "requestHistory"
	TypeHistory        = "history"
	TypeRestoreVersion = "restoreVersion"
	TypeRestore        = "restore"
	TypePresence       = "presence"
	TypeError          = "error"
)

// Error codes sent in Error messages.
const (
	CodeMalformedMessage   = "malformed_message"
	CodeMalformedOperation = "malformed_operation"
	CodeStaleRevision      = "stale_revision"
	CodeUnknownDocument    = "unknown_document"
	CodeSnapshotNotFound   = "snapshot_not_found"
	CodeNotJoined          = "not_joined"
	CodeInternal           = "internal"
)

// Message is the union of every message kind. Only the fields of Type are meaningful. Empty scalar
// fields are omitted on the wire; the snapshot and participant lists are always present so an empty
// list arrives as [].
type Message struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId,omitempty"`

	// join
	DisplayName string `json:"displayName,omitempty"`

	// state, operation, ack, restore
	Text     string          `json:"text,omitempty"`
	Revision int             `json:"revision,omitempty"`
	Delta    json.RawMessage `json:"delta,omitempty"`

	// history, restoreVersion
	Snapshots []string `json:"snapshots"`
	Index     int      `json:"index,omitempty"`

	// presence
	Participants []presence.Entry `json:"participants"`

	// error
	Code  string `json:"code,omitempty"`
	Error string `json:"message,omitempty"`
}

// Decode parses a raw websocket frame.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("message has no type")
	}
	return m, nil
}

// Encode marshals m. Messages only hold plain data so this cannot fail in practice.
func Encode(m Message) []byte {
	raw, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("failed to encode %s message: %v", m.Type, err))
	}
	return raw
}

// DecodeDelta parses the delta carried by m.
func (m Message) DecodeDelta() (delta.Delta, error) {
	if len(m.Delta) == 0 {
		return delta.Delta{}, fmt.Errorf("%s message has no delta", m.Type)
	}
	return delta.Parse(m.Delta)
}

func encodeDelta(d delta.Delta) json.RawMessage {
	raw, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("failed to encode delta: %v", err))
	}
	return raw
}

func Join(documentID, displayName string) Message {
	return Message{Type: TypeJoin, DocumentID: documentID, DisplayName: displayName}
}

func State(documentID, text string, revision int) Message {
	return Message{Type: TypeState, DocumentID: documentID, Text: text, Revision: revision}
}

func Operation(documentID string, revision int, d delta.Delta) Message {
	return Message{Type: TypeOperation, DocumentID: documentID, Revision: revision, Delta: encodeDelta(d)}
}

func Ack(documentID string, revision int) Message {
	return Message{Type: TypeAck, DocumentID: documentID, Revision: revision}
}

func RequestHistory(documentID string) Message {
	return Message{Type: TypeRequestHistory, DocumentID: documentID}
}

func History(documentID string, snapshots []string) Message {
	if snapshots == nil {
		snapshots = []string{}
	}
	return Message{Type: TypeHistory, DocumentID: documentID, Snapshots: snapshots}
}

func RestoreVersion(documentID string, index int) Message {
	return Message{Type: TypeRestoreVersion, DocumentID: documentID, Index: index}
}

func Restore(documentID, text string, revision int, d delta.Delta) Message {
	return Message{Type: TypeRestore, DocumentID: documentID, Text: text, Revision: revision, Delta: encodeDelta(d)}
}

func Presence(documentID string, participants []presence.Entry) Message {
	if participants == nil {
		participants = []presence.Entry{}
	}
	return Message{Type: TypePresence, DocumentID: documentID, Participants: participants}
}

func Error(documentID, code string, err error) Message {
	return Message{Type: TypeError, DocumentID: documentID, Code: code, Error: err.Error()}
}
