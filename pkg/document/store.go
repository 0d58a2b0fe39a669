package document

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/astromechza/textsync/pkg/delta"
)

// Store owns Document records by id.
type Store struct {
	docs map[string]*Document
}

func NewStore() *Store {
	return &Store{docs: make(map[string]*Document)}
}

// GetOrCreate returns the document for id, creating an empty one on first access.
func (s *Store) GetOrCreate(id string) *Document {
	if d, ok := s.docs[id]; ok {
		return d
	}
	d := New(id)
	s.docs[id] = d
	return d
}

// Get returns the document for id without creating it.
func (s *Store) Get(id string) (*Document, bool) {
	d, ok := s.docs[id]
	return d, ok
}

// CurrentText returns the text of id, or "" when it has no state.
func (s *Store) CurrentText(id string) string {
	if d, ok := s.docs[id]; ok {
		return d.Text
	}
	return ""
}

// Put replaces the document stored under d.ID.
func (s *Store) Put(d *Document) {
	s.docs[d.ID] = d
}

// IDs returns every known document id, sorted.
func (s *Store) IDs() []string {
	out := make([]string, 0, len(s.docs))
	for id := range s.docs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Record is the serialized form of a document used for durable backup.
type Record struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Base      int           `json:"base"`
	BaseText  string        `json:"baseText"`
	Ops       []delta.Delta `json:"ops"`
	Snapshots []Snapshot    `json:"snapshots"`
}

// Record copies d into its serialized form.
func (d *Document) Record() Record {
	return Record{
		ID:        d.ID,
		Text:      d.Text,
		Base:      d.Base,
		BaseText:  d.BaseText,
		Ops:       append([]delta.Delta(nil), d.Ops...),
		Snapshots: append([]Snapshot(nil), d.Snapshots...),
	}
}

// FromRecord rebuilds a document and checks that its log replays to its text.
func FromRecord(r Record) (*Document, error) {
	d := &Document{
		ID:        r.ID,
		Text:      r.Text,
		Base:      r.Base,
		BaseText:  r.BaseText,
		Ops:       r.Ops,
		Snapshots: r.Snapshots,
	}
	for i, op := range d.Ops {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("invalid operation %d in %s: %w", d.Base+i+1, r.ID, err)
		}
	}
	replayed, err := d.Replay(d.Revision())
	if err != nil {
		return nil, err
	}
	if replayed != d.Text {
		return nil, fmt.Errorf("log of %s does not replay to its text", r.ID)
	}
	return d, nil
}

// Encode returns the JSON form of r.
func (r Record) Encode() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", r.ID, err)
	}
	return string(raw), nil
}

// DecodeRecord parses the JSON form of a record.
func DecodeRecord(content string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return r, nil
}
