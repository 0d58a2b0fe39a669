// Package document holds per-document state: current text, the ordered operation log and snapshots.
//
// Nothing here locks. Callers serialize access per document.
package document

import (
	"errors"
	"fmt"

	"github.com/astromechza/textsync/pkg/delta"
)

var ErrCompactionAnchor = errors.New("no snapshot to compact at")

// Snapshot is the text of a document once Index operations had been applied.
type Snapshot struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Document is one collaboratively edited text.
type Document struct {
	ID        string
	Text      string
	Ops       []delta.Delta
	Snapshots []Snapshot

	// Base is the revision of Ops[0] once the log has been compacted; BaseText is the text at Base.
	Base     int
	BaseText string
}

func New(id string) *Document {
	return &Document{ID: id}
}

// Revision is the number of operations ever applied.
func (d *Document) Revision() int {
	return d.Base + len(d.Ops)
}

// Since returns the logged operations after revision rev.
func (d *Document) Since(rev int) []delta.Delta {
	return d.Ops[rev-d.Base:]
}

// Append applies op to the current text and logs it.
func (d *Document) Append(op delta.Delta) error {
	text, err := op.Apply(d.Text)
	if err != nil {
		return err
	}
	d.Text = text
	d.Ops = append(d.Ops, op)
	return nil
}

// Capture records the current text as a snapshot at the current revision.
func (d *Document) Capture() Snapshot {
	s := Snapshot{Index: d.Revision(), Text: d.Text}
	d.AddSnapshot(s)
	return s
}

// AddSnapshot records a snapshot taken earlier, before operations that have since been appended.
func (d *Document) AddSnapshot(s Snapshot) {
	d.Snapshots = append(d.Snapshots, s)
}

// SnapshotTexts returns the snapshot texts in capture order.
func (d *Document) SnapshotTexts() []string {
	out := make([]string, len(d.Snapshots))
	for i, s := range d.Snapshots {
		out[i] = s.Text
	}
	return out
}

// Replay applies the retained log up to revision upto to the base text.
func (d *Document) Replay(upto int) (string, error) {
	if upto < d.Base || upto > d.Revision() {
		return "", fmt.Errorf("revision %d outside retained log [%d, %d]", upto, d.Base, d.Revision())
	}
	text := d.BaseText
	for i, op := range d.Ops[:upto-d.Base] {
		var err error
		if text, err = op.Apply(text); err != nil {
			return "", fmt.Errorf("failed to replay revision %d: %w", d.Base+i+1, err)
		}
	}
	return text, nil
}

// Compact drops logged operations so that at most keep remain beyond the latest snapshot boundary
// that allows it. Snapshots are retained. It returns the new base revision.
func (d *Document) Compact(keep int) (int, error) {
	if keep <= 0 || len(d.Ops) <= keep {
		return d.Base, nil
	}
	limit := d.Revision() - keep
	var anchor *Snapshot
	for i := len(d.Snapshots) - 1; i >= 0; i-- {
		s := d.Snapshots[i]
		if s.Index > d.Base && s.Index <= limit {
			anchor = &d.Snapshots[i]
			break
		}
	}
	if anchor == nil {
		return d.Base, ErrCompactionAnchor
	}
	d.Ops = append([]delta.Delta(nil), d.Ops[anchor.Index-d.Base:]...)
	d.Base = anchor.Index
	d.BaseText = anchor.Text
	return d.Base, nil
}
