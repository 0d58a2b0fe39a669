// Package client keeps a local replica of a document in sync with the server.
//
// At most one operation is in flight at a time. Local edits made while waiting for its ack are
// composed into a single buffered operation that is sent once the ack arrives. Remote operations
// are transformed over both pending operations, with the pending ones winning insert ties, which is
// the same priority the server gives them when they arrive after the remote one.
package client

import (
	"errors"
	"fmt"

	"github.com/astromechza/textsync/pkg/delta"
)

var (
	ErrNothingInFlight = errors.New("ack without an operation in flight")
	ErrOutOfOrder      = errors.New("revision out of order")
)

// Outgoing is an operation to send to the server.
type Outgoing struct {
	Revision int
	Delta    delta.Delta
}

type Editor struct {
	text     string
	revision int
	// server is the text at revision, without the pending edits.
	server   string
	inflight *delta.Delta
	buffer   *delta.Delta
	history  []string
}

func New(text string, revision int) *Editor {
	return &Editor{text: text, revision: revision, server: text}
}

func (e *Editor) Text() string {
	return e.text
}

// Revision is the last server revision the editor has seen.
func (e *Editor) Revision() int {
	return e.revision
}

// Pending reports whether local changes are waiting for the server.
func (e *Editor) Pending() bool {
	return e.inflight != nil
}

// Edit replaces the local text. The returned operation must be sent when ok is true; otherwise the
// change is buffered behind the operation in flight.
func (e *Editor) Edit(newText string) (out Outgoing, ok bool, err error) {
	d := delta.Diff(e.text, newText)
	if d.IsNoop() {
		return Outgoing{}, false, nil
	}
	switch {
	case e.inflight == nil:
		e.inflight = &d
		ok = true
	case e.buffer == nil:
		e.buffer = &d
	default:
		composed, err := delta.Compose(*e.buffer, d)
		if err != nil {
			return Outgoing{}, false, fmt.Errorf("failed to buffer edit: %w", err)
		}
		e.buffer = &composed
	}
	e.text = newText
	if ok {
		return Outgoing{Revision: e.revision, Delta: d}, true, nil
	}
	return Outgoing{}, false, nil
}

func (e *Editor) advance(revision int) error {
	if revision != e.revision+1 {
		return fmt.Errorf("%w: got %d after %d", ErrOutOfOrder, revision, e.revision)
	}
	e.revision = revision
	return nil
}

// Ack confirms the operation in flight. If edits were buffered meanwhile they are returned for
// sending.
func (e *Editor) Ack(revision int) (Outgoing, bool, error) {
	if e.inflight == nil {
		return Outgoing{}, false, ErrNothingInFlight
	}
	if err := e.advance(revision); err != nil {
		return Outgoing{}, false, err
	}
	server, err := e.inflight.Apply(e.server)
	if err != nil {
		return Outgoing{}, false, fmt.Errorf("failed to apply acknowledged operation: %w", err)
	}
	e.server = server
	e.inflight, e.buffer = e.buffer, nil
	if e.inflight == nil {
		return Outgoing{}, false, nil
	}
	return Outgoing{Revision: e.revision, Delta: *e.inflight}, true, nil
}

// ApplyRemote applies another participant's operation and returns the delta that was applied to the
// local text.
func (e *Editor) ApplyRemote(revision int, d delta.Delta) (delta.Delta, error) {
	if err := e.advance(revision); err != nil {
		return delta.Delta{}, err
	}
	server, err := d.Apply(e.server)
	if err != nil {
		return delta.Delta{}, fmt.Errorf("failed to apply remote operation: %w", err)
	}
	e.server = server
	if e.inflight != nil {
		inflight, remote, err := delta.Transform(*e.inflight, d)
		if err != nil {
			return delta.Delta{}, fmt.Errorf("failed to transform over operation in flight: %w", err)
		}
		e.inflight, d = &inflight, remote
	}
	if e.buffer != nil {
		buffer, remote, err := delta.Transform(*e.buffer, d)
		if err != nil {
			return delta.Delta{}, fmt.Errorf("failed to transform over buffered edits: %w", err)
		}
		e.buffer, d = &buffer, remote
	}
	text, err := d.Apply(e.text)
	if err != nil {
		return delta.Delta{}, fmt.Errorf("failed to apply remote operation: %w", err)
	}
	e.text = text
	return d, nil
}

// ApplyRestore handles a restore broadcast. Without pending edits the restored text is taken as is,
// otherwise the restore is rebased like any remote operation so the pending edits survive.
func (e *Editor) ApplyRestore(revision int, text string, d delta.Delta) error {
	if e.inflight == nil {
		if err := e.advance(revision); err != nil {
			return err
		}
		e.text, e.server = text, text
		return nil
	}
	_, err := e.ApplyRemote(revision, d)
	return err
}

// Reset resynchronises the editor with a fresh server state after the operation in flight was
// rejected. The pending edits are rebased onto text and returned as a single operation to send.
func (e *Editor) Reset(text string, revision int) (Outgoing, bool, error) {
	local := delta.Diff(e.server, e.text)
	missed := delta.Diff(e.server, text)
	rebased, _, err := delta.Transform(local, missed)
	if err != nil {
		return Outgoing{}, false, fmt.Errorf("failed to rebase pending edits: %w", err)
	}
	newText, err := rebased.Apply(text)
	if err != nil {
		return Outgoing{}, false, fmt.Errorf("failed to rebase pending edits: %w", err)
	}
	e.text, e.server, e.revision = text, text, revision
	e.inflight, e.buffer = nil, nil
	return e.Edit(newText)
}

// SetHistory stores the snapshot list last received from the server.
func (e *Editor) SetHistory(snapshots []string) {
	e.history = append([]string(nil), snapshots...)
}

func (e *Editor) History() []string {
	return append([]string(nil), e.history...)
}
