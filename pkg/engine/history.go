package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/astromechza/textsync/pkg/delta"
	"github.com/astromechza/textsync/pkg/document"
)

// ListSnapshots returns the snapshot texts of a document in capture order. Unknown documents have
// none.
func (e *Engine) ListSnapshots(ctx context.Context, id string) ([]string, error) {
	snaps, err := e.Snapshots(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.Text
	}
	return out, nil
}

// Snapshots returns the snapshots of a document with their log positions.
func (e *Engine) Snapshots(ctx context.Context, id string) ([]document.Snapshot, error) {
	var out []document.Snapshot
	err := e.do(ctx, id, false, func(d *document.Document) error {
		out = append([]document.Snapshot(nil), d.Snapshots...)
		return nil
	})
	if errors.Is(err, ErrUnknownDocument) {
		return []document.Snapshot{}, nil
	}
	return out, err
}

// Restore sets the document text back to snapshot index and broadcasts the restored text to every
// participant, the requester included. The change is logged as the delta from the current text to
// the snapshot so the log keeps replaying to the text.
func (e *Engine) Restore(ctx context.Context, id string, index int, origin string) (Result, error) {
	var res Result
	err := e.do(ctx, id, false, func(d *document.Document) error {
		if index < 0 || index >= len(d.Snapshots) {
			return fmt.Errorf("%w: %d of %d", ErrSnapshotNotFound, index, len(d.Snapshots))
		}
		target := d.Snapshots[index].Text
		op := delta.Diff(d.Text, target)
		var err error
		if res, err = e.appendLocked(d, op); err != nil {
			return err
		}
		e.opts.Broadcaster.Publish(Event{
			Kind:       Restored,
			DocumentID: d.ID,
			Revision:   res.Revision,
			Delta:      op,
			Text:       d.Text,
			Origin:     origin,
		})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.log.Info("restored snapshot", "document", id, "index", index, "origin", origin, "revision", res.Revision)
	return res, nil
}
