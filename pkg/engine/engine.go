// Package engine serializes concurrent edits of each document into one total order.
//
// Every document is owned by an actor goroutine. Submissions, restores and reads for a document run
// one at a time on its actor, in the order they were accepted; different documents proceed in
// parallel. Broadcasts are published from inside the actor so recipients observe log order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/astromechza/textsync/pkg/delta"
	"github.com/astromechza/textsync/pkg/document"
)

var (
	ErrMalformedOperation = errors.New("malformed operation")
	ErrStaleRevision      = errors.New("revision predates retained log")
	ErrUnknownDocument    = errors.New("unknown document")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrClosed             = errors.New("engine closed")
	errHandlerPanic       = errors.New("document handler panicked")
)

const DefaultSnapshotInterval = 10

// EventKind distinguishes broadcasts.
type EventKind int

const (
	OperationApplied EventKind = iota
	Restored
)

// Event is published to a document's room after the log changes.
type Event struct {
	Kind       EventKind
	DocumentID string
	Revision   int
	Delta      delta.Delta
	// Text is the restored text for Restored events.
	Text string
	// Origin is the participant that caused the change.
	Origin string
}

// Broadcaster fans events out to a document's participants. Publish is called from the document's
// actor and must not block.
type Broadcaster interface {
	Publish(ev Event)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(Event) {}

// Result describes an accepted change.
type Result struct {
	Revision int
	Delta    delta.Delta
	Snapshot *document.Snapshot
}

type Options struct {
	// SnapshotInterval captures a snapshot before every n-th operation. Zero means the default, a
	// negative value disables snapshots.
	SnapshotInterval int
	// RetainOps bounds the log by compacting at snapshot boundaries. Zero keeps everything.
	RetainOps   int
	Broadcaster Broadcaster
	Logger      *slog.Logger
}

type Engine struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	store  *document.Store
	actors map[string]*actor
	closed bool
	wg     sync.WaitGroup
}

func New(opts Options) *Engine {
	if opts.SnapshotInterval == 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = nopBroadcaster{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		opts:   opts,
		log:    opts.Logger.With("component", "engine"),
		store:  document.NewStore(),
		actors: make(map[string]*actor),
	}
}

type actor struct {
	doc  *document.Document
	reqs chan func(*document.Document)
	stop chan struct{}
}

func (a *actor) run(log *slog.Logger) {
	for {
		select {
		case fn := <-a.reqs:
			a.call(log, fn)
		case <-a.stop:
			return
		}
	}
}

func (a *actor) call(log *slog.Logger, fn func(*document.Document)) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("document handler panicked", "document", a.doc.ID, "panic", r)
		}
	}()
	fn(a.doc)
}

func (e *Engine) actor(id string, create bool) (*actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if a, ok := e.actors[id]; ok {
		return a, nil
	}
	if !create {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	return e.spawnLocked(e.store.GetOrCreate(id)), nil
}

func (e *Engine) spawnLocked(d *document.Document) *actor {
	a := &actor{doc: d, reqs: make(chan func(*document.Document)), stop: make(chan struct{})}
	e.actors[d.ID] = a
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		a.run(e.log)
	}()
	e.log.Debug("document opened", "document", d.ID)
	return a
}

// do runs fn on the document's actor. ctx only bounds waiting for the actor to accept fn; once
// accepted, fn always runs to completion.
func (e *Engine) do(ctx context.Context, id string, create bool, fn func(*document.Document) error) error {
	a, err := e.actor(id, create)
	if err != nil {
		return err
	}
	result := errHandlerPanic
	done := make(chan struct{})
	req := func(d *document.Document) {
		defer close(done)
		result = fn(d)
	}
	select {
	case a.reqs <- req:
	case <-a.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return result
}

// Submit transforms op, made against revision, over every logged operation the caller has not seen,
// applies it and appends it to the log. Every other participant receives the rebased operation.
// A revision of zero rebases over the whole log.
func (e *Engine) Submit(ctx context.Context, id string, revision int, op delta.Delta, origin string) (Result, error) {
	if err := op.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedOperation, err)
	}
	var res Result
	err := e.do(ctx, id, true, func(d *document.Document) error {
		if revision < 0 || revision > d.Revision() {
			return fmt.Errorf("%w: revision %d outside [0, %d]", ErrMalformedOperation, revision, d.Revision())
		}
		if revision < d.Base {
			return fmt.Errorf("%w: revision %d, log starts at %d", ErrStaleRevision, revision, d.Base)
		}
		rebased, err := delta.TransformAll(op, d.Since(revision))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedOperation, err)
		}
		if res, err = e.appendLocked(d, rebased); err != nil {
			return err
		}
		e.opts.Broadcaster.Publish(Event{
			Kind:       OperationApplied,
			DocumentID: d.ID,
			Revision:   res.Revision,
			Delta:      rebased,
			Origin:     origin,
		})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.log.Debug("operation accepted", "document", id, "origin", origin, "base", revision, "revision", res.Revision)
	return res, nil
}

// appendLocked logs op. When op is the n-th of the snapshot interval the pre-append text is recorded,
// but only once op has been applied.
func (e *Engine) appendLocked(d *document.Document, op delta.Delta) (Result, error) {
	if bl, tl := op.BaseLen(), utf8.RuneCountInString(d.Text); bl != tl {
		return Result{}, fmt.Errorf("%w: %w: operation covers %d, text has %d", ErrMalformedOperation, delta.ErrLengthMismatch, bl, tl)
	}
	var res Result
	pre := document.Snapshot{Index: d.Revision(), Text: d.Text}
	if err := d.Append(op); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedOperation, err)
	}
	if n := e.opts.SnapshotInterval; n > 0 && pre.Index%n == n-1 {
		d.AddSnapshot(pre)
		res.Snapshot = &pre
	}
	if e.opts.RetainOps > 0 {
		if base, err := d.Compact(e.opts.RetainOps); err == nil {
			e.log.Debug("compacted log", "document", d.ID, "base", base)
		}
	}
	res.Revision = d.Revision()
	res.Delta = op
	return res, nil
}

// Open runs fn with the document's current state, creating the document if needed. Events for the
// document are published strictly before or strictly after fn.
func (e *Engine) Open(ctx context.Context, id string, fn func(text string, revision int)) error {
	return e.do(ctx, id, true, func(d *document.Document) error {
		fn(d.Text, d.Revision())
		return nil
	})
}

// State returns the text and revision of an existing document.
func (e *Engine) State(ctx context.Context, id string) (string, int, error) {
	var text string
	var rev int
	err := e.do(ctx, id, false, func(d *document.Document) error {
		text, rev = d.Text, d.Revision()
		return nil
	})
	return text, rev, err
}

// Documents returns the ids of every open document.
func (e *Engine) Documents() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.IDs()
}

// Export copies the state of an existing document.
func (e *Engine) Export(ctx context.Context, id string) (document.Record, error) {
	var rec document.Record
	err := e.do(ctx, id, false, func(d *document.Document) error {
		rec = d.Record()
		return nil
	})
	return rec, err
}

// Import installs a document from a record. It fails if the document is already open.
func (e *Engine) Import(rec document.Record) error {
	d, err := document.FromRecord(rec)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if _, ok := e.actors[d.ID]; ok {
		return fmt.Errorf("document %s already open", d.ID)
	}
	e.store.Put(d)
	e.spawnLocked(d)
	return nil
}

// Close stops every document actor.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, a := range e.actors {
		close(a.stop)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
