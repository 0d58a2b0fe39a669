package client_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/astromechza/textsync/pkg/client"
	"github.com/astromechza/textsync/pkg/delta"
	"github.com/astromechza/textsync/pkg/engine"
)

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func eq(t *testing.T, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func isErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("got %v, want %v", err, target)
	}
}

func TestEditBuffersBehindInflight(t *testing.T) {
	e := client.New("abc", 4)

	out, send, err := e.Edit("abcd")
	ok(t, err)
	eq(t, send, true)
	eq(t, out.Revision, 4)
	eq(t, out.Delta.String(), `[r3 i"d"]`)

	_, send, err = e.Edit("xabcd")
	ok(t, err)
	eq(t, send, false)
	_, send, err = e.Edit("xabcde")
	ok(t, err)
	eq(t, send, false)
	eq(t, e.Text(), "xabcde")

	out, send, err = e.Ack(5)
	ok(t, err)
	eq(t, send, true)
	eq(t, out.Revision, 5)
	eq(t, out.Delta.String(), `[i"x" r4 i"e"]`)

	out, send, err = e.Ack(6)
	ok(t, err)
	eq(t, send, false)
	eq(t, e.Pending(), false)
	eq(t, e.Revision(), 6)

	_, _, err = e.Ack(7)
	isErr(t, err, client.ErrNothingInFlight)
}

func TestNoopEditIsNotSent(t *testing.T) {
	e := client.New("same", 0)
	_, send, err := e.Edit("same")
	ok(t, err)
	eq(t, send, false)
	eq(t, e.Pending(), false)
}

func TestApplyRemoteRebasesPendingEdits(t *testing.T) {
	e := client.New("hello", 1)
	_, _, err := e.Edit("hello!")
	ok(t, err)
	_, _, err = e.Edit("hello!?")
	ok(t, err)

	applied, err := e.ApplyRemote(2, *delta.New().Insert("hi ").Retain(5))
	ok(t, err)
	eq(t, applied.String(), `[i"hi " r7]`)
	eq(t, e.Text(), "hi hello!?")

	// The buffered edit was rebased over both the remote insert and the operation in flight.
	out, send, err := e.Ack(3)
	ok(t, err)
	eq(t, send, true)
	eq(t, out.Delta.String(), `[r9 i"?"]`)
}

func TestApplyRemoteRejectsGaps(t *testing.T) {
	e := client.New("", 3)
	_, err := e.ApplyRemote(5, *delta.New().Insert("x"))
	isErr(t, err, client.ErrOutOfOrder)
}

func TestApplyRestore(t *testing.T) {
	e := client.New("abc", 2)
	ok(t, e.ApplyRestore(3, "a", *delta.New().Retain(1).Delete(2)))
	eq(t, e.Text(), "a")

	// Pending edits survive a restore.
	_, _, err := e.Edit("a!")
	ok(t, err)
	ok(t, e.ApplyRestore(4, "xyz", *delta.New().Delete(1).Insert("xyz")))
	eq(t, e.Text(), "xyz!")
	eq(t, e.Pending(), true)

	e.SetHistory([]string{"a", "b"})
	eq(t, e.History(), []string{"a", "b"})
}

// network routes engine broadcasts into per-client inboxes.
type network struct {
	mu     sync.Mutex
	inbox  map[string][]engine.Event
	origin map[string]bool
}

func (n *network) Publish(ev engine.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id := range n.origin {
		n.inbox[id] = append(n.inbox[id], ev)
	}
}

func (n *network) pop(id string) (engine.Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.inbox[id]) == 0 {
		return engine.Event{}, false
	}
	ev := n.inbox[id][0]
	n.inbox[id] = n.inbox[id][1:]
	return ev, true
}

func randomEdit(r *rand.Rand, s string) string {
	runes := []rune(s)
	pos := r.Intn(len(runes) + 1)
	if len(runes) > 0 && r.Intn(3) == 0 {
		end := pos + r.Intn(len(runes)-pos+1)
		return string(runes[:pos]) + string(runes[end:])
	}
	return string(runes[:pos]) + string(rune('a'+r.Intn(26))) + string(runes[pos:])
}

func TestResetRebasesPendingEdits(t *testing.T) {
	e := client.New("abc", 5)
	_, send, err := e.Edit("abcd")
	ok(t, err)
	eq(t, send, true)
	_, send, err = e.Edit("xabcd")
	ok(t, err)
	eq(t, send, false)

	// The server dropped the operation in flight and has moved on to "abcZZ".
	out, send, err := e.Reset("abcZZ", 9)
	ok(t, err)
	eq(t, send, true)
	eq(t, out.Revision, 9)
	eq(t, e.Text(), "xabcdZZ")
	eq(t, e.Pending(), true)
	got, err := out.Delta.Apply("abcZZ")
	ok(t, err)
	eq(t, got, "xabcdZZ")

	_, send, err = e.Ack(10)
	ok(t, err)
	eq(t, send, false)
	eq(t, e.Pending(), false)
	eq(t, e.Revision(), 10)
}

func TestResetWithoutPendingEdits(t *testing.T) {
	e := client.New("a", 1)
	_, err := e.ApplyRemote(2, *delta.New().Retain(1).Insert("b"))
	ok(t, err)
	_, send, err := e.Reset("xyz", 7)
	ok(t, err)
	eq(t, send, false)
	eq(t, e.Text(), "xyz")
	eq(t, e.Revision(), 7)
	eq(t, e.Pending(), false)
}

func TestClientsConvergeRandomly(t *testing.T) {
	ctx := context.Background()
	net := &network{inbox: make(map[string][]engine.Event), origin: make(map[string]bool)}
	eng := engine.New(engine.Options{SnapshotInterval: 7, Broadcaster: net})
	defer eng.Close()

	const clients = 3
	ids := make([]string, clients)
	editors := make([]*client.Editor, clients)
	outbox := make([][]client.Outgoing, clients)
	for i := range editors {
		ids[i] = fmt.Sprintf("c%d", i)
		net.origin[ids[i]] = true
		editors[i] = client.New("", 0)
	}

	deliver := func(i int) bool {
		ev, found := net.pop(ids[i])
		if !found {
			return false
		}
		switch {
		case ev.Kind == engine.Restored:
			ok(t, editors[i].ApplyRestore(ev.Revision, ev.Text, ev.Delta))
		case ev.Origin == ids[i]:
			out, send, err := editors[i].Ack(ev.Revision)
			ok(t, err)
			if send {
				outbox[i] = append(outbox[i], out)
			}
		default:
			_, err := editors[i].ApplyRemote(ev.Revision, ev.Delta)
			ok(t, err)
		}
		return true
	}
	submit := func(i int) bool {
		if len(outbox[i]) == 0 {
			return false
		}
		out := outbox[i][0]
		outbox[i] = outbox[i][1:]
		_, err := eng.Submit(ctx, "doc", out.Revision, out.Delta, ids[i])
		ok(t, err)
		return true
	}

	r := rand.New(rand.NewSource(7))
	for step := 0; step < 2000; step++ {
		i := r.Intn(clients)
		switch r.Intn(4) {
		case 0:
			out, send, err := editors[i].Edit(randomEdit(r, editors[i].Text()))
			ok(t, err)
			if send {
				outbox[i] = append(outbox[i], out)
			}
		case 1:
			submit(i)
		case 2:
			if step%97 == 0 {
				if snaps, err := eng.ListSnapshots(ctx, "doc"); err == nil && len(snaps) > 0 {
					_, err := eng.Restore(ctx, "doc", r.Intn(len(snaps)), ids[i])
					ok(t, err)
				}
			}
		default:
			deliver(i)
		}
	}

	for progress := true; progress; {
		progress = false
		for i := range editors {
			for submit(i) {
				progress = true
			}
			for deliver(i) {
				progress = true
			}
		}
	}

	want, rev, err := eng.State(ctx, "doc")
	ok(t, err)
	for i, e := range editors {
		eq(t, fmt.Sprintf("c%d %q@%d pending=%v", i, e.Text(), e.Revision(), e.Pending()),
			fmt.Sprintf("c%d %q@%d pending=%v", i, want, rev, false))
	}
}
