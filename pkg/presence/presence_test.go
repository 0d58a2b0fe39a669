package presence_test

import (
	"reflect"
	"testing"

	"github.com/astromechza/textsync/pkg/presence"
)

func eq(t *testing.T, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestJoinReturnsFullList(t *testing.T) {
	tr := presence.NewTracker()
	eq(t, tr.Join("d", "p1", "Ada"), []presence.Entry{{"p1", "Ada"}})
	eq(t, tr.Join("d", "p2", "Bob"), []presence.Entry{{"p1", "Ada"}, {"p2", "Bob"}})

	// Joining again renames rather than duplicating.
	eq(t, tr.Join("d", "p1", "Ada L."), []presence.Entry{{"p1", "Ada L."}, {"p2", "Bob"}})
	eq(t, tr.List("missing"), []presence.Entry{})
}

func TestLeaveOnlyAffectsJoinedDocuments(t *testing.T) {
	tr := presence.NewTracker()
	tr.Join("d1", "p", "P")
	tr.Join("d1", "q", "Q")
	tr.Join("d2", "p", "P")
	tr.Join("d3", "q", "Q")

	affected := tr.Leave("p")
	eq(t, affected, map[string][]presence.Entry{
		"d1": {{"q", "Q"}},
		"d2": {},
	})
	eq(t, tr.List("d1"), []presence.Entry{{"q", "Q"}})
	eq(t, tr.List("d2"), []presence.Entry{})
	eq(t, tr.List("d3"), []presence.Entry{{"q", "Q"}})

	eq(t, tr.Leave("p"), map[string][]presence.Entry{})
}
