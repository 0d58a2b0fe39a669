package viz_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-graphviz"

	"github.com/astromechza/textsync/pkg/delta"
	"github.com/astromechza/textsync/pkg/document"
	"github.com/astromechza/textsync/pkg/viz"
)

func record() document.Record {
	return document.Record{
		ID:       "d",
		Text:     "ab",
		BaseText: "",
		Ops: []delta.Delta{
			*delta.New().Insert("a"),
			*delta.New().Retain(1).Insert("b"),
		},
		Snapshots: []document.Snapshot{{Index: 1, Text: "a"}},
	}
}

func TestRenderHistoryDot(t *testing.T) {
	var buf bytes.Buffer
	if err := viz.RenderHistory(context.Background(), record(), graphviz.XDOT, &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"r0", "r1", "r2", "s0", "snapshot 0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestRenderToTemp(t *testing.T) {
	p, err := viz.RenderToTemp(context.Background(), record())
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(p)
	raw, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "<svg") {
		t.Fatalf("not an svg: %.100s", raw)
	}
}

func TestRenderHistoryRejectsBrokenLog(t *testing.T) {
	rec := record()
	rec.Ops[1] = *delta.New().Retain(5)
	var buf bytes.Buffer
	if err := viz.RenderHistory(context.Background(), rec, graphviz.SVG, &buf); err == nil {
		t.Fatal("expected an error")
	}
}

func TestRenderToTempCleansUpOnFailure(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	rec := record()
	rec.Ops[1] = *delta.New().Retain(5)
	if _, err := viz.RenderToTemp(context.Background(), rec); err == nil {
		t.Fatal("expected an error")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("left %d files behind", len(entries))
	}

	p, err := viz.RenderToTemp(context.Background(), record())
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(p) != dir {
		t.Fatalf("rendered to %s, not %s", p, dir)
	}
}
