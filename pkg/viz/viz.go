// Package viz renders a document's retained history as a graph.
package viz

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/textsync/pkg/document"
)

const maxLabel = 40

func revisionNode(rev int) string {
	return "r" + strconv.Itoa(rev)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > maxLabel {
		return strconv.Quote(string(r[:maxLabel]) + "…")
	}
	return strconv.Quote(s)
}

// RenderHistory writes the log of rec as a chain of revisions, with every snapshot hanging off the
// revision it captured.
func RenderHistory(ctx context.Context, rec document.Record, format graphviz.Format, w io.Writer) error {
	g, err := graphviz.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup graphviz: %w", err)
	}
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()
	graph.SetRankDir(cgraph.LRRank)

	prev, err := graph.CreateNodeByName(revisionNode(rec.Base))
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	prev.SetShape(cgraph.BoxShape)
	prev.SetLabel(fmt.Sprintf("r%d %s", rec.Base, preview(rec.BaseText)))

	text := rec.BaseText
	for i, op := range rec.Ops {
		rev := rec.Base + i + 1
		if text, err = op.Apply(text); err != nil {
			return fmt.Errorf("failed to apply operation %d: %w", rev, err)
		}
		n, err := graph.CreateNodeByName(revisionNode(rev))
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetShape(cgraph.BoxShape)
		n.SetLabel(fmt.Sprintf("r%d %s", rev, preview(text)))
		e, err := graph.CreateEdgeByName(fmt.Sprintf("op%d", rev), prev, n)
		if err != nil {
			return fmt.Errorf("failed to create edge: %w", err)
		}
		e.SetLabel(op.String())
		prev = n
	}

	for i, s := range rec.Snapshots {
		n, err := graph.CreateNodeByName("s" + strconv.Itoa(i))
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetStyle(cgraph.FilledNodeStyle)
		n.SetFillColor("lightgrey")
		n.SetLabel(fmt.Sprintf("snapshot %d %s", i, preview(s.Text)))
		// Snapshots older than the retained log have no revision node to attach to.
		if s.Index < rec.Base {
			continue
		}
		at, err := graph.NodeByName(revisionNode(s.Index))
		if err != nil || at == nil {
			continue
		}
		e, err := graph.CreateEdgeByName("snap"+strconv.Itoa(i), at, n)
		if err != nil {
			return fmt.Errorf("failed to create edge: %w", err)
		}
		e.SetStyle(cgraph.DashedEdgeStyle)
	}

	if err := g.Render(ctx, graph, format, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}

// RenderToTemp renders rec as svg into a new temporary file and returns its path. Nothing is left
// behind when rendering or flushing the file fails.
func RenderToTemp(ctx context.Context, rec document.Record) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	f, err := os.Create(tf)
	if err != nil {
		return "", fmt.Errorf("failed to create output: %w", err)
	}
	if err := RenderHistory(ctx, rec, graphviz.SVG, f); err != nil {
		_ = f.Close()
		_ = os.Remove(tf)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tf)
		return "", fmt.Errorf("failed to close output: %w", err)
	}
	return tf, nil
}
