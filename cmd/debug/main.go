package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-graphviz"

	"github.com/astromechza/textsync/pkg/document"
	"github.com/astromechza/textsync/pkg/persist"
	"github.com/astromechza/textsync/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	driverVar := flag.String("driver", persist.DriverSqlite, "the storage driver of the backup database")
	dotVar := flag.Bool("dot", false, "print the history graph in dot format instead of the log")
	svgVar := flag.Bool("svg", false, "also render the history graph to a temporary svg file")
	flag.Parse()
	if flag.NArg() < 1 || flag.NArg() > 2 {
		return fmt.Errorf("expected one or two positional arguments: the database to read and an optional document id")
	}

	ctx := context.Background()
	b, err := persist.Open(ctx, *driverVar, flag.Arg(0))
	if err != nil {
		return err
	}
	defer b.Close()
	recs, err := persist.Records(ctx, b)
	if err != nil {
		return err
	}

	if flag.NArg() == 1 {
		for _, rec := range recs {
			slog.Info("document", "id", rec.ID, "base", rec.Base, "revision", rec.Base+len(rec.Ops), "snapshots", len(rec.Snapshots))
		}
		return nil
	}

	var rec *document.Record
	for i := range recs {
		if recs[i].ID == flag.Arg(1) {
			rec = &recs[i]
		}
	}
	if rec == nil {
		return fmt.Errorf("document %s not found", flag.Arg(1))
	}
	d, err := document.FromRecord(*rec)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	slog.Info("loaded doc", "contents", d.Text)
	slog.Info("loaded revision", "revision", d.Revision(), "base", d.Base)

	if *dotVar {
		if err := viz.RenderHistory(ctx, *rec, graphviz.XDOT, os.Stdout); err != nil {
			return err
		}
	} else {
		slog.Info("changes:")
		for i, op := range d.Ops {
			ins, del := op.Counts()
			slog.Info("change", "rev", fmt.Sprintf("%4d", d.Base+i+1), "inserted", ins, "deleted", del, "delta", op.String())
		}
		for i, s := range d.Snapshots {
			slog.Info("snapshot", "i", i, "index", s.Index, "text", s.Text)
		}
	}

	if *svgVar {
		svgPath, err := viz.RenderToTemp(ctx, *rec)
		if err != nil {
			return fmt.Errorf("failed to render: %w", err)
		}
		slog.Info("rendered", "document", rec.ID, "path", "file://"+svgPath)
	}
	return nil
}
