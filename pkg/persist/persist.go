// Package persist backs documents up to a database and loads them back on start.
//
// Each document is stored as one row holding its encoded record. Saving an unchanged record does
// not touch the row.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/astromechza/textsync/pkg/document"
	"github.com/astromechza/textsync/pkg/engine"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

// Backend stores encoded document records by id.
type Backend interface {
	// Save upserts the record and reports whether the stored content changed.
	Save(ctx context.Context, id, content string) (bool, error)
	// LoadAll returns the stored content of every document by id.
	LoadAll(ctx context.Context) (map[string]string, error)
	Close() error
}

// Open connects to the backend named by driver and ensures its table exists.
func Open(ctx context.Context, driver, dsn string) (Backend, error) {
	switch driver {
	case DriverSqlite:
		s, err := OpenSqlite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		p, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// Backup saves every open document of e. Documents that fail to save are logged and skipped so one
// bad row does not stop the rest.
func Backup(ctx context.Context, e *engine.Engine, b Backend, log *slog.Logger) (int, error) {
	saved := 0
	for _, id := range e.Documents() {
		rec, err := e.Export(ctx, id)
		if err != nil {
			return saved, fmt.Errorf("failed to export %s: %w", id, err)
		}
		content, err := rec.Encode()
		if err != nil {
			log.Error("failed to encode document", "document", id, "err", err)
			continue
		}
		changed, err := b.Save(ctx, id, content)
		if err != nil {
			log.Error("failed to backup document in database", "document", id, "err", err)
			continue
		}
		if changed {
			saved++
			log.Info("backed up", "document", id, "revision", rec.Base+len(rec.Ops))
		}
	}
	return saved, nil
}

// Records decodes every stored document, ordered by id.
func Records(ctx context.Context, b Backend) ([]document.Record, error) {
	rows, err := b.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]document.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := document.DecodeRecord(rows[id])
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", id, err)
		}
		if rec.ID != id {
			return nil, fmt.Errorf("row %s holds document %q", id, rec.ID)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Load imports every stored document into e.
func Load(ctx context.Context, e *engine.Engine, b Backend, log *slog.Logger) error {
	recs, err := Records(ctx, b)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := e.Import(rec); err != nil {
			return fmt.Errorf("failed to import %s: %w", rec.ID, err)
		}
		log.Info("loaded", "document", rec.ID, "revision", rec.Base+len(rec.Ops))
	}
	return nil
}
