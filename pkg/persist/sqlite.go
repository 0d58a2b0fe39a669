package persist

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// Sqlite stores documents in a local sqlite file.
type Sqlite struct {
	db *sql.DB
}

func OpenSqlite(ctx context.Context, path string) (*Sqlite, error) {
	slog.Info("Opening database", "path", path)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.ExecContext(
		ctx,
		`CREATE TABLE IF NOT EXISTS documents (
		id text not null primary key,
		content text not null
		)`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Sqlite{db: db}, nil
}

func (s *Sqlite) Save(ctx context.Context, id, content string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO documents (id, content) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET content = excluded.content WHERE documents.content != excluded.content`,
		id, content,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Sqlite) LoadAll(ctx context.Context) (map[string]string, error) {
	res, err := s.db.QueryContext(ctx, `SELECT id, content FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			slog.Error("failed to close", "err", err)
		}
	}(res)
	out := make(map[string]string)
	for res.Next() {
		var id, content string
		if err := res.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out[id] = content
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return out, nil
}

func (s *Sqlite) Close() error {
	return s.db.Close()
}
