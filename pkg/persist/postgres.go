package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents in a shared postgres database.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if _, err := pool.Exec(
		ctx,
		`CREATE TABLE IF NOT EXISTS documents (
		id text not null primary key,
		content text not null
		)`,
	); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Save(ctx context.Context, id, content string) (bool, error) {
	tag, err := p.pool.Exec(
		ctx,
		`INSERT INTO documents (id, content) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content WHERE documents.content IS DISTINCT FROM EXCLUDED.content`,
		id, content,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) LoadAll(ctx context.Context) (map[string]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, content FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out[id] = content
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
