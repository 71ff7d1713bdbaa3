package postgres

import (
	"context"
	"fmt"

	"github.com/FranksOps/magpie/internal/profile"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresStore implements profile.Store
var _ profile.Store = (*postgresStore)(nil)

type postgresStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	headline TEXT NOT NULL,
	location TEXT NOT NULL,
	scraped_at BIGINT NOT NULL
);
`

// New creates a new Postgres-backed profile.Store.
func New(ctx context.Context, dsn string) (profile.Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres store: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres store: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}

	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) UpsertMany(ctx context.Context, records []profile.Record) (profile.UpsertStats, error) {
	var stats profile.UpsertStats

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return stats, fmt.Errorf("ensure profiles table: %w", err)
	}

	if len(records) > 0 {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return stats, fmt.Errorf("begin upsert: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		query := `
		INSERT INTO profiles (id, name, url, headline, location, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			headline = EXCLUDED.headline,
			location = EXCLUDED.location,
			scraped_at = EXCLUDED.scraped_at
		`

		for _, r := range records {
			if _, err := tx.Exec(ctx, query,
				r.ID, r.Name, r.URL, r.Headline, r.Location, r.ScrapedAt,
			); err != nil {
				return stats, fmt.Errorf("upsert profile %s: %w", r.ID, err)
			}
			stats.Saved++
		}

		if err := tx.Commit(ctx); err != nil {
			return stats, fmt.Errorf("commit upsert: %w", err)
		}
	}

	total, err := s.Count(ctx)
	if err != nil {
		return stats, err
	}
	stats.Total = total

	return stats, nil
}

func (s *postgresStore) ExportAll(ctx context.Context) ([]profile.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, url, headline, location, scraped_at FROM profiles ORDER BY scraped_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("export profiles: %w", err)
	}
	defer rows.Close()

	var records []profile.Record
	for rows.Next() {
		var r profile.Record
		if err := rows.Scan(&r.ID, &r.Name, &r.URL, &r.Headline, &r.Location, &r.ScrapedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}

	return records, nil
}

func (s *postgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM profiles`); err != nil {
		return fmt.Errorf("clear profiles: %w", err)
	}
	return nil
}

func (s *postgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return n, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
