package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/FranksOps/magpie/internal/profile"
	_ "modernc.org/sqlite"
)

// ensure sqliteStore implements profile.Store
var _ profile.Store = (*sqliteStore)(nil)

type sqliteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	headline TEXT NOT NULL,
	location TEXT NOT NULL,
	scraped_at INTEGER NOT NULL
);
`

// New creates a new SQLite-backed profile.Store.
func New(dsn string) (profile.Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

// UpsertMany writes records keyed by id, overwriting existing rows. Calling
// it with no records is a valid no-op that still ensures the table exists.
func (s *sqliteStore) UpsertMany(ctx context.Context, records []profile.Record) (profile.UpsertStats, error) {
	var stats profile.UpsertStats

	// The schema ran at open time, but the store contract requires existence
	// after every upsert call, including empty ones.
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return stats, fmt.Errorf("ensure profiles table: %w", err)
	}

	if len(records) > 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return stats, fmt.Errorf("begin upsert: %w", err)
		}

		query := `
		INSERT INTO profiles (id, name, url, headline, location, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			headline = excluded.headline,
			location = excluded.location,
			scraped_at = excluded.scraped_at
		`

		for _, r := range records {
			if _, err := tx.ExecContext(ctx, query,
				r.ID, r.Name, r.URL, r.Headline, r.Location, r.ScrapedAt,
			); err != nil {
				_ = tx.Rollback()
				return stats, fmt.Errorf("upsert profile %s: %w", r.ID, err)
			}
			stats.Saved++
		}

		if err := tx.Commit(); err != nil {
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

func (s *sqliteStore) ExportAll(ctx context.Context) ([]profile.Record, error) {
	rows, err := s.db.QueryContext(ctx,
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

func (s *sqliteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles`); err != nil {
		return fmt.Errorf("clear profiles: %w", err)
	}
	return nil
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
