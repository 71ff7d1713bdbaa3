package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/FranksOps/magpie/internal/profile"
)

func TestPostgresStore(t *testing.T) {
	// Only run this test if MAGPIE_TEST_PG_DSN is set
	dsn := os.Getenv("MAGPIE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres store test: MAGPIE_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create Postgres store: %v", err)
	}
	defer s.Close()

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Failed to clear store: %v", err)
	}

	rec := profile.Record{
		ID:        "testpg-jane",
		Name:      "Jane Doe",
		URL:       "https://site.example/in/testpg-jane",
		Headline:  "Engineer",
		Location:  "Toronto, Canada",
		ScrapedAt: 1700000000000,
	}

	stats, err := s.UpsertMany(ctx, []profile.Record{rec})
	if err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	if stats.Saved != 1 {
		t.Fatalf("Saved = %d, want 1", stats.Saved)
	}

	// Re-upsert with updated fields must not duplicate.
	rec.Name = "Jane A. Doe"
	if _, err := s.UpsertMany(ctx, []profile.Record{rec}); err != nil {
		t.Fatalf("Failed to re-upsert: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}

	all, err := s.ExportAll(ctx)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if len(all) != 1 || all[0].Name != "Jane A. Doe" {
		t.Fatalf("Export = %+v, want single updated record", all)
	}

	// Empty upsert must succeed and leave the count unchanged.
	if _, err := s.UpsertMany(ctx, nil); err != nil {
		t.Fatalf("Empty upsert failed: %v", err)
	}
	n, err = s.Count(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count after empty upsert = %d, want 1", n)
	}
}
