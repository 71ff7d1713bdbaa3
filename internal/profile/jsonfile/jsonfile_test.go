package jsonfile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/magpie/internal/profile"
)

// memStore is a minimal in-memory profile.Store for exercising export/import.
type memStore struct {
	mu      sync.Mutex
	records map[string]profile.Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]profile.Record)}
}

func (m *memStore) UpsertMany(ctx context.Context, records []profile.Record) (profile.UpsertStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ID] = r
	}
	return profile.UpsertStats{Saved: len(records), Total: len(m.records)}, nil
}

func (m *memStore) ExportAll(ctx context.Context) ([]profile.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]profile.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]profile.Record)
	return nil
}

func (m *memStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *memStore) Close() error { return nil }

func TestExportFileName(t *testing.T) {
	ts := time.Date(2026, 8, 31, 15, 4, 5, 0, time.UTC)
	if got := ExportFileName(ts); got != "profiles-2026-08-31.json" {
		t.Errorf("ExportFileName = %q", got)
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	records := []profile.Record{
		{ID: "jane-doe-123", Name: "Jane Doe", URL: "https://site.example/in/jane-doe-123",
			Headline: "Engineer", Location: "Berlin, Germany", ScrapedAt: 1700000000000},
	}

	var buf bytes.Buffer
	if err := Write(&buf, records); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 1 || got[0] != records[0] {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestWrite_EmptyStoreIsArray(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// An empty store must export a JSON array, not null.
	if got := bytes.TrimSpace(buf.Bytes()); string(got) != "[]" {
		t.Errorf("empty export = %s, want []", got)
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	src := newMemStore()
	_, err := src.UpsertMany(ctx, []profile.Record{
		{ID: "a", Name: "A", URL: "https://site.example/in/a", Headline: "h", Location: "l", ScrapedAt: 1},
		{ID: "b", Name: "B", URL: "https://site.example/in/b", Headline: "h", Location: "l", ScrapedAt: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	path, err := Export(ctx, src, dir, now)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if filepath.Base(path) != "profiles-2026-08-31.json" {
		t.Errorf("export path = %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("export file missing: %v", err)
	}

	dst := newMemStore()
	stats, err := Import(ctx, dst, path)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("imported total = %d, want 2", stats.Total)
	}

	// Importing twice must not duplicate.
	stats, err = Import(ctx, dst, path)
	if err != nil {
		t.Fatalf("Second import failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("total after re-import = %d, want 2", stats.Total)
	}
}

func TestWriteSummary(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 31, 14, 30, 5, 0, time.UTC)

	path, err := WriteSummary(dir, Summary{
		Outcome:      "completed",
		PagesVisited: 3,
		RecordsSaved: 12,
	}, now)
	if err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	if filepath.Base(path) != "run-2026-08-31T14-30-05.json" {
		t.Errorf("summary path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	for _, want := range []string{`"completed"`, `"pagesVisited": 3`, `"recordsSaved": 12`, `"finishedAt"`} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("summary missing %s:\n%s", want, data)
		}
	}
}
