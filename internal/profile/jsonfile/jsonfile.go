package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/FranksOps/magpie/internal/profile"
)

// ExportFileName returns the date-stamped name used for export files,
// e.g. profiles-2026-08-31.json.
func ExportFileName(t time.Time) string {
	return fmt.Sprintf("profiles-%s.json", t.Format("2006-01-02"))
}

// Write encodes records as a JSON array to the provided writer.
func Write(w io.Writer, records []profile.Record) error {
	if records == nil {
		records = []profile.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	return nil
}

// Read decodes a JSON array of records from the provided reader.
func Read(r io.Reader) ([]profile.Record, error) {
	var records []profile.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	return records, nil
}

// Export dumps the whole store into a date-named JSON file under dir and
// returns the file path.
func Export(ctx context.Context, store profile.Store, dir string, now time.Time) (string, error) {
	records, err := store.ExportAll(ctx)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, ExportFileName(now))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}

	if err := Write(f, records); err != nil {
		_ = f.Close()
		return "", err
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}

	return path, nil
}

// Summary describes one finished scrape run for operators and downstream
// tooling.
type Summary struct {
	Outcome      string `json:"outcome"`
	PagesVisited int    `json:"pagesVisited"`
	RecordsSaved int    `json:"recordsSaved"`
	Rejected     int    `json:"rejected,omitempty"`
	Diagnostic   string `json:"diagnostic,omitempty"`
	FinishedAt   int64  `json:"finishedAt"`
}

// WriteSummary writes a timestamp-named run summary under dir and returns the
// file path.
func WriteSummary(dir string, s Summary, now time.Time) (string, error) {
	if s.FinishedAt == 0 {
		s.FinishedAt = now.UnixMilli()
	}

	path := filepath.Join(dir, fmt.Sprintf("run-%s.json", now.Format("2006-01-02T15-04-05")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create summary file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("encode summary: %w", err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close summary file: %w", err)
	}
	return path, nil
}

// Import merges records from a JSON export file into the store. Existing ids
// are overwritten, so importing the same file twice is harmless.
func Import(ctx context.Context, store profile.Store, path string) (profile.UpsertStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return profile.UpsertStats{}, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	records, err := Read(f)
	if err != nil {
		return profile.UpsertStats{}, err
	}

	return store.UpsertMany(ctx, records)
}
