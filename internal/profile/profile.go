package profile

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// Placeholder values substituted for fields that could not be extracted.
// Records are saved with placeholders rather than dropped; a profile URL is
// the only hard requirement.
const (
	PlaceholderName     = "Name not available"
	PlaceholderHeadline = "Headline not available"
	PlaceholderLocation = "Location not available"
)

// profileMarker is the path component that precedes the canonical profile
// slug on the target host, e.g. https://host/in/jane-doe-123.
const profileMarker = "/in/"

// ErrNoProfileURL is returned by Normalize when a candidate carries no URL
// from which an id can be derived. It is the only rejection reason.
var ErrNoProfileURL = errors.New("candidate has no derivable profile URL")

// Record is the persisted entity: one deduplicated profile per canonical URL.
type Record struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Headline  string `json:"headline"`
	Location  string `json:"location"`
	ScrapedAt int64  `json:"scrapedAt"` // epoch milliseconds
}

// Candidate is an extracted-but-not-yet-validated listing item.
type Candidate struct {
	Link     string
	Name     string
	Headline string
	Location string
	Index    int
}

// UpsertStats reports the outcome of an UpsertMany call.
type UpsertStats struct {
	Saved int // records written in this call
	Total int // records in the store afterwards
}

// Store is the persistence collaborator. Upserts are keyed by Record.ID, so
// re-scraping the same profile overwrites rather than duplicates. UpsertMany
// must succeed on an empty slice and still guarantee the store exists.
type Store interface {
	UpsertMany(ctx context.Context, records []Record) (UpsertStats, error)
	ExportAll(ctx context.Context) ([]Record, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// CanonicalizeURL strips the query string from a profile URL. This is a pure
// prefix truncation at the first '?'; fragments are left untouched.
func CanonicalizeURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// DeriveID extracts the canonical slug from a profile URL: the path segment
// immediately following the profile marker, up to the next '/' or the end.
// Percent-encoded bytes are kept verbatim. Returns "" when the URL does not
// contain the marker or the segment is empty.
func DeriveID(canonicalURL string) string {
	i := strings.Index(canonicalURL, profileMarker)
	if i < 0 {
		return ""
	}
	seg := canonicalURL[i+len(profileMarker):]
	if j := strings.IndexByte(seg, '/'); j >= 0 {
		seg = seg[:j]
	}
	// A fragment directly after the marker is not a slug.
	if j := strings.IndexByte(seg, '#'); j >= 0 {
		seg = seg[:j]
	}
	return seg
}

var (
	htmlCommentRe = regexp.MustCompile(`<!--.*?-->`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// CleanText normalizes free-text fields (headline, location): HTML comment
// artifacts are removed, runs of whitespace collapse to one space, and the
// result is trimmed.
func CleanText(s string) string {
	s = htmlCommentRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// CleanName normalizes a display name. Names only get comment removal and a
// leading/trailing trim; interior whitespace is kept as rendered.
func CleanName(s string) string {
	s = htmlCommentRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Normalize converts a candidate into a Record, or rejects it. Rejection
// happens only when no id/url pair can be derived; every other missing field
// degrades to a placeholder.
func Normalize(c Candidate, now time.Time) (Record, error) {
	canonical := CanonicalizeURL(strings.TrimSpace(c.Link))
	id := DeriveID(canonical)
	if canonical == "" || id == "" {
		return Record{}, ErrNoProfileURL
	}

	name := CleanName(c.Name)
	if name == "" {
		name = PlaceholderName
	}
	headline := CleanText(c.Headline)
	if headline == "" {
		headline = PlaceholderHeadline
	}
	location := CleanText(c.Location)
	if location == "" {
		location = PlaceholderLocation
	}

	return Record{
		ID:        id,
		Name:      name,
		URL:       canonical,
		Headline:  headline,
		Location:  location,
		ScrapedAt: now.UnixMilli(),
	}, nil
}
