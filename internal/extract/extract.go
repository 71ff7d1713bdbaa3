package extract

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/FranksOps/magpie/internal/profile"
	"github.com/FranksOps/magpie/internal/selector"
	"github.com/PuerkitoBio/goquery"
)

// Stats describes what happened during one page extraction. Zero candidates
// is not an error here; the runner decides whether it signals stale selectors.
type Stats struct {
	Containers        string // container strategy that matched, "" if none
	Skipped           int    // containers with no discoverable profile link
	NameFallbacks     int    // names derived from the URL slug
	HeadlineMisses    int
	LocationMisses    int
}

// presencePhrases are status texts the host renders inside result items.
// They sit in the same spans as display names and must never be mistaken
// for one.
var presencePhrases = map[string]struct{}{
	"online":       {},
	"offline":      {},
	"away":         {},
	"active now":   {},
	"is reachable": {},
}

// nameRe accepts 2-99 runes of letters plus punctuation that occurs in
// personal names. It is deliberately loose; it only needs to reject obvious
// non-name artifacts.
var nameRe = regexp.MustCompile(`^[\p{L}\p{M}][\p{L}\p{M}'’.,() -]{1,98}$`)

// ValidName reports whether raw text is plausible as a display name.
func ValidName(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	if _, isStatus := presencePhrases[lower]; isStatus {
		return false
	}
	if strings.HasPrefix(lower, "status is ") {
		return false
	}
	return nameRe.MatchString(strings.TrimSpace(s))
}

var trailingDigitsRe = regexp.MustCompile(`\d`)

// FallbackName derives a readable name from a profile URL slug: digit-bearing
// suffix tokens are dropped, the rest are title-cased and joined with spaces.
// "jane-doe-123" becomes "Jane Doe". Returns "" when nothing readable remains.
func FallbackName(profileURL string) string {
	slug := profile.DeriveID(profile.CanonicalizeURL(profileURL))
	if slug == "" {
		return ""
	}

	tokens := strings.Split(slug, "-")
	// Numeric/hash suffixes only occur at the end of a slug.
	for len(tokens) > 0 && trailingDigitsRe.MatchString(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}

	var words []string
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		r := []rune(strings.ToLower(tok))
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words = append(words, string(r))
	}

	return strings.Join(words, " ")
}

// Page reads the live document once and returns one candidate per result
// item that has a discoverable profile link. Items without a link are skipped
// and counted, never fatal. Re-invoking rereads the DOM, which may differ.
func Page(doc *goquery.Document, table selector.Table, base *url.URL, logger *slog.Logger) ([]profile.Candidate, Stats) {
	if logger == nil {
		logger = slog.Default()
	}

	var stats Stats
	containers, containerStrategy := selector.First(doc.Selection, table.Container)
	if containers == nil {
		return nil, stats
	}
	stats.Containers = containerStrategy

	var candidates []profile.Candidate
	containers.Each(func(i int, container *goquery.Selection) {
		links, _ := selector.First(container, table.Link)
		link, href := firstAnchor(links)
		if link == nil {
			stats.Skipped++
			logger.Debug("result item has no profile link", "index", i, "container", containerStrategy)
			return
		}

		if base != nil {
			href = resolve(base, href)
		}

		name, ok := selector.FirstText(link, table.Name, ValidName)
		if !ok {
			name = FallbackName(href)
			stats.NameFallbacks++
		}

		headline, ok := selector.FirstText(container, table.Headline, nil)
		if !ok {
			stats.HeadlineMisses++
		}
		location, ok := selector.FirstText(container, table.Location, nil)
		if !ok {
			stats.LocationMisses++
		}

		candidates = append(candidates, profile.Candidate{
			Link:     href,
			Name:     name,
			Headline: headline,
			Location: location,
			Index:    i,
		})
	})

	return candidates, stats
}

// firstAnchor scans the matched anchors of one strategy and returns the first
// carrying a non-empty href.
func firstAnchor(links *goquery.Selection) (*goquery.Selection, string) {
	if links == nil {
		return nil, ""
	}

	var found *goquery.Selection
	var href string
	links.EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if h, ok := a.Attr("href"); ok && strings.TrimSpace(h) != "" {
			found, href = a, strings.TrimSpace(h)
			return false
		}
		return true
	})

	return found, href
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
