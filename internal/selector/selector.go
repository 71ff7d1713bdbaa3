// Package selector isolates the volatile, host-controlled CSS selectors into
// ordered fallback lists. A consumer tries each strategy in order and takes
// the first one that matches anything; the table itself never matches.
package selector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy is one lookup rule in an ordered fallback list. Name identifies
// the strategy in diagnostics when selectors go stale.
type Strategy struct {
	Name  string
	Query string
}

// Table declares the strategy lists for every logical field on a listing
// page, most-stable first, legacy markup last.
type Table struct {
	Container     []Strategy
	Link          []Strategy
	Name          []Strategy
	Headline      []Strategy
	Location      []Strategy
	PageIndicator []Strategy
	NextControl   []Strategy
}

// Default returns the strategy table for the current target markup.
func Default() Table {
	return Table{
		Container: []Strategy{
			{Name: "result-container", Query: "li.reusable-search__result-container"},
			{Name: "entity-result", Query: "div.entity-result"},
			{Name: "legacy-search-result", Query: "li.search-result"},
		},
		Link: []Strategy{
			{Name: "title-link", Query: "span.entity-result__title-text a[href*='/in/']"},
			{Name: "app-aware-link", Query: "a.app-aware-link[href*='/in/']"},
			{Name: "any-profile-link", Query: "a[href*='/in/']"},
		},
		Name: []Strategy{
			{Name: "hidden-span", Query: "span[aria-hidden='true']"},
			{Name: "ltr-span", Query: "span[dir='ltr']"},
			{Name: "link-text", Query: ""}, // empty query means the link's own text
		},
		Headline: []Strategy{
			{Name: "primary-subtitle", Query: "div.entity-result__primary-subtitle"},
			{Name: "subline-1", Query: ".subline-level-1"},
			{Name: "legacy-truncate", Query: "p.search-result__truncate"},
		},
		Location: []Strategy{
			{Name: "secondary-subtitle", Query: "div.entity-result__secondary-subtitle"},
			{Name: "subline-2", Query: ".subline-level-2"},
		},
		PageIndicator: []Strategy{
			{Name: "page-state", Query: "div.artdeco-pagination__page-state"},
			{Name: "page-buttons", Query: "ul.artdeco-pagination__pages li button"},
			{Name: "page-indicators", Query: "li.artdeco-pagination__indicator"},
		},
		NextControl: []Strategy{
			{Name: "next-button", Query: "button.artdeco-pagination__button--next"},
			{Name: "next-aria", Query: "button[aria-label='Next']"},
		},
	}
}

// First returns the matches of the first strategy that yields at least one
// node, along with the strategy name. Matches from later strategies are never
// accumulated on top; an item visible to two selectors must count once.
// A nil selection means no strategy matched, which is an expected outcome.
func First(root *goquery.Selection, strategies []Strategy) (*goquery.Selection, string) {
	for _, s := range strategies {
		if s.Query == "" {
			continue
		}
		if m := root.Find(s.Query); m.Length() > 0 {
			return m, s.Name
		}
	}
	return nil, ""
}

// FirstText walks the strategy list and, within each strategy, every matched
// node, returning the first candidate text accepted by the predicate. An
// empty-query strategy tests the root's own text. A nil accept takes any
// non-empty trimmed text.
func FirstText(root *goquery.Selection, strategies []Strategy, accept func(string) bool) (string, bool) {
	if accept == nil {
		accept = func(s string) bool { return s != "" }
	}

	for _, s := range strategies {
		var found string
		var ok bool

		try := func(sel *goquery.Selection) {
			if ok {
				return
			}
			text := strings.TrimSpace(sel.Text())
			if text != "" && accept(text) {
				found, ok = text, true
			}
		}

		if s.Query == "" {
			try(root)
		} else {
			root.Find(s.Query).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
				try(sel)
				return !ok
			})
		}

		if ok {
			return found, true
		}
	}

	return "", false
}
