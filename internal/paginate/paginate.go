package paginate

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/magpie/internal/selector"
	"github.com/PuerkitoBio/goquery"
)

// pageParam is the query parameter carrying the listing page number.
const pageParam = "page"

// listingPath marks a URL as a paginated people-search listing.
const listingPath = "/search/results/people"

var pageOfRe = regexp.MustCompile(`(?i)page\s+(\d+)\s+of\s+(\d+)`)

// IsListingURL reports whether the URL points at a listing page this scraper
// understands.
func IsListingURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, listingPath)
}

// PageNumber reads the page parameter from a listing URL, defaulting to 1.
func PageNumber(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 1
	}
	n, err := strconv.Atoi(u.Query().Get(pageParam))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// PageURL rewrites the page parameter of a listing URL.
func PageURL(raw string, page int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(pageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TotalPages detects the page count from the pagination indicator, trying a
// "Page X of Y" text, then a trailing page-button number, then a count of
// indicator buttons. ok=false means unknown, which is distinct from 1: with
// an unknown total the navigator must fall back to next-control detection
// instead of stopping after the first page.
func TotalPages(doc *goquery.Document, table selector.Table) (int, bool) {
	indicators, _ := selector.First(doc.Selection, table.PageIndicator)
	if indicators == nil {
		return 0, false
	}

	// "Page X of Y"
	if m := pageOfRe.FindStringSubmatch(indicators.Text()); m != nil {
		if total, err := strconv.Atoi(m[2]); err == nil && total > 0 {
			return total, true
		}
	}

	// Trailing button number: the last indicator whose text is numeric.
	total := 0
	indicators.Each(func(_ int, sel *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(sel.Text())); err == nil && n > total {
			total = n
		}
	})
	if total > 0 {
		return total, true
	}

	// Indicator count. A single matched node at this point carries no number
	// and tells us nothing.
	if n := indicators.Length(); n > 1 {
		return n, true
	}

	return 0, false
}

// NextEnabled reports whether an enabled next-page control is present.
func NextEnabled(doc *goquery.Document, table selector.Table) bool {
	next, _ := selector.First(doc.Selection, table.NextControl)
	if next == nil {
		return false
	}

	enabled := false
	next.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if _, disabled := sel.Attr("disabled"); disabled {
			return true
		}
		if v, ok := sel.Attr("aria-disabled"); ok && v == "true" {
			return true
		}
		if cls, ok := sel.Attr("class"); ok && strings.Contains(cls, "disabled") {
			return true
		}
		enabled = true
		return false
	})

	return enabled
}

// HasControls reports whether any pagination markup is visible at all.
func HasControls(doc *goquery.Document, table selector.Table) bool {
	if indicators, _ := selector.First(doc.Selection, table.PageIndicator); indicators != nil {
		return true
	}
	next, _ := selector.First(doc.Selection, table.NextControl)
	return next != nil
}

// AwaitControls polls for pagination controls that the host page renders
// lazily, re-acquiring the document between attempts with a fixed backoff.
// The final document is returned either way so the caller keeps working with
// the freshest DOM. Cancellation is cooperative: the context and the stop
// check are consulted between attempts, never mid-fetch.
func AwaitControls(
	ctx context.Context,
	reload func(context.Context) (*goquery.Document, error),
	table selector.Table,
	attempts int,
	backoff time.Duration,
	stopped func() bool,
) (*goquery.Document, bool, error) {
	if attempts < 1 {
		attempts = 1
	}

	var doc *goquery.Document
	for i := 0; i < attempts; i++ {
		if stopped != nil && stopped() {
			return doc, false, ctx.Err()
		}

		var err error
		doc, err = reload(ctx)
		if err != nil {
			return nil, false, err
		}
		if HasControls(doc, table) {
			return doc, true, nil
		}

		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return doc, false, ctx.Err()
		case <-timer.C:
		}
	}

	return doc, false, nil
}
