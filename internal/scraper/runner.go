package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/FranksOps/magpie/internal/extract"
	"github.com/FranksOps/magpie/internal/metrics"
	"github.com/FranksOps/magpie/internal/paginate"
	"github.com/FranksOps/magpie/internal/profile"
	"github.com/FranksOps/magpie/internal/selector"
	"github.com/FranksOps/magpie/internal/session"
	"github.com/FranksOps/magpie/pkg/ratelimit"
	"github.com/PuerkitoBio/goquery"
)

// Outcome is the terminal state of one scrape run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

// ErrNotListingURL is returned by Start when the target is not a people
// search listing page.
var ErrNotListingURL = errors.New("target is not a people search listing url")

// RunReport summarizes a finished run for the caller and for notifications.
type RunReport struct {
	Outcome      Outcome
	PagesVisited int
	RecordsSaved int
	Rejected     int
	LastPage     int
	Diagnostic   string
}

// PageLoader abstracts page acquisition so the runner can be driven by a fake
// in tests.
type PageLoader interface {
	Fetch(ctx context.Context, targetURL string) (*PageResult, error)
}

// RunConfig wires the runner's collaborators and pacing knobs.
type RunConfig struct {
	ListingURL string
	Table      selector.Table
	Loader     PageLoader
	Store      profile.Store
	Sessions   session.Store
	Logger     *slog.Logger

	// Notify, when set, receives the terminal report before the run returns.
	Notify func(RunReport)

	// SettleDelay is waited after each rehydration, giving the listing page
	// time to finish its own rendering before selectors run.
	SettleDelay time.Duration

	// MinPageDelay and MaxPageDelay bound the randomized pause between
	// consecutive page navigations.
	MinPageDelay time.Duration
	MaxPageDelay time.Duration

	// PollAttempts and PollBackoff bound the wait for lazily rendered
	// pagination controls when the total page count is unknown.
	PollAttempts int
	PollBackoff  time.Duration

	// EmptyPageThreshold is how many consecutive zero-record pages are
	// tolerated before the run fails with a stale-selector diagnostic.
	EmptyPageThreshold int
}

func (c *RunConfig) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.MinPageDelay == 0 {
		c.MinPageDelay = 500 * time.Millisecond
	}
	if c.MaxPageDelay == 0 {
		c.MaxPageDelay = 1500 * time.Millisecond
	}
	if c.PollAttempts == 0 {
		c.PollAttempts = 10
	}
	if c.PollBackoff == 0 {
		c.PollBackoff = 500 * time.Millisecond
	}
	if c.EmptyPageThreshold == 0 {
		c.EmptyPageThreshold = 3
	}
}

// Runner drives one paginated scrape. It is deliberately stateless between
// pages: every page iteration rehydrates from the session store, exactly as
// a brand new instance would after a full navigation, so stop requests and
// crashes are handled by the same path as normal operation.
type Runner struct {
	cfg  RunConfig
	base *url.URL
}

// NewRunner validates the configuration and returns a runner.
func NewRunner(cfg RunConfig) (*Runner, error) {
	if cfg.Loader == nil {
		return nil, errors.New("page loader is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("profile store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	cfg.applyDefaults()

	base, err := url.Parse(cfg.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}

	return &Runner{cfg: cfg, base: base}, nil
}

// Begin validates the target and seeds a fresh session, discarding any prior
// state including a sticky stopped flag. Callers that schedule the run
// asynchronously call Begin first, so the reset is already durable when they
// acknowledge the start; a stop arriving after that acknowledgment then lands
// on the new session instead of being wiped by it.
func (r *Runner) Begin() error {
	if !paginate.IsListingURL(r.cfg.ListingURL) {
		return ErrNotListingURL
	}

	session.Clear(r.cfg.Sessions)
	session.SaveActive(r.cfg.Sessions, paginate.PageNumber(r.cfg.ListingURL), 0)
	return nil
}

// Start begins a fresh run. The target must be a listing page; any prior
// session state, including a sticky stopped flag, is discarded.
func (r *Runner) Start(ctx context.Context) (RunReport, error) {
	if err := r.Begin(); err != nil {
		return RunReport{}, err
	}
	return r.run(ctx), nil
}

// Resume continues a run found in the session store, as happens when a new
// instance comes up after a navigation or a restart. The second return value
// is false when there was nothing to resume.
func (r *Runner) Resume(ctx context.Context) (RunReport, bool, error) {
	if _, ok := session.Rehydrate(r.cfg.Sessions); !ok {
		return RunReport{}, false, nil
	}
	return r.run(ctx), true, nil
}

// run is the rehydrate, extract, persist, decide, navigate loop. Each
// iteration begins from the durable session rather than in-memory state.
func (r *Runner) run(ctx context.Context) RunReport {
	var report RunReport
	emptyStreak := 0

	for {
		sess, active := session.Rehydrate(r.cfg.Sessions)
		if !active {
			return r.finish(report, OutcomeStopped, "")
		}
		report.LastPage = sess.CurrentPage

		if !r.pause(ctx, r.cfg.SettleDelay, r.cfg.SettleDelay) {
			return r.finish(report, OutcomeStopped, "")
		}

		pageURL, err := paginate.PageURL(r.cfg.ListingURL, sess.CurrentPage)
		if err != nil {
			return r.finish(report, OutcomeFailed, fmt.Sprintf("build page url: %v", err))
		}

		result, err := r.cfg.Loader.Fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return r.finish(report, OutcomeStopped, "")
			}
			return r.finish(report, OutcomeFailed, fmt.Sprintf("fetch page %d: %v", sess.CurrentPage, err))
		}
		if result.Error != "" {
			if ctx.Err() != nil {
				return r.finish(report, OutcomeStopped, "")
			}
			return r.finish(report, OutcomeFailed, fmt.Sprintf("fetch page %d: %s", sess.CurrentPage, result.Error))
		}
		if result.Challenge.Challenged {
			return r.finish(report, OutcomeFailed,
				fmt.Sprintf("bot challenge from %s on page %d", result.Challenge.Source, sess.CurrentPage))
		}
		if !result.OK() {
			return r.finish(report, OutcomeFailed,
				fmt.Sprintf("unexpected status %d on page %d", result.StatusCode, sess.CurrentPage))
		}

		doc, err := result.Document()
		if err != nil {
			return r.finish(report, OutcomeFailed, fmt.Sprintf("page %d: %v", sess.CurrentPage, err))
		}

		metrics.PagesVisited.Inc()
		report.PagesVisited++

		total := sess.TotalPages
		if total == 0 {
			if t, ok := paginate.TotalPages(doc, r.cfg.Table); ok {
				total = t
				r.cfg.Logger.Debug("detected total pages", "total", total)
			}
		}

		candidates, stats := extract.Page(doc, r.cfg.Table, r.base, r.cfg.Logger)
		metrics.RecordsExtracted.Add(float64(len(candidates)))
		countMisses(stats)

		records := make([]profile.Record, 0, len(candidates))
		now := time.Now()
		for _, c := range candidates {
			rec, err := profile.Normalize(c, now)
			if err != nil {
				report.Rejected++
				continue
			}
			records = append(records, rec)
		}

		// The upsert runs even with zero records so the store's existence
		// guarantee holds on every page.
		upserted, err := r.cfg.Store.UpsertMany(ctx, records)
		if err != nil {
			r.cfg.Logger.Error("upsert failed, continuing",
				"page", sess.CurrentPage, "records", len(records), "error", err)
		} else {
			metrics.RecordsSaved.Add(float64(upserted.Saved))
			report.RecordsSaved += upserted.Saved
		}

		r.cfg.Logger.Info("page processed",
			"page", sess.CurrentPage,
			"containers", stats.Containers,
			"extracted", len(candidates),
			"saved", len(records),
			"rejected", len(candidates)-len(records))

		if len(candidates) == 0 {
			emptyStreak++
			metrics.EmptyPages.Inc()
			if emptyStreak >= r.cfg.EmptyPageThreshold {
				return r.finish(report, OutcomeFailed,
					fmt.Sprintf("no records on %d consecutive pages, selectors may be stale", emptyStreak))
			}
		} else {
			emptyStreak = 0
		}

		more, err := r.hasNext(ctx, sess.CurrentPage, total, pageURL, doc)
		if err != nil {
			if ctx.Err() != nil || session.IsStopped(r.cfg.Sessions) {
				return r.finish(report, OutcomeStopped, "")
			}
			return r.finish(report, OutcomeFailed, fmt.Sprintf("pagination check on page %d: %v", sess.CurrentPage, err))
		}

		// Stop before completion: a stop observed during the continuation
		// check must never be reported as a clean finish, which would clear
		// the sticky flag.
		if session.IsStopped(r.cfg.Sessions) {
			return r.finish(report, OutcomeStopped, "")
		}
		if !more {
			return r.finish(report, OutcomeCompleted, "")
		}

		// Written before navigating so an interrupted navigation resumes on
		// the page it was heading to, never one it already saved.
		session.SaveActive(r.cfg.Sessions, sess.CurrentPage+1, total)

		if !r.pause(ctx, r.cfg.MinPageDelay, r.cfg.MaxPageDelay) {
			return r.finish(report, OutcomeStopped, "")
		}
	}
}

func countMisses(stats extract.Stats) {
	if stats.Skipped > 0 {
		metrics.SelectorMisses.WithLabelValues("link").Add(float64(stats.Skipped))
	}
	if stats.NameFallbacks > 0 {
		metrics.SelectorMisses.WithLabelValues("name").Add(float64(stats.NameFallbacks))
	}
	if stats.HeadlineMisses > 0 {
		metrics.SelectorMisses.WithLabelValues("headline").Add(float64(stats.HeadlineMisses))
	}
	if stats.LocationMisses > 0 {
		metrics.SelectorMisses.WithLabelValues("location").Add(float64(stats.LocationMisses))
	}
}

// hasNext decides whether another page should be visited: a known total with
// pages remaining continues immediately, and otherwise the next control is
// consulted, waiting out lazy rendering within the configured poll attempts.
// An exhausted total does not end the run on its own; the indicator fallbacks
// can undercount, so an enabled next control still wins.
func (r *Runner) hasNext(ctx context.Context, current, total int, pageURL string, doc *goquery.Document) (bool, error) {
	if total > 0 && current < total {
		return true, nil
	}

	if paginate.HasControls(doc, r.cfg.Table) {
		return paginate.NextEnabled(doc, r.cfg.Table), nil
	}

	reload := func(ctx context.Context) (*goquery.Document, error) {
		result, err := r.cfg.Loader.Fetch(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if result.Error != "" {
			return nil, errors.New(result.Error)
		}
		return result.Document()
	}

	stopped := func() bool { return session.IsStopped(r.cfg.Sessions) }

	polled, found, err := paginate.AwaitControls(ctx, reload, r.cfg.Table,
		r.cfg.PollAttempts, r.cfg.PollBackoff, stopped)
	if err != nil {
		return false, err
	}
	if !found || polled == nil {
		// Controls never appeared: a single-page result set.
		return false, nil
	}
	return paginate.NextEnabled(polled, r.cfg.Table), nil
}

// pause sleeps a randomized duration within [min, max] and reports whether
// the run may continue. Stop is checked both before and after the wait so a
// request landing mid-sleep never triggers another navigation.
func (r *Runner) pause(ctx context.Context, min, max time.Duration) bool {
	if session.IsStopped(r.cfg.Sessions) {
		return false
	}
	if err := ratelimit.Between(ctx, min, max); err != nil {
		return false
	}
	return !session.IsStopped(r.cfg.Sessions)
}

// finish applies the terminal transition: completion clears every session
// key, while stop and failure raise the sticky stopped flag so stale state
// cannot resurrect the run.
func (r *Runner) finish(report RunReport, outcome Outcome, diagnostic string) RunReport {
	report.Outcome = outcome
	report.Diagnostic = diagnostic

	switch outcome {
	case OutcomeCompleted:
		session.Clear(r.cfg.Sessions)
		r.cfg.Logger.Info("scrape completed",
			"pages", report.PagesVisited, "saved", report.RecordsSaved)
	case OutcomeStopped:
		session.MarkStopped(r.cfg.Sessions)
		r.cfg.Logger.Info("scrape stopped",
			"pages", report.PagesVisited, "saved", report.RecordsSaved)
	case OutcomeFailed:
		session.MarkStopped(r.cfg.Sessions)
		r.cfg.Logger.Error("scrape failed",
			"pages", report.PagesVisited, "saved", report.RecordsSaved, "diagnostic", diagnostic)
	}

	metrics.SessionOutcomes.WithLabelValues(string(outcome)).Inc()

	if r.cfg.Notify != nil {
		r.cfg.Notify(report)
	}
	return report
}
