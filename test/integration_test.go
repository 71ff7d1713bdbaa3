//go:build integration

package test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/magpie/internal/fingerprint"
	"github.com/FranksOps/magpie/internal/profile"
	"github.com/FranksOps/magpie/internal/profile/sqlite"
	"github.com/FranksOps/magpie/internal/scraper"
	"github.com/FranksOps/magpie/internal/selector"
	"github.com/FranksOps/magpie/internal/session"
)

const totalListingPages = 3

func listingPage(page int) string {
	items := ""
	for i := 0; i < 4; i++ {
		slug := fmt.Sprintf("person-%d-%d", page, i)
		items += fmt.Sprintf(`<li class="reusable-search__result-container">
  <span class="entity-result__title-text">
    <a href="/in/%s?miniProfile=x"><span aria-hidden="true">Person %d %d</span></a>
  </span>
  <div class="entity-result__primary-subtitle">Engineer</div>
  <div class="entity-result__secondary-subtitle">City %d</div>
</li>`, slug, page, i, i)
	}

	next := `<button class="artdeco-pagination__button--next">Next</button>`
	if page >= totalListingPages {
		next = `<button class="artdeco-pagination__button--next" disabled>Next</button>`
	}

	return fmt.Sprintf(`<html><body><ul>%s</ul>
<div class="artdeco-pagination__page-state">Page %d of %d</div>
%s</body></html>`, items, page, totalListingPages, next)
}

func newListingServer(t *testing.T, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search/results/people", func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 {
			page = 1
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, listingPage(page))
	})
	return httptest.NewServer(mux)
}

func newRunConfig(t *testing.T, serverURL string, store profile.Store, sessions session.Store) scraper.RunConfig {
	t.Helper()
	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
	})
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}

	return scraper.RunConfig{
		ListingURL:   serverURL + "/search/results/people?keywords=engineer",
		Table:        selector.Default(),
		Loader:       fetcher,
		Store:        store,
		Sessions:     sessions,
		SettleDelay:  time.Millisecond,
		MinPageDelay: time.Millisecond,
		MaxPageDelay: 5 * time.Millisecond,
		PollAttempts: 2,
		PollBackoff:  time.Millisecond,
	}
}

func TestIntegration_FullScrape(t *testing.T) {
	server := newListingServer(t, nil)
	defer server.Close()

	store, err := sqlite.New("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	defer store.Close()
	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	sessions, err := session.NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	runner, err := scraper.NewRunner(newRunConfig(t, server.URL, store, sessions))
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	report, err := runner.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if report.Outcome != scraper.OutcomeCompleted {
		t.Fatalf("Outcome = %q, want completed (diagnostic: %s)", report.Outcome, report.Diagnostic)
	}
	if report.PagesVisited != totalListingPages {
		t.Errorf("PagesVisited = %d, want %d", report.PagesVisited, totalListingPages)
	}

	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if want := totalListingPages * 4; n != want {
		t.Errorf("stored profiles = %d, want %d", n, want)
	}

	records, err := store.ExportAll(context.Background())
	if err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}
	for _, r := range records {
		if r.ID == "" || r.Name == "" || r.URL == "" {
			t.Errorf("incomplete record: %+v", r)
		}
	}
}

func TestIntegration_StopAndResume(t *testing.T) {
	var requests atomic.Int64
	server := newListingServer(t, &requests)
	defer server.Close()

	store, err := sqlite.New("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	defer store.Close()
	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	sessionPath := filepath.Join(t.TempDir(), "session.json")
	sessions, err := session.NewFileStore(sessionPath)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	// Simulate an interrupted navigation: the session says page 2 is next,
	// as a process that died mid-run would have left it.
	session.SaveActive(sessions, 2, totalListingPages)

	// A fresh store, as a new process would build, sees the same file.
	rehydrated, err := session.NewFileStore(sessionPath)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	runner, err := scraper.NewRunner(newRunConfig(t, server.URL, store, rehydrated))
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	report, resumed, err := runner.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if !resumed {
		t.Fatal("Resume() found nothing to resume")
	}
	if report.Outcome != scraper.OutcomeCompleted {
		t.Fatalf("Outcome = %q, want completed (diagnostic: %s)", report.Outcome, report.Diagnostic)
	}
	if report.PagesVisited != 2 {
		t.Errorf("PagesVisited = %d, want 2 (pages 2 and 3)", report.PagesVisited)
	}

	// Pages 2 and 3 only: 8 profiles.
	if n, _ := store.Count(context.Background()); n != 8 {
		t.Errorf("stored profiles = %d, want 8", n)
	}
}

func TestIntegration_StoppedSessionStaysStopped(t *testing.T) {
	server := newListingServer(t, nil)
	defer server.Close()

	store, err := sqlite.New("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	defer store.Close()

	sessionPath := filepath.Join(t.TempDir(), "session.json")
	sessions, err := session.NewFileStore(sessionPath)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	// A stop raced with a navigation: both the active state and the sticky
	// stopped flag ended up in storage. Stopped must win.
	session.MarkStopped(sessions)
	session.SaveActive(sessions, 2, totalListingPages)

	rehydrated, err := session.NewFileStore(sessionPath)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	runner, err := scraper.NewRunner(newRunConfig(t, server.URL, store, rehydrated))
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	if _, resumed, _ := runner.Resume(context.Background()); resumed {
		t.Fatal("Resume() resumed a stopped session")
	}
}

func TestIntegration_ChallengeFailsRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/results/people", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "<html><body>cf-browser-verification</body></html>")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := sqlite.New("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	defer store.Close()

	sessions, err := session.NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	runner, err := scraper.NewRunner(newRunConfig(t, server.URL, store, sessions))
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	report, err := runner.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if report.Outcome != scraper.OutcomeFailed {
		t.Fatalf("Outcome = %q, want failed", report.Outcome)
	}
	if !session.IsStopped(sessions) {
		t.Error("failed run did not leave a sticky stopped flag")
	}
}
