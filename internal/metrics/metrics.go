package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PagesVisited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_pages_visited_total",
			Help: "Total listing pages fetched and processed",
		},
	)

	RecordsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_records_extracted_total",
			Help: "Total candidate records extracted from listing pages",
		},
	)

	RecordsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_records_saved_total",
			Help: "Total profile records upserted into the store",
		},
	)

	SelectorMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_selector_misses_total",
			Help: "Fields no selector strategy could locate",
		},
		[]string{"field"},
	)

	EmptyPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_empty_pages_total",
			Help: "Listing pages that yielded zero candidates",
		},
	)

	ChallengeDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_challenge_detections_total",
			Help: "Bot-protection challenges encountered while fetching",
		},
		[]string{"source"},
	)

	SessionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_session_outcomes_total",
			Help: "Terminal scrape session outcomes",
		},
		[]string{"outcome"}, // completed, stopped, failed
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magpie_fetch_duration_seconds",
			Help:    "Duration of listing page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
)

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
