package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/magpie/internal/bypass"
	"github.com/FranksOps/magpie/internal/fingerprint"
	"github.com/FranksOps/magpie/internal/metrics"
	"github.com/FranksOps/magpie/pkg/httpclient"
	"github.com/FranksOps/magpie/pkg/proxy"
	"github.com/FranksOps/magpie/pkg/useragent"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// PageResult captures one listing page load. A transport-level failure is
// recorded in Error rather than returned, so the state machine always gets
// something to reason about.
type PageResult struct {
	ID         string
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	FetchedAt  time.Time
	Challenge  bypass.Detection
	Error      string
}

// OK reports whether the page loaded cleanly: transport succeeded, the host
// answered 200, and no bot challenge was detected.
func (r *PageResult) OK() bool {
	return r.Error == "" && r.StatusCode == http.StatusOK && !r.Challenge.Challenged
}

// Document parses the body into a goquery document.
func (r *PageResult) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("parse page body: %w", err)
	}
	return doc, nil
}

// FetchConfig configures listing page fetches.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	ProxyPool    *proxy.Pool
	UAPool       *useragent.Pool
	Fingerprint  fingerprint.Profile
}

// Fetcher loads listing pages with browser-like TLS and header posture. One
// Fetcher holds one client so the cookie jar spans a whole paginated run.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
}

// NewFetcher initializes a new Fetcher with the given configuration.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if string(cfg.Fingerprint) == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}

	// One transport per fetcher keeps connection pooling and the cookie jar.
	// Per-request proxy rotation goes through the request context because
	// mutating Transport.Proxy concurrently is not safe.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if val := req.Context().Value(proxyKey); val != nil {
			if u, ok := val.(*url.URL); ok {
				return u, nil
			}
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, proxyFunc)
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &Fetcher{
		config: cfg,
		client: client,
	}, nil
}

// Fetch executes a GET against the target listing URL and runs challenge
// detection on the response.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*PageResult, error) {
	start := time.Now()

	result := &PageResult{
		ID:        uuid.New().String(),
		URL:       targetURL,
		FetchedAt: start.UTC(),
	}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		activeProxy = f.config.ProxyPool.Next()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("create request: %v", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	if activeProxy != nil {
		req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
	}

	req.Header.Set("User-Agent", f.config.UAPool.GetSequential())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
		}
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Duration = time.Since(start)
		return result, nil
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = fmt.Sprintf("read body: %v", err)
	}

	result.StatusCode = resp.StatusCode
	result.Headers = resp.Header
	result.Body = body
	result.Duration = time.Since(start)

	result.Challenge = bypass.Detect(result.StatusCode, result.Headers, result.Body)
	if result.Challenge.Challenged {
		metrics.ChallengeDetections.WithLabelValues(result.Challenge.Source).Inc()
	}
	metrics.FetchDuration.Observe(result.Duration.Seconds())

	return result, nil
}
