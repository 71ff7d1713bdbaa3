package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsAuditor checks fetch targets against the host's robots.txt. Results
// are cached per host. Hosts whose robots.txt cannot be retrieved or parsed
// are treated as allowing everything.
type RobotsAuditor struct {
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData
}

// NewRobotsAuditor creates an auditor with its own plain client. robots.txt
// fetches do not need the fingerprinted transport.
func NewRobotsAuditor(timeout time.Duration, logger *slog.Logger) *RobotsAuditor {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsAuditor{
		client: &http.Client{Timeout: timeout},
		logger: logger,
		cache:  make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether the given agent may fetch targetURL.
func (a *RobotsAuditor) Allowed(ctx context.Context, targetURL, agent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("parse target url: %w", err)
	}

	data, err := a.robotsFor(ctx, u)
	if err != nil {
		a.logger.Debug("robots.txt unavailable, allowing", "host", u.Host, "error", err)
		return true, nil
	}
	if data == nil {
		return true, nil
	}

	return data.TestAgent(u.Path, agent), nil
}

func (a *RobotsAuditor) robotsFor(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	key := u.Scheme + "://" + u.Host

	a.mu.Lock()
	data, cached := a.cache[key]
	a.mu.Unlock()
	if cached {
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("create robots request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}

	data, err = robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	a.mu.Lock()
	a.cache[key] = data
	a.mu.Unlock()

	return data, nil
}
