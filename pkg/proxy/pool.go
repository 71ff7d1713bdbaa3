package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Proxy represents a single proxy endpoint with health tracking.
type Proxy struct {
	URL           *url.URL
	Failures      int
	Successes     int
	LastUsed      time.Time
	Disabled      bool
	DisabledUntil time.Time
}

// Pool manages a rotation of proxies. Listing pages are fetched one at a
// time, so rotation here is about spreading a long paginated run across
// exits, not about concurrency.
type Pool struct {
	mu           sync.Mutex
	proxies      []*Proxy
	byKey        map[string]*Proxy
	currentIndex int
	maxFailures  int
	cooldown     time.Duration
}

// Config defines settings for the proxy pool.
type Config struct {
	// MaxFailures before disabling a proxy temporarily.
	MaxFailures int
	// Cooldown is how long a proxy remains disabled after hitting MaxFailures.
	Cooldown time.Duration
}

// NewPool creates a new proxy pool. Zero config values get defaults.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		byKey:       make(map[string]*Proxy),
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// LoadFile reads proxies from a file, one URL per line. Empty lines and
// lines starting with '#' are ignored.
func (p *Pool) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open proxy file: %w", err)
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read proxy file: %w", err)
	}

	return p.Add(urls...)
}

// Add parses raw URL strings and adds them to the pool.
func (p *Pool) Add(rawURLs ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, raw := range rawURLs {
		if !strings.Contains(raw, "://") {
			// default to http if scheme is missing
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse proxy url %q: %w", raw, err)
		}
		prx := &Proxy{URL: u}
		p.proxies = append(p.proxies, prx)
		p.byKey[u.String()] = prx
	}
	return nil
}

// Next returns the next healthy proxy URL, round-robin. It returns nil if
// the pool is empty or every proxy is cooling down.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return nil
	}

	now := time.Now()
	startIndex := p.currentIndex

	for {
		prx := p.proxies[p.currentIndex]
		p.currentIndex = (p.currentIndex + 1) % len(p.proxies)

		if prx.Disabled && now.After(prx.DisabledUntil) {
			prx.Disabled = false
			prx.Failures = 0 // reset failures on revival
		}

		if !prx.Disabled {
			prx.LastUsed = now
			return prx.URL
		}

		// Looped all the way around: nothing healthy.
		if p.currentIndex == startIndex {
			return nil
		}
	}
}

// MarkSuccess records a successful page load through the given proxy.
func (p *Pool) MarkSuccess(proxyURL *url.URL) error {
	prx, err := p.lookup(proxyURL)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	prx.Successes++
	if prx.Failures > 0 {
		prx.Failures--
	}
	return nil
}

// MarkFailure records a failed page load. A proxy exceeding the configured
// failure count is benched for the cooldown period.
func (p *Pool) MarkFailure(proxyURL *url.URL) error {
	prx, err := p.lookup(proxyURL)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	prx.Failures++
	if prx.Failures >= p.maxFailures {
		prx.Disabled = true
		prx.DisabledUntil = time.Now().Add(p.cooldown)
	}
	return nil
}

func (p *Pool) lookup(u *url.URL) (*Proxy, error) {
	if u == nil {
		return nil, errors.New("proxy URL cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	prx, ok := p.byKey[u.String()]
	if !ok {
		return nil, fmt.Errorf("proxy %s not found in pool", u)
	}
	return prx, nil
}
