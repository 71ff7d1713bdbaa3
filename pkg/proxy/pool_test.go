package proxy

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mustAdd(t *testing.T, p *Pool, urls ...string) {
	t.Helper()
	if err := p.Add(urls...); err != nil {
		t.Fatalf("failed to add proxies: %v", err)
	}
}

func TestPool_RoundRobin(t *testing.T) {
	p := NewPool(Config{})
	mustAdd(t, p, "http://proxy1:8080", "http://proxy2:8080")

	first := p.Next()
	second := p.Next()
	third := p.Next()

	if first == nil || second == nil || third == nil {
		t.Fatal("expected proxies from a populated pool")
	}
	if first.String() == second.String() {
		t.Error("expected rotation between proxies")
	}
	if first.String() != third.String() {
		t.Error("expected round-robin to wrap around")
	}
}

func TestPool_EmptyReturnsNil(t *testing.T) {
	p := NewPool(Config{})
	if got := p.Next(); got != nil {
		t.Errorf("empty pool returned %v", got)
	}
}

func TestPool_SchemeDefault(t *testing.T) {
	p := NewPool(Config{})
	mustAdd(t, p, "bare-host:3128")

	u := p.Next()
	if u == nil || u.Scheme != "http" {
		t.Errorf("expected default http scheme, got %v", u)
	}
}

func TestPool_FailureCooldown(t *testing.T) {
	p := NewPool(Config{MaxFailures: 2, Cooldown: time.Hour})
	mustAdd(t, p, "http://flaky:8080")

	u := p.Next()
	if u == nil {
		t.Fatal("expected a proxy")
	}

	if err := p.MarkFailure(u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Next(); got == nil {
		t.Fatal("one failure must not bench the proxy")
	}

	if err := p.MarkFailure(u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Next(); got != nil {
		t.Errorf("expected benched proxy, got %v", got)
	}
}

func TestPool_SuccessReducesFailures(t *testing.T) {
	p := NewPool(Config{MaxFailures: 2, Cooldown: time.Hour})
	mustAdd(t, p, "http://flaky:8080")
	u := p.Next()

	_ = p.MarkFailure(u)
	if err := p.MarkSuccess(u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// One failure was repaid by the success; one more must not bench it.
	_ = p.MarkFailure(u)
	if got := p.Next(); got == nil {
		t.Error("proxy benched despite interleaved success")
	}
}

func TestPool_MarkUnknownProxy(t *testing.T) {
	p := NewPool(Config{})
	stranger, _ := url.Parse("http://stranger:8080")

	if err := p.MarkFailure(stranger); err == nil {
		t.Error("expected error for unknown proxy")
	}
	if err := p.MarkSuccess(nil); err == nil {
		t.Error("expected error for nil proxy URL")
	}
}

func TestPool_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := "# comment line\nhttp://proxy1:8080\n\nproxy2:3128\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write proxy file: %v", err)
	}

	p := NewPool(Config{})
	if err := p.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		if u := p.Next(); u != nil {
			seen[u.Host] = true
		}
	}
	if !seen["proxy1:8080"] || !seen["proxy2:3128"] {
		t.Errorf("loaded proxies = %v", seen)
	}
}
