package pricing

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestCacheEmpty(t *testing.T) {
	c := NewCache(0)
	if _, ok := c.Latest(); ok {
		t.Fatal("empty cache must report ok=false")
	}
}

func TestCacheFreshAndStale(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewCache(2 * time.Second)
	c.SetClock(clk)

	c.Set(Quote{Mid: 100, Confidence: 0.05})

	q, ok := c.Latest()
	if !ok || q.Mid != 100 || q.Confidence != 0.05 {
		t.Fatalf("Latest = %+v ok=%v", q, ok)
	}

	clk.advance(1900 * time.Millisecond)
	if _, ok := c.Latest(); !ok {
		t.Fatal("reading inside the bound must still be served")
	}

	clk.advance(200 * time.Millisecond)
	if _, ok := c.Latest(); ok {
		t.Fatal("reading beyond the staleness bound must be reported absent")
	}

	// 新读数恢复可用
	c.Set(Quote{Mid: 101, Confidence: 0.04})
	q, ok = c.Latest()
	if !ok || q.Mid != 101 {
		t.Fatalf("Latest after refresh = %+v ok=%v", q, ok)
	}
}

func TestCacheSetKeepsExplicitTimestamp(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewCache(2 * time.Second)
	c.SetClock(clk)

	observed := clk.now.Add(-3 * time.Second)
	c.Set(Quote{Mid: 100, Confidence: 0.05, ObservedAt: observed})
	if _, ok := c.Latest(); ok {
		t.Fatal("an already-stale reading must not be served")
	}
}
