package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"openbook-quoter/config"
	"openbook-quoter/infrastructure/logger"
)

type stubBalances struct {
	mu    sync.Mutex
	quote float64
	base  float64
	err   error
}

func (s *stubBalances) Balances(ctx context.Context) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quote, s.base, s.err
}

func (s *stubBalances) set(quote, base float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote, s.base = quote, base
}

func invCfg() config.InventoryConfig {
	return config.InventoryConfig{
		QuoteLowWater:    1000,
		BaseLowWater:     6,
		LeanFactor:       1.1,
		TargetMaxUnits:   5,
		AskSpreadTighten: 0.99985,
		BidSpreadTighten: 1.0012,
	}
}

func newTestController(src *stubBalances) *Controller {
	return NewController(invCfg(), 30, src, time.Hour, logger.Nop())
}

func refresh(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}
}

func TestControllerNeutralWhenHealthy(t *testing.T) {
	src := &stubBalances{quote: 5000, base: 40}
	c := newTestController(src)
	refresh(t, c)

	b := c.Bias()
	if b.QuoteLeaning || b.BaseLeaning || b.GigaLean {
		t.Fatalf("healthy balances must be neutral: %+v", b)
	}
	if b.AskSizeMultiplier != 1 || b.BidSpreadMultiplier != 1 {
		t.Fatalf("healthy multipliers must be 1: %+v", b)
	}
	if bid, ask := c.TakeForcedRequotes(); bid || ask {
		t.Fatal("no forced requotes expected")
	}
}

func TestControllerRefreshOnceError(t *testing.T) {
	src := &stubBalances{err: errors.New("rpc down")}
	c := newTestController(src)
	if err := c.RefreshOnce(context.Background()); err == nil {
		t.Fatal("RefreshOnce must propagate the error")
	}
	if _, _, ok := c.Balances(); ok {
		t.Fatal("failed refresh must not mark balances as read")
	}
}

func TestControllerQuoteLean(t *testing.T) {
	src := &stubBalances{quote: 900, base: 40} // base < 75 => no giga
	c := newTestController(src)
	refresh(t, c)

	b := c.Bias()
	if !b.QuoteLeaning {
		t.Fatal("low quote balance must lean")
	}
	if b.AskSizeMultiplier != 1.1 {
		t.Fatalf("AskSizeMultiplier = %v, want lean factor", b.AskSizeMultiplier)
	}
	if b.AskSpreadMultiplier != 0.99985 {
		t.Fatalf("AskSpreadMultiplier = %v, want tighten", b.AskSpreadMultiplier)
	}
	if b.GigaLean {
		t.Fatal("base below half target must not be giga")
	}

	bid, ask := c.TakeForcedRequotes()
	if bid || !ask {
		t.Fatalf("lean transition must force one ask requote: bid=%v ask=%v", bid, ask)
	}
	// 取走即清零
	if _, ask := c.TakeForcedRequotes(); ask {
		t.Fatal("forced flags must clear on take")
	}
}

func TestControllerQuoteLeanForcedOnlyOnTransition(t *testing.T) {
	src := &stubBalances{quote: 900, base: 40}
	c := newTestController(src)
	refresh(t, c)
	c.TakeForcedRequotes()

	// 持续处于倾斜状态不重复强制
	refresh(t, c)
	if _, ask := c.TakeForcedRequotes(); ask {
		t.Fatal("staying leaned must not force again")
	}

	// 恢复后再次跌破水位重新触发
	src.set(5000, 40)
	refresh(t, c)
	src.set(900, 40)
	refresh(t, c)
	if _, ask := c.TakeForcedRequotes(); !ask {
		t.Fatal("re-entering the lean must force a requote")
	}
}

func TestControllerQuoteLeanInsufficientBase(t *testing.T) {
	// 基础资产不足以覆盖放大的卖量:不放大卖量,但仍收紧价差
	src := &stubBalances{quote: 900, base: 20} // 20 <= 30*1.1
	c := newTestController(src)
	refresh(t, c)

	b := c.Bias()
	if b.AskSizeMultiplier != 1 {
		t.Fatalf("AskSizeMultiplier = %v, want 1", b.AskSizeMultiplier)
	}
	if !b.QuoteLeaning {
		t.Fatal("must still lean")
	}
}

func TestControllerGigaLean(t *testing.T) {
	// base >= quoteSize*targetMaxUnits/2 = 75 且 base > quoteSize
	src := &stubBalances{quote: 900, base: 80}
	c := newTestController(src)
	refresh(t, c)

	b := c.Bias()
	if !b.GigaLean {
		t.Fatalf("excess base inventory must enter giga mode: %+v", b)
	}
	if b.AskSizeMultiplier != 1.1 {
		t.Fatalf("AskSizeMultiplier = %v", b.AskSizeMultiplier)
	}
}

func TestControllerBaseLean(t *testing.T) {
	src := &stubBalances{quote: 5000, base: 5}
	c := newTestController(src)
	refresh(t, c)

	b := c.Bias()
	if !b.BaseLeaning {
		t.Fatal("low base balance must lean the bid")
	}
	if b.BidSpreadMultiplier != 1.0012 {
		t.Fatalf("BidSpreadMultiplier = %v, want tighten", b.BidSpreadMultiplier)
	}
	bid, ask := c.TakeForcedRequotes()
	if !bid || ask {
		t.Fatalf("base lean transition must force one bid requote: bid=%v ask=%v", bid, ask)
	}
}

func TestControllerBalancesAccessor(t *testing.T) {
	src := &stubBalances{quote: 5000, base: 40}
	c := newTestController(src)

	if _, _, ok := c.Balances(); ok {
		t.Fatal("Balances must report ok=false before the first read")
	}
	refresh(t, c)
	quote, base, ok := c.Balances()
	if !ok || quote != 5000 || base != 40 {
		t.Fatalf("Balances = %v/%v ok=%v", quote, base, ok)
	}
}
