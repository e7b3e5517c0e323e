package quoter

import (
	"testing"
	"time"

	"openbook-quoter/book"
	"openbook-quoter/config"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func adversityCfg() config.AdversityConfig {
	return config.AdversityConfig{
		BidWidenWindowMs: 4000,
		AskWidenWindowMs: 3000,
		BidFeeWindowMs:   3000,
		AskFeeWindowMs:   2000,
		WidenScale:       0.000003,
		GigaWidenScale:   0.0000003,
		RateStep:         11500,
		Reduction:        5500,
	}
}

func TestWidenFractionBeforeAnyEvent(t *testing.T) {
	tr := newAdversityTracker(adversityCfg(), newFakeClock())
	if w := tr.WidenFraction(book.SideBid, false); w != 0 {
		t.Fatalf("widen before any event = %v, want 0", w)
	}
	if f := tr.FeeEscalation(book.SideBid, false); f != 0 {
		t.Fatalf("escalation before any event = %v, want 0", f)
	}
}

func TestWidenFractionDecaysMonotonicallyToZero(t *testing.T) {
	clk := newFakeClock()
	tr := newAdversityTracker(adversityCfg(), clk)
	tr.Record(book.SideBid)

	prev := tr.WidenFraction(book.SideBid, false)
	if prev <= 0 {
		t.Fatalf("widen right after event = %v, want > 0", prev)
	}
	for i := 0; i < 8; i++ {
		clk.advance(500 * time.Millisecond)
		w := tr.WidenFraction(book.SideBid, false)
		if w > prev {
			t.Fatalf("widen increased from %v to %v", prev, w)
		}
		prev = w
	}
	// 4000ms 窗口边界上必须精确为零，退出无阶跃
	if prev != 0 {
		t.Fatalf("widen at window boundary = %v, want exactly 0", prev)
	}
}

func TestWidenFractionPerSideWindows(t *testing.T) {
	clk := newFakeClock()
	tr := newAdversityTracker(adversityCfg(), clk)
	tr.Record(book.SideBid)
	tr.Record(book.SideAsk)

	clk.advance(3500 * time.Millisecond)
	if w := tr.WidenFraction(book.SideAsk, false); w != 0 {
		t.Fatalf("ask widen past its 3s window = %v, want 0", w)
	}
	if w := tr.WidenFraction(book.SideBid, false); w <= 0 {
		t.Fatalf("bid widen inside its 4s window = %v, want > 0", w)
	}
}

func TestGigaLeanDampensAskWidening(t *testing.T) {
	clk := newFakeClock()
	tr := newAdversityTracker(adversityCfg(), clk)
	tr.Record(book.SideAsk)

	normal := tr.WidenFraction(book.SideAsk, false)
	giga := tr.WidenFraction(book.SideAsk, true)
	if giga >= normal {
		t.Fatalf("giga widen %v must be smaller than normal %v", giga, normal)
	}
}

func TestFeeEscalationWindow(t *testing.T) {
	clk := newFakeClock()
	tr := newAdversityTracker(adversityCfg(), clk)
	tr.Record(book.SideBid)

	initial := tr.FeeEscalation(book.SideBid, false)
	if initial <= 0 {
		t.Fatalf("escalation right after event = %v, want > 0", initial)
	}

	clk.advance(time.Second)
	mid := tr.FeeEscalation(book.SideBid, false)
	if mid >= initial {
		t.Fatalf("escalation must decay: initial %v, after 1s %v", initial, mid)
	}

	clk.advance(3 * time.Second)
	if f := tr.FeeEscalation(book.SideBid, false); f != 0 {
		t.Fatalf("escalation past the window = %v, want 0", f)
	}
}

func TestFeeEscalationNeverNegative(t *testing.T) {
	cfg := adversityCfg()
	cfg.Reduction = 1e9 // 远大于窗口内的任何提升量
	clk := newFakeClock()
	tr := newAdversityTracker(cfg, clk)
	tr.Record(book.SideAsk)
	if f := tr.FeeEscalation(book.SideAsk, false); f != 0 {
		t.Fatalf("escalation = %v, want clamped to 0", f)
	}
}

func TestGigaLeanDoublesAskFeeWindow(t *testing.T) {
	clk := newFakeClock()
	tr := newAdversityTracker(adversityCfg(), clk)
	tr.Record(book.SideAsk)

	// 2s 窗口已过，但 giga 模式下窗口翻倍仍在生效
	clk.advance(2500 * time.Millisecond)
	if f := tr.FeeEscalation(book.SideAsk, false); f != 0 {
		t.Fatalf("normal escalation past window = %v, want 0", f)
	}
	if f := tr.FeeEscalation(book.SideAsk, true); f <= 0 {
		t.Fatalf("giga escalation inside doubled window = %v, want > 0", f)
	}
}

func TestRecordResetsTheWindow(t *testing.T) {
	clk := newFakeClock()
	tr := newAdversityTracker(adversityCfg(), clk)
	tr.Record(book.SideBid)
	clk.advance(5 * time.Second)
	if w := tr.WidenFraction(book.SideBid, false); w != 0 {
		t.Fatalf("widen after expiry = %v", w)
	}
	tr.Record(book.SideBid)
	if w := tr.WidenFraction(book.SideBid, false); w <= 0 {
		t.Fatal("a new event must restart the window")
	}
}
