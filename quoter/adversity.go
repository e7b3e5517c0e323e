package quoter

import (
	"time"

	"openbook-quoter/book"
	"openbook-quoter/config"
)

// adversityTracker records, per side, when our resting quote was last
// crossed by the reference price, and derives the two time-boxed
// adjustments that follow: a widening of the candidate and a priority
// fee escalation. Transitions are pure functions of elapsed wall-clock
// time; no external event ends a window early.
//
// Accessed only under the engine's tick lock.
type adversityTracker struct {
	cfg   config.AdversityConfig
	clock Clock

	lastBid time.Time
	lastAsk time.Time
}

func newAdversityTracker(cfg config.AdversityConfig, clock Clock) *adversityTracker {
	return &adversityTracker{cfg: cfg, clock: clock}
}

// Record stamps an adversity event for the side.
func (t *adversityTracker) Record(side book.Side) {
	if side == book.SideBid {
		t.lastBid = t.clock.Now()
	} else {
		t.lastAsk = t.clock.Now()
	}
}

// LastAt returns the side's last adversity timestamp.
func (t *adversityTracker) LastAt(side book.Side) time.Time {
	if side == book.SideBid {
		return t.lastBid
	}
	return t.lastAsk
}

func (t *adversityTracker) elapsed(side book.Side) (time.Duration, bool) {
	last := t.LastAt(side)
	if last.IsZero() {
		return 0, false
	}
	return t.clock.Now().Sub(last), true
}

// WidenFraction returns the multiplicative widening fraction for the
// side: maximal right after the adversity event, decaying linearly to
// exactly zero at the window boundary so there is no step at exit.
// Giga leaning dampens ask widening: with excess base inventory we want
// asks filled, not pushed away.
func (t *adversityTracker) WidenFraction(side book.Side, giga bool) float64 {
	elapsed, ok := t.elapsed(side)
	if !ok || elapsed < 0 {
		return 0
	}
	window := time.Duration(t.cfg.BidWidenWindowMs) * time.Millisecond
	if side == book.SideAsk {
		window = time.Duration(t.cfg.AskWidenWindowMs) * time.Millisecond
	}
	if elapsed >= window {
		return 0
	}
	scale := t.cfg.WidenScale
	if giga && side == book.SideAsk {
		scale = t.cfg.GigaWidenScale
	}
	remaining := window - elapsed
	return scale * float64(remaining) / float64(window)
}

// FeeEscalation returns the rate to add above the default priority fee,
// zero outside the fee window. Giga leaning doubles the ask fee window:
// while base inventory is excessive we pay up longer to keep the ask
// competitive.
func (t *adversityTracker) FeeEscalation(side book.Side, giga bool) float64 {
	elapsed, ok := t.elapsed(side)
	if !ok || elapsed < 0 {
		return 0
	}
	window := time.Duration(t.cfg.BidFeeWindowMs) * time.Millisecond
	if side == book.SideAsk {
		window = time.Duration(t.cfg.AskFeeWindowMs) * time.Millisecond
		if giga {
			window *= 2
		}
	}
	if elapsed >= window {
		return 0
	}
	raw := (window - elapsed).Seconds()*t.cfg.RateStep - t.cfg.Reduction
	if raw < 0 {
		return 0
	}
	return raw
}
