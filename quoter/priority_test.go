package quoter

import (
	"testing"

	"openbook-quoter/config"
)

func priorityCfg() config.PriorityConfig {
	return config.PriorityConfig{
		DefaultRate:         101420,
		CompetitorIncrement: 15000,
		FreshBidBoost:       1.35,
		FreshAskBoost:       1.55,
	}
}

func TestPriorityComputeQuiet(t *testing.T) {
	p := newPriorityController(priorityCfg())
	if got := p.Compute(0, false, false, 1.35); got != 101420 {
		t.Fatalf("quiet rate = %d, want default", got)
	}
	if p.Current() != 101420 {
		t.Fatalf("Current = %d", p.Current())
	}
}

func TestPriorityComputeSignals(t *testing.T) {
	p := newPriorityController(priorityCfg())

	if got := p.Compute(8000, false, false, 1.35); got != 101420+8000 {
		t.Fatalf("escalated rate = %d", got)
	}
	if got := p.Compute(0, true, false, 1.35); got != 101420+15000 {
		t.Fatalf("competitor rate = %d", got)
	}
	if got := p.Compute(8000, true, false, 1.35); got != 101420+8000+15000 {
		t.Fatalf("combined rate = %d", got)
	}
}

func TestPriorityFreshBoostMultiplies(t *testing.T) {
	p := newPriorityController(priorityCfg())
	want := int(float64(101420+15000) * 1.55)
	if got := p.Compute(0, true, true, 1.55); got != want {
		t.Fatalf("fresh boosted rate = %d, want %d", got, want)
	}
}

func TestPrioritySetDefault(t *testing.T) {
	p := newPriorityController(priorityCfg())
	p.SetDefault(0) // 非法值忽略
	if p.Default() != 101420 {
		t.Fatalf("Default = %d", p.Default())
	}
	p.SetDefault(150000)
	if got := p.Compute(0, false, false, 1); got != 150000 {
		t.Fatalf("rate after SetDefault = %d", got)
	}
}
