package config

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestTuningStoreAdjustments(t *testing.T) {
	s := NewTuningStore(101420)

	tun := s.Snapshot()
	if tun.BidTuningFactor != 1 || tun.AskTuningFactor != 1 {
		t.Fatalf("initial factors = %+v", tun)
	}

	// 买侧放宽 = 因子下调(买价更低)，卖侧放宽 = 因子上调(卖价更高)
	s.WidenBids()
	s.WidenAsks()
	tun = s.Snapshot()
	if !almostEqual(tun.BidTuningFactor, 1-tuningStep) {
		t.Fatalf("BidTuningFactor after widen = %v", tun.BidTuningFactor)
	}
	if !almostEqual(tun.AskTuningFactor, 1+tuningStep) {
		t.Fatalf("AskTuningFactor after widen = %v", tun.AskTuningFactor)
	}

	s.TightenBids()
	s.TightenAsks()
	tun = s.Snapshot()
	if !almostEqual(tun.BidTuningFactor, 1) || !almostEqual(tun.AskTuningFactor, 1) {
		t.Fatalf("factors after tighten = %+v", tun)
	}

	s.TightenBidsHalf()
	s.TightenAsksHalf()
	tun = s.Snapshot()
	if !almostEqual(tun.BidTuningFactor, 1+tuningStep/2) {
		t.Fatalf("BidTuningFactor after half tighten = %v", tun.BidTuningFactor)
	}
	if !almostEqual(tun.AskTuningFactor, 1-tuningStep/2) {
		t.Fatalf("AskTuningFactor after half tighten = %v", tun.AskTuningFactor)
	}

	s.ResetBids()
	s.ResetAsks()
	tun = s.Snapshot()
	if tun.BidTuningFactor != 1 || tun.AskTuningFactor != 1 {
		t.Fatalf("factors after reset = %+v", tun)
	}
}

func TestTuningStoreSetters(t *testing.T) {
	s := NewTuningStore(101420)

	s.SetDefaultPriorityRate(0)
	if s.Snapshot().DefaultPriorityRate != 101420 {
		t.Fatal("non-positive rate must be ignored")
	}
	s.SetDefaultPriorityRate(120000)
	if s.Snapshot().DefaultPriorityRate != 120000 {
		t.Fatal("rate update lost")
	}

	s.SetQuoteSize(-1)
	if s.Snapshot().QuoteSize != 0 {
		t.Fatal("non-positive size must be ignored")
	}
	s.SetQuoteSize(45)
	if s.Snapshot().QuoteSize != 45 {
		t.Fatal("size update lost")
	}
}

func TestTuningLoadFile(t *testing.T) {
	path := writeTempFile(t, "tuning.yaml", `
bidTuningFactor: 0.9995
askTuningFactor: 1.0003
defaultPriorityRate: 150000
`)
	s := NewTuningStore(101420)
	if err := s.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	tun := s.Snapshot()
	if tun.BidTuningFactor != 0.9995 || tun.AskTuningFactor != 1.0003 {
		t.Fatalf("factors = %+v", tun)
	}
	if tun.DefaultPriorityRate != 150000 {
		t.Fatalf("rate = %d", tun.DefaultPriorityRate)
	}
}

func TestTuningLoadFileRejectsBadFactors(t *testing.T) {
	path := writeTempFile(t, "tuning.yaml", "bidTuningFactor: -1\n")
	s := NewTuningStore(101420)
	if err := s.LoadFile(path); err == nil {
		t.Fatal("expected error for non-positive factor")
	}
	// 失败的载入不得污染现有状态
	if s.Snapshot().BidTuningFactor != 1 {
		t.Fatal("failed load must leave the store untouched")
	}
}

func TestTuningWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(path, []byte("bidTuningFactor: 1\naskTuningFactor: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := NewTuningStore(101420)
	w, err := NewTuningWatcher(path, s, time.Millisecond, func(err error) {
		t.Logf("watch error: %v", err)
	})
	if err != nil {
		t.Fatalf("NewTuningWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	time.Sleep(5 * time.Millisecond)
	if err := os.WriteFile(path, []byte("bidTuningFactor: 0.9990\naskTuningFactor: 1\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if s.Snapshot().BidTuningFactor == 0.9990 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("reload not observed, factor = %v", s.Snapshot().BidTuningFactor)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
