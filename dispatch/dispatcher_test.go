package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"openbook-quoter/book"
	"openbook-quoter/infrastructure/logger"
)

type stubGateway struct {
	mu          sync.Mutex
	submitted   []QuoteRequest
	hardCancels []book.Side
	submitErr   error
	block       chan struct{} // 非 nil 时提交阻塞直到关闭
}

func (g *stubGateway) SubmitQuote(ctx context.Context, req QuoteRequest) (string, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.submitted = append(g.submitted, req)
	return "sub-1", nil
}

func (g *stubGateway) HardCancelAndSettle(ctx context.Context, instrument string, side book.Side) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hardCancels = append(g.hardCancels, side)
	return nil
}

func (g *stubGateway) submittedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submitted)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDispatcherSubmitExecutes(t *testing.T) {
	gw := &stubGateway{}
	d := NewDispatcher(gw, 2, 8, logger.Nop())
	d.Start(context.Background())
	defer d.Stop()

	req := QuoteRequest{Instrument: "SOL-USDC", Side: book.SideBid, Action: ActionNew, Price: 99.88, Size: 15}
	if err := d.Submit(req); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool { return gw.submittedCount() == 1 })

	gw.mu.Lock()
	got := gw.submitted[0]
	gw.mu.Unlock()
	if got.Price != 99.88 || got.Side != book.SideBid {
		t.Fatalf("gateway saw %+v", got)
	}
}

func TestDispatcherQueueFullRejectsNewest(t *testing.T) {
	gw := &stubGateway{block: make(chan struct{})}
	d := NewDispatcher(gw, 1, 2, logger.Nop())

	var rejected []string
	d.SetQueueRejectHandler(func(instrument string) {
		rejected = append(rejected, instrument)
	})
	// 不启动工作池:队列容量 2,第三次提交必须被拒
	if err := d.Submit(QuoteRequest{Instrument: "SOL-USDC"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := d.Submit(QuoteRequest{Instrument: "SOL-USDC"}); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	err := d.Submit(QuoteRequest{Instrument: "SOL-USDC"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third submit error = %v, want ErrQueueFull", err)
	}
	if len(rejected) != 1 || rejected[0] != "SOL-USDC" {
		t.Fatalf("reject handler calls = %v", rejected)
	}
}

func TestDispatcherFailureCallback(t *testing.T) {
	gw := &stubGateway{submitErr: errors.New("rpc timeout")}
	d := NewDispatcher(gw, 1, 8, logger.Nop())

	var mu sync.Mutex
	var failures []book.Side
	d.SetFailureHandler(func(instrument string, side book.Side) {
		mu.Lock()
		failures = append(failures, side)
		mu.Unlock()
	})
	d.Start(context.Background())
	defer d.Stop()

	if err := d.Submit(QuoteRequest{Instrument: "SOL-USDC", Side: book.SideAsk, Action: ActionReplace}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if failures[0] != book.SideAsk {
		t.Fatalf("failure side = %v", failures[0])
	}
}

func TestDispatcherHardCancel(t *testing.T) {
	gw := &stubGateway{}
	d := NewDispatcher(gw, 1, 8, logger.Nop())
	d.Start(context.Background())
	defer d.Stop()

	if err := d.SubmitHardCancel("SOL-USDC", book.SideBid); err != nil {
		t.Fatalf("SubmitHardCancel: %v", err)
	}
	waitFor(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return len(gw.hardCancels) == 1
	})
}

func TestDispatcherStopDrainsQueue(t *testing.T) {
	gw := &stubGateway{}
	d := NewDispatcher(gw, 1, 8, logger.Nop())

	for i := 0; i < 4; i++ {
		if err := d.Submit(QuoteRequest{Instrument: "SOL-USDC", Side: book.SideBid}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	d.Start(context.Background())
	d.Stop()

	if got := gw.submittedCount(); got != 4 {
		t.Fatalf("drained submissions = %d, want 4", got)
	}
}

func TestActionString(t *testing.T) {
	if ActionNew.String() != "NEW" || ActionReplace.String() != "REPLACE" || ActionNone.String() != "NONE" {
		t.Fatal("unexpected Action string values")
	}
}
