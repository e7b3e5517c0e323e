// Package sim 提供干跑模式的合成行情与网关,不连接真实撮合场所。
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"openbook-quoter/book"
	"openbook-quoter/dispatch"
	"openbook-quoter/infrastructure/logger"
	"openbook-quoter/pricing"
)

// Market 合成市场:中间价随机游走,盘口由背景挂单加上我们自己
// 通过网关提交的报价组成。同一个实例同时充当盘口源、参考价源、
// 余额源和下单网关,使引擎在干跑模式下走完整决策闭环。
type Market struct {
	instrument string
	self       string
	rng        *rand.Rand
	log        *logger.Logger

	mu         sync.RWMutex
	mid        float64
	confidence float64
	quoteBal   float64
	baseBal    float64
	lastBid    *dispatch.QuoteRequest
	lastAsk    *dispatch.QuoteRequest
}

// Config 合成市场参数。
type Config struct {
	Instrument   string
	SelfIdentity string
	StartMid     float64
	Confidence   float64
	QuoteBalance float64
	BaseBalance  float64
	Seed         int64
}

// NewMarket 创建合成市场。Seed 为 0 时使用当前时间。
func NewMarket(cfg Config, log *logger.Logger) *Market {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Market{
		instrument: cfg.Instrument,
		self:       cfg.SelfIdentity,
		rng:        rand.New(rand.NewSource(seed)),
		log:        log.Named("sim"),
		mid:        cfg.StartMid,
		confidence: cfg.Confidence,
		quoteBal:   cfg.QuoteBalance,
		baseBal:    cfg.BaseBalance,
	}
}

// Fetch 实现 book.Source:围绕当前中间价生成盘口,
// 并把上一次通过网关提交的自有报价摆回盘中。
func (m *Market) Fetch(ctx context.Context, instrument string) (*book.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 中间价随机游走,步长与置信区间同量级
	m.mid += (m.rng.Float64() - 0.5) * m.confidence

	mkBids := []book.Order{
		{Owner: "background-1", Price: m.mid * 0.9990, Size: 12},
		{Owner: "background-2", Price: m.mid * 0.9978, Size: 40},
	}
	mkAsks := []book.Order{
		{Owner: "background-1", Price: m.mid * 1.0011, Size: 11},
		{Owner: "background-3", Price: m.mid * 1.0024, Size: 35},
	}
	if m.lastBid != nil {
		mkBids = append([]book.Order{{Owner: m.self, Price: m.lastBid.Price, Size: m.lastBid.Size}}, mkBids...)
	}
	if m.lastAsk != nil {
		mkAsks = append([]book.Order{{Owner: m.self, Price: m.lastAsk.Price, Size: m.lastAsk.Size}}, mkAsks...)
	}

	return &book.Snapshot{
		Instrument: instrument,
		Bids:       sortBids(mkBids),
		Asks:       sortAsks(mkAsks),
		Ts:         time.Now(),
	}, nil
}

// Latest 实现引擎的参考价源。
func (m *Market) Latest() (pricing.Quote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pricing.Quote{
		Mid:        m.mid,
		Confidence: m.confidence,
		ObservedAt: time.Now(),
	}, true
}

// Balances 实现 inventory.BalanceSource。
func (m *Market) Balances(ctx context.Context) (quote, base float64, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quoteBal, m.baseBal, nil
}

// SubmitQuote 实现 dispatch.Gateway:记录报价并回写到合成盘口。
func (m *Market) SubmitQuote(ctx context.Context, req dispatch.QuoteRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := req
	if req.Side == book.SideBid {
		m.lastBid = &r
	} else {
		m.lastAsk = &r
	}
	m.log.Info("simulated quote accepted",
		zap.String("side", req.Side.String()),
		zap.String("action", req.Action.String()),
		zap.Float64("price", req.Price),
		zap.Float64("size", req.Size),
		zap.Int("priority_fee", req.PriorityFee))
	return "sim-" + req.Side.String(), nil
}

// HardCancelAndSettle 实现 dispatch.Gateway:清掉该侧的合成报价。
func (m *Market) HardCancelAndSettle(ctx context.Context, instrument string, side book.Side) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if side == book.SideBid {
		m.lastBid = nil
	} else {
		m.lastAsk = nil
	}
	m.log.Warn("simulated hard cancel", zap.String("side", side.String()))
	return nil
}

func sortBids(orders []book.Order) []book.Order {
	for i := 1; i < len(orders); i++ {
		for j := i; j > 0 && orders[j].Price > orders[j-1].Price; j-- {
			orders[j], orders[j-1] = orders[j-1], orders[j]
		}
	}
	return orders
}

func sortAsks(orders []book.Order) []book.Order {
	for i := 1; i < len(orders); i++ {
		for j := i; j > 0 && orders[j].Price < orders[j-1].Price; j-- {
			orders[j], orders[j-1] = orders[j-1], orders[j]
		}
	}
	return orders
}
