// Package inventory 按较慢周期刷新钱包余额并计算报价倾斜。
package inventory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"openbook-quoter/config"
	"openbook-quoter/infrastructure/logger"
)

// BalanceSource 余额查询的外部能力。失败时保持上一份状态。
type BalanceSource interface {
	Balances(ctx context.Context) (quote float64, base float64, err error)
}

// Bias 一次倾斜计算的输出，由决策 tick 只读消费。
type Bias struct {
	AskSizeMultiplier   float64
	BidSizeMultiplier   float64
	AskSpreadMultiplier float64 // 1 表示无调整
	BidSpreadMultiplier float64
	QuoteLeaning        bool // 低报价资产余额，正在加卖
	BaseLeaning         bool // 低基础资产余额，正在加买
	GigaLean            bool // 基础资产严重超配
}

func neutralBias() Bias {
	return Bias{
		AskSizeMultiplier:   1,
		BidSizeMultiplier:   1,
		AskSpreadMultiplier: 1,
		BidSpreadMultiplier: 1,
	}
}

// Controller 周期性刷新余额并重算 Bias。只有它写 Bias 与余额状态；
// 强制重报标志由引擎在 tick 里取走（取走即清零）。
type Controller struct {
	cfg       config.InventoryConfig
	quoteSize float64
	source    BalanceSource
	interval  time.Duration
	log       *logger.Logger

	mu           sync.RWMutex
	quoteBalance float64
	baseBalance  float64
	hasBalances  bool
	bias         Bias
	forceBid     bool
	forceAsk     bool

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewController(cfg config.InventoryConfig, quoteSize float64, source BalanceSource, interval time.Duration, log *logger.Logger) *Controller {
	if interval <= 0 {
		interval = 9 * time.Second
	}
	return &Controller{
		cfg:       cfg,
		quoteSize: quoteSize,
		source:    source,
		interval:  interval,
		log:       log,
		bias:      neutralBias(),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// RefreshOnce 同步刷新一次。启动期调用，失败应视为致命。
func (c *Controller) RefreshOnce(ctx context.Context) error {
	quote, base, err := c.source.Balances(ctx)
	if err != nil {
		return err
	}
	c.apply(quote, base)
	return nil
}

// Start 启动刷新循环（后台 goroutine）。
func (c *Controller) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop 停止循环并等待退出。
func (c *Controller) Stop() {
	close(c.stopChan)
	<-c.doneChan
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			quote, base, err := c.source.Balances(ctx)
			if err != nil {
				// 瞬时失败：保持上一份状态
				c.log.Warn("balance refresh failed", zap.Error(err))
				continue
			}
			c.apply(quote, base)
		}
	}
}

// apply 根据最新余额重算倾斜。
func (c *Controller) apply(quote, base float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.quoteBalance = quote
	c.baseBalance = base
	c.hasBalances = true

	next := neutralBias()

	// 报价资产低水位：加大卖量换回报价资产，收紧卖价差，并强制卖侧重报
	if quote <= c.cfg.QuoteLowWater {
		next.AskSizeMultiplier = c.cfg.LeanFactor
		next.AskSpreadMultiplier = c.cfg.AskSpreadTighten
		next.QuoteLeaning = true

		// 基础资产不足以覆盖放大的卖量时不放大
		if base <= c.quoteSize*c.cfg.LeanFactor {
			next.AskSizeMultiplier = 1
		} else if base >= (c.quoteSize*c.cfg.TargetMaxUnits)/2 && base > c.quoteSize {
			// 基础资产严重超配：进入 giga 模式，卖侧费率窗口放宽
			next.GigaLean = true
		}

		if !c.bias.QuoteLeaning {
			c.forceAsk = true
			c.log.Info("leaning ask to rebalance",
				zap.Float64("quote_balance", quote),
				zap.Float64("lean_factor", c.cfg.LeanFactor),
				zap.Bool("giga", next.GigaLean))
		}
	}

	// 基础资产低水位：收紧买价差并强制买侧重报
	if base <= c.cfg.BaseLowWater {
		next.BidSpreadMultiplier = c.cfg.BidSpreadTighten
		next.BaseLeaning = true
		if !c.bias.BaseLeaning {
			c.forceBid = true
			c.log.Info("leaning bid to rebalance",
				zap.Float64("base_balance", base))
		}
	}

	c.bias = next
}

// Bias 返回最近一次计算的倾斜。
func (c *Controller) Bias() Bias {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bias
}

// Balances 返回最近一次成功读取的余额。
func (c *Controller) Balances() (quote, base float64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quoteBalance, c.baseBalance, c.hasBalances
}

// TakeForcedRequotes 取走强制重报标志，取走即清零。
func (c *Controller) TakeForcedRequotes() (bid, ask bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bid, ask = c.forceBid, c.forceAsk
	c.forceBid, c.forceAsk = false, false
	return bid, ask
}
