// Package quoter 实现单交易对的做市报价决策循环。
package quoter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"openbook-quoter/book"
	"openbook-quoter/config"
	"openbook-quoter/dispatch"
	"openbook-quoter/infrastructure/logger"
	"openbook-quoter/inventory"
	"openbook-quoter/metrics"
	"openbook-quoter/participant"
	"openbook-quoter/pricing"
)

// BookSource 提供最新盘口快照（由独立轮询刷新，原子交换）。
type BookSource interface {
	Latest() *book.Snapshot
}

// PriceSource 提供参考价；无数据或过期时 ok 为 false。
type PriceSource interface {
	Latest() (pricing.Quote, bool)
}

// LeanSource 提供库存倾斜输出与强制重报标志。
type LeanSource interface {
	Bias() inventory.Bias
	TakeForcedRequotes() (bid, ask bool)
	Balances() (quote, base float64, ok bool)
}

// Submitter 异步下单入口（有界工作池）。
type Submitter interface {
	Submit(req dispatch.QuoteRequest) error
	SubmitHardCancel(instrument string, side book.Side) error
}

// hardCancelGuard 两次硬撤单之间的最短间隔。
const hardCancelGuard = 8 * time.Second

// SideState 每侧跨 tick 保留的报价状态。
// LastPlacedPrice 为 0 时该侧视为未报价，下个 tick 无条件重报。
type SideState struct {
	LastPlacedPrice float64
	LastPlacedAt    time.Time
}

// Components 引擎依赖组件。
type Components struct {
	Books     BookSource
	Prices    PriceSource
	Inventory LeanSource
	Dispatch  Submitter
	Tiers     *participant.TierTable
	Tuning    *config.TuningStore
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Clock     Clock
}

// Engine 单交易对报价引擎。一个实例对应一个交易对；多交易对各自
// 持有独立的锁与状态，互不共享。
type Engine struct {
	instrument string
	cfg        config.InstrumentConfig

	books  BookSource
	prices PriceSource
	inv    LeanSource
	disp   Submitter
	tiers  *participant.TierTable
	tuning *config.TuningStore
	log    *logger.Logger
	met    *metrics.Metrics
	clock  Clock

	gate      *throttleGate
	adversity *adversityTracker
	priority  *priorityController
	smoothers map[book.Side]*smoothingWindow

	// mu 串行化决策 tick：同一交易对的两个 tick 绝不交错
	mu             sync.Mutex
	bid            SideState
	ask            SideState
	lastHardCancel map[book.Side]time.Time
	running        bool

	stopChan chan struct{}
	doneChan chan struct{}

	stats Statistics
}

// Statistics 引擎统计信息。
type Statistics struct {
	StartTime       time.Time
	TotalTicks      int64
	TotalSubmitted  int64
	TotalSuppressed int64
	TotalErrors     int64
	mu              sync.RWMutex
}

// New 创建报价引擎。
func New(instrument string, cfg config.InstrumentConfig, comp Components) (*Engine, error) {
	if instrument == "" {
		return nil, errors.New("instrument is required")
	}
	if err := validateComponents(comp); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if comp.Clock == nil {
		comp.Clock = SystemClock
	}

	e := &Engine{
		instrument: instrument,
		cfg:        cfg,
		books:      comp.Books,
		prices:     comp.Prices,
		inv:        comp.Inventory,
		disp:       comp.Dispatch,
		tiers:      comp.Tiers,
		tuning:     comp.Tuning,
		log:        comp.Logger.WithInstrument(instrument),
		met:        comp.Metrics,
		clock:      comp.Clock,
		gate:       newThrottleGate(cfg.Quote, comp.Clock),
		adversity:  newAdversityTracker(cfg.Adversity, comp.Clock),
		priority:   newPriorityController(cfg.Priority),
		smoothers: map[book.Side]*smoothingWindow{
			book.SideBid: newSmoothingWindow(cfg.Quote.BidSmoothingWindow),
			book.SideAsk: newSmoothingWindow(cfg.Quote.AskSmoothingWindow),
		},
		lastHardCancel: make(map[book.Side]time.Time),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
	return e, nil
}

func validateComponents(comp Components) error {
	if comp.Books == nil {
		return errors.New("book source is required")
	}
	if comp.Prices == nil {
		return errors.New("price source is required")
	}
	if comp.Inventory == nil {
		return errors.New("inventory is required")
	}
	if comp.Dispatch == nil {
		return errors.New("dispatcher is required")
	}
	if comp.Tiers == nil {
		return errors.New("tier table is required")
	}
	if comp.Tuning == nil {
		return errors.New("tuning store is required")
	}
	if comp.Logger == nil {
		return errors.New("logger is required")
	}
	if comp.Metrics == nil {
		return errors.New("metrics is required")
	}
	return nil
}

// Start 启动决策循环与对账安全网（后台 goroutine）。
// 启动前必须已有一份盘口快照与一次成功的余额读取（§启动失败即致命），
// 由调用方保证。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine %s already started", e.instrument)
	}
	e.running = true
	e.mu.Unlock()

	e.stats.mu.Lock()
	e.stats.StartTime = e.clock.Now()
	e.stats.mu.Unlock()

	e.log.Info("quoting engine starting",
		zap.Duration("tick_interval", e.cfg.Intervals.Tick()),
		zap.Duration("reconcile_interval", e.cfg.Intervals.Reconcile()))

	go e.run(ctx)
	return nil
}

// Stop 停止引擎并等待循环退出。
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopChan)
	select {
	case <-e.doneChan:
	case <-time.After(5 * time.Second):
		e.log.Warn("timeout waiting for engine to stop")
	}
}

// run 主事件循环：决策 tick 与对账各自独立的 ticker。
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneChan)

	tick := time.NewTicker(e.cfg.Intervals.Tick())
	defer tick.Stop()
	reconcile := time.NewTicker(e.cfg.Intervals.Reconcile())
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("context done, stopping engine")
			return
		case <-e.stopChan:
			return
		case <-tick.C:
			e.tick()
		case <-reconcile.C:
			e.reconcile()
		}
	}
}

// tickEnv 一次 tick 的只读环境，持锁期间采集一次。
type tickEnv struct {
	snap      *book.Snapshot
	ref       pricing.Quote
	refOK     bool
	tun       config.Tuning
	bias      inventory.Bias
	quoteSize float64
}

// tick 执行一次完整决策。整个函数体在实例锁内：两个 tick 绝不交错，
// 读到的快照与状态彼此一致。下单本身在工作池异步执行，不在锁内。
func (e *Engine) tick() {
	started := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.books.Latest()
	if snap == nil {
		return
	}

	e.stats.mu.Lock()
	e.stats.TotalTicks++
	e.stats.mu.Unlock()

	ref, refOK := e.prices.Latest()
	tun := e.tuning.Snapshot()
	bias := e.inv.Bias()

	if quoteBal, baseBal, ok := e.inv.Balances(); ok {
		e.met.QuoteBalance.WithLabelValues(e.instrument).Set(quoteBal)
		e.met.BaseBalance.WithLabelValues(e.instrument).Set(baseBal)
	}
	e.met.Leaning.WithLabelValues(e.instrument, book.SideAsk.String()).Set(boolGauge(bias.QuoteLeaning))
	e.met.Leaning.WithLabelValues(e.instrument, book.SideBid.String()).Set(boolGauge(bias.BaseLeaning))

	// 倾斜控制器要求的强制重报：取走即清零，置回哨兵
	forceBid, forceAsk := e.inv.TakeForcedRequotes()
	if forceBid {
		e.bid.LastPlacedPrice = 0
	}
	if forceAsk {
		e.ask.LastPlacedPrice = 0
	}

	e.priority.SetDefault(tun.DefaultPriorityRate)

	quoteSize := e.cfg.Quote.QuoteSize
	if tun.QuoteSize > 0 {
		quoteSize = tun.QuoteSize
	}

	env := tickEnv{snap: snap, ref: ref, refOK: refOK, tun: tun, bias: bias, quoteSize: quoteSize}

	// 每侧独立容错：买侧出错不影响卖侧
	if err := e.quoteSide(book.SideBid, env, forceBid); err != nil {
		e.recordError()
		e.log.Error("bid path failed", zap.Error(err))
	}
	if err := e.quoteSide(book.SideAsk, env, forceAsk); err != nil {
		e.recordError()
		e.log.Error("ask path failed", zap.Error(err))
	}

	e.met.TickDurations.WithLabelValues(e.instrument).
		Observe(e.clock.Now().Sub(started).Seconds())
}

// quoteSide 单侧完整决策管线：公允价 → 参考价对账/逆势 → 时间窗
// 放宽 → 竞对防御 → 平滑 → 掠食者避让 → 调优因子 → 节流 → 下发。
func (e *Engine) quoteSide(side book.Side, env tickEnv, forced bool) error {
	st := e.sideState(side)

	fp := computeFairPrices(env.snap, e.tiers, e.cfg.Quote.PredatorDampenGap)
	fair, ok := fp.Bid, fp.BidOK
	if side == book.SideAsk {
		fair, ok = fp.Ask, fp.AskOK
	}
	if !ok {
		return fmt.Errorf("no resting orders on %s side", side)
	}

	candidate := fair * e.spreadMultiplier(side, env.bias)

	// 参考价对账：在世报价不再优于参考边界即为逆势，置回哨兵、
	// 记录时间戳，并向边界方向防御性后撤半程
	if env.refOK {
		bound := e.referenceBound(side, env.ref)
		crossed := st.LastPlacedPrice != 0 &&
			((side == book.SideBid && st.LastPlacedPrice >= bound) ||
				(side == book.SideAsk && st.LastPlacedPrice <= bound))
		if crossed {
			st.LastPlacedPrice = 0
			e.adversity.Record(side)
			if side == book.SideBid {
				candidate = (math.Max(candidate, fair) + bound) / 2
			} else {
				candidate = (math.Min(candidate, fair) + bound) / 2
			}
			e.met.AdversityEvents.WithLabelValues(e.instrument, side.String()).Inc()
			e.log.Debug("adversity retreat",
				zap.String("side", side.String()),
				zap.Float64("bound", bound),
				zap.Float64("candidate", candidate))
		}
	}

	// 逆势时间窗内的放宽，随时间线性衰减到零
	if w := e.adversity.WidenFraction(side, env.bias.GigaLean); w > 0 {
		if side == book.SideBid {
			candidate *= 1 - w
		} else {
			candidate *= 1 + w
		}
	}
	escalation := e.adversity.FeeEscalation(side, env.bias.GigaLean)

	// 竞对防御：有足量竞对挂在候选价之前则放宽并抬优先费。
	// 与逆势放宽相互独立，同 tick 触发时两者都生效
	competitorPresent := e.competitorAhead(side, env.snap, candidate)
	if competitorPresent {
		if side == book.SideBid {
			candidate *= 1 - e.cfg.Quote.CompetitorWidenBps
		} else {
			candidate *= 1 + e.cfg.Quote.CompetitorWidenBps
		}
		e.met.CompetitorPresent.WithLabelValues(e.instrument, side.String()).Inc()
	}

	// 平滑：防御性调整完成后再进窗口
	candidate = e.smoothers[side].Push(candidate)

	// 掠食者避让：平滑之后应用，避免避让量被窗口摊掉
	candidate = e.predatorNudge(side, env.snap, candidate)

	// 外部调优面的热更因子，每个 tick 重新读取
	factor := env.tun.BidTuningFactor
	if side == book.SideAsk {
		factor = env.tun.AskTuningFactor
	}
	if factor != 1 {
		candidate *= factor
		e.log.Info("tuning applied",
			zap.String("side", side.String()),
			zap.Float64("factor", factor),
			zap.Float64("candidate", candidate))
	}

	if candidate <= 0 || math.IsNaN(candidate) || math.IsInf(candidate, 0) {
		return fmt.Errorf("invalid candidate price %f on %s side", candidate, side)
	}
	e.met.CandidatePrice.WithLabelValues(e.instrument, side.String()).Set(candidate)

	// 节流判定
	resting, hasResting := bestSelfOrder(env.snap, e.tiers, side)
	res := e.gate.Evaluate(gateInput{
		Side:               side,
		Candidate:          candidate,
		LastPlaced:         st.LastPlacedPrice,
		LastPlacedAt:       st.LastPlacedAt,
		OppositeLastPlaced: e.oppositeState(side).LastPlacedPrice,
		Forced:             forced,
		RestingPrice:       resting.Price,
		HasResting:         hasResting,
	})
	if res.Action == dispatch.ActionNone {
		e.recordSuppressed()
		e.met.QuotesSuppressed.WithLabelValues(e.instrument, side.String(), res.Reason).Inc()
		if res.Reason == reasonSelfCross {
			e.log.Info("self-cross suppressed",
				zap.String("side", side.String()),
				zap.Float64("candidate", candidate),
				zap.Float64("opposite", e.oppositeState(side).LastPlacedPrice))
		}
		return nil
	}

	// 不变量：调整完之后仍可能与对侧在世报价交叉，此时拒绝提交、
	// 状态保持不变，绝不提交倒挂的盘口
	opp := e.oppositeState(side).LastPlacedPrice
	if opp != 0 {
		inverted := (side == book.SideAsk && candidate <= opp) ||
			(side == book.SideBid && candidate >= opp)
		if inverted {
			e.recordSuppressed()
			e.met.QuotesSuppressed.WithLabelValues(e.instrument, side.String(), reasonSelfCross).Inc()
			return fmt.Errorf("refusing inverted quote: %s %f vs opposite %f", side, candidate, opp)
		}
	}

	fresh := res.Action == dispatch.ActionNew
	boost := e.cfg.Priority.FreshBidBoost
	if side == book.SideAsk {
		boost = e.cfg.Priority.FreshAskBoost
	}
	fee := e.priority.Compute(escalation, competitorPresent, fresh, boost)
	e.met.PriorityRate.WithLabelValues(e.instrument).Set(float64(fee))

	size := env.quoteSize * e.sizeMultiplier(side, env.bias)

	if err := e.disp.Submit(dispatch.QuoteRequest{
		Instrument:     e.instrument,
		Side:           side,
		Action:         res.Action,
		Price:          candidate,
		Size:           size,
		PriorityFee:    fee,
		CancelExisting: res.CancelExisting,
	}); err != nil {
		// 队列满：什么都没发出去，状态不动，下个 tick 重算
		e.met.QueueRejects.WithLabelValues(e.instrument).Inc()
		return fmt.Errorf("dispatch %s: %w", side, err)
	}

	st.LastPlacedPrice = candidate
	st.LastPlacedAt = e.clock.Now()

	e.recordSubmitted()
	e.met.QuotesSubmitted.WithLabelValues(e.instrument, side.String(), res.Action.String()).Inc()
	return nil
}

// referenceBound 单侧参考价边界，带固定的逆向选择余量。
func (e *Engine) referenceBound(side book.Side, ref pricing.Quote) float64 {
	half := ref.Confidence * e.cfg.Quote.ConfidenceMultiplier
	if side == book.SideBid {
		return (ref.Mid - half) * (1 - e.cfg.Quote.PredictiveBiasBid)
	}
	return (ref.Mid + half) * (1 + e.cfg.Quote.PredictiveBiasAsk)
}

// competitorAhead 检查竞对层挂单是否以足量名义价值排在候选价之前。
func (e *Engine) competitorAhead(side book.Side, snap *book.Snapshot, candidate float64) bool {
	for _, o := range snap.SideOrders(side) {
		if e.tiers.Classify(o.Owner) != participant.TierCompetitor {
			continue
		}
		if o.Notional() < e.cfg.Quote.CompetitorNotionalFloor {
			continue
		}
		if (side == book.SideBid && o.Price >= candidate) ||
			(side == book.SideAsk && o.Price <= candidate) {
			return true
		}
	}
	return false
}

// predatorNudge 掠食者挂单贴着候选价时向远离方向让出固定距离。
func (e *Engine) predatorNudge(side book.Side, snap *book.Snapshot, candidate float64) float64 {
	for _, o := range snap.SideOrders(side) {
		if e.tiers.Classify(o.Owner) != participant.TierPredator {
			continue
		}
		if side == book.SideBid {
			if o.Price >= candidate && o.Price-candidate <= e.cfg.Quote.PredatorDistance {
				e.met.PredatorNudges.WithLabelValues(e.instrument, side.String()).Inc()
				return candidate - e.cfg.Quote.PredatorNudge
			}
		} else {
			if o.Price <= candidate && candidate-o.Price <= e.cfg.Quote.PredatorDistance {
				e.met.PredatorNudges.WithLabelValues(e.instrument, side.String()).Inc()
				return candidate + e.cfg.Quote.PredatorNudge
			}
		}
	}
	return candidate
}

func (e *Engine) spreadMultiplier(side book.Side, bias inventory.Bias) float64 {
	if side == book.SideBid {
		return e.cfg.Quote.BidSpreadMultiplier * bias.BidSpreadMultiplier
	}
	return e.cfg.Quote.AskSpreadMultiplier * bias.AskSpreadMultiplier
}

func (e *Engine) sizeMultiplier(side book.Side, bias inventory.Bias) float64 {
	if side == book.SideBid {
		return e.cfg.Quote.BidSizeRatio * bias.BidSizeMultiplier
	}
	return e.cfg.Quote.AskSizeRatio * bias.AskSizeMultiplier
}

func (e *Engine) sideState(side book.Side) *SideState {
	if side == book.SideBid {
		return &e.bid
	}
	return &e.ask
}

func (e *Engine) oppositeState(side book.Side) *SideState {
	if side == book.SideBid {
		return &e.ask
	}
	return &e.bid
}

// reconcile 对账安全网：同侧发现一张以上自有挂单说明某次提交丢失
// 或重复，触发硬撤单结算，两次触发之间有最短间隔防护。
func (e *Engine) reconcile() {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.books.Latest()
	if snap == nil {
		return
	}
	for _, side := range []book.Side{book.SideBid, book.SideAsk} {
		if countSelfOrders(snap, e.tiers, side) <= 1 {
			continue
		}
		now := e.clock.Now()
		if last, ok := e.lastHardCancel[side]; !ok || now.Sub(last) >= hardCancelGuard {
			e.log.Warn("duplicate resting orders detected, hard cancelling",
				zap.String("side", side.String()))
			if err := e.disp.SubmitHardCancel(e.instrument, side); err != nil {
				e.log.Error("hard cancel dispatch failed", zap.Error(err))
			} else {
				e.met.HardCancels.WithLabelValues(e.instrument, side.String()).Inc()
				e.sideState(side).LastPlacedPrice = 0
			}
		}
		e.lastHardCancel[side] = now
	}
}

// OnSubmissionFailure 提交失败回调：该侧回到未报价哨兵，
// 下个 tick 无条件重报。由 Dispatcher 的工作协程调用。
func (e *Engine) OnSubmissionFailure(side book.Side) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sideState(side).LastPlacedPrice = 0
	e.met.SubmitErrors.WithLabelValues(e.instrument).Inc()
}

// Status 返回只读的运行状态，用于 /status 接口。
func (e *Engine) Status() map[string]interface{} {
	e.mu.Lock()
	bid, ask := e.bid, e.ask
	e.mu.Unlock()

	quoteBal, baseBal, hasBal := e.inv.Balances()
	bias := e.inv.Bias()
	tun := e.tuning.Snapshot()

	return map[string]interface{}{
		"instrument": e.instrument,
		"quotes": map[string]interface{}{
			"lastPlacedBid":   bid.LastPlacedPrice,
			"lastPlacedAsk":   ask.LastPlacedPrice,
			"bidLastPlacedAt": bid.LastPlacedAt,
			"askLastPlacedAt": ask.LastPlacedAt,
		},
		"inventory": map[string]interface{}{
			"quoteBalance": quoteBal,
			"baseBalance":  baseBal,
			"hasBalances":  hasBal,
			"quoteLeaning": bias.QuoteLeaning,
			"baseLeaning":  bias.BaseLeaning,
			"gigaLean":     bias.GigaLean,
		},
		"priority": map[string]interface{}{
			"current": e.priority.Current(),
			"default": e.priority.Default(),
		},
		"tuning": map[string]interface{}{
			"bids": tun.BidTuningFactor,
			"asks": tun.AskTuningFactor,
		},
		"stats": e.statsSnapshot(),
	}
}

func (e *Engine) statsSnapshot() map[string]interface{} {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()
	return map[string]interface{}{
		"startTime":  e.stats.StartTime,
		"ticks":      e.stats.TotalTicks,
		"submitted":  e.stats.TotalSubmitted,
		"suppressed": e.stats.TotalSuppressed,
		"errors":     e.stats.TotalErrors,
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (e *Engine) recordError() {
	e.stats.mu.Lock()
	e.stats.TotalErrors++
	e.stats.mu.Unlock()
}

func (e *Engine) recordSubmitted() {
	e.stats.mu.Lock()
	e.stats.TotalSubmitted++
	e.stats.mu.Unlock()
}

func (e *Engine) recordSuppressed() {
	e.stats.mu.Lock()
	e.stats.TotalSuppressed++
	e.stats.mu.Unlock()
}
