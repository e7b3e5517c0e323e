package quoter

import (
	"math"
	"time"

	"openbook-quoter/book"
	"openbook-quoter/config"
	"openbook-quoter/dispatch"
)

// Suppression reasons, exported to metrics labels.
const (
	reasonUnchanged   = "unchanged"
	reasonMinInterval = "min_interval"
	reasonSelfCross   = "self_cross"
)

// gateInput 一次节流判定所需的全部输入。
type gateInput struct {
	Side               book.Side
	Candidate          float64
	LastPlaced         float64 // 0 哨兵 = 未报价
	LastPlacedAt       time.Time
	OppositeLastPlaced float64
	Forced             bool // 库存倾斜要求强制重报
	RestingPrice       float64
	HasResting         bool
}

// gateResult 判定结果。Action 为 None 时 Reason 说明抑制原因。
type gateResult struct {
	Action         dispatch.Action
	CancelExisting bool
	Reason         string
}

// throttleGate 按固定顺序执行重报规则：未报价侧无条件 New；
// 变化太小且挂单仍在模型内则抑制；会与对侧自成交则抑制；
// 距上次下单过近则抑制（限制换单频率）；否则撤换。
type throttleGate struct {
	cfg   config.QuoteConfig
	clock Clock
}

func newThrottleGate(cfg config.QuoteConfig, clock Clock) *throttleGate {
	return &throttleGate{cfg: cfg, clock: clock}
}

func (g *throttleGate) minInterval() time.Duration {
	return time.Duration(g.cfg.MinRequoteIntervalMs) * time.Millisecond
}

func (g *throttleGate) Evaluate(in gateInput) gateResult {
	now := g.clock.Now()
	elapsed := time.Duration(math.MaxInt64)
	if !in.LastPlacedAt.IsZero() {
		elapsed = now.Sub(in.LastPlacedAt)
	}

	res := g.baseline(in, elapsed)
	if res.Action == dispatch.ActionNone {
		return res
	}

	// 自成交防护：对侧仍有在世报价且时间防护窗内，任何会越过
	// 对侧的动作一律抑制
	if in.OppositeLastPlaced != 0 && elapsed <= g.minInterval() {
		crossed := false
		if in.Side == book.SideBid {
			crossed = in.Candidate >= in.OppositeLastPlaced*(1-g.cfg.CrossPadding)
		} else {
			crossed = in.Candidate <= in.OppositeLastPlaced*(1+g.cfg.CrossPadding)
		}
		if crossed {
			return gateResult{Action: dispatch.ActionNone, Reason: reasonSelfCross}
		}
	}
	return res
}

func (g *throttleGate) baseline(in gateInput, elapsed time.Duration) gateResult {
	// 未报价哨兵：无条件新单，不带撤单
	if in.LastPlaced == 0 {
		return gateResult{Action: dispatch.ActionNew}
	}

	// 变化不足且挂单价仍在允许偏差内：抑制，避免无谓换单
	change := math.Abs(1 - in.LastPlaced/in.Candidate)
	inModel := true
	if in.HasResting {
		bps := math.Abs(in.Candidate-in.RestingPrice) / in.Candidate
		inModel = bps < g.cfg.AllowedBpsMismatch
	}
	if change < g.cfg.MinChange && !in.Forced && inModel {
		return gateResult{Action: dispatch.ActionNone, Reason: reasonUnchanged}
	}

	// 换单频率下限，与价格变动无关
	if elapsed < g.minInterval() && !in.Forced {
		return gateResult{Action: dispatch.ActionNone, Reason: reasonMinInterval}
	}

	// 撤换。挂单已消失且冷却期已过时退化为纯新单。
	readyForFresh := elapsed >= time.Duration(g.cfg.NewOrderDelaySeconds)*time.Second
	if !in.HasResting && readyForFresh {
		return gateResult{Action: dispatch.ActionNew}
	}
	return gateResult{Action: dispatch.ActionReplace, CancelExisting: true}
}
