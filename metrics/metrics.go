// Package metrics provides Prometheus metrics for the quoting engine
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"openbook-quoter/infrastructure/logger"
)

// Metrics 报价引擎指标收集器
type Metrics struct {
	registry *prometheus.Registry

	// 报价指标
	QuotesSubmitted  *prometheus.CounterVec // instrument, side, action
	QuotesSuppressed *prometheus.CounterVec // instrument, side, reason
	CandidatePrice   *prometheus.GaugeVec   // instrument, side

	// 逆势与防御指标
	AdversityEvents   *prometheus.CounterVec // instrument, side
	CompetitorPresent *prometheus.CounterVec // instrument, side
	PredatorNudges    *prometheus.CounterVec // instrument, side

	// 优先费
	PriorityRate *prometheus.GaugeVec // instrument

	// 库存
	QuoteBalance *prometheus.GaugeVec // instrument
	BaseBalance  *prometheus.GaugeVec // instrument
	Leaning      *prometheus.GaugeVec // instrument, side

	// 下单执行
	SubmitErrors  *prometheus.CounterVec // instrument
	QueueRejects  *prometheus.CounterVec // instrument
	HardCancels   *prometheus.CounterVec // instrument, side
	TickDurations *prometheus.HistogramVec
}

// New 创建并注册全部指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		QuotesSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quoter", Name: "quotes_submitted_total",
			Help: "Quotes handed to the dispatcher",
		}, []string{"instrument", "side", "action"}),
		QuotesSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quoter", Name: "quotes_suppressed_total",
			Help: "Quotes suppressed by the throttle gate",
		}, []string{"instrument", "side", "reason"}),
		CandidatePrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "quoter", Name: "candidate_price",
			Help: "Last computed candidate price",
		}, []string{"instrument", "side"}),
		AdversityEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quoter", Name: "adversity_events_total",
			Help: "Reference price crossed our resting quote",
		}, []string{"instrument", "side"}),
		CompetitorPresent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quoter", Name: "competitor_present_total",
			Help: "Ticks with a competitor ahead of our candidate",
		}, []string{"instrument", "side"}),
		PredatorNudges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quoter", Name: "predator_nudges_total",
			Help: "Candidate nudged away from known toxic flow",
		}, []string{"instrument", "side"}),
		PriorityRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "quoter", Name: "priority_rate",
			Help: "Current transaction priority rate",
		}, []string{"instrument"}),
		QuoteBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "quoter", Name: "quote_asset_balance",
			Help: "Latest quote asset balance",
		}, []string{"instrument"}),
		BaseBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "quoter", Name: "base_asset_balance",
			Help: "Latest base asset balance",
		}, []string{"instrument"}),
		Leaning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "quoter", Name: "inventory_leaning",
			Help: "1 when the side is leaning to rebalance inventory",
		}, []string{"instrument", "side"}),
		SubmitErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quoter", Name: "submit_errors_total",
			Help: "Failed quote submissions",
		}, []string{"instrument"}),
		QueueRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quoter", Name: "dispatch_queue_rejects_total",
			Help: "Submissions rejected by a full dispatch queue",
		}, []string{"instrument"}),
		HardCancels: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quoter", Name: "hard_cancels_total",
			Help: "Emergency cancel-and-settle invocations",
		}, []string{"instrument", "side"}),
		TickDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quoter", Name: "tick_duration_seconds",
			Help:    "Decision tick wall time",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}, []string{"instrument"}),
	}
	return m
}

// Handler 返回该注册表的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 启动指标服务器；addr 为空则不启动。
func (m *Metrics) Serve(addr string, extra map[string]http.Handler, log *logger.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	for path, h := range extra {
		mux.Handle(path, h)
	}
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server exited",
				zap.String("addr", addr),
				zap.Error(err))
		}
	}()
}
