package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"openbook-quoter/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string                      `yaml:"env"`
	Logger      logger.Config               `yaml:"logger"`
	MetricsAddr string                      `yaml:"metricsAddr"`
	TuningFile  string                      `yaml:"tuningFile"`
	Pricing     PricingConfig               `yaml:"pricing"`
	Instruments map[string]InstrumentConfig `yaml:"instruments"`
}

// PricingConfig configures the reference price feed.
type PricingConfig struct {
	FeedURL          string `yaml:"feedURL"`
	StalenessBoundMs int    `yaml:"stalenessBoundMs"`
}

// StalenessBound returns the configured bound as a duration.
func (p PricingConfig) StalenessBound() time.Duration {
	return time.Duration(p.StalenessBoundMs) * time.Millisecond
}

// InstrumentConfig is everything one quoting engine instance needs.
type InstrumentConfig struct {
	SelfIdentity string   `yaml:"selfIdentity"`
	Competitors  []string `yaml:"competitors"`
	Predators    []string `yaml:"predators"`

	Quote     QuoteConfig     `yaml:"quote"`
	Adversity AdversityConfig `yaml:"adversity"`
	Priority  PriorityConfig  `yaml:"priority"`
	Intervals IntervalConfig  `yaml:"intervals"`
	Inventory InventoryConfig `yaml:"inventory"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Sim       SimConfig       `yaml:"sim"`
}

// SimConfig 干跑模式下合成市场的初始状态。
type SimConfig struct {
	StartMid     float64 `yaml:"startMid"`
	Confidence   float64 `yaml:"confidence"`
	QuoteBalance float64 `yaml:"quoteBalance"`
	BaseBalance  float64 `yaml:"baseBalance"`
}

// QuoteConfig 报价参数（价差、平滑、防御规则）。
type QuoteConfig struct {
	BidSpreadMultiplier     float64 `yaml:"bidSpreadMultiplier"`
	AskSpreadMultiplier     float64 `yaml:"askSpreadMultiplier"`
	QuoteSize               float64 `yaml:"quoteSize"`
	BidSizeRatio            float64 `yaml:"bidSizeRatio"`
	AskSizeRatio            float64 `yaml:"askSizeRatio"`
	ConfidenceMultiplier    float64 `yaml:"confidenceMultiplier"`
	PredictiveBiasBid       float64 `yaml:"predictiveBiasBid"`
	PredictiveBiasAsk       float64 `yaml:"predictiveBiasAsk"`
	MinChange               float64 `yaml:"minChange"`
	AllowedBpsMismatch      float64 `yaml:"allowedBpsMismatch"`
	CrossPadding            float64 `yaml:"crossPadding"`
	MinRequoteIntervalMs    int     `yaml:"minRequoteIntervalMs"`
	NewOrderDelaySeconds    int     `yaml:"newOrderDelaySeconds"`
	BidSmoothingWindow      int     `yaml:"bidSmoothingWindow"`
	AskSmoothingWindow      int     `yaml:"askSmoothingWindow"`
	PredatorDistance        float64 `yaml:"predatorDistance"`
	PredatorNudge           float64 `yaml:"predatorNudge"`
	PredatorDampenGap       float64 `yaml:"predatorDampenGap"`
	CompetitorNotionalFloor float64 `yaml:"competitorNotionalFloor"`
	CompetitorWidenBps      float64 `yaml:"competitorWidenBps"`
}

// AdversityConfig 逆势窗口参数。
type AdversityConfig struct {
	BidWidenWindowMs int     `yaml:"bidWidenWindowMs"`
	AskWidenWindowMs int     `yaml:"askWidenWindowMs"`
	BidFeeWindowMs   int     `yaml:"bidFeeWindowMs"`
	AskFeeWindowMs   int     `yaml:"askFeeWindowMs"`
	WidenScale       float64 `yaml:"widenScale"`
	GigaWidenScale   float64 `yaml:"gigaWidenScale"`
	RateStep         float64 `yaml:"rateStep"`
	Reduction        float64 `yaml:"reduction"`
}

// PriorityConfig 优先费参数。
type PriorityConfig struct {
	DefaultRate         int     `yaml:"defaultRate"`
	CompetitorIncrement int     `yaml:"competitorIncrement"`
	FreshBidBoost       float64 `yaml:"freshBidBoost"`
	FreshAskBoost       float64 `yaml:"freshAskBoost"`
}

// IntervalConfig 各调度周期。
type IntervalConfig struct {
	TickMs          int `yaml:"tickMs"`
	BookPollMs      int `yaml:"bookPollMs"`
	InventoryPollMs int `yaml:"inventoryPollMs"`
	ReconcileMs     int `yaml:"reconcileMs"`
}

func (i IntervalConfig) Tick() time.Duration { return time.Duration(i.TickMs) * time.Millisecond }
func (i IntervalConfig) BookPoll() time.Duration {
	return time.Duration(i.BookPollMs) * time.Millisecond
}
func (i IntervalConfig) InventoryPoll() time.Duration {
	return time.Duration(i.InventoryPollMs) * time.Millisecond
}
func (i IntervalConfig) Reconcile() time.Duration {
	return time.Duration(i.ReconcileMs) * time.Millisecond
}

// InventoryConfig 库存倾斜参数。
type InventoryConfig struct {
	QuoteLowWater    float64 `yaml:"quoteLowWater"`
	BaseLowWater     float64 `yaml:"baseLowWater"`
	LeanFactor       float64 `yaml:"leanFactor"`
	TargetMaxUnits   float64 `yaml:"targetMaxUnits"`
	AskSpreadTighten float64 `yaml:"askSpreadTighten"`
	BidSpreadTighten float64 `yaml:"bidSpreadTighten"`
}

// DispatchConfig 下单工作池参数。
type DispatchConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queueSize"`
}

// Load reads and validates a config file.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Logger.Level == "" {
		c.Logger = logger.DefaultConfig()
	}
	if c.Pricing.StalenessBoundMs <= 0 {
		c.Pricing.StalenessBoundMs = 2000
	}
	for name, inst := range c.Instruments {
		inst.applyDefaults()
		c.Instruments[name] = inst
	}
}

func (ic *InstrumentConfig) applyDefaults() {
	q := &ic.Quote
	if q.BidSpreadMultiplier <= 0 {
		q.BidSpreadMultiplier = 0.99884
	}
	if q.AskSpreadMultiplier <= 0 {
		q.AskSpreadMultiplier = 0.99897
	}
	if q.BidSizeRatio <= 0 {
		q.BidSizeRatio = 0.5
	}
	if q.AskSizeRatio <= 0 {
		q.AskSizeRatio = 0.8
	}
	if q.ConfidenceMultiplier <= 0 {
		q.ConfidenceMultiplier = 0.999
	}
	if q.PredictiveBiasBid <= 0 {
		q.PredictiveBiasBid = 0.00043
	}
	if q.PredictiveBiasAsk <= 0 {
		q.PredictiveBiasAsk = 0.00046
	}
	if q.MinChange <= 0 {
		q.MinChange = 0.00015
	}
	if q.AllowedBpsMismatch <= 0 {
		q.AllowedBpsMismatch = 0.00002
	}
	if q.CrossPadding <= 0 {
		q.CrossPadding = 0.00005
	}
	if q.MinRequoteIntervalMs <= 0 {
		q.MinRequoteIntervalMs = 1000
	}
	if q.NewOrderDelaySeconds <= 0 {
		q.NewOrderDelaySeconds = 16
	}
	if q.BidSmoothingWindow <= 0 {
		q.BidSmoothingWindow = 5
	}
	if q.AskSmoothingWindow <= 0 {
		q.AskSmoothingWindow = 4
	}
	if q.PredatorDistance <= 0 {
		q.PredatorDistance = 0.0058
	}
	if q.PredatorNudge <= 0 {
		q.PredatorNudge = 0.0059
	}
	if q.PredatorDampenGap <= 0 {
		q.PredatorDampenGap = 0.02
	}
	if q.CompetitorNotionalFloor <= 0 {
		q.CompetitorNotionalFloor = 700
	}
	if q.CompetitorWidenBps <= 0 {
		q.CompetitorWidenBps = 0.00015
	}

	a := &ic.Adversity
	if a.BidWidenWindowMs <= 0 {
		a.BidWidenWindowMs = 4000
	}
	if a.AskWidenWindowMs <= 0 {
		a.AskWidenWindowMs = 3000
	}
	if a.BidFeeWindowMs <= 0 {
		a.BidFeeWindowMs = 3000
	}
	if a.AskFeeWindowMs <= 0 {
		a.AskFeeWindowMs = 2000
	}
	if a.WidenScale <= 0 {
		a.WidenScale = 0.000003
	}
	if a.GigaWidenScale <= 0 {
		a.GigaWidenScale = 0.0000003
	}
	if a.RateStep <= 0 {
		a.RateStep = 11500
	}
	if a.Reduction <= 0 {
		a.Reduction = 5500
	}

	p := &ic.Priority
	if p.DefaultRate <= 0 {
		p.DefaultRate = 101420
	}
	if p.CompetitorIncrement <= 0 {
		p.CompetitorIncrement = 15000
	}
	if p.FreshBidBoost <= 0 {
		p.FreshBidBoost = 1.35
	}
	if p.FreshAskBoost <= 0 {
		p.FreshAskBoost = 1.55
	}

	iv := &ic.Intervals
	if iv.TickMs <= 0 {
		iv.TickMs = 165
	}
	if iv.BookPollMs <= 0 {
		iv.BookPollMs = 210
	}
	if iv.InventoryPollMs <= 0 {
		iv.InventoryPollMs = 9000
	}
	if iv.ReconcileMs <= 0 {
		iv.ReconcileMs = 5000
	}

	n := &ic.Inventory
	if n.LeanFactor <= 0 {
		n.LeanFactor = 1.1
	}
	if n.TargetMaxUnits <= 0 {
		n.TargetMaxUnits = 5
	}
	if n.AskSpreadTighten <= 0 {
		n.AskSpreadTighten = 0.99985
	}
	if n.BidSpreadTighten <= 0 {
		n.BidSpreadTighten = 1.0012
	}

	d := &ic.Dispatch
	if d.Workers <= 0 {
		d.Workers = 8
	}
	if d.QueueSize <= 0 {
		d.QueueSize = 64
	}

	s := &ic.Sim
	if s.StartMid <= 0 {
		s.StartMid = 100
	}
	if s.Confidence <= 0 {
		s.Confidence = 0.05
	}
	if s.QuoteBalance <= 0 {
		s.QuoteBalance = 10000
	}
	if s.BaseBalance <= 0 {
		s.BaseBalance = 60
	}
}

// SharedDefaultPriorityRate 返回全局调优面的基础优先费率。
// 调优存储为全部交易对共享,各交易对配置的 priority.defaultRate 必须一致。
func (c AppConfig) SharedDefaultPriorityRate() (int, error) {
	rate := 0
	for name, inst := range c.Instruments {
		if rate == 0 {
			rate = inst.Priority.DefaultRate
			continue
		}
		if inst.Priority.DefaultRate != rate {
			return 0, fmt.Errorf(
				"config: instrument %s: priority.defaultRate %d conflicts with %d (tuning is shared across instruments)",
				name, inst.Priority.DefaultRate, rate)
		}
	}
	return rate, nil
}

// Validate 检查必填项与明显不合法的组合。
func (c AppConfig) Validate() error {
	if len(c.Instruments) == 0 {
		return errors.New("config: at least one instrument is required")
	}
	for name, inst := range c.Instruments {
		if inst.SelfIdentity == "" {
			return fmt.Errorf("config: instrument %s: selfIdentity is required", name)
		}
		if inst.Quote.QuoteSize <= 0 {
			return fmt.Errorf("config: instrument %s: quote.quoteSize must be > 0", name)
		}
		if inst.Quote.BidSpreadMultiplier >= 1.01 || inst.Quote.AskSpreadMultiplier >= 1.01 {
			return fmt.Errorf("config: instrument %s: spread multiplier out of range", name)
		}
		if inst.Inventory.QuoteLowWater <= 0 || inst.Inventory.BaseLowWater <= 0 {
			return fmt.Errorf("config: instrument %s: inventory low-water thresholds are required", name)
		}
	}
	return nil
}
