package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Tuning 运行时可热更的报价旋钮。引擎每个 tick 重新读取，
// 不在启动时缓存。
type Tuning struct {
	BidTuningFactor     float64 `yaml:"bidTuningFactor"`
	AskTuningFactor     float64 `yaml:"askTuningFactor"`
	DefaultPriorityRate int     `yaml:"defaultPriorityRate"`
	QuoteSize           float64 `yaml:"quoteSize"` // 0 表示沿用静态配置
}

// tuningStep 单次 widen/tighten 调整的步长（1 bps）。
const tuningStep = 0.0001

// TuningStore 持有当前 Tuning 并串行化所有修改。
// 外部调优面（文件热更或运维调用）通过这里写入。
type TuningStore struct {
	mu sync.RWMutex
	t  Tuning
}

func NewTuningStore(defaultPriorityRate int) *TuningStore {
	return &TuningStore{
		t: Tuning{
			BidTuningFactor:     1,
			AskTuningFactor:     1,
			DefaultPriorityRate: defaultPriorityRate,
		},
	}
}

// Snapshot 返回当前旋钮的一致拷贝。
func (s *TuningStore) Snapshot() Tuning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t
}

// WidenBids 买侧放宽 1 bps。
func (s *TuningStore) WidenBids() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.BidTuningFactor -= tuningStep
}

// TightenBids 买侧收紧 1 bps。
func (s *TuningStore) TightenBids() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.BidTuningFactor += tuningStep
}

// TightenBidsHalf 买侧收紧半步。
func (s *TuningStore) TightenBidsHalf() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.BidTuningFactor += tuningStep / 2
}

// WidenAsks 卖侧放宽 1 bps。
func (s *TuningStore) WidenAsks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.AskTuningFactor += tuningStep
}

// TightenAsks 卖侧收紧 1 bps。
func (s *TuningStore) TightenAsks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.AskTuningFactor -= tuningStep
}

// TightenAsksHalf 卖侧收紧半步。
func (s *TuningStore) TightenAsksHalf() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.AskTuningFactor -= tuningStep / 2
}

// ResetBids 买侧恢复无调整。
func (s *TuningStore) ResetBids() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.BidTuningFactor = 1
}

// ResetAsks 卖侧恢复无调整。
func (s *TuningStore) ResetAsks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.AskTuningFactor = 1
}

// SetDefaultPriorityRate 调整基础优先费率。
func (s *TuningStore) SetDefaultPriorityRate(rate int) {
	if rate <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.DefaultPriorityRate = rate
}

// SetQuoteSize 调整报价数量。
func (s *TuningStore) SetQuoteSize(size float64) {
	if size <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.QuoteSize = size
}

// LoadFile 从 yaml 文件整体载入旋钮；缺省字段保持当前值。
func (s *TuningStore) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tuning file: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	incoming := s.t
	if err := yaml.Unmarshal(raw, &incoming); err != nil {
		return fmt.Errorf("parse tuning file: %w", err)
	}
	if incoming.BidTuningFactor <= 0 || incoming.AskTuningFactor <= 0 {
		return fmt.Errorf("tuning factors must be > 0")
	}
	if incoming.DefaultPriorityRate <= 0 {
		incoming.DefaultPriorityRate = s.t.DefaultPriorityRate
	}
	s.t = incoming
	return nil
}
