package book

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"openbook-quoter/infrastructure/logger"
)

// Source 拉取盘口的外部数据源。失败时返回 error，由 Poller 保留上一份快照。
type Source interface {
	Fetch(ctx context.Context, instrument string) (*Snapshot, error)
}

// Poller 周期性刷新盘口快照，通过原子指针交换发布，
// 读方永远看到一份完整的快照，不加锁。
type Poller struct {
	source     Source
	instrument string
	interval   time.Duration
	log        *logger.Logger

	latest atomic.Pointer[Snapshot]

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewPoller(source Source, instrument string, interval time.Duration, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = 210 * time.Millisecond
	}
	return &Poller{
		source:     source,
		instrument: instrument,
		interval:   interval,
		log:        log,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Prime 同步拉取一次，用于启动前预热。失败返回 error（启动期致命）。
func (p *Poller) Prime(ctx context.Context) error {
	snap, err := p.source.Fetch(ctx, p.instrument)
	if err != nil {
		return err
	}
	p.latest.Store(snap)
	return nil
}

// Start 启动轮询（后台 goroutine）。
func (p *Poller) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop 停止轮询并等待退出。
func (p *Poller) Stop() {
	close(p.stopChan)
	<-p.doneChan
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.doneChan)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			snap, err := p.source.Fetch(ctx, p.instrument)
			if err != nil {
				// 瞬时失败：保留上一份快照，下个周期重试
				p.log.Debug("order book fetch failed",
					zap.String("instrument", p.instrument),
					zap.Error(err))
				continue
			}
			p.latest.Store(snap)
		}
	}
}

// Latest 返回最近一次成功的快照；尚无数据时返回 nil。
func (p *Poller) Latest() *Snapshot {
	return p.latest.Load()
}

// Staleness 返回快照距今的时间；无数据返回一个极大值。
func (p *Poller) Staleness() time.Duration {
	snap := p.latest.Load()
	if snap == nil {
		return time.Hour * 24 * 365
	}
	return time.Since(snap.Ts)
}
