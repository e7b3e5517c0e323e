// Package dispatch 把最终确定的报价变更异步交给外部订单网关执行。
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"openbook-quoter/book"
	"openbook-quoter/infrastructure/logger"
)

// Action 报价变更类型。
type Action int

const (
	ActionNone Action = iota
	ActionNew
	ActionReplace
)

func (a Action) String() string {
	switch a {
	case ActionNew:
		return "NEW"
	case ActionReplace:
		return "REPLACE"
	default:
		return "NONE"
	}
}

// QuoteRequest 一次最终确定的报价变更。
type QuoteRequest struct {
	Instrument     string
	Side           book.Side
	Action         Action
	Price          float64
	Size           float64
	PriorityFee    int
	CancelExisting bool
}

// Gateway 外部订单网关能力；链上编码、签名、RPC 均在网关侧。
type Gateway interface {
	SubmitQuote(ctx context.Context, req QuoteRequest) (submissionID string, err error)
	HardCancelAndSettle(ctx context.Context, instrument string, side book.Side) error
}

// ErrQueueFull 队列已满，本次提交被拒绝。
var ErrQueueFull = errors.New("dispatch queue full")

type job struct {
	req        QuoteRequest
	hardCancel bool
}

// Dispatcher 有界工作池。决策 tick 只入队，网络调用永远不在
// 决策线程上发生；失败只记日志并回调引擎，不向上传播。
type Dispatcher struct {
	gw            Gateway
	log           *logger.Logger
	queue         chan job
	workers       int
	submitTimeout time.Duration

	// onFailure 在提交失败时回调，引擎借此把该侧置回未报价哨兵
	onFailure func(instrument string, side book.Side)
	// onQueueReject 队列满时回调（指标用）
	onQueueReject func(instrument string)

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

func NewDispatcher(gw Gateway, workers, queueSize int, log *logger.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		gw:            gw,
		log:           log,
		queue:         make(chan job, queueSize),
		workers:       workers,
		submitTimeout: 10 * time.Second,
		stopChan:      make(chan struct{}),
	}
}

// SetFailureHandler 设置提交失败回调。必须在 Start 之前调用。
func (d *Dispatcher) SetFailureHandler(fn func(instrument string, side book.Side)) {
	d.onFailure = fn
}

// SetQueueRejectHandler 设置队列拒绝回调。必须在 Start 之前调用。
func (d *Dispatcher) SetQueueRejectHandler(fn func(instrument string)) {
	d.onQueueReject = fn
}

// Start 启动工作池。
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Stop 停止接收并等待在途任务完成。
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()
}

// Submit 非阻塞入队。队列满时拒绝本次提交（宁可丢弃让下个 tick
// 重算，也不让决策循环阻塞在网络上）。
func (d *Dispatcher) Submit(req QuoteRequest) error {
	select {
	case d.queue <- job{req: req}:
		return nil
	default:
		if d.onQueueReject != nil {
			d.onQueueReject(req.Instrument)
		}
		return ErrQueueFull
	}
}

// SubmitHardCancel 为对账安全网入队一次硬撤单结算。
func (d *Dispatcher) SubmitHardCancel(instrument string, side book.Side) error {
	req := QuoteRequest{Instrument: instrument, Side: side}
	select {
	case d.queue <- job{req: req, hardCancel: true}:
		return nil
	default:
		if d.onQueueReject != nil {
			d.onQueueReject(instrument)
		}
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			// 排空剩余任务后退出
			for {
				select {
				case j := <-d.queue:
					d.execute(ctx, j)
				default:
					return
				}
			}
		case j := <-d.queue:
			d.execute(ctx, j)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, j job) {
	callCtx, cancel := context.WithTimeout(ctx, d.submitTimeout)
	defer cancel()

	if j.hardCancel {
		if err := d.gw.HardCancelAndSettle(callCtx, j.req.Instrument, j.req.Side); err != nil {
			d.log.Error("hard cancel failed",
				zap.String("instrument", j.req.Instrument),
				zap.String("side", j.req.Side.String()),
				zap.Error(err))
		} else {
			d.log.Info("hard cancel settled",
				zap.String("instrument", j.req.Instrument),
				zap.String("side", j.req.Side.String()))
		}
		return
	}

	id, err := d.gw.SubmitQuote(callCtx, j.req)
	if err != nil {
		// 失败不传播：该侧回到未报价哨兵，下个 tick 无条件重报
		d.log.Error("quote submission failed",
			zap.String("instrument", j.req.Instrument),
			zap.String("side", j.req.Side.String()),
			zap.String("action", j.req.Action.String()),
			zap.Float64("price", j.req.Price),
			zap.Error(err))
		if d.onFailure != nil {
			d.onFailure(j.req.Instrument, j.req.Side)
		}
		return
	}
	d.log.Info("quote submitted",
		zap.String("instrument", j.req.Instrument),
		zap.String("side", j.req.Side.String()),
		zap.String("action", j.req.Action.String()),
		zap.Float64("price", j.req.Price),
		zap.Float64("size", j.req.Size),
		zap.Int("priority_fee", j.req.PriorityFee),
		zap.String("submission_id", id))
}
