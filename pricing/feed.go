package pricing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"openbook-quoter/infrastructure/logger"
)

// Feed 通过 WebSocket 订阅参考价推送，按交易对路由到各自的 Cache，
// 含自动重连。
type Feed struct {
	URL    string
	caches map[string]*Cache
	log    *logger.Logger

	conn   *websocket.Conn
	mu     sync.Mutex
	cancel context.CancelFunc

	retryBackoff time.Duration
}

// feedMessage 上游推送格式。
type feedMessage struct {
	Instrument string  `json:"instrument"`
	Mid        float64 `json:"mid"`
	Confidence float64 `json:"confidence"`
	TsMs       int64   `json:"ts"`
}

func NewFeed(url string, caches map[string]*Cache, log *logger.Logger) *Feed {
	return &Feed{
		URL:          url,
		caches:       caches,
		log:          log,
		retryBackoff: 3 * time.Second,
	}
}

// Start 启动读取循环（后台 goroutine）。
func (f *Feed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.run(ctx)
}

// Stop 关闭连接并停止重连。
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.mu.Unlock()
}

func (f *Feed) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.connectAndRead(ctx); err != nil {
			f.log.Warn("pricing feed disconnected",
				zap.String("url", f.URL),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.retryBackoff):
		}
	}
}

// cacheFor 按交易对选择目标缓存。只订阅单个交易对时允许省略
// instrument 字段,多交易对必须显式标注,否则丢弃。
func (f *Feed) cacheFor(instrument string) *Cache {
	if instrument == "" && len(f.caches) == 1 {
		for _, c := range f.caches {
			return c
		}
	}
	return f.caches[instrument]
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	f.log.Info("pricing feed connected", zap.String("url", f.URL))

	defer func() {
		f.mu.Lock()
		if f.conn != nil {
			_ = f.conn.Close()
			f.conn = nil
		}
		f.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg feedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// 跳过坏消息，不断流
			f.log.Debug("pricing feed bad message", zap.Error(err))
			continue
		}
		if msg.Mid <= 0 || msg.Confidence < 0 {
			continue
		}
		cache := f.cacheFor(msg.Instrument)
		if cache == nil {
			f.log.Debug("pricing feed unroutable message",
				zap.String("instrument", msg.Instrument))
			continue
		}
		observed := time.Now()
		if msg.TsMs > 0 {
			observed = time.UnixMilli(msg.TsMs)
		}
		cache.Set(Quote{
			Mid:        msg.Mid,
			Confidence: msg.Confidence,
			ObservedAt: observed,
		})
	}
}
