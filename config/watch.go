package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TuningWatcher 监听调优文件变化并热更 TuningStore，
// 带冷却时间避免编辑器连续写入触发的抖动。
type TuningWatcher struct {
	path     string
	store    *TuningStore
	cooldown time.Duration
	onError  func(error)

	watcher    *fsnotify.Watcher
	lastReload time.Time
	mu         sync.Mutex
	stopChan   chan struct{}
	doneChan   chan struct{}
}

func NewTuningWatcher(path string, store *TuningStore, cooldown time.Duration, onError func(error)) (*TuningWatcher, error) {
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &TuningWatcher{
		path:     path,
		store:    store,
		cooldown: cooldown,
		onError:  onError,
		watcher:  watcher,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 开始监听（后台 goroutine）。初次载入失败视为配置错误返回。
func (w *TuningWatcher) Start(ctx context.Context) error {
	if err := w.store.LoadFile(w.path); err != nil {
		return err
	}
	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("watch tuning file: %w", err)
	}
	go w.run(ctx)
	return nil
}

// Stop 停止监听并关闭 watcher。
func (w *TuningWatcher) Stop() error {
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	select {
	case <-w.doneChan:
	case <-time.After(time.Second):
	}
	return w.watcher.Close()
}

func (w *TuningWatcher) run(ctx context.Context) {
	defer close(w.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (w *TuningWatcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.lastReload) < w.cooldown {
		return
	}
	if err := w.store.LoadFile(w.path); err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.lastReload = time.Now()
}
