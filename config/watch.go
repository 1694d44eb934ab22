package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听配置文件变化并在成功重载后回调。
// 带冷却时间，避免编辑器连续写入触发多次重载。
type Watcher struct {
	path     string
	cooldown time.Duration
	watcher  *fsnotify.Watcher

	mu         sync.Mutex
	lastReload time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher 创建配置监听器。
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		path:     path,
		cooldown: 2 * time.Second,
		watcher:  fw,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 开始监听；onUpdate 收到重新加载并通过校验的配置。
func (w *Watcher) Start(ctx context.Context, onUpdate func(Config)) error {
	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	go w.loop(ctx, onUpdate)
	return nil
}

// Stop 停止监听并等待 goroutine 退出。
func (w *Watcher) Stop() error {
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

func (w *Watcher) loop(ctx context.Context, onUpdate func(Config)) {
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
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handleChange(onUpdate)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handleChange(onUpdate func(Config)) {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.cooldown {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		// 坏配置不回调，继续使用旧配置
		return
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}
}
