package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/engine"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []Lifecycle
	mu         sync.RWMutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按注册顺序启动所有组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			// 启动失败，回滚已启动的组件
			for j := i - 1; j >= 0; j-- {
				m.components[j].Stop()
			}
			return fmt.Errorf("start %s failed: %w", component.Name(), err)
		}
	}
	return nil
}

// StopAll 逆序停止所有组件
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			lastErr = fmt.Errorf("stop %s failed: %w", m.components[i].Name(), err)
		}
	}
	return lastErr
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("%s unhealthy: %w", component.Name(), err)
		}
	}
	return nil
}

// httpServerComponent HTTP服务器组件
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger
	server  **http.Server
	started bool
	mu      sync.Mutex
}

func (h *httpServerComponent) Name() string { return h.name }

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}

	srv := &http.Server{
		Addr:    h.addr,
		Handler: h.handler,
	}
	*h.server = srv

	go func() {
		h.logger.Info(fmt.Sprintf("%s listening on %s", h.name, h.addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "listen",
			})
		}
	}()

	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || *h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := (*h.server).Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return fmt.Errorf("not started")
	}
	return nil
}

// feedComponent 行情推送组件
type feedComponent struct {
	feed    *gateway.PriceFeed
	started bool
	mu      sync.Mutex
}

func (f *feedComponent) Name() string { return "price_feed" }

func (f *feedComponent) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}
	if err := f.feed.Start(); err != nil {
		return err
	}
	f.started = true
	return nil
}

func (f *feedComponent) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil
	}
	f.feed.Stop()
	f.started = false
	return nil
}

func (f *feedComponent) Health() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return fmt.Errorf("not started")
	}
	return nil
}

// watcherComponent 配置热更新组件。运行中只有日志级别即时生效，
// 交易参数改动需要重启引擎。
type watcherComponent struct {
	watcher *config.Watcher
	logger  *logger.Logger
	started bool
	mu      sync.Mutex
}

func (w *watcherComponent) Name() string { return "config_watcher" }

func (w *watcherComponent) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	err := w.watcher.Start(ctx, func(cfg config.Config) {
		if err := w.logger.SetLevel(cfg.Logging.Level); err != nil {
			w.logger.Warn("invalid log level in reloaded config", zap.Error(err))
			return
		}
		w.logger.Info("config reloaded",
			zap.String("log_level", cfg.Logging.Level),
			zap.String("note", "trading parameters take effect on restart"))
	})
	if err != nil {
		return err
	}
	w.started = true
	return nil
}

func (w *watcherComponent) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	w.started = false
	return w.watcher.Stop()
}

func (w *watcherComponent) Health() error { return nil }

// breakerComponent 没有启停动作，只把熔断状态纳入健康检查
type breakerComponent struct {
	client *gateway.BreakerClient
}

func (b *breakerComponent) Name() string { return "gateway_breaker" }

func (b *breakerComponent) Start(ctx context.Context) error { return nil }

func (b *breakerComponent) Stop() error { return nil }

func (b *breakerComponent) Health() error {
	if st := b.client.Breaker().State(); st == gateway.BreakerOpen {
		return fmt.Errorf("circuit %s", st)
	}
	return nil
}

// engineComponent 交易引擎组件
type engineComponent struct {
	engine *engine.Engine
}

func (e *engineComponent) Name() string { return "grid_engine" }

func (e *engineComponent) Start(ctx context.Context) error {
	return e.engine.Start(ctx)
}

func (e *engineComponent) Stop() error {
	// 引擎可能已经因风控熔断自行停机
	if e.engine.GetState() != engine.StateRunning {
		return nil
	}
	return e.engine.Stop()
}

func (e *engineComponent) Health() error {
	if e.engine.GetState() != engine.StateRunning {
		return fmt.Errorf("engine state: %s", e.engine.GetState())
	}
	return nil
}
