package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"

	"go.uber.org/zap"
)

// ErrBreakerOpen 熔断期间所有请求直接短路。
var ErrBreakerOpen = errors.New("gateway circuit open")

// BreakerState 熔断器状态。
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig 熔断参数。零值字段取默认。
type BreakerConfig struct {
	Threshold int           // 连续失败多少次跳闸
	Cooldown  time.Duration // 跳闸后多久放探测请求
	ProbeMax  int           // 半开状态连续成功多少次恢复
}

// Breaker 按连续失败次数对交易所请求熔断。
// 跳闸后冷却期内短路一切请求，冷却结束放少量探测，
// 探测全部成功才恢复，任何一次失败立刻重新跳闸。
type Breaker struct {
	cfg BreakerConfig
	log *logger.Logger

	mu          sync.Mutex
	state       BreakerState
	consecutive int
	probes      int
	openedAt    time.Time
}

// NewBreaker 创建熔断器。log 可为 nil。
func NewBreaker(cfg BreakerConfig, log *logger.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeMax <= 0 {
		cfg.ProbeMax = 3
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Breaker{cfg: cfg, log: log, state: BreakerClosed}
}

// Allow 判断当前是否放行请求。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		remaining := b.cfg.Cooldown - time.Since(b.openedAt)
		if remaining > 0 {
			return fmt.Errorf("%w: retry in %s", ErrBreakerOpen, remaining.Round(time.Second))
		}
		b.state = BreakerHalfOpen
		b.probes = 0
		b.log.Info("gateway breaker half-open, probing")
		return nil
	default:
		return fmt.Errorf("unknown breaker state: %d", b.state)
	}
}

// Record 登记一次请求结果并推进状态机。
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.consecutive++
		switch b.state {
		case BreakerClosed:
			if b.consecutive >= b.cfg.Threshold {
				b.trip()
			}
		case BreakerHalfOpen:
			// 探测失败，立即重新跳闸
			b.trip()
		}
		return
	}

	b.consecutive = 0
	if b.state == BreakerHalfOpen {
		b.probes++
		if b.probes >= b.cfg.ProbeMax {
			b.state = BreakerClosed
			b.log.Info("gateway breaker closed")
		}
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = time.Now()
	b.probes = 0
	b.log.Warn("gateway breaker tripped",
		zap.Int("consecutive_failures", b.consecutive),
		zap.Duration("cooldown", b.cfg.Cooldown))
}

// Call 经熔断器执行一次请求。
func (b *Breaker) Call(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(classify(err))
	return err
}

// State 返回当前状态。
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// classify 把交易所的业务性拒绝当作成功：
// 对方能答复就说明通道是通的，熔断只关心可用性。
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderRejected) || errors.Is(err, ErrOrderNotFound) {
		return nil
	}
	return err
}

// BreakerClient 给任意 Client 套上熔断保护。
type BreakerClient struct {
	inner   Client
	breaker *Breaker
}

// WithBreaker 包装客户端。
func WithBreaker(inner Client, cfg BreakerConfig, log *logger.Logger) *BreakerClient {
	return &BreakerClient{inner: inner, breaker: NewBreaker(cfg, log)}
}

// Breaker 暴露内部熔断器，供健康检查读取状态。
func (c *BreakerClient) Breaker() *Breaker { return c.breaker }

func (c *BreakerClient) Price(ctx context.Context, pair string) (float64, error) {
	var out float64
	err := c.breaker.Call(func() error {
		var err error
		out, err = c.inner.Price(ctx, pair)
		return err
	})
	return out, err
}

func (c *BreakerClient) Depth(ctx context.Context, pair string) (market.OrderBook, error) {
	var out market.OrderBook
	err := c.breaker.Call(func() error {
		var err error
		out, err = c.inner.Depth(ctx, pair)
		return err
	})
	return out, err
}

func (c *BreakerClient) Place(ctx context.Context, o Order) (Order, error) {
	var out Order
	err := c.breaker.Call(func() error {
		var err error
		out, err = c.inner.Place(ctx, o)
		return err
	})
	return out, err
}

func (c *BreakerClient) Cancel(ctx context.Context, orderID string) error {
	return c.breaker.Call(func() error {
		return c.inner.Cancel(ctx, orderID)
	})
}

func (c *BreakerClient) OpenOrders(ctx context.Context, pair string) ([]Order, error) {
	var out []Order
	err := c.breaker.Call(func() error {
		var err error
		out, err = c.inner.OpenOrders(ctx, pair)
		return err
	})
	return out, err
}

func (c *BreakerClient) Status(ctx context.Context, orderID string) (Order, error) {
	var out Order
	err := c.breaker.Call(func() error {
		var err error
		out, err = c.inner.Status(ctx, orderID)
		return err
	})
	return out, err
}
