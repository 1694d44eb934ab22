package gateway

import (
	"sync"
	"time"
)

// RateLimiter 控制出站请求速率，避免触发交易所限流。
type RateLimiter interface {
	Wait()
}

// TokenBucket 令牌桶限流器。
type TokenBucket struct {
	rate   float64 // 每秒补充的令牌数
	burst  int
	tokens float64
	last   time.Time
	mu     sync.Mutex
}

func NewTokenBucket(rate float64, burst int) *TokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// NewMinIntervalLimiter 构建保证相邻请求至少间隔 interval 的限流器。
// REST 客户端默认 100ms。
func NewMinIntervalLimiter(interval time.Duration) *TokenBucket {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return NewTokenBucket(1/interval.Seconds(), 1)
}

func (l *TokenBucket) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	if l.tokens < 1 {
		sleep := time.Duration((1-l.tokens)/l.rate*float64(time.Second)) + time.Millisecond
		l.mu.Unlock()
		time.Sleep(sleep)
		l.mu.Lock()
		l.tokens = 0
		return
	}
	l.tokens--
}

// noopLimiter 供测试使用。
type noopLimiter struct{}

func (noopLimiter) Wait() {}
