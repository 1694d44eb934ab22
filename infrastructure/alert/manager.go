// Package alert 把风控停机这类需要人看见的事件推到日志之外的通道。
// 日志可能没人盯，webhook 能打到值班群里。
package alert

import (
	"fmt"
	"sync"
	"time"
)

// Level 告警级别。
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert 一条告警。
type Alert struct {
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Channel 告警出口。
type Channel interface {
	Send(a Alert) error
	Name() string
}

// Throttler 按键限流，同一告警在间隔内只放行一次。
type Throttler struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
}

// NewThrottler 创建限流器。
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{last: make(map[string]time.Time), interval: interval}
}

// Allow 判断该键是否放行，放行时记录时间。
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if prev, ok := t.last[key]; ok && now.Sub(prev) < t.interval {
		return false
	}
	t.last[key] = now
	return true
}

// Reset 清空限流记录。
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = make(map[string]time.Time)
}

// Manager 把告警广播到全部通道。同级别同内容的告警会被限流，
// 风控熔断这种事件每个 tick 都会触发一次，不限流会刷爆通道。
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	throttle *Throttler
}

// NewManager 创建告警管理器。
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	if throttleInterval <= 0 {
		throttleInterval = time.Minute
	}
	return &Manager{channels: channels, throttle: NewThrottler(throttleInterval)}
}

// AddChannel 追加一个通道。
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// Channels 返回通道名列表。
func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Send 发送一条告警。被限流时静默丢弃；
// 只有所有通道都失败才返回错误。
func (m *Manager) Send(a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if !m.throttle.Allow(string(a.Level) + ":" + a.Message) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	delivered := 0
	for _, ch := range m.channels {
		if err := ch.Send(a); err != nil {
			lastErr = fmt.Errorf("channel %s: %w", ch.Name(), err)
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// SendInfo 发送 INFO 级别告警。
func (m *Manager) SendInfo(message string, fields map[string]interface{}) error {
	return m.Send(Alert{Level: LevelInfo, Message: message, Fields: fields})
}

// SendWarning 发送 WARNING 级别告警。
func (m *Manager) SendWarning(message string, fields map[string]interface{}) error {
	return m.Send(Alert{Level: LevelWarning, Message: message, Fields: fields})
}

// SendCritical 发送 CRITICAL 级别告警。
func (m *Manager) SendCritical(message string, fields map[string]interface{}) error {
	return m.Send(Alert{Level: LevelCritical, Message: message, Fields: fields})
}
