package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/infrastructure/logger"
)

// LoggerChannel 把告警落到结构化日志，永远作为兜底通道存在。
type LoggerChannel struct {
	log *logger.Logger
}

// NewLoggerChannel 创建日志通道。log 为 nil 时丢弃输出。
func NewLoggerChannel(log *logger.Logger) *LoggerChannel {
	if log == nil {
		log = logger.Nop()
	}
	return &LoggerChannel{log: log}
}

func (c *LoggerChannel) Send(a Alert) error {
	fields := make([]zap.Field, 0, len(a.Fields)+2)
	fields = append(fields,
		zap.String("level", string(a.Level)),
		zap.String("message", a.Message),
	)
	for k, v := range a.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	if a.Level == LevelCritical {
		c.log.Error("alert_event", fields...)
	} else {
		c.log.Warn("alert_event", fields...)
	}
	return nil
}

func (c *LoggerChannel) Name() string { return "logger" }

// WebhookChannel 把告警 POST 到一个 webhook 地址，
// 负载是 Alert 的 JSON，适配 Slack/Discord 的入站代理。
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel 创建 webhook 通道。
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Send(a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookChannel) Name() string { return "webhook" }

// MockChannel 测试用通道，记录收到的告警。
type MockChannel struct {
	name   string
	alerts []Alert
	fail   bool
}

// NewMockChannel 创建测试通道。
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

func (c *MockChannel) Send(a Alert) error {
	if c.fail {
		return fmt.Errorf("mock channel down")
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *MockChannel) Name() string { return c.name }

// Alerts 返回收到的全部告警。
func (c *MockChannel) Alerts() []Alert { return c.alerts }

// Count 返回收到的告警数。
func (c *MockChannel) Count() int { return len(c.alerts) }

// SetFail 控制后续 Send 是否报错。
func (c *MockChannel) SetFail(fail bool) { c.fail = fail }
