package logschema

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"grid-trader-go/infrastructure/logger"
)

func TestValidate(t *testing.T) {
	err := Validate("fill_event", map[string]interface{}{
		"order_id":   "ord-1",
		"side":       "buy",
		"quantity":   0.075,
		"fill_price": 99.4,
		"pnl":        0.0,
		"ts":         "2026-03-01T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = Validate("fill_event", map[string]interface{}{"order_id": "ord-1"})
	if err == nil {
		t.Fatalf("expected error for missing fields")
	}

	// 未登记的事件不校验
	if err := Validate("whatever", nil); err != nil {
		t.Fatalf("unknown events must pass: %v", err)
	}
}

func TestKnownEvents(t *testing.T) {
	names := Known()
	if len(names) == 0 {
		t.Fatalf("expected non-empty schema list")
	}
	found := false
	for _, n := range names {
		if n == "fill_event" {
			found = true
		}
	}
	if !found {
		t.Fatalf("fill_event not found in schemas")
	}
}

// 用 observer 捕获真实日志器的输出，保证字段契约没被悄悄改掉。
func TestLoggerOutputMatchesSchemas(t *testing.T) {
	core, observed := observer.New(zap.InfoLevel)
	log := &logger.Logger{Logger: zap.New(core)}

	log.LogFill("ord-1", "buy", 0.075, 99.4, 0)
	log.LogOrder("order_placed", "ord-1", map[string]interface{}{"price": 99.4})
	log.LogGrid(15, 0.006, 0.02)
	log.LogRisk("trading_halted", map[string]interface{}{"reason": "daily loss"})
	log.LogError(errors.New("boom"), map[string]interface{}{"stage": "price_fetch"})

	entries := observed.All()
	if len(entries) != 5 {
		t.Fatalf("expected 5 log entries, got %d", len(entries))
	}
	for _, e := range entries {
		if err := Validate(e.Message, e.ContextMap()); err != nil {
			t.Fatalf("log entry violates schema: %v", err)
		}
	}
}
