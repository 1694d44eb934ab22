package alert

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestManagerBroadcastsToAllChannels(t *testing.T) {
	a := NewMockChannel("a")
	b := NewMockChannel("b")
	mgr := NewManager([]Channel{a, b}, time.Minute)

	if err := mgr.SendCritical("daily loss limit hit", map[string]interface{}{"daily_pnl": -13.2}); err != nil {
		t.Fatalf("send err: %v", err)
	}

	if a.Count() != 1 || b.Count() != 1 {
		t.Fatalf("expected both channels to receive, got %d/%d", a.Count(), b.Count())
	}
	got := a.Alerts()[0]
	if got.Level != LevelCritical {
		t.Fatalf("level = %s, want CRITICAL", got.Level)
	}
	if got.Message != "daily loss limit hit" {
		t.Fatalf("unexpected message %q", got.Message)
	}
	if got.Fields["daily_pnl"] != -13.2 {
		t.Fatalf("unexpected fields %v", got.Fields)
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("timestamp should be set")
	}
}

func TestManagerThrottlesRepeats(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)

	for i := 0; i < 5; i++ {
		if err := mgr.SendWarning("stop loss closed", nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if mock.Count() != 1 {
		t.Fatalf("expected throttle to 1 alert, got %d", mock.Count())
	}

	// 不同内容不受同一键限流
	if err := mgr.SendWarning("another reason", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if mock.Count() != 2 {
		t.Fatalf("expected 2 alerts, got %d", mock.Count())
	}
}

func TestManagerErrorsOnlyWhenAllChannelsFail(t *testing.T) {
	broken := NewMockChannel("broken")
	broken.SetFail(true)
	healthy := NewMockChannel("healthy")

	mgr := NewManager([]Channel{broken, healthy}, time.Minute)
	if err := mgr.SendInfo("started", nil); err != nil {
		t.Fatalf("one healthy channel should be enough: %v", err)
	}
	if healthy.Count() != 1 {
		t.Fatalf("healthy channel missed the alert")
	}

	solo := NewManager([]Channel{broken}, time.Minute)
	if err := solo.SendInfo("started", nil); err == nil {
		t.Fatalf("expected error when every channel fails")
	}
}

func TestWebhookChannelPostsJSON(t *testing.T) {
	var received Alert
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer ts.Close()

	ch := NewWebhookChannel(ts.URL, time.Second)
	err := ch.Send(Alert{Level: LevelCritical, Message: "halted", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("send err: %v", err)
	}
	if received.Level != LevelCritical || received.Message != "halted" {
		t.Fatalf("unexpected payload %+v", received)
	}
}

func TestWebhookChannelRejectsBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	ch := NewWebhookChannel(ts.URL, time.Second)
	if err := ch.Send(Alert{Level: LevelInfo, Message: "ping"}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestLoggerChannelNeverFails(t *testing.T) {
	ch := NewLoggerChannel(nil)
	if err := ch.Send(Alert{Level: LevelCritical, Message: "halted"}); err != nil {
		t.Fatalf("logger channel err: %v", err)
	}
	if ch.Name() != "logger" {
		t.Fatalf("unexpected name %s", ch.Name())
	}
}
