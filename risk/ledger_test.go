package risk

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"grid-trader-go/market"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestLedger(cfg LedgerConfig, clk Clock) *Ledger {
	l := NewLedger(cfg, nil, nil)
	if clk != nil {
		l.clock = clk
		l.dailyStart = startOfDay(clk.Now())
		l.sessionStart = clk.Now()
	}
	return l
}

func defaultLedgerConfig() LedgerConfig {
	return LedgerConfig{Capital: 250, MaxDailyLoss: 0.05, StopLossPercent: 0.05}
}

func TestFillComputesPnL(t *testing.T) {
	l := newTestLedger(defaultLedgerConfig(), nil)

	l.Add(Position{ID: "b1", Side: market.SideBuy, Quantity: 10, EntryPrice: 100})
	if err := l.Fill("b1", 102); err != nil {
		t.Fatalf("fill: %v", err)
	}
	m := l.MetricsCopy()
	if math.Abs(m.TotalPnL-20) > 1e-9 {
		t.Fatalf("buy pnl: total=%v, want 20", m.TotalPnL)
	}
	if m.TotalTrades != 1 || m.WinningTrades != 1 || m.WinRate != 1 {
		t.Fatalf("metrics after win: %+v", m)
	}

	l.Add(Position{ID: "s1", Side: market.SideSell, Quantity: 5, EntryPrice: 100})
	if err := l.Fill("s1", 98); err != nil {
		t.Fatalf("fill: %v", err)
	}
	m = l.MetricsCopy()
	if math.Abs(m.TotalPnL-30) > 1e-9 {
		t.Fatalf("sell pnl: total=%v, want 30", m.TotalPnL)
	}
	if math.Abs(m.DailyPnL-30) > 1e-9 {
		t.Fatalf("daily pnl = %v, want 30", m.DailyPnL)
	}
}

func TestFillUnknownAndRepeated(t *testing.T) {
	l := newTestLedger(defaultLedgerConfig(), nil)

	if err := l.Fill("ghost", 100); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
	l.Add(Position{ID: "p1", Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	if err := l.Fill("p1", 101); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if err := l.Fill("p1", 101); !errors.Is(err, ErrPositionClosed) {
		t.Fatalf("second fill: %v", err)
	}
	if err := l.Cancel("p1"); !errors.Is(err, ErrPositionClosed) {
		t.Fatalf("cancel filled: %v", err)
	}
}

func TestCancelLeavesMetricsUntouched(t *testing.T) {
	l := newTestLedger(defaultLedgerConfig(), nil)
	l.Add(Position{ID: "p1", Side: market.SideBuy, Quantity: 2, EntryPrice: 50})

	if got := l.Exposure(); math.Abs(got-100) > 1e-9 {
		t.Fatalf("exposure = %v, want 100", got)
	}
	if err := l.Cancel("p1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := l.Exposure(); got != 0 {
		t.Fatalf("exposure after cancel = %v, want 0", got)
	}
	if m := l.MetricsCopy(); m.TotalTrades != 0 || m.TotalPnL != 0 {
		t.Fatalf("metrics touched by cancel: %+v", m)
	}
}

func TestStopLossHits(t *testing.T) {
	l := newTestLedger(defaultLedgerConfig(), nil)
	l.Add(Position{ID: "buy", Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	l.Add(Position{ID: "sell", Side: market.SideSell, Quantity: 1, EntryPrice: 100})

	// 买单止损价 95：94 触发，96 不触发
	if hits := l.StopLossHits(94); len(hits) != 1 || hits[0] != "buy" {
		t.Fatalf("at 94: %v, want [buy]", hits)
	}
	if hits := l.StopLossHits(96); len(hits) != 0 {
		t.Fatalf("at 96: %v, want none", hits)
	}
	// 边界价恰好等于止损价也触发
	if hits := l.StopLossHits(95); len(hits) != 1 || hits[0] != "buy" {
		t.Fatalf("at 95: %v, want [buy]", hits)
	}
	// 卖单在 105 及以上触发
	if hits := l.StopLossHits(106); len(hits) != 1 || hits[0] != "sell" {
		t.Fatalf("at 106: %v, want [sell]", hits)
	}

	// 已离场仓位不再参与止损
	if err := l.Cancel("buy"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if hits := l.StopLossHits(50); len(hits) != 1 || hits[0] != "sell" {
		t.Fatalf("after cancel at 50: %v, want [sell]", hits)
	}
}

func TestCheckLimitsDailyLoss(t *testing.T) {
	l := newTestLedger(defaultLedgerConfig(), nil)
	if err := l.CheckLimits(); err != nil {
		t.Fatalf("fresh ledger: %v", err)
	}

	// 日亏 15，超过 250×5% = 12.50
	l.Add(Position{ID: "p1", Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	if err := l.Fill("p1", 85); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := l.CheckLimits(); !errors.Is(err, ErrDailyLossLimit) {
		t.Fatalf("daily loss 15: %v, want daily loss limit", err)
	}
}

func TestCheckLimitsDailyLossBoundary(t *testing.T) {
	l := newTestLedger(defaultLedgerConfig(), nil)

	// 恰好亏到限额也熔断（含等号）
	l.Add(Position{ID: "p1", Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	if err := l.Fill("p1", 87.5); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := l.CheckLimits(); !errors.Is(err, ErrDailyLossLimit) {
		t.Fatalf("daily loss 12.50: %v, want daily loss limit", err)
	}
}

func TestCheckLimitsDrawdown(t *testing.T) {
	cfg := defaultLedgerConfig()
	cfg.MaxDailyLoss = 1.0 // 放宽日亏闸门，单测回撤
	l := newTestLedger(cfg, nil)

	// 回撤限额 250×15% = 37.50，严格大于才熔断
	l.Add(Position{ID: "p1", Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	if err := l.Fill("p1", 62.5); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := l.CheckLimits(); err != nil {
		t.Fatalf("drawdown exactly 37.50 should pass: %v", err)
	}

	l.Add(Position{ID: "p2", Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	if err := l.Fill("p2", 99); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := l.CheckLimits(); !errors.Is(err, ErrDrawdownLimit) {
		t.Fatalf("drawdown 38.50: %v, want drawdown limit", err)
	}

	// 回撤是历史最深点，后续盈利不解除熔断
	l.Add(Position{ID: "p3", Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	if err := l.Fill("p3", 200); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if m := l.MetricsCopy(); m.TotalPnL < 0 {
		t.Fatalf("total pnl should be positive after recovery: %v", m.TotalPnL)
	}
	if err := l.CheckLimits(); !errors.Is(err, ErrDrawdownLimit) {
		t.Fatalf("after recovery: %v, want drawdown limit to persist", err)
	}
}

func TestDailyRollover(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)}
	l := newTestLedger(defaultLedgerConfig(), clk)

	l.Add(Position{ID: "d1", Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	if err := l.Fill("d1", 95); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if m := l.MetricsCopy(); math.Abs(m.DailyPnL+5) > 1e-9 {
		t.Fatalf("day 1 daily pnl = %v, want -5", m.DailyPnL)
	}

	// 跨天后的第一笔成交触发清零
	clk.t = clk.t.Add(24 * time.Hour)
	l.Add(Position{ID: "d2", Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	if err := l.Fill("d2", 103); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if m := l.MetricsCopy(); m.DailyPnL != 0 {
		t.Fatalf("daily pnl after rollover = %v, want 0", m.DailyPnL)
	}

	// 同一天内的后续成交正常累计
	l.Add(Position{ID: "d3", Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	if err := l.Fill("d3", 104); err != nil {
		t.Fatalf("fill: %v", err)
	}
	m := l.MetricsCopy()
	if math.Abs(m.DailyPnL-4) > 1e-9 {
		t.Fatalf("daily pnl = %v, want 4", m.DailyPnL)
	}
	if math.Abs(m.TotalPnL-2) > 1e-9 {
		t.Fatalf("total pnl = %v, want 2", m.TotalPnL)
	}
}

func TestRetentionDropsOldestTerminalOnly(t *testing.T) {
	l := newTestLedger(defaultLedgerConfig(), nil)

	for i := 0; i < maxPositionHistory; i++ {
		l.Add(Position{ID: fmt.Sprintf("p%d", i), Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	}
	for _, id := range []string{"p0", "p1", "p2"} {
		if err := l.Fill(id, 101); err != nil {
			t.Fatalf("fill %s: %v", id, err)
		}
	}
	for i := 0; i < 3; i++ {
		l.Add(Position{ID: fmt.Sprintf("n%d", i), Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	}

	if got := len(l.positions); got != maxPositionHistory {
		t.Fatalf("history length = %d, want %d", got, maxPositionHistory)
	}
	// 最旧的已离场仓位被丢弃
	if err := l.Fill("p0", 101); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("p0 should be evicted: %v", err)
	}
	// 未成交挂单全部保留
	if open := l.Open(); len(open) != maxPositionHistory {
		t.Fatalf("open count = %d, want %d", len(open), maxPositionHistory)
	}
	if err := l.Fill("p3", 101); err != nil {
		t.Fatalf("p3 must survive compaction: %v", err)
	}
}

func TestRecentQueriesFilter(t *testing.T) {
	l := newTestLedger(defaultLedgerConfig(), nil)

	l.Add(Position{ID: "w1", Side: market.SideBuy, Quantity: 2, EntryPrice: 10})
	l.Add(Position{ID: "l1", Side: market.SideBuy, Quantity: 2, EntryPrice: 10})
	l.Add(Position{ID: "c1", Side: market.SideSell, Quantity: 2, EntryPrice: 10})
	l.Add(Position{ID: "o1", Side: market.SideSell, Quantity: 2, EntryPrice: 10})

	if err := l.Fill("w1", 11); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := l.Fill("l1", 9); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := l.Cancel("c1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	pnls, raw := l.RecentOutcomes(20)
	if raw != 4 {
		t.Fatalf("raw count = %d, want 4", raw)
	}
	if len(pnls) != 2 {
		t.Fatalf("nonzero outcomes = %v, want 2 entries", pnls)
	}

	samples := l.FillSamples(50)
	if len(samples) != 2 {
		t.Fatalf("fill samples = %+v, want 2", samples)
	}
	for _, s := range samples {
		if s.Quantity != 2 || s.Price != 10 {
			t.Fatalf("sample carries wrong entry data: %+v", s)
		}
	}

	// 正收益合计只含盈利的成交
	if got := l.RealizedProfit(); math.Abs(got-2) > 1e-9 {
		t.Fatalf("realized profit = %v, want 2", got)
	}
}

func TestSummary(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	l := newTestLedger(defaultLedgerConfig(), clk)

	l.Add(Position{ID: "p1", Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
	l.Add(Position{ID: "p2", Side: market.SideSell, Quantity: 1, EntryPrice: 110})
	if err := l.Fill("p1", 105); err != nil {
		t.Fatalf("fill: %v", err)
	}

	clk.t = clk.t.Add(90 * time.Minute)
	s := l.Summary()
	if s.OpenPositions != 1 {
		t.Fatalf("open positions = %d, want 1", s.OpenPositions)
	}
	if math.Abs(s.Exposure-110) > 1e-9 {
		t.Fatalf("exposure = %v, want 110", s.Exposure)
	}
	if math.Abs(s.SessionHours-1.5) > 1e-9 {
		t.Fatalf("session hours = %v, want 1.5", s.SessionHours)
	}
	if math.Abs(s.ROIPercent-2) > 1e-9 {
		t.Fatalf("roi = %v, want 2%% of 250", s.ROIPercent)
	}
	if s.Metrics.TotalTrades != 1 {
		t.Fatalf("summary metrics: %+v", s.Metrics)
	}
}

type countingStore struct {
	saves  int
	last   Metrics
	loaded Metrics
	ok     bool
}

func (c *countingStore) Save(m Metrics, _ time.Time) error {
	c.saves++
	c.last = m
	return nil
}

func (c *countingStore) Load() (Metrics, bool, error) { return c.loaded, c.ok, nil }

func TestPeriodicFlushEveryTenTrades(t *testing.T) {
	store := &countingStore{}
	l := NewLedger(defaultLedgerConfig(), store, nil)

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("p%d", i)
		l.Add(Position{ID: id, Side: market.SideBuy, Quantity: 1, EntryPrice: 100})
		if err := l.Fill(id, 101); err != nil {
			t.Fatalf("fill %s: %v", id, err)
		}
	}
	if store.saves != 1 {
		t.Fatalf("saves after 10 trades = %d, want 1", store.saves)
	}
	if store.last.TotalTrades != 10 {
		t.Fatalf("persisted trades = %d, want 10", store.last.TotalTrades)
	}

	if err := l.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if store.saves != 2 {
		t.Fatalf("saves after flush = %d, want 2", store.saves)
	}
}

func TestLedgerRestoresMetricsFromStore(t *testing.T) {
	store := &countingStore{
		loaded: Metrics{TotalPnL: 42, TotalTrades: 7, WinningTrades: 5, LosingTrades: 2, WinRate: 5.0 / 7},
		ok:     true,
	}
	l := NewLedger(defaultLedgerConfig(), store, nil)

	m := l.MetricsCopy()
	if m.TotalPnL != 42 || m.TotalTrades != 7 {
		t.Fatalf("restored metrics: %+v", m)
	}
}
