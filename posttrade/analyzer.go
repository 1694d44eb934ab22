// Package posttrade 度量成交之后的价格走向。
// 网格赚的是均值回归，成交后价格还在向同一方向穿越，
// 说明趋势正在碾压网格，这个比例值得盯着。
package posttrade

import (
	"sync"
	"time"

	"grid-trader-go/market"
)

// Config 采样参数。零值取默认。
type Config struct {
	ShortHorizon time.Duration // 短观察窗，默认 1 分钟
	LongHorizon  time.Duration // 长观察窗，默认 5 分钟
	MaxRecords   int           // 留存的完成样本上限，默认 500
}

type record struct {
	side      market.Side
	price     float64
	filledAt  time.Time
	shortMark float64
	longMark  float64
}

// Stats 漂移统计。漂移为正表示价格在成交后继续穿越该价位。
type Stats struct {
	TotalFills       int
	AnalyzedFills    int
	ContinuationRate float64 // 短窗内仍在穿越的成交占比
	AvgDriftShort    float64
	AvgDriftLong     float64
}

// Analyzer 跟踪每笔成交之后两个时间窗的行情价。
// 由引擎的行情 tick 驱动，自己不起 goroutine。
type Analyzer struct {
	cfg Config

	mu      sync.Mutex
	pending map[string]*record
	done    []record
}

// NewAnalyzer 创建分析器。
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.ShortHorizon <= 0 {
		cfg.ShortHorizon = time.Minute
	}
	if cfg.LongHorizon <= cfg.ShortHorizon {
		cfg.LongHorizon = 5 * time.Minute
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 500
	}
	return &Analyzer{cfg: cfg, pending: make(map[string]*record)}
}

// OnFill 登记一笔成交。
func (a *Analyzer) OnFill(orderID string, side market.Side, price float64, now time.Time) {
	if orderID == "" || price <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[orderID] = &record{side: side, price: price, filledAt: now}
}

// Observe 用当前行情价推进所有未完成的采样。
func (a *Analyzer) Observe(price float64, now time.Time) {
	if price <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, r := range a.pending {
		elapsed := now.Sub(r.filledAt)
		if r.shortMark == 0 && elapsed >= a.cfg.ShortHorizon {
			r.shortMark = price
		}
		if elapsed >= a.cfg.LongHorizon {
			r.longMark = price
			if r.shortMark == 0 {
				r.shortMark = price
			}
			a.done = append(a.done, *r)
			delete(a.pending, id)
		}
	}
	if overflow := len(a.done) - a.cfg.MaxRecords; overflow > 0 {
		a.done = a.done[overflow:]
	}
}

// Stats 汇总已完成的样本。
func (a *Analyzer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Stats{TotalFills: len(a.pending) + len(a.done), AnalyzedFills: len(a.done)}
	if len(a.done) == 0 {
		return st
	}

	var continued int
	var sumShort, sumLong float64
	for _, r := range a.done {
		short := drift(r.side, r.price, r.shortMark)
		long := drift(r.side, r.price, r.longMark)
		sumShort += short
		sumLong += long
		if short > 0 {
			continued++
		}
	}
	n := float64(len(a.done))
	st.ContinuationRate = float64(continued) / n
	st.AvgDriftShort = sumShort / n
	st.AvgDriftLong = sumLong / n
	return st
}

// drift 买单成交后价格继续下行、卖单成交后价格继续上行为正。
func drift(side market.Side, fill, mark float64) float64 {
	if fill <= 0 || mark <= 0 {
		return 0
	}
	if side == market.SideBuy {
		return (fill - mark) / fill
	}
	return (mark - fill) / fill
}
