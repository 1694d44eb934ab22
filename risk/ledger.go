package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
)

// Clock 抽象时间便于测试跨天结算。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// 仓位历史上限。超出后优先丢弃最旧的已离场仓位，
// 未成交挂单永不丢弃，近窗查询（≤50）不受影响。
const maxPositionHistory = 1000

// LedgerConfig 账本风控参数。
type LedgerConfig struct {
	Capital         float64 // 配置本金，风控阈值的基数
	MaxDailyLoss    float64 // 日亏熔断比例
	StopLossPercent float64 // 单仓止损比例
}

// Ledger 持有全部仓位与绩效指标，是唯一的写入方。
// 引擎单线程驱动，读方法带读锁供 Sizer 等组件并发查询。
type Ledger struct {
	cfg   LedgerConfig
	store MetricsStore
	log   *logger.Logger
	clock Clock

	mu           sync.RWMutex
	positions    []Position
	index        map[string]int
	metrics      Metrics
	dailyStart   time.Time
	sessionStart time.Time
}

// NewLedger 创建账本。store 可为 nil（不持久化）；
// 传入 store 时会尝试恢复上次会话的指标。
func NewLedger(cfg LedgerConfig, store MetricsStore, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Nop()
	}
	l := &Ledger{
		cfg:   cfg,
		store: store,
		log:   log,
		clock: realClock{},
		index: make(map[string]int),
	}
	now := l.clock.Now()
	l.dailyStart = startOfDay(now)
	l.sessionStart = now

	if store != nil {
		m, ok, err := store.Load()
		if err != nil {
			log.Warn("failed to load trading history, starting fresh", zap.Error(err))
		} else if ok {
			l.metrics = m
			log.Info("loaded trading history",
				zap.Float64("total_pnl", m.TotalPnL),
				zap.Int("total_trades", m.TotalTrades),
			)
		}
	}
	return l
}

// Add 登记一笔新挂单。
func (l *Ledger) Add(p Position) {
	l.mu.Lock()
	if p.Timestamp.IsZero() {
		p.Timestamp = l.clock.Now()
	}
	if p.Status == "" {
		p.Status = StatusOpen
	}
	l.positions = append(l.positions, p)
	l.index[p.ID] = len(l.positions) - 1
	l.compactLocked()
	l.mu.Unlock()

	l.log.LogOrder("position_added", p.ID, map[string]interface{}{
		"side":     string(p.Side),
		"quantity": p.Quantity,
		"price":    p.EntryPrice,
	})
}

// Fill 将挂单标记为成交并按成交价结算盈亏。
// 买单盈亏 = (成交价-挂单价)×数量，卖单相反。
func (l *Ledger) Fill(id string, fillPrice float64) error {
	l.mu.Lock()
	i, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	p := &l.positions[i]
	if p.Status != StatusOpen {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrPositionClosed, id, p.Status)
	}
	p.Status = StatusFilled
	if p.Side == market.SideBuy {
		p.PnL = (fillPrice - p.EntryPrice) * p.Quantity
	} else {
		p.PnL = (p.EntryPrice - fillPrice) * p.Quantity
	}
	pnl := p.PnL
	side := p.Side
	quantity := p.Quantity
	l.applyFillLocked(pnl)
	trades := l.metrics.TotalTrades
	metrics := l.metrics
	l.mu.Unlock()

	l.log.LogFill(id, string(side), quantity, fillPrice, pnl)

	// 每十笔成交落盘一次；失败只记日志，绝不阻断交易循环
	if l.store != nil && trades%10 == 0 {
		if err := l.store.Save(metrics, l.clock.Now()); err != nil {
			l.log.Warn("failed to persist trading history", zap.Error(err))
		}
	}
	return nil
}

// Cancel 将挂单标记为撤销，不影响绩效统计。
func (l *Ledger) Cancel(id string) error {
	l.mu.Lock()
	i, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	p := &l.positions[i]
	if p.Status != StatusOpen {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrPositionClosed, id, p.Status)
	}
	p.Status = StatusCancelled
	l.mu.Unlock()

	l.log.LogOrder("position_cancelled", id, nil)
	return nil
}

// StopLossHits 返回当前价下触发止损的未成交挂单 id。
// 买单在价格跌破挂单价×(1-止损比例) 时触发，卖单反向。
func (l *Ledger) StopLossHits(currentPrice float64) []string {
	l.mu.RLock()
	var hits []string
	for i := range l.positions {
		p := &l.positions[i]
		if p.Status != StatusOpen {
			continue
		}
		switch p.Side {
		case market.SideBuy:
			if currentPrice <= p.EntryPrice*(1-l.cfg.StopLossPercent) {
				hits = append(hits, p.ID)
			}
		case market.SideSell:
			if currentPrice >= p.EntryPrice*(1+l.cfg.StopLossPercent) {
				hits = append(hits, p.ID)
			}
		}
	}
	l.mu.RUnlock()

	if len(hits) > 0 {
		l.log.LogRisk("stop_loss_triggered", map[string]interface{}{
			"positions": hits,
			"price":     currentPrice,
		})
	}
	return hits
}

// CheckLimits 风控闸门，返回 nil 表示可以继续交易。
// 日亏达到 capital×MaxDailyLoss（含）或最大回撤超过本金 15% 时熔断。
func (l *Ledger) CheckLimits() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	dailyLoss := math.Abs(math.Min(0, l.metrics.DailyPnL))
	lossLimit := l.cfg.Capital * l.cfg.MaxDailyLoss
	if dailyLoss >= lossLimit {
		return fmt.Errorf("%w: %.2f >= %.2f", ErrDailyLossLimit, dailyLoss, lossLimit)
	}

	ddLimit := l.cfg.Capital * drawdownHaltFraction
	if math.Abs(l.metrics.MaxDrawdown) > ddLimit {
		return fmt.Errorf("%w: %.2f > %.2f", ErrDrawdownLimit, math.Abs(l.metrics.MaxDrawdown), ddLimit)
	}
	return nil
}

// Exposure 当前敞口：所有未成交挂单的名义价值之和。
func (l *Ledger) Exposure() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.exposureLocked()
}

// Open 返回全部未成交挂单的副本。
func (l *Ledger) Open() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0)
	for _, p := range l.positions {
		if p.Status == StatusOpen {
			out = append(out, p)
		}
	}
	return out
}

// Get 按 ID 查一笔仓位。
func (l *Ledger) Get(id string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Position{}, false
	}
	return l.positions[i], true
}

// MetricsCopy 返回指标快照。
func (l *Ledger) MetricsCopy() Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.metrics
}

// RealizedProfit 已成交仓位的正盈亏之和，复利计算的输入。
func (l *Ledger) RealizedProfit() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum float64
	for i := range l.positions {
		p := &l.positions[i]
		if p.Status == StatusFilled && p.PnL > 0 {
			sum += p.PnL
		}
	}
	return sum
}

// RecentOutcomes 返回最近 n 笔仓位中的非零盈亏序列与原始条数。
// 原始条数包含尚未成交的仓位，动量计算用它判断样本是否充足。
func (l *Ledger) RecentOutcomes(n int) ([]float64, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := len(l.positions) - n
	if start < 0 {
		start = 0
	}
	recent := l.positions[start:]
	pnls := make([]float64, 0, len(recent))
	for i := range recent {
		if recent[i].PnL != 0 {
			pnls = append(pnls, recent[i].PnL)
		}
	}
	return pnls, len(recent)
}

// FillSamples 返回最近 n 笔仓位中已成交且盈亏非零的样本，波动率估计用。
func (l *Ledger) FillSamples(n int) []market.PnLSample {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := len(l.positions) - n
	if start < 0 {
		start = 0
	}
	samples := make([]market.PnLSample, 0)
	for _, p := range l.positions[start:] {
		if p.Status == StatusFilled && p.PnL != 0 {
			samples = append(samples, market.PnLSample{
				PnL:      p.PnL,
				Quantity: p.Quantity,
				Price:    p.EntryPrice,
			})
		}
	}
	return samples
}

// Summary 返回当前绩效快照。
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	open := 0
	for i := range l.positions {
		if l.positions[i].Status == StatusOpen {
			open++
		}
	}
	roi := 0.0
	if l.cfg.Capital > 0 {
		roi = l.metrics.TotalPnL / l.cfg.Capital * 100
	}
	return Summary{
		Metrics:       l.metrics,
		OpenPositions: open,
		Exposure:      l.exposureLocked(),
		SessionHours:  l.clock.Now().Sub(l.sessionStart).Hours(),
		ROIPercent:    roi,
	}
}

// Flush 立即持久化指标，引擎停机时调用。
func (l *Ledger) Flush() error {
	if l.store == nil {
		return nil
	}
	return l.store.Save(l.MetricsCopy(), l.clock.Now())
}

// applyFillLocked 结算一笔成交对指标的影响，随后做跨天清零。
func (l *Ledger) applyFillLocked(pnl float64) {
	l.metrics.TotalPnL += pnl
	l.metrics.DailyPnL += pnl
	l.metrics.TotalTrades++
	if pnl > 0 {
		l.metrics.WinningTrades++
	} else {
		l.metrics.LosingTrades++
	}
	if l.metrics.TotalTrades > 0 {
		l.metrics.WinRate = float64(l.metrics.WinningTrades) / float64(l.metrics.TotalTrades)
	}
	if l.metrics.TotalPnL < l.metrics.MaxDrawdown {
		l.metrics.MaxDrawdown = l.metrics.TotalPnL
	}

	now := l.clock.Now()
	if day := startOfDay(now); day.After(l.dailyStart) {
		l.metrics.DailyPnL = 0
		l.dailyStart = day
	}
}

func (l *Ledger) exposureLocked() float64 {
	var exposure float64
	for i := range l.positions {
		p := &l.positions[i]
		if p.Status == StatusOpen {
			exposure += p.Notional()
		}
	}
	return exposure
}

// compactLocked 超出历史上限时丢弃最旧的已离场仓位并重建索引。
func (l *Ledger) compactLocked() {
	if len(l.positions) <= maxPositionHistory {
		return
	}
	over := len(l.positions) - maxPositionHistory
	kept := make([]Position, 0, maxPositionHistory)
	for _, p := range l.positions {
		if over > 0 && p.Terminal() {
			over--
			continue
		}
		kept = append(kept, p)
	}
	l.positions = kept
	l.index = make(map[string]int, len(kept))
	for i := range kept {
		l.index[kept[i].ID] = i
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
