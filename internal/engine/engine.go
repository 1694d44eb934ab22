package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
	"grid-trader-go/metrics"
	"grid-trader-go/posttrade"
	"grid-trader-go/risk"
	"grid-trader-go/strategy"
)

// State 引擎状态
type State int

const (
	// StateIdle 空闲状态
	StateIdle State = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置
type Config struct {
	Pair            string        // 交易对
	RiskPerTrade    float64       // 每层的基础风险比例
	ProfitTarget    float64       // 对手单的盈利目标比例
	CheckInterval   time.Duration // 主循环间隔
	SummaryInterval time.Duration // 绩效摘要间隔
	RetryDelay      time.Duration // 行情拉取失败的重试间隔
	MaxRetries      int           // 行情拉取重试次数
}

// Components 引擎依赖组件
type Components struct {
	Gateway    gateway.Client
	Ledger     *risk.Ledger
	Sizer      *risk.Sizer
	Calculator *strategy.Calculator
	Estimator  *market.VolatilityEstimator
	Logger     *logger.Logger

	// Alerts 和 Drift 可为 nil，引擎在缺省时静默跳过对应环节
	Alerts *alert.Manager
	Drift  *posttrade.Analyzer
}

// orderRef 挂单到网格层位的反向索引
type orderRef struct {
	level int
	side  market.Side
}

// Engine 网格交易引擎。启动时铺设整张网格，此后周期性地
// 检查风控熔断、识别成交、挂对手单、扫止损、重置走完一轮的层位。
type Engine struct {
	cfg Config

	gw     gateway.Client
	ledger *risk.Ledger
	sizer  *risk.Sizer
	calc   *strategy.Calculator
	vol    *market.VolatilityEstimator
	log    *logger.Logger
	alerts *alert.Manager
	drift  *posttrade.Analyzer

	mu        sync.RWMutex
	state     State
	ladder    []strategy.GridLevel
	orders    map[string]orderRef
	finalized bool

	lastSummary time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// New 创建交易引擎
func New(cfg Config, components Components) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}

	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 60 * time.Second
	}
	if cfg.SummaryInterval <= 0 {
		cfg.SummaryInterval = 10 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &Engine{
		cfg:      cfg,
		gw:       components.Gateway,
		ledger:   components.Ledger,
		sizer:    components.Sizer,
		calc:     components.Calculator,
		vol:      components.Estimator,
		log:      components.Logger,
		alerts:   components.Alerts,
		drift:    components.Drift,
		state:    StateIdle,
		orders:   make(map[string]orderRef),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 铺设初始网格并启动主循环。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	if e.state == StateStopped {
		e.stopChan = make(chan struct{})
		e.doneChan = make(chan struct{})
		e.orders = make(map[string]orderRef)
		e.finalized = false
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.log.Info("grid engine starting",
		zap.String("pair", e.cfg.Pair),
		zap.Duration("check_interval", e.cfg.CheckInterval),
		zap.Float64("profit_target", e.cfg.ProfitTarget))

	price, err := e.fetchPrice(ctx)
	if err != nil {
		e.abortStart()
		return fmt.Errorf("initial price: %w", err)
	}
	metrics.CurrentPrice.Set(price)

	if err := e.buildLadder(ctx, price); err != nil {
		e.abortStart()
		return err
	}
	e.placeGridOrders(ctx, price)
	e.lastSummary = time.Now()

	go e.run(ctx)

	e.mu.RLock()
	levels, placed := len(e.ladder), len(e.orders)
	e.mu.RUnlock()
	e.log.Info("grid engine started", zap.Int("levels", levels), zap.Int("orders", placed))
	return nil
}

// Stop 停止引擎：撤掉挂单、落盘指标、打印最终摘要。
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.mu.Unlock()

	e.log.Info("grid engine stopping")
	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}
	select {
	case <-e.doneChan:
	case <-time.After(10 * time.Second):
		e.log.Warn("timeout waiting for engine loop to stop")
	}
	e.finalize()
	return nil
}

// Done 主循环退出后关闭，风控熔断自停时运行方可据此感知。
func (e *Engine) Done() <-chan struct{} {
	return e.doneChan
}

// GetState 获取引擎状态
func (e *Engine) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Ladder 返回网格层位快照。
func (e *Engine) Ladder() []strategy.GridLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]strategy.GridLevel, len(e.ladder))
	copy(out, e.ladder)
	return out
}

func (e *Engine) abortStart() {
	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	close(e.doneChan)
}

// run 主事件循环
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("context done, stopping engine loop")
			return
		case <-e.stopChan:
			e.log.Info("stop signal received")
			return
		case <-ticker.C:
			if halted := e.onTick(ctx); halted {
				e.finalize()
				return
			}
		}
	}
}

// onTick 执行一轮检查。返回 true 表示风控要求停止交易。
func (e *Engine) onTick(ctx context.Context) bool {
	if err := e.ledger.CheckLimits(); err != nil {
		e.log.LogRisk("trading_halted", map[string]interface{}{
			"reason": err.Error(),
		})
		metrics.SetHalted(true)
		e.alertCritical("trading halted", map[string]interface{}{
			"reason": err.Error(),
			"pair":   e.cfg.Pair,
		})
		return true
	}

	price, err := e.fetchPrice(ctx)
	if err != nil {
		e.log.LogError(err, map[string]interface{}{"stage": "price_fetch"})
		return false
	}
	metrics.CurrentPrice.Set(price)
	if e.drift != nil {
		e.drift.Observe(price, time.Now())
	}

	e.detectFills(ctx)
	e.sweepStopLosses(ctx, price)
	e.resetCompletedLevels(ctx, price)
	e.maybeLogSummary()
	e.refreshMetrics()
	return false
}

// fetchPrice 拉取现价，失败按 RetryDelay 间隔重试。
func (e *Engine) fetchPrice(ctx context.Context) (float64, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if !wait(ctx, e.cfg.RetryDelay) {
				return 0, ctx.Err()
			}
		}
		px, err := e.gw.Price(ctx, e.cfg.Pair)
		if err == nil {
			return px, nil
		}
		lastErr = err
		metrics.IncrementGatewayError("price")
		e.log.Warn("price fetch failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return 0, fmt.Errorf("fetch price after %d attempts: %w", e.cfg.MaxRetries+1, lastErr)
}

// buildLadder 按现价和近期波动率生成网格层位。
func (e *Engine) buildLadder(ctx context.Context, price float64) error {
	vol := e.estimateVolatility()
	buys, sells := e.calc.Levels(ctx, price, vol)
	if len(buys) == 0 || len(sells) == 0 {
		return fmt.Errorf("no grid levels for price %.4f", price)
	}
	ladder := strategy.NewLadder(buys, sells)

	e.mu.Lock()
	e.ladder = ladder
	e.mu.Unlock()
	metrics.GridLevels.Set(float64(len(ladder)))
	e.log.LogGrid(len(ladder), (price-buys[0])/price, vol)
	return nil
}

func (e *Engine) estimateVolatility() float64 {
	m := e.ledger.MetricsCopy()
	return e.vol.Estimate(m.TotalTrades, e.ledger.FillSamples(20))
}

// placeGridOrders 铺设整张网格。每层先过一次仓位测算，
// 敞口被限死的层位跳过，单侧失败不影响另一侧。
func (e *Engine) placeGridOrders(ctx context.Context, price float64) {
	e.mu.RLock()
	count := len(e.ladder)
	e.mu.RUnlock()

	for i := 0; i < count; i++ {
		res := e.sizer.Size(price, e.cfg.RiskPerTrade)
		if res.Quantity <= 0 {
			e.log.Warn("skipping grid level, no viable position size",
				zap.Int("level", i+1), zap.String("outcome", res.Outcome.String()))
			continue
		}

		e.mu.RLock()
		lv := e.ladder[i]
		e.mu.RUnlock()

		if lv.BuyOrderID == "" && !lv.BuyFilled {
			e.placeLevelOrder(ctx, i, market.SideBuy, res.Quantity, lv.BuyPrice)
		}
		if lv.SellOrderID == "" && !lv.SellFilled {
			e.placeLevelOrder(ctx, i, market.SideSell, res.Quantity, lv.SellPrice)
		}
	}
}

// placeLevelOrder 提交一笔网格挂单并登记到账本与层位索引。
func (e *Engine) placeLevelOrder(ctx context.Context, level int, side market.Side, qty, price float64) {
	o, err := e.gw.Place(ctx, gateway.Order{
		Pair:     e.cfg.Pair,
		Side:     side,
		Type:     "limit",
		Quantity: qty,
		Price:    price,
	})
	if err != nil {
		metrics.IncrementGatewayError("place")
		e.log.LogError(err, map[string]interface{}{
			"stage": "place_order",
			"side":  string(side),
			"price": price,
		})
		return
	}
	metrics.IncrementOrder(string(side))

	e.mu.Lock()
	e.orders[o.ID] = orderRef{level: level, side: side}
	if level < len(e.ladder) {
		if side == market.SideBuy {
			e.ladder[level].BuyOrderID = o.ID
		} else {
			e.ladder[level].SellOrderID = o.ID
		}
	}
	e.mu.Unlock()

	e.ledger.Add(risk.Position{
		ID:         o.ID,
		Side:       side,
		Quantity:   qty,
		EntryPrice: price,
	})
}

// detectFills 对比交易所挂单列表与本地跟踪，消失的挂单逐一查状态。
func (e *Engine) detectFills(ctx context.Context) {
	open, err := e.gw.OpenOrders(ctx, e.cfg.Pair)
	if err != nil {
		metrics.IncrementGatewayError("open_orders")
		e.log.Warn("open order listing failed", zap.Error(err))
		return
	}
	alive := make(map[string]bool, len(open))
	for _, o := range open {
		alive[o.ID] = true
	}

	e.mu.RLock()
	tracked := make([]string, 0, len(e.orders))
	for id := range e.orders {
		tracked = append(tracked, id)
	}
	e.mu.RUnlock()

	for _, id := range tracked {
		if alive[id] {
			continue
		}
		st, err := e.gw.Status(ctx, id)
		if err != nil {
			metrics.IncrementGatewayError("status")
			e.log.Warn("order status check failed", zap.String("order_id", id), zap.Error(err))
			continue
		}
		switch st.State {
		case gateway.StateFilled:
			e.handleFill(ctx, st)
		case gateway.StateCancelled:
			// 外部撤单，同步账本后不再跟踪
			if err := e.ledger.Cancel(id); err != nil && !errors.Is(err, risk.ErrPositionClosed) {
				e.log.Warn("ledger cancel failed", zap.String("order_id", id), zap.Error(err))
			}
			e.dropOrder(id)
		}
	}
}

// handleFill 结算成交并在对侧挂盈利目标价的对手单。
func (e *Engine) handleFill(ctx context.Context, o gateway.Order) {
	if err := e.ledger.Fill(o.ID, o.Price); err != nil {
		e.log.Warn("ledger fill failed", zap.String("order_id", o.ID), zap.Error(err))
	}
	if pos, ok := e.ledger.Get(o.ID); ok {
		metrics.IncrementTrade(pos.PnL > 0)
	}
	if e.drift != nil {
		e.drift.OnFill(o.ID, o.Side, o.Price, time.Now())
	}

	e.mu.Lock()
	ref, tracked := e.orders[o.ID]
	delete(e.orders, o.ID)
	if tracked && ref.level < len(e.ladder) {
		lv := &e.ladder[ref.level]
		if ref.side == market.SideBuy {
			lv.BuyFilled = true
			lv.BuyOrderID = ""
		} else {
			lv.SellFilled = true
			lv.SellOrderID = ""
		}
	}
	e.mu.Unlock()
	if !tracked {
		return
	}

	if ref.side == market.SideBuy {
		e.placeLevelOrder(ctx, ref.level, market.SideSell, o.Quantity, o.Price*(1+e.cfg.ProfitTarget))
	} else {
		e.placeLevelOrder(ctx, ref.level, market.SideBuy, o.Quantity, o.Price*(1-e.cfg.ProfitTarget))
	}
}

// sweepStopLosses 撤掉触发止损的挂单。
func (e *Engine) sweepStopLosses(ctx context.Context, price float64) {
	for _, id := range e.ledger.StopLossHits(price) {
		if err := e.gw.Cancel(ctx, id); err != nil {
			metrics.IncrementGatewayError("cancel")
			e.log.Warn("stop loss cancel failed", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if err := e.ledger.Cancel(id); err != nil && !errors.Is(err, risk.ErrPositionClosed) {
			e.log.Warn("ledger cancel failed", zap.String("order_id", id), zap.Error(err))
		}
		e.dropOrder(id)
		e.log.LogOrder("stop_loss_closed", id, map[string]interface{}{"price": price})
		e.alertWarning("stop loss triggered", map[string]interface{}{
			"order_id": id,
			"price":    price,
			"pair":     e.cfg.Pair,
		})
	}
}

func (e *Engine) dropOrder(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref, ok := e.orders[id]
	if !ok {
		return
	}
	delete(e.orders, id)
	if ref.level < len(e.ladder) {
		lv := &e.ladder[ref.level]
		if lv.BuyOrderID == id {
			lv.BuyOrderID = ""
		}
		if lv.SellOrderID == id {
			lv.SellOrderID = ""
		}
	}
}

// resetCompletedLevels 两侧都成交的层位走完一轮，按现价重算网格价后清位。
func (e *Engine) resetCompletedLevels(ctx context.Context, price float64) {
	e.mu.RLock()
	ready := false
	for i := range e.ladder {
		if e.ladder[i].Ready() {
			ready = true
			break
		}
	}
	e.mu.RUnlock()
	if !ready {
		return
	}

	buys, sells := e.calc.Levels(ctx, price, e.estimateVolatility())

	e.mu.Lock()
	for i := range e.ladder {
		lv := &e.ladder[i]
		if !lv.Ready() {
			continue
		}
		if i < len(buys) && i < len(sells) {
			lv.Reset(buys[i], sells[i])
		} else {
			lv.Reset(lv.BuyPrice, lv.SellPrice)
		}
		e.log.Info("grid level completed and reset",
			zap.Int("level", lv.Level),
			zap.Float64("buy_price", lv.BuyPrice),
			zap.Float64("sell_price", lv.SellPrice))
	}
	e.mu.Unlock()
}

func (e *Engine) maybeLogSummary() {
	if time.Since(e.lastSummary) < e.cfg.SummaryInterval {
		return
	}
	e.lastSummary = time.Now()
	e.logSummary()
}

func (e *Engine) logSummary() {
	s := e.ledger.Summary()
	fields := map[string]interface{}{
		"total_pnl":      s.Metrics.TotalPnL,
		"daily_pnl":      s.Metrics.DailyPnL,
		"win_rate":       s.Metrics.WinRate,
		"total_trades":   s.Metrics.TotalTrades,
		"open_positions": s.OpenPositions,
		"exposure":       s.Exposure,
		"max_drawdown":   s.Metrics.MaxDrawdown,
		"session_hours":  s.SessionHours,
		"roi_percent":    s.ROIPercent,
	}
	if e.drift != nil {
		ds := e.drift.Stats()
		fields["drift_analyzed"] = ds.AnalyzedFills
		fields["continuation_rate"] = ds.ContinuationRate
		fields["avg_drift_short"] = ds.AvgDriftShort
		fields["avg_drift_long"] = ds.AvgDriftLong
	}
	e.log.LogRisk("performance_summary", fields)
}

// alertCritical 仅在装配了告警组件时广播，投递失败不影响主循环。
func (e *Engine) alertCritical(msg string, fields map[string]interface{}) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.SendCritical(msg, fields); err != nil {
		e.log.Warn("alert delivery failed", zap.String("message", msg), zap.Error(err))
	}
}

func (e *Engine) alertWarning(msg string, fields map[string]interface{}) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.SendWarning(msg, fields); err != nil {
		e.log.Warn("alert delivery failed", zap.String("message", msg), zap.Error(err))
	}
}

func (e *Engine) refreshMetrics() {
	m := e.ledger.MetricsCopy()
	metrics.UpdateLedgerMetrics(m.TotalPnL, m.DailyPnL, len(e.ledger.Open()), e.ledger.Exposure())
}

// finalize 幂等的停机清理：撤单、落盘、最终摘要。
func (e *Engine) finalize() {
	e.mu.Lock()
	if e.finalized {
		e.mu.Unlock()
		return
	}
	e.finalized = true
	e.state = StateStopped
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.cancelOpenOrders(ctx)

	if err := e.ledger.Flush(); err != nil {
		e.log.Warn("failed to flush trading history", zap.Error(err))
	}
	e.logSummary()
	e.refreshMetrics()
	e.log.Info("grid engine stopped")
}

func (e *Engine) cancelOpenOrders(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	e.orders = make(map[string]orderRef)
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.gw.Cancel(ctx, id); err != nil {
			metrics.IncrementGatewayError("cancel")
			e.log.Warn("cancel on shutdown failed", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if err := e.ledger.Cancel(id); err != nil && !errors.Is(err, risk.ErrPositionClosed) {
			e.log.Warn("ledger cancel failed", zap.String("order_id", id), zap.Error(err))
		}
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// validateConfig 验证配置
func validateConfig(cfg Config) error {
	if cfg.Pair == "" {
		return errors.New("pair is required")
	}
	if cfg.RiskPerTrade <= 0 {
		return errors.New("risk_per_trade must be > 0")
	}
	if cfg.ProfitTarget <= 0 {
		return errors.New("profit_target must be > 0")
	}
	return nil
}

// validateComponents 验证组件
func validateComponents(comp Components) error {
	if comp.Gateway == nil {
		return errors.New("gateway is required")
	}
	if comp.Ledger == nil {
		return errors.New("ledger is required")
	}
	if comp.Sizer == nil {
		return errors.New("sizer is required")
	}
	if comp.Calculator == nil {
		return errors.New("calculator is required")
	}
	if comp.Estimator == nil {
		return errors.New("estimator is required")
	}
	if comp.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}
