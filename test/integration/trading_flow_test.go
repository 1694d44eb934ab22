package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/engine"
	"grid-trader-go/market"
	"grid-trader-go/risk"
	"grid-trader-go/sim"
	"grid-trader-go/strategy"
)

func tradingConfig() config.TradingConfig { return config.Default().Trading }

func sizingConfig() config.SizingConfig { return config.Default().Sizing }

// stack 一套跑在纸面撮合器上的完整交易栈
type stack struct {
	paper  *gateway.PaperExchange
	ledger *risk.Ledger
	eng    *engine.Engine
}

func newStack(t *testing.T, startPrice float64, alerts *alert.Manager) *stack {
	t.Helper()

	log, err := logger.New(logger.Config{
		Level:   "error",
		Outputs: []string{"stdout"},
		Format:  "console",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	paper := gateway.NewPaperExchange(startPrice, log)
	ledger := risk.NewLedger(risk.LedgerConfig{
		Capital:         250,
		MaxDailyLoss:    0.05,
		StopLossPercent: 0.05,
	}, nil, log)
	sizer := risk.NewSizer(risk.SizerConfig{
		Capital:               250,
		MinRiskPerTrade:       0.01,
		MaxRiskPerTrade:       0.05,
		WinRateThresholdHigh:  0.7,
		WinRateThresholdLow:   0.5,
		RiskScalingFactor:     1.5,
		SmallAccountBoost:     1.2,
		MicroCapitalThreshold: 500,
		SmallCapitalThreshold: 1000,
	}, ledger, log)
	calc := strategy.NewCalculator(strategy.GridConfig{
		Capital:               250,
		GridLevels:            5,
		PriceRangePercent:     0.10,
		MicroGridMode:         true,
		MinGridSpacing:        0.005,
		MaxGridSpacing:        0.03,
		MicroCapitalThreshold: 500,
		SmallCapitalThreshold: 1000,
		GridDensityMultiplier: 2.0,
	}, nil, nil, log)

	eng, err := engine.New(engine.Config{
		Pair:            "SOLUSDC",
		RiskPerTrade:    0.02,
		ProfitTarget:    0.02,
		CheckInterval:   20 * time.Millisecond,
		SummaryInterval: time.Hour,
		RetryDelay:      time.Millisecond,
		MaxRetries:      1,
	}, engine.Components{
		Gateway:    paper,
		Ledger:     ledger,
		Sizer:      sizer,
		Calculator: calc,
		Estimator:  market.NewVolatilityEstimator(),
		Logger:     log,
		Alerts:     alerts,
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop() })

	return &stack{paper: paper, ledger: ledger, eng: eng}
}

// waitUntil 轮询直到条件满足或超时
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timeout: %s", msg)
}

// TestGridTradingFlow 测试完整的网格交易流程：
// 铺网格 -> 买单成交 -> 挂对手单 -> 卖单成交 -> 层位重置 -> 停机撤单
func TestGridTradingFlow(t *testing.T) {
	s := newStack(t, 100, nil)
	ctx := context.Background()

	// 1. 启动引擎，验证整张网格
	if err := s.eng.Start(ctx); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}

	ladder := s.eng.Ladder()
	if len(ladder) != 15 {
		t.Fatalf("Expected 15 grid levels, got %d", len(ladder))
	}
	open, err := s.paper.OpenOrders(ctx, "SOLUSDC")
	if err != nil {
		t.Fatalf("Failed to list open orders: %v", err)
	}
	if len(open) != 30 {
		t.Fatalf("Expected 30 open orders, got %d", len(open))
	}

	originalSell := ladder[0].SellOrderID
	if originalSell == "" {
		t.Fatal("Expected first level sell order")
	}

	// 2. 价格下探穿过第一层买价 99.4
	filled := s.paper.Advance(99.35)
	if len(filled) != 1 {
		t.Fatalf("Expected 1 fill on the dip, got %d", len(filled))
	}
	if filled[0].Side != market.SideBuy {
		t.Errorf("Expected buy fill, got %s", filled[0].Side)
	}

	// 3. 引擎结算成交并在 99.4 × 1.02 挂出对手卖单
	waitUntil(t, 2*time.Second, func() bool {
		lv := s.eng.Ladder()[0]
		return lv.BuyFilled && lv.SellOrderID != "" && lv.SellOrderID != originalSell
	}, "counter sell order should replace the level's sell reference")

	counterID := s.eng.Ladder()[0].SellOrderID
	counter, err := s.paper.Status(ctx, counterID)
	if err != nil {
		t.Fatalf("Failed to query counter order: %v", err)
	}
	if counter.Side != market.SideSell {
		t.Errorf("Expected sell counter order, got %s", counter.Side)
	}
	if diff := counter.Price - 99.4*1.02; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected counter price %.4f, got %.4f", 99.4*1.02, counter.Price)
	}

	if got := s.ledger.MetricsCopy().TotalTrades; got != 1 {
		t.Errorf("Expected 1 settled trade, got %d", got)
	}

	// 4. 价格回升穿过第一层原始卖价 100.6，层位两侧打满后重置
	filled = s.paper.Advance(100.7)
	if len(filled) != 1 {
		t.Fatalf("Expected 1 fill on the rally, got %d", len(filled))
	}
	if filled[0].Side != market.SideSell {
		t.Errorf("Expected sell fill, got %s", filled[0].Side)
	}

	waitUntil(t, 2*time.Second, func() bool {
		lv := s.eng.Ladder()[0]
		return !lv.BuyFilled && !lv.SellFilled && lv.BuyOrderID == "" && lv.SellOrderID == ""
	}, "completed level should reset")

	lv := s.eng.Ladder()[0]
	if diff := lv.BuyPrice - 100.7*0.994; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected reset buy price %.4f, got %.4f", 100.7*0.994, lv.BuyPrice)
	}
	if got := s.ledger.MetricsCopy().TotalTrades; got != 2 {
		t.Errorf("Expected 2 settled trades, got %d", got)
	}

	// 两笔成交各带出一张对手单，挂单总数回到 30
	open, err = s.paper.OpenOrders(ctx, "SOLUSDC")
	if err != nil {
		t.Fatalf("Failed to list open orders: %v", err)
	}
	if len(open) != 30 {
		t.Errorf("Expected 30 open orders after the round trip, got %d", len(open))
	}

	// 5. 停机撤掉全部挂单
	if err := s.eng.Stop(); err != nil {
		t.Fatalf("Failed to stop engine: %v", err)
	}
	open, err = s.paper.OpenOrders(ctx, "SOLUSDC")
	if err != nil {
		t.Fatalf("Failed to list open orders: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("Expected no open orders after stop, got %d", len(open))
	}
	if left := s.ledger.Open(); len(left) != 0 {
		t.Errorf("Expected no open positions after stop, got %d", len(left))
	}

	t.Logf("✅ Grid trading flow test passed")
}

// TestDailyLossHaltFlow 测试日亏熔断：停机、撤单、发严重告警
func TestDailyLossHaltFlow(t *testing.T) {
	mock := alert.NewMockChannel("oncall")
	alerts := alert.NewManager([]alert.Channel{mock}, time.Minute)
	s := newStack(t, 100, alerts)
	ctx := context.Background()

	if err := s.eng.Start(ctx); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}

	// 注入 -100 的成交击穿 250 × 5% 的日亏限额
	s.ledger.Add(risk.Position{ID: "ext-loss", Side: market.SideSell, Quantity: 1, EntryPrice: 100})
	if err := s.ledger.Fill("ext-loss", 200); err != nil {
		t.Fatalf("Failed to inject loss: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		select {
		case <-s.eng.Done():
			return true
		default:
			return false
		}
	}, "engine should halt itself")

	if st := s.eng.GetState(); st != engine.StateStopped {
		t.Errorf("Expected STOPPED state, got %s", st)
	}

	open, err := s.paper.OpenOrders(ctx, "SOLUSDC")
	if err != nil {
		t.Fatalf("Failed to list open orders: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("Expected halt to cancel all orders, got %d open", len(open))
	}

	if n := mock.Count(); n != 1 {
		t.Fatalf("Expected exactly one halt alert, got %d", n)
	}
	got := mock.Alerts()[0]
	if got.Level != alert.LevelCritical {
		t.Errorf("Expected CRITICAL alert, got %s", got.Level)
	}
	if got.Message != "trading halted" {
		t.Errorf("Unexpected alert message: %s", got.Message)
	}

	t.Logf("✅ Daily loss halt flow test passed")
}

// TestConcurrentOrderPlacement 测试纸面撮合器的并发下单
func TestConcurrentOrderPlacement(t *testing.T) {
	paper := gateway.NewPaperExchange(100, nil)
	ctx := context.Background()

	numOrders := 10
	var wg sync.WaitGroup
	errs := make(chan error, numOrders)

	for i := 0; i < numOrders; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := paper.Place(ctx, gateway.Order{
				Pair:     "SOLUSDC",
				Side:     market.SideBuy,
				Type:     "limit",
				Quantity: 0.01,
				Price:    90.0 - float64(idx),
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Place failed: %v", err)
	}

	open, err := paper.OpenOrders(ctx, "SOLUSDC")
	if err != nil {
		t.Fatalf("Failed to list open orders: %v", err)
	}
	if len(open) != numOrders {
		t.Errorf("Expected %d open orders, got %d", numOrders, len(open))
	}

	t.Logf("✅ Concurrent order placement test passed (placed %d orders)", len(open))
}

// TestReplaySessionFlow 测试回放一段先跌后涨的行情
func TestReplaySessionFlow(t *testing.T) {
	runner, err := sim.BuildRunner(sim.RunnerConfig{
		Trading: tradingConfig(),
		Sizing:  sizingConfig(),
		Pair:    "SOLUSDC",
		Prices:  []float64{100, 99.35, 100.7, 100.2},
	})
	if err != nil {
		t.Fatalf("Failed to build replay runner: %v", err)
	}

	rep, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if rep.Halted {
		t.Fatalf("Unexpected halt: %+v", rep.Summary)
	}
	if rep.Steps != 4 {
		t.Errorf("Expected 4 steps, got %d", rep.Steps)
	}
	// 下探吃掉第一层买单，回升吃掉第一层卖单
	if rep.Fills != 2 {
		t.Errorf("Expected 2 fills, got %d", rep.Fills)
	}
	if got := rep.Summary.Metrics.TotalTrades; got != 2 {
		t.Errorf("Expected 2 settled trades, got %d", got)
	}
	if rep.FinalPrice != 100.2 {
		t.Errorf("Expected final price 100.2, got %v", rep.FinalPrice)
	}

	t.Logf("✅ Replay session flow test passed")
}
