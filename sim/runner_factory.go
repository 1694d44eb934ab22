package sim

import (
	"fmt"
	"math/rand"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/engine"
	"grid-trader-go/market"
	"grid-trader-go/risk"
	"grid-trader-go/strategy"
)

// RunnerConfig 描述一次模拟：交易参数直接复用生产配置结构，
// 随机游走的形状由 Steps / StartPrice / StepVolatility / Drift 控制。
// Prices 非空时进入回放模式，逐条喂入给定价格，游走参数失效。
type RunnerConfig struct {
	Trading config.TradingConfig
	Sizing  config.SizingConfig

	Pair       string
	Steps      int
	StartPrice float64

	StepVolatility float64 // 每步的正态波动幅度
	Drift          float64 // 每步的漂移项，可为负
	Seed           int64

	Prices []float64 // 历史价格序列，回放用
}

// BuildRunner 组装纸面撮合、账本、网格引擎并返回可运行的模拟器。
// 模拟里不接真实行情，量加权网格保持关闭。
func BuildRunner(cfg RunnerConfig) (*Runner, error) {
	if len(cfg.Prices) > 0 {
		for i, p := range cfg.Prices {
			if p <= 0 {
				return nil, fmt.Errorf("price #%d must be positive, got %.4f", i, p)
			}
		}
		cfg.Steps = len(cfg.Prices)
		if cfg.StartPrice <= 0 {
			cfg.StartPrice = cfg.Prices[0]
		}
	}
	if cfg.Steps <= 0 {
		return nil, fmt.Errorf("steps must be positive, got %d", cfg.Steps)
	}
	if cfg.StartPrice <= 0 {
		return nil, fmt.Errorf("start price must be positive, got %.4f", cfg.StartPrice)
	}
	if cfg.Pair == "" {
		cfg.Pair = "SIMUSDC"
	}
	if cfg.StepVolatility <= 0 {
		cfg.StepVolatility = 0.002
	}

	log := logger.Nop()
	trading := cfg.Trading

	paper := gateway.NewPaperExchange(cfg.StartPrice, log)
	ledger := risk.NewLedger(risk.LedgerConfig{
		Capital:         trading.Capital,
		MaxDailyLoss:    trading.MaxDailyLoss,
		StopLossPercent: trading.StopLossPercent,
	}, nil, log)

	sizer := risk.NewSizer(risk.SizerConfig{
		Capital:               trading.Capital,
		DynamicSizing:         cfg.Sizing.DynamicSizing && cfg.Sizing.PerformanceScaling,
		CompoundProfits:       cfg.Sizing.CompoundProfits,
		MinRiskPerTrade:       cfg.Sizing.MinRiskPerTrade,
		MaxRiskPerTrade:       cfg.Sizing.MaxRiskPerTrade,
		WinRateThresholdHigh:  cfg.Sizing.WinRateThresholdHigh,
		WinRateThresholdLow:   cfg.Sizing.WinRateThresholdLow,
		RiskScalingFactor:     cfg.Sizing.RiskScalingFactor,
		SmallAccountBoost:     cfg.Sizing.SmallAccountBoost,
		MicroCapitalThreshold: trading.MicroCapitalThreshold,
		SmallCapitalThreshold: trading.SmallCapitalThreshold,
	}, ledger, log)

	calc := strategy.NewCalculator(strategy.GridConfig{
		Capital:               trading.Capital,
		GridLevels:            trading.GridLevels,
		PriceRangePercent:     trading.PriceRangePercent,
		MicroGridMode:         trading.MicroGridMode,
		AdaptiveSpacing:       trading.AdaptiveSpacing,
		MinGridSpacing:        trading.MinGridSpacing,
		MaxGridSpacing:        trading.MaxGridSpacing,
		MicroCapitalThreshold: trading.MicroCapitalThreshold,
		SmallCapitalThreshold: trading.SmallCapitalThreshold,
		GridDensityMultiplier: trading.GridDensityMultiplier,
	}, nil, nil, log)

	eng, err := engine.New(engine.Config{
		Pair:         cfg.Pair,
		RiskPerTrade: trading.RiskPerTrade,
		ProfitTarget: trading.ProfitTargetPercent,
		// 引擎节拍远快于价格步进，结算由 waitSettled 对齐
		CheckInterval:   time.Millisecond,
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
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	return &Runner{
		cfg:    cfg,
		paper:  paper,
		ledger: ledger,
		eng:    eng,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		price:  cfg.StartPrice,
	}, nil
}
