package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full runtime configuration for one trading session.
// Core trading parameters are constant for the lifetime of an engine;
// changing them requires a restart.
type Config struct {
	Pair        string         `yaml:"pair"`
	Exchange    ExchangeConfig `yaml:"exchange"`
	Trading     TradingConfig  `yaml:"trading"`
	Sizing      SizingConfig   `yaml:"sizing"`
	Depth       DepthConfig    `yaml:"depth"`
	Engine      EngineConfig   `yaml:"engine"`
	Logging     LogConfig      `yaml:"logging"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	Alerts      AlertConfig    `yaml:"alerts"`
	Drift       DriftConfig    `yaml:"drift"`
	HistoryFile string         `yaml:"history_file"`
}

type ExchangeConfig struct {
	BaseURL    string        `yaml:"base_url"`
	WSURL      string        `yaml:"ws_url"` // 为空则不启用行情推送
	APIKey     string        `yaml:"api_key"`
	APISecret  string        `yaml:"api_secret"`
	Timeout    time.Duration `yaml:"timeout"`
	DepthLimit int           `yaml:"depth_limit"`
	Breaker    BreakerConfig `yaml:"breaker"`
	Rules      RulesConfig   `yaml:"rules"`
}

// BreakerConfig 网关熔断参数。零值字段由网关侧补默认。
type BreakerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
	ProbeMax  int           `yaml:"probe_max"`
}

// RulesConfig 交易所的价格/数量精度限制，全零则不做贴齐。
type RulesConfig struct {
	TickSize    float64 `yaml:"tick_size"`
	StepSize    float64 `yaml:"step_size"`
	MinQty      float64 `yaml:"min_qty"`
	MaxQty      float64 `yaml:"max_qty"`
	MinNotional float64 `yaml:"min_notional"`
}

type TradingConfig struct {
	Capital               float64 `yaml:"capital"`               // 账户基础资金（USD）
	GridLevels            int     `yaml:"grid_levels"`           // 基础网格层数
	PriceRangePercent     float64 `yaml:"price_range_percent"`   // 网格覆盖的价格区间比例
	RiskPerTrade          float64 `yaml:"risk_per_trade"`        // 单笔基础风险比例
	MaxDailyLoss          float64 `yaml:"max_daily_loss"`        // 日亏损上限（资金比例）
	StopLossPercent       float64 `yaml:"stop_loss_percent"`     // 单仓止损比例
	ProfitTargetPercent   float64 `yaml:"profit_target_percent"` // 对手单的盈利目标
	MicroGridMode         bool    `yaml:"micro_grid_mode"`       // 小资金密集网格
	AdaptiveSpacing       bool    `yaml:"adaptive_spacing"`      // 间距随波动率调整
	MinGridSpacing        float64 `yaml:"min_grid_spacing"`
	MaxGridSpacing        float64 `yaml:"max_grid_spacing"`
	SmallCapitalThreshold float64 `yaml:"small_capital_threshold"`
	MicroCapitalThreshold float64 `yaml:"micro_capital_threshold"`
	GridDensityMultiplier float64 `yaml:"grid_density_multiplier"`
}

type SizingConfig struct {
	DynamicSizing        bool    `yaml:"dynamic_sizing"`
	PerformanceScaling   bool    `yaml:"performance_scaling"`
	CompoundProfits      bool    `yaml:"compound_profits"`
	MinRiskPerTrade      float64 `yaml:"min_risk_per_trade"`
	MaxRiskPerTrade      float64 `yaml:"max_risk_per_trade"`
	WinRateThresholdHigh float64 `yaml:"win_rate_threshold_high"`
	WinRateThresholdLow  float64 `yaml:"win_rate_threshold_low"`
	RiskScalingFactor    float64 `yaml:"risk_scaling_factor"`
	SmallAccountBoost    float64 `yaml:"small_account_boost"`
}

type DepthConfig struct {
	VolumeWeightedGrids       bool          `yaml:"volume_weighted_grids"`
	MarketDepthAnalysis       bool          `yaml:"market_depth_analysis"`
	MinVolumeStrength         float64       `yaml:"min_volume_strength"`
	MinDepthQuality           float64       `yaml:"min_depth_quality"`
	VolumeAdjustmentTolerance float64       `yaml:"volume_adjustment_tolerance"`
	CacheDuration             time.Duration `yaml:"cache_duration"`
}

type EngineConfig struct {
	CheckInterval   time.Duration `yaml:"check_interval"`
	SummaryInterval time.Duration `yaml:"summary_interval"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	MaxRetries      int           `yaml:"max_retries"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputFile string `yaml:"output_file"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type AlertConfig struct {
	Enabled    bool          `yaml:"enabled"`
	WebhookURL string        `yaml:"webhook_url"` // 为空则只写日志
	Throttle   time.Duration `yaml:"throttle"`
}

type DriftConfig struct {
	Enabled      bool          `yaml:"enabled"`
	ShortHorizon time.Duration `yaml:"short_horizon"`
	LongHorizon  time.Duration `yaml:"long_horizon"`
	MaxRecords   int           `yaml:"max_records"`
}

// Default returns the configuration used when a field is absent from the
// YAML file. The numeric defaults are tuned for a small ($250) account.
func Default() Config {
	return Config{
		Pair: "SOL/USDC",
		Exchange: ExchangeConfig{
			Timeout:    10 * time.Second,
			DepthLimit: 100,
			Breaker: BreakerConfig{
				Enabled:   true,
				Threshold: 5,
				Cooldown:  30 * time.Second,
				ProbeMax:  3,
			},
		},
		Trading: TradingConfig{
			Capital:               250,
			GridLevels:            5,
			PriceRangePercent:     0.10,
			RiskPerTrade:          0.02,
			MaxDailyLoss:          0.05,
			StopLossPercent:       0.05,
			ProfitTargetPercent:   0.02,
			MicroGridMode:         true,
			AdaptiveSpacing:       true,
			MinGridSpacing:        0.005,
			MaxGridSpacing:        0.03,
			SmallCapitalThreshold: 1000,
			MicroCapitalThreshold: 500,
			GridDensityMultiplier: 2.0,
		},
		Sizing: SizingConfig{
			DynamicSizing:        true,
			PerformanceScaling:   true,
			CompoundProfits:      true,
			MinRiskPerTrade:      0.01,
			MaxRiskPerTrade:      0.05,
			WinRateThresholdHigh: 0.7,
			WinRateThresholdLow:  0.5,
			RiskScalingFactor:    1.5,
			SmallAccountBoost:    1.2,
		},
		Depth: DepthConfig{
			VolumeWeightedGrids:       true,
			MarketDepthAnalysis:       true,
			MinVolumeStrength:         0.3,
			MinDepthQuality:           0.3,
			VolumeAdjustmentTolerance: 0.02,
			CacheDuration:             30 * time.Second,
		},
		Engine: EngineConfig{
			CheckInterval:   60 * time.Second,
			SummaryInterval: 10 * time.Minute,
			RetryDelay:      300 * time.Second,
			MaxRetries:      3,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
		},
		Alerts: AlertConfig{
			Enabled:  true,
			Throttle: time.Minute,
		},
		Drift: DriftConfig{
			Enabled:      true,
			ShortHorizon: time.Minute,
			LongHorizon:  5 * time.Minute,
			MaxRecords:   500,
		},
		HistoryFile: "trading_history.json",
	}
}

// Load reads YAML config from path on top of the defaults and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("GRID_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("GRID_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	return cfg, Validate(cfg)
}
