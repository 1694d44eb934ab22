package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable for a trading session.
// Exchange credentials are intentionally not required here: paper mode and
// public-data DEX aggregators run without them, and the REST client checks
// what it needs at construction.
func Validate(cfg Config) error {
	if cfg.Pair == "" {
		return errors.New("pair is required")
	}
	if cfg.Trading.Capital <= 0 {
		return errors.New("trading.capital must be > 0")
	}
	if cfg.Trading.GridLevels < 2 {
		return errors.New("trading.grid_levels must be >= 2")
	}
	if cfg.Trading.RiskPerTrade <= 0 || cfg.Trading.RiskPerTrade > 0.1 {
		return fmt.Errorf("trading.risk_per_trade must be in (0, 0.1], got %v", cfg.Trading.RiskPerTrade)
	}
	if cfg.Trading.PriceRangePercent <= 0 || cfg.Trading.PriceRangePercent >= 1 {
		return fmt.Errorf("trading.price_range_percent must be in (0, 1), got %v", cfg.Trading.PriceRangePercent)
	}
	if cfg.Trading.MaxDailyLoss <= 0 || cfg.Trading.MaxDailyLoss >= 1 {
		return fmt.Errorf("trading.max_daily_loss must be in (0, 1), got %v", cfg.Trading.MaxDailyLoss)
	}
	if cfg.Trading.StopLossPercent <= 0 || cfg.Trading.StopLossPercent >= 1 {
		return fmt.Errorf("trading.stop_loss_percent must be in (0, 1), got %v", cfg.Trading.StopLossPercent)
	}
	if cfg.Trading.ProfitTargetPercent <= 0 || cfg.Trading.ProfitTargetPercent >= 1 {
		return fmt.Errorf("trading.profit_target_percent must be in (0, 1), got %v", cfg.Trading.ProfitTargetPercent)
	}
	if cfg.Trading.MinGridSpacing <= 0 || cfg.Trading.MinGridSpacing > cfg.Trading.MaxGridSpacing {
		return fmt.Errorf("trading.min_grid_spacing must be in (0, max_grid_spacing], got %v", cfg.Trading.MinGridSpacing)
	}
	if cfg.Trading.MicroCapitalThreshold > cfg.Trading.SmallCapitalThreshold {
		return errors.New("trading.micro_capital_threshold must be <= small_capital_threshold")
	}
	if cfg.Trading.GridDensityMultiplier < 1 {
		return fmt.Errorf("trading.grid_density_multiplier must be >= 1, got %v", cfg.Trading.GridDensityMultiplier)
	}
	if cfg.Sizing.MinRiskPerTrade <= 0 || cfg.Sizing.MinRiskPerTrade > cfg.Sizing.MaxRiskPerTrade {
		return fmt.Errorf("sizing.min_risk_per_trade must be in (0, max_risk_per_trade], got %v", cfg.Sizing.MinRiskPerTrade)
	}
	if cfg.Sizing.WinRateThresholdLow >= cfg.Sizing.WinRateThresholdHigh {
		return errors.New("sizing.win_rate_threshold_low must be < win_rate_threshold_high")
	}
	if cfg.Depth.MinVolumeStrength < 0 || cfg.Depth.MinVolumeStrength > 1 {
		return fmt.Errorf("depth.min_volume_strength must be in [0, 1], got %v", cfg.Depth.MinVolumeStrength)
	}
	if cfg.Depth.MinDepthQuality < 0 || cfg.Depth.MinDepthQuality > 1 {
		return fmt.Errorf("depth.min_depth_quality must be in [0, 1], got %v", cfg.Depth.MinDepthQuality)
	}
	if cfg.Depth.VolumeAdjustmentTolerance <= 0 || cfg.Depth.VolumeAdjustmentTolerance >= 1 {
		return fmt.Errorf("depth.volume_adjustment_tolerance must be in (0, 1), got %v", cfg.Depth.VolumeAdjustmentTolerance)
	}
	if cfg.Depth.CacheDuration <= 0 {
		return errors.New("depth.cache_duration must be > 0")
	}
	if cfg.Engine.CheckInterval <= 0 {
		return errors.New("engine.check_interval must be > 0")
	}
	if cfg.Engine.MaxRetries < 0 {
		return errors.New("engine.max_retries must be >= 0")
	}
	if cfg.Exchange.Breaker.Threshold < 0 {
		return errors.New("exchange.breaker.threshold must be >= 0")
	}
	if cfg.Exchange.Breaker.Cooldown < 0 {
		return errors.New("exchange.breaker.cooldown must be >= 0")
	}
	if err := validateRules(cfg.Exchange.Rules); err != nil {
		return err
	}
	if cfg.Alerts.Throttle < 0 {
		return errors.New("alerts.throttle must be >= 0")
	}
	if cfg.Drift.ShortHorizon < 0 || cfg.Drift.LongHorizon < 0 {
		return errors.New("drift horizons must be >= 0")
	}
	if cfg.Drift.ShortHorizon > 0 && cfg.Drift.LongHorizon > 0 && cfg.Drift.LongHorizon <= cfg.Drift.ShortHorizon {
		return errors.New("drift.long_horizon must be > short_horizon")
	}
	return nil
}

func validateRules(r RulesConfig) error {
	if r.TickSize < 0 || r.StepSize < 0 || r.MinQty < 0 || r.MaxQty < 0 || r.MinNotional < 0 {
		return errors.New("exchange.rules values must be >= 0")
	}
	if r.MaxQty > 0 && r.MinQty > r.MaxQty {
		return fmt.Errorf("exchange.rules.min_qty %v exceeds max_qty %v", r.MinQty, r.MaxQty)
	}
	return nil
}
