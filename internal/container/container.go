package container

import (
	"context"
	"fmt"
	"net/http"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/engine"
	"grid-trader-go/market"
	"grid-trader-go/metrics"
	"grid-trader-go/posttrade"
	"grid-trader-go/risk"
	"grid-trader-go/strategy"
)

// Container 依赖注入容器，管理所有组件的构建与生命周期
type Container struct {
	cfg       config.Config
	paperMode bool

	// 基础设施
	logger  *logger.Logger
	watcher *config.Watcher

	// 交易所网关。gw 是实际交给引擎的客户端，启用熔断时为 breaker 包装，
	// paper 模式下再套一层内存撮合
	feed    *gateway.PriceFeed
	rest    *gateway.RESTClient
	breaker *gateway.BreakerClient
	gw      gateway.Client

	// 核心服务
	store      *risk.FileStore
	ledger     *risk.Ledger
	sizer      *risk.Sizer
	estimator  *market.VolatilityEstimator
	analyzer   *market.DepthAnalyzer
	calculator *strategy.Calculator
	alerts     *alert.Manager
	drift      *posttrade.Analyzer
	engine     *engine.Engine

	// HTTP服务器
	metricsServer *http.Server

	lifecycle *LifecycleManager
}

// New 加载配置并创建Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	c := &Container{
		cfg:       cfg,
		lifecycle: NewLifecycleManager(),
	}
	if configPath != "" {
		w, err := config.NewWatcher(configPath)
		if err != nil {
			return nil, fmt.Errorf("create config watcher failed: %w", err)
		}
		c.watcher = w
	}
	return c, nil
}

// EnablePaperTrading 在 Build 之前调用；行情仍走真实网关，订单改走内存撮合。
func (c *Container) EnablePaperTrading() { c.paperMode = true }

// Config 返回容器加载的配置
func (c *Container) Config() config.Config { return c.cfg }

// Logger 返回容器的日志器
func (c *Container) Logger() *logger.Logger { return c.logger }

// Engine 返回交易引擎
func (c *Container) Engine() *engine.Engine { return c.engine }

// Ledger 返回交易账本
func (c *Container) Ledger() *risk.Ledger { return c.ledger }

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildTrading(); err != nil {
		return fmt.Errorf("build trading failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	logCfg := logger.Config{
		Level:   c.cfg.Logging.Level,
		Outputs: []string{"stdout"},
		Format:  c.cfg.Logging.Format,
	}
	if c.cfg.Logging.OutputFile != "" {
		logCfg.Outputs = append(logCfg.Outputs, "file")
		logCfg.OutputFile = c.cfg.Logging.OutputFile
	}

	var err error
	c.logger, err = logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() error {
	if c.cfg.Exchange.WSURL != "" {
		c.feed = gateway.NewPriceFeed(gateway.FeedConfig{
			Endpoint: c.cfg.Exchange.WSURL,
			Pair:     c.cfg.Pair,
		}, c.logger)
	}

	rules := c.cfg.Exchange.Rules
	c.rest = gateway.NewRESTClient(gateway.RESTConfig{
		BaseURL:    c.cfg.Exchange.BaseURL,
		APIKey:     c.cfg.Exchange.APIKey,
		Timeout:    c.cfg.Exchange.Timeout,
		DepthLimit: c.cfg.Exchange.DepthLimit,
		Rules: gateway.SymbolRules{
			TickSize:    rules.TickSize,
			StepSize:    rules.StepSize,
			MinQty:      rules.MinQty,
			MaxQty:      rules.MaxQty,
			MinNotional: rules.MinNotional,
		},
	}, c.feed, c.logger)

	c.gw = c.rest
	if c.cfg.Exchange.Breaker.Enabled {
		c.breaker = gateway.WithBreaker(c.rest, gateway.BreakerConfig{
			Threshold: c.cfg.Exchange.Breaker.Threshold,
			Cooldown:  c.cfg.Exchange.Breaker.Cooldown,
			ProbeMax:  c.cfg.Exchange.Breaker.ProbeMax,
		}, c.logger)
		c.gw = c.breaker
	}
	if c.paperMode {
		c.gw = gateway.NewPaperTrader(c.gw, c.logger)
		c.logger.Warn("paper trading enabled, orders will not reach the exchange")
	}

	c.logger.Info("gateway built")
	return nil
}

func (c *Container) buildTrading() error {
	trading := c.cfg.Trading

	c.store = risk.NewFileStore(c.cfg.HistoryFile)
	c.ledger = risk.NewLedger(risk.LedgerConfig{
		Capital:         trading.Capital,
		MaxDailyLoss:    trading.MaxDailyLoss,
		StopLossPercent: trading.StopLossPercent,
	}, c.store, c.logger)

	c.sizer = risk.NewSizer(risk.SizerConfig{
		Capital:               trading.Capital,
		DynamicSizing:         c.cfg.Sizing.DynamicSizing && c.cfg.Sizing.PerformanceScaling,
		CompoundProfits:       c.cfg.Sizing.CompoundProfits,
		MinRiskPerTrade:       c.cfg.Sizing.MinRiskPerTrade,
		MaxRiskPerTrade:       c.cfg.Sizing.MaxRiskPerTrade,
		WinRateThresholdHigh:  c.cfg.Sizing.WinRateThresholdHigh,
		WinRateThresholdLow:   c.cfg.Sizing.WinRateThresholdLow,
		RiskScalingFactor:     c.cfg.Sizing.RiskScalingFactor,
		SmallAccountBoost:     c.cfg.Sizing.SmallAccountBoost,
		MicroCapitalThreshold: trading.MicroCapitalThreshold,
		SmallCapitalThreshold: trading.SmallCapitalThreshold,
	}, c.ledger, c.logger)

	c.estimator = market.NewVolatilityEstimator()
	c.analyzer = market.NewDepthAnalyzer(market.AnalyzerConfig{
		MinVolumeStrength:   c.cfg.Depth.MinVolumeStrength,
		MinDepthQuality:     c.cfg.Depth.MinDepthQuality,
		AdjustmentTolerance: c.cfg.Depth.VolumeAdjustmentTolerance,
		CacheTTL:            c.cfg.Depth.CacheDuration,
	}, c.logger)

	c.calculator = strategy.NewCalculator(strategy.GridConfig{
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
		VolumeWeightedGrids:   c.cfg.Depth.VolumeWeightedGrids,
		MarketDepthAnalysis:   c.cfg.Depth.MarketDepthAnalysis,
	}, c.analyzer, pairBooks{client: c.gw, pair: c.cfg.Pair}, c.logger)

	if c.cfg.Alerts.Enabled {
		channels := []alert.Channel{alert.NewLoggerChannel(c.logger)}
		if c.cfg.Alerts.WebhookURL != "" {
			channels = append(channels, alert.NewWebhookChannel(c.cfg.Alerts.WebhookURL, 0))
		}
		c.alerts = alert.NewManager(channels, c.cfg.Alerts.Throttle)
	}
	if c.cfg.Drift.Enabled {
		c.drift = posttrade.NewAnalyzer(posttrade.Config{
			ShortHorizon: c.cfg.Drift.ShortHorizon,
			LongHorizon:  c.cfg.Drift.LongHorizon,
			MaxRecords:   c.cfg.Drift.MaxRecords,
		})
	}

	eng, err := engine.New(engine.Config{
		Pair:            c.cfg.Pair,
		RiskPerTrade:    trading.RiskPerTrade,
		ProfitTarget:    trading.ProfitTargetPercent,
		CheckInterval:   c.cfg.Engine.CheckInterval,
		SummaryInterval: c.cfg.Engine.SummaryInterval,
		RetryDelay:      c.cfg.Engine.RetryDelay,
		MaxRetries:      c.cfg.Engine.MaxRetries,
	}, engine.Components{
		Gateway:    c.gw,
		Ledger:     c.ledger,
		Sizer:      c.sizer,
		Calculator: c.calculator,
		Estimator:  c.estimator,
		Logger:     c.logger,
		Alerts:     c.alerts,
		Drift:      c.drift,
	})
	if err != nil {
		return fmt.Errorf("create engine failed: %w", err)
	}
	c.engine = eng

	c.logger.Info("trading components built")
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Enabled {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: metrics.Handler(),
			addr:    c.cfg.Metrics.Listen,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
	if c.watcher != nil {
		c.lifecycle.Register(&watcherComponent{
			watcher: c.watcher,
			logger:  c.logger,
		})
	}
	if c.feed != nil {
		c.lifecycle.Register(&feedComponent{feed: c.feed})
	}
	if c.breaker != nil {
		c.lifecycle.Register(&breakerComponent{client: c.breaker})
	}
	c.lifecycle.Register(&engineComponent{engine: c.engine})
}

// Start 按注册顺序启动全部组件
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止全部组件。引擎先停，撤单和落盘在引擎内部完成。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}

	if c.logger != nil {
		c.logger.Close()
	}
	return err
}

// HealthCheck 检查所有组件健康状态
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// pairBooks 把按交易对的网关深度查询适配成策略的簿源
type pairBooks struct {
	client gateway.Client
	pair   string
}

func (b pairBooks) Depth(ctx context.Context) (market.OrderBook, error) {
	return b.client.Depth(ctx, b.pair)
}
