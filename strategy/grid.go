package strategy

import (
	"context"
	"math"

	"go.uber.org/zap"

	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
)

// 小账户网格加密参数。资金越少网格越密，单笔吃到的波段越小但更频繁。
const (
	microSpacingFactor = 0.3 // 微型账户间距收紧 70%
	smallSpacingFactor = 0.5 // 小账户间距收紧 50%
	microDensityBoost  = 1.5
	microLevelCap      = 20
	smallLevelCap      = 15
)

// 波动率对间距的缩放基准与斜率。
const (
	volatilityBaseline = 0.02
	volatilityScale    = 2.0
)

// GridConfig 网格计算参数。
type GridConfig struct {
	Capital           float64
	GridLevels        int
	PriceRangePercent float64

	MicroGridMode   bool
	AdaptiveSpacing bool
	MinGridSpacing  float64
	MaxGridSpacing  float64

	MicroCapitalThreshold float64
	SmallCapitalThreshold float64
	GridDensityMultiplier float64

	VolumeWeightedGrids bool
	MarketDepthAnalysis bool
}

// BookSource 提供订单簿快照，量加权网格的可选依赖。
type BookSource interface {
	Depth(ctx context.Context) (market.OrderBook, error)
}

// Calculator 根据现价与近期波动率生成买卖两侧的网格价位。
type Calculator struct {
	cfg      GridConfig
	analyzer *market.DepthAnalyzer
	books    BookSource
	log      *logger.Logger
}

// NewCalculator 创建网格计算器。analyzer 和 books 任一为 nil 时
// 只生成基础网格，不做量加权。
func NewCalculator(cfg GridConfig, analyzer *market.DepthAnalyzer, books BookSource, log *logger.Logger) *Calculator {
	if log == nil {
		log = logger.Nop()
	}
	return &Calculator{cfg: cfg, analyzer: analyzer, books: books, log: log}
}

// Levels 计算两侧网格价位。买侧按距现价由近及远降序，卖侧升序。
// 量加权路径上的任何失败都回退到基础网格。
func (c *Calculator) Levels(ctx context.Context, currentPrice, volatility float64) ([]float64, []float64) {
	if currentPrice <= 0 || math.IsNaN(currentPrice) || math.IsInf(currentPrice, 0) {
		return nil, nil
	}
	buys, sells := c.baseLevels(currentPrice, volatility)

	if c.weightingEnabled() {
		buys, sells = c.applyVolumeWeighting(ctx, buys, sells, currentPrice)
	}

	spacing := 0.0
	if len(buys) > 0 {
		spacing = math.Abs(buys[0]-currentPrice) / currentPrice
	}
	c.log.LogGrid(len(buys), spacing, volatility)
	return buys, sells
}

func (c *Calculator) weightingEnabled() bool {
	return c.cfg.VolumeWeightedGrids && c.cfg.MarketDepthAnalysis &&
		c.analyzer != nil && c.books != nil
}

// baseLevels 生成等距基础网格，小账户走加密模式。
func (c *Calculator) baseLevels(currentPrice, volatility float64) ([]float64, []float64) {
	n := c.cfg.GridLevels
	if n < 1 {
		n = 1
	}
	spacing := c.cfg.PriceRangePercent / float64(n)
	count := n

	if c.cfg.MicroGridMode {
		if c.cfg.Capital < c.cfg.SmallCapitalThreshold {
			density := c.cfg.GridDensityMultiplier
			levelCap := smallLevelCap
			if c.cfg.Capital < c.cfg.MicroCapitalThreshold {
				spacing *= microSpacingFactor
				density *= microDensityBoost
				levelCap = microLevelCap
			} else {
				spacing *= smallSpacingFactor
			}
			count = int(math.Round(float64(n) * density))
			if count > levelCap {
				count = levelCap
			}
		}
		if c.cfg.AdaptiveSpacing {
			adjusted := spacing * volatilityMultiplier(volatility)
			spacing = math.Max(c.cfg.MinGridSpacing, math.Min(adjusted, c.cfg.MaxGridSpacing))
		}
	}

	step := currentPrice * spacing
	buys := make([]float64, count)
	sells := make([]float64, count)
	for i := 0; i < count; i++ {
		buys[i] = currentPrice - float64(i+1)*step
		sells[i] = currentPrice + float64(i+1)*step
	}
	return buys, sells
}

// applyVolumeWeighting 把网格价吸附到订单簿的显著量级上。
func (c *Calculator) applyVolumeWeighting(ctx context.Context, buys, sells []float64, currentPrice float64) ([]float64, []float64) {
	book, err := c.books.Depth(ctx)
	if err != nil {
		c.log.Warn("depth fetch failed, using base grid", zap.Error(err))
		return buys, sells
	}
	an := c.analyzer.Analyze(book, currentPrice)
	if an == nil || !c.analyzer.SuitableForWeighting(an) {
		c.log.Debug("market not suitable for volume weighting, using base grid")
		return buys, sells
	}

	buys = c.analyzer.WeightLevels(buys, currentPrice, market.SideBuy, an)
	sells = c.analyzer.WeightLevels(sells, currentPrice, market.SideSell, an)
	c.log.Info("volume weighted grid applied",
		zap.Float64("quality", an.DepthQuality),
		zap.Float64("imbalance", an.VolumeImbalance),
		zap.Int("bid_levels", len(an.BidLevels)),
		zap.Int("ask_levels", len(an.AskLevels)),
	)
	return buys, sells
}

// volatilityMultiplier 波动越大网格越宽，夹在 [0.5, 2.5]。
func volatilityMultiplier(vol float64) float64 {
	m := 1 + (vol-volatilityBaseline)*volatilityScale
	return math.Max(0.5, math.Min(2.5, m))
}
