package strategy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/market"
	"grid-trader-go/strategy"
)

type stubBooks struct {
	book  market.OrderBook
	err   error
	calls int
}

func (s *stubBooks) Depth(ctx context.Context) (market.OrderBook, error) {
	s.calls++
	return s.book, s.err
}

func microGridConfig() strategy.GridConfig {
	return strategy.GridConfig{
		Capital:               250,
		GridLevels:            5,
		PriceRangePercent:     0.10,
		MicroGridMode:         true,
		AdaptiveSpacing:       false,
		MinGridSpacing:        0.005,
		MaxGridSpacing:        0.03,
		MicroCapitalThreshold: 500,
		SmallCapitalThreshold: 1000,
		GridDensityMultiplier: 2.0,
	}
}

// TestGrid_MicroCapitalDensity 验证微型账户的网格加密：
// 间距收紧 70%，层数放大 3 倍
func TestGrid_MicroCapitalDensity(t *testing.T) {
	calc := strategy.NewCalculator(microGridConfig(), nil, nil, nil)
	buys, sells := calc.Levels(context.Background(), 100, 0.02)

	// 5 × (2.0×1.5) = 15 层，上限 20
	assert.Equal(t, 15, len(buys))
	assert.Equal(t, 15, len(sells))
	assert.GreaterOrEqual(t, len(buys)+len(sells), 20,
		"$250 账户的总档位数应不少于 20")

	// 间距 = 0.10/5 × 0.3 = 0.6%
	assert.InDelta(t, 99.4, buys[0], 1e-9)
	assert.InDelta(t, 100.6, sells[0], 1e-9)
	assert.InDelta(t, 91.0, buys[14], 1e-9)

	// 买侧由近及远递减，卖侧递增
	for i := 1; i < len(buys); i++ {
		assert.Less(t, buys[i], buys[i-1], "buy levels must descend")
		assert.Greater(t, sells[i], sells[i-1], "sell levels must ascend")
	}

	t.Logf("微型账户网格: %d 层/侧, 最近买价 %.2f, 最远买价 %.2f",
		len(buys), buys[0], buys[len(buys)-1])
}

// TestGrid_MicroLevelCap 验证微型账户的层数上限
func TestGrid_MicroLevelCap(t *testing.T) {
	cfg := microGridConfig()
	cfg.GridLevels = 8 // 8×3 = 24 超过上限

	buys, _ := strategy.NewCalculator(cfg, nil, nil, nil).Levels(context.Background(), 100, 0.02)
	assert.Equal(t, 20, len(buys), "micro account level cap is 20 per side")
}

// TestGrid_SmallCapitalDensity 小账户：间距收紧 50%，层数放大 2 倍
func TestGrid_SmallCapitalDensity(t *testing.T) {
	cfg := microGridConfig()
	cfg.Capital = 750

	buys, sells := strategy.NewCalculator(cfg, nil, nil, nil).Levels(context.Background(), 100, 0.02)
	assert.Equal(t, 10, len(buys))
	assert.GreaterOrEqual(t, len(buys)+len(sells), 10)
	assert.InDelta(t, 99.0, buys[0], 1e-9, "spacing = 0.10/5 × 0.5 = 1%")
}

// TestGrid_RegularCapitalKeepsBaseCount 千元以上账户不加密
func TestGrid_RegularCapitalKeepsBaseCount(t *testing.T) {
	cfg := microGridConfig()
	cfg.Capital = 5000

	buys, sells := strategy.NewCalculator(cfg, nil, nil, nil).Levels(context.Background(), 100, 0.02)
	require.Equal(t, 5, len(buys))
	require.Equal(t, 5, len(sells))

	want := []float64{98, 96, 94, 92, 90}
	for i, w := range want {
		assert.InDelta(t, w, buys[i], 1e-9)
		assert.InDelta(t, 200-w, sells[i], 1e-9)
	}
}

// TestGrid_NonMicroIgnoresAdaptiveSpacing 关闭微网格后按固定等距铺设，
// 波动率不参与间距调整
func TestGrid_NonMicroIgnoresAdaptiveSpacing(t *testing.T) {
	cfg := microGridConfig()
	cfg.MicroGridMode = false
	cfg.AdaptiveSpacing = true

	buys, _ := strategy.NewCalculator(cfg, nil, nil, nil).Levels(context.Background(), 100, 0.10)
	assert.Equal(t, 5, len(buys))
	assert.InDelta(t, 98.0, buys[0], 1e-9, "2% flat spacing regardless of volatility")
}

// TestGrid_AdaptiveSpacing 波动率缩放间距并夹在配置范围内
func TestGrid_AdaptiveSpacing(t *testing.T) {
	cfg := microGridConfig()
	cfg.AdaptiveSpacing = true

	// 波动率 5%：乘数 1+(0.05-0.02)×2 = 1.06，间距 0.006×1.06
	buys, _ := strategy.NewCalculator(cfg, nil, nil, nil).Levels(context.Background(), 100, 0.05)
	assert.InDelta(t, 100-0.636, buys[0], 1e-9)

	// 间距触底：0.01/5×0.3 = 0.06% 夹回 0.5%
	tight := microGridConfig()
	tight.AdaptiveSpacing = true
	tight.PriceRangePercent = 0.01
	buys, _ = strategy.NewCalculator(tight, nil, nil, nil).Levels(context.Background(), 100, 0.02)
	assert.InDelta(t, 99.5, buys[0], 1e-9)

	// 间距触顶：0.5/5×0.5×1.26 = 6.3% 夹回 3%
	wide := microGridConfig()
	wide.AdaptiveSpacing = true
	wide.Capital = 750
	wide.PriceRangePercent = 0.5
	buys, _ = strategy.NewCalculator(wide, nil, nil, nil).Levels(context.Background(), 100, 0.15)
	assert.InDelta(t, 97.0, buys[0], 1e-9)
}

func weightedGridConfig() strategy.GridConfig {
	cfg := microGridConfig()
	cfg.Capital = 5000
	cfg.VolumeWeightedGrids = true
	cfg.MarketDepthAnalysis = true
	return cfg
}

// TestGrid_VolumeWeightingSnapsToLiquidity 网格价吸附到订单簿显著量级
func TestGrid_VolumeWeightingSnapsToLiquidity(t *testing.T) {
	books := &stubBooks{
		book: market.OrderBook{
			Bids: []market.BookEntry{{Price: 99.9, Volume: 100}, {Price: 97.91, Volume: 80}},
			Asks: []market.BookEntry{{Price: 100.1, Volume: 90}, {Price: 101.95, Volume: 70}},
		},
	}
	analyzer := market.NewDepthAnalyzer(market.DefaultAnalyzerConfig(), nil)
	calc := strategy.NewCalculator(weightedGridConfig(), analyzer, books, nil)

	buys, sells := calc.Levels(context.Background(), 100, 0.02)
	require.Equal(t, 5, len(buys))
	assert.Equal(t, 1, books.calls)

	// 98 附近有强量级桶 97.9，吸附过去
	assert.InDelta(t, 97.9, buys[0], 1e-9)
	// 94 的 2% 容差内没有量级，保持基础价
	assert.InDelta(t, 94.0, buys[2], 1e-9)
	// 卖侧 102 恰好落在量级桶上
	assert.InDelta(t, 102.0, sells[0], 1e-9)
	assert.InDelta(t, 106.0, sells[2], 1e-9)
}

// TestGrid_WeightingFallsBackOnError 深度拉取失败回退基础网格
func TestGrid_WeightingFallsBackOnError(t *testing.T) {
	books := &stubBooks{err: errors.New("boom")}
	analyzer := market.NewDepthAnalyzer(market.DefaultAnalyzerConfig(), nil)
	calc := strategy.NewCalculator(weightedGridConfig(), analyzer, books, nil)

	buys, _ := calc.Levels(context.Background(), 100, 0.02)
	assert.Equal(t, 1, books.calls)
	assert.InDelta(t, 98.0, buys[0], 1e-9, "base grid on depth failure")
}

// TestGrid_WeightingRespectsConfig 配置关闭时完全不碰订单簿
func TestGrid_WeightingRespectsConfig(t *testing.T) {
	books := &stubBooks{}
	analyzer := market.NewDepthAnalyzer(market.DefaultAnalyzerConfig(), nil)

	cfg := weightedGridConfig()
	cfg.VolumeWeightedGrids = false
	buys, _ := strategy.NewCalculator(cfg, analyzer, books, nil).Levels(context.Background(), 100, 0.02)

	assert.Zero(t, books.calls, "depth must not be fetched when weighting is off")
	assert.InDelta(t, 98.0, buys[0], 1e-9)
}

func TestLadder(t *testing.T) {
	ladder := strategy.NewLadder([]float64{99, 98, 97}, []float64{101, 102})
	require.Equal(t, 2, len(ladder), "ladder truncates to the shorter side")

	assert.Equal(t, 1, ladder[0].Level)
	assert.Equal(t, 2, ladder[1].Level)
	assert.Equal(t, 99.0, ladder[0].BuyPrice)
	assert.Equal(t, 101.0, ladder[0].SellPrice)

	lv := &ladder[0]
	assert.False(t, lv.Ready())
	lv.BuyFilled = true
	lv.SellFilled = true
	lv.BuyOrderID = "a"
	lv.SellOrderID = "b"
	assert.True(t, lv.Ready())

	lv.Reset(95, 105)
	assert.False(t, lv.Ready())
	assert.Equal(t, 95.0, lv.BuyPrice)
	assert.Equal(t, 105.0, lv.SellPrice)
	assert.Empty(t, lv.BuyOrderID)
	assert.Empty(t, lv.SellOrderID)
}
