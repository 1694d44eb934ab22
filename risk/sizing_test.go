package risk_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"grid-trader-go/risk"
)

// stubLedger 模拟账本的只读视图
type stubLedger struct {
	metrics  risk.Metrics
	realized float64
	outcomes []float64
	raw      int
	exposure float64
}

func (s *stubLedger) MetricsCopy() risk.Metrics          { return s.metrics }
func (s *stubLedger) RealizedProfit() float64            { return s.realized }
func (s *stubLedger) RecentOutcomes(int) ([]float64, int) { return s.outcomes, s.raw }
func (s *stubLedger) Exposure() float64                  { return s.exposure }

func baseSizerConfig() risk.SizerConfig {
	return risk.SizerConfig{
		Capital:               250,
		DynamicSizing:         true,
		CompoundProfits:       true,
		MinRiskPerTrade:       0.01,
		MaxRiskPerTrade:       0.05,
		WinRateThresholdHigh:  0.7,
		WinRateThresholdLow:   0.5,
		RiskScalingFactor:     1.5,
		SmallAccountBoost:     1.2,
		MicroCapitalThreshold: 500,
		SmallCapitalThreshold: 1000,
	}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSizer_FreshAccount(t *testing.T) {
	s := risk.NewSizer(baseSizerConfig(), &stubLedger{}, nil)

	// 无历史：动态风险保持基础值 2%，微型账户加成到 3%
	res := s.Size(100, 0.02)
	assert.Equal(t, risk.OutcomeSized, res.Outcome)
	assert.InDelta(t, 0.03, res.Risk, 1e-9)
	assert.InDelta(t, 250.0, res.Capital, 1e-9)
	assert.InDelta(t, 0.075, res.Quantity, 1e-9, "250×3%/100")
}

func TestSizer_PerformanceScaling(t *testing.T) {
	fresh := risk.NewSizer(baseSizerConfig(), &stubLedger{}, nil).Size(100, 0.02)

	testCases := []struct {
		name     string
		ledger   *stubLedger
		wantRisk float64
	}{
		{
			name: "高胜率高动量 - 放大仓位",
			ledger: &stubLedger{
				metrics:  risk.Metrics{TotalTrades: 20, WinRate: 0.8},
				outcomes: repeat(1.0, 10),
				raw:      20,
			},
			// wrMult=1.15, recentMult=1.5, combined=1.325 → 0.0265，加成后 0.03975
			wantRisk: 0.03975,
		},
		{
			name: "低胜率负动量 - 收缩仓位",
			ledger: &stubLedger{
				metrics:  risk.Metrics{TotalTrades: 20, WinRate: 0.4},
				outcomes: repeat(-1.0, 5),
				raw:      20,
			},
			// wrMult=0.7, recentMult=0.5, combined=0.6 → 0.012，加成后 0.018
			wantRisk: 0.018,
		},
		{
			name: "动量样本不足 - 只按胜率缩放",
			ledger: &stubLedger{
				metrics:  risk.Metrics{TotalTrades: 20, WinRate: 0.8},
				outcomes: []float64{1},
				raw:      3,
			},
			// recentMult 中性 1.0，combined=1.075 → 0.0215，加成后 0.03225
			wantRisk: 0.03225,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := risk.NewSizer(baseSizerConfig(), tc.ledger, nil).Size(100, 0.02)
			assert.Equal(t, risk.OutcomeSized, res.Outcome)
			assert.InDelta(t, tc.wantRisk, res.Risk, 1e-9)

			if tc.ledger.metrics.WinRate > 0.7 && tc.ledger.raw >= 5 {
				assert.Greater(t, res.Quantity, fresh.Quantity,
					"持续盈利的账户应当拿到比新账户更大的仓位")
			}
			if tc.ledger.metrics.WinRate < 0.5 {
				assert.Less(t, res.Quantity, fresh.Quantity,
					"亏损账户应当收缩仓位")
			}
		})
	}
}

func TestSizer_RiskClampedToMax(t *testing.T) {
	ledger := &stubLedger{
		metrics:  risk.Metrics{TotalTrades: 20, WinRate: 0.8},
		outcomes: repeat(1.0, 10),
		raw:      20,
	}
	// 0.05×1.325 = 0.06625 超出上限，夹回 0.05
	res := risk.NewSizer(baseSizerConfig(), ledger, nil).Size(100, 0.05)
	assert.InDelta(t, 0.05, res.Risk, 1e-9)
}

func TestSizer_CompoundingCappedAtDouble(t *testing.T) {
	ledger := &stubLedger{realized: 10000}
	res := risk.NewSizer(baseSizerConfig(), ledger, nil).Size(100, 0.02)

	// 有效本金最多翻倍：250 → 500，此时落入小账户档，加成 ×1.2
	assert.InDelta(t, 500.0, res.Capital, 1e-9)
	assert.InDelta(t, 0.024, res.Risk, 1e-9)
	assert.InDelta(t, 0.12, res.Quantity, 1e-9)
}

func TestSizer_ExposureLimit(t *testing.T) {
	// 微型账户敞口上限 250×90% = 225
	capped := risk.NewSizer(baseSizerConfig(), &stubLedger{exposure: 224}, nil).Size(100, 0.02)
	assert.Equal(t, risk.OutcomeExposureCapped, capped.Outcome)
	assert.Zero(t, capped.Quantity)
	assert.InDelta(t, 0.03, capped.Risk, 1e-9)

	// 恰好打满上限仍然放行（严格大于才截断）
	exact := risk.NewSizer(baseSizerConfig(), &stubLedger{exposure: 217.5}, nil).Size(100, 0.02)
	assert.Equal(t, risk.OutcomeSized, exact.Outcome)
	assert.InDelta(t, 0.075, exact.Quantity, 1e-9)
}

func TestSizer_MinimumViablePosition(t *testing.T) {
	cfg := baseSizerConfig()
	cfg.Capital = 2000
	cfg.DynamicSizing = false
	cfg.CompoundProfits = false

	// 名义价值只有 $0.02，被最低可行仓位 max($1, 0.1%×2000)=$2 顶起
	res := risk.NewSizer(cfg, &stubLedger{}, nil).Size(100, 0.00001)
	assert.Equal(t, risk.OutcomeSized, res.Outcome)
	assert.InDelta(t, 0.02, res.Quantity, 1e-9)
}

func TestSizer_TinyAccountPositionFloor(t *testing.T) {
	cfg := baseSizerConfig()
	cfg.DynamicSizing = false

	// 加成后名义价值 $1.875 低于 300 档下限 250×1.5% = $3.75
	res := risk.NewSizer(cfg, &stubLedger{}, nil).Size(100, 0.005)
	assert.Equal(t, risk.OutcomeSized, res.Outcome)
	assert.InDelta(t, 0.0375, res.Quantity, 1e-9)
}

func TestSizer_FallbackOnBadPrice(t *testing.T) {
	s := risk.NewSizer(baseSizerConfig(), &stubLedger{}, nil)

	for _, price := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		res := s.Size(price, 0.05)
		assert.Equal(t, risk.OutcomeFallback, res.Outcome)
		assert.Zero(t, res.Quantity, "bad price must not produce a quantity")
		assert.InDelta(t, 0.02, res.Risk, 1e-9, "fallback risk capped at 2%")
	}
}
