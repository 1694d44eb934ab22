package risk

import (
	"math"

	"grid-trader-go/infrastructure/logger"
)

// Outcome 标记一次仓位计算走到了哪条路径，调用方据此区分
// 正常定量、敞口截断和降级兜底。
type Outcome int

const (
	OutcomeSized Outcome = iota
	OutcomeExposureCapped
	OutcomeFallback
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSized:
		return "sized"
	case OutcomeExposureCapped:
		return "exposure_capped"
	case OutcomeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Result 一次仓位计算的结果。
type Result struct {
	Quantity float64 // 下单数量，0 表示敞口已满
	Risk     float64 // 实际采用的风险比例
	Capital  float64 // 计算采用的有效本金
	Outcome  Outcome
}

// SizerConfig 动态仓位参数。
type SizerConfig struct {
	Capital         float64
	DynamicSizing   bool
	CompoundProfits bool

	MinRiskPerTrade float64
	MaxRiskPerTrade float64

	// 胜率分档与放大系数
	WinRateThresholdHigh float64
	WinRateThresholdLow  float64
	RiskScalingFactor    float64

	// 小账户加成
	SmallAccountBoost     float64
	MicroCapitalThreshold float64
	SmallCapitalThreshold float64
}

// LedgerView 是 Sizer 对账本的只读视图。
type LedgerView interface {
	MetricsCopy() Metrics
	RealizedProfit() float64
	RecentOutcomes(n int) ([]float64, int)
	Exposure() float64
}

// 动量窗口：最近 20 笔仓位，不足 5 笔视为样本不足。
const (
	momentumWindow     = 20
	momentumMinSamples = 5
)

// Sizer 按账户表现与资金规模计算每格下单量。
type Sizer struct {
	cfg    SizerConfig
	ledger LedgerView
	log    *logger.Logger
}

// NewSizer 创建仓位计算器。
func NewSizer(cfg SizerConfig, ledger LedgerView, log *logger.Logger) *Sizer {
	if log == nil {
		log = logger.Nop()
	}
	return &Sizer{cfg: cfg, ledger: ledger, log: log}
}

// Size 计算一格的下单数量。
//
// 流程：复利后的有效本金 → 绩效动态风险 → 小账户加成 → 基础数量 →
// 单笔价值下限 → 敞口检查（超限返回数量 0）→ 最小可行数量。
// 任何非有限中间值走兜底：配置本金 × min(baseRisk, 2%) / 价格。
func (s *Sizer) Size(currentPrice, baseRisk float64) Result {
	if !isFinite(currentPrice) || currentPrice <= 0 {
		return s.fallback(currentPrice, baseRisk)
	}

	capital := s.effectiveCapital()
	risk := s.dynamicRisk(baseRisk)
	risk = s.smallAccountBoost(risk, capital)

	size := capital * risk / currentPrice
	size = applyPositionFloors(size, currentPrice, capital)

	if !isFinite(size) || size <= 0 {
		return s.fallback(currentPrice, baseRisk)
	}

	if exceeded, limit := s.exposureExceeded(size, currentPrice, capital); exceeded {
		s.log.LogRisk("exposure_limit", map[string]interface{}{
			"capital":  capital,
			"limit":    limit,
			"quantity": size,
			"price":    currentPrice,
		})
		return Result{Risk: risk, Capital: capital, Outcome: OutcomeExposureCapped}
	}

	final := math.Max(minViableQuantity(currentPrice, capital), size)
	if !isFinite(final) || final <= 0 {
		return s.fallback(currentPrice, baseRisk)
	}

	s.log.LogRisk("dynamic_sizing", map[string]interface{}{
		"capital":  capital,
		"risk":     risk,
		"quantity": final,
		"value":    final * currentPrice,
	})
	return Result{Quantity: final, Risk: risk, Capital: capital, Outcome: OutcomeSized}
}

// effectiveCapital 配置本金加上已落袋的正收益，复利部分最多再加一倍本金。
func (s *Sizer) effectiveCapital() float64 {
	base := s.cfg.Capital
	if !s.cfg.CompoundProfits {
		return base
	}
	compounded := math.Min(s.ledger.RealizedProfit(), base)
	return base + math.Max(0, compounded)
}

// dynamicRisk 按胜率和近期动量缩放基础风险，样本不足时原样返回。
func (s *Sizer) dynamicRisk(baseRisk float64) float64 {
	if !s.cfg.DynamicSizing {
		return baseRisk
	}
	m := s.ledger.MetricsCopy()
	if m.TotalTrades < 10 {
		return baseRisk
	}

	mult := s.performanceMultiplier(m.WinRate, s.recentPerformance())
	adjusted := baseRisk * mult
	return math.Max(s.cfg.MinRiskPerTrade, math.Min(s.cfg.MaxRiskPerTrade, adjusted))
}

// performanceMultiplier 胜率乘数与动量乘数取平均后截断到 [0.5, 2.0]。
func (s *Sizer) performanceMultiplier(winRate, recent float64) float64 {
	high := s.cfg.WinRateThresholdHigh
	low := s.cfg.WinRateThresholdLow

	var wrMult float64
	switch {
	case winRate >= high:
		wrMult = 1 + (winRate-high)*s.cfg.RiskScalingFactor
	case winRate <= low:
		wrMult = low + winRate*0.5
	default:
		wrMult = 1
	}

	recentMult := 1 + recent*0.5
	combined := (wrMult + recentMult) / 2
	return math.Max(0.5, math.Min(2.0, combined))
}

// recentPerformance 近期动量 ∈ [-1,1]：最近 20 笔中盈利笔数占
// 非零盈亏笔数的比例，居中后放大一倍。
func (s *Sizer) recentPerformance() float64 {
	pnls, raw := s.ledger.RecentOutcomes(momentumWindow)
	if raw < momentumMinSamples || len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, pnl := range pnls {
		if pnl > 0 {
			wins++
		}
	}
	momentum := float64(wins)/float64(len(pnls)) - 0.5
	return math.Max(-1, math.Min(1, momentum*2))
}

// smallAccountBoost 小账户风险加成。微型账户最高放大到 4%。
func (s *Sizer) smallAccountBoost(risk, capital float64) float64 {
	switch {
	case capital < s.cfg.MicroCapitalThreshold:
		boosted := math.Min(0.04, risk*1.5)
		return math.Max(risk, boosted)
	case capital < s.cfg.SmallCapitalThreshold:
		return risk * s.cfg.SmallAccountBoost
	default:
		return risk
	}
}

// exposureExceeded 判断新仓位加上现有敞口是否超过本金档位上限。
func (s *Sizer) exposureExceeded(size, price, capital float64) (bool, float64) {
	limit := exposureLimitFor(capital)
	total := s.ledger.Exposure() + size*price
	return total > limit, limit
}

// fallback 计算失败时的保守兜底：配置本金 × min(baseRisk, 2%) / 价格。
func (s *Sizer) fallback(price, baseRisk float64) Result {
	r := Result{
		Risk:    math.Min(baseRisk, 0.02),
		Capital: s.cfg.Capital,
		Outcome: OutcomeFallback,
	}
	if isFinite(price) && price > 0 {
		r.Quantity = s.cfg.Capital * r.Risk / price
	}
	s.log.LogRisk("sizing_fallback", map[string]interface{}{
		"price":    price,
		"risk":     r.Risk,
		"quantity": r.Quantity,
	})
	return r
}

// applyPositionFloors 小账户单笔价值下限：300 以下 1.5%，1000 以下 0.5%。
func applyPositionFloors(size, price, capital float64) float64 {
	value := size * price
	switch {
	case capital < tinyCapitalLimit:
		if floor := capital * tinyPositionFloor; value < floor {
			return floor / price
		}
	case capital < smallCapitalLimit:
		if floor := capital * smallPositionFloor; value < floor {
			return floor / price
		}
	}
	return size
}

// minViableQuantity 最小可行数量：max($1, 本金×0.1%) / 价格。
func minViableQuantity(price, capital float64) float64 {
	return math.Max(1.0, capital*0.001) / price
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
