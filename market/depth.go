package market

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/infrastructure/logger"
)

const (
	// 桶只保留距离现价 5% 以内的挂单
	depthBandPercent = 0.05
	// 每侧最多保留的显著量级
	maxLevelsPerSide = 10
	// 量不平衡超过该值时对网格价施加偏移
	imbalanceBiasThreshold = 0.3
	// 偏移幅度上限（imbalance * factor ≤ 1%）
	imbalanceBiasFactor = 0.01
	// 点差超过 2% 视为市况不适合加权
	maxSpreadForWeighting = 2.0
)

// VolumeLevel 订单簿一侧聚合出的显著量级。
type VolumeLevel struct {
	Price         float64
	Volume        float64
	Side          Side
	Strength      float64 // 0-1，量占比与距离的加权
	DepthRank     int     // 按 Strength 降序，从 1 开始
	PriceDistance float64 // |price-current|/current
}

// DepthAnalysis 一次订单簿分析的结果，按内容哈希+现价缓存。
type DepthAnalysis struct {
	CurrentPrice    float64
	BidLevels       []VolumeLevel
	AskLevels       []VolumeLevel
	VolumeImbalance float64 // [-1,1]，负值代表卖压更大
	SpreadPercent   float64
	DepthQuality    float64 // [0,1]
	Timestamp       time.Time
}

// AnalyzerConfig 深度分析参数。
type AnalyzerConfig struct {
	MinVolumeStrength   float64
	MinDepthQuality     float64
	AdjustmentTolerance float64
	CacheTTL            time.Duration
}

// DefaultAnalyzerConfig 返回默认分析参数。
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		MinVolumeStrength:   0.3,
		MinDepthQuality:     0.3,
		AdjustmentTolerance: 0.02,
		CacheTTL:            30 * time.Second,
	}
}

// DepthAnalyzer 将原始订单簿转成带评分的量级列表。
type DepthAnalyzer struct {
	cfg AnalyzerConfig
	log *logger.Logger

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
	now   func() time.Time
}

type cacheKey struct {
	hash  uint64
	price float64
}

type cacheEntry struct {
	analysis *DepthAnalysis
	at       time.Time
}

// NewDepthAnalyzer 创建分析器。
func NewDepthAnalyzer(cfg AnalyzerConfig, log *logger.Logger) *DepthAnalyzer {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultAnalyzerConfig().CacheTTL
	}
	return &DepthAnalyzer{
		cfg:   cfg,
		log:   log,
		cache: make(map[cacheKey]cacheEntry),
		now:   time.Now,
	}
}

// Analyze 分析订单簿深度；任一侧为空或输入异常返回 nil，调用方退回基础网格。
func (a *DepthAnalyzer) Analyze(book OrderBook, currentPrice float64) *DepthAnalysis {
	if book.Empty() {
		a.log.Warn("empty order book, skipping depth analysis")
		return nil
	}
	if currentPrice <= 0 || math.IsNaN(currentPrice) || math.IsInf(currentPrice, 0) {
		return nil
	}

	key := cacheKey{hash: book.Hash(), price: currentPrice}
	now := a.now()

	a.mu.Lock()
	if e, ok := a.cache[key]; ok && now.Sub(e.at) < a.cfg.CacheTTL {
		a.mu.Unlock()
		return e.analysis
	}
	a.mu.Unlock()

	bidLevels := a.analyzeSide(book.Bids, SideBuy, currentPrice)
	askLevels := a.analyzeSide(book.Asks, SideSell, currentPrice)

	an := &DepthAnalysis{
		CurrentPrice:    currentPrice,
		BidLevels:       bidLevels,
		AskLevels:       askLevels,
		VolumeImbalance: volumeImbalance(bidLevels, askLevels),
		SpreadPercent:   spreadPercent(book, currentPrice),
		DepthQuality:    depthQuality(bidLevels, askLevels, len(book.Bids), len(book.Asks)),
		Timestamp:       now,
	}

	a.mu.Lock()
	a.cache[key] = cacheEntry{analysis: an, at: now}
	a.sweepLocked(now)
	a.mu.Unlock()

	a.log.Debug("depth analysis",
		zap.Float64("quality", an.DepthQuality),
		zap.Float64("imbalance", an.VolumeImbalance),
		zap.Float64("spread_pct", an.SpreadPercent),
		zap.Int("bid_levels", len(an.BidLevels)),
		zap.Int("ask_levels", len(an.AskLevels)),
	)
	return an
}

// analyzeSide 将一侧的挂单按 0.1% 价位分桶并打分。
func (a *DepthAnalyzer) analyzeSide(entries []BookEntry, side Side, current float64) []VolumeLevel {
	buckets := make(map[float64]float64)
	for _, e := range entries {
		if e.Price <= 0 || e.Volume <= 0 ||
			math.IsNaN(e.Price) || math.IsNaN(e.Volume) ||
			math.IsInf(e.Price, 0) || math.IsInf(e.Volume, 0) {
			continue
		}
		dist := math.Abs(e.Price-current) / current
		if dist > depthBandPercent {
			continue
		}
		ratio := math.Round(e.Price/current*1000) / 1000
		buckets[ratio] += e.Volume
	}
	if len(buckets) == 0 {
		return nil
	}

	maxVolume := 0.0
	for _, v := range buckets {
		if v > maxVolume {
			maxVolume = v
		}
	}

	levels := make([]VolumeLevel, 0, len(buckets))
	for ratio, volume := range buckets {
		price := ratio * current
		dist := math.Abs(price-current) / current
		volumeScore := 0.0
		if maxVolume > 0 {
			volumeScore = math.Min(volume/maxVolume, 1)
		}
		proximityScore := math.Max(0, 1-dist*20)
		levels = append(levels, VolumeLevel{
			Price:         price,
			Volume:        volume,
			Side:          side,
			Strength:      volumeScore*0.7 + proximityScore*0.3,
			PriceDistance: dist,
		})
	}

	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Strength > levels[j].Strength })
	for i := range levels {
		levels[i].DepthRank = i + 1
	}

	kept := levels[:0]
	for _, lv := range levels {
		if lv.Strength < a.cfg.MinVolumeStrength {
			continue
		}
		kept = append(kept, lv)
		if len(kept) == maxLevelsPerSide {
			break
		}
	}
	return kept
}

// SuitableForWeighting 判断市况是否适合做量加权的网格调整。
func (a *DepthAnalyzer) SuitableForWeighting(an *DepthAnalysis) bool {
	if an == nil {
		return false
	}
	if an.DepthQuality < a.cfg.MinDepthQuality {
		return false
	}
	strong := 0
	for _, lv := range an.BidLevels {
		if lv.Strength >= a.cfg.MinVolumeStrength {
			strong++
		}
	}
	for _, lv := range an.AskLevels {
		if lv.Strength >= a.cfg.MinVolumeStrength {
			strong++
		}
	}
	if strong < 3 {
		return false
	}
	return an.SpreadPercent <= maxSpreadForWeighting
}

// WeightLevels 把基础网格价吸附到容差内收益最高的量级上，
// 并在不平衡显著时施加 ≤1% 的方向性偏移。
func (a *DepthAnalyzer) WeightLevels(base []float64, current float64, side Side, an *DepthAnalysis) []float64 {
	if an == nil || an.DepthQuality < a.cfg.MinDepthQuality {
		return base
	}
	levels := an.BidLevels
	if side == SideSell {
		levels = an.AskLevels
	}
	if len(levels) == 0 {
		return base
	}

	adjusted := make([]float64, 0, len(base))
	for _, basePrice := range base {
		best := basePrice
		bestBenefit := 0.0
		for _, lv := range levels {
			if lv.Strength < a.cfg.MinVolumeStrength {
				continue
			}
			dist := math.Abs(lv.Price-basePrice) / basePrice
			if dist > a.cfg.AdjustmentTolerance {
				continue
			}
			if side == SideBuy && lv.Price >= current {
				continue
			}
			if side == SideSell && lv.Price <= current {
				continue
			}
			benefit := lv.Strength * (1 - dist/a.cfg.AdjustmentTolerance)
			if benefit > bestBenefit {
				best = lv.Price
				bestBenefit = benefit
			}
		}
		adjusted = append(adjusted, best)
	}

	if math.Abs(an.VolumeImbalance) > imbalanceBiasThreshold {
		adjusted = applyImbalanceBias(adjusted, an.VolumeImbalance, side)
	}
	return adjusted
}

// sweepLocked 清掉过期缓存；调用方持有锁。
func (a *DepthAnalyzer) sweepLocked(now time.Time) {
	for k, e := range a.cache {
		if now.Sub(e.at) > a.cfg.CacheTTL {
			delete(a.cache, k)
		}
	}
}

func volumeImbalance(bids, asks []VolumeLevel) float64 {
	var bidVolume, askVolume float64
	for _, lv := range bids {
		bidVolume += lv.Volume
	}
	for _, lv := range asks {
		askVolume += lv.Volume
	}
	total := bidVolume + askVolume
	if total == 0 {
		return 0
	}
	imbalance := (bidVolume - askVolume) / total
	return math.Max(-1, math.Min(1, imbalance))
}

// spreadPercent 用原始首档计算点差百分比。
func spreadPercent(book OrderBook, current float64) float64 {
	if book.Empty() || current <= 0 {
		return 0
	}
	bestBid := book.Bids[0].Price
	bestAsk := book.Asks[0].Price
	return (bestAsk - bestBid) / current * 100
}

func depthQuality(bids, asks []VolumeLevel, rawBids, rawAsks int) float64 {
	all := len(bids) + len(asks)
	if all == 0 {
		return 0
	}
	levelScore := math.Min(float64(all)/10, 1)

	var strengthSum float64
	for _, lv := range bids {
		strengthSum += lv.Strength
	}
	for _, lv := range asks {
		strengthSum += lv.Strength
	}
	strengthScore := strengthSum / float64(all)

	depthScore := math.Min(float64(rawBids+rawAsks)/100, 1)

	quality := levelScore*0.4 + strengthScore*0.4 + depthScore*0.2
	return math.Max(0, math.Min(1, quality))
}

func applyImbalanceBias(prices []float64, imbalance float64, side Side) []float64 {
	bias := math.Abs(imbalance * imbalanceBiasFactor)
	out := make([]float64, 0, len(prices))
	for _, p := range prices {
		switch {
		case side == SideBuy && imbalance > 0:
			// 买压偏强，买单压得更低一点
			out = append(out, p*(1-bias))
		case side == SideSell && imbalance < 0:
			// 卖压偏强，卖单挂得更高一点
			out = append(out, p*(1+bias))
		default:
			out = append(out, p)
		}
	}
	return out
}
