package market

import (
	"math"
	"sync"
)

const (
	// DefaultVolatility is returned whenever trade history is too thin to
	// estimate from.
	DefaultVolatility = 0.02

	minVolatility   = 0.005
	maxVolatility   = 0.15
	smoothingFactor = 0.7
	minTradeHistory = 10
	minSamples      = 5
	statsWindow     = 20
)

// PnLSample describes one settled fill used as a volatility proxy.
type PnLSample struct {
	PnL      float64
	Quantity float64
	Price    float64
}

// VolatilityEstimator derives a smoothed recent-volatility estimate from the
// dispersion of realized P&L. It keeps the previous smoothed value between
// calls so successive estimates cannot jump.
type VolatilityEstimator struct {
	mu   sync.Mutex
	prev float64
}

// NewVolatilityEstimator creates an estimator primed with the default.
func NewVolatilityEstimator() *VolatilityEstimator {
	return &VolatilityEstimator{prev: DefaultVolatility}
}

// Estimate returns a fractional volatility (0.02 = 2%).
//
// totalTrades is the account's lifetime trade count; below 10 trades the
// default is returned. fills should hold the settled positions from the
// recent window (at most the last 50, nonzero P&L only); the estimator keeps
// the last 20 of them and needs at least 5 usable samples. The raw estimate
// is the sample standard deviation of |pnl|/(quantity*price), blended 70/30
// with the previous estimate and clamped to [0.005, 0.15]. Degenerate data
// never fails: the default is returned instead.
func (e *VolatilityEstimator) Estimate(totalTrades int, fills []PnLSample) float64 {
	if totalTrades < minTradeHistory {
		return DefaultVolatility
	}
	if len(fills) > statsWindow {
		fills = fills[len(fills)-statsWindow:]
	}

	ratios := make([]float64, 0, len(fills))
	for _, s := range fills {
		if s.Quantity <= 0 || s.Price <= 0 {
			continue
		}
		r := math.Abs(s.PnL) / (s.Quantity * s.Price)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		ratios = append(ratios, r)
	}
	if len(ratios) < minSamples {
		return DefaultVolatility
	}

	raw := sampleStdDev(ratios)
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return DefaultVolatility
	}

	e.mu.Lock()
	smoothed := smoothingFactor*e.prev + (1-smoothingFactor)*raw
	e.prev = smoothed
	e.mu.Unlock()

	return math.Max(minVolatility, math.Min(maxVolatility, smoothed))
}

// sampleStdDev is the n-1 standard deviation.
func sampleStdDev(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / n

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / (n - 1))
}
