package gateway

import (
	"fmt"
	"math"
)

// SymbolRules 交易对的精度与最小名义限制。零值字段不启用。
type SymbolRules struct {
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MaxQty      float64
	MinNotional float64
}

// Enabled 只要任一条规则生效就返回真。
func (r SymbolRules) Enabled() bool {
	return r.TickSize > 0 || r.StepSize > 0 || r.MinQty > 0 || r.MaxQty > 0 || r.MinNotional > 0
}

// Apply 把订单贴齐交易所精度并做下限检查。
// 价格和数量统一向下取整，贴齐后再量名义，避免放大敞口。
func (r SymbolRules) Apply(o Order) (Order, error) {
	if r.TickSize > 0 {
		o.Price = snap(o.Price, r.TickSize)
	}
	if r.StepSize > 0 {
		o.Quantity = snap(o.Quantity, r.StepSize)
	}
	if o.Price <= 0 {
		return Order{}, fmt.Errorf("%w: price rounds to zero at tick %.8f", ErrOrderRejected, r.TickSize)
	}
	if o.Quantity <= 0 {
		return Order{}, fmt.Errorf("%w: quantity rounds to zero at step %.8f", ErrOrderRejected, r.StepSize)
	}
	if r.MinQty > 0 && o.Quantity < r.MinQty {
		return Order{}, fmt.Errorf("%w: quantity %.8f below min %.8f", ErrOrderRejected, o.Quantity, r.MinQty)
	}
	if r.MaxQty > 0 && o.Quantity > r.MaxQty {
		return Order{}, fmt.Errorf("%w: quantity %.8f above max %.8f", ErrOrderRejected, o.Quantity, r.MaxQty)
	}
	if r.MinNotional > 0 && o.Price*o.Quantity < r.MinNotional {
		return Order{}, fmt.Errorf("%w: notional %.8f below min %.8f", ErrOrderRejected, o.Price*o.Quantity, r.MinNotional)
	}
	return o, nil
}

// snap 向下贴齐到 step 的整数倍。1e-9 的余量防止
// 已对齐的值被浮点误差挤下一档。
func snap(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step+1e-9) * step
}
