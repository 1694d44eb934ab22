package gateway

import (
	"context"
	"errors"
	"time"

	"grid-trader-go/market"
)

var (
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrDepthUnavailable = errors.New("depth unavailable")
	ErrOrderRejected    = errors.New("order rejected")
	ErrOrderNotFound    = errors.New("order not found")
)

// OrderState 订单在交易所侧的状态。
type OrderState string

const (
	StateOpen      OrderState = "open"
	StateFilled    OrderState = "filled"
	StateCancelled OrderState = "cancelled"
	StateUnknown   OrderState = "unknown"
)

// Order 交易所订单。Place 只需要 Pair/Side/Quantity/Price，
// 其余字段由交易所回填。
type Order struct {
	ID        string      `json:"id"`
	Pair      string      `json:"pair"`
	Side      market.Side `json:"side"`
	Type      string      `json:"type"`
	Quantity  float64     `json:"quantity"`
	Price     float64     `json:"price"`
	State     OrderState  `json:"status"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
}

// Client 交易所访问接口。REST 实现与纸面交易所都满足它，
// 引擎只依赖这个接口。
type Client interface {
	Price(ctx context.Context, pair string) (float64, error)
	Depth(ctx context.Context, pair string) (market.OrderBook, error)
	Place(ctx context.Context, o Order) (Order, error)
	Cancel(ctx context.Context, orderID string) error
	OpenOrders(ctx context.Context, pair string) ([]Order, error)
	Status(ctx context.Context, orderID string) (Order, error)
}

// parseState 把交易所返回的状态字符串折叠到本地状态机。
func parseState(s string) OrderState {
	switch s {
	case "open", "new", "partially_filled", "accepted":
		return StateOpen
	case "filled", "closed", "executed":
		return StateFilled
	case "cancelled", "canceled", "expired":
		return StateCancelled
	default:
		return StateUnknown
	}
}
