package risk

import (
	"time"

	"grid-trader-go/market"
)

// Status 仓位生命周期状态。
type Status string

const (
	StatusOpen      Status = "open"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
)

// Position 一笔网格挂单对应的仓位记录。ID 与交易所订单号一致。
type Position struct {
	ID         string      `json:"id"`
	Side       market.Side `json:"side"`
	Quantity   float64     `json:"quantity"`
	EntryPrice float64     `json:"entry_price"`
	Timestamp  time.Time   `json:"timestamp"`
	Status     Status      `json:"status"`
	PnL        float64     `json:"pnl"`
}

// Notional 挂单名义价值。
func (p Position) Notional() float64 { return p.Quantity * p.EntryPrice }

// Terminal 仓位是否已离场（成交或撤销）。
func (p Position) Terminal() bool { return p.Status != StatusOpen }
