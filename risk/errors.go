package risk

import "errors"

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosed   = errors.New("position already closed")
	ErrDailyLossLimit   = errors.New("daily loss limit reached")
	ErrDrawdownLimit    = errors.New("max drawdown exceeded")
)
