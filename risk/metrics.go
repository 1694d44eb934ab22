package risk

// Metrics 累计绩效指标。只由 Ledger 在成交时更新，跨会话持久化。
type Metrics struct {
	TotalPnL      float64 `json:"total_pnl"`
	DailyPnL      float64 `json:"daily_pnl"`
	MaxDrawdown   float64 `json:"max_drawdown"` // ≤0，历史最深的累计亏损
	WinRate       float64 `json:"win_rate"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
}

// Summary 引擎周期性输出的绩效快照。
type Summary struct {
	Metrics       Metrics
	OpenPositions int
	Exposure      float64
	SessionHours  float64
	ROIPercent    float64
}
