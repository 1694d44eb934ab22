package strategy

// GridLevel 一个网格档位的双边执行状态。两侧都成交后档位重置。
type GridLevel struct {
	Level       int // 1 起始
	BuyPrice    float64
	SellPrice   float64
	BuyOrderID  string
	SellOrderID string
	BuyFilled   bool
	SellFilled  bool
}

// Ready 两侧都已成交，档位可以重置换新价。
func (g *GridLevel) Ready() bool { return g.BuyFilled && g.SellFilled }

// Reset 清掉执行状态并换上新价位。
func (g *GridLevel) Reset(buyPrice, sellPrice float64) {
	g.BuyPrice = buyPrice
	g.SellPrice = sellPrice
	g.BuyOrderID = ""
	g.SellOrderID = ""
	g.BuyFilled = false
	g.SellFilled = false
}

// NewLadder 将两侧价位装配成网格档位，取两侧较短的长度。
func NewLadder(buys, sells []float64) []GridLevel {
	n := len(buys)
	if len(sells) < n {
		n = len(sells)
	}
	ladder := make([]GridLevel, n)
	for i := 0; i < n; i++ {
		ladder[i] = GridLevel{
			Level:     i + 1,
			BuyPrice:  buys[i],
			SellPrice: sells[i],
		}
	}
	return ladder
}
