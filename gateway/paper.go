package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
)

// PaperExchange 内存撮合的模拟交易所，-paper 模式与集成测试使用。
// 限价单在行情价穿越挂单价时成交：买单 price <= 挂单价，卖单 price >= 挂单价。
type PaperExchange struct {
	mu     sync.Mutex
	price  float64
	book   market.OrderBook
	orders map[string]*Order
	seq    []string
	log    *logger.Logger
}

func NewPaperExchange(startPrice float64, log *logger.Logger) *PaperExchange {
	if log == nil {
		log = logger.Nop()
	}
	return &PaperExchange{
		price:  startPrice,
		orders: make(map[string]*Order),
		log:    log,
	}
}

// Advance 推进行情价并撮合穿越的挂单，返回本次成交的订单。
func (p *PaperExchange) Advance(price float64) []Order {
	p.mu.Lock()
	p.price = price
	var filled []Order
	for _, id := range p.seq {
		o := p.orders[id]
		if o.State != StateOpen {
			continue
		}
		if crossed(o.Side, o.Price, price) {
			o.State = StateFilled
			filled = append(filled, *o)
		}
	}
	p.mu.Unlock()

	for _, o := range filled {
		p.log.Debug("paper order filled",
			zap.String("order_id", o.ID), zap.String("side", string(o.Side)),
			zap.Float64("price", o.Price), zap.Float64("mark", price))
	}
	return filled
}

// SetBook 注入深度快照。未注入时 Depth 按现价合成。
func (p *PaperExchange) SetBook(book market.OrderBook) {
	p.mu.Lock()
	p.book = book
	p.mu.Unlock()
}

func (p *PaperExchange) Price(ctx context.Context, pair string) (float64, error) {
	p.mu.Lock()
	px := p.price
	p.mu.Unlock()
	if px <= 0 {
		return 0, ErrPriceUnavailable
	}
	return px, nil
}

func (p *PaperExchange) Depth(ctx context.Context, pair string) (market.OrderBook, error) {
	p.mu.Lock()
	book, px := p.book, p.price
	p.mu.Unlock()
	if !book.Empty() {
		return book, nil
	}
	if px <= 0 {
		return market.OrderBook{}, ErrDepthUnavailable
	}
	return SyntheticBook(px, syntheticLevels), nil
}

func (p *PaperExchange) Place(ctx context.Context, o Order) (Order, error) {
	if o.Quantity <= 0 || o.Price <= 0 {
		return Order{}, fmt.Errorf("%w: quantity %.8f price %.8f", ErrOrderRejected, o.Quantity, o.Price)
	}
	if o.Type == "" {
		o.Type = "limit"
	}
	o.ID = uuid.NewString()
	o.State = StateOpen
	o.CreatedAt = time.Now().UTC()

	p.mu.Lock()
	if crossed(o.Side, o.Price, p.price) {
		o.State = StateFilled
	}
	stored := o
	p.orders[o.ID] = &stored
	p.seq = append(p.seq, o.ID)
	p.mu.Unlock()
	return o, nil
}

func (p *PaperExchange) Cancel(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.State != StateOpen {
		return fmt.Errorf("cancel %s: order already %s", orderID, o.State)
	}
	o.State = StateCancelled
	return nil
}

func (p *PaperExchange) OpenOrders(ctx context.Context, pair string) ([]Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Order, 0, len(p.seq))
	for _, id := range p.seq {
		o := p.orders[id]
		if o.State != StateOpen {
			continue
		}
		if pair != "" && o.Pair != pair {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (p *PaperExchange) Status(ctx context.Context, orderID string) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return *o, nil
}

func crossed(side market.Side, limit, price float64) bool {
	if side == market.SideBuy {
		return price <= limit
	}
	return price >= limit
}

// PaperTrader 实盘行情 + 内存撮合：价格与深度走真实网关，
// 订单进 PaperExchange，每次取价时顺带推进撮合。
type PaperTrader struct {
	md    Client
	paper *PaperExchange
}

func NewPaperTrader(md Client, log *logger.Logger) *PaperTrader {
	return &PaperTrader{md: md, paper: NewPaperExchange(0, log)}
}

func (t *PaperTrader) Price(ctx context.Context, pair string) (float64, error) {
	px, err := t.md.Price(ctx, pair)
	if err != nil {
		return 0, err
	}
	t.paper.Advance(px)
	return px, nil
}

func (t *PaperTrader) Depth(ctx context.Context, pair string) (market.OrderBook, error) {
	return t.md.Depth(ctx, pair)
}

func (t *PaperTrader) Place(ctx context.Context, o Order) (Order, error) {
	return t.paper.Place(ctx, o)
}

func (t *PaperTrader) Cancel(ctx context.Context, orderID string) error {
	return t.paper.Cancel(ctx, orderID)
}

func (t *PaperTrader) OpenOrders(ctx context.Context, pair string) ([]Order, error) {
	return t.paper.OpenOrders(ctx, pair)
}

func (t *PaperTrader) Status(ctx context.Context, orderID string) (Order, error) {
	return t.paper.Status(ctx, orderID)
}
