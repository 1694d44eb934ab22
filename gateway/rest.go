package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBackoff = 500 * time.Millisecond
	defaultDepthLimit   = 100

	syntheticSpreadPercent = 0.001
	syntheticLevels        = 5
	syntheticBaseVolume    = 100.0
)

// RESTConfig REST 客户端参数。零值字段取默认。
type RESTConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	DepthLimit   int
	Rules        SymbolRules // 下单前的精度贴齐，零值不启用
}

// RESTClient 通过交易所 HTTP API 实现 Client。
// 429/5xx 按指数退避重试，深度源按端点链依次回退。
type RESTClient struct {
	cfg     RESTConfig
	http    *http.Client
	limiter RateLimiter
	feed    *PriceFeed
	log     *logger.Logger
}

// NewRESTClient 创建 REST 客户端。feed 可为 nil；
// 提供时 Price 优先读取未过期的行情推送，省一次 HTTP 往返。
func NewRESTClient(cfg RESTConfig, feed *PriceFeed, log *logger.Logger) *RESTClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.DepthLimit <= 0 {
		cfg.DepthLimit = defaultDepthLimit
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RESTClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: NewMinIntervalLimiter(100 * time.Millisecond),
		feed:    feed,
		log:     log,
	}
}

// SetHTTPClient 注入自定义 http.Client，测试用 httptest 的客户端。
func (c *RESTClient) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.http = hc
	}
}

// SetLimiter 替换限流器。测试里换成 noopLimiter 免得拖慢用例。
func (c *RESTClient) SetLimiter(l RateLimiter) {
	if l != nil {
		c.limiter = l
	}
}

func (c *RESTClient) Price(ctx context.Context, pair string) (float64, error) {
	if c.feed != nil {
		if px, ok := c.feed.Last(); ok {
			return px, nil
		}
	}
	var resp struct {
		Price flexFloat `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/market/"+url.PathEscape(pair), nil, &resp); err != nil {
		return 0, fmt.Errorf("fetch price %s: %w", pair, err)
	}
	px := float64(resp.Price)
	if px <= 0 {
		return 0, fmt.Errorf("%w: bad price %v for %s", ErrPriceUnavailable, px, pair)
	}
	return px, nil
}

// Depth 依次尝试 CEX 主端点、备选端点和 DEX 端点。
// 全部失败但现价可得时合成一个最小订单簿。
func (c *RESTClient) Depth(ctx context.Context, pair string) (market.OrderBook, error) {
	escaped := url.PathEscape(pair)
	query := "?limit=" + strconv.Itoa(c.cfg.DepthLimit)
	endpoints := []string{
		"/v1/market/" + escaped + "/depth",
		"/v1/orderbook/" + escaped,
		"/dex/orderbook/" + escaped,
	}

	var lastErr error
	for _, ep := range endpoints {
		var book market.OrderBook
		if err := c.do(ctx, http.MethodGet, ep+query, nil, &book); err != nil {
			if ctx.Err() != nil {
				return market.OrderBook{}, ctx.Err()
			}
			lastErr = err
			c.log.Debug("depth endpoint failed", zap.String("endpoint", ep), zap.Error(err))
			continue
		}
		if book.Empty() {
			lastErr = fmt.Errorf("%w: empty book from %s", ErrDepthUnavailable, ep)
			continue
		}
		return book, nil
	}

	px, err := c.Price(ctx, pair)
	if err != nil {
		return market.OrderBook{}, fmt.Errorf("%w: %v", ErrDepthUnavailable, lastErr)
	}
	c.log.Warn("all depth endpoints failed, synthesizing order book",
		zap.String("pair", pair), zap.Error(lastErr))
	return SyntheticBook(px, syntheticLevels), nil
}

func (c *RESTClient) Place(ctx context.Context, o Order) (Order, error) {
	if o.Quantity <= 0 {
		return Order{}, fmt.Errorf("%w: quantity %.8f", ErrOrderRejected, o.Quantity)
	}
	if o.Type == "" {
		o.Type = "limit"
	}
	if o.Type == "limit" && o.Price <= 0 {
		return Order{}, fmt.Errorf("%w: limit order without price", ErrOrderRejected)
	}
	if c.cfg.Rules.Enabled() {
		snapped, err := c.cfg.Rules.Apply(o)
		if err != nil {
			return Order{}, err
		}
		o = snapped
	}

	body := map[string]interface{}{
		"pair":     o.Pair,
		"side":     string(o.Side),
		"type":     o.Type,
		"quantity": o.Quantity,
	}
	if o.Price > 0 {
		body["price"] = o.Price
	}

	var resp wireOrder
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &resp); err != nil {
		return Order{}, fmt.Errorf("place order: %w", err)
	}
	if resp.ID == "" {
		return Order{}, fmt.Errorf("%w: exchange returned no order id", ErrOrderRejected)
	}

	o.ID = resp.ID
	o.State = StateOpen
	if s := parseState(resp.Status); s != StateUnknown {
		o.State = s
	}
	o.CreatedAt = time.Now().UTC()
	c.log.LogOrder("order_placed", o.ID, map[string]interface{}{
		"pair":     o.Pair,
		"side":     string(o.Side),
		"quantity": o.Quantity,
		"price":    o.Price,
	})
	return o, nil
}

func (c *RESTClient) Cancel(ctx context.Context, orderID string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/orders/"+url.PathEscape(orderID), nil, nil)
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

func (c *RESTClient) OpenOrders(ctx context.Context, pair string) ([]Order, error) {
	path := "/v1/orders/open"
	if pair != "" {
		path += "?pair=" + url.QueryEscape(pair)
	}
	var resp struct {
		Orders []wireOrder `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	out := make([]Order, 0, len(resp.Orders))
	for _, w := range resp.Orders {
		out = append(out, w.toOrder())
	}
	return out, nil
}

func (c *RESTClient) Status(ctx context.Context, orderID string) (Order, error) {
	var resp wireOrder
	err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &resp)
	if isNotFound(err) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return Order{}, fmt.Errorf("order status %s: %w", orderID, err)
	}
	return resp.toOrder(), nil
}

// do 是所有请求的公共路径：限流、鉴权头、429/5xx 退避重试。
// POST 带幂等键，重试复用同一个键避免重复下单。
func (c *RESTClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}
	idemKey := ""
	if method == http.MethodPost {
		idemKey = uuid.NewString()
	}

	backoff := c.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}
		c.limiter.Wait()

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("X-API-KEY", c.cfg.APIKey)
		}
		if idemKey != "" {
			req.Header.Set("X-Idempotency-Key", idemKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if retryableStatus(resp.StatusCode) {
			lastErr = &statusError{method: method, path: path, code: resp.StatusCode}
			continue
		}
		if resp.StatusCode >= 300 {
			return &statusError{method: method, path: path, code: resp.StatusCode}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil
	}
	return fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.cfg.MaxRetries+1, lastErr)
}

type wireOrder struct {
	ID       string    `json:"id"`
	Pair     string    `json:"pair"`
	Side     string    `json:"side"`
	Type     string    `json:"type"`
	Quantity flexFloat `json:"quantity"`
	Price    flexFloat `json:"price"`
	Status   string    `json:"status"`
}

func (w wireOrder) toOrder() Order {
	return Order{
		ID:       w.ID,
		Pair:     w.Pair,
		Side:     market.Side(w.Side),
		Type:     w.Type,
		Quantity: float64(w.Quantity),
		Price:    float64(w.Price),
		State:    parseState(w.Status),
	}
}

// flexFloat 兼容数字与字符串两种编码的数值字段，
// 不同交易所对 price/quantity 的序列化并不一致。
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type statusError struct {
	method string
	path   string
	code   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.method, e.path, e.code)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

// SyntheticBook 深度源全部失效时按现价构造的保底订单簿，
// 点差 0.1%，五档，量逐档递减 10%。
func SyntheticBook(price float64, levels int) market.OrderBook {
	if price <= 0 || levels <= 0 {
		return market.OrderBook{}
	}
	spread := price * syntheticSpreadPercent
	book := market.OrderBook{
		Bids: make([]market.BookEntry, 0, levels),
		Asks: make([]market.BookEntry, 0, levels),
	}
	for i := 0; i < levels; i++ {
		volume := syntheticBaseVolume * (1 - float64(i)*0.1)
		step := spread * float64(i+1)
		book.Bids = append(book.Bids, market.BookEntry{Price: price - step, Volume: volume})
		book.Asks = append(book.Asks, market.BookEntry{Price: price + step, Volume: volume})
	}
	return book
}
