package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"grid-trader-go/infrastructure/logger"
)

const (
	wsReadTimeout      = 30 * time.Second
	maxReconnectDelay  = 30 * time.Second
	defaultStaleAfter  = 5 * time.Second
	defaultReconnDelay = 3 * time.Second
)

var errNotTicker = errors.New("not a ticker message")

// FeedConfig 行情推送参数。
type FeedConfig struct {
	Endpoint       string // wss:// 地址
	Pair           string
	StaleAfter     time.Duration // 超过该时长未更新则视为失效
	ReconnectDelay time.Duration
}

// PriceFeed 订阅 ticker combined stream，维护最近成交价。
// 断线自动重连，价格过期时 Last 返回 false，调用方回退 REST。
type PriceFeed struct {
	cfg    FeedConfig
	log    *logger.Logger
	dialer *websocket.Dialer

	priceBits atomic.Uint64
	updatedNS atomic.Int64

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPriceFeed(cfg FeedConfig, log *logger.Logger) *PriceFeed {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnDelay
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PriceFeed{
		cfg:    cfg,
		log:    log,
		dialer: websocket.DefaultDialer,
	}
}

// Start 后台启动连接循环。
func (f *PriceFeed) Start() error {
	if f.cfg.Endpoint == "" || f.cfg.Pair == "" {
		return fmt.Errorf("price feed requires endpoint and pair")
	}
	if _, err := url.Parse(f.cfg.Endpoint); err != nil {
		return fmt.Errorf("bad feed endpoint: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.run(ctx)
	return nil
}

// Stop 关闭连接并等待循环退出。
func (f *PriceFeed) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.mu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.mu.Unlock()
	<-f.done
}

// Last 返回最近成交价。从未收到或已过期时 ok 为 false。
func (f *PriceFeed) Last() (float64, bool) {
	bits := f.priceBits.Load()
	if bits == 0 {
		return 0, false
	}
	at := time.Unix(0, f.updatedNS.Load())
	if time.Since(at) > f.cfg.StaleAfter {
		return 0, false
	}
	return math.Float64frombits(bits), true
}

func (f *PriceFeed) store(px float64) {
	f.priceBits.Store(math.Float64bits(px))
	f.updatedNS.Store(time.Now().UnixNano())
}

func (f *PriceFeed) streamURL() string {
	u, _ := url.Parse(f.cfg.Endpoint)
	u.Path = "/stream"
	q := u.Query()
	q.Set("streams", strings.ToLower(f.cfg.Pair)+"@ticker")
	u.RawQuery = q.Encode()
	return u.String()
}

func (f *PriceFeed) run(ctx context.Context) {
	defer close(f.done)
	retries := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := f.dialer.DialContext(ctx, f.streamURL(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			retries++
			delay := time.Duration(retries) * f.cfg.ReconnectDelay
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			f.log.Warn("price feed dial failed",
				zap.Int("retries", retries), zap.Duration("retry_in", delay), zap.Error(err))
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		retries = 0
		f.log.Info("price feed connected", zap.String("pair", f.cfg.Pair))

		f.readLoop(conn)

		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		f.log.Warn("price feed disconnected, reconnecting")
		if !sleepCtx(ctx, f.cfg.ReconnectDelay) {
			return
		}
	}
}

func (f *PriceFeed) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		px, err := parseTickerPrice(msg)
		if errors.Is(err, errNotTicker) {
			continue
		}
		if err != nil {
			f.log.Debug("bad ticker message", zap.Error(err))
			continue
		}
		f.store(px)
	}
}

// parseTickerPrice 兼容 combined 包裹与平铺两种消息形态。
func parseTickerPrice(msg []byte) (float64, error) {
	var frame struct {
		Data struct {
			Price json.Number `json:"price"`
		} `json:"data"`
		Price json.Number `json:"price"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return 0, err
	}
	num := frame.Data.Price
	if num == "" {
		num = frame.Price
	}
	if num == "" {
		return 0, errNotTicker
	}
	px, err := num.Float64()
	if err != nil || px <= 0 || math.IsNaN(px) || math.IsInf(px, 0) {
		return 0, fmt.Errorf("bad ticker price %q", num)
	}
	return px, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
