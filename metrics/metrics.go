// Package metrics provides Prometheus metrics for the grid trader
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_trades_total",
		Help: "已结算笔数(按盈亏结果)",
	}, []string{"result"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_orders_placed_total",
		Help: "下单数量(按方向)",
	}, []string{"side"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_gateway_errors_total",
		Help: "交易所请求失败数量(按操作)",
	}, []string{"op"})

	TotalPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_total_pnl",
		Help: "累计已实现盈亏",
	})

	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_daily_pnl",
		Help: "当日已实现盈亏",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_open_positions",
		Help: "当前持仓笔数",
	})

	Exposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_exposure",
		Help: "当前敞口(名义价值)",
	})

	GridLevels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_levels",
		Help: "当前网格层数(单侧)",
	})

	CurrentPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_price",
		Help: "最近一次行情价",
	})

	Halted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_halted",
		Help: "风控停机标志(0=运行,1=停机)",
	})
)

// UpdateLedgerMetrics 同步账本侧指标
func UpdateLedgerMetrics(totalPnL, dailyPnL float64, openPositions int, exposure float64) {
	TotalPnL.Set(totalPnL)
	DailyPnL.Set(dailyPnL)
	OpenPositions.Set(float64(openPositions))
	Exposure.Set(exposure)
}

// IncrementTrade 记录一笔结算
func IncrementTrade(win bool) {
	result := "loss"
	if win {
		result = "win"
	}
	TradesTotal.WithLabelValues(result).Inc()
}

// IncrementOrder 记录一次下单
func IncrementOrder(side string) {
	OrdersPlaced.WithLabelValues(side).Inc()
}

// IncrementGatewayError 记录一次交易所请求失败
func IncrementGatewayError(op string) {
	GatewayErrors.WithLabelValues(op).Inc()
}

// SetHalted 设置风控停机标志
func SetHalted(halted bool) {
	if halted {
		Halted.Set(1)
		return
	}
	Halted.Set(0)
}

// Handler 返回指标的HTTP处理器，挂在 /metrics 路径下
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) {
	go func() {
		_ = http.ListenAndServe(addr, Handler())
	}()
}
