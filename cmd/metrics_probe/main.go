package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"grid-trader-go/metrics"
)

func main() {
	addr := flag.String("metricsAddr", ":9090", "Prometheus 指标监听地址")
	price := flag.Float64("price", 98.5, "模拟行情价")
	levels := flag.Int("levels", 15, "模拟网格层数(单侧)")
	pnl := flag.Float64("pnl", 0.0, "模拟累计盈亏")
	open := flag.Int("open", 30, "模拟持仓笔数")
	halted := flag.Bool("halted", false, "是否模拟风控停机")
	flag.Parse()

	metrics.StartMetricsServer(*addr)
	fmt.Printf("metrics_probe started at %s\n", *addr)

	// 额外注册一个探针指标，确保 /metrics 可见 grid_* 前缀
	probe := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grid_probe_test",
		Help: "Probe test metric",
	})
	prometheus.MustRegister(probe)
	probe.Set(1)

	// 初始设置一批核心指标，便于 Prometheus/Grafana 验证
	metrics.CurrentPrice.Set(*price)
	metrics.GridLevels.Set(float64(*levels))
	metrics.UpdateLedgerMetrics(*pnl, *pnl, *open, *price*float64(*open)*0.075)
	metrics.SetHalted(*halted)
	metrics.IncrementTrade(true)
	metrics.IncrementTrade(false)
	metrics.IncrementOrder("buy")
	metrics.IncrementOrder("sell")

	// 周期性微调，观察值变化
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	boost := 0.0
	for range ticker.C {
		boost += 0.01
		metrics.CurrentPrice.Set(*price + boost)
		metrics.UpdateLedgerMetrics(*pnl+boost, *pnl+boost, *open, (*price+boost)*float64(*open)*0.075)
	}
}
