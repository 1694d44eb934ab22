package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/sim"
)

// 一个极简的本地模拟：随机游走生成行情，驱动完整的网格引擎与账本。
// 交易参数沿用默认配置，可通过命令行调整；不会连接真实交易所。
func main() {
	pair := flag.String("pair", "SIMUSDC", "trading pair")
	steps := flag.Int("steps", 500, "number of price steps to simulate")
	start := flag.Float64("start", 100, "starting price")
	vol := flag.Float64("vol", 0.002, "per-step volatility (e.g. 0.002=20bps)")
	drift := flag.Float64("drift", 0, "per-step drift, negative for a falling market")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed, fixed seed reproduces the path")
	capital := flag.Float64("capital", 250, "account capital in quote currency")
	flag.Parse()

	def := config.Default()
	def.Trading.Capital = *capital

	runner, err := sim.BuildRunner(sim.RunnerConfig{
		Trading:        def.Trading,
		Sizing:         def.Sizing,
		Pair:           *pair,
		Steps:          *steps,
		StartPrice:     *start,
		StepVolatility: *vol,
		Drift:          *drift,
		Seed:           *seed,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build runner: %v\n", err)
		os.Exit(1)
	}

	rep, err := runner.Run(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("steps=%d fills=%d halted=%v\n", rep.Steps, rep.Fills, rep.Halted)
	fmt.Printf("price %.4f -> %.4f\n", *start, rep.FinalPrice)
	m := rep.Summary.Metrics
	fmt.Printf("trades=%d win_rate=%.1f%% total_pnl=%.4f max_drawdown=%.4f\n",
		m.TotalTrades, m.WinRate*100, m.TotalPnL, m.MaxDrawdown)
	fmt.Printf("open=%d exposure=%.4f session=%.2fh\n",
		rep.Summary.OpenPositions, rep.Summary.Exposure, rep.Summary.SessionHours)
}
