package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"grid-trader-go/config"
	"grid-trader-go/sim"
)

type summary struct {
	Pair           string
	Count          int
	Fills          int
	Trades         int
	WinRate        float64
	TotalPnL       float64
	Min            float64
	Max            float64
	Mean           float64
	MaxDrawdownPct float64
	FinalPrice     float64
	Halted         bool
}

// 历史价格回放：把 CSV 价格序列逐条喂给真实网格引擎。
// 用法：
//
//	go run ./cmd/backtest -config configs/config.yaml -prices SOLUSDC:data/sol.csv,ETHUSDC:data/eth.csv -out summaries.csv
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	priceFiles := flag.String("prices", "SOLUSDC:data/prices.csv", "pair:csv 列表，逗号分隔")
	outPath := flag.String("out", "", "若指定则写入 CSV 汇总")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	entries := parsePriceFiles(*priceFiles)
	if len(entries) == 0 {
		log.Fatal("未指定任何 pair:csv")
	}

	var summaries []summary
	for _, entry := range entries {
		pair := strings.ToUpper(entry.pair)
		prices, err := loadPrices(entry.path)
		if err != nil {
			log.Printf("pair %s 读取 %s 失败: %v", pair, entry.path, err)
			continue
		}
		if len(prices) == 0 {
			log.Printf("pair %s 数据为空: %s", pair, entry.path)
			continue
		}

		runner, err := sim.BuildRunner(sim.RunnerConfig{
			Trading: cfg.Trading,
			Sizing:  cfg.Sizing,
			Pair:    pair,
			Prices:  prices,
		})
		if err != nil {
			log.Printf("pair %s 构建回放失败: %v", pair, err)
			continue
		}
		rep, err := runner.Run(context.Background())
		if err != nil {
			log.Printf("pair %s 回放失败: %v", pair, err)
			continue
		}

		stats := computeStats(prices)
		m := rep.Summary.Metrics
		sum := summary{
			Pair:           pair,
			Count:          len(prices),
			Fills:          rep.Fills,
			Trades:         m.TotalTrades,
			WinRate:        m.WinRate,
			TotalPnL:       m.TotalPnL,
			Min:            stats.Min,
			Max:            stats.Max,
			Mean:           stats.Mean,
			MaxDrawdownPct: stats.MaxDrawdownPct,
			FinalPrice:     rep.FinalPrice,
			Halted:         rep.Halted,
		}
		log.Printf("pair=%s prices=%d fills=%d trades=%d pnl=%.4f min=%.4f max=%.4f mean=%.4f maxDD=%.4f%% halted=%v",
			pair, sum.Count, sum.Fills, sum.Trades, sum.TotalPnL, sum.Min, sum.Max, sum.Mean, sum.MaxDrawdownPct, sum.Halted)
		summaries = append(summaries, sum)
	}

	if *outPath != "" {
		if err := writeSummaryCSV(*outPath, summaries); err != nil {
			log.Printf("写入汇总 CSV 失败: %v", err)
		} else {
			log.Printf("已写入汇总: %s", *outPath)
		}
	}
}

type priceFile struct {
	pair string
	path string
}

func parsePriceFiles(arg string) []priceFile {
	if strings.TrimSpace(arg) == "" {
		return nil
	}
	parts := strings.Split(arg, ",")
	var out []priceFile
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		items := strings.SplitN(p, ":", 2)
		if len(items) != 2 {
			continue
		}
		out = append(out, priceFile{pair: strings.TrimSpace(items[0]), path: strings.TrimSpace(items[1])})
	}
	return out
}

type statsResult struct {
	Min            float64
	Max            float64
	Mean           float64
	MaxDrawdownPct float64
}

func computeStats(series []float64) statsResult {
	if len(series) == 0 {
		return statsResult{}
	}
	min, max := series[0], series[0]
	sum := 0.0
	peak := series[0]
	maxDD := 0.0
	for _, v := range series {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
		if v > peak {
			peak = v
		}
		if peak != 0 {
			dd := (peak - v) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return statsResult{
		Min:            min,
		Max:            max,
		Mean:           sum / float64(len(series)),
		MaxDrawdownPct: maxDD,
	}
}

func loadPrices(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func writeSummaryCSV(path string, sums []summary) error {
	if len(sums) == 0 {
		return fmt.Errorf("no summary data")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	header := []string{"pair", "count", "fills", "trades", "winRate", "totalPnl", "min", "max", "mean", "maxDrawdownPct", "finalPrice", "halted"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, s := range sums {
		record := []string{
			s.Pair,
			fmt.Sprintf("%d", s.Count),
			fmt.Sprintf("%d", s.Fills),
			fmt.Sprintf("%d", s.Trades),
			fmt.Sprintf("%.4f", s.WinRate),
			fmt.Sprintf("%.6f", s.TotalPnL),
			fmt.Sprintf("%.6f", s.Min),
			fmt.Sprintf("%.6f", s.Max),
			fmt.Sprintf("%.6f", s.Mean),
			fmt.Sprintf("%.6f", s.MaxDrawdownPct),
			fmt.Sprintf("%.6f", s.FinalPrice),
			fmt.Sprintf("%v", s.Halted),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}
