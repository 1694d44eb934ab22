package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"grid-trader-go/monitor/logschema"
	"grid-trader-go/risk"
)

type fillStats struct {
	fills        int
	wins         int
	buyNotional  float64
	sellNotional float64
	realizedPnL  float64
	best         float64
	worst        float64
}

func (s *fillStats) add(side string, price, qty, pnl float64) {
	if qty <= 0 || price <= 0 {
		return
	}
	s.fills++
	if pnl > 0 {
		s.wins++
	}
	notional := price * qty
	switch strings.ToLower(side) {
	case "buy":
		s.buyNotional += notional
	case "sell":
		s.sellNotional += notional
	}
	s.realizedPnL += pnl
	if pnl > s.best {
		s.best = pnl
	}
	if pnl < s.worst {
		s.worst = pnl
	}
}

func main() {
	historyPath := flag.String("history", "trading_history.json", "绩效历史文件路径")
	logPath := flag.String("log", "", "扫描运行日志统计成交明细 (可选)")
	sinceStr := flag.String("since", "", "仅统计此时间之后的成交 (RFC3339，例如 2026-08-01T00:00:00Z)")
	flag.Parse()

	var since time.Time
	var err error
	if *sinceStr != "" {
		since, err = time.Parse(time.RFC3339Nano, *sinceStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析 since 参数失败: %v\n", err)
			os.Exit(1)
		}
	}

	history, err := risk.ReadHistory(*historyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取绩效历史失败: %v\n", err)
		os.Exit(1)
	}
	printHistory(*historyPath, history)

	if *logPath != "" {
		st, err := scanFills(*logPath, since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取日志出错: %v\n", err)
			os.Exit(1)
		}
		printFills(*logPath, since, st)
	}
}

func printHistory(path string, h risk.History) {
	m := h.Metrics
	fmt.Printf("绩效历史: %s\n", path)
	fmt.Printf("  累计盈亏:   %.4f USDC\n", m.TotalPnL)
	fmt.Printf("  当日盈亏:   %.4f USDC\n", m.DailyPnL)
	fmt.Printf("  最大回撤:   %.4f USDC\n", m.MaxDrawdown)
	fmt.Printf("  总成交:     %d (胜 %d / 负 %d)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Printf("  胜率:       %.1f%%\n", m.WinRate*100)
	if h.LastUpdated != "" {
		fmt.Printf("  更新时间:   %s\n", h.LastUpdated)
	}
}

// scanFills 逐行解析 JSON 日志，只聚合通过字段校验的 fill_event 记录。
func scanFills(path string, since time.Time) (fillStats, error) {
	st := fillStats{}

	f, err := os.Open(path)
	if err != nil {
		return st, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "{")
		if idx == -1 {
			continue
		}
		var evt map[string]interface{}
		if err := json.Unmarshal([]byte(line[idx:]), &evt); err != nil {
			continue
		}
		msg, _ := evt["msg"].(string)
		if msg != "fill_event" {
			continue
		}
		// 字段不全的行按损坏处理，跳过
		if logschema.Validate(msg, evt) != nil {
			continue
		}
		if !since.IsZero() {
			if tsStr, ok := evt["ts"].(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, tsStr); err == nil && ts.Before(since) {
					continue
				}
			}
		}
		side, _ := evt["side"].(string)
		st.add(side, toFloat(evt["fill_price"]), toFloat(evt["quantity"]), toFloat(evt["pnl"]))
	}
	return st, scanner.Err()
}

func printFills(path string, since time.Time, st fillStats) {
	fmt.Printf("成交明细: %s\n", path)
	if !since.IsZero() {
		fmt.Printf("  起始时间:   %s\n", since.Format(time.RFC3339))
	}
	fmt.Printf("  成交笔数:   %d\n", st.fills)
	if st.fills > 0 {
		fmt.Printf("  胜率:       %.1f%%\n", float64(st.wins)/float64(st.fills)*100)
	}
	fmt.Printf("  买入名义:   %.4f USDC\n", st.buyNotional)
	fmt.Printf("  卖出名义:   %.4f USDC\n", st.sellNotional)
	fmt.Printf("  已实现盈亏: %.6f USDC\n", st.realizedPnL)
	fmt.Printf("  最佳/最差:  %.4f / %.4f USDC\n", st.best, st.worst)
}

func toFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
