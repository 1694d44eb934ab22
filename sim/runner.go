// Package sim 在内存撮合器上驱动完整的网格引擎，
// 价格走几何随机游走。不触网，适合离线评估参数。
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"grid-trader-go/gateway"
	"grid-trader-go/internal/engine"
	"grid-trader-go/risk"
)

// Report 一次模拟会话的结果。
type Report struct {
	Steps      int
	Fills      int
	Halted     bool
	FinalPrice float64
	Summary    risk.Summary
}

// Runner 把价格序列、撮合和引擎结算串起来。
type Runner struct {
	cfg    RunnerConfig
	paper  *gateway.PaperExchange
	ledger *risk.Ledger
	eng    *engine.Engine
	rng    *rand.Rand
	price  float64
	idx    int // 回放模式的读取位置
}

// Run 执行模拟。每一步推进一次价格，撮合出的成交等引擎
// 结算完再走下一步，风控熔断会提前终止。
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if err := r.eng.Start(ctx); err != nil {
		return Report{}, fmt.Errorf("start engine: %w", err)
	}

	rep := Report{}
	for i := 0; i < r.cfg.Steps; i++ {
		if r.stopped() || ctx.Err() != nil {
			break
		}
		fills := r.paper.Advance(r.nextPrice())
		rep.Fills += len(fills)
		rep.Steps++
		if len(fills) > 0 {
			r.waitSettled(ctx, fills)
		}
	}

	if r.eng.GetState() == engine.StateRunning {
		if err := r.eng.Stop(); err != nil {
			return rep, fmt.Errorf("stop engine: %w", err)
		}
	} else {
		rep.Halted = true
	}
	rep.FinalPrice = r.price
	rep.Summary = r.ledger.Summary()
	return rep, nil
}

func (r *Runner) stopped() bool {
	select {
	case <-r.eng.Done():
		return true
	default:
		return false
	}
}

// nextPrice 回放模式照单全收，否则走几何随机游走：
// S' = S × (1 + μ + σ·N(0,1))。
func (r *Runner) nextPrice() float64 {
	if len(r.cfg.Prices) > 0 {
		r.price = r.cfg.Prices[r.idx]
		r.idx++
		return r.price
	}
	step := 1 + r.cfg.Drift + r.cfg.StepVolatility*r.rng.NormFloat64()
	if step < 0.01 {
		step = 0.01
	}
	r.price *= step
	return r.price
}

// waitSettled 等引擎把这批成交记完账，避免价格跑在结算前面。
func (r *Runner) waitSettled(ctx context.Context, fills []gateway.Order) {
	deadline := time.After(500 * time.Millisecond)
	for {
		settled := true
		for _, o := range fills {
			pos, ok := r.ledger.Get(o.ID)
			if !ok || !pos.Terminal() {
				settled = false
				break
			}
		}
		if settled {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-r.eng.Done():
			return
		case <-deadline:
			return
		case <-time.After(time.Millisecond):
		}
	}
}
