package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
)

// 紧急清场工具：撤掉交易对上的全部挂单。
// 引擎异常退出后网格单可能还挂在交易所，跑一次这个再重启。
func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	pair := flag.String("pair", "", "交易对，默认取配置里的 pair")
	dryRun := flag.Bool("dry-run", false, "只列出挂单，不实际取消")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *pair != "" {
		cfg.Pair = *pair
	}

	client := gateway.NewRESTClient(gateway.RESTConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		Timeout:    cfg.Exchange.Timeout,
		DepthLimit: cfg.Exchange.DepthLimit,
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fmt.Printf("🔸 查询 %s 挂单...\n", cfg.Pair)
	orders, err := client.OpenOrders(ctx, cfg.Pair)
	if err != nil {
		log.Fatalf("查询挂单失败: %v", err)
	}
	if len(orders) == 0 {
		fmt.Println("✅ 没有挂单，无需清理")
		return
	}

	if *dryRun {
		fmt.Printf("🔸 dry-run: 将取消以下 %d 笔挂单\n", len(orders))
		for _, o := range orders {
			fmt.Printf("  %s %s %.6f @ %.4f\n", o.ID, o.Side, o.Quantity, o.Price)
		}
		return
	}

	fmt.Printf("🔸 取消 %d 笔挂单...\n", len(orders))
	failed := 0
	for _, o := range orders {
		if err := client.Cancel(ctx, o.ID); err != nil {
			failed++
			log.Printf("取消 %s 失败 (%s %.6f @ %.4f): %v", o.ID, o.Side, o.Quantity, o.Price, err)
		}
	}

	if failed > 0 {
		log.Fatalf("%d 笔取消失败，请手动处理", failed)
	}
	fmt.Printf("✅ 已取消全部 %d 笔挂单\n", len(orders))
}
