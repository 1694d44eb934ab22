package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"grid-trader-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	checkOnly := flag.Bool("check", false, "只校验配置然后退出")
	paper := flag.Bool("paper", false, "模拟盘：行情走真实网关，订单进内存撮合")
	flag.Parse()

	// .env 不存在时静默跳过
	_ = godotenv.Load()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *checkOnly {
		fmt.Printf("config ok: %s (pair %s)\n", *cfgPath, c.Config().Pair)
		return
	}
	if *paper {
		c.EnablePaperTrading()
	}

	if err := c.Build(); err != nil {
		log.Fatalf("构建组件失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	notifySystemd(ctx, c)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		c.Logger().Info("signal received, shutting down", zap.String("signal", sig.String()))
	case <-c.Engine().Done():
		// 风控熔断会让引擎自行停机
		c.Logger().Info("engine stopped on its own, shutting down")
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	if err := c.Stop(); err != nil {
		os.Exit(1)
	}
}

// notifySystemd 上报就绪状态，启用 watchdog 时按健康检查结果喂狗。
// 没跑在 systemd 下时两个调用都是空操作。
func notifySystemd(ctx context.Context, c *container.Container) {
	if sent, _ := daemon.SdNotify(false, daemon.SdNotifyReady); !sent {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.HealthCheck(); err == nil {
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}
	}()
}
