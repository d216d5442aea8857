package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetguard/common/logger"
	"fleetguard/internal/config"
	"fleetguard/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zlog, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "fleetguard-dispatch")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	zlog.Info("Starting fleetguard-dispatch service",
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.Strings("mqtt_topics", cfg.MQTT.Topics),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.Float64("geofence_radius_m", cfg.Geofence.RadiusMeters),
	)

	// 创建服务
	dispatchService, err := service.NewDispatchService(cfg, zlog)
	if err != nil {
		zlog.Fatal("Failed to create dispatch service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := dispatchService.Start(ctx); err != nil {
			zlog.Fatal("Failed to start dispatch service", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zlog.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := dispatchService.Stop(shutdownCtx); err != nil {
		zlog.Error("Error during shutdown", zap.Error(err))
	}

	zlog.Info("Service stopped")
}
