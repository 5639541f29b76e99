package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"wisefido-assist/internal/common/logger"
	"wisefido-assist/internal/config"
	"wisefido-assist/internal/hardware"
	"wisefido-assist/internal/models"
	"wisefido-assist/internal/service"

	"go.uber.org/zap"
)

func main() {
	simulate := flag.Bool("simulate", false, "use simulated sensors instead of I2C/GPIO hardware")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-assist", cfg.Log.File)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting wisefido-assist service",
		zap.String("device_id", cfg.DeviceID),
		zap.String("fall_mode", cfg.Fall.Mode),
		zap.Bool("imu", cfg.IMU.Enabled),
		zap.Bool("ultrasonic", cfg.Ultrasonic.Enabled),
		zap.String("event_log", cfg.EventLog.Path),
		zap.Bool("simulate", *simulate),
	)

	var opts []service.Option
	if *simulate {
		opts = append(opts,
			service.WithIMU(hardware.NewSimulatedIMU()),
			service.WithRangefinder(hardware.NewSimulatedRangefinder(hardware.Distances(
				models.FeetToCM(8), models.FeetToCM(6), models.FeetToCM(4), models.FeetToCM(2),
			)...)),
		)
	}

	// 创建服务（传感器初始化失败直接退出）
	assistService, err := service.NewAssistService(cfg, zapLogger, opts...)
	if err != nil {
		zapLogger.Fatal("Failed to create assist service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := assistService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start assist service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := assistService.Stop(context.Background()); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
