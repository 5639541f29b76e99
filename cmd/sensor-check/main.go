// sensor-check 台架检查工具：读取 IMU 与超声波传感器若干秒，打印读数后退出
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-assist/internal/common/logger"
	"wisefido-assist/internal/config"
	"wisefido-assist/internal/detector"
	"wisefido-assist/internal/filter"
	"wisefido-assist/internal/hardware"
	"wisefido-assist/internal/models"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, "console", "sensor-check", "")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	duration := 30 * time.Second
	if v := os.Getenv("CHECK_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			duration = d
		}
	}

	if err := hardware.InitHost(); err != nil {
		zapLogger.Fatal("Failed to initialize host drivers", zap.Error(err))
	}

	var imu hardware.IMU
	if cfg.IMU.Enabled {
		mpu, err := hardware.OpenMPU9250(cfg.IMU.Bus, cfg.IMU.Addr, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to open IMU", zap.Error(err))
		}
		defer mpu.Close()
		imu = mpu
		if temp, err := mpu.ReadTemperature(); err == nil {
			fmt.Printf("IMU temperature: %.1f°C\n", temp)
		}
	}

	var rf hardware.Rangefinder
	if cfg.Ultrasonic.Enabled {
		sr, err := hardware.OpenHCSR04(cfg.Ultrasonic.TrigPin, cfg.Ultrasonic.EchoPin, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to open ultrasonic sensor", zap.Error(err))
		}
		defer sr.Close()
		rf = sr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	fmt.Printf("Reading sensors for %s (Ctrl+C to stop early)\n", duration)
	falls, misses := run(ctx, cfg, imu, rf, zapLogger)
	fmt.Printf("Done. Fall-like events: %d, ultrasonic misses: %d\n", falls, misses)
}

// run 以配置的采样周期读取传感器，每秒打印一次
func run(ctx context.Context, cfg *config.Config, imu hardware.IMU, rf hardware.Rangefinder, logger *zap.Logger) (falls, misses int) {
	check := detector.NewSimpleFallCheck(cfg.Fall.Thresholds(), logger)
	median := filter.NewMedianFilter(cfg.Filter.Window)

	imuTicker := time.NewTicker(cfg.IMU.PollInterval)
	defer imuTicker.Stop()
	rangeTicker := time.NewTicker(cfg.Ultrasonic.PollInterval)
	defer rangeTicker.Stop()
	printTicker := time.NewTicker(time.Second)
	defer printTicker.Stop()

	var accel, gyro models.Vec3
	distance := -1.0

	for {
		select {
		case <-ctx.Done():
			return falls, misses

		case now := <-imuTicker.C:
			if imu == nil {
				continue
			}
			a, err := imu.ReadAcceleration()
			if err != nil {
				logger.Warn("IMU read failed", zap.Error(err))
				continue
			}
			g, err := imu.ReadRotation()
			if err != nil {
				logger.Warn("IMU read failed", zap.Error(err))
				continue
			}
			accel, gyro = a, g
			if evt := check.Update(a, g, now); evt != nil {
				falls++
				fmt.Printf("  >> fall-like event: accel=%.2fg rotation=%.1f°/s\n", evt.AccelMagnitude, evt.RotationMagnitude)
			}

		case <-rangeTicker.C:
			if rf == nil {
				continue
			}
			cm, ok, err := rf.MeasureDistanceCM(cfg.Ultrasonic.MaxDistanceCM)
			if err != nil {
				logger.Warn("Ultrasonic read failed", zap.Error(err))
				continue
			}
			if !ok {
				misses++
				continue
			}
			if v, ok := median.Apply(cm); ok {
				distance = v
			}

		case <-printTicker.C:
			line := fmt.Sprintf("accel=%.2fg rotation=%.1f°/s", accel.Magnitude(), gyro.Magnitude())
			if distance >= 0 {
				feet := models.CMToFeet(distance)
				line += fmt.Sprintf(" distance=%.1fcm (%.1fft, %s)", distance, feet, detector.Describe(feet))
			} else {
				line += " distance=n/a"
			}
			fmt.Println(line)
		}
	}
}
