package service

import (
	"context"
	"fmt"
	"time"

	"wisefido-assist/internal/announcer"
	"wisefido-assist/internal/common/database"
	"wisefido-assist/internal/common/mqtt"
	rediscommon "wisefido-assist/internal/common/redis"
	"wisefido-assist/internal/config"
	"wisefido-assist/internal/detector"
	"wisefido-assist/internal/filter"
	"wisefido-assist/internal/hardware"
	"wisefido-assist/internal/monitor"
	"wisefido-assist/internal/sink"

	"go.uber.org/zap"
)

// connectTimeout 可选接收端建立连接的等待上限
const connectTimeout = 5 * time.Second

// Option 服务构建选项
type Option func(*options)

type options struct {
	imu         hardware.IMU
	rangefinder hardware.Rangefinder
	now         func() time.Time
}

// WithIMU 使用给定的 IMU（模拟运行或测试），不再打开 I2C 设备
func WithIMU(imu hardware.IMU) Option {
	return func(o *options) { o.imu = imu }
}

// WithRangefinder 使用给定的测距传感器，不再打开 GPIO
func WithRangefinder(rf hardware.Rangefinder) Option {
	return func(o *options) { o.rangefinder = rf }
}

// WithClock 替换监测循环的时钟
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// AssistService 辅助设备传感器监测服务
type AssistService struct {
	config    *config.Config
	logger    *zap.Logger
	imu       hardware.IMU
	rf        hardware.Rangefinder
	monitor   *monitor.Monitor
	announcer *announcer.Announcer
	sinks     []sink.Sink
}

// NewAssistService 创建服务：打开传感器、选择跌倒检测策略、按配置创建接收端并注册
func NewAssistService(cfg *config.Config, logger *zap.Logger, opts ...Option) (*AssistService, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	s := &AssistService{
		config: cfg,
		logger: logger,
	}

	// 1. 打开传感器（失败即退出，不做静默重试）
	if err := s.openSensors(o); err != nil {
		s.closeHardware()
		return nil, err
	}

	// 2. 监测循环
	s.monitor = monitor.NewMonitor(monitor.Options{
		ReadBackoff:    cfg.Monitor.ReadBackoff,
		QueueSize:      cfg.Monitor.QueueSize,
		EnqueueTimeout: cfg.Monitor.EnqueueTimeout,
		OfflineAfter:   cfg.Monitor.OfflineAfter,
		Now:            o.now,
	}, logger)

	if s.imu != nil {
		det := detector.NewFallDetector(cfg.Fall.Mode, cfg.Fall.Thresholds(), logger)
		if err := s.monitor.AddIMU(s.imu, det, cfg.IMU.PollInterval); err != nil {
			s.closeHardware()
			return nil, err
		}
		logger.Info("Fall detection enabled", zap.String("mode", det.Mode()))
	}
	if s.rf != nil {
		if err := s.monitor.AddRangefinder(
			s.rf,
			filter.NewMedianFilter(cfg.Filter.Window),
			detector.NewDistanceWatcher(cfg.Distance.ThresholdFeet),
			cfg.Ultrasonic.PollInterval,
			cfg.Ultrasonic.MaxDistanceCM,
		); err != nil {
			s.closeHardware()
			return nil, err
		}
	}

	// 3. 语音播报（先注册，跌倒提示不等待网络接收端）
	if cfg.Announcer.Enabled {
		speaker, err := s.newSpeaker()
		if err != nil {
			s.closeHardware()
			return nil, err
		}
		s.announcer = announcer.NewAnnouncer(speaker, cfg.Announcer.QueueSize, cfg.Announcer.SpeakTimeout, logger)
		if err := s.monitor.Register("announcer", s.announcer.Handle); err != nil {
			s.closeAll()
			return nil, err
		}
	}

	// 4. 事件接收端（网络接收端各自排队写入，不占用分发 goroutine）
	if err := s.openSinks(); err != nil {
		s.closeAll()
		return nil, err
	}
	for _, sk := range s.sinks {
		if err := s.monitor.Register(sk.Name(), sink.AsHandler(sk)); err != nil {
			s.closeAll()
			return nil, err
		}
	}

	return s, nil
}

func (s *AssistService) openSensors(o *options) error {
	cfg := s.config

	needHost := (cfg.IMU.Enabled && o.imu == nil) || (cfg.Ultrasonic.Enabled && o.rangefinder == nil)
	if needHost {
		if err := hardware.InitHost(); err != nil {
			return err
		}
	}

	if cfg.IMU.Enabled {
		if o.imu != nil {
			s.imu = o.imu
		} else {
			imu, err := hardware.OpenMPU9250(cfg.IMU.Bus, cfg.IMU.Addr, s.logger)
			if err != nil {
				return fmt.Errorf("failed to open IMU: %w", err)
			}
			s.imu = imu
		}
	} else {
		s.logger.Info("IMU disabled")
	}

	if cfg.Ultrasonic.Enabled {
		if o.rangefinder != nil {
			s.rf = o.rangefinder
		} else {
			rf, err := hardware.OpenHCSR04(cfg.Ultrasonic.TrigPin, cfg.Ultrasonic.EchoPin, s.logger)
			if err != nil {
				return fmt.Errorf("failed to open ultrasonic sensor: %w", err)
			}
			s.rf = rf
		}
	} else {
		s.logger.Info("Ultrasonic sensor disabled")
	}

	return nil
}

func (s *AssistService) newSpeaker() (announcer.Speaker, error) {
	if s.config.Announcer.Command == "" {
		return announcer.NewLogSpeaker(s.logger), nil
	}
	speaker, err := announcer.NewCommandSpeaker(s.config.Announcer.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to create speaker: %w", err)
	}
	return speaker, nil
}

// openSinks 事件日志打开失败是致命错误；网络接收端连接失败只告警并跳过
//
// 事件日志在分发 goroutine 上同步写入；网络接收端经 AsyncSink 排队，每次写入有期限。
func (s *AssistService) openSinks() error {
	cfg := s.config

	if cfg.EventLog.Path != "" {
		fileSink, err := sink.NewFileSink(cfg.EventLog.Path, s.logger)
		if err != nil {
			return err
		}
		s.sinks = append(s.sinks, fileSink)
	}

	if cfg.Redis.Enabled {
		client := rediscommon.NewRedisClient(&cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		err := rediscommon.Ping(ctx, client)
		cancel()
		if err != nil {
			s.logger.Warn("Redis unavailable, stream sink disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			rediscommon.Close(client)
		} else {
			s.sinks = append(s.sinks, s.queued(sink.NewRedisStreamSink(client, cfg.Redis.Stream, s.logger)))
		}
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.NewClient(&cfg.MQTT, s.logger)
		if err != nil {
			s.logger.Warn("MQTT unavailable, MQTT sink disabled", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		} else {
			s.sinks = append(s.sinks, s.queued(sink.NewMQTTSink(client, cfg.MQTT.Topic, cfg.DeviceID, cfg.MQTT.QoS, s.logger)))
		}
	}

	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			s.logger.Warn("Database unavailable, postgres sink disabled", zap.String("host", cfg.Database.Host), zap.Error(err))
		} else {
			pgSink := sink.NewPostgresSink(db, cfg.DeviceID, s.logger)
			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			err := pgSink.EnsureSchema(ctx)
			cancel()
			if err != nil {
				s.logger.Warn("Failed to prepare event table, postgres sink disabled", zap.Error(err))
				pgSink.Close()
			} else {
				s.sinks = append(s.sinks, s.queued(pgSink))
			}
		}
	}

	if cfg.Webhook.Enabled {
		s.sinks = append(s.sinks, s.queued(sink.NewWebhookSink(cfg.Webhook.URL, cfg.DeviceID, cfg.Webhook.Timeout, s.logger)))
	}

	names := make([]string, 0, len(s.sinks))
	for _, sk := range s.sinks {
		names = append(names, sk.Name())
	}
	s.logger.Info("Event sinks ready", zap.Strings("sinks", names))
	return nil
}

// queued 网络接收端包装为独立队列写入
func (s *AssistService) queued(sk sink.Sink) sink.Sink {
	stats := s.monitor.Stats()
	return sink.NewAsyncSink(sk, s.config.Sinks.QueueSize, s.config.Sinks.WriteTimeout,
		stats.SinkDropped, stats.SinkWriteErrors, s.logger)
}

// Monitor 监测循环
func (s *AssistService) Monitor() *monitor.Monitor {
	return s.monitor
}

// Start 启动服务
func (s *AssistService) Start(ctx context.Context) error {
	s.logger.Info("Starting assist service components",
		zap.String("device_id", s.config.DeviceID),
		zap.Bool("imu", s.imu != nil),
		zap.Bool("ultrasonic", s.rf != nil),
	)

	if err := s.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	s.logger.Info("Assist service started successfully")
	return nil
}

// Stop 停止服务：先停轮询并处理完剩余事件，再关闭播报、接收端与硬件
func (s *AssistService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping assist service")

	s.monitor.Stop()
	s.closeAll()

	s.logger.Info("Assist service stopped", zap.Any("stats", s.monitor.Stats().Snapshot()))
	return nil
}

func (s *AssistService) closeAll() {
	if s.announcer != nil {
		s.announcer.Close()
		s.announcer = nil
	}
	for _, sk := range s.sinks {
		if err := sk.Close(); err != nil {
			s.logger.Error("Error closing sink", zap.String("sink", sk.Name()), zap.Error(err))
		}
	}
	s.sinks = nil
	s.closeHardware()
}

func (s *AssistService) closeHardware() {
	if s.imu != nil {
		if err := s.imu.Close(); err != nil {
			s.logger.Error("Error closing IMU", zap.Error(err))
		}
		s.imu = nil
	}
	if s.rf != nil {
		if err := s.rf.Close(); err != nil {
			s.logger.Error("Error closing ultrasonic sensor", zap.Error(err))
		}
		s.rf = nil
	}
}
