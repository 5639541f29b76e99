package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"wisefido-assist/internal/common/config"
	"wisefido-assist/internal/detector"

	"gopkg.in/yaml.v3"
)

// Config 辅助设备传感器监测服务配置
type Config struct {
	DeviceID string `yaml:"device_id"`

	IMU        IMUConfig        `yaml:"imu"`
	Fall       FallConfig       `yaml:"fall"`
	Ultrasonic UltrasonicConfig `yaml:"ultrasonic"`
	Filter     FilterConfig     `yaml:"filter"`
	Distance   DistanceConfig   `yaml:"distance"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	EventLog   EventLogConfig   `yaml:"event_log"`
	Announcer  AnnouncerConfig  `yaml:"announcer"`
	Sinks      SinksConfig      `yaml:"sinks"`

	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`
	Webhook  config.WebhookConfig  `yaml:"webhook"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"` // 为空时只输出到 stdout
	} `yaml:"log"`
}

// IMUConfig MPU9250 配置
type IMUConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Bus          string        `yaml:"bus"` // 为空时使用第一条 I2C 总线
	Addr         uint16        `yaml:"addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// FallConfig 跌倒检测配置
type FallConfig struct {
	Mode                 string        `yaml:"mode"` // state_machine | simple
	FreefallG            float64       `yaml:"freefall_g"`
	ImpactG              float64       `yaml:"impact_g"`
	LyingG               float64       `yaml:"lying_g"`
	LyingRotationDPS     float64       `yaml:"lying_rotation_dps"`
	RecoveryG            float64       `yaml:"recovery_g"`
	RecoveryRotationDPS  float64       `yaml:"recovery_rotation_dps"`
	SimpleRotationDPS    float64       `yaml:"simple_rotation_dps"`
	FreefallMinDuration  time.Duration `yaml:"freefall_min"`
	FreefallTimeout      time.Duration `yaml:"freefall_timeout"`
	ImpactSettleDuration time.Duration `yaml:"impact_settle"`
	ImpactTimeout        time.Duration `yaml:"impact_timeout"`
	LyingConfirmDuration time.Duration `yaml:"lying_confirm"`
	Cooldown             time.Duration `yaml:"cooldown"`
}

// UltrasonicConfig HC-SR04 配置
type UltrasonicConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TrigPin       string        `yaml:"trig_pin"`
	EchoPin       string        `yaml:"echo_pin"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxDistanceCM float64       `yaml:"max_distance_cm"`
}

// FilterConfig 中值滤波配置
type FilterConfig struct {
	Window int `yaml:"window"`
}

// DistanceConfig 距离变化检测配置
type DistanceConfig struct {
	ThresholdFeet float64 `yaml:"threshold_ft"`
}

// MonitorConfig 轮询循环配置
type MonitorConfig struct {
	ReadBackoff    time.Duration `yaml:"read_backoff"`
	QueueSize      int           `yaml:"queue_size"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	OfflineAfter   int           `yaml:"offline_after"` // 连续失败多少次后上报离线
}

// EventLogConfig 事件日志配置
type EventLogConfig struct {
	Path string `yaml:"path"` // 为空时不写事件日志
}

// AnnouncerConfig 语音播报配置
type AnnouncerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Command      string        `yaml:"command"` // TTS 命令，为空时只写日志
	QueueSize    int           `yaml:"queue_size"`
	SpeakTimeout time.Duration `yaml:"speak_timeout"` // 单条播报最长时间
}

// SinksConfig 网络接收端（Redis/MQTT/PostgreSQL/Webhook）的写入队列
type SinksConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Thresholds 转换为检测器阈值
func (f FallConfig) Thresholds() detector.FallThresholds {
	return detector.FallThresholds{
		FreefallG:            f.FreefallG,
		ImpactG:              f.ImpactG,
		LyingG:               f.LyingG,
		LyingRotationDPS:     f.LyingRotationDPS,
		RecoveryG:            f.RecoveryG,
		RecoveryRotationDPS:  f.RecoveryRotationDPS,
		SimpleRotationDPS:    f.SimpleRotationDPS,
		FreefallMinDuration:  f.FreefallMinDuration,
		FreefallTimeout:      f.FreefallTimeout,
		ImpactSettleDuration: f.ImpactSettleDuration,
		ImpactTimeout:        f.ImpactTimeout,
		LyingConfirmDuration: f.LyingConfirmDuration,
		Cooldown:             f.Cooldown,
	}
}

// Load 加载配置：默认值 -> YAML 文件（ASSIST_CONFIG）-> 环境变量
func Load() (*Config, error) {
	cfg := defaults()

	// 1. 配置文件（可选）
	if path := os.Getenv("ASSIST_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// 2. 环境变量覆盖
	cfg.DeviceID = getEnv("DEVICE_ID", cfg.DeviceID)

	cfg.IMU.Enabled = getEnvBool("IMU_ENABLED", cfg.IMU.Enabled)
	cfg.IMU.Bus = getEnv("IMU_I2C_BUS", cfg.IMU.Bus)
	cfg.IMU.Addr = uint16(getEnvInt("IMU_I2C_ADDR", int(cfg.IMU.Addr)))
	cfg.IMU.PollInterval = getEnvDuration("IMU_POLL_INTERVAL", cfg.IMU.PollInterval)

	cfg.Fall.Mode = getEnv("FALL_MODE", cfg.Fall.Mode)
	cfg.Fall.FreefallG = getEnvFloat("FALL_FREEFALL_G", cfg.Fall.FreefallG)
	cfg.Fall.ImpactG = getEnvFloat("FALL_IMPACT_G", cfg.Fall.ImpactG)
	cfg.Fall.LyingG = getEnvFloat("FALL_LYING_G", cfg.Fall.LyingG)
	cfg.Fall.LyingRotationDPS = getEnvFloat("FALL_LYING_ROTATION_DPS", cfg.Fall.LyingRotationDPS)
	cfg.Fall.RecoveryG = getEnvFloat("FALL_RECOVERY_G", cfg.Fall.RecoveryG)
	cfg.Fall.RecoveryRotationDPS = getEnvFloat("FALL_RECOVERY_ROTATION_DPS", cfg.Fall.RecoveryRotationDPS)
	cfg.Fall.SimpleRotationDPS = getEnvFloat("FALL_SIMPLE_ROTATION_DPS", cfg.Fall.SimpleRotationDPS)
	cfg.Fall.FreefallMinDuration = getEnvDuration("FALL_FREEFALL_MIN", cfg.Fall.FreefallMinDuration)
	cfg.Fall.FreefallTimeout = getEnvDuration("FALL_FREEFALL_TIMEOUT", cfg.Fall.FreefallTimeout)
	cfg.Fall.ImpactSettleDuration = getEnvDuration("FALL_IMPACT_SETTLE", cfg.Fall.ImpactSettleDuration)
	cfg.Fall.ImpactTimeout = getEnvDuration("FALL_IMPACT_TIMEOUT", cfg.Fall.ImpactTimeout)
	cfg.Fall.LyingConfirmDuration = getEnvDuration("FALL_LYING_CONFIRM", cfg.Fall.LyingConfirmDuration)
	cfg.Fall.Cooldown = getEnvDuration("FALL_COOLDOWN", cfg.Fall.Cooldown)

	cfg.Ultrasonic.Enabled = getEnvBool("ULTRASONIC_ENABLED", cfg.Ultrasonic.Enabled)
	cfg.Ultrasonic.TrigPin = getEnv("ULTRASONIC_TRIG_PIN", cfg.Ultrasonic.TrigPin)
	cfg.Ultrasonic.EchoPin = getEnv("ULTRASONIC_ECHO_PIN", cfg.Ultrasonic.EchoPin)
	cfg.Ultrasonic.PollInterval = getEnvDuration("ULTRASONIC_POLL_INTERVAL", cfg.Ultrasonic.PollInterval)
	cfg.Ultrasonic.MaxDistanceCM = getEnvFloat("ULTRASONIC_MAX_DISTANCE_CM", cfg.Ultrasonic.MaxDistanceCM)

	cfg.Filter.Window = getEnvInt("FILTER_WINDOW", cfg.Filter.Window)
	cfg.Distance.ThresholdFeet = getEnvFloat("DISTANCE_THRESHOLD_FT", cfg.Distance.ThresholdFeet)

	cfg.Monitor.ReadBackoff = getEnvDuration("MONITOR_READ_BACKOFF", cfg.Monitor.ReadBackoff)
	cfg.Monitor.QueueSize = getEnvInt("MONITOR_QUEUE_SIZE", cfg.Monitor.QueueSize)
	cfg.Monitor.EnqueueTimeout = getEnvDuration("MONITOR_ENQUEUE_TIMEOUT", cfg.Monitor.EnqueueTimeout)
	cfg.Monitor.OfflineAfter = getEnvInt("MONITOR_OFFLINE_AFTER", cfg.Monitor.OfflineAfter)

	cfg.EventLog.Path = getEnvAllowEmpty("EVENT_LOG_PATH", cfg.EventLog.Path)

	cfg.Announcer.Enabled = getEnvBool("ANNOUNCER_ENABLED", cfg.Announcer.Enabled)
	cfg.Announcer.Command = getEnv("ANNOUNCER_COMMAND", cfg.Announcer.Command)
	cfg.Announcer.QueueSize = getEnvInt("ANNOUNCER_QUEUE", cfg.Announcer.QueueSize)
	cfg.Announcer.SpeakTimeout = getEnvDuration("ANNOUNCER_SPEAK_TIMEOUT", cfg.Announcer.SpeakTimeout)

	cfg.Sinks.QueueSize = getEnvInt("SINK_QUEUE_SIZE", cfg.Sinks.QueueSize)
	cfg.Sinks.WriteTimeout = getEnvDuration("SINK_WRITE_TIMEOUT", cfg.Sinks.WriteTimeout)

	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.Webhook.LoadFromEnv("WEBHOOK")

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	// 3. 校验
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "assist-device"
	}
	cfg.DeviceID = hostname

	cfg.IMU.Enabled = true
	cfg.IMU.Addr = 0x68
	cfg.IMU.PollInterval = 20 * time.Millisecond // 50Hz

	th := detector.DefaultFallThresholds()
	cfg.Fall = FallConfig{
		Mode:                 detector.ModeStateMachine,
		FreefallG:            th.FreefallG,
		ImpactG:              th.ImpactG,
		LyingG:               th.LyingG,
		LyingRotationDPS:     th.LyingRotationDPS,
		RecoveryG:            th.RecoveryG,
		RecoveryRotationDPS:  th.RecoveryRotationDPS,
		SimpleRotationDPS:    th.SimpleRotationDPS,
		FreefallMinDuration:  th.FreefallMinDuration,
		FreefallTimeout:      th.FreefallTimeout,
		ImpactSettleDuration: th.ImpactSettleDuration,
		ImpactTimeout:        th.ImpactTimeout,
		LyingConfirmDuration: th.LyingConfirmDuration,
		Cooldown:             th.Cooldown,
	}

	cfg.Ultrasonic.Enabled = true
	cfg.Ultrasonic.TrigPin = "GPIO23"
	cfg.Ultrasonic.EchoPin = "GPIO24"
	cfg.Ultrasonic.PollInterval = 200 * time.Millisecond // 5Hz
	cfg.Ultrasonic.MaxDistanceCM = 400

	cfg.Filter.Window = 5
	cfg.Distance.ThresholdFeet = detector.DefaultDistanceThresholdFeet

	cfg.Monitor.ReadBackoff = time.Second
	cfg.Monitor.QueueSize = 64
	cfg.Monitor.EnqueueTimeout = 100 * time.Millisecond
	cfg.Monitor.OfflineAfter = 5

	cfg.EventLog.Path = "events.jsonl"

	cfg.Announcer.Enabled = true
	cfg.Announcer.QueueSize = 8
	cfg.Announcer.SpeakTimeout = 10 * time.Second

	cfg.Sinks.QueueSize = 32
	cfg.Sinks.WriteTimeout = 3 * time.Second

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "owlrd"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 4
	cfg.Database.MaxIdle = 2

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Stream = "assist:events:stream"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "wisefido-assist"
	cfg.MQTT.QoS = 1
	cfg.MQTT.Topic = "assist/{device_id}/events"

	cfg.Webhook.Timeout = 5 * time.Second

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	if c.IMU.PollInterval <= 0 {
		errs = append(errs, errors.New("imu poll interval must be positive"))
	}
	if c.Ultrasonic.PollInterval <= 0 {
		errs = append(errs, errors.New("ultrasonic poll interval must be positive"))
	}
	if c.Ultrasonic.MaxDistanceCM <= 0 || c.Ultrasonic.MaxDistanceCM > 400 {
		errs = append(errs, fmt.Errorf("ultrasonic max distance %.1fcm out of range (0, 400]", c.Ultrasonic.MaxDistanceCM))
	}
	if c.Fall.Mode != detector.ModeStateMachine && c.Fall.Mode != detector.ModeSimple {
		errs = append(errs, fmt.Errorf("unknown fall mode %q", c.Fall.Mode))
	}
	if c.Fall.FreefallG >= c.Fall.ImpactG {
		errs = append(errs, errors.New("fall freefall threshold must be below impact threshold"))
	}
	if c.Fall.LyingG >= c.Fall.RecoveryG {
		errs = append(errs, errors.New("fall lying threshold must be below recovery threshold"))
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"freefall min duration", c.Fall.FreefallMinDuration},
		{"freefall timeout", c.Fall.FreefallTimeout},
		{"impact settle duration", c.Fall.ImpactSettleDuration},
		{"impact timeout", c.Fall.ImpactTimeout},
		{"lying confirm duration", c.Fall.LyingConfirmDuration},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("fall %s must be positive", d.name))
		}
	}
	if c.Fall.FreefallMinDuration >= c.Fall.FreefallTimeout {
		errs = append(errs, errors.New("fall freefall min duration must be below freefall timeout"))
	}
	if c.Fall.ImpactSettleDuration >= c.Fall.ImpactTimeout {
		errs = append(errs, errors.New("fall impact settle duration must be below impact timeout"))
	}
	if c.Fall.Cooldown < 0 {
		errs = append(errs, errors.New("fall cooldown must not be negative"))
	}
	if c.Filter.Window < 1 {
		errs = append(errs, errors.New("filter window must be at least 1"))
	}
	if c.Distance.ThresholdFeet <= 0 {
		errs = append(errs, errors.New("distance threshold must be positive"))
	}
	if c.Monitor.ReadBackoff <= 0 {
		errs = append(errs, errors.New("monitor read backoff must be positive"))
	}
	if c.Monitor.QueueSize < 1 {
		errs = append(errs, errors.New("monitor queue size must be at least 1"))
	}
	if c.Monitor.EnqueueTimeout <= 0 {
		errs = append(errs, errors.New("monitor enqueue timeout must be positive"))
	}
	if c.Monitor.OfflineAfter < 1 {
		errs = append(errs, errors.New("monitor offline threshold must be at least 1"))
	}
	if c.Announcer.SpeakTimeout <= 0 {
		errs = append(errs, errors.New("announcer speak timeout must be positive"))
	}
	if c.Sinks.QueueSize < 1 {
		errs = append(errs, errors.New("sink queue size must be at least 1"))
	}
	if c.Sinks.WriteTimeout <= 0 {
		errs = append(errs, errors.New("sink write timeout must be positive"))
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		errs = append(errs, errors.New("webhook enabled but WEBHOOK_URL is empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty 显式设置为空字符串时也生效（用于关闭事件日志）
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// getEnvInt 支持十进制与 0x 前缀的十六进制
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 0, 64); err == nil {
			return int(n)
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
