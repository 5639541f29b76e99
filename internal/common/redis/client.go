package redis

import (
	"context"
	"time"

	"wisefido-assist/internal/common/config"

	"github.com/go-redis/redis/v8"
)

// 设备端连接参数：单写者、上行链路不稳定，超时要短
const (
	defaultDialTimeout  = 2 * time.Second
	defaultReadTimeout  = time.Second
	defaultWriteTimeout = time.Second
	devicePoolSize      = 2
)

// Client Redis客户端类型别名
type Client = redis.Client

// NewRedisClient 创建Redis客户端；未配置的超时使用设备默认值
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(Options(cfg))
}

// Options 由配置生成连接参数
func Options(cfg *config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  orDefault(cfg.DialTimeout, defaultDialTimeout),
		ReadTimeout:  orDefault(cfg.ReadTimeout, defaultReadTimeout),
		WriteTimeout: orDefault(cfg.WriteTimeout, defaultWriteTimeout),
		PoolSize:     devicePoolSize,
		MaxRetries:   1,
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	return client.Close()
}
