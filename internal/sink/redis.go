package sink

import (
	"context"
	"fmt"

	"wisefido-assist/internal/common/redis"
	"wisefido-assist/internal/models"

	"go.uber.org/zap"
)

// streamMaxLen 事件流保留的大致条数
const streamMaxLen = 10000

// RedisStreamSink 把事件发布到 Redis Stream，供下游服务消费
type RedisStreamSink struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewRedisStreamSink 创建 Redis Stream 接收端（接管 client 的关闭）
func NewRedisStreamSink(client *redis.Client, stream string, logger *zap.Logger) *RedisStreamSink {
	return &RedisStreamSink{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Name 名称
func (s *RedisStreamSink) Name() string {
	return "redis_stream"
}

// Write XADD 事件记录
func (s *RedisStreamSink) Write(ctx context.Context, evt models.Event) error {
	rec := evt.Record()
	id, err := redis.PublishJSONToStream(ctx, s.client, s.stream, streamMaxLen, rec.Event, rec.Timestamp, rec)
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", s.stream, err)
	}

	s.logger.Debug("Event published to stream",
		zap.String("stream", s.stream),
		zap.String("message_id", id),
		zap.String("event", rec.Event),
	)
	return nil
}

// Close 关闭 Redis 连接
func (s *RedisStreamSink) Close() error {
	return redis.Close(s.client)
}
