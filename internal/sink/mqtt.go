package sink

import (
	"context"
	"fmt"
	"strings"

	"wisefido-assist/internal/models"

	"go.uber.org/zap"
)

// publisher MQTT 发布端（mqtt.Client 满足该接口）
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// MQTTSink 把事件发布到 assist/{device_id}/events
type MQTTSink struct {
	pub    publisher
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTTSink 创建 MQTT 接收端；topic 中的 {device_id} 会被替换
func NewMQTTSink(pub publisher, topic, deviceID string, qos byte, logger *zap.Logger) *MQTTSink {
	return &MQTTSink{
		pub:    pub,
		topic:  strings.ReplaceAll(topic, "{device_id}", deviceID),
		qos:    qos,
		logger: logger,
	}
}

// Name 名称
func (s *MQTTSink) Name() string {
	return "mqtt"
}

// Topic 实际发布主题
func (s *MQTTSink) Topic() string {
	return s.topic
}

// Write 发布事件记录；事件不保留（retained=false）
func (s *MQTTSink) Write(ctx context.Context, evt models.Event) error {
	// 断线期间直接失败，不等待发布超时
	if !s.pub.IsConnected() {
		return fmt.Errorf("mqtt not connected, event %s not published", evt.ID)
	}

	payload, err := encodeRecord(evt)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(s.topic, s.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", evt.ID, err)
	}

	s.logger.Debug("Event published to MQTT",
		zap.String("topic", s.topic),
		zap.String("event", evt.Type),
	)
	return nil
}

// Close 断开连接
func (s *MQTTSink) Close() error {
	s.pub.Disconnect()
	return nil
}
