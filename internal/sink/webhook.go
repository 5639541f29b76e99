package sink

import (
	"context"
	"fmt"
	"time"

	"wisefido-assist/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookPayload 告警 Webhook 请求体
type WebhookPayload struct {
	DeviceID string                 `json:"device_id"`
	EventID  string                 `json:"event_id"`
	Event    string                 `json:"event"`
	Severity string                 `json:"severity"`
	Time     time.Time              `json:"time"`
	Payload  map[string]interface{} `json:"payload"`
}

// WebhookSink 把需要人工介入的事件（跌倒、传感器离线）推送到告警地址
type WebhookSink struct {
	httpClient *resty.Client
	url        string
	deviceID   string
	logger     *zap.Logger
}

// NewWebhookSink 创建 Webhook 接收端
func NewWebhookSink(url, deviceID string, timeout time.Duration, logger *zap.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookSink{
		httpClient: client,
		url:        url,
		deviceID:   deviceID,
		logger:     logger,
	}
}

// Name 名称
func (s *WebhookSink) Name() string {
	return "webhook"
}

// Accepts 是否推送该事件
func (s *WebhookSink) Accepts(evt models.Event) bool {
	return evt.Type == models.EventFallDetected || evt.Type == models.EventSensorOffline
}

// Write 推送告警；其他类型的事件直接忽略
func (s *WebhookSink) Write(ctx context.Context, evt models.Event) error {
	if !s.Accepts(evt) {
		return nil
	}

	rec := evt.Record()
	body := WebhookPayload{
		DeviceID: s.deviceID,
		EventID:  evt.ID,
		Event:    evt.Type,
		Severity: string(evt.Severity()),
		Time:     evt.Time.UTC(),
		Payload:  rec.Payload,
	}

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	s.logger.Info("Alert delivered to webhook",
		zap.String("event", evt.Type),
		zap.String("event_id", evt.ID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}

// Close 无需释放资源
func (s *WebhookSink) Close() error {
	return nil
}
