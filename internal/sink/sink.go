// Package sink 事件落地：JSONL 事件日志、Redis Stream、MQTT、PostgreSQL 与告警 Webhook
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-assist/internal/models"
	"wisefido-assist/internal/monitor"
)

// Sink 事件接收端
type Sink interface {
	Name() string
	Write(ctx context.Context, evt models.Event) error
	Close() error
}

// AsHandler 把 Sink 包装成监测循环的处理器
func AsHandler(s Sink) monitor.Handler {
	return func(ctx context.Context, evt models.Event) error {
		if err := s.Write(ctx, evt); err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
		return nil
	}
}

// encodeRecord 事件日志行的 JSON 编码（不含换行）
func encodeRecord(evt models.Event) ([]byte, error) {
	data, err := json.Marshal(evt.Record())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", evt.ID, err)
	}
	return data, nil
}
