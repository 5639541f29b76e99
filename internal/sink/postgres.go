package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wisefido-assist/internal/common/database"
	"wisefido-assist/internal/models"

	"go.uber.org/zap"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS assist_events (
	event_id    UUID PRIMARY KEY,
	device_id   TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	sensor      TEXT NOT NULL,
	severity    TEXT NOT NULL,
	payload     JSONB NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_assist_events_device_time
	ON assist_events (device_id, occurred_at DESC);
`

const insertEvent = `
INSERT INTO assist_events (
	event_id, device_id, event_type, sensor, severity, payload, occurred_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (event_id) DO NOTHING
`

// PostgresSink 把事件写入 assist_events 表
type PostgresSink struct {
	db       *sql.DB
	deviceID string
	logger   *zap.Logger
}

// NewPostgresSink 创建 PostgreSQL 接收端（接管 db 的关闭）
func NewPostgresSink(db *sql.DB, deviceID string, logger *zap.Logger) *PostgresSink {
	return &PostgresSink{
		db:       db,
		deviceID: deviceID,
		logger:   logger,
	}
}

// Name 名称
func (s *PostgresSink) Name() string {
	return "postgres"
}

// EnsureSchema 建表（已存在时忽略）
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createEventsTable); err != nil {
		return fmt.Errorf("failed to create assist_events table: %w", err)
	}
	return nil
}

// Write 插入一条事件；event_id 重复时忽略
func (s *PostgresSink) Write(ctx context.Context, evt models.Event) error {
	rec := evt.Record()
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	result, err := s.db.ExecContext(ctx, insertEvent,
		evt.ID,
		s.deviceID,
		evt.Type,
		evt.Sensor,
		string(evt.Severity()),
		string(payload),
		evt.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", evt.ID, err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		s.logger.Debug("Event already stored", zap.String("event_id", evt.ID))
	}
	return nil
}

// Close 关闭数据库连接
func (s *PostgresSink) Close() error {
	return database.Close(s.db)
}
