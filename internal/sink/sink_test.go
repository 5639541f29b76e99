package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wisefido-assist/internal/common/config"
	"wisefido-assist/internal/common/redis"
	"wisefido-assist/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var eventTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fallEvent() models.Event {
	return models.NewFallEvent(models.FallEvent{
		DetectedAt:        eventTime,
		Severity:          models.SeverityCritical,
		Mode:              "state_machine",
		AccelMagnitude:    0.3,
		RotationMagnitude: 4,
	})
}

func distanceEvent() models.Event {
	return models.NewDistanceEvent(models.DistanceEvent{
		DetectedAt:   eventTime.Add(time.Second),
		DistanceFeet: 2.5,
		Description:  "Obstacle at 2.5 feet",
	})
}

func offlineEvent() models.Event {
	return models.NewSensorStatusEvent(models.SensorStatusEvent{
		DetectedAt:          eventTime,
		Sensor:              models.SensorUltrasonic,
		ConsecutiveFailures: 5,
		LastError:           "gpio read failed",
	})
}

// ============================================
// FileSink
// ============================================

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	s, err := NewFileSink(path, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, fallEvent()))
	require.NoError(t, s.Write(ctx, distanceEvent()))
	require.NoError(t, s.Close())

	// 重新打开后继续追加
	s, err = NewFileSink(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, offlineEvent()))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, records, 3)

	assert.Equal(t, "fall_detected", records[0]["event"])
	assert.InDelta(t, float64(eventTime.Unix()), records[0]["timestamp"], 1e-6)
	payload := records[0]["payload"].(map[string]interface{})
	assert.Equal(t, "critical", payload["severity"])

	assert.Equal(t, "distance_detection", records[1]["event"])
	payload = records[1]["payload"].(map[string]interface{})
	assert.Equal(t, 2.5, payload["distance_feet"])
	assert.Equal(t, "Obstacle at 2.5 feet", payload["description"])

	assert.Equal(t, "sensor_offline", records[2]["event"])
}

func TestFileSink_ConcurrentWritesKeepLinesWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	s, err := NewFileSink(path, zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				assert.NoError(t, s.Write(context.Background(), distanceEvent()))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := 0
	for _, line := range splitLines(data) {
		var rec models.EventRecord
		require.NoError(t, json.Unmarshal(line, &rec))
		lines++
	}
	assert.Equal(t, 200, lines)
}

func TestAsHandler_WrapsErrorWithSinkName(t *testing.T) {
	s, err := NewFileSink(filepath.Join(t.TempDir(), "events.jsonl"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = AsHandler(s)(context.Background(), fallEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event_log")
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			out = append(out, data[start:i])
			start = i + 1
		}
	}
	return out
}

// ============================================
// RedisStreamSink
// ============================================

func TestRedisStreamSink_Write(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	s := NewRedisStreamSink(client, "assist:events:stream", zap.NewNop())
	defer s.Close()

	ctx := context.Background()
	evt := fallEvent()
	require.NoError(t, s.Write(ctx, evt))
	require.NoError(t, s.Write(ctx, distanceEvent()))

	msgs, err := client.XRange(ctx, "assist:events:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "fall_detected", msgs[0].Values["event"])
	assert.Equal(t, "distance_detection", msgs[1].Values["event"])

	var rec models.EventRecord
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &rec))
	assert.Equal(t, "fall_detected", rec.Event)
	assert.Equal(t, evt.ID, rec.Payload["event_id"])
}

func TestRedisStreamSink_WriteFailsWhenServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	s := NewRedisStreamSink(client, "assist:events:stream", zap.NewNop())
	defer s.Close()

	mr.Close()
	err = s.Write(context.Background(), fallEvent())
	assert.Error(t, err)
}

// ============================================
// MQTTSink
// ============================================

type fakePublisher struct {
	mu           sync.Mutex
	topics       []string
	payloads     [][]byte
	retained     []bool
	qos          []byte
	err          error
	offline      bool
	disconnected bool
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.offline
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	p.retained = append(p.retained, retained)
	p.qos = append(p.qos, qos)
	return nil
}

func (p *fakePublisher) Disconnect() {
	p.mu.Lock()
	p.disconnected = true
	p.mu.Unlock()
}

func TestMQTTSink_PublishesToDeviceTopic(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, "assist/{device_id}/events", "walker-01", 1, zap.NewNop())
	assert.Equal(t, "assist/walker-01/events", s.Topic())

	require.NoError(t, s.Write(context.Background(), fallEvent()))
	require.Len(t, pub.topics, 1)
	assert.Equal(t, "assist/walker-01/events", pub.topics[0])
	assert.False(t, pub.retained[0])
	assert.Equal(t, byte(1), pub.qos[0])

	var rec models.EventRecord
	require.NoError(t, json.Unmarshal(pub.payloads[0], &rec))
	assert.Equal(t, "fall_detected", rec.Event)

	require.NoError(t, s.Close())
	assert.True(t, pub.disconnected)
}

func TestMQTTSink_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	s := NewMQTTSink(pub, "assist/{device_id}/events", "walker-01", 1, zap.NewNop())

	err := s.Write(context.Background(), fallEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, pub.err)
}

func TestMQTTSink_NotConnectedFailsFast(t *testing.T) {
	pub := &fakePublisher{offline: true}
	s := NewMQTTSink(pub, "assist/{device_id}/events", "walker-01", 1, zap.NewNop())

	err := s.Write(context.Background(), fallEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
	assert.Empty(t, pub.topics)
}

// ============================================
// PostgresSink
// ============================================

func setupMockPostgresSink(t *testing.T) (sqlmock.Sqlmock, *PostgresSink) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return mock, NewPostgresSink(db, "walker-01", zap.NewNop())
}

func TestPostgresSink_EnsureSchema(t *testing.T) {
	mock, s := setupMockPostgresSink(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS assist_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_Write(t *testing.T) {
	mock, s := setupMockPostgresSink(t)
	evt := fallEvent()

	mock.ExpectExec(`INSERT INTO assist_events`).
		WithArgs(evt.ID, "walker-01", "fall_detected", "imu", "critical", sqlmock.AnyArg(), eventTime).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Write(context.Background(), evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_WriteError(t *testing.T) {
	mock, s := setupMockPostgresSink(t)

	mock.ExpectExec(`INSERT INTO assist_events`).
		WillReturnError(errors.New("connection refused"))

	err := s.Write(context.Background(), distanceEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert event")
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// WebhookSink
// ============================================

func TestWebhookSink_PostsCriticalEventsOnly(t *testing.T) {
	var hits atomic.Int32
	var got WebhookPayload
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		mu.Lock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewWebhookSink(server.URL, "walker-01", time.Second, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, distanceEvent()))
	assert.Equal(t, int32(0), hits.Load())

	evt := fallEvent()
	require.NoError(t, s.Write(ctx, evt))
	assert.Equal(t, int32(1), hits.Load())

	mu.Lock()
	assert.Equal(t, "walker-01", got.DeviceID)
	assert.Equal(t, evt.ID, got.EventID)
	assert.Equal(t, "fall_detected", got.Event)
	assert.Equal(t, "critical", got.Severity)
	mu.Unlock()

	require.NoError(t, s.Write(ctx, offlineEvent()))
	assert.Equal(t, int32(2), hits.Load())
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	s := NewWebhookSink(server.URL, "walker-01", time.Second, zap.NewNop())
	err := s.Write(context.Background(), fallEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
