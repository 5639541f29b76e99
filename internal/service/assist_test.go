package service

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wisefido-assist/internal/config"
	"wisefido-assist/internal/hardware"
	"wisefido-assist/internal/models"
	"wisefido-assist/internal/sink"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	os.Clearenv()
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.DeviceID = "walker-test"
	cfg.IMU.PollInterval = time.Millisecond
	cfg.Ultrasonic.PollInterval = time.Millisecond
	cfg.Monitor.ReadBackoff = time.Millisecond
	cfg.EventLog.Path = filepath.Join(t.TempDir(), "events.jsonl")
	return cfg
}

func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func readEventLog(t *testing.T, path string) []models.EventRecord {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []models.EventRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec models.EventRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func fallScript() []hardware.IMUReading {
	var mags []float64
	mags = append(mags, 1.0)
	for i := 0; i < 16; i++ {
		mags = append(mags, 0.3)
	}
	mags = append(mags, 2.8)
	for i := 0; i < 77; i++ {
		mags = append(mags, 0.3)
	}
	for i := 0; i < 5; i++ {
		mags = append(mags, 1.0)
	}

	out := make([]hardware.IMUReading, len(mags))
	for i, g := range mags {
		out[i] = hardware.IMUReading{Accel: models.Vec3{Z: g}}
	}
	return out
}

func TestAssistService_FallReachesEventLogAndStream(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Ultrasonic.Enabled = false
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	imu := hardware.NewSimulatedIMU(fallScript()...)
	svc, err := NewAssistService(cfg, zap.NewNop(), WithIMU(imu), WithClock(steppingClock(20*time.Millisecond)))
	require.NoError(t, err)
	require.Len(t, svc.sinks, 2)
	assert.Equal(t, "redis_stream", svc.sinks[1].Name())
	assert.IsType(t, &sink.AsyncSink{}, svc.sinks[1])

	require.NoError(t, svc.Start(context.Background()))
	require.Eventually(t, func() bool {
		return svc.Monitor().Stats().Snapshot()["events.emitted"] >= 1
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))

	assert.True(t, imu.Closed())

	records := readEventLog(t, cfg.EventLog.Path)
	require.Len(t, records, 1)
	assert.Equal(t, models.EventFallDetected, records[0].Event)
	assert.Equal(t, "critical", records[0].Payload["severity"])

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	msgs, err := client.XRange(context.Background(), cfg.Redis.Stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.EventFallDetected, msgs[0].Values["event"])
}

func TestAssistService_DistanceEvents(t *testing.T) {
	cfg := testConfig(t)
	cfg.IMU.Enabled = false
	cfg.Filter.Window = 1

	rf := hardware.NewSimulatedRangefinder(hardware.Distances(
		models.FeetToCM(5.0), models.FeetToCM(5.4), models.FeetToCM(5.9), models.FeetToCM(6.2),
	)...)
	svc, err := NewAssistService(cfg, zap.NewNop(), WithRangefinder(rf))
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	require.Eventually(t, func() bool {
		return svc.Monitor().Stats().Snapshot()["ultrasonic.samples"] >= 10
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))

	assert.True(t, rf.Closed())

	records := readEventLog(t, cfg.EventLog.Path)
	require.Len(t, records, 2)
	assert.InDelta(t, 5.0, records[0].Payload["distance_feet"], 1e-9)
	assert.InDelta(t, 6.2, records[1].Payload["distance_feet"], 1e-9)
	assert.Equal(t, "Clear path, obstacle 6 feet away", records[1].Payload["description"])
}

func TestAssistService_UnavailableRedisIsSkipped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ultrasonic.Enabled = false
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	svc, err := NewAssistService(cfg, zap.NewNop(), WithIMU(hardware.NewSimulatedIMU()))
	require.NoError(t, err)
	require.Len(t, svc.sinks, 1)
	assert.Equal(t, "event_log", svc.sinks[0].Name())

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
}

func TestAssistService_EventLogOpenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ultrasonic.Enabled = false
	// 父路径是普通文件，无法创建目录
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.EventLog.Path = filepath.Join(blocker, "events.jsonl")

	imu := hardware.NewSimulatedIMU()
	_, err := NewAssistService(cfg, zap.NewNop(), WithIMU(imu))
	require.Error(t, err)
	assert.True(t, imu.Closed())
}
