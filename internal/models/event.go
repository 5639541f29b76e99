package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FallState 跌倒检测状态
type FallState int

const (
	StateNormal FallState = iota
	StateFreefall
	StateImpact
	StateLying
)

// String 状态名称
func (s FallState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateFreefall:
		return "freefall"
	case StateImpact:
		return "impact"
	case StateLying:
		return "lying"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Severity 事件级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// 事件类型（与事件日志中的 event 字段一致）
const (
	EventFallDetected      = "fall_detected"
	EventDistanceDetection = "distance_detection"
	EventSensorOffline     = "sensor_offline"
	EventSensorOnline      = "sensor_online"
)

// 传感器名称
const (
	SensorIMU        = "imu"
	SensorUltrasonic = "ultrasonic"
)

// FallEvent 确认的跌倒事件
type FallEvent struct {
	DetectedAt        time.Time
	Severity          Severity
	Mode              string  // state_machine 或 simple
	AccelMagnitude    float64 // 触发时的加速度模长 (g)
	RotationMagnitude float64 // 触发时的角速度模长 (°/s)
}

// DistanceEvent 距离变化事件
type DistanceEvent struct {
	DetectedAt   time.Time
	DistanceFeet float64
	Description  string
}

// SensorStatusEvent 传感器离线/恢复事件
type SensorStatusEvent struct {
	DetectedAt          time.Time
	Sensor              string
	Online              bool
	ConsecutiveFailures int
	LastError           string
}

// Event 分发给观察者的事件信封
type Event struct {
	ID       string
	Type     string
	Sensor   string
	Time     time.Time
	Fall     *FallEvent
	Distance *DistanceEvent
	Status   *SensorStatusEvent
}

// NewFallEvent 构建跌倒事件信封
func NewFallEvent(fall FallEvent) Event {
	return Event{
		ID:     uuid.New().String(),
		Type:   EventFallDetected,
		Sensor: SensorIMU,
		Time:   fall.DetectedAt,
		Fall:   &fall,
	}
}

// NewDistanceEvent 构建距离事件信封
func NewDistanceEvent(dist DistanceEvent) Event {
	return Event{
		ID:       uuid.New().String(),
		Type:     EventDistanceDetection,
		Sensor:   SensorUltrasonic,
		Time:     dist.DetectedAt,
		Distance: &dist,
	}
}

// NewSensorStatusEvent 构建传感器状态事件信封
func NewSensorStatusEvent(status SensorStatusEvent) Event {
	eventType := EventSensorOffline
	if status.Online {
		eventType = EventSensorOnline
	}
	return Event{
		ID:     uuid.New().String(),
		Type:   eventType,
		Sensor: status.Sensor,
		Time:   status.DetectedAt,
		Status: &status,
	}
}

// Severity 事件级别
func (e Event) Severity() Severity {
	switch {
	case e.Fall != nil:
		return e.Fall.Severity
	case e.Status != nil && !e.Status.Online:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// EventRecord 事件日志行：{timestamp, event, payload}
type EventRecord struct {
	Timestamp float64                `json:"timestamp"` // unix 秒
	Event     string                 `json:"event"`
	Payload   map[string]interface{} `json:"payload"`
}

// Record 转换为事件日志行
func (e Event) Record() EventRecord {
	payload := map[string]interface{}{
		"event_id": e.ID,
		"sensor":   e.Sensor,
		"severity": string(e.Severity()),
	}

	switch {
	case e.Fall != nil:
		payload["mode"] = e.Fall.Mode
		payload["accel_magnitude"] = e.Fall.AccelMagnitude
		payload["rotation_magnitude"] = e.Fall.RotationMagnitude
	case e.Distance != nil:
		payload["distance_feet"] = e.Distance.DistanceFeet
		payload["distance_cm"] = FeetToCM(e.Distance.DistanceFeet)
		payload["description"] = e.Distance.Description
	case e.Status != nil:
		payload["online"] = e.Status.Online
		payload["consecutive_failures"] = e.Status.ConsecutiveFailures
		if e.Status.LastError != "" {
			payload["last_error"] = e.Status.LastError
		}
	}

	return EventRecord{
		Timestamp: UnixSeconds(e.Time),
		Event:     e.Type,
		Payload:   payload,
	}
}

// UnixSeconds 转换为带小数的 unix 秒
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
