package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeetCMRoundTrip(t *testing.T) {
	for _, feet := range []float64{0, 0.01, 1, 3.3, 6.2, 13.12, 400 / CMPerFoot} {
		assert.InDelta(t, feet, CMToFeet(FeetToCM(feet)), 1e-9)
	}
	assert.InDelta(t, 1.0, CMToFeet(30.48), 1e-12)
}

func TestVec3_Magnitude(t *testing.T) {
	assert.InDelta(t, 5.0, Vec3{X: 3, Y: 4}.Magnitude(), 1e-12)
	assert.InDelta(t, 1.0, Vec3{Z: -1}.Magnitude(), 1e-12)
}

func TestFallState_String(t *testing.T) {
	assert.Equal(t, "normal", StateNormal.String())
	assert.Equal(t, "freefall", StateFreefall.String())
	assert.Equal(t, "impact", StateImpact.String())
	assert.Equal(t, "lying", StateLying.String())
	assert.Equal(t, "unknown(9)", FallState(9).String())
}

func TestEvent_Record_Fall(t *testing.T) {
	at := time.Unix(1700000000, 500000000)
	evt := NewFallEvent(FallEvent{
		DetectedAt:     at,
		Severity:       SeverityCritical,
		Mode:           "state_machine",
		AccelMagnitude: 0.3,
	})

	rec := evt.Record()
	assert.Equal(t, EventFallDetected, rec.Event)
	assert.InDelta(t, 1700000000.5, rec.Timestamp, 1e-6)
	assert.Equal(t, "critical", rec.Payload["severity"])
	assert.Equal(t, "state_machine", rec.Payload["mode"])
	assert.Equal(t, evt.ID, rec.Payload["event_id"])

	line, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &decoded))
	assert.Contains(t, decoded, "timestamp")
	assert.Contains(t, decoded, "event")
	assert.Contains(t, decoded, "payload")
}

func TestEvent_Record_Distance(t *testing.T) {
	evt := NewDistanceEvent(DistanceEvent{
		DetectedAt:   time.Now(),
		DistanceFeet: 2.0,
		Description:  "Obstacle at 2.0 feet",
	})

	rec := evt.Record()
	assert.Equal(t, EventDistanceDetection, rec.Event)
	assert.Equal(t, SensorUltrasonic, rec.Payload["sensor"])
	assert.Equal(t, "info", rec.Payload["severity"])
	assert.InDelta(t, 60.96, rec.Payload["distance_cm"].(float64), 1e-9)
	assert.Equal(t, "Obstacle at 2.0 feet", rec.Payload["description"])
}

func TestEvent_SensorStatus(t *testing.T) {
	offline := NewSensorStatusEvent(SensorStatusEvent{Sensor: SensorIMU, ConsecutiveFailures: 5, LastError: "nack"})
	assert.Equal(t, EventSensorOffline, offline.Type)
	assert.Equal(t, SeverityWarning, offline.Severity())
	assert.Equal(t, "nack", offline.Record().Payload["last_error"])

	online := NewSensorStatusEvent(SensorStatusEvent{Sensor: SensorIMU, Online: true})
	assert.Equal(t, EventSensorOnline, online.Type)
	assert.Equal(t, SeverityInfo, online.Severity())
	assert.NotContains(t, online.Record().Payload, "last_error")
}
