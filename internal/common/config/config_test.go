package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "owlrd", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=owlrd sslmode=disable", cfg.GetDSN())
}

func TestLoadFromEnv(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	os.Setenv("DB_ENABLED", "1")
	os.Setenv("DB_PORT", "6543")
	os.Setenv("REDIS_DB", "2")
	os.Setenv("REDIS_READ_TIMEOUT", "500ms")
	os.Setenv("MQTT_CLIENT_ID", "walker")
	os.Setenv("WEBHOOK_TIMEOUT", "3s")
	os.Setenv("WEBHOOK_ENABLED", "false")

	var db DatabaseConfig
	db.LoadFromEnv("DB")
	assert.True(t, db.Enabled)
	assert.Equal(t, 6543, db.Port)

	var r RedisConfig
	r.LoadFromEnv("REDIS")
	assert.Equal(t, 2, r.DB)
	assert.Equal(t, 500*time.Millisecond, r.ReadTimeout)
	assert.Zero(t, r.DialTimeout)

	var m MQTTConfig
	m.LoadFromEnv("MQTT")
	assert.Equal(t, "walker", m.ClientID)

	w := WebhookConfig{Enabled: true}
	w.LoadFromEnv("WEBHOOK")
	assert.False(t, w.Enabled)
	assert.Equal(t, 3*time.Second, w.Timeout)
}
