package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "surgical",
		Password: "secret",
		Database: "robotics",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=db port=5433 user=surgical password=secret dbname=robotics sslmode=disable", cfg.GetDSN())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DB_HOST", "pg")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_MAX_CONNS", "20")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_QOS", "2")

	db := DatabaseConfig{Host: "localhost", Port: 5432}
	db.LoadFromEnv("DB")
	assert.Equal(t, "pg", db.Host)
	assert.Equal(t, 6543, db.Port)
	assert.Equal(t, 20, db.MaxConns)

	rc := RedisConfig{Addr: "localhost:6379"}
	rc.LoadFromEnv("REDIS")
	assert.Equal(t, "redis:6380", rc.Addr)
	assert.Equal(t, 3, rc.DB)

	mc := MQTTConfig{Broker: "tcp://localhost:1883", QoS: 1}
	mc.LoadFromEnv("MQTT")
	assert.Equal(t, "tcp://broker:1883", mc.Broker)
	assert.Equal(t, byte(2), mc.QoS)
}

func TestLoadFromEnv_InvalidNumbersIgnored(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("MQTT_QOS", "7")

	db := DatabaseConfig{Port: 5432}
	db.LoadFromEnv("DB")
	assert.Equal(t, 5432, db.Port)

	mc := MQTTConfig{QoS: 1}
	mc.LoadFromEnv("MQTT")
	assert.Equal(t, byte(1), mc.QoS)
}
