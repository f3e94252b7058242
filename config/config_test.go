package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Business.LowStockThreshold)
	assert.Equal(t, time.Hour, cfg.Redis.EventTTL)
	assert.Equal(t, 10*time.Second, cfg.Resilience.BreakerWindow)
	assert.Equal(t, 30*time.Second, cfg.Resilience.BreakerCooldown)
	assert.Equal(t, 5*time.Second, cfg.Resilience.CallTimeout)
	assert.Equal(t, time.Second, cfg.Resilience.RetryBaseDelay)
	assert.Equal(t, 1000, cfg.Broker.BufferSize)
	assert.Equal(t, "info", cfg.Observ.LogLevel)
	assert.InDelta(t, 0.5, cfg.Resilience.BreakerErrorThreshold, 1e-9)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("BROKER_KIND", "none")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CALL_TIMEOUT", "3s")
	t.Setenv("INVENTORY_SERVICE_URL", "http://inventory:8080")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.False(t, cfg.Broker.Durable())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.Resilience.CallTimeout)
	assert.Equal(t, "http://inventory:8080", cfg.Services.InventoryURL)
}

func TestLoadRejectsEmptyBuffer(t *testing.T) {
	t.Setenv("EVENT_BUFFER_SIZE", "0")

	_, err := Load()
	assert.Error(t, err)
}
