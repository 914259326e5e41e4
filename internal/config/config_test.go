package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queue.Workers)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, int64(30000), cfg.Pricing.FreeShippingThreshold)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "orders.create", cfg.Kafka.OrderTopic)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "8")
	t.Setenv("QUEUE_BACKOFF", "1s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("PRICING_BASE_SHIPPING_FEE", "4000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, time.Second, cfg.Queue.Backoff)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(4000), cfg.Pricing.BaseShippingFee)
}

func TestLoadRejectsInvalidWorkers(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "0")

	_, err := Load()
	assert.Error(t, err)
}
