package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.App.Storage)
	assert.Equal(t, 5*time.Second, cfg.Lock.AcquireTimeout)
	assert.Equal(t, 15*time.Second, cfg.Lock.LeaseTTL)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 5*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, 3, cfg.Outbox.MaxAttempts)
	assert.Equal(t, "fifo", cfg.Valuation.DefaultMethod)
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_STORAGE", "memory")
	t.Setenv("LOCK_BACKEND", "local")
	t.Setenv("LOCK_ACQUIRE_TIMEOUT", "2s")
	t.Setenv("OUTBOX_BATCH_SIZE", "10")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("IDEMPOTENCY_TTL", "3600")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.App.Storage)
	assert.Equal(t, "local", cfg.Lock.Backend)
	assert.Equal(t, 2*time.Second, cfg.Lock.AcquireTimeout)
	assert.Equal(t, 10, cfg.Outbox.BatchSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Hour, cfg.Idempotency.TTL)
}

func TestLoad_StorageInvalido(t *testing.T) {
	t.Setenv("APP_STORAGE", "sqlite")
	_, err := Load()
	assert.Error(t, err)
}

func TestDBConfig_ConnectionString(t *testing.T) {
	c := DBConfig{Host: "db", Port: 5432, User: "u", Password: "p@ss", DBName: "ledger", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss@db:5432/ledger?sslmode=disable", c.ConnectionString())

	c.DatabaseURL = "postgres://x"
	assert.Equal(t, "postgres://x", c.ConnectionString())
}
