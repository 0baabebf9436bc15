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

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 120, cfg.Server.RateLimit)
	assert.Equal(t, "9091", cfg.Server.WorkerPort)
	assert.Equal(t, "USD", cfg.Ledger.DefaultCurrency)
	assert.Equal(t, 300*time.Second, cfg.Ledger.IdempotencyLockTTL)
	assert.Equal(t, time.Hour, cfg.Ledger.BalanceCacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.Ledger.HistoryCacheTTL)
	assert.Equal(t, "wallet-transactions", cfg.Queue.Name)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 100, cfg.Queue.KeepCompleted)
	assert.Equal(t, 50, cfg.Queue.KeepFailed)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ENV", "production")
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("QUEUE_MAX_ATTEMPTS", "5")
	t.Setenv("LEDGER_IDEMPOTENCY_LOCK_TTL", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.Ledger.IdempotencyLockTTL)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		errMsg string
	}{
		{"zero attempts", "QUEUE_MAX_ATTEMPTS", "0", "queue.max_attempts"},
		{"zero workers", "QUEUE_WORKERS", "0", "queue.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
