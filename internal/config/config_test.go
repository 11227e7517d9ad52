package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("RATE_LIMIT_BURST_LIMIT", "9")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 9, cfg.RateLimitBurstLimit)
}

func TestGetRetryConfig(t *testing.T) {
	cfg := Config{ProviderMaxRetries: 4, ProviderRetryDelay: 0}
	rc := cfg.GetRetryConfig()
	assert.Equal(t, 4, rc.MaxRetries)
	assert.Equal(t, 2.0, rc.Multiplier)
	assert.True(t, rc.Jitter)
}
