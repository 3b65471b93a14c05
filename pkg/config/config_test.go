package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messmate/messmate/pkg/observability"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MESSMATE_POSTGRES_URL", "postgres://localhost/messmate?sslmode=disable")
	t.Setenv("MESSMATE_GATEWAY_WEBHOOK_SECRET", "test-secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	validEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Gateway.OrderExpiry)
	assert.Equal(t, 300, cfg.Gateway.WebhookRateLimit)
	assert.Equal(t, 7, cfg.Billing.BillDueDays)
	assert.Equal(t, 30, cfg.Billing.DefaultCycleDays)
	assert.Equal(t, int64(100), cfg.Billing.TrialCredits)
	assert.Equal(t, 14, cfg.Billing.TrialDays)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
	assert.True(t, cfg.Storage.CacheEnabled)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("MESSMATE_PORT", "8888")
	t.Setenv("MESSMATE_GATEWAY_ORDER_EXPIRY", "1h")
	t.Setenv("MESSMATE_TRIAL_CREDITS", "2500")
	t.Setenv("MESSMATE_LOG_LEVEL", "debug")
	t.Setenv("MESSMATE_CACHE_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8888", cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Gateway.OrderExpiry)
	assert.Equal(t, int64(2500), cfg.Billing.TrialCredits)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Storage.CacheEnabled)
}

func TestLoadConfig_MissingPostgresURL(t *testing.T) {
	t.Setenv("MESSMATE_POSTGRES_URL", "")
	t.Setenv("MESSMATE_GATEWAY_WEBHOOK_SECRET", "test-secret")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres URL")
}

func TestLoadConfig_MissingWebhookSecret(t *testing.T) {
	t.Setenv("MESSMATE_POSTGRES_URL", "postgres://localhost/messmate")
	t.Setenv("MESSMATE_GATEWAY_WEBHOOK_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook secret")
}

func TestValidate_PortCollision(t *testing.T) {
	validEnv(t)
	t.Setenv("MESSMATE_PORT", "9090")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be different")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, observability.WarnLevel, parseLogLevel("WARNING"))
	assert.Equal(t, observability.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("nonsense"))
}
