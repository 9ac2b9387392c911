package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"APP_ENV": "test", "APP_PORT": "8080", "DB_USER": "root", "DB_HOST": "localhost",
		"DB_PORT": "3306", "DB_NAME": "venue", "JWT_SECRET": "s", "PAYME_KEY": "k",
		"CLICK_SERVICE_ID": "77", "CLICK_SECRET_KEY": "c",
	} {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("AMQP_URL", "amqp://broker:5672/")

	cfg := Load()
	assert.Equal(t, "Paycom", cfg.Payme.Login)
	assert.Equal(t, "order_id", cfg.Payme.AccountField)
	assert.False(t, cfg.Payme.Sandbox)
	assert.Equal(t, 12*time.Hour, cfg.Payment.OpenWindow)
	assert.Zero(t, cfg.Payment.SweepInterval)
	assert.Equal(t, 100, cfg.Payment.SweepBatch)
	assert.Equal(t, 3, cfg.Payment.MaxRetries)
	assert.Equal(t, "amqp://broker:5672/", cfg.RabbitURL)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYME_SANDBOX", "yes")
	t.Setenv("PAYMENT_OPEN_WINDOW", "30m")
	t.Setenv("PAYMENT_SWEEP_INTERVAL", "1m")
	t.Setenv("LEDGER_MAX_RETRIES", "5")
	t.Setenv("RABBITMQ_URL", "amqp://primary/")
	t.Setenv("AMQP_URL", "amqp://fallback/")

	cfg := Load()
	assert.True(t, cfg.Payme.Sandbox)
	assert.Equal(t, 30*time.Minute, cfg.Payment.OpenWindow)
	assert.Equal(t, time.Minute, cfg.Payment.SweepInterval)
	assert.Equal(t, 5, cfg.Payment.MaxRetries)
	assert.Equal(t, "amqp://primary/", cfg.RabbitURL)
}

func TestRateLimitConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	cfg := LoadRateLimitConfig()
	assert.Equal(t, 10, cfg.Capacity)
	assert.Equal(t, 1, cfg.RefillTokens)
	assert.Equal(t, 2*time.Second, cfg.RefillInterval)
	assert.Equal(t, 10*time.Second, cfg.TTL)

	t.Setenv("PROVIDER_RATE_LIMIT_ENABLED", "off")
	p := LoadProviderRateLimitConfig()
	assert.False(t, p.Enabled)
	assert.Equal(t, "ip_route", p.KeyStrategy)
	assert.Equal(t, 300, p.Capacity)
}
