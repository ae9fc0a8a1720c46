package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
database:
  driver: mysql
  dsn: "root:root@tcp(localhost:3306)/storefront"
redis:
  idempotency_ttl: 2h
fulfillment:
  workers: 8
  retry_backoff: 1s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Redis.IdempotencyTTL)
	assert.Equal(t, 8, cfg.Fulfillment.Workers)
	assert.Equal(t, time.Second, cfg.Fulfillment.RetryBackoff)
	// untouched keys keep their defaults
	assert.Equal(t, ":50051", cfg.GRPC.Addr)
	assert.Equal(t, 1000, cfg.Fulfillment.QueueSize)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "http: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "mail:\n  from: file@example.com\n")
	t.Setenv("STOREFRONT_MAIL_FROM", "env@example.com")
	t.Setenv("STOREFRONT_PAYMENT_ALLOW_UNSIGNED_WEBHOOKS", "true")
	t.Setenv("STOREFRONT_FULFILLMENT_WORKERS", "12")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env@example.com", cfg.Mail.From)
	assert.True(t, cfg.Payment.AllowUnsignedWebhooks)
	assert.Equal(t, 12, cfg.Fulfillment.Workers)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("STOREFRONT_GRPC_ENABLED", "maybe")
	_, err := Load("")
	assert.ErrorContains(t, err, "STOREFRONT_GRPC_ENABLED")
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Mail.APIKey = "re_test"
	cfg.Mail.From = "shop@example.com"
	cfg.Payment.BaseURL = "https://api.grey.example"
	cfg.Payment.SecretKey = "sk_test"
	cfg.Payment.WebhookSecret = "whsec_test"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"log mailer needs no key", func(c *Config) { c.Mail.Driver = "log"; c.Mail.APIKey = "" }, ""},
		{"unsigned allowed", func(c *Config) { c.Payment.WebhookSecret = ""; c.Payment.AllowUnsignedWebhooks = true }, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"resend without key", func(c *Config) { c.Mail.APIKey = "" }, "mail.api_key"},
		{"no sender", func(c *Config) { c.Mail.From = "" }, "mail.from"},
		{"no webhook secret", func(c *Config) { c.Payment.WebhookSecret = "" }, "webhook_secret"},
		{"no workers", func(c *Config) { c.Fulfillment.Workers = 0 }, "fulfillment.workers"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
