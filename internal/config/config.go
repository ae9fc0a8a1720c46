package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. STOREFRONT_DATABASE_DSN.
const EnvPrefix = "STOREFRONT_"

type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	GRPC        GRPCConfig        `yaml:"grpc"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Mail        MailConfig        `yaml:"mail"`
	Payment     PaymentConfig     `yaml:"payment"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
	Log         LogConfig         `yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // mysql, sqlite
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	URL            string        `yaml:"url"`
	PoolSize       int           `yaml:"pool_size"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	ItemCacheTTL   time.Duration `yaml:"item_cache_ttl"`
	EventsChannel  string        `yaml:"events_channel"`
}

type MailConfig struct {
	Driver  string        `yaml:"driver"` // resend, log
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	From    string        `yaml:"from"`
	Timeout time.Duration `yaml:"timeout"`
}

type PaymentConfig struct {
	BaseURL       string `yaml:"base_url"`
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	// AllowUnsignedWebhooks skips signature checks. Local development only.
	AllowUnsignedWebhooks bool          `yaml:"allow_unsigned_webhooks"`
	SignatureTolerance    time.Duration `yaml:"signature_tolerance"`
	CallbackURL           string        `yaml:"callback_url"`
	RedirectURL           string        `yaml:"redirect_url"`
	Currency              string        `yaml:"currency"`
	Timeout               time.Duration `yaml:"timeout"`
}

type FulfillmentConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// PurchaseExpiry is how long an initiated purchase may wait for its webhook.
	PurchaseExpiry time.Duration `yaml:"purchase_expiry"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		GRPC: GRPCConfig{
			Enabled: true,
			Addr:    ":50051",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:storefront.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			URL:            "redis://localhost:6379/0",
			PoolSize:       100,
			IdempotencyTTL: 24 * time.Hour,
			ItemCacheTTL:   5 * time.Minute,
			EventsChannel:  "storefront:fulfillments",
		},
		Mail: MailConfig{
			Driver:  "resend",
			BaseURL: "https://api.resend.com",
			Timeout: 10 * time.Second,
		},
		Payment: PaymentConfig{
			SignatureTolerance: 5 * time.Minute,
			Currency:           "USD",
			Timeout:            15 * time.Second,
		},
		Fulfillment: FulfillmentConfig{
			Workers:        4,
			QueueSize:      1000,
			MaxAttempts:    5,
			RetryBackoff:   200 * time.Millisecond,
			PurchaseExpiry: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HTTP_ADDR":              &c.HTTP.Addr,
		"GRPC_ADDR":              &c.GRPC.Addr,
		"DATABASE_DRIVER":        &c.Database.Driver,
		"DATABASE_DSN":           &c.Database.DSN,
		"REDIS_URL":              &c.Redis.URL,
		"MAIL_DRIVER":            &c.Mail.Driver,
		"MAIL_API_KEY":           &c.Mail.APIKey,
		"MAIL_BASE_URL":          &c.Mail.BaseURL,
		"MAIL_FROM":              &c.Mail.From,
		"PAYMENT_BASE_URL":       &c.Payment.BaseURL,
		"PAYMENT_SECRET_KEY":     &c.Payment.SecretKey,
		"PAYMENT_WEBHOOK_SECRET": &c.Payment.WebhookSecret,
		"PAYMENT_CALLBACK_URL":   &c.Payment.CallbackURL,
		"PAYMENT_REDIRECT_URL":   &c.Payment.RedirectURL,
		"PAYMENT_CURRENCY":       &c.Payment.Currency,
		"LOG_LEVEL":              &c.Log.Level,
		"LOG_FORMAT":             &c.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"GRPC_ENABLED":                    &c.GRPC.Enabled,
		"DATABASE_AUTO_MIGRATE":           &c.Database.AutoMigrate,
		"PAYMENT_ALLOW_UNSIGNED_WEBHOOKS": &c.Payment.AllowUnsignedWebhooks,
	}
	for name, dst := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"FULFILLMENT_WORKERS":    &c.Fulfillment.Workers,
		"FULFILLMENT_QUEUE_SIZE": &c.Fulfillment.QueueSize,
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}
	return nil
}

// Validate checks the settings the serve command depends on.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be mysql or sqlite, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required"))
	}

	switch c.Mail.Driver {
	case "resend":
		if c.Mail.APIKey == "" {
			errs = append(errs, errors.New("mail.api_key is required for the resend driver"))
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("mail.driver must be resend or log, got %q", c.Mail.Driver))
	}
	if !strings.Contains(c.Mail.From, "@") {
		errs = append(errs, errors.New("mail.from must be an email address"))
	}

	if c.Payment.BaseURL == "" || c.Payment.SecretKey == "" {
		errs = append(errs, errors.New("payment.base_url and payment.secret_key are required"))
	}
	if c.Payment.WebhookSecret == "" && !c.Payment.AllowUnsignedWebhooks {
		errs = append(errs, errors.New("payment.webhook_secret is required unless allow_unsigned_webhooks is set"))
	}

	if c.Fulfillment.Workers <= 0 {
		errs = append(errs, errors.New("fulfillment.workers must be positive"))
	}
	if c.Fulfillment.QueueSize <= 0 {
		errs = append(errs, errors.New("fulfillment.queue_size must be positive"))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
