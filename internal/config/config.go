package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	MailProviderWebhook = "webhook"
	MailProviderSES     = "ses"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	// RabbitMQURL is optional; without it outcome events are dropped.
	RabbitMQURL string `env:"RABBITMQ_URL"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	SendIntervalRaw          string `env:"SEND_INTERVAL,default=1m"`
	SendBatchSize            int    `env:"SEND_BATCH_SIZE,default=50"`
	MaxActiveOwners          int    `env:"MAX_ACTIVE_OWNERS,default=100"`
	RateLimitPerSec          int    `env:"RATE_LIMIT_PER_SEC,default=20"`
	PreserveRelativeSchedule bool   `env:"PRESERVE_RELATIVE_SCHEDULE,default=false"`
	CampaignLeaseTTLRaw      string `env:"CAMPAIGN_LEASE_TTL,default=2m"`

	MailProvider   string `env:"MAIL_PROVIDER,default=webhook"`
	MailWebhookURL string `env:"MAIL_WEBHOOK_URL"`
	MailFromName   string `env:"MAIL_FROM_NAME,default=LeadNexConnect"`
	MailFromEmail  string `env:"MAIL_FROM_EMAIL,required=true"`
	MailReplyTo    string `env:"MAIL_REPLY_TO"`

	AWSRegion          string `env:"AWS_REGION"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`

	sendInterval     time.Duration
	campaignLeaseTTL time.Duration
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) SendInterval() time.Duration { return c.sendInterval }

func (c *Config) CampaignLeaseTTL() time.Duration { return c.campaignLeaseTTL }

func (c *Config) validate() error {
	var err error
	if c.sendInterval, err = parsePositiveDuration("SEND_INTERVAL", c.SendIntervalRaw); err != nil {
		return err
	}
	if c.campaignLeaseTTL, err = parsePositiveDuration("CAMPAIGN_LEASE_TTL", c.CampaignLeaseTTLRaw); err != nil {
		return err
	}

	if c.SendBatchSize < 1 {
		return fmt.Errorf("SEND_BATCH_SIZE must be >= 1 (got %d)", c.SendBatchSize)
	}
	if c.MaxActiveOwners < 1 {
		return fmt.Errorf("MAX_ACTIVE_OWNERS must be >= 1 (got %d)", c.MaxActiveOwners)
	}
	if c.RateLimitPerSec < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must be >= 1 (got %d)", c.RateLimitPerSec)
	}

	c.MailProvider = strings.ToLower(strings.TrimSpace(c.MailProvider))
	switch c.MailProvider {
	case MailProviderWebhook:
		if strings.TrimSpace(c.MailWebhookURL) == "" {
			return fmt.Errorf("MAIL_WEBHOOK_URL is required when MAIL_PROVIDER=webhook")
		}
	case MailProviderSES:
		if strings.TrimSpace(c.AWSRegion) == "" {
			return fmt.Errorf("AWS_REGION is required when MAIL_PROVIDER=ses")
		}
	default:
		return fmt.Errorf("MAIL_PROVIDER must be %q or %q (got %q)", MailProviderWebhook, MailProviderSES, c.MailProvider)
	}

	return nil
}

func parsePositiveDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive (got %s)", name, raw)
	}
	return d, nil
}
