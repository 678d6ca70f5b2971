package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/leadnexconnect/campaign-engine/internal/config"
	"github.com/leadnexconnect/campaign-engine/internal/handler"
	"github.com/leadnexconnect/campaign-engine/internal/infra/postgresql"
	"github.com/leadnexconnect/campaign-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/leadnexconnect/campaign-engine/internal/infra/redis"
	"github.com/leadnexconnect/campaign-engine/internal/observability"
	"github.com/leadnexconnect/campaign-engine/internal/provider"
	"github.com/leadnexconnect/campaign-engine/internal/queue"
	"github.com/leadnexconnect/campaign-engine/internal/render"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
	"github.com/leadnexconnect/campaign-engine/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App is the wired service graph shared by the API binary and the CLI.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	Campaigns *service.CampaignService
	Scheduler *service.CampaignEmailScheduler
	Sender    *service.EmailSender
	Clock     *service.SendClock

	// Broker is nil when RABBITMQ_URL is unset.
	Broker *queue.RabbitMQ

	sqlDB     *sql.DB
	redis     *redis.Client
	publisher queue.Publisher
}

// Build connects the backing stores, runs migrations and wires the services.
// Partially built resources are released when a later step fails.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	if err := a.build(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (failed to release resources: %v)", err, closeErr)
		}
		return nil, err
	}

	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolConfig{})
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if a.sqlDB, err = db.DB(); err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	if a.redis, err = infraredis.NewRedis(ctx, cfg.RedisURL); err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	locker, err := infraredis.NewRedisLocker(a.redis)
	if err != nil {
		return err
	}
	limiter, err := infraredis.NewRedisRateLimiter(a.redis, cfg.RateLimitPerSec)
	if err != nil {
		return err
	}

	a.publisher = queue.NopPublisher{}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		if a.Broker, err = queue.NewRabbitMQ(ctx, cfg.RabbitMQURL); err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		a.publisher = queue.NewRabbitMQPublisher(a.Broker)
	}

	mailProvider, err := newMailProvider(ctx, cfg)
	if err != nil {
		return err
	}

	repos := service.Repositories{
		Campaigns:       repository.NewGormCampaignRepo(db),
		Leads:           repository.NewGormLeadRepo(db),
		Templates:       repository.NewGormTemplateRepo(db),
		Workflows:       repository.NewGormWorkflowRepo(db),
		ScheduledEmails: repository.NewGormScheduledEmailRepo(db),
		Emails:          repository.NewGormEmailRepo(db),
	}

	delivery, err := service.NewEmailDelivery(repos.Leads, repos.Emails, mailProvider, service.SenderIdentity{
		FromName:  cfg.MailFromName,
		FromEmail: cfg.MailFromEmail,
		ReplyTo:   cfg.MailReplyTo,
	}, a.Logger.Named("delivery"))
	if err != nil {
		return err
	}
	delivery.SetMetrics(a.Metrics)

	reconciler, err := service.NewCompletionReconciler(repos.Campaigns, repos.ScheduledEmails, a.Logger.Named("reconciler"))
	if err != nil {
		return err
	}
	reconciler.SetMetrics(a.Metrics)
	reconciler.SetPublisher(a.publisher)

	a.Scheduler, err = service.NewCampaignEmailScheduler(repos, service.SchedulerOptions{
		PreserveRelativeSchedule: cfg.PreserveRelativeSchedule,
	}, a.Logger.Named("scheduler"))
	if err != nil {
		return err
	}
	a.Scheduler.SetMetrics(a.Metrics)

	a.Sender, err = service.NewEmailSender(repos, render.NewRenderer(), delivery, reconciler, service.SenderOptions{
		BatchSize:       cfg.SendBatchSize,
		MaxActiveOwners: cfg.MaxActiveOwners,
	}, a.Logger.Named("sender"))
	if err != nil {
		return err
	}
	a.Sender.SetMetrics(a.Metrics)
	a.Sender.SetPublisher(a.publisher)
	a.Sender.SetRateLimiter(limiter)
	// Zero TTL keeps the sender's default cycle lease.
	a.Sender.SetLocker(locker, 0)

	a.Campaigns, err = service.NewCampaignService(repos.Campaigns, a.Scheduler, reconciler, a.Logger.Named("campaigns"))
	if err != nil {
		return err
	}
	a.Campaigns.SetMetrics(a.Metrics)
	a.Campaigns.SetLocker(locker, cfg.CampaignLeaseTTL())

	a.Clock, err = service.NewSendClock(a.Sender, cfg.SendInterval(), a.Logger.Named("clock"))
	if err != nil {
		return err
	}

	return nil
}

// ReadinessChecks probes the stores the service cannot run without.
func (a *App) ReadinessChecks() []handler.ReadinessCheck {
	return []handler.ReadinessCheck{
		handler.PostgresCheck(a.sqlDB),
		handler.RedisCheck(a.redis),
	}
}

// Close releases every resource that was opened. It is safe on a partially built App.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// The RabbitMQ publisher owns the broker connection.
	if a.publisher != nil {
		keep(a.publisher.Close())
	}
	if a.redis != nil {
		keep(a.redis.Close())
	}
	if a.sqlDB != nil {
		keep(a.sqlDB.Close())
	}

	return firstErr
}

func newMailProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.MailProvider {
	case config.MailProviderSES:
		return provider.NewSESProvider(ctx, provider.SESConfig{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
	case config.MailProviderWebhook:
		return provider.NewWebhookProvider(cfg.MailWebhookURL)
	default:
		return nil, fmt.Errorf("unsupported mail provider %q", cfg.MailProvider)
	}
}
