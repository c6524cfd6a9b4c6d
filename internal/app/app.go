// Package app wires configuration into the running engine. Both the server
// and the CLI build from here.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/api"
	"github.com/lalithlochan/herald/internal/campaign"
	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/circuitbreaker"
	"github.com/lalithlochan/herald/internal/config"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/dispatch"
	"github.com/lalithlochan/herald/internal/jobs"
	"github.com/lalithlochan/herald/internal/redis"
	"github.com/lalithlochan/herald/internal/sns"
	"github.com/lalithlochan/herald/internal/sqs"
	"github.com/lalithlochan/herald/internal/templates"
)

// App holds every long-lived component. Redis, Producer and Reporter are nil
// when not configured.
type App struct {
	Config *config.Config

	DB    *db.DB
	Repo  *db.Repository
	Redis *redis.Client

	Templates  *templates.Store
	Registry   *channel.Registry
	Breakers   []*circuitbreaker.CircuitBreaker
	Dispatcher *dispatch.Dispatcher

	Fees       *campaign.FeeRunner
	Attendance *campaign.AttendanceRunner
	Digests    *campaign.DigestRunner
	Bulk       *campaign.BulkSender
	Scheduler  *jobs.Scheduler

	Producer *sqs.Producer
	Reporter *sns.ReportPublisher

	logger *zap.Logger
}

// New connects to Postgres (required) and Redis (optional), builds the
// channel adapters and the campaign runners.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: int32(cfg.DBMaxConns),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = database
	a.Repo = db.NewRepository(database, logger)

	if cfg.RedisEnabled {
		client, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, running without cache, locks or idempotency",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			a.Redis = client
		}
	}

	var cache templates.Cache
	if a.Redis != nil {
		cache = redis.NewTemplateCache(a.Redis, logger, cfg.TemplateCacheTTL)
	}
	a.Templates = templates.NewStore(a.Repo, cache, logger)

	adapters, breakers, err := BuildAdapters(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = channel.NewRegistry(logger, adapters...)
	a.Breakers = breakers
	a.Dispatcher = dispatch.New(a.Registry, a.Repo, dispatch.Config{AttemptTimeout: cfg.AttemptTimeout}, logger)

	deps := campaign.Deps{
		Sender:      a.Dispatcher,
		Templates:   a.Templates,
		Concurrency: cfg.DispatchConcurrency,
		Location:    cfg.Timezone,
		Logger:      logger,
	}

	phoneChannels, err := PhoneChannels(cfg.FeePhoneChannels)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Fees = campaign.NewFeeRunner(a.Repo, campaign.FeeConfig{
		Ladder:          cfg.ReminderDays,
		GracePeriodDays: cfg.GracePeriodDays,
		LateFeePercent:  cfg.LateFeePercent,
		PhoneChannels:   phoneChannels,
		InstituteName:   cfg.InstituteName,
		PaymentBaseURL:  cfg.InstituteWebsite,
	}, deps)
	a.Attendance = campaign.NewAttendanceRunner(a.Repo, campaign.AttendanceConfig{
		LowThreshold:   cfg.LowAttendanceThreshold,
		ConsecutiveMin: cfg.ConsecutiveAbsenceMin,
		LookbackDays:   cfg.AbsenceLookbackDays,
		InstituteName:  cfg.InstituteName,
	}, deps)
	a.Digests = campaign.NewDigestRunner(a.Repo, campaign.DigestConfig{
		InstituteName: cfg.InstituteName,
		AdminPhone:    cfg.AdminPhone,
		AdminEmail:    cfg.AdminEmail,
	}, deps)
	a.Bulk = campaign.NewBulkSender(deps)

	if cfg.SNSReportTopicARN != "" {
		publisher, err := sns.NewReportPublisher(ctx, sns.Config{
			Region:   cfg.SNSRegion,
			TopicARN: cfg.SNSReportTopicARN,
			Endpoint: cfg.AWSEndpoint,
		}, logger)
		if err != nil {
			logger.Warn("sns report publisher unavailable, job reports will only be logged", zap.Error(err))
		} else {
			a.Reporter = publisher
		}
	}

	jobsCfg := jobs.Config{
		Fees:       a.Fees,
		Attendance: a.Attendance,
		Digests:    a.Digests,
		Logger:     logger,
	}
	// Left nil unless configured; jobs checks the interfaces for nil.
	if a.Redis != nil {
		jobsCfg.Locker = redis.NewJobLocker(a.Redis, logger, cfg.JobLockTTL)
	}
	if a.Reporter != nil {
		jobsCfg.Reporter = a.Reporter
	}
	a.Scheduler = jobs.New(jobsCfg)

	if cfg.SQSTriggerQueueURL != "" {
		producer, err := sqs.NewProducer(ctx, a.queueConfig(), logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, jobs cannot be enqueued", zap.Error(err))
		} else {
			a.Producer = producer
		}
	}

	return a, nil
}

// Consumer builds the trigger queue consumer, or returns nil when no queue
// is configured.
func (a *App) Consumer(ctx context.Context) (*sqs.Consumer, error) {
	if a.Config.SQSTriggerQueueURL == "" {
		return nil, nil
	}
	return sqs.NewConsumer(ctx, a.queueConfig(), a.Scheduler, a.logger)
}

func (a *App) queueConfig() sqs.Config {
	return sqs.Config{
		Region:   a.Config.SQSRegion,
		QueueURL: a.Config.SQSTriggerQueueURL,
		Endpoint: a.Config.AWSEndpoint,
	}
}

// Handler builds the operator API handler.
func (a *App) Handler() *api.Handler {
	deps := api.Deps{
		Templates:  a.Templates,
		Deliveries: a.Repo,
		Sender:     a.Dispatcher,
		Bulk:       a.Bulk,
		Jobs:       a.Scheduler,
		Channels:   a.Registry.Channels(),
		Breakers:   a.Breakers,
		Logger:     a.logger,
	}
	if a.Producer != nil {
		deps.Queue = a.Producer
	}
	if a.Redis != nil {
		deps.Guard = redis.NewSendGuard(a.Redis, a.logger)
	}
	return api.NewHandler(deps)
}

// RateLimiter returns the operator API limiter, or nil without Redis.
func (a *App) RateLimiter() *redis.RateLimiter {
	if a.Redis == nil || a.Config.OperatorRateLimit <= 0 {
		return nil
	}
	return redis.NewRateLimiter(a.Redis, a.logger, redis.RateLimitConfig{
		Limit:  a.Config.OperatorRateLimit,
		Window: time.Minute,
	})
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
