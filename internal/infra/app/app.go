package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/infra/config"
	"github.com/framehost/authcore/internal/infra/database"
	kafkainfra "github.com/framehost/authcore/internal/infra/kafka"
	"github.com/framehost/authcore/internal/infra/logger"
	"github.com/framehost/authcore/internal/infra/mail"
	redisinfra "github.com/framehost/authcore/internal/infra/redis"
	"github.com/framehost/authcore/internal/infra/security"
	"github.com/framehost/authcore/internal/infra/storage"
	postgresrepo "github.com/framehost/authcore/internal/repository/postgres"
	redisrepo "github.com/framehost/authcore/internal/repository/redis"
	"github.com/framehost/authcore/internal/transport/http/middleware"
	"github.com/framehost/authcore/internal/transport/http/routes"
	"github.com/framehost/authcore/internal/usecase"
)

// Application owns the wired object graph and the serving loop.
type Application struct {
	cfg       *config.AppConfig
	engine    *gin.Engine
	logger    *zap.Logger
	pool      *pgxpool.Pool
	redis     *redisinfra.Client
	bucket    *storage.Bucket
	counters  *postgresrepo.CounterRepository
	retention time.Duration
}

// New builds the application from configuration.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	bucket, err := storage.OpenBucket(ctx, cfg.Storage, log)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init object store: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	signer, err := security.NewJWTSigner(cfg.JWT.Secret, cfg.App.Name, cfg.JWT.AccessTokenTTL)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init jwt signer: %w", err)
	}

	ipCounters := redisrepo.NewCounterStore(redisClient.Client(), redisrepo.CounterConfig{
		KeyPrefix: cfg.Redis.KeyPrefix,
	})

	tokenService := usecase.NewTokenService(cfg, signer, repos.Tokens, eventPublisher, log)
	rateLimiter := usecase.NewRateLimiter(repos.Counters, ipCounters, cfg.RateLimit.StoreTimeout, log)
	lockoutTracker := usecase.NewLockoutTracker(repos.Attempts, eventPublisher, log)
	moderator := usecase.NewContentModerator(repos.Flags, repos.Uploads, repos.Suspensions, eventPublisher, cfg.Moderation.SniffLength, log)

	gatewayMetrics, err := usecase.NewGatewayMetrics(nil)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init gateway metrics: %w", err)
	}
	gateway := usecase.NewAuthorizationGateway(tokenService, rateLimiter, lockoutTracker, moderator, repos.Identities, repos.Suspensions, gatewayMetrics, log)

	mailer := mail.NewLogDispatcher(log)
	passwordValidator := security.DefaultPasswordValidator()

	authService := usecase.NewAuthService(repos.Identities, tokenService, lockoutTracker, log)
	registrationService := usecase.NewRegistrationService(repos.Identities, tokenService, lockoutTracker, mailer, passwordValidator, log)
	passwordResetService := usecase.NewPasswordResetService(repos.Identities, tokenService, mailer, passwordValidator, log)

	httpMetrics, err := middleware.NewHTTPMetrics(nil)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	engine := routes.Register(routes.Dependencies{
		Config:   cfg,
		Logger:   log,
		Uploads:  repos.Uploads,
		Objects:  bucket,
		Metrics:  httpMetrics,
		Database: pool,
		Cache:    redisClient,
		Services: routes.ServiceSet{
			Gateway:       gateway,
			Auth:          authService,
			Registration:  registrationService,
			PasswordReset: passwordResetService,
			Moderator:     moderator,
		},
	})

	return &Application{
		cfg:       cfg,
		engine:    engine,
		logger:    log,
		pool:      pool,
		redis:     redisClient,
		bucket:    bucket,
		counters:  repos.Counters,
		retention: cfg.RateLimit.RetentionHorizon,
	}, nil
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.pool.Close()
	defer func() {
		_ = a.redis.Close()
	}()
	defer func() {
		_ = a.bucket.Close()
	}()

	go a.pruneCounters(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting authcore API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// pruneCounters reclaims rate-window rows past the retention horizon. Redis
// keys expire on their own; only the durable table needs sweeping.
func (a *Application) pruneCounters(ctx context.Context) {
	horizon := a.retention
	if horizon <= 0 {
		horizon = 24 * time.Hour
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-horizon)
			pruned, err := a.counters.PruneBefore(ctx, cutoff)
			if err != nil {
				a.logger.Warn("prune rate windows failed", zap.Error(err))
				continue
			}
			if pruned > 0 {
				a.logger.Debug("pruned rate windows", zap.Int("rows", pruned))
			}
		}
	}
}
