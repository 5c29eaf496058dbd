package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/revaspay/referrals/internal/audit"
	"github.com/revaspay/referrals/internal/config"
	"github.com/revaspay/referrals/internal/database"
	"github.com/revaspay/referrals/internal/handlers"
	"github.com/revaspay/referrals/internal/idempotency"
	"github.com/revaspay/referrals/internal/jobs"
	"github.com/revaspay/referrals/internal/logging"
	"github.com/revaspay/referrals/internal/metrics"
	"github.com/revaspay/referrals/internal/middleware"
	"github.com/revaspay/referrals/internal/queue"
	"github.com/revaspay/referrals/internal/repository"
	"github.com/revaspay/referrals/internal/repository/memory"
	"github.com/revaspay/referrals/internal/routes"
	"github.com/revaspay/referrals/internal/secrets"
	"github.com/revaspay/referrals/internal/services/referral"
	"github.com/revaspay/referrals/internal/utils"
)

// backend is the storage and transport wiring for one STORE_DRIVER
type backend struct {
	deps   referral.Dependencies
	queue  queue.Queue
	keys   idempotency.Store
	checks map[string]handlers.HealthCheck
	close  func()
}

func main() {
	cfg := config.LoadConfig()

	log, err := logging.New(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg.ResolveSecrets(context.Background(),
		secrets.NewDopplerClient(cfg.DopplerProject, cfg.DopplerConfig, log), log)

	var b *backend
	switch cfg.StoreDriver {
	case "memory":
		b = memoryBackend()
		log.Warn("running with in-memory store; data is lost on restart")
	default:
		b, err = postgresBackend(cfg, log)
		if err != nil {
			log.Fatal("failed to initialize backend", zap.Error(err))
		}
	}
	defer b.close()

	svc, err := referral.NewService(b.deps, cfg.Program, log)
	if err != nil {
		log.Fatal("invalid referral program configuration", zap.Error(err))
	}

	// Background work
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := jobs.RegisterTripEventWorker(b.queue, svc, cfg.Workers, log)
	worker.Start(ctx)

	scheduler := gocron.NewScheduler(time.UTC)
	if err := jobs.ScheduleRecurringJobs(scheduler, svc, cfg.Workers, log); err != nil {
		log.Fatal("failed to schedule recurring jobs", zap.Error(err))
	}
	scheduler.StartAsync()

	// HTTP
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log.Named("http")))
	router.Use(metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{cfg.FrontendURL},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", handlers.IdempotencyHeader},
		ExposeHeaders: []string{"Content-Length"},
	}))

	// 20 requests per second per IP, 10 referral calls per minute per user
	rateLimiter := middleware.NewRateLimiter(20, 10, 40, 5)
	defer rateLimiter.Stop()

	routes.RegisterRoutes(router, routes.Options{
		Referrals:    handlers.NewReferralHandler(svc, b.keys, log.Named("handlers")),
		Internal:     handlers.NewInternalHandler(svc, b.queue, log.Named("handlers")),
		HealthChecks: b.checks,
		Tokens:       utils.NewTokenManager(cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Hour),
		ServiceToken: cfg.ServiceToken,
		RateLimiter:  rateLimiter,
	})

	srv := startServer(router, cfg.Server, log)

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	scheduler.Stop()
	cancel()
	worker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exiting")
}

func postgresBackend(cfg *config.Config, log *zap.Logger) (*backend, error) {
	db, err := database.InitDB(cfg.Database, cfg.Environment, log)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	return &backend{
		deps: referral.Dependencies{
			Referrals: repository.NewReferralRepository(db),
			Rewards:   repository.NewRewardRepository(db),
			Users:     repository.NewUserRepository(db),
			Trips:     repository.NewTripRepository(db),
			Audit:     audit.NewGormSink(db),
		},
		queue: queue.NewRedisQueue(redisClient, log.Named("queue")),
		keys:  idempotency.NewRedisStore(redisClient, idempotency.DefaultTTL),
		checks: map[string]handlers.HealthCheck{
			"database": func(ctx context.Context) error { return database.Ping(ctx, db) },
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
		close: func() {
			_ = redisClient.Close()
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	}, nil
}

func memoryBackend() *backend {
	store := memory.NewStore()
	return &backend{
		deps: referral.Dependencies{
			Referrals: store,
			Rewards:   store,
			Users:     store,
			Trips:     store,
			Audit:     store,
		},
		queue:  queue.NewMemoryQueue(),
		keys:   idempotency.NewMemoryStore(idempotency.DefaultTTL),
		checks: map[string]handlers.HealthCheck{},
		close:  func() {},
	}
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, cfg config.ServerConfig, log *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	log.Info("server started", zap.String("port", cfg.Port))
	return srv
}
