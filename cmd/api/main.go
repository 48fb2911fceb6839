// Package main is the entry point for the VitaLog entitlement API.
//
// It loads configuration (env, dotenv, SSM), connects Postgres, Redis
// and the AWS clients, wires the domain services into the HTTP chassis
// and serves until SIGINT/SIGTERM, then shuts down gracefully.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"vitalog/internal/api/handlers"
	"vitalog/internal/billing"
	"vitalog/internal/config"
	"vitalog/internal/core"
	"vitalog/internal/coupon"
	"vitalog/internal/db"
	"vitalog/internal/entitlement"
	"vitalog/internal/external"
	"vitalog/internal/quota"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("vitalog API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	// Postgres.
	pool, err := newPostgresPool(startupCtx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting postgres: %w", err)
	}
	defer pool.Close()

	// Redis.
	rdb, err := newRedisClient(startupCtx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting redis: %w", err)
	}
	defer rdb.Close()

	// AWS clients (SQS for change events, CloudWatch for metrics).
	awsCfg, err := awsconfig.LoadDefaultConfig(startupCtx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	var metrics external.Collector = external.NewCloudWatchCollector(cwClient, logger)
	if cfg.Environment == "local" {
		metrics = external.NoopCollector{}
	}

	// Domain services.
	store := db.NewStore(pool, logger)
	notifier := external.NewSQSNotifier(sqsClient, cfg.AWS.EntitlementQueueURL, logger)
	classifier := billing.NewPlanClassifier(cfg.Billing.PriceIDMonthly, cfg.Billing.PriceIDBiannual, logger)

	resolver := entitlement.NewResolver(store, notifier, cfg.Entitlement.TrialDays, logger)
	ingestor := entitlement.NewIngestor(store, classifier, notifier, logger)
	couponEngine := coupon.NewEngine(store, notifier, logger)

	loc, err := cfg.Entitlement.Location()
	if err != nil {
		return fmt.Errorf("resolving quota timezone: %w", err)
	}
	tracker := quota.NewTracker(rdb, loc, logger)

	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 10 * time.Second},
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey,
			Logger:    logger,
		},
	)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		ingestor,
		metrics,
		cfg.Billing.StripeWebhookSecret,
		logger,
	)
	entitlementHandler := handlers.NewEntitlementHandler(resolver, tracker, metrics, logger)
	usageHandler := handlers.NewUsageHandler(resolver, tracker, metrics, logger)
	couponHandler := handlers.NewCouponHandler(couponEngine, metrics, logger)
	adminHandler := handlers.NewAdminHandler(resolver, stripeClient, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		webhookHandler.RegisterRoutes,
		entitlementHandler.RegisterRoutes,
		usageHandler.RegisterRoutes,
		couponHandler.RegisterRoutes,
		func(r chi.Router) {
			r.Route("/admin", func(ar chi.Router) {
				ar.Use(srv.AdminAuthMiddleware)
				adminHandler.RegisterRoutes(ar)
			})
		},
	)

	srv.HealthProbes = append(srv.HealthProbes,
		core.ProbeFunc{ProbeName: "postgres", Fn: pool.Ping},
		core.ProbeFunc{ProbeName: "redis", Fn: tracker.Ping},
	)

	srv.MountRoutes()

	return serveHTTP(ctx, srv, cfg, logger)
}

// newPostgresPool builds the pgx pool with the configured tuning.
func newPostgresPool(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	logger.Info("postgres pool ready",
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
	)
	return pool, nil
}

// newRedisClient connects the usage-counter store.
func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// serveHTTP runs the listener until the context is cancelled, then
// drains in-flight requests within the shutdown deadline.
func serveHTTP(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
