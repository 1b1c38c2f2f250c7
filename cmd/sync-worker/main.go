package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medjbersoundous/backend-ramassage-packers/internal/broadcast"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/collectors"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/credentials"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/cron"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/notifications"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/pickups"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/config"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/expo"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/instance"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/metrics"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/migrate"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/redis"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/upstream"
)

const serviceName = "sync-worker"

func main() {
	once := flag.Bool("once", false, "run a single reconciliation cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	syncMetrics := metrics.NewSyncMetrics(prometheus.DefaultRegisterer)
	upstreamClient, err := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey,
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithIPFamily(cfg.Upstream.IPFamily),
		upstream.WithLogger(logg),
		upstream.WithMetrics(syncMetrics),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create upstream client", err)
		os.Exit(1)
	}

	collectorRepo := collectors.NewRepository(dbClient.DB())
	broker, err := credentials.NewBroker(credentials.BrokerParams{
		Store: credentials.RoutingStore{
			Service:    credentials.NewRedisStore(redisClient),
			Collectors: credentials.NewCollectorStore(collectorRepo),
		},
		Exchanger: upstreamClient,
		Email:     cfg.Upstream.ServiceEmail,
		Password:  cfg.Upstream.ServicePassword,
		Logger:    logg,
		Locker:    credentials.NewRedisLocker(redisClient, cfg.Upstream.CredentialLockTTL),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credential broker", err)
		os.Exit(1)
	}

	broadcaster, err := broadcast.New(redisClient, cfg.Broadcast.Channel, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create change broadcaster", err)
		os.Exit(1)
	}

	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Sender: expo.NewClient(
			expo.WithURL(cfg.Push.URL),
			expo.WithAccessToken(cfg.Push.AccessToken),
			expo.WithTimeout(cfg.Push.Timeout),
		),
		Pruner:      collectorRepo,
		Logger:      logg,
		Metrics:     syncMetrics,
		MaxAttempts: cfg.Push.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification dispatcher", err)
		os.Exit(1)
	}

	syncJob, err := cron.NewPickupSyncJob(cron.PickupSyncJobParams{
		Logger:                logg,
		Collectors:            collectorRepo,
		Pickups:               pickups.NewRepository(dbClient.DB()),
		Tokens:                broker,
		Feed:                  upstreamClient,
		Notifier:              dispatcher,
		Changes:               broadcaster,
		Metrics:               syncMetrics,
		Location:              cfg.Sync.Location(),
		FeedScope:             cfg.Sync.FeedScope,
		DoneRetentionDays:     cfg.Sync.DoneRetentionDays,
		CanceledRetentionDays: cfg.Sync.CanceledRetentionDays,
		TokenConcurrency:      cfg.Sync.TokenConcurrency,
		NotifyConcurrency:     cfg.Sync.NotifyConcurrency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pickup sync job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceName, cfg.App.Env), cfg.Sync.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create sync lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(syncJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Sync.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sync scheduler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"feedScope":   cfg.Sync.FeedScope,
		"instance":    instance.ID(serviceName),
	})

	if *once {
		logg.Info(ctx, "running a single sync cycle")
		service.RunOnce(ctx)
		return
	}

	metricsServer := serveMetrics(ctx, cfg.Metrics.Addr, logg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "metrics server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting sync worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sync worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sync worker shutting down gracefully")
}

func serveMetrics(ctx context.Context, addr string, logg *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics server stopped", err)
		}
	}()
	return server
}
