package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medjbersoundous/backend-ramassage-packers/api/routes"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/broadcast"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/collectors"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/credentials"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/pickups"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/config"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/instance"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/metrics"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/migrate"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/redis"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/upstream"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	pickupService, err := pickups.NewService(pickups.ServiceParams{
		Store:      pickups.NewRepository(dbClient.DB()),
		Collectors: collectorRepo,
		Propagator: pickups.NewPropagator(broker, upstreamClient, logg, syncMetrics),
		Changes:    broadcaster,
		Location:   cfg.Sync.Location(),
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pickup service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.ID("api"),
	})

	// Event streams never finish on their own; shutdown cancels them.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	handler := routes.NewRouter(routes.RouterParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Pickups:    pickupService,
		Changes:    broadcaster,
		PushTokens: collectorRepo,
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		pickupService.Wait()
		logg.Info(shutdownCtx, "api server shut down gracefully")
	}
}
