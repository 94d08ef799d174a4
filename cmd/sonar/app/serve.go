package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/askwhyharsh/sonar/internal/api"
	"github.com/askwhyharsh/sonar/internal/config"
	"github.com/askwhyharsh/sonar/internal/proximity"
	"github.com/askwhyharsh/sonar/internal/radar"
	"github.com/askwhyharsh/sonar/internal/ratelimit"
	"github.com/askwhyharsh/sonar/internal/session"
	"github.com/askwhyharsh/sonar/internal/storage"
	"github.com/askwhyharsh/sonar/internal/telemetry"
	"github.com/askwhyharsh/sonar/internal/websocket"
	"github.com/askwhyharsh/sonar/pkg/logger"
	"github.com/askwhyharsh/sonar/pkg/validator"
)

const (
	shutdownTimeout = 10 * time.Second
	persistBackoff  = 200 * time.Millisecond
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the radar server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.NewLogger(cfg.Server.Env, cfg.Monitoring.LogLevel)
	if z, ok := appLogger.(*logger.ZapLogger); ok {
		defer func() { _ = z.Sync() }()
	}
	appLogger.Info("Starting sonar server", "env", cfg.Server.Env, "store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := storage.NewRedisClient(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	appLogger.Info("Connected to Redis", "address", cfg.RedisAddr())

	store, closeStore, err := openStore(ctx, cfg, redisClient, appLogger)
	if err != nil {
		return err
	}
	defer closeStore()

	meterProvider, shutdownMetrics, err := telemetry.NewMeterProvider(cfg.Monitoring.EnableMetrics)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			appLogger.Warn("Failed to flush metrics", "error", err)
		}
	}()
	radarMetrics, err := telemetry.NewRadarMetrics(meterProvider)
	if err != nil {
		return err
	}

	radarCfg := radarConfig(cfg)
	components := radar.Components{
		Config:   radarCfg,
		Matcher:  proximity.NewBucketMatcher(store, radarCfg.Precision, proximity.DefaultQueryTimeout, appLogger),
		Store:    store,
		Identity: session.Identity{},
		Metrics:  radarMetrics,
		Logger:   appLogger,
	}

	hub := websocket.NewHub(redisClient, appLogger)
	registry := radar.NewRegistry(hub.OrchestratorFactory(components.Build), cfg.Session.RadarIdle(), appLogger)

	sessionService := session.NewService(redisClient, store, cfg.Session.TTL(), cfg.RateLimit.MaxUsernameChanges)
	sessionManager := session.NewManager(sessionService, appLogger)

	rateLimiter := ratelimit.NewLimiter(redisClient, cfg.RateLimit)

	wsHandler := websocket.NewHandler(hub, registry, sessionManager, cfg.Server.AllowedOrigins, appLogger)
	apiHandler := api.NewHandler(sessionService, registry, rateLimiter, validator.NewValidator(), redisClient, appLogger)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	opts := api.RouteOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         appLogger,
	}
	if cfg.Monitoring.EnableMetrics {
		opts.Metrics = promhttp.Handler()
	}
	api.SetupRoutes(router, apiHandler, wsHandler, sessionManager, ratelimit.NewMiddleware(rateLimiter), opts)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		registry.Start(gctx, cfg.Session.CleanupInterval())
		return nil
	})
	if cfg.Store.Backend == config.StoreRedis && cfg.Radar.CellNotifications {
		notifier := radar.NewNotifier(redisClient, registry, uint(cfg.Radar.GeohashCellChars), appLogger)
		g.Go(func() error {
			return notifier.Run(gctx)
		})
	}
	g.Go(func() error {
		appLogger.Info("Server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server stopped with error", "error", err)
		return err
	}

	appLogger.Info("Server stopped")
	return nil
}

// openStore picks the record store backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, redisClient storage.RedisClient, log logger.Logger) (proximity.RecordStore, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		return storage.NewRedisRecordStore(redisClient, uint(cfg.Radar.GeohashCellChars), log), func() {}, nil
	case config.StorePostgres:
		pg, err := storage.NewPostgresRecordStore(ctx, cfg.Postgres.DSN, cfg.Radar.BucketPrecision)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() {
			if err := pg.Close(); err != nil {
				log.Warn("Failed to close postgres", "error", err)
			}
		}, nil
	default:
		return storage.NewMemoryRecordStore(), func() {}, nil
	}
}

func radarConfig(cfg *config.Config) radar.Config {
	r := cfg.Radar
	return radar.Config{
		Precision:        r.BucketPrecision,
		ThresholdKm:      r.SignificanceKm,
		Debounce:         r.Debounce(),
		AcquireTimeout:   r.AcquireTimeout(),
		MaxAge:           r.MaxAge(),
		NearbyLimit:      r.NearbyLimit,
		SubscriberBuffer: r.SubscriberBuffer,
		PersistAttempts:  r.PersistMaxAttempts,
		PersistBackoff:   persistBackoff,
	}
}
