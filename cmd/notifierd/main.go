package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/api"
	"github.com/zvonac99/order-notifier/internal/buffer"
	"github.com/zvonac99/order-notifier/internal/config"
	"github.com/zvonac99/order-notifier/internal/event"
	"github.com/zvonac99/order-notifier/internal/gate"
	"github.com/zvonac99/order-notifier/internal/hooks"
	"github.com/zvonac99/order-notifier/internal/janitor"
	"github.com/zvonac99/order-notifier/internal/kvstore"
	"github.com/zvonac99/order-notifier/internal/metrics"
	"github.com/zvonac99/order-notifier/internal/observ"
	"github.com/zvonac99/order-notifier/internal/orders"
	"github.com/zvonac99/order-notifier/internal/service"
	"github.com/zvonac99/order-notifier/internal/stream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger, teed into the operator-facing debug log file
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	debugLog := observ.NewDebugLog(cfg.DebugLogPath)
	logger = debugLog.Attach(logger)
	defer func() {
		_ = logger.Sync()
		_ = debugLog.Close()
	}()

	logger.Info("starting order notifier",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("buffer", cfg.BufferPath),
	)

	ctx := context.Background()

	// Order database
	database, err := orders.New(ctx, orders.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := orders.NewRepository(database, logger)

	// Redis backs the ack markers, the poll cache, and rate limiting.
	// When unavailable the server degrades to in-process state.
	var markerStore kvstore.Store
	var counter api.Counter
	var redisPing api.Pinger

	redisStore, err := kvstore.NewRedis(ctx, kvstore.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, using in-process markers",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		memory := kvstore.NewMemory()
		markerStore = memory
		counter = memory
	} else {
		defer redisStore.Close()
		markerStore = redisStore
		counter = redisStore
		redisPing = redisStore
	}

	// Event buffer on disk, shared delivery state for all sessions
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	buf := buffer.New(cfg.BufferPath, retention, logger)

	// Delivery gate and factories
	g := gate.New(markerStore, logger)
	realFactory := event.NewRealFactory(buf, g, repo, cfg.RoleAllowed, logger)
	defaults := event.Defaults{
		Type:     cfg.DefaultType,
		Position: cfg.DefaultPosition,
		Timeout:  cfg.DefaultTimeout,
		Icon:     cfg.DefaultIcon,
	}
	testFactory := event.NewTestFactory(defaults)

	// Hub wakes open sessions on every buffer change, including writes
	// made by another process sharing the buffer file.
	hub := stream.NewHub(logger)
	if err := os.MkdirAll(filepath.Dir(cfg.BufferPath), 0o755); err != nil {
		return fmt.Errorf("failed to create buffer directory: %w", err)
	}
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := hub.WatchBuffer(watchCtx, cfg.BufferPath); err != nil {
		logger.Warn("buffer watcher unavailable, sessions rely on poll ticks", zap.Error(err))
	}

	session := stream.NewSession(realFactory, testFactory, hub, stream.Config{
		Lifetime:         cfg.StreamLifetime,
		CheckInterval:    cfg.CheckInterval,
		EnablePing:       cfg.EnablePing,
		PingInterval:     cfg.PingInterval,
		FallbackPing:     cfg.FallbackPing,
		EnableTestEvents: cfg.EnableTestEvents,
		TestInterval:     cfg.TestInterval,
	}, logger)

	// Hooks let deployments attach side effects to dispatch and bootstrap
	registry := hooks.NewRegistry(logger)
	registry.Register(service.HookEventDispatched, "log-dispatch", hooks.HandlerFunc(
		func(_ context.Context, args any) error {
			if a, ok := args.(service.DispatchedArgs); ok {
				logger.Debug("dispatch hook fired", zap.String("uid", a.Event.UID))
			}
			return nil
		}))

	svc := service.NewOrderEventService(
		buf, repo, g, hub, registry, defaults,
		cfg.TrackedStatuses, cfg.ReloadTable, logger,
	)

	// Poll responses are cached briefly to absorb bursts of idle tabs
	cache := orders.NewCache(repo, markerStore, logger)

	rateLimiter := api.NewRateLimiter(counter, logger, api.RateLimitConfig{
		Limit:  120,
		Window: 1 * time.Minute,
	})

	// Scheduled maintenance
	jan := janitor.New(logger)
	if err := jan.ScheduleBufferCleanup(janitor.BufferCleanupSpec, buf); err != nil {
		return err
	}
	if err := jan.ScheduleUserMetaSweep(janitor.UserMetaSweepSpec, "90 days", repo); err != nil {
		return err
	}
	jan.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jan.Stop(stopCtx)
	}()

	handler := api.NewHandler(
		logger, svc, g, buf, cache, session, debugLog,
		cfg.TrackedStatuses, database, redisPing,
	)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.IdentityMiddleware(logger, cfg.RoleAllowed))
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.UserKeyFunc))

		r.Get("/stream", handler.Stream)
		r.Post("/orders/check", handler.CheckOrders)
		r.Post("/events/{uid}/ack", handler.AckEvent)
		r.Post("/hooks/order", handler.OrderHook)
		r.Post("/bootstrap", handler.Bootstrap)
		r.Post("/buffer/reset", handler.ResetBuffer)
		r.Post("/buffer/cleanup", handler.CleanupBuffer)
		r.Get("/debug/log", handler.DebugLog)
		r.Delete("/debug/log", handler.ClearDebugLog)
	})

	r.Get("/health", handler.Health)
	r.Handle("/metrics", metrics.Handler())

	// Stream sessions are held open up to the configured lifetime, so the
	// server write timeout must not cut them off.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
