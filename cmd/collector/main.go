package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/collect/internal/app"
	"github.com/odyssey-erp/collect/internal/auth"
	"github.com/odyssey-erp/collect/internal/backend"
	"github.com/odyssey-erp/collect/internal/camera"
	"github.com/odyssey-erp/collect/internal/collection"
	"github.com/odyssey-erp/collect/internal/observability"
	"github.com/odyssey-erp/collect/internal/platform/cache"
	"github.com/odyssey-erp/collect/internal/platform/db"
	"github.com/odyssey-erp/collect/internal/preview"
	"github.com/odyssey-erp/collect/internal/receipts"
	"github.com/odyssey-erp/collect/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("collector", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, ApplicationName: "collect-api"})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient := jobs.NewClient(redisOpts.AsynqOpt())
	defer func() { _ = jobClient.Close() }()
	inspector := asynq.NewInspector(redisOpts.AsynqOpt())
	defer func() { _ = inspector.Close() }()

	metrics := observability.NewMetrics()
	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, cfg.UploadTimeout)
	relay := camera.NewRelay(cfg.CameraMaxDevices, cfg.CameraCaptureTimeout)
	previews := preview.NewStore(redisClient, cfg.PreviewTTL, cfg.PreviewMaxBytes)
	receiptService := receipts.NewService(receipts.NewRepository(pool), logger)

	money, err := collection.NewFormatter(language.English, cfg.Currency)
	if err != nil {
		return err
	}

	manager := collection.NewManager(
		collection.Deps{
			Invoices: backendClient,
			Payments: backendClient,
			Camera:   relay,
			Uploader: backendClient,
			Previews: previews,
		},
		collection.ManagerConfig{
			PendingLimit:   cfg.PendingInvoiceLimit,
			AutoUpload:     cfg.AutoUpload,
			AutoCloseAfter: cfg.AutoCloseAfter,
			UploadTimeout:  cfg.UploadTimeout,
			Location:       cfg.Location(),
		},
		jobClient,
		logger,
		collection.NewMetrics(metrics.Registerer()),
	)

	authService := auth.NewService(backendClient, redisClient, cfg.IdentityCacheTTL, logger)
	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Auth:              auth.Middleware{Service: authService, Logger: logger},
		AuthHandler:       auth.NewHandler(logger, authService),
		CollectionHandler: collection.NewHandler(logger, manager, relay, receiptService, money, cfg.Location(), cfg.FrameMaxBytes),
		PreviewHandler:    preview.NewHandler(previews, logger),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
		Readiness: []app.ReadinessCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
			{Name: "backend", Check: backendClient.Ping},
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		reap(gctx, manager, cfg.WorkflowIdleTTL)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		manager.Shutdown(shutdownCtx)
		return err
	})
	return g.Wait()
}

// reap closes idle workflows until ctx is done.
func reap(ctx context.Context, manager *collection.Manager, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(min(idle/4, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			manager.Reap(ctx, idle)
		}
	}
}
