package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/YelzhanWeb/printforge/internal/adapter/gcs"
	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/adapter/postgres"
	"github.com/YelzhanWeb/printforge/internal/adapter/rabbitmq"
	"github.com/YelzhanWeb/printforge/internal/app/order"
	"github.com/YelzhanWeb/printforge/internal/app/slicing"
	"github.com/YelzhanWeb/printforge/internal/app/tracking"
	"github.com/YelzhanWeb/printforge/internal/config"
	"github.com/YelzhanWeb/printforge/internal/pricing"
	"github.com/YelzhanWeb/printforge/internal/slicer"
	"github.com/YelzhanWeb/printforge/internal/upload"

	amqpAdapter "github.com/YelzhanWeb/printforge/internal/adapter/amqp"
	httpAdapter "github.com/YelzhanWeb/printforge/internal/adapter/http"
)

const shutdownTimeout = 10 * time.Second

// infra holds the connections every process mode shares.
type infra struct {
	cfg    *config.Config
	logger logger.Logger
	db     postgres.DB
	mq     rabbitmq.Connection
	store  *gcs.Store
}

func (i *infra) Close() {
	if i.store != nil {
		i.store.Close()
	}
	if i.mq != nil {
		i.mq.Close()
	}
	if i.db != nil {
		i.db.Close()
	}
}

// connect loads config and dials the dependencies a mode needs.
func connect(ctx context.Context, mode string, withDB, withStorage bool) (*infra, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	in := &infra{cfg: cfg, logger: logger.New(mode)}

	if withDB {
		in.db, err = postgres.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		in.logger.Info("db_connected", "Connected to PostgreSQL database", "startup", map[string]interface{}{
			"host": cfg.Database.Host,
			"db":   cfg.Database.Database,
		})
	}

	in.mq, err = rabbitmq.Connect(cfg.RabbitMQ)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	in.logger.Info("rabbitmq_connected", "Connected to RabbitMQ", "startup", map[string]interface{}{
		"host": cfg.RabbitMQ.Host,
	})

	if withStorage {
		in.store, err = gcs.NewStore(ctx, cfg.Storage)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("failed to open object storage: %w", err)
		}
		in.logger.Info("storage_connected", "Object storage ready", "startup", map[string]interface{}{
			"bucket": cfg.Storage.Bucket,
		})
	}

	return in, nil
}

func (i *infra) uploads() *upload.Coordinator {
	return upload.NewCoordinator(i.store, upload.Config{
		ModelFolder:   i.cfg.Storage.ModelFolder,
		GcodeFolder:   i.cfg.Storage.GcodeFolder,
		MaxModelBytes: i.cfg.Upload.MaxModelBytes,
		MaxGcodeBytes: i.cfg.Upload.MaxGcodeBytes,
		SignTTL:       i.cfg.Storage.SignTTL,
	}, i.logger)
}

func (i *infra) orchestrator() *slicer.Orchestrator {
	return slicer.New(slicer.Config{
		EnginePath:  i.cfg.Slicer.Path,
		ProfilePath: i.cfg.Slicer.Profile,
		Timeout:     i.cfg.Slicer.Timeout,
		TempDir:     i.cfg.Slicer.TempDir,
		WindowBytes: i.cfg.Slicer.WindowBytes,
	}, i.logger)
}

func (i *infra) orderService(uploads *upload.Coordinator, slicingEnabled bool) *order.Service {
	return order.NewService(
		postgres.NewCustomOrderRepository(i.db),
		rabbitmq.NewPublisher(i.mq),
		uploads,
		pricing.NewEstimator(pricing.DefaultTable()),
		order.Options{SlicingEnabled: slicingEnabled, WindowBytes: i.cfg.Slicer.WindowBytes},
		i.logger,
	)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runOrderService(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	in, err := connect(ctx, "order-service", true, true)
	if err != nil {
		return err
	}
	defer in.Close()
	cfg, lgr := in.cfg, in.logger

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (PRINTFORGE_JWT_SECRET) is required for order-service")
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTP.Port = port
	}

	// Slice jobs are queued only when this deployment has an engine; without
	// one, orders wait for an admin to attach a toolpath.
	uploads := in.uploads()
	slicingEnabled := in.orchestrator().Configured()
	orderService := in.orderService(uploads, slicingEnabled)
	trackingService := tracking.NewService(
		postgres.NewCustomOrderRepository(in.db),
		postgres.NewWorkerRepository(in.db),
		lgr,
		3*cfg.Slicer.HeartbeatInterval,
	)

	handler := httpAdapter.NewRouter(
		httpAdapter.NewCustomOrderHandler(orderService, lgr, uploads.MaxModelBytes(), uploads.MaxGcodeBytes()),
		httpAdapter.NewTrackingHandler(trackingService, lgr),
		httpAdapter.AuthMiddleware([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, lgr),
		in.db.Ping,
		lgr,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	lgr.Info("service_started", fmt.Sprintf("Order Service started on port %d", cfg.HTTP.Port), "startup", map[string]interface{}{
		"port":            cfg.HTTP.Port,
		"slicing_enabled": slicingEnabled,
	})

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		lgr.Info("shutdown_initiated", "Shutting down Order Service", "shutdown", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			lgr.Error("shutdown_error", "Error during shutdown", "shutdown", nil, err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lgr.Error("server_error", "Server error", "runtime", nil, err)
		return err
	}
	return nil
}

func runSlicerWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	in, err := connect(ctx, "slicer-worker", true, true)
	if err != nil {
		return err
	}
	defer in.Close()
	cfg, lgr := in.cfg, in.logger

	poolSize := cfg.Slicer.PoolSize
	if prefetch > 0 {
		poolSize = prefetch
	}
	interval := cfg.Slicer.HeartbeatInterval
	if heartbeatInterval > 0 {
		interval = heartbeatInterval
	}

	uploads := in.uploads()
	engine := in.orchestrator()
	slicingService := slicing.NewService(
		in.orderService(uploads, engine.Configured()),
		postgres.NewWorkerRepository(in.db),
		uploads,
		engine,
		slicing.Options{
			WorkerName:        workerName,
			EngineName:        filepath.Base(cfg.Slicer.Path),
			PoolSize:          poolSize,
			HeartbeatInterval: interval,
		},
		lgr,
	)

	if err := slicingService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start slicer worker: %w", err)
	}

	lgr.Info("service_started", fmt.Sprintf("Slicer Worker %s started", workerName), "startup", map[string]interface{}{
		"worker_name": workerName,
		"engine":      cfg.Slicer.Path,
		"pool_size":   poolSize,
	})

	// Blocks until a signal arrives and every in-flight job has settled.
	consumer := rabbitmq.NewConsumer(in.mq, poolSize, lgr)
	jobs := amqpAdapter.NewSliceJobHandler(slicingService, lgr)
	if err := consumer.ConsumeSliceJobs(ctx, jobs.HandleSliceJob); err != nil && !errors.Is(err, context.Canceled) {
		lgr.Error("consumer_error", "Error consuming slice jobs", "runtime", nil, err)
	}

	lgr.Info("graceful_shutdown", "Shutting down Slicer Worker", "shutdown", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := slicingService.Shutdown(shutdownCtx); err != nil {
		lgr.Error("shutdown_error", "Error during shutdown", "shutdown", nil, err)
		return err
	}
	return nil
}

func runNotificationSubscriber(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	in, err := connect(ctx, "notification-subscriber", false, false)
	if err != nil {
		return err
	}
	defer in.Close()
	lgr := in.logger

	consumer := rabbitmq.NewConsumer(in.mq, 1, lgr)
	notifications := amqpAdapter.NewNotificationHandler(lgr)

	lgr.Info("service_started", "Notification Subscriber started", "startup", nil)

	if err := consumer.ConsumeNotifications(ctx, notifications.HandleNotification); err != nil && !errors.Is(err, context.Canceled) {
		lgr.Error("consumer_error", "Error consuming notifications", "runtime", nil, err)
		return err
	}

	lgr.Info("shutdown_initiated", "Shutting down Notification Subscriber", "shutdown", nil)
	return nil
}
