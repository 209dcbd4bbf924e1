package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/automation"
	"gitlab.com/arveo/api/crm-conversation-service/internal/cache"
	"gitlab.com/arveo/api/crm-conversation-service/internal/config"
	"gitlab.com/arveo/api/crm-conversation-service/internal/delivery"
	"gitlab.com/arveo/api/crm-conversation-service/internal/dlqworker"
	"gitlab.com/arveo/api/crm-conversation-service/internal/healthcheck"
	"gitlab.com/arveo/api/crm-conversation-service/internal/ingest"
	"gitlab.com/arveo/api/crm-conversation-service/internal/intake"
	"gitlab.com/arveo/api/crm-conversation-service/internal/jetstream"
	"gitlab.com/arveo/api/crm-conversation-service/internal/objstore"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/internal/orders"
	"gitlab.com/arveo/api/crm-conversation-service/internal/partner"
	"gitlab.com/arveo/api/crm-conversation-service/internal/resolver"
	"gitlab.com/arveo/api/crm-conversation-service/internal/storage"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting CRM Conversation Service",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.NATS.URL),
	)

	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	jsClient, err := jetstream.NewClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	queryCache := initQueryCache(cfg)

	// The object store is optional; without it attachments cannot be
	// uploaded but text delivery still works.
	var attachmentStore objstore.Store
	if cfg.ObjectStore.Bucket != "" {
		s3Store, err := objstore.NewS3Store(context.Background(), cfg.ObjectStore)
		if err != nil {
			logger.Log.Fatal("Failed to initialize object store", zap.Error(err))
		}
		attachmentStore = s3Store
	} else {
		logger.Log.Warn("Object store bucket not configured, attachment uploads disabled")
	}

	channelSender, err := delivery.NewChannelSender(cfg.Channel, attachmentStore)
	if err != nil {
		logger.Log.Fatal("Failed to initialize channel sender", zap.Error(err))
	}
	webhookPusher := delivery.NewWebhookPusher(cfg.Partner)
	partnerClient := partner.NewClient(cfg.Partner)

	// Matched automation actions go out over core NATS; the automation
	// engine consumes them on its own schedule.
	actionWorker, err := automation.NewActionWorker(
		cfg.WorkerPools.Automation,
		automation.NewNatsActionExecutor(jsClient.NatsConn(), automation.DefaultActionsSubject),
		logger.Log,
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize automation worker pool", zap.Error(err))
	}
	dispatcher := automation.NewRuleDispatcher(postgresRepo, actionWorker, logger.Log)

	identity := resolver.New(postgresRepo, postgresRepo, partnerClient, dispatcher)
	pipeline := ingest.NewPipeline(postgresRepo, postgresRepo, postgresRepo, identity, dispatcher, queryCache)
	orderService := orders.NewService(postgresRepo, postgresRepo, dispatcher, webhookPusher, queryCache)
	outbound := delivery.NewOutboundService(postgresRepo, postgresRepo, postgresRepo, channelSender, queryCache)

	router := intake.NewRouter()
	intake.NewHandlers(pipeline, orderService, outbound).Bind(router)

	consumer := intake.NewConsumer(jsClient, router, cfg.NATS.Events, cfg.NATS.DLQSubject)
	if err := consumer.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up event consumer", zap.Error(err))
	}

	dlqWorker, err := dlqworker.NewWorker(cfg, logger.Log, jsClient.NatsConn(), jsClient, router, postgresRepo)
	if err != nil {
		logger.Log.Fatal("Failed to initialize DLQ worker", zap.Error(err))
	}

	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	healthServer.RegisterReadinessCheck("postgres", func(ctx context.Context) error {
		sqlDB, err := postgresRepo.DB().DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	healthServer.RegisterReadinessCheck("nats", func(context.Context) error {
		if !jsClient.NatsConn().IsConnected() {
			return errors.New("nats connection down")
		}
		return nil
	})
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}
	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	if err := consumer.Start(); err != nil {
		logger.Log.Fatal("Failed to start event consumer", zap.Error(err))
	}

	// Start DLQ worker in a separate goroutine
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	sigChan := make(chan os.Signal, 1)
	go func() {
		if err := dlqWorker.Start(mainCtx); err != nil {
			logger.Log.Error("DLQ worker failed, initiating shutdown", zap.Error(err))
			mainCancel()
			select {
			case sigChan <- syscall.SIGTERM:
			default:
				logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
			}
		}
	}()

	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(5)

	// Shutdown event consumer (JetStream subscription)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping event consumer")
		start := time.Now()
		consumer.Stop()
		logger.Log.Info("[shutdown] Event consumer stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping event consumer",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown DLQ worker
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping DLQ worker")
		start := time.Now()
		dlqWorker.Stop()
		logger.Log.Info("[shutdown] DLQ worker stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping DLQ worker",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown automation worker pool
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping automation worker pool")
		start := time.Now()
		actionWorker.Stop()
		logger.Log.Info("[shutdown] Automation worker pool stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping automation worker pool",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown health check server (includes metrics if enabled)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Health check server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Close database and messaging connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsStart := time.Now()
		jsClient.Close()
		logger.Log.Info("[shutdown] JetStream connection closed",
			zap.Duration("duration", time.Since(jsStart)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("CRM Conversation Service shutdown complete")
}

func initPostgresRepo(dsn string, autoMigrate bool) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initQueryCache prefers Redis so invalidation reaches every replica; a
// single-node deployment can fall back to the in-process cache.
func initQueryCache(cfg *config.Config) cache.Cache {
	if cfg.Redis.Addr == "" {
		logger.Log.Info("Redis not configured, using in-memory query cache",
			zap.Duration("ttl", cfg.Redis.TTL))
		return cache.NewMemoryCache(cfg.Redis.TTL)
	}

	redisCache, err := cache.NewRedisCache(context.Background(), cfg.Redis)
	if err != nil {
		logger.Log.Warn("Redis unreachable, falling back to in-memory query cache", zap.Error(err))
		return cache.NewMemoryCache(cfg.Redis.TTL)
	}
	logger.Log.Info("Initialized Redis query cache", zap.String("addr", cfg.Redis.Addr))
	return redisCache
}
