// Package main is the entry point for the VNF manager.
// It wires the lifecycle core to its storage, grant authority,
// infrastructure drivers and notification pipeline, and serves the
// VNF LCM API.
//
// The application performs the following initialization sequence:
//  1. Load configuration from config file and environment variables
//  2. Initialize structured logging with zap
//  3. Connect to Redis for instances, op-occs, subscriptions, locks and the notification queue
//  4. Initialize the grant authority, coordination client, hook runner and VNF package catalog
//  5. Register the infrastructure drivers
//  6. Start the notification worker and the lifecycle conductor
//  7. Recover op-occs interrupted by a previous process
//  8. Start the HTTP server with graceful shutdown support
//
// Graceful shutdown is triggered by SIGINT (Ctrl+C) or SIGTERM signals.
//
// Example usage:
//
//	# Start with default config
//	./vnfm
//
//	# Start with custom config file
//	./vnfm --config=/etc/vnfm/config.yaml
//
//	# Start with environment variable overrides
//	export VNFM_SERVER_PORT=9890
//	export VNFM_REDIS_ADDRESSES=redis.example.com:6379
//	./vnfm
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/asyncpoll"
	"github.com/piwi3910/vnfm/internal/autoheal"
	"github.com/piwi3910/vnfm/internal/conductor"
	"github.com/piwi3910/vnfm/internal/config"
	"github.com/piwi3910/vnfm/internal/coordination"
	"github.com/piwi3910/vnfm/internal/events"
	"github.com/piwi3910/vnfm/internal/grant"
	"github.com/piwi3910/vnfm/internal/infra"
	"github.com/piwi3910/vnfm/internal/infra/kubernetes"
	"github.com/piwi3910/vnfm/internal/infra/mock"
	"github.com/piwi3910/vnfm/internal/infra/openstack"
	"github.com/piwi3910/vnfm/internal/lock"
	"github.com/piwi3910/vnfm/internal/mgmtdriver"
	"github.com/piwi3910/vnfm/internal/observability"
	"github.com/piwi3910/vnfm/internal/server"
	"github.com/piwi3910/vnfm/internal/storage"
	"github.com/piwi3910/vnfm/internal/vnfpkg"
	"github.com/piwi3910/vnfm/internal/workers"
)

const (
	// Version is the application version (set via build flags).
	Version = "1.0.0"

	// ServiceName is the name of this service.
	ServiceName = "vnfm"

	consumerGroup = "vnfm-notifiers"
)

var (
	// Command-line flags.
	configPath  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		if _, err := fmt.Fprintf(os.Stdout, "%s version %s\n", ServiceName, Version); err != nil {
			panic(err)
		}
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the main application logic.
// It returns an error if any critical initialization or runtime error occurs.
func run() error {
	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := InitializeLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", syncErr)
		}
	}()

	logger.Info("VNF manager starting",
		zap.String("version", Version),
		zap.String("service", ServiceName),
		zap.String("environment", cfg.Environment),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close(logger)

	return runServerWithShutdown(cfg, logger, components)
}

// applicationComponents holds all initialized application components.
type applicationComponents struct {
	redisClient redis.UniversalClient
	store       *storage.RedisStore
	scheduler   *asyncpoll.Scheduler
	notifier    *events.WebhookNotifier
	worker      *workers.NotificationWorker
	autoheal    *autoheal.Notifier
	conductor   *conductor.Conductor
	server      *server.Server

	cancelWorker context.CancelFunc
}

// Close releases the components in reverse start order. The HTTP server
// and the conductor are stopped by gracefulShutdown before this runs.
func (c *applicationComponents) Close(logger *zap.Logger) {
	if c.autoheal != nil {
		c.autoheal.Stop()
	}
	if c.cancelWorker != nil {
		c.cancelWorker()
	}
	if c.worker != nil {
		if err := c.worker.Stop(); err != nil {
			logger.Warn("failed to stop notification worker", zap.Error(err))
		}
	}
	if c.notifier != nil {
		if err := c.notifier.Close(); err != nil {
			logger.Warn("failed to close webhook notifier", zap.Error(err))
		}
	}
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			logger.Warn("failed to close Redis connection", zap.Error(err))
		}
	}
}

// deferredHealer breaks the construction cycle between the autoheal
// notifier, which heals through the conductor, and the conductor, which
// publishes through the notifier.
type deferredHealer struct {
	autoheal.Healer
}

// initializeComponents initializes all application components.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (components *applicationComponents, err error) {
	components = &applicationComponents{}
	defer func() {
		if err != nil {
			components.Close(logger)
		}
	}()

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Observability.Metrics.Namespace, prometheus.DefaultRegisterer)
	}

	components.redisClient = storage.NewClient(BuildRedisConfig(cfg))
	sealer, err := storage.NewSealer(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential sealer: %w", err)
	}
	if cfg.Security.EncryptionKey == "" {
		// Validate only lets this through in development.
		logger.Warn("SECURITY WARNING: no encryption_key configured, subscription and VIM credentials are stored in plaintext",
			zap.String("environment", cfg.Environment),
		)
	}
	components.store = storage.NewRedisStore(components.redisClient, sealer)
	if err := verifyRedisConnectivity(components.store); err != nil {
		return nil, err
	}
	logger.Info("Redis storage initialized successfully",
		zap.String("mode", cfg.Redis.Mode),
		zap.Strings("addresses", cfg.Redis.Addresses),
	)

	components.scheduler = asyncpoll.NewScheduler(asyncpoll.RealClock{}, logger, metrics)

	grants, err := InitializeGrants(cfg, components.scheduler, logger, metrics)
	if err != nil {
		return nil, err
	}

	coordinator, err := coordination.NewClient(context.Background(), coordination.Config{
		Auth:                 cfg.Coordination.Auth.Authentication(),
		Timeout:              cfg.Coordination.Timeout,
		DefaultRetryInterval: cfg.Coordination.DefaultRetryInterval,
	}, components.scheduler, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize coordination client: %w", err)
	}

	registry, infraManager, err := InitializeInfra(cfg, components.scheduler, logger, metrics)
	if err != nil {
		return nil, err
	}

	publisher, err := initializeNotifications(cfg, components, logger, metrics)
	if err != nil {
		return nil, err
	}

	healer := &deferredHealer{}
	if cfg.Autoheal.Enabled {
		components.autoheal, err = autoheal.NewNotifier(healer, cfg.Autoheal.TimerDuration, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize autoheal notifier: %w", err)
		}
		publisher = components.autoheal.Publisher(publisher)
		logger.Info("autoheal enabled", zap.Duration("timer_duration", cfg.Autoheal.TimerDuration))
	}

	components.conductor, err = conductor.New(&conductor.Config{
		Store:                components.store,
		Locker:               lock.NewRedisLocker(components.redisClient, cfg.LCM.LockTTL),
		Grants:               grants,
		Coordinator:          coordinator,
		CoordinationEndpoint: cfg.Coordination.Endpoint,
		Hooks:                mgmtdriver.NewRunner(cfg.MgmtDriver.Timeout, logger, metrics),
		Catalog:              vnfpkg.NewDirCatalog(cfg.VnfPkg.CatalogDir, logger),
		Infra:                infraManager,
		Publisher:            publisher,
		Endpoint:             cfg.LCM.Endpoint,
		Logger:               logger,
		Metrics:              metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize conductor: %w", err)
	}
	healer.Healer = components.conductor

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	recovered, err := components.conductor.Recover(ctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to recover interrupted op-occs: %w", err)
	}
	if recovered > 0 {
		logger.Warn("interrupted op-occs moved to FAILED_TEMP", zap.Int("count", recovered))
	}

	deps := &server.Dependencies{
		LCM:           components.conductor,
		Subscriptions: components.store,
		Verifier:      components.notifier,
		RedisClient:   components.redisClient,
		Metrics:       metrics,
		HealthChecker: initializeHealthChecker(components.store, registry, logger),
	}
	if components.autoheal != nil {
		deps.Notifier = components.autoheal
	}
	components.server = server.New(cfg, logger, deps)
	logger.Info("HTTP server created",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("mode", cfg.Server.GinMode),
	)

	return components, nil
}

// initializeNotifications starts the delivery pipeline: the dispatcher
// queues notifications for matching subscriptions and the worker pool
// delivers them through the webhook notifier.
func initializeNotifications(
	cfg *config.Config,
	components *applicationComponents,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (conductor.Publisher, error) {
	notifierCfg := events.DefaultNotifierConfig()
	notifierCfg.HTTPTimeout = cfg.Notification.Timeout
	notifierCfg.MaxRetries = cfg.Notification.MaxRetries

	notifier, err := events.NewWebhookNotifier(notifierCfg,
		events.NewRedisDeliveryTracker(components.redisClient), logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize webhook notifier: %w", err)
	}
	components.notifier = notifier

	queue := events.NewRedisQueue(components.redisClient, logger, metrics)
	worker, err := workers.NewNotificationWorker(&workers.Config{
		Queue:         queue,
		Notifier:      notifier,
		Subscriptions: components.store,
		RedisClient:   components.redisClient,
		Logger:        logger,
		Metrics:       metrics,
		WorkerCount:   cfg.Notification.Workers,
		ConsumerGroup: consumerGroup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize notification worker: %w", err)
	}
	components.worker = worker

	ctx, cancel := context.WithCancel(context.Background())
	components.cancelWorker = cancel
	// Start blocks until the worker is stopped.
	go func() {
		if err := worker.Start(ctx); err != nil {
			logger.Error("notification worker failed", zap.Error(err))
		}
	}()

	filter := events.NewSubscriptionFilter(components.store, logger)
	return events.NewDispatcher(filter, queue, cfg.LCM.Endpoint, logger, metrics), nil
}

// InitializeGrants returns the grant authority selected by nfvo.mode.
func InitializeGrants(
	cfg *config.Config,
	sched *asyncpoll.Scheduler,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (grant.Requester, error) {
	if cfg.NFVO.Mode == config.NFVOModeLocal {
		logger.Info("using local grant authority", zap.Strings("zones", cfg.NFVO.Zones))
		return grant.NewLocalNFVO(cfg.NFVO.Zones, logger, metrics), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.NFVO.Timeout)
	defer cancel()

	client, err := grant.NewClient(ctx, grant.Config{
		Endpoint:             cfg.NFVO.Endpoint,
		Auth:                 cfg.NFVO.Auth.Authentication(),
		Timeout:              cfg.NFVO.Timeout,
		DefaultRetryInterval: cfg.NFVO.DefaultRetryInterval,
		MaxRetryWait:         cfg.NFVO.MaxRetryWait,
	}, sched, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize NFVO grant client: %w", err)
	}
	logger.Info("using external grant authority", zap.String("endpoint", cfg.NFVO.Endpoint))
	return client, nil
}

// InitializeInfra registers the enabled infrastructure drivers. The
// first enabled driver in the order openstack, kubernetes, mock serves
// VIM connections that name no known type.
func InitializeInfra(
	cfg *config.Config,
	sched *asyncpoll.Scheduler,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*infra.Registry, *infra.Manager, error) {
	registry := infra.NewRegistry(logger)

	var drivers []infra.Driver
	if cfg.Infra.OpenStack.Enabled {
		drivers = append(drivers, openstack.New(&openstack.Config{
			Region:  cfg.Infra.OpenStack.Region,
			Timeout: cfg.Infra.Timeout,
			Logger:  logger,
		}))
	}
	if cfg.Infra.Kubernetes.Enabled {
		drivers = append(drivers, kubernetes.New(&kubernetes.Config{
			Kubeconfig: cfg.Infra.Kubernetes.ConfigPath,
			Namespace:  cfg.Infra.Kubernetes.Namespace,
			Logger:     logger,
		}))
	}
	if cfg.Infra.Mock {
		logger.Warn("in-memory infra driver enabled, no real resources are created")
		drivers = append(drivers, mock.NewDriver())
	}
	if len(drivers) == 0 {
		return nil, nil, fmt.Errorf("no infra driver enabled")
	}

	for i, d := range drivers {
		if err := registry.Register(d, i == 0); err != nil {
			return nil, nil, fmt.Errorf("failed to register infra driver %s: %w", d.Name(), err)
		}
	}

	for _, m := range registry.ListMetadata() {
		if m.Default {
			logger.Info("instances without a known VIM type use the default infra driver",
				zap.String("driver", m.Name),
				zap.String("vim_type", m.VimType),
			)
		}
	}

	manager := infra.NewManager(registry, sched, cfg.Infra.PollInterval, cfg.Infra.Timeout, logger, metrics)
	return registry, manager, nil
}

// runServerWithShutdown starts the server and handles graceful shutdown.
func runServerWithShutdown(cfg *config.Config, logger *zap.Logger, components *applicationComponents) error {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- components.server.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			gracefulShutdown(cfg, logger, components)
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		return gracefulShutdown(cfg, logger, components)
	}
}

// gracefulShutdown stops accepting requests, then cancels running
// pipelines. Op-occs cut short are recovered on the next start.
func gracefulShutdown(cfg *config.Config, logger *zap.Logger, components *applicationComponents) error {
	logger.Info("initiating graceful shutdown",
		zap.Duration("timeout", cfg.Server.ShutdownTimeout),
	)

	if err := components.server.Shutdown(); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := components.conductor.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown timed out, pipelines still running", zap.Error(err))
		return fmt.Errorf("shutdown timeout exceeded: %w", err)
	}

	logger.Info("graceful shutdown completed successfully")
	return nil
}

// loadConfiguration loads and validates the application configuration.
func loadConfiguration(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// InitializeLogger creates the logger for the configured environment. The
// configured level applies unless LOG_LEVEL is set.
func InitializeLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.InitLogger(cfg.Environment, cfg.Observability.Logging.Level)
}

// BuildRedisConfig creates storage.RedisConfig from config.Config.
func BuildRedisConfig(cfg *config.Config) *storage.RedisConfig {
	redisCfg := &storage.RedisConfig{
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	}

	if cfg.Redis.Mode == "sentinel" {
		redisCfg.UseSentinel = true
		redisCfg.SentinelAddrs = cfg.Redis.Addresses
		redisCfg.MasterName = cfg.Redis.MasterName
		return redisCfg
	}

	redisCfg.Addr = "localhost:6379"
	if len(cfg.Redis.Addresses) > 0 {
		redisCfg.Addr = cfg.Redis.Addresses[0]
	}
	return redisCfg
}

// verifyRedisConnectivity tests Redis connection.
func verifyRedisConnectivity(store *storage.RedisStore) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("redis connectivity check failed: %w", err)
	}

	return nil
}

// initializeHealthChecker creates and configures the health checker.
func initializeHealthChecker(store *storage.RedisStore, registry *infra.Registry, logger *zap.Logger) *observability.HealthChecker {
	healthChecker := observability.NewHealthChecker(Version)
	healthChecker.SetTimeout(5 * time.Second)

	healthChecker.RegisterHealthCheck("redis", store.Ping)
	healthChecker.RegisterReadinessCheck("redis", store.Ping)
	healthChecker.RegisterReadinessCheck("infra", registry.Health)

	logger.Info("health checks registered",
		zap.Int("health_checks", 1),
		zap.Int("readiness_checks", 2),
	)

	return healthChecker
}
