package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	inventoryrepo "github.com/zenGate-Global/palmyra-commerce/domains/inventory/be/repo"
	inventoryservice "github.com/zenGate-Global/palmyra-commerce/domains/inventory/be/service"
	"github.com/zenGate-Global/palmyra-commerce/domains/payments/be/gateway"
	paymentsrepo "github.com/zenGate-Global/palmyra-commerce/domains/payments/be/repo"
	paymentsservice "github.com/zenGate-Global/palmyra-commerce/domains/payments/be/service"
	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/notify"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/queue"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/telemetry"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"
)

type config struct {
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	MetricsPort     string        `env:"METRICS_PORT" envDefault:"9090"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	TenantRole      string        `env:"TENANT_DB_ROLE" envDefault:"commerce_tenant"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	Concurrency   int    `env:"WORKER_CONCURRENCY" envDefault:"10"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"commerce.notifications"`
	OpsRecipient string `env:"OPS_NOTIFICATION_RECIPIENT" envDefault:"ops@palmyra.pro"`

	TraceExporter    string  `env:"OTEL_TRACES_EXPORTER" envDefault:"none"` // none | stdout | otlp
	TraceEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceSampleRatio float64 `env:"OTEL_TRACES_SAMPLE_RATIO" envDefault:"1"`
}

func main() {
	ctx := context.Background()

	// A local .env is optional; real environment variables win.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "worker",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName: "commerce-worker",
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.TraceEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	}()

	registry := metrics.NewRegistry()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	asynqClient := queue.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer asynqClient.Close()
	dispatcher := queue.NewDispatcher(asynqClient, logger)

	var notifier notify.Sender = notify.Discard{Logger: logger}
	if cfg.AMQPURL != "" {
		conn, err := notify.DialRabbit(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal("connect notification broker", zap.Error(err))
		}
		defer conn.Close()
		notifier = conn.Publisher(cfg.AMQPExchange, logger)
	}

	guard := persistence.NewTenantGuard(persistence.TenantGuardConfig{Pool: pool, Role: cfg.TenantRole, Logger: logger})
	runner := workflow.NewRunner(logger, workflow.WithMetrics(workflow.NewMetrics(registry)))

	inventoryService := inventoryservice.New(inventoryservice.Config{
		Guard:      guard,
		Runner:     runner,
		Repo:       inventoryrepo.NewPostgresRepository(persistence.NewInventoryStore()),
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	// The worker only confirms settlements; it never charges.
	paymentsService := paymentsservice.New(paymentsservice.Config{
		Guard:      guard,
		Runner:     runner,
		Repo:       paymentsrepo.NewPostgresRepository(persistence.NewOrderStore(), persistence.NewPaymentStore()),
		Gateway:    gateway.NewRouter(nil),
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	handlers := queue.NewHandlersRegistry(logger)
	(&taskHandlers{
		inventory:    inventoryService,
		payments:     paymentsService,
		notifier:     notifier,
		opsRecipient: cfg.OpsRecipient,
		logger:       logger,
	}).register(handlers)

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency:     cfg.Concurrency,
			Queues:          map[string]int{queue.QueueCritical: 6, queue.QueueDefault: 3},
			ShutdownTimeout: cfg.ShutdownTimeout,
			Logger:          logger.Sugar(),
		},
	)

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", metrics.Handler(registry))
	metricsServer := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsRouter, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	if err := server.Start(handlers.Mux()); err != nil {
		logger.Fatal("start worker", zap.Error(err))
	}
	logger.Info("worker started", zap.Int("concurrency", cfg.Concurrency))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	server.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
