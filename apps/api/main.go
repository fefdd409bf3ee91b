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
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/contracts"
	inventoryhandler "github.com/zenGate-Global/palmyra-commerce/domains/inventory/be/handler"
	inventoryrepo "github.com/zenGate-Global/palmyra-commerce/domains/inventory/be/repo"
	inventoryservice "github.com/zenGate-Global/palmyra-commerce/domains/inventory/be/service"
	ordershandler "github.com/zenGate-Global/palmyra-commerce/domains/orders/be/handler"
	ordersrepo "github.com/zenGate-Global/palmyra-commerce/domains/orders/be/repo"
	ordersservice "github.com/zenGate-Global/palmyra-commerce/domains/orders/be/service"
	"github.com/zenGate-Global/palmyra-commerce/domains/payments/be/gateway"
	paymentshandler "github.com/zenGate-Global/palmyra-commerce/domains/payments/be/handler"
	paymentsrepo "github.com/zenGate-Global/palmyra-commerce/domains/payments/be/repo"
	paymentsservice "github.com/zenGate-Global/palmyra-commerce/domains/payments/be/service"
	tenantshandler "github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/handler"
	tenantsrepo "github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/repo"
	tenantsservice "github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/service"
	platformauth "github.com/zenGate-Global/palmyra-commerce/platform/go/auth"
	platformcache "github.com/zenGate-Global/palmyra-commerce/platform/go/cache"
	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/metrics"
	platformmiddleware "github.com/zenGate-Global/palmyra-commerce/platform/go/middleware"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/notify"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/problem"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/queue"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/telemetry"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
	tenantmiddleware "github.com/zenGate-Global/palmyra-commerce/platform/go/tenant/middleware"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	DatabaseMaxConn int32         `env:"DATABASE_MAX_CONNS" envDefault:"20"`
	TenantRole      string        `env:"TENANT_DB_ROLE" envDefault:"commerce_tenant"`
	RootDomain      string        `env:"ROOT_DOMAIN,required"`

	AuthProvider            string `env:"AUTH_PROVIDER" envDefault:"firebase"` // firebase | hmac | dev
	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`
	AuthHMACSecret          string `env:"AUTH_HMAC_SECRET"`
	AuthIssuer              string `env:"AUTH_ISSUER"`

	TenantCacheURL string        `env:"TENANT_CACHE_REDIS_URL"` // empty keeps the cache in process
	TenantCacheTTL time.Duration `env:"TENANT_CACHE_TTL" envDefault:"1m"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AMQPURL      string `env:"AMQP_URL"` // empty discards notifications
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"commerce.notifications"`

	PaymentProvider  string        `env:"PAYMENT_PROVIDER" envDefault:"card"`
	PaymentURL       string        `env:"PAYMENT_GATEWAY_URL"` // empty registers only the manual provider
	PaymentAPIKey    string        `env:"PAYMENT_GATEWAY_API_KEY"`
	PaymentTimeout   time.Duration `env:"PAYMENT_GATEWAY_TIMEOUT" envDefault:"10s"`
	PaymentRateLimit float64       `env:"PAYMENT_GATEWAY_RPS" envDefault:"50"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"600"` // per client IP; 0 disables
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

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
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName: "commerce-api",
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

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL, MaxConns: cfg.DatabaseMaxConn})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	tenantStore, err := persistence.NewTenantStore(pool)
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}

	resolver := tenant.NewResolver(tenant.ResolverConfig{
		Directory:  tenantStore,
		Cache:      buildTenantCache(cfg, logger),
		Logger:     logger,
		Registerer: registry,
	})

	asynqClient := queue.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer asynqClient.Close()
	dispatcher := queue.NewDispatcher(asynqClient, logger)

	notifier, closeNotifier := buildNotifier(cfg, logger)
	defer closeNotifier()

	guard := persistence.NewTenantGuard(persistence.TenantGuardConfig{
		Pool:   pool,
		Role:   cfg.TenantRole,
		Logger: logger,
	})
	runner := workflow.NewRunner(logger,
		workflow.WithMetrics(workflow.NewMetrics(registry)),
		workflow.WithEscalator(queue.EscalationSink(dispatcher)),
	)

	inventoryService := inventoryservice.New(inventoryservice.Config{
		Guard:      guard,
		Runner:     runner,
		Repo:       inventoryrepo.NewPostgresRepository(persistence.NewInventoryStore()),
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	paymentsService := paymentsservice.New(paymentsservice.Config{
		Guard:      guard,
		Runner:     runner,
		Repo:       paymentsrepo.NewPostgresRepository(persistence.NewOrderStore(), persistence.NewPaymentStore()),
		Gateway:    buildPaymentGateway(cfg, logger),
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	ordersService := ordersservice.New(ordersservice.Config{
		Guard:      guard,
		Runner:     runner,
		Repo:       ordersrepo.NewPostgresRepository(persistence.NewOrderStore()),
		Inventory:  inventoryService,
		Payments:   paymentsService,
		Tenants:    tenantStore,
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	tenantService := tenantsservice.New(tenantsrepo.NewPostgresRepository(tenantStore), resolver, logger)

	authMiddleware := buildAuthMiddleware(ctx, cfg, resolver, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", metrics.Handler(registry))

	registerDocsRoutes(rootRouter, logger)

	apiRouter := chi.NewRouter()
	apiRouter.Use(platformmiddleware.RateLimit(platformmiddleware.RateLimitConfig{
		Requests: cfg.RateLimitRequests,
		Window:   cfg.RateLimitWindow,
		Logger:   logger,
	}))
	apiRouter.Use(authMiddleware)
	apiRouter.Use(platformmiddleware.RequestTrace)

	// Storefront traffic: the host names the tenant.
	commerceValidator := mustNewSpecValidator(logger, contracts.Commerce)
	apiRouter.Group(func(r chi.Router) {
		r.Use(platformauth.RequireUser)
		r.Use(tenantmiddleware.WithTenantFromHost(resolver, tenantmiddleware.Config{RootDomain: cfg.RootDomain}))
		r.Use(commerceValidator)
		inventoryhandler.New(inventoryService, logger).Routes(r)
		ordershandler.New(ordersService, logger).Routes(r)
		paymentshandler.New(paymentsService, logger).Routes(r)
	})

	tenantsValidator := mustNewSpecValidator(logger, contracts.Tenants)
	apiRouter.Route("/admin", func(r chi.Router) {
		r.Use(platformauth.RequireRole("admin"))
		r.Use(tenantsValidator)
		tenantshandler.New(tenantService, logger).Routes(r)
	})

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildTenantCache(cfg config, logger *zap.Logger) tenant.Cache {
	if cfg.TenantCacheURL == "" {
		return tenant.NewMemoryCache(cfg.TenantCacheTTL)
	}
	client, err := platformcache.NewRedisClient(cfg.TenantCacheURL)
	if err != nil {
		logger.Fatal("init tenant cache", zap.Error(err))
	}
	return platformcache.NewTenantCache(client, cfg.TenantCacheTTL, logger)
}

func buildNotifier(cfg config, logger *zap.Logger) (notify.Sender, func()) {
	if cfg.AMQPURL == "" {
		logger.Warn("AMQP_URL not set; notifications are discarded")
		return notify.Discard{Logger: logger}, func() {}
	}
	conn, err := notify.DialRabbit(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		logger.Fatal("connect notification broker", zap.Error(err))
	}
	return conn.Publisher(cfg.AMQPExchange, logger), func() {
		if err := conn.Close(); err != nil {
			logger.Warn("close notification broker", zap.Error(err))
		}
	}
}

func buildPaymentGateway(cfg config, logger *zap.Logger) gateway.Gateway {
	if cfg.PaymentURL == "" {
		logger.Warn("PAYMENT_GATEWAY_URL not set; only manual payments are accepted")
		return gateway.NewRouter(nil)
	}
	card, err := gateway.NewHTTPGateway(gateway.HTTPConfig{
		Provider:          cfg.PaymentProvider,
		BaseURL:           cfg.PaymentURL,
		APIKey:            cfg.PaymentAPIKey,
		Timeout:           cfg.PaymentTimeout,
		RequestsPerSecond: cfg.PaymentRateLimit,
		Burst:             int(cfg.PaymentRateLimit),
	}, logger)
	if err != nil {
		logger.Fatal("init payment gateway", zap.Error(err))
	}
	return gateway.NewRouter(map[string]gateway.Gateway{cfg.PaymentProvider: card})
}

// mustNewSpecValidator loads an embedded OpenAPI document and builds the request
// validator middleware for one route group.
func mustNewSpecValidator(logger *zap.Logger, name string) func(http.Handler) http.Handler {
	spec, err := contracts.Load(name)
	if err != nil {
		logger.Fatal("load openapi contract", zap.String("name", name), zap.Error(err))
	}
	logSecuritySchemes(logger, name, spec)

	return oapimiddleware.OapiRequestValidatorWithOptions(spec, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: platformmiddleware.ValidateAuthenticationViaSwagger,
		},
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			writeValidationProblem(w, message, statusCode)
		},
	})
}

func logSecuritySchemes(logger *zap.Logger, name string, spec *openapi3.T) {
	names := make([]string, 0, len(spec.Components.SecuritySchemes))
	for scheme := range spec.Components.SecuritySchemes {
		names = append(names, scheme)
	}
	logger.Info("loaded security schemes", zap.String("contract", name), zap.Strings("names", names))
}

func writeValidationProblem(w http.ResponseWriter, message string, statusCode int) {
	problemType := problem.TypeValidation
	title := "Request validation failed"
	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		problemType, title = problem.TypeForbidden, "Forbidden"
	case http.StatusNotFound:
		problemType, title = problem.TypeNotFound, "Resource not found"
	}
	problem.Write(w, problem.Details{
		Type:   &problemType,
		Title:  title,
		Status: statusCode,
		Detail: &message,
	})
}
