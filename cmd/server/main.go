package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aditya/ride-dispatch/internal/auth"
	"github.com/aditya/ride-dispatch/internal/cache"
	"github.com/aditya/ride-dispatch/internal/config"
	"github.com/aditya/ride-dispatch/internal/database"
	"github.com/aditya/ride-dispatch/internal/events"
	"github.com/aditya/ride-dispatch/internal/handler"
	"github.com/aditya/ride-dispatch/internal/logging"
	"github.com/aditya/ride-dispatch/internal/maps"
	"github.com/aditya/ride-dispatch/internal/middleware"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/internal/observability"
	"github.com/aditya/ride-dispatch/internal/repository"
	"github.com/aditya/ride-dispatch/internal/service"
	"github.com/aditya/ride-dispatch/internal/session"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/newrelic/go-agent/v3/newrelic"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}

	// Initialize New Relic (optional)
	var nrApp *newrelic.Application
	if cfg.NewRelicEnabled && cfg.NewRelicLicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelicAppName),
			newrelic.ConfigLicense(cfg.NewRelicLicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("new relic disabled", "error", err)
			nrApp = nil
		} else if err := nrApp.WaitForConnection(10 * time.Second); err != nil {
			logger.Warn("new relic connection timeout", "error", err)
		} else {
			logger.Info("new relic connected")
		}
	}

	// Storage
	var (
		db        *database.PostgresDB
		orderRepo repository.OrderRepository
		offerRepo repository.OfferRepository
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err = database.NewPostgres(cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBMaxIdleConnections)
		if err != nil {
			fatal("connect postgres", err)
		}
		defer db.Close()
		logger.Info("connected to postgres")

		if cfg.AutoMigrate {
			applied, err := db.Migrate(context.Background(), cfg.MigrationsDir)
			if err != nil {
				fatal("run migrations", err)
			}
			logger.Info("migrations applied", "files", applied)
		}
		orderRepo = repository.NewOrderRepository(db.DB)
		offerRepo = repository.NewOfferRepository(db.DB)
	default:
		logger.Warn("using in-memory order store, state is lost on restart")
		orderRepo = repository.NewMemoryOrderRepository()
		offerRepo = repository.NewMemoryOfferRepository()
	}

	// Redis backs the proximity index, rate limiting and idempotency. Only the
	// redis proximity backend requires it.
	rdb, err := database.NewRedis(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		if cfg.ProximityBackend == config.BackendRedis {
			fatal("connect redis", err)
		}
		logger.Warn("redis unavailable, rate limiting and idempotency disabled", "error", err)
		rdb = nil
	} else {
		defer rdb.Close()
		logger.Info("connected to redis")
	}

	var index cache.ProximityIndex
	if cfg.ProximityBackend == config.BackendRedis {
		index = cache.NewRedisIndex(rdb.Client)
	} else {
		index = cache.NewGridIndex(cfg.GridCellDegrees)
	}
	logger.Info("proximity index ready", "backend", cfg.ProximityBackend)

	// Pricing
	tariffs := service.NewStaticTariffProvider(cfg.Pricing.SurgeFactor)
	if cfg.Pricing.TariffsFile != "" {
		tariffs, err = service.LoadTariffs(cfg.Pricing.TariffsFile, cfg.Pricing.SurgeFactor)
		if err != nil {
			fatal("load tariffs", err)
		}
	}
	pricingService := service.NewPricingService(tariffs)

	var routes maps.RouteEstimator = maps.NewHaversineEstimator()
	if cfg.GoogleMapsAPIKey != "" {
		google, err := maps.NewGoogleEstimator(cfg.GoogleMapsAPIKey, routes, logger)
		if err != nil {
			logger.Warn("google maps disabled, using straight-line routes", "error", err)
		} else {
			routes = google
		}
	}

	// Lifecycle events
	bus := events.NewBus(logger)
	var sinks []io.Closer
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		bus.AddSink(kafka)
		sinks = append(sinks, kafka)
		logger.Info("publishing order events to kafka", "topic", cfg.KafkaTopic)
	}
	if cfg.RabbitMQURL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			fatal("connect rabbitmq", err)
		}
		bus.AddSink(rabbit)
		sinks = append(sinks, rabbit)
		logger.Info("publishing order events to rabbitmq", "exchange", cfg.RabbitMQExchange)
	}

	// Services
	var matchingService service.MatchingService

	var surge service.SurgeFunc
	if cfg.Pricing.DynamicSurge {
		surge = func(ctx context.Context, carClass string, pickup models.Location) float64 {
			nearby, err := index.Nearby(ctx, pickup.Lat, pickup.Lng, cfg.Matching.SearchRadiusKM, carClass, 0)
			if err != nil {
				logger.Warn("surge supply lookup failed", "error", err)
				return 1.0
			}
			return pricingService.CalculateSurge(matchingService.ActiveDispatches()+1, len(nearby))
		}
	}

	registry := session.NewRegistry(cfg.Matching.DriverDisconnectGrace, logger)

	orderService := service.NewOrderService(
		orderRepo, offerRepo, pricingService, routes, bus,
		cfg.Matching.DriverCancelPolicy, surge, logger,
	)
	matchingService = service.NewMatchingService(orderService, orderRepo, offerRepo, index, registry, cfg.Matching, logger)
	driverService := service.NewDriverService(index, orderRepo, orderService, registry, cfg.Matching.DisconnectPolicy, logger)

	// Presence is updated before dispatch reacts, so a bound driver is BUSY
	// before any later position write or offer round can observe it.
	bus.Subscribe(driverService.HandleEvent)
	bus.Subscribe(matchingService.HandleEvent)
	bus.Subscribe(service.NewNotifier(registry, logger).HandleEvent)
	registry.OnGraceExpired(driverService.OnGraceExpired)

	jwt := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)

	// Initialize handlers
	orderHandler := handler.NewOrderHandler(orderService, matchingService)
	driverHandler := handler.NewDriverHandler(driverService, matchingService)
	sessionHandler := handler.NewSessionHandler(registry, orderService, matchingService, driverService, logger)

	// Create router
	r := chi.NewRouter()

	// Apply middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(observability.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// New Relic middleware
	if nrApp != nil {
		r.Use(middleware.NewRelicMiddleware(nrApp))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if db != nil {
			if err := db.Health(ctx); err != nil {
				http.Error(w, "database unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		if rdb != nil {
			if err := rdb.Health(ctx); err != nil {
				http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", observability.Handler())

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		if cfg.Env != "production" {
			handler.NewAuthHandler(jwt).RegisterRoutes(r)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(jwt))
			if rdb != nil {
				r.Use(middleware.NewRateLimiter(rdb.Client, cfg.RateLimitPerMinute, time.Minute, logger).Handler)
				r.Use(middleware.NewIdempotencyMiddleware(rdb.Client, logger).Handler)
			}

			orderHandler.RegisterRoutes(r)
			driverHandler.RegisterRoutes(r)
			sessionHandler.RegisterRoutes(r)
		})
	})

	// WriteTimeout stays zero: /v1/ws and /v1/events/stream are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		registry.Close()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
		matchingService.Stop()
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				logger.Warn("close event sink", "error", err)
			}
		}
		if nrApp != nil {
			nrApp.Shutdown(5 * time.Second)
		}
	}()

	logger.Info("server starting",
		"port", cfg.Port,
		"env", cfg.Env,
		"store", cfg.StoreBackend,
		"proximity", cfg.ProximityBackend,
		"disconnect_policy", cfg.Matching.DisconnectPolicy,
		"driver_cancel_policy", cfg.Matching.DriverCancelPolicy,
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatal("server error", err)
	}

	<-done
	logger.Info("server stopped gracefully")
}
