package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aditya/towbid/internal/auth"
	"github.com/aditya/towbid/internal/cache"
	"github.com/aditya/towbid/internal/config"
	"github.com/aditya/towbid/internal/database"
	"github.com/aditya/towbid/internal/geo"
	"github.com/aditya/towbid/internal/handler"
	"github.com/aditya/towbid/internal/logging"
	"github.com/aditya/towbid/internal/middleware"
	"github.com/aditya/towbid/internal/notify"
	"github.com/aditya/towbid/internal/payment"
	"github.com/aditya/towbid/internal/repository"
	"github.com/aditya/towbid/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// New Relic is optional
	var nrApp *newrelic.Application
	if cfg.NewRelicEnabled && cfg.NewRelicLicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelicAppName),
			newrelic.ConfigLicense(cfg.NewRelicLicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			slog.Warn("new relic disabled", "error", err)
			nrApp = nil
		} else if err := nrApp.WaitForConnection(10 * time.Second); err != nil {
			slog.Warn("new relic connection timeout", "error", err)
		}
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBMaxIdleConnections)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.RunMigrations {
		if err := database.Migrate(ctx, db.DB); err != nil {
			slog.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}
	if err := database.ValidateSchema(ctx, db.DB); err != nil {
		slog.Error("schema check failed", "error", err)
		os.Exit(1)
	}

	redis, err := database.NewRedis(ctx, cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redis.Close()

	policy := service.PolicyFromConfig(cfg)

	// Repositories
	tx := repository.NewTransactor(db.DB)
	userRepo := repository.NewUserRepository(db.DB)
	driverRepo := repository.NewDriverRepository(db.DB)
	requestRepo := repository.NewTripRequestRepository(db.DB)
	bidRepo := repository.NewBidRepository(db.DB)
	tripRepo := repository.NewActiveTripRepository(db.DB)
	creditRepo := repository.NewCreditRepository(db.DB)
	pixRepo := repository.NewPixRequestRepository(db.DB)
	notificationRepo := repository.NewNotificationRepository(db.DB)

	driverCache := cache.NewDriverLocationCache(redis.Client)
	locator := geo.WithFallback(driverCache, geo.NewScanLocator(service.OnlineDriverCandidates(driverRepo)))

	var transport service.Transport
	var waker handler.Waker
	switch cfg.NotifyTransport {
	case "kafka":
		kt := notify.NewKafkaTransport(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kt.Close()
		transport = kt
	case "none":
		transport = notify.Noop{}
	default:
		rt := notify.NewRedisTransport(redis.Client)
		transport = rt
		waker = rt
	}

	var provider payment.Provider = payment.NewManualProvider()
	if cfg.StripeAPIKey != "" {
		provider = payment.NewStripePixProvider(cfg.StripeAPIKey, cfg.PixCurrency)
	}

	// Services
	notificationService := service.NewNotificationService(notificationRepo, tx, transport, policy)
	creditService := service.NewCreditService(tx, creditRepo, pixRepo, driverRepo, provider, notificationService, policy)
	tripService := service.NewTripService(tx, tripRepo, requestRepo, driverRepo, creditService, notificationService, policy)
	bidService := service.NewBidService(tx, bidRepo, requestRepo, driverRepo, creditService, tripService, notificationService, policy)
	requestService := service.NewTripRequestService(tx, requestRepo, bidRepo, userRepo, driverRepo, locator, service.NewPricingService(), notificationService, policy)
	driverService := service.NewDriverService(tx, driverRepo, userRepo, creditRepo, driverCache)
	userService := service.NewUserService(userRepo)

	identity := auth.NewJWTProvider(cfg.JWTSecret, cfg.JWTIssuer)
	validate := validator.New()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if nrApp != nil {
		r.Use(middleware.NewRelicMiddleware(nrApp))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"database": "up", "redis": "up"}
		code := http.StatusOK
		if err := db.Health(r.Context()); err != nil {
			status["database"] = "down"
			code = http.StatusServiceUnavailable
		}
		if err := redis.Health(r.Context()); err != nil {
			status["redis"] = "down"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": http.StatusText(code), "services": status})
	})
	r.Handle("/metrics", promhttp.Handler())

	rateLimiter := middleware.NewRateLimiter(redis.Client, cfg.RateLimitPerMinute, time.Minute)
	idempotency := middleware.NewIdempotencyMiddleware(redis.Client, cfg.IdempotencyTTL)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(identity))
		r.Use(rateLimiter.Handler)
		r.Use(idempotency.Handler)

		handler.NewUserHandler(userService, validate).RegisterRoutes(r)
		handler.NewDriverHandler(driverService, requestService, bidService, validate).RegisterRoutes(r)
		handler.NewTripRequestHandler(requestService, bidService, validate).RegisterRoutes(r)
		handler.NewBidHandler(bidService).RegisterRoutes(r)
		handler.NewTripHandler(tripService, validate).RegisterRoutes(r)
		handler.NewCreditHandler(creditService, validate).RegisterRoutes(r)
		handler.NewNotificationHandler(notificationService).RegisterRoutes(r)
		handler.NewSSEHandler(notificationService, waker, requestService, cfg.SSEPollInterval, cfg.SSEMaxDuration).RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go service.NewSweeper(requestService, cfg.SweepInterval).Run(ctx)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "port", cfg.Port, "env", cfg.Env, "notify_transport", cfg.NotifyTransport)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
