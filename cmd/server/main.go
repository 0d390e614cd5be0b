package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/vendly/ordercore/internal/catalog"
	"github.com/vendly/ordercore/internal/checkout"
	"github.com/vendly/ordercore/internal/httpx"
	"github.com/vendly/ordercore/internal/messaging"
	"github.com/vendly/ordercore/internal/payments"
	"github.com/vendly/ordercore/internal/ratelimit"
	"github.com/vendly/ordercore/internal/refunds"
	"github.com/vendly/ordercore/internal/replacements"
	"github.com/vendly/ordercore/internal/storage"
	"github.com/vendly/ordercore/internal/telemetry"
)

const (
	serviceName    = "ordercore"
	serviceVersion = "0.1.0"
)

func main() {
	ctx := context.Background()
	logger := telemetry.NewLogger()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	postgresURL := mustEnv(logger, "POSTGRES_URL")

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	store := storage.NewStore(db, logger)

	var webhookLimiter, verifyLimiter ratelimit.Limiter
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = client.Close() }()
		webhookLimiter = ratelimit.NewRedisLimiter(client, "rl:webhook", 120, time.Minute)
		verifyLimiter = ratelimit.NewRedisLimiter(client, "rl:verify", 30, time.Minute)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-process rate limiting")
		webhookLimiter = ratelimit.NewMemoryLimiter(120, time.Minute)
		verifyLimiter = ratelimit.NewMemoryLimiter(30, time.Minute)
	}

	var events messaging.Publisher
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		producer := messaging.NewProducer(strings.Split(kafkaBrokers, ","))
		defer func() { _ = producer.Close() }()
		events = producer
	}

	gatewayClient := payments.NewClient(
		mustEnv(logger, "GATEWAY_BASE_URL"),
		mustEnv(logger, "GATEWAY_KEY_ID"),
		mustEnv(logger, "GATEWAY_KEY_SECRET"),
		&http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	)
	signer := payments.NewSigner([]byte(mustEnv(logger, "GATEWAY_WEBHOOK_SECRET")))

	appID := mustEnv(logger, "APP_ID")
	allowedOrigins := strings.Split(mustEnv(logger, "ALLOWED_ORIGINS"), ",")
	shippingFee := envInt64(logger, "SHIPPING_FEE", 5000)
	currency := os.Getenv("CURRENCY")
	if currency == "" {
		currency = "INR"
	}

	paymentsRepo := payments.NewRepository(store)
	webhookHandler := payments.NewWebhookHandler(signer, paymentsRepo, webhookLimiter, appID, events, logger)
	verifyHandler := payments.NewVerifyHandler(signer, paymentsRepo, verifyLimiter, allowedOrigins, events, logger)

	checkoutService := checkout.NewService(
		checkout.NewRepository(store),
		catalog.NewPostgresCatalog(db),
		gatewayClient,
		shippingFee,
		currency,
		appID,
		logger,
	)
	checkoutHandler := checkout.NewHandler(checkoutService, logger)

	refundService := refunds.NewService(refunds.NewRepository(store), gatewayClient, events, logger)
	refundHandler := refunds.NewHandler(refundService, logger)

	replacementService := replacements.NewService(replacements.NewRepository(store), events, logger)
	replacementHandler := replacements.NewHandler(replacementService, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(httpx.RequireCSRF(checkoutHandler.HandleCreate)))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(checkoutHandler.HandleList))
	mux.HandleFunc("POST /payments/webhook", telemetry.WithHTTPRoute(webhookHandler.ServeHTTP))
	mux.HandleFunc("POST /payments/verify", telemetry.WithHTTPRoute(httpx.RequireCSRF(verifyHandler.ServeHTTP)))
	mux.HandleFunc("POST /refunds", telemetry.WithHTTPRoute(httpx.RequireCSRF(refundHandler.HandleCreate)))
	mux.HandleFunc("POST /replacements", telemetry.WithHTTPRoute(replacementHandler.HandleCreate))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(httpx.WithIdentity(mux), serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func mustEnv(logger *slog.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Error("environment variable is required", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt64(logger *slog.Logger, key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logger.Error("environment variable must be an integer", "key", key, "value", v)
		os.Exit(1)
	}
	return n
}
