package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/database"
	"github.com/coinvault/backend/internal/handlers"
	"github.com/coinvault/backend/internal/logger"
	mW "github.com/coinvault/backend/internal/middleware"
	"github.com/coinvault/backend/internal/outbox"
	"github.com/coinvault/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// @title CoinVault Wallet API
// @version 1.0
// @description Peer-to-peer multi-asset transfers between wallet accounts
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	loadConfig()

	svcCfg := config.LoadServiceConfig()
	zlog, err := logger.New(svcCfg.Environment, svcCfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	if viper.GetString("jwt.secret_key") == "" {
		zlog.Fatal("JWT_SECRET_KEY is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, db := openStore(ctx, svcCfg, zlog)
	if db != nil {
		defer db.Close()
	}

	redisClient := database.InitRedis(ctx, zlog)
	if redisClient != nil {
		defer redisClient.Close()
	}

	transferCfg := config.LoadTransferConfig()
	outboxCfg := config.LoadOutboxConfig()

	dispatcher := outbox.NewDispatcher(newQueue(redisClient, outboxCfg), zlog,
		outbox.WithMaxAttempts(outboxCfg.MaxAttempts),
		outbox.WithPollTimeout(outboxCfg.PollTimeout),
		outbox.WithRetryBackoff(outboxCfg.RetryBackoff, outboxCfg.RetryMaxBackoff),
	)
	emailClient := services.NewHTTPEmailClient(config.LoadEmailConfig())
	services.NewNotificationService(store, emailClient, zlog).Register(dispatcher)

	priceService := services.NewPriceService(redisClient, config.LoadPriceConfig(), zlog)
	broadcaster := services.NewBalanceBroadcaster(redisClient, store, zlog)
	transferService := services.NewTransferService(store, dispatcher, zlog, transferCfg,
		services.WithPriceFeed(priceService),
		services.WithBalancePublisher(broadcaster),
	)
	accountService := services.NewAccountService(store, zlog)
	authService := services.NewAuthService(store, zlog)
	iso20022Service := services.NewISO20022Service(store)
	qrHandler := handlers.NewQRHandler(services.NewQRService(redisClient), store)

	transferLimiter := mW.NewRateLimiter(transferCfg.RatePerMinute, transferCfg.RateBurst)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "healthy",
			"redis":  redisClient != nil,
			"store":  storeKind(db),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			// the balance stream is long-lived and must not inherit the request timeout
			r.Get("/accounts/me/balances/stream", broadcaster.StreamBalances)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))

				r.Get("/accounts/me", accountService.GetAccount)
				r.Get("/accounts/me/transactions", accountService.ListTransactions)
				r.Post("/accounts/me/notifications/read", accountService.MarkRead)
				r.Get("/accounts/{accountId}/name", accountService.RecipientName)

				r.Post("/transfers/validate", transferService.ValidateTransfer)
				r.With(transferLimiter.Middleware).Post("/transfers", transferService.CreateTransfer)
				r.Get("/transfers/{txId}/iso20022", iso20022Service.ExportTransfer)

				r.Post("/qr/generate", qrHandler.GenerateQR)
				r.Post("/qr/process", qrHandler.ProcessQR)
			})
		})
	})

	server := &http.Server{
		Addr:        ":" + svcCfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(dispatcherCtx)
	}()

	go func() {
		zlog.Info("server starting", zap.String("addr", server.Addr), zap.String("environment", svcCfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), svcCfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}

	// drain in-flight deliveries before closing the store
	stopDispatcher()
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		zlog.Warn("outbox dispatcher did not stop in time")
	}

	zlog.Info("server stopped")
}

func loadConfig() {
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("transfer.min_usdt", "TRANSFER_MIN_USDT")
	viper.BindEnv("transfer.min_default", "TRANSFER_MIN_DEFAULT")
	viper.BindEnv("transfer.supported_assets", "TRANSFER_SUPPORTED_ASSETS")
	viper.BindEnv("transfer.rate_per_minute", "TRANSFER_RATE_PER_MINUTE")
	viper.BindEnv("transfer.rate_burst", "TRANSFER_RATE_BURST")

	viper.BindEnv("outbox.max_attempts", "OUTBOX_MAX_ATTEMPTS")
	viper.BindEnv("outbox.poll_timeout", "OUTBOX_POLL_TIMEOUT")
	viper.BindEnv("outbox.retry_backoff", "OUTBOX_RETRY_BACKOFF")
	viper.BindEnv("outbox.retry_max_backoff", "OUTBOX_RETRY_MAX_BACKOFF")

	viper.BindEnv("price.base_url", "PRICE_FEED_URL")
	viper.BindEnv("price.cache_ttl", "PRICE_CACHE_TTL")

	viper.BindEnv("email.endpoint", "EMAIL_ENDPOINT")
	viper.BindEnv("email.api_key", "EMAIL_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}
}

// openStore connects to Postgres, or returns the in-memory store when
// USE_MEMORY_STORE is set.
func openStore(ctx context.Context, cfg *config.ServiceConfig, zlog *zap.Logger) (services.Store, *sql.DB) {
	if cfg.UseMemoryStore {
		zlog.Warn("using in-memory account store, data will not survive a restart")
		return database.NewMemoryStore(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := database.InitDB(connectCtx, zlog)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	return database.NewAccountStore(db), db
}

func newQueue(redisClient *redis.Client, cfg *config.OutboxConfig) outbox.Queue {
	if redisClient == nil {
		return outbox.NewMemoryQueue(cfg.MemoryBuffer)
	}
	return outbox.NewRedisQueue(redisClient, cfg.PendingKey, cfg.DeadKey)
}

func storeKind(db *sql.DB) string {
	if db == nil {
		return "memory"
	}
	return "postgres"
}
