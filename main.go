package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"tv-trading-bot/config"
	"tv-trading-bot/internal/api"
	"tv-trading-bot/internal/auth"
	"tv-trading-bot/internal/binance"
	"tv-trading-bot/internal/cache"
	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/events"
	"tv-trading-bot/internal/logging"
	"tv-trading-bot/internal/orders"
	"tv-trading-bot/internal/risk"
	"tv-trading-bot/internal/signals"
	"tv-trading-bot/internal/trading"
	"tv-trading-bot/internal/vault"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if !cfg.LoggingConfig.JSONFormat {
		zlog = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	// Event bus
	eventBus := events.NewEventBus()

	// Database
	dbConfig := database.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "tv_bot"),
		Password: getEnv("DB_PASSWORD", "tv_bot_password"),
		Database: getEnv("DB_NAME", "tv_bot"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	db, err := database.NewDB(dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database ready", "host", dbConfig.Host, "database", dbConfig.Database)

	// Redis-backed cache (optional; order-id sequences and settings fall
	// back to in-memory behavior without it)
	var cacheService *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache", "error", err.Error())
			cacheService = nil
		} else {
			logger.Info("Redis cache connected", "addr", cfg.RedisConfig.Address)
		}
	}

	// Exchange credentials: Vault when enabled, env/config fallback
	apiKey := cfg.BinanceConfig.APIKey
	secretKey := cfg.BinanceConfig.SecretKey
	if cfg.VaultConfig.Enabled {
		vaultClient, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			log.Fatalf("Failed to connect to Vault: %v", err)
		}
		creds, err := vaultClient.GetCredentials(ctx, cfg.BinanceConfig.TestNet)
		if err != nil {
			logger.Warn("Vault credential lookup failed, using config keys", "error", err.Error())
		} else if creds != nil {
			apiKey = creds.APIKey
			secretKey = creds.SecretKey
			logger.Info("Exchange credentials loaded from Vault")
		}
	}

	// Exchange client
	var client binance.FuturesClient
	if cfg.BinanceConfig.MockMode {
		// Dry-run mode trades against a simulated exchange fed by live
		// public prices
		publicClient := binance.NewFuturesClient("", "", cfg.BinanceConfig.TestNet)
		client = binance.NewFuturesMockClient(10000, publicClient.GetFuturesCurrentPrice)
		logger.Info("Running in mock mode, no real orders will be placed")
	} else {
		if apiKey == "" || secretKey == "" {
			log.Fatal("Binance API credentials are required outside mock mode")
		}
		// Read caching keeps the worker's polling inside request weight limits
		client = binance.NewCachedFuturesClient(
			binance.NewFuturesClient(apiKey, secretKey, cfg.BinanceConfig.TestNet))
		logger.Info("Binance futures client initialized", "testnet", cfg.BinanceConfig.TestNet)
	}

	// Admin authentication
	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		authService = auth.NewService(db, cfg.AuthConfig)
		if err := authService.EnsureAdminUser(ctx); err != nil {
			log.Fatalf("Failed to seed admin user: %v", err)
		}
		logger.Info("Admin authentication enabled")
	}

	// Risk engine
	settingsStore := risk.NewSettingsStore(cfg.TrailingConfig, cacheService, zlog)
	idGenerator := orders.NewClientOrderIdGenerator(cacheService, nil)
	manager := trading.NewManager(db, client, idGenerator, eventBus, zlog)
	portfolio := risk.NewPortfolioController(db, client, settingsStore, manager, eventBus, zlog)
	worker := risk.NewWorker(db, client, settingsStore, manager, portfolio, eventBus, zlog,
		time.Duration(cfg.TrailingConfig.CheckIntervalSecs)*time.Second)

	// Signal processing
	processor := signals.NewProcessor(db, manager, cacheService, eventBus, cfg.WebhookConfig, zlog)

	// HTTP API
	server := api.NewServer(cfg.ServerConfig, api.Deps{
		DB:          db,
		EventBus:    eventBus,
		Client:      client,
		Processor:   processor,
		Manager:     manager,
		Worker:      worker,
		Portfolio:   portfolio,
		Settings:    settingsStore,
		AuthService: authService,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Web server failed: %v", err)
		}
	}()

	if err := worker.Start(); err != nil {
		log.Fatalf("Failed to start trailing stop worker: %v", err)
	}

	logger.Info("TradingView trading bot started",
		"addr", cfg.ServerConfig.Host+":"+strconv.Itoa(cfg.ServerConfig.Port),
		"check_interval_secs", cfg.TrailingConfig.CheckIntervalSecs,
		"mock_mode", cfg.BinanceConfig.MockMode)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")

	shutdownTimeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := worker.Stop(); err != nil {
		logger.Warn("Worker stop", "error", err.Error())
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Web server shutdown", "error", err.Error())
	}
	if cacheService != nil {
		cacheService.Close()
	}

	logger.Info("Shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
