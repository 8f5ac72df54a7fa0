package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	// Build connection string
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	// Parse connection string
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	// Create connection pool
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Positions under management
		`CREATE TABLE IF NOT EXISTS positions (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			qty DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			status VARCHAR(10) NOT NULL DEFAULT 'OPEN',
			binance_order_id BIGINT UNIQUE,
			client_order_id VARCHAR(50),
			bot_id INTEGER,
			tv_signal_log_id INTEGER,
			extreme_price DECIMAL(20, 8),
			trail_callback DECIMAL(10, 4),
			dyn_profit_threshold_pct DECIMAL(10, 4),
			base_stop_loss_pct DECIMAL(10, 4),
			bot_stop_loss_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			tv_signal_close_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			exit_price DECIMAL(20, 8),
			exit_reason VARCHAR(50),
			closed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_bot_id ON positions(bot_id)`,

		// TradingView signal (strategy) configs
		`CREATE TABLE IF NOT EXISTS tv_signal_configs (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			signal_key VARCHAR(100) NOT NULL UNIQUE,
			description TEXT,
			symbol_hint VARCHAR(20),
			timeframe_hint VARCHAR(20),
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tv_signal_configs_key ON tv_signal_configs(signal_key)`,

		// Bot configs
		`CREATE TABLE IF NOT EXISTS bot_configs (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			bot_key VARCHAR(100) NOT NULL UNIQUE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			signal_id INTEGER REFERENCES tv_signal_configs(id) ON DELETE SET NULL,
			symbol VARCHAR(20) NOT NULL DEFAULT 'BTCUSDT',
			use_signal_side BOOLEAN NOT NULL DEFAULT TRUE,
			fixed_side VARCHAR(5),
			qty DECIMAL(20, 8) NOT NULL DEFAULT 0.01,
			max_invest_usdt DECIMAL(20, 8),
			leverage INTEGER NOT NULL DEFAULT 20,
			use_dynamic_stop BOOLEAN NOT NULL DEFAULT TRUE,
			trailing_callback_percent DECIMAL(10, 4),
			base_stop_loss_pct DECIMAL(10, 4) NOT NULL DEFAULT 3.0,
			trading_mode VARCHAR(10) NOT NULL DEFAULT 'auto',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_configs_signal_id ON bot_configs(signal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_configs_bot_key ON bot_configs(bot_key)`,

		// Signal log, one row per webhook received
		`CREATE TABLE IF NOT EXISTS tv_signal_logs (
			id SERIAL PRIMARY KEY,
			bot_key VARCHAR(100),
			signal_id INTEGER REFERENCES tv_signal_configs(id) ON DELETE SET NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			qty DECIMAL(20, 8) NOT NULL DEFAULT 0,
			position_size DECIMAL(20, 8),
			raw_payload TEXT,
			received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			process_result VARCHAR(255)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tv_signal_logs_received_at ON tv_signal_logs(received_at)`,

		// Pending orders for semi-auto bots
		`CREATE TABLE IF NOT EXISTS pending_orders (
			id SERIAL PRIMARY KEY,
			bot_id INTEGER NOT NULL REFERENCES bot_configs(id) ON DELETE CASCADE,
			tv_signal_log_id INTEGER NOT NULL REFERENCES tv_signal_logs(id) ON DELETE CASCADE,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			qty DECIMAL(20, 8),
			position_size DECIMAL(20, 8),
			calculated_qty DECIMAL(20, 8),
			calculated_side VARCHAR(5),
			is_position_based BOOLEAN NOT NULL DEFAULT FALSE,
			status VARCHAR(10) NOT NULL DEFAULT 'PENDING',
			approved_at TIMESTAMP,
			rejected_at TIMESTAMP,
			executed_at TIMESTAMP,
			error_message TEXT,
			position_id INTEGER REFERENCES positions(id) ON DELETE SET NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_orders_status ON pending_orders(status)`,

		// Portfolio trailing singleton
		`CREATE TABLE IF NOT EXISTS portfolio_trailing_config (
			id INTEGER PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			target_pnl DECIMAL(20, 8),
			lock_ratio DECIMAL(10, 4),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Admin users
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'admin',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// HealthCheck verifies the database connection is alive
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
