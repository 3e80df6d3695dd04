// Package config provides configuration management for the shield wallet backend.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chain     ChainConfig
	Prover    ProverConfig
	Session   SessionConfig
	Custody   CustodyConfig
	RateLimit RateLimitConfig
	Worker    WorkerConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainConfig holds chain submission configuration
type ChainConfig struct {
	Network       string
	RPCPrimary    string
	RPCSecondary  string
	AccountClass  string
	SubmitTimeout time.Duration
}

// ProverConfig holds proof generation configuration
type ProverConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	TTL               time.Duration // Absolute session expiry
	KeyUnlockTTL      time.Duration // How long a decrypted key stays resident
	MaxFailedAttempts int           // Failed password attempts before lockout
	LockoutDuration   time.Duration // How long a lockout lasts
}

// CustodyConfig holds key custody configuration
type CustodyConfig struct {
	BcryptCost       int
	PBKDF2Iterations int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	CleanupInterval  time.Duration // Expired session/key sweep cadence
	TxStatusInterval time.Duration // Pending receipt polling cadence
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "shield_wallet"),
				User:           getEnv("POSTGRES_USER", "wallet"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Chain: ChainConfig{
			Network:       getEnv("CHAIN_NETWORK", "regtest"),
			RPCPrimary:    getEnv("CHAIN_RPC_PRIMARY", "https://rpc.regtest.ztarknet.cash"),
			RPCSecondary:  getEnv("CHAIN_RPC_SECONDARY", ""),
			AccountClass:  getEnv("CHAIN_ACCOUNT_CLASS", ""),
			SubmitTimeout: getEnvAsDuration("CHAIN_SUBMIT_TIMEOUT", 90*time.Second),
		},
		Prover: ProverConfig{
			Endpoint: getEnv("PROVER_ENDPOINT", "http://localhost:9090"),
			Timeout:  getEnvAsDuration("PROVER_TIMEOUT", 120*time.Second),
		},
		Session: SessionConfig{
			TTL:               getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			KeyUnlockTTL:      getEnvAsDuration("SESSION_KEY_UNLOCK_TTL", 30*time.Minute),
			MaxFailedAttempts: getEnvAsInt("SESSION_MAX_FAILED_ATTEMPTS", 5),
			LockoutDuration:   getEnvAsDuration("SESSION_LOCKOUT_DURATION", 30*time.Minute),
		},
		Custody: CustodyConfig{
			BcryptCost:       getEnvAsInt("CUSTODY_BCRYPT_COST", 12),
			PBKDF2Iterations: getEnvAsInt("CUSTODY_PBKDF2_ITERATIONS", 100000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Worker: WorkerConfig{
			CleanupInterval:  getEnvAsDuration("WORKER_CLEANUP_INTERVAL", 5*time.Minute),
			TxStatusInterval: getEnvAsDuration("WORKER_TX_STATUS_INTERVAL", time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Database.Postgres.MaxConnections <= 0 {
		return fmt.Errorf("POSTGRES_MAX_CONNECTIONS must be positive")
	}
	if c.Session.MaxFailedAttempts <= 0 {
		return fmt.Errorf("SESSION_MAX_FAILED_ATTEMPTS must be positive")
	}
	if c.Session.KeyUnlockTTL <= 0 || c.Session.TTL <= 0 {
		return fmt.Errorf("session TTLs must be positive")
	}
	if c.Chain.RPCPrimary == "" {
		return fmt.Errorf("CHAIN_RPC_PRIMARY is required")
	}
	return nil
}

// PostgresURL returns the database URL used by the migration runner
func (c *PostgresConfig) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
