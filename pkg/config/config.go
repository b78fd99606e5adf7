package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Import        ImportConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	CORSOrigins        []string
	ShutdownTimeout    time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	RunMigrations   bool
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	LogLevel       string
}

// ImportConfig bounds uploads and sets the defaults applied to imported rows.
type ImportConfig struct {
	MaxFileBytes       int
	MaxFilesPerRequest int
	ExistenceBatchSize int
	DefaultCurrency    string
}

// Load reads configuration from environment variables, after loading a
// .env file when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 10),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 20),
			CORSOrigins:        getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			ShutdownTimeout:    time.Duration(getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:            getEnv("POSTGRES_HOST", "localhost"),
			Port:            getEnvAsInt("POSTGRES_PORT", 5432),
			User:            getEnv("POSTGRES_USER", "postgres"),
			Password:        getEnv("POSTGRES_PASSWORD", "postgres"),
			Database:        getEnv("POSTGRES_DB", "expenses-dev"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns:        getEnvAsInt("POSTGRES_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("POSTGRES_MIN_CONNS", 1),
			MaxConnLifetime: time.Duration(getEnvAsInt("POSTGRES_MAX_CONN_LIFETIME_MINUTES", 30)) * time.Minute,
			RunMigrations:   getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
		},
		Auth: AuthConfig{
			Enabled:   getEnvAsBool("AUTH_ENABLED", false),
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
		},
		Import: ImportConfig{
			MaxFileBytes:       int(getEnvAsInt64("IMPORT_MAX_FILE_BYTES", 2<<20)),
			MaxFilesPerRequest: getEnvAsInt("IMPORT_MAX_FILES", 10),
			ExistenceBatchSize: getEnvAsInt("IMPORT_EXISTENCE_BATCH_SIZE", 500),
			DefaultCurrency:    strings.ToUpper(getEnv("IMPORT_DEFAULT_CURRENCY", "USD")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required when AUTH_ENABLED is true")
	}
	if c.Import.MaxFileBytes <= 0 {
		return errors.New("IMPORT_MAX_FILE_BYTES must be positive")
	}
	if c.Import.MaxFilesPerRequest <= 0 {
		return errors.New("IMPORT_MAX_FILES must be positive")
	}
	if c.Import.ExistenceBatchSize <= 0 {
		return errors.New("IMPORT_EXISTENCE_BATCH_SIZE must be positive")
	}
	if len(c.Import.DefaultCurrency) != 3 {
		return fmt.Errorf("IMPORT_DEFAULT_CURRENCY must be a 3 letter code, got %q", c.Import.DefaultCurrency)
	}
	return nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
