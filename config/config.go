package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable with STORE_BACKEND
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Session       SessionConfig
	Admin         AdminConfig
	Ledger        LedgerConfig
	Policy        PolicyConfig
	AlertQueue    AlertQueueConfig
	RateLimit     RateLimitConfig
	Sandbox       SandboxConfig
	Observability ObservabilityConfig
	StoreBackend  string
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	InitSchema       bool
}

// RedisConfig holds the shared counter store configuration. An empty URL selects in-process counters.
type RedisConfig struct {
	URL string
}

// SessionConfig holds the subject session token settings
type SessionConfig struct {
	JWTSecret string
	Issuer    string
	TTL       time.Duration
}

// AdminConfig holds the operator credential for admin routes
type AdminConfig struct {
	APIKey string
}

// LedgerConfig holds append behaviour settings
type LedgerConfig struct {
	AppendRetries int
}

// PolicyConfig holds the asynchronous alert hook settings
type PolicyConfig struct {
	Workers      int
	BufferSize   int
	MaxRetries   int
	RetryBackoff time.Duration
	StopTimeout  time.Duration
}

// AlertQueueConfig holds the optional Azure Storage Queue alert sink settings
type AlertQueueConfig struct {
	ConnectionString string
	QueueName        string
	MaxRetries       int32
}

// Enabled reports whether alerts should also be published to the queue
func (c AlertQueueConfig) Enabled() bool {
	return c.ConnectionString != "" && c.QueueName != ""
}

// RateLimitConfig holds fixed-window limits per caller identity
type RateLimitConfig struct {
	Enabled     bool
	WriteLimit  int
	ReadLimit   int
	VerifyLimit int
	Window      time.Duration
}

// SandboxConfig holds demo-data reset settings
type SandboxConfig struct {
	Enabled    bool
	UserPrefix string
	BatchSize  int
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string // json or console
	TracingEnabled    bool
	TracingSampleRate float64
	ServiceName       string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment:  getEnv("ENVIRONMENT", "development"),
		StoreBackend: getEnv("STORE_BACKEND", StoreBackendPostgres),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Session: SessionConfig{
			JWTSecret: getEnv("SESSION_JWT_SECRET", ""),
			Issuer:    getEnv("SESSION_ISSUER", "orbit"),
			TTL:       getEnvAsDuration("SESSION_TTL", time.Hour),
		},
		Admin: AdminConfig{
			APIKey: getEnv("ADMIN_API_KEY", ""),
		},
		Ledger: LedgerConfig{
			AppendRetries: getEnvAsInt("LEDGER_APPEND_RETRIES", 3),
		},
		Policy: PolicyConfig{
			Workers:      getEnvAsInt("POLICY_WORKERS", 4),
			BufferSize:   getEnvAsInt("POLICY_BUFFER_SIZE", 1000),
			MaxRetries:   getEnvAsInt("POLICY_MAX_RETRIES", 3),
			RetryBackoff: getEnvAsDuration("POLICY_RETRY_BACKOFF", 200*time.Millisecond),
			StopTimeout:  getEnvAsDuration("POLICY_STOP_TIMEOUT", 5*time.Second),
		},
		AlertQueue: AlertQueueConfig{
			ConnectionString: getEnv("ALERT_QUEUE_CONNECTION_STRING", ""),
			QueueName:        getEnv("ALERT_QUEUE_NAME", ""),
			MaxRetries:       int32(getEnvAsInt("ALERT_QUEUE_MAX_RETRIES", 3)),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getEnvAsBool("RATE_LIMIT_ENABLED", true),
			WriteLimit:  getEnvAsInt("RATE_LIMIT_WRITE", 120),
			ReadLimit:   getEnvAsInt("RATE_LIMIT_READ", 600),
			VerifyLimit: getEnvAsInt("RATE_LIMIT_VERIFY", 60),
			Window:      getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Sandbox: SandboxConfig{
			Enabled:    getEnvAsBool("SANDBOX_ENABLED", false),
			UserPrefix: getEnv("SANDBOX_USER_PREFIX", "demo_"),
			BatchSize:  getEnvAsInt("SANDBOX_BATCH_SIZE", 500),
		},
		Observability: ObservabilityConfig{
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
			TracingSampleRate: getEnvAsFloat("TRACING_SAMPLE_RATE", 0.1),
			ServiceName:       getEnv("SERVICE_NAME", "orbit-api"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		// Database validation (DATABASE_URL or DB_* vars)
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	case StoreBackendMemory:
		if c.IsProduction() {
			return fmt.Errorf("memory store backend is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.StoreBackend)
	}

	if c.IsProduction() {
		if c.Session.JWTSecret == "" {
			return fmt.Errorf("session JWT secret is required in production")
		}
		if c.Admin.APIKey == "" {
			return fmt.Errorf("admin API key is required in production")
		}
	}

	if c.Ledger.AppendRetries < 0 {
		return fmt.Errorf("ledger append retries must not be negative")
	}
	if c.Policy.Workers < 1 {
		return fmt.Errorf("policy workers must be at least 1")
	}
	if c.Policy.BufferSize < 1 {
		return fmt.Errorf("policy buffer size must be at least 1")
	}
	if c.Sandbox.BatchSize < 1 {
		return fmt.Errorf("sandbox batch size must be at least 1")
	}
	if c.Sandbox.Enabled && c.Sandbox.UserPrefix == "" {
		return fmt.Errorf("sandbox user prefix is required when sandbox is enabled")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InitSchema:      getEnvAsBool("DB_INIT_SCHEMA", true),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "orbit")
	cfg.Password = getEnv("DB_PASSWORD", "orbit")
	cfg.Database = getEnv("DB_NAME", "orbit")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
