package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: experiment snapshot persistence. Nil when DATABASE_URL is unset.
	Providers     ProvidersConfig
	Gateway       GatewayConfig
	Cache         CacheConfig
	PII           PIIConfig
	Experiments   ExperimentsConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
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
}

// ProvidersConfig holds LLM provider configurations
type ProvidersConfig struct {
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Azure     AzureConfig
}

// OpenAIConfig holds OpenAI provider configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	OrgID   string
}

// AnthropicConfig holds Anthropic provider configuration
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// AzureConfig holds Azure OpenAI provider configuration. The provider is
// only registered when both APIKey and Endpoint are set.
type AzureConfig struct {
	APIKey     string
	Endpoint   string // resource endpoint, e.g. https://myresource.openai.azure.com
	Deployment string // optional; the model name is used as deployment id when empty
	APIVersion string
	Timeout    time.Duration
}

// GatewayConfig holds routing behavior
type GatewayConfig struct {
	DefaultProvider string
	EnableFallback  bool
	MaxBackoff      time.Duration
	CallTimeout     time.Duration
	PriceTablePath  string // optional YAML overriding the builtin price table
}

// CacheConfig holds response cache settings
type CacheConfig struct {
	Enabled         bool
	MaxSize         int
	TTL             time.Duration
	CleanupInterval time.Duration
}

// PIIConfig holds PII detection settings
type PIIConfig struct {
	Enabled       bool
	RedactionChar string
}

// ExperimentsConfig holds A/B testing settings
type ExperimentsConfig struct {
	Salt               string
	MinSampleSize      int
	SignificanceLevel  float64
	LatencyThresholdMs float64
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Timeout: getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
				OrgID:   getEnv("OPENAI_ORG_ID", ""),
			},
			Anthropic: AnthropicConfig{
				APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Timeout: getEnvAsDuration("ANTHROPIC_TIMEOUT", 60*time.Second),
			},
			Azure: AzureConfig{
				APIKey:     getEnv("AZURE_OPENAI_API_KEY", ""),
				Endpoint:   getEnv("AZURE_OPENAI_ENDPOINT", ""),
				Deployment: getEnv("AZURE_OPENAI_DEPLOYMENT", ""),
				APIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-02-01"),
				Timeout:    getEnvAsDuration("AZURE_OPENAI_TIMEOUT", 60*time.Second),
			},
		},
		Gateway: GatewayConfig{
			DefaultProvider: getEnv("DEFAULT_PROVIDER", "openai"),
			EnableFallback:  getEnvAsBool("ENABLE_FALLBACK", true),
			MaxBackoff:      getEnvAsDuration("FALLBACK_MAX_BACKOFF", 10*time.Second),
			CallTimeout:     getEnvAsDuration("PROVIDER_CALL_TIMEOUT", 0),
			PriceTablePath:  getEnv("PRICE_TABLE_PATH", ""),
		},
		Cache: CacheConfig{
			Enabled:         getEnvAsBool("CACHE_ENABLED", true),
			MaxSize:         getEnvAsInt("CACHE_MAX_SIZE", 1000),
			TTL:             getEnvAsDuration("CACHE_TTL", time.Hour),
			CleanupInterval: getEnvAsDuration("CACHE_CLEANUP_INTERVAL", 5*time.Minute),
		},
		PII: PIIConfig{
			Enabled:       getEnvAsBool("PII_DETECTION_ENABLED", true),
			RedactionChar: getEnv("PII_REDACTION_CHAR", "*"),
		},
		Experiments: ExperimentsConfig{
			Salt:               getEnv("AB_TEST_SALT", "llm-gateway"),
			MinSampleSize:      getEnvAsInt("AB_MIN_SAMPLE_SIZE", 30),
			SignificanceLevel:  getEnvAsFloat("AB_SIGNIFICANCE_LEVEL", 0.05),
			LatencyThresholdMs: getEnvAsFloat("AB_LATENCY_THRESHOLD_MS", 50),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Gateway.DefaultProvider {
	case "openai", "anthropic", "azure":
	default:
		return fmt.Errorf("unknown default provider %q", c.Gateway.DefaultProvider)
	}

	if c.IsProduction() {
		if c.Providers.OpenAI.APIKey == "" && c.Providers.Anthropic.APIKey == "" && c.Providers.Azure.APIKey == "" {
			return fmt.Errorf("at least one LLM provider must be configured in production")
		}
	}

	if c.Cache.Enabled && c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache max size must be positive")
	}

	if c.Experiments.SignificanceLevel <= 0 || c.Experiments.SignificanceLevel >= 1 {
		return fmt.Errorf("significance level must be in (0, 1)")
	}

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

// loadDatabaseConfig loads optional snapshot persistence config.
// Returns nil when DATABASE_URL is unset; the gateway then runs purely in memory.
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

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
