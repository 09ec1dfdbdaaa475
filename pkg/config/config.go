package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Upstream providers
const (
	ProviderOpenAI      = "openai"
	ProviderHuggingFace = "huggingface"
	ProviderCanned      = "canned"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port            string
		Env             string
		Timeout         time.Duration
		ShutdownTimeout time.Duration
		GRPCPort        string
	}

	// Database configuration
	Database struct {
		Driver     string
		Host       string
		Port       string
		User       string
		Password   string
		Name       string
		SSLMode    string
		SQLitePath string
		MaxConns   int
		Retries    int
		RetryDelay time.Duration
	}

	// Upstream completion service
	Upstream struct {
		Provider     string
		APIKey       string
		Model        string
		BaseURL      string
		Timeout      time.Duration
		SystemPrompt string
		MaxTokens    int
	}

	// Chat request limits
	Chat struct {
		MaxMessageLength int
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Cache settings
	Cache struct {
		Backend       string
		TTL           time.Duration
		MaxSize       int
		PurgeWindow   time.Duration
		RedisURL      string
		RedisPassword string
		RedisDB       int
	}

	// Circuit breaker around the upstream
	Resilience struct {
		FailureThreshold uint
		SuccessThreshold uint
		OpenTimeout      time.Duration
	}

	// Tracing, health and schema validation
	Observability struct {
		ServiceName       string
		TracingEnabled    bool
		HealthCheckPeriod time.Duration
		OpenAPISchemaPath string
	}

	// Vault settings
	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
		Mount       string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the environment without touching the singleton
func Load() *Config {
	cfg := &Config{}

	// Server config
	cfg.Server.Port = getEnvString("PORT", "8000")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 60*time.Second)
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "")

	// Database config
	cfg.Database.Driver = strings.ToLower(getEnvString("DB_DRIVER", "sqlite"))
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "chat_relay")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.SQLitePath = getEnvString("DB_SQLITE_PATH", "chat_relay.db")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Retries = getEnvInt("DB_CONNECT_RETRIES", 5)
	cfg.Database.RetryDelay = getEnvDuration("DB_CONNECT_RETRY_DELAY", 5*time.Second)

	// Upstream config
	cfg.Upstream.Provider = strings.ToLower(getEnvString("UPSTREAM_PROVIDER", ProviderOpenAI))
	cfg.Upstream.APIKey = getEnvString("UPSTREAM_API_KEY", getEnvString("OPENAI_API_KEY", ""))
	cfg.Upstream.Model = getEnvString("UPSTREAM_MODEL", defaultModel(cfg.Upstream.Provider))
	cfg.Upstream.BaseURL = getEnvString("UPSTREAM_BASE_URL", "")
	cfg.Upstream.Timeout = getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second)
	cfg.Upstream.SystemPrompt = getEnvString("UPSTREAM_SYSTEM_PROMPT", "")
	cfg.Upstream.MaxTokens = getEnvInt("UPSTREAM_MAX_TOKENS", 512)

	// Chat limits
	cfg.Chat.MaxMessageLength = getEnvInt("CHAT_MAX_MESSAGE_LENGTH", 8000)

	// Security config
	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20) // 1MB

	// Logging config
	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	// Cache settings
	cfg.Cache.Backend = strings.ToLower(getEnvString("CACHE_BACKEND", "memory"))
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)
	cfg.Cache.RedisURL = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Cache.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.Cache.RedisDB = getEnvInt("REDIS_DB", 0)

	// Resilience
	cfg.Resilience.FailureThreshold = uint(getEnvInt("BREAKER_FAILURE_THRESHOLD", 5))
	cfg.Resilience.SuccessThreshold = uint(getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2))
	cfg.Resilience.OpenTimeout = getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second)

	// Observability
	cfg.Observability.ServiceName = getEnvString("SERVICE_NAME", "chat-relay")
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.HealthCheckPeriod = getEnvDuration("HEALTH_CHECK_PERIOD", 30*time.Second)
	cfg.Observability.OpenAPISchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "")

	// Vault
	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "chat-relay")
	cfg.Vault.Mount = getEnvString("VAULT_MOUNT", "secret")

	return cfg
}

// IsProduction reports whether the service runs with APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderHuggingFace:
		return "mistralai/Mistral-7B-Instruct-v0.2"
	case ProviderCanned:
		return "canned"
	default:
		return "gpt-4o-mini"
	}
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
