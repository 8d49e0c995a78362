package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration
type Config struct {
	Service   ServiceConfig
	Engine    EngineConfig
	Pool      PoolConfig
	Recovery  RecoveryConfig
	Sandbox   SandboxConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	OpenAI    OpenAIConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// EngineConfig holds workflow engine settings
type EngineConfig struct {
	MaxWorkers     int
	EnableParallel bool
	Debug          bool
}

// PoolConfig holds resource pool totals
type PoolConfig struct {
	CPUCores         float64
	MemoryMB         float64
	NetworkMbps      float64
	GPUMemoryMB      float64
	StorageIOMBps    float64
	AllocateWaitTime time.Duration
}

// RecoveryConfig holds recovery layer defaults
type RecoveryConfig struct {
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	ErrorHistorySize        int
	MaxHandlerAttempts      int
}

// SandboxConfig holds code executor limits
type SandboxConfig struct {
	PythonBin     string
	Timeout       time.Duration
	MaxMemoryMB   int
	MaxInputBytes int
	MaxStdout     int
	MaxResult     int
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// OpenAIConfig holds model provider settings
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	RerankModel    string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnableMetrics bool
	EnableAlerts  bool
	MetricsPath   string
	PprofEnabled  bool
	PprofPort     int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Engine: EngineConfig{
			MaxWorkers:     getEnvInt("MAX_WORKERS", 10),
			EnableParallel: getEnvBool("ENABLE_PARALLEL", true),
			Debug:          getEnvBool("ENGINE_DEBUG", false),
		},
		Pool: PoolConfig{
			CPUCores:         getEnvFloat("POOL_CPU_CORES", 8.0),
			MemoryMB:         getEnvFloat("POOL_MEMORY_MB", 8192),
			NetworkMbps:      getEnvFloat("POOL_NETWORK_MBPS", 1000),
			GPUMemoryMB:      getEnvFloat("POOL_GPU_MEMORY_MB", 4096),
			StorageIOMBps:    getEnvFloat("POOL_STORAGE_IO_MBPS", 500),
			AllocateWaitTime: getEnvDuration("POOL_ALLOCATE_WAIT", 100*time.Millisecond),
		},
		Recovery: RecoveryConfig{
			CircuitBreakerThreshold: getEnvInt("CIRCUIT_BREAKER_THRESHOLD", 5),
			CircuitBreakerTimeout:   getEnvDuration("CIRCUIT_BREAKER_TIMEOUT", 60*time.Second),
			ErrorHistorySize:        getEnvInt("ERROR_HISTORY_SIZE", 1000),
			MaxHandlerAttempts:      getEnvInt("MAX_HANDLER_ATTEMPTS", 3),
		},
		Sandbox: SandboxConfig{
			PythonBin:     getEnv("SANDBOX_PYTHON_BIN", "python3"),
			Timeout:       getEnvDuration("SANDBOX_TIMEOUT", 3*time.Second),
			MaxMemoryMB:   getEnvInt("SANDBOX_MAX_MEMORY_MB", 256),
			MaxInputBytes: getEnvInt("SANDBOX_MAX_INPUT_BYTES", 2*1024*1024),
			MaxStdout:     getEnvInt("SANDBOX_MAX_STDOUT_CHARS", 10000),
			MaxResult:     getEnvInt("SANDBOX_MAX_RESULT_BYTES", 1024*1024),
		},
		Database: DatabaseConfig{
			Enabled:     getEnvBool("POSTGRES_ENABLED", false),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "ragflow"),
			User:        getEnv("POSTGRES_USER", "ragflow"),
			Password:    getEnv("POSTGRES_PASSWORD", "ragflow"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_EXECUTION_TTL", 24*time.Hour),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			ChatModel:      getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			EmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			RerankModel:    getEnv("OPENAI_RERANK_MODEL", "gpt-4o-mini"),
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			EnableAlerts:  getEnvBool("ENABLE_ALERTS", true),
			MetricsPath:   getEnv("METRICS_PATH", "/metrics"),
			PprofEnabled:  getEnvBool("PPROF_ENABLED", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Engine.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be >= 1, got %d", c.Engine.MaxWorkers)
	}

	if c.Pool.CPUCores <= 0 || c.Pool.MemoryMB <= 0 {
		return fmt.Errorf("resource pool totals must be positive")
	}

	if c.Sandbox.Timeout < 100*time.Millisecond {
		c.Sandbox.Timeout = 100 * time.Millisecond
	}
	if c.Sandbox.MaxMemoryMB < 16 {
		c.Sandbox.MaxMemoryMB = 16
	}

	if c.Database.Enabled && c.Database.Host == "" {
		return fmt.Errorf("database host is required when postgres is enabled")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
