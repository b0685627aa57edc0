// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Worker     WorkerConfig
	GitHub     GitHubConfig
	Scanner    ScannerConfig
	Triage     TriageConfig
	OSV        OSVConfig
	Encryption EncryptionConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration for the job queue.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string

	SamplingEnabled   bool
	SamplingThreshold int
	SamplingRate      float64
	ErrorSamplingRate float64
}

// WorkerConfig holds scan worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of scan jobs processed in parallel. Each
	// job holds a repository checkout on disk, so this stays small.
	Concurrency int

	// ScanTimeout bounds a single scan end to end, clone included.
	ScanTimeout time.Duration

	// MaxRetries is the number of re-deliveries before a scan is marked
	// failed.
	MaxRetries int

	// StuckScanCutoff is how long a scan may sit in running before the
	// recovery sweep declares its worker dead.
	StuckScanCutoff time.Duration
}

// GitHubConfig holds GitHub App and API configuration.
type GitHubConfig struct {
	AppID          int64
	PrivateKeyPath string
	APIBaseURL     string
	WebhookSecret  string
}

// ScannerConfig holds static analyzer configuration.
type ScannerConfig struct {
	SemgrepBin  string
	AstGrepBin  string
	RulesDir    string
	ToolTimeout time.Duration

	// MaxOutputBytes caps analyzer stdout; a misbehaving tool cannot OOM
	// the worker.
	MaxOutputBytes int64

	// WorkDir is where repository checkouts are created.
	WorkDir string
}

// TriageConfig holds model-assisted triage configuration.
type TriageConfig struct {
	Enabled        bool
	Provider       string
	Model          string
	MaxIterations  int
	RequestTimeout time.Duration
}

// OSVConfig holds vulnerability database client configuration.
type OSVConfig struct {
	BaseURL        string
	RequestTimeout time.Duration

	// RequestsPerSecond rate-limits batch queries against the public API.
	RequestsPerSecond float64
}

// EncryptionConfig holds credential encryption configuration. Either a
// hex-encoded 32-byte key or a passphrase+salt pair must be set.
type EncryptionConfig struct {
	KeyHex     string
	Passphrase string
	Salt       string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "repohawk"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 1<<20),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "repohawk"),
			Password:        getEnv("DB_PASSWORD", "secret"),
			Name:            getEnv("DB_NAME", "repohawk"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:             getEnv("LOG_LEVEL", "info"),
			Format:            getEnv("LOG_FORMAT", "json"),
			SamplingEnabled:   getEnvBool("LOG_SAMPLING_ENABLED", false),
			SamplingThreshold: getEnvInt("LOG_SAMPLING_THRESHOLD", 100),
			SamplingRate:      getEnvFloat("LOG_SAMPLING_RATE", 0.1),
			ErrorSamplingRate: getEnvFloat("LOG_ERROR_SAMPLING_RATE", 1.0),
		},
		Worker: WorkerConfig{
			Concurrency:     getEnvInt("WORKER_CONCURRENCY", 2),
			ScanTimeout:     getEnvDuration("WORKER_SCAN_TIMEOUT", 30*time.Minute),
			MaxRetries:      getEnvInt("WORKER_MAX_RETRIES", 3),
			StuckScanCutoff: getEnvDuration("WORKER_STUCK_SCAN_CUTOFF", time.Hour),
		},
		GitHub: GitHubConfig{
			AppID:          getEnvInt64("GITHUB_APP_ID", 0),
			PrivateKeyPath: getEnv("GITHUB_APP_PRIVATE_KEY_PATH", ""),
			APIBaseURL:     getEnv("GITHUB_API_BASE_URL", "https://api.github.com"),
			WebhookSecret:  getEnv("GITHUB_WEBHOOK_SECRET", ""),
		},
		Scanner: ScannerConfig{
			SemgrepBin:     getEnv("SCANNER_SEMGREP_BIN", "semgrep"),
			AstGrepBin:     getEnv("SCANNER_ASTGREP_BIN", "ast-grep"),
			RulesDir:       getEnv("SCANNER_RULES_DIR", "rules"),
			ToolTimeout:    getEnvDuration("SCANNER_TOOL_TIMEOUT", 3*time.Minute),
			MaxOutputBytes: getEnvInt64("SCANNER_MAX_OUTPUT_BYTES", 10<<20),
			WorkDir:        getEnv("SCANNER_WORK_DIR", os.TempDir()),
		},
		Triage: TriageConfig{
			Enabled:        getEnvBool("TRIAGE_ENABLED", true),
			Provider:       getEnv("TRIAGE_PROVIDER", "claude"),
			Model:          getEnv("TRIAGE_MODEL", ""),
			MaxIterations:  getEnvInt("TRIAGE_MAX_ITERATIONS", 25),
			RequestTimeout: getEnvDuration("TRIAGE_REQUEST_TIMEOUT", 2*time.Minute),
		},
		OSV: OSVConfig{
			BaseURL:           getEnv("OSV_BASE_URL", "https://api.osv.dev"),
			RequestTimeout:    getEnvDuration("OSV_REQUEST_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvFloat("OSV_REQUESTS_PER_SECOND", 5),
		},
		Encryption: EncryptionConfig{
			KeyHex:     getEnv("APP_ENCRYPTION_KEY", ""),
			Passphrase: getEnv("APP_ENCRYPTION_PASSPHRASE", ""),
			Salt:       getEnv("APP_ENCRYPTION_SALT", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("WORKER_MAX_RETRIES must be non-negative, got %d", c.Worker.MaxRetries)
	}
	if c.Triage.MaxIterations < 1 {
		return fmt.Errorf("TRIAGE_MAX_ITERATIONS must be at least 1, got %d", c.Triage.MaxIterations)
	}
	if c.Log.SamplingThreshold < 0 {
		return fmt.Errorf("LOG_SAMPLING_THRESHOLD must be non-negative, got %d", c.Log.SamplingThreshold)
	}
	if c.Log.SamplingRate < 0.0 || c.Log.SamplingRate > 1.0 {
		return fmt.Errorf("LOG_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.SamplingRate)
	}
	if c.OSV.RequestsPerSecond <= 0 {
		return fmt.Errorf("OSV_REQUESTS_PER_SECOND must be positive, got %f", c.OSV.RequestsPerSecond)
	}
	if c.Encryption.KeyHex != "" && len(c.Encryption.KeyHex) != 64 {
		return fmt.Errorf("APP_ENCRYPTION_KEY must be 64 hex characters, got %d", len(c.Encryption.KeyHex))
	}
	if c.Encryption.Passphrase != "" && len(c.Encryption.Salt) < 16 {
		return fmt.Errorf("APP_ENCRYPTION_SALT must be at least 16 characters when a passphrase is set")
	}
	return nil
}

func (c *Config) validateProduction() error {
	if c.Encryption.KeyHex == "" && c.Encryption.Passphrase == "" {
		return fmt.Errorf("APP_ENCRYPTION_KEY or APP_ENCRYPTION_PASSPHRASE is required in production")
	}
	if c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("GITHUB_WEBHOOK_SECRET is required in production")
	}
	if c.GitHub.AppID != 0 && c.GitHub.PrivateKeyPath == "" {
		return fmt.Errorf("GITHUB_APP_PRIVATE_KEY_PATH is required when GITHUB_APP_ID is set")
	}
	if c.Database.Password == "secret" {
		return fmt.Errorf("default database password is not allowed in production")
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
