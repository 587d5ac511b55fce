package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	ServerHost string
	ServerPort string

	StoreDriver string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	SQLitePath  string

	LogLevel    string
	LogFilePath string
	AppEnv      string

	// Observability
	TracingEnabled   bool
	JaegerEndpoint   string
	TraceSampleRatio float64

	// Persistence worker pool
	FlushInterval  time.Duration
	FlushWorkers   int
	FlushQueueSize int
	SnapshotEvery  int64
	StoreTimeout   time.Duration

	MaxContentBytes int
	AllowedOrigins  []string
}

// Load reads the environment (and .env when present) and validates it.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	var p parser
	cfg := &Config{
		ServerHost: getEnv("SERVER_HOST", "localhost"),
		ServerPort: getEnv("SERVER_PORT", "8080"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "notesync"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		SQLitePath:  getEnv("SQLITE_PATH", "notesync.db"),

		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFilePath: getEnv("LOG_FILE_PATH", ""),
		AppEnv:      getEnv("APP_ENV", "development"),

		TracingEnabled:   p.bool("TRACING_ENABLED", false),
		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRatio: p.float("TRACE_SAMPLE_RATIO", 1.0),

		FlushInterval:  p.duration("FLUSH_INTERVAL", 2*time.Second),
		FlushWorkers:   p.int("FLUSH_WORKERS", 4),
		FlushQueueSize: p.int("FLUSH_QUEUE_SIZE", 256),
		SnapshotEvery:  int64(p.int("SNAPSHOT_EVERY", 100)),
		StoreTimeout:   p.duration("STORE_TIMEOUT", 5*time.Second),

		MaxContentBytes: p.int("MAX_CONTENT_BYTES", 5<<20),
		AllowedOrigins:  splitList(getEnv("WS_ALLOWED_ORIGINS", "")),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges that parsing alone cannot.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of postgres, sqlite, memory; got %q", c.StoreDriver)
	}
	if c.FlushWorkers < 1 {
		return fmt.Errorf("FLUSH_WORKERS must be at least 1")
	}
	if c.FlushQueueSize < 1 {
		return fmt.Errorf("FLUSH_QUEUE_SIZE must be at least 1")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL must be positive")
	}
	if c.SnapshotEvery < 1 {
		return fmt.Errorf("SNAPSHOT_EVERY must be at least 1")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.MaxContentBytes < 1 {
		return fmt.Errorf("MAX_CONTENT_BYTES must be at least 1")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1")
	}
	return nil
}

// IsProduction selects JSON logs and production sampling.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
}

func (p *parser) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return n
}

func (p *parser) float(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return f
}

func (p *parser) bool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return b
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
