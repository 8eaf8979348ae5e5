package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RoleCatalog   = "catalog"
	RoleInventory = "inventory"
	RoleOrders    = "orders"
	RoleAll       = "all"

	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

type Config struct {
	ServiceRole string
	Port        string
	GinMode     string

	DBDriver         string
	DatabaseURL      string
	DBConnectRetries int
	DBRetryBackoff   time.Duration
	DBMaxOpenConns   int
	DBMaxIdleConns   int

	CatalogURL        string
	InventoryURL      string
	DownstreamTimeout time.Duration

	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration

	RedisAddress  string
	RedisPassword string

	OTLPEndpoint string
	ServiceName  string

	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel  string
	LogFormat string
}

// Load reads the process environment, after merging a .env file when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceRole: strings.ToLower(getEnv("SERVICE_ROLE", RoleAll)),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", ""),

		DBDriver:         strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
		DatabaseURL:      getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=pos port=5432 sslmode=disable"),
		DBConnectRetries: intFromEnv("DB_CONNECT_RETRIES", 5),
		DBRetryBackoff:   durationFromEnv("DB_RETRY_BACKOFF", time.Second),
		DBMaxOpenConns:   intFromEnv("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:   intFromEnv("DB_MAX_IDLE_CONNS", 10),

		CatalogURL:        strings.TrimRight(getEnv("CATALOG_SERVICE_URL", ""), "/"),
		InventoryURL:      strings.TrimRight(getEnv("INVENTORY_SERVICE_URL", ""), "/"),
		DownstreamTimeout: durationFromEnv("DOWNSTREAM_TIMEOUT", 5*time.Second),

		ReconcileInterval: durationFromEnv("RECONCILE_INTERVAL", time.Minute),
		ReconcileGrace:    durationFromEnv("RECONCILE_GRACE", 2*time.Minute),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", ""),

		CORSOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitRPS:   floatFromEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: intFromEnv("RATE_LIMIT_BURST", 100),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "pos-" + cfg.ServiceRole
	}
	return cfg
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.ServiceRole {
	case RoleCatalog, RoleInventory, RoleOrders, RoleAll:
	default:
		return fmt.Errorf("unknown SERVICE_ROLE %q", c.ServiceRole)
	}

	switch c.DBDriver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	if c.DBConnectRetries < 1 {
		return fmt.Errorf("DB_CONNECT_RETRIES must be at least 1")
	}
	if c.DownstreamTimeout <= 0 {
		return fmt.Errorf("DOWNSTREAM_TIMEOUT must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	// A reserving reservation older than the grace period must have seen its
	// stock-out call resolve, one way or the other.
	if c.ReconcileGrace <= 2*c.DownstreamTimeout {
		return fmt.Errorf("RECONCILE_GRACE (%s) must exceed twice DOWNSTREAM_TIMEOUT (%s)", c.ReconcileGrace, c.DownstreamTimeout)
	}

	if c.ServiceRole == RoleOrders {
		if c.CatalogURL == "" {
			return fmt.Errorf("CATALOG_SERVICE_URL is required for the orders role")
		}
		if c.InventoryURL == "" {
			return fmt.Errorf("INVENTORY_SERVICE_URL is required for the orders role")
		}
	}
	return nil
}

// Serves reports whether this process hosts role.
func (c *Config) Serves(role string) bool {
	return c.ServiceRole == RoleAll || c.ServiceRole == role
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
