package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port            string        `envconfig:"PORT" default:"4000"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`

	StoreDriver   string `envconfig:"STORE_DRIVER" default:"mongo"`
	MongoURI      string `envconfig:"MONGODB_URI" default:"mongodb://127.0.0.1:27017"`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"smartmeter"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"smartmeter.db"`

	DeviceIP     string        `envconfig:"ESP32_IP"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"1m"`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`

	JWTSecret string        `envconfig:"JWT_SECRET" default:"dev-secret"`
	JWTIssuer string        `envconfig:"JWT_ISSUER" default:"smartmeter"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"1h"`

	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	LatestCacheTTL time.Duration `envconfig:"LATEST_CACHE_TTL" default:"10m"`

	ClickHouseAddresses []string `envconfig:"CLICKHOUSE_ADDRESSES"`
	ClickHouseDatabase  string   `envconfig:"CLICKHOUSE_DATABASE" default:"smartmeter"`
	ClickHouseUsername  string   `envconfig:"CLICKHOUSE_USERNAME" default:"default"`
	ClickHousePassword  string   `envconfig:"CLICKHOUSE_PASSWORD"`

	TariffFile  string `envconfig:"TARIFF_FILE"`
	BillingMode string `envconfig:"BILLING_MODE" default:"value"`
}

// Load reads the process environment. Callers wanting .env support load it before calling Load.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.StoreDriver = strings.TrimSpace(strings.ToLower(cfg.StoreDriver))
	cfg.DeviceIP = strings.TrimSpace(cfg.DeviceIP)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI is required for the mongo store")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	return nil
}

// HTTPAddr accepts either a bare port or a full listen address.
func (c Config) HTTPAddr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
