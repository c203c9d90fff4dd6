package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Env      string `env:"APP_ENV" env-default:"local"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	HTTPPort string `env:"HTTP_PORT" env-default:"8080"`

	StoreDriver string `env:"STORE_DRIVER" env-default:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" env-default:"./orderlog.db"`
	DatabaseURL string `env:"DATABASE_URL"`
	MongoURI    string `env:"MONGO_URI"`
	MongoDB     string `env:"MONGO_DB" env-default:"orderlog"`

	RedisAddr string        `env:"REDIS_ADDR" env-default:"localhost:6379"`
	CacheTTL  time.Duration `env:"CACHE_TTL" env-default:"5m"`

	UseKafka     bool     `env:"USE_KAFKA" env-default:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" env-default:"order"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" env-default:"orderlog-order-service"`

	OutboxPeriod time.Duration `env:"OUTBOX_PERIOD" env-default:"1s"`
	OutboxLimit  int           `env:"OUTBOX_LIMIT" env-default:"10"`

	ClickHouseAddr     string `env:"CLICKHOUSE_ADDR"`
	ClickHouseDB       string `env:"CLICKHOUSE_DB" env-default:"default"`
	ClickHouseUser     string `env:"CLICKHOUSE_USER" env-default:"default"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD"`

	CommandRetries int `env:"COMMAND_RETRIES" env-default:"3"`
}

// LoadConfig lee la configuración de variables de entorno y la valida.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for store driver %q", c.StoreDriver)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for store driver %q", c.StoreDriver)
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for store driver %q", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if c.UseKafka && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when USE_KAFKA is set")
	}
	if c.OutboxLimit <= 0 {
		return fmt.Errorf("OUTBOX_LIMIT must be positive, got %d", c.OutboxLimit)
	}
	if c.CommandRetries < 0 {
		return fmt.Errorf("COMMAND_RETRIES must be >= 0, got %d", c.CommandRetries)
	}
	return nil
}

// DurableStore indica si el store elegido guarda outbox en la misma transacción.
func (c *Config) DurableStore() bool {
	return c.StoreDriver != DriverMemory
}
