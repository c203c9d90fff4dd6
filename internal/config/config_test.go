package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	unsetEnv(t, "STORE_DRIVER", "HTTP_PORT", "CACHE_TTL", "KAFKA_BROKERS", "USE_KAFKA", "OUTBOX_LIMIT", "COMMAND_RETRIES")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.CommandRetries)
	assert.True(t, cfg.DurableStore())
}

// unsetEnv borra las variables durante el test; t.Setenv registra la restauración.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", " Postgres ")
	t.Setenv("DATABASE_URL", "postgres://localhost/orders")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("OUTBOX_PERIOD", "250ms")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250*time.Millisecond, cfg.OutboxPeriod)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{StoreDriver: DriverMemory, OutboxLimit: 10, CommandRetries: 3}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"memoria", func(c *Config) {}, ""},
		{"driver desconocido", func(c *Config) { c.StoreDriver = "cassandra" }, "unknown store driver"},
		{"postgres sin dsn", func(c *Config) { c.StoreDriver = DriverPostgres }, "DATABASE_URL"},
		{"mongo sin uri", func(c *Config) { c.StoreDriver = DriverMongo }, "MONGO_URI"},
		{"sqlite sin ruta", func(c *Config) { c.StoreDriver = DriverSQLite }, "SQLITE_PATH"},
		{"kafka sin brokers", func(c *Config) { c.UseKafka = true }, "KAFKA_BROKERS"},
		{"outbox limit", func(c *Config) { c.OutboxLimit = 0 }, "OUTBOX_LIMIT"},
		{"reintentos negativos", func(c *Config) { c.CommandRetries = -1 }, "COMMAND_RETRIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
