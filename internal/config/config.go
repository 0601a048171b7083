package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fastpayer/internal/domain"
)

const (
	DefaultDebitAccount = "fp"
	DefaultDriver       = "postgres"
	DefaultSeedBalance  = "100000.00"
	DefaultSeedCurrency = "USD"
)

type Config struct {
	DBDriver       string
	DBSource       string
	Port           string
	Env            string
	LogLevel       slog.Level
	DebitAccount   string
	AllowOverdraft bool

	KafkaBrokers         []string
	KafkaTopic           string
	KafkaGroupID         string
	KafkaDLQTopic        string
	ConsumerWorkers      int
	ConsumerMaxAttempts  int
	ConsumerRetryBackoff time.Duration

	// SeedBalance is the opening balance cmd/seeder gives the debit account.
	SeedBalance domain.Money
}

// ConsumerEnabled reports whether a Kafka feed is configured.
func (c *Config) ConsumerEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func Load() (*Config, error) {
	cfg := &Config{
		DBDriver:      getenv("DB_DRIVER", DefaultDriver),
		DBSource:      os.Getenv("DB_SOURCE"),
		Port:          getenv("SERVER_PORT", "8080"),
		Env:           getenv("ENVIRONMENT", "development"),
		DebitAccount:  getenv("DEBIT_ACCOUNT", DefaultDebitAccount),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getenv("KAFKA_TOPIC", "payments"),
		KafkaGroupID:  getenv("KAFKA_GROUP_ID", "fast-payer"),
		KafkaDLQTopic: os.Getenv("KAFKA_DLQ_TOPIC"),
	}

	switch cfg.DBDriver {
	case "postgres", "sqlite":
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case "memory":
		if cfg.Env == "production" {
			return nil, fmt.Errorf("DB_DRIVER=memory is not allowed in production")
		}
	default:
		return nil, fmt.Errorf("DB_DRIVER must be postgres, sqlite or memory: %q", cfg.DBDriver)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	var err error
	if cfg.AllowOverdraft, err = strconv.ParseBool(getenv("ALLOW_OVERDRAFT", "false")); err != nil {
		return nil, fmt.Errorf("ALLOW_OVERDRAFT: %w", err)
	}
	if cfg.ConsumerWorkers, err = positiveInt("CONSUMER_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.ConsumerMaxAttempts, err = positiveInt("CONSUMER_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.ConsumerRetryBackoff, err = time.ParseDuration(getenv("CONSUMER_RETRY_BACKOFF", "1s")); err != nil {
		return nil, fmt.Errorf("CONSUMER_RETRY_BACKOFF: %w", err)
	}

	seed, err := decimal.NewFromString(getenv("SEED_BALANCE", DefaultSeedBalance))
	if err != nil {
		return nil, fmt.Errorf("SEED_BALANCE: %w", err)
	}
	if cfg.SeedBalance, err = domain.NewMoney(getenv("SEED_CURRENCY", DefaultSeedCurrency), seed); err != nil {
		return nil, fmt.Errorf("SEED_CURRENCY/SEED_BALANCE: %w", err)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func positiveInt(key string, fallback int) (int, error) {
	n, err := strconv.Atoi(getenv(key, strconv.Itoa(fallback)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be positive: %d", key, n)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
