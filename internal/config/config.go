package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/cart-checkout/internal/core/domain"
)

const (
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	// StoreBackend selects the relational store: "mysql" or "memory".
	StoreBackend   string
	MySQLDSN       string
	RunMigrations  bool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// RedisAddr enables the cart cache and checkout idempotency guard when set.
	RedisAddr      string
	CartCacheTTL   time.Duration
	IdempotencyTTL time.Duration

	MaxLineQuantity int
	CheckoutTimeout time.Duration
	LockWaitTimeout time.Duration

	KafkaBrokers   []string
	KafkaTopic     string
	RabbitMQURL    string
	RabbitMQQueue  string
	OutboxInterval time.Duration
	OutboxBatch    int
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		GRPCAddr: getenv("GRPC_ADDR", ":50051"),

		StoreBackend:   strings.ToLower(getenv("STORE_BACKEND", BackendMySQL)),
		MySQLDSN:       getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/cartcheckout?parseTime=true"),
		RunMigrations:  envBool("RUN_MIGRATIONS", true),
		DBMaxOpenConns: envInt("DB_MAX_OPEN_CONNS", 50),
		DBMaxIdleConns: envInt("DB_MAX_IDLE_CONNS", 25),

		RedisAddr:      getenv("REDIS_ADDR", ""),
		CartCacheTTL:   parseDuration(getenv("CART_CACHE_TTL", "30s"), 30*time.Second),
		IdempotencyTTL: parseDuration(getenv("IDEMPOTENCY_TTL", "24h"), 24*time.Hour),

		MaxLineQuantity: envInt("MAX_LINE_QUANTITY", domain.DefaultMaxLineQuantity),
		CheckoutTimeout: parseDuration(getenv("CHECKOUT_TIMEOUT", "5s"), 5*time.Second),
		LockWaitTimeout: parseDuration(getenv("LOCK_WAIT_TIMEOUT", "3s"), 3*time.Second),

		KafkaBrokers:   splitCSV(getenv("KAFKA_BROKERS", "")),
		KafkaTopic:     getenv("KAFKA_TOPIC", "order-events"),
		RabbitMQURL:    getenv("RABBITMQ_URL", ""),
		RabbitMQQueue:  getenv("RABBITMQ_QUEUE", "order.events"),
		OutboxInterval: parseDuration(getenv("OUTBOX_INTERVAL", "1s"), time.Second),
		OutboxBatch:    envInt("OUTBOX_BATCH", 100),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("config: MYSQL_DSN is required for the mysql backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.MaxLineQuantity < 1 {
		return fmt.Errorf("config: MAX_LINE_QUANTITY must be at least 1")
	}
	if c.CheckoutTimeout <= 0 {
		return fmt.Errorf("config: CHECKOUT_TIMEOUT must be positive")
	}
	if c.LockWaitTimeout > c.CheckoutTimeout {
		return fmt.Errorf("config: LOCK_WAIT_TIMEOUT (%s) exceeds CHECKOUT_TIMEOUT (%s)", c.LockWaitTimeout, c.CheckoutTimeout)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	n, err := strconv.Atoi(getenv(k, ""))
	if err != nil {
		return def
	}
	return n
}

func envBool(k string, def bool) bool {
	b, err := strconv.ParseBool(getenv(k, ""))
	if err != nil {
		return def
	}
	return b
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
