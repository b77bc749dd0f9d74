package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AppConfig is the runtime configuration, read from the environment.
type AppConfig struct {
	HTTPAddr string

	// DBDriver is "sqlite" (DBPath) or "postgres" (DatabaseURL).
	DBDriver    string
	DBPath      string
	DatabaseURL string

	// An empty RedisAddr runs without locks, rate limiting, cache and outbox.
	RedisAddr string
	RedisDB   int

	// An empty broker list disables the relay to Kafka.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis stream outbox drained by the relay.
	OrderEventStream   string
	OrderEventGroup    string
	OrderEventConsumer string

	RateLimit  int
	RateWindow time.Duration

	AdminToken string
	JWTSecret  string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RazorpayAPIBase       string
	GatewayTimeout        time.Duration

	CheckoutDiscountPercent decimal.Decimal
	CheckoutClearCart       bool
	CheckoutLockTTL         time.Duration
	PaymentStateTTL         time.Duration

	LogDev bool
}

// Load reads and validates the configuration, applying defaults for unset keys.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DBDriver:              strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:                getEnv("DB_PATH", "pharmacy.db"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		KafkaBrokers:          splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "pharmacy-order-events"),
		KafkaGroupID:          getEnv("KAFKA_GROUP_ID", "pharmacy-notifier"),
		OrderEventStream:      getEnv("ORDER_EVENT_STREAM", "pharmacy:order_events"),
		OrderEventGroup:       getEnv("ORDER_EVENT_GROUP", "pharmacy-relay-group"),
		OrderEventConsumer:    getEnv("ORDER_EVENT_CONSUMER", "pharmacy-relay-1"),
		AdminToken:            getEnv("ADMIN_TOKEN", "dev-admin-token"),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		RazorpayKeyID:         getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
		RazorpayWebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
		RazorpayAPIBase:       getEnv("RAZORPAY_API_BASE", "https://api.razorpay.com/v1"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	if cfg.RateLimit, err = getEnvInt("RATE_LIMIT", 100); err != nil {
		return AppConfig{}, fmt.Errorf("invalid RATE_LIMIT: %w", err)
	}
	if cfg.RateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("RATE_LIMIT must be > 0")
	}

	if cfg.RateWindow, err = getEnvSeconds("RATE_WINDOW_SEC", 1); err != nil {
		return AppConfig{}, err
	}
	if cfg.GatewayTimeout, err = getEnvSeconds("GATEWAY_TIMEOUT_SEC", 15); err != nil {
		return AppConfig{}, err
	}
	if cfg.CheckoutLockTTL, err = getEnvSeconds("CHECKOUT_LOCK_TTL_SEC", 30); err != nil {
		return AppConfig{}, err
	}

	ttlMin, err := getEnvInt("PAYMENT_STATE_TTL_MIN", 60)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid PAYMENT_STATE_TTL_MIN: %w", err)
	}
	if ttlMin <= 0 {
		return AppConfig{}, fmt.Errorf("PAYMENT_STATE_TTL_MIN must be > 0")
	}
	cfg.PaymentStateTTL = time.Duration(ttlMin) * time.Minute

	pct, err := decimal.NewFromString(getEnv("CHECKOUT_DISCOUNT_PERCENT", "15"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_DISCOUNT_PERCENT: %w", err)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return AppConfig{}, fmt.Errorf("CHECKOUT_DISCOUNT_PERCENT must be within 0..100")
	}
	cfg.CheckoutDiscountPercent = pct

	if cfg.CheckoutClearCart, err = getEnvBool("CHECKOUT_CLEAR_CART", false); err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_CLEAR_CART: %w", err)
	}
	if cfg.LogDev, err = getEnvBool("LOG_DEV", false); err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOG_DEV: %w", err)
	}

	switch cfg.DBDriver {
	case "sqlite":
		if cfg.DBPath == "" {
			return AppConfig{}, fmt.Errorf("DB_PATH must not be empty")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return AppConfig{}, fmt.Errorf("DATABASE_URL is required for DB_DRIVER=postgres")
		}
	default:
		return AppConfig{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	if len(cfg.KafkaBrokers) > 0 {
		if cfg.KafkaTopic == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
		if cfg.KafkaGroupID == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
		}
	}
	if cfg.OrderEventStream == "" || cfg.OrderEventGroup == "" || cfg.OrderEventConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_STREAM, ORDER_EVENT_GROUP and ORDER_EVENT_CONSUMER must not be empty")
	}

	return cfg, nil
}

// RedisEnabled reports whether Redis-backed features are on.
func (c AppConfig) RedisEnabled() bool { return c.RedisAddr != "" }

// KafkaEnabled reports whether the relay and notifier have brokers.
func (c AppConfig) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// getEnvSeconds reads a positive number of seconds.
func getEnvSeconds(key string, fallback int) (time.Duration, error) {
	n, err := getEnvInt(key, fallback)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return time.Duration(n) * time.Second, nil
}

// splitCSV parses a comma separated list, dropping empty entries.
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
