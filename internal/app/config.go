package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/notify"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the API server configuration, loadable from environment
// variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr    string `default:"localhost:6379" usage:"Redis address for the task queue and shared rate limits (KART_REDIS_ADDR or REDIS_ADDR)" flag:"redis-addr"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
	Checkout     CheckoutConfig
	Notify       notify.EnqueueConfig
}

// RateLimitConfig controls the per-client fixed window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
	Shared bool          `default:"false" usage:"Keep rate limit counters in Redis" flag:"rate-limit-shared"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// CheckoutConfig tunes the checkout transaction.
type CheckoutConfig struct {
	StockRetries      int           `default:"3" usage:"Retries of a stock decrement after a lock conflict"`
	StockRetryBackoff time.Duration `default:"10ms" usage:"Backoff step between stock decrement retries"`
	NumberAttempts    int           `default:"5" usage:"Attempts to allocate a unique order number"`
	LockTimeout       time.Duration `default:"2s" usage:"Postgres lock_timeout inside checkout transactions"`
	NotifyQueue       int           `default:"256" usage:"Order notifications buffered for background delivery"`
	NotifyTimeout     time.Duration `default:"5s" usage:"Timeout of one order notification delivery"`
}

// Order returns the order service settings.
func (c CheckoutConfig) Order() order.Config {
	return order.Config{
		StockRetries:      c.StockRetries,
		StockRetryBackoff: c.StockRetryBackoff,
		NumberAttempts:    c.NumberAttempts,
		NotifyQueue:       c.NotifyQueue,
		NotifyTimeout:     c.NotifyTimeout,
	}
}

// WorkerConfig holds the notification worker configuration.
type WorkerConfig struct {
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr   string `default:"localhost:6379" usage:"Redis address of the task queue" flag:"redis-addr"`
	Concurrency int    `default:"10" usage:"Tasks processed in parallel"`
	Queue       string `default:"notifications" usage:"Queue to consume"`
	// Mail goes to the log when SMTP.Addr is empty.
	SMTP            notify.SMTPConfig
	ShutdownTimeout time.Duration `default:"15s" usage:"Time given to running tasks on shutdown" flag:"shutdown-timeout"`
}

func load(dst any) error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	loader := aconfig.LoaderFor(dst, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return errors.Wrap(err, "load config")
	}
	return nil
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := load(&cfg); err != nil {
		return nil, err
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}
	if cfg.APIKeyPepper == "" {
		return nil, errors.New("api key pepper is required: set KART_API_KEY_PEPPER")
	}
	return &cfg, nil
}

// LoadWorkerConfig loads the notification worker configuration.
func LoadWorkerConfig() (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := load(&cfg); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" && os.Getenv("KART_REDIS_ADDR") == "" {
		cfg.RedisAddr = v
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" && os.Getenv("KART_REDIS_ADDR") == "" {
		c.RedisAddr = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
