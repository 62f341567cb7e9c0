package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

func TestApplyPlatformDefaults(t *testing.T) {
	t.Run("Fills", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://platform/db")
		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("KART_REDIS_ADDR", "")
		t.Setenv("PORT", "9000")

		cfg := Config{Addr: defaultAddr, RedisAddr: "localhost:6379"}
		cfg.applyPlatformDefaults()

		assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
		assert.Equal(t, "redis:6379", cfg.RedisAddr)
		assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	})
	t.Run("ExplicitWins", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://platform/db")
		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("KART_REDIS_ADDR", "cache:6379")
		t.Setenv("PORT", "9000")

		cfg := Config{
			Addr:        "127.0.0.1:8081",
			DatabaseURL: "postgres://explicit/db",
			RedisAddr:   "cache:6379",
		}
		cfg.applyPlatformDefaults()

		assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
		assert.Equal(t, "cache:6379", cfg.RedisAddr)
		assert.Equal(t, "127.0.0.1:8081", cfg.Addr)
	})
}

func TestCheckoutConfigOrder(t *testing.T) {
	cfg := CheckoutConfig{
		StockRetries:      4,
		StockRetryBackoff: 25 * time.Millisecond,
		NumberAttempts:    7,
		LockTimeout:       time.Second,
		NotifyQueue:       64,
		NotifyTimeout:     3 * time.Second,
	}
	assert.Equal(t, order.Config{
		StockRetries:      4,
		StockRetryBackoff: 25 * time.Millisecond,
		NumberAttempts:    7,
		NotifyQueue:       64,
		NotifyTimeout:     3 * time.Second,
	}, cfg.Order())
}
