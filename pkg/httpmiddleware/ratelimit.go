package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimitConfig configures the fixed window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per key and window.
	Max int
	// Window is the window length.
	Window time.Duration
	// KeyFunc extracts the limit key. The client IP, honouring
	// X-Forwarded-For, is used when it is nil or returns "".
	KeyFunc func(*http.Request) string
	// Store defaults to an in-process memory store.
	Store limiter.Store
}

// NewRedisStore returns a limiter store shared by every replica using rdb.
func NewRedisStore(rdb *redis.Client) (limiter.Store, error) {
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix: "kart:ratelimit",
	})
	if err != nil {
		return nil, errors.Wrap(err, "create redis limiter store")
	}
	return store, nil
}

// RateLimit returns a middleware that answers 429 once a key exceeds
// cfg.Max requests in cfg.Window. X-RateLimit-* headers are set on every
// response.
func RateLimit(cfg RateLimitConfig) Middleware {
	store := cfg.Store
	if store == nil {
		store = memory.NewStore()
	}
	lim := limiter.New(store, limiter.Rate{
		Period: cfg.Window,
		Limit:  int64(cfg.Max),
	}, limiter.WithTrustForwardHeader(true))

	mw := stdlib.NewMiddleware(lim,
		stdlib.WithKeyGetter(func(r *http.Request) string {
			if cfg.KeyFunc != nil {
				if key := cfg.KeyFunc(r); key != "" {
					return key
				}
			}
			return lim.GetIPKey(r)
		}),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			zctx.From(r.Context()).Error("Rate limiter failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}),
	)
	return mw.Handler
}
