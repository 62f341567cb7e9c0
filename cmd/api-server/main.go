package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/kart-commerce/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		lg.Debug("Config loaded",
			zap.String("redis", cfg.RedisAddr),
			zap.Int("rate_limit", cfg.RateLimit.Max),
			zap.Bool("rate_limit_shared", cfg.RateLimit.Shared),
		)
		return appkg.Run(ctx, lg, m, cfg)
	})
}
