package main

import (
	"context"
	"log"

	"go.uber.org/fx"

	"po_bot/internal/modules/accounts"
	"po_bot/internal/modules/config"
	"po_bot/internal/modules/health"
	"po_bot/internal/modules/strategy"
	telegram "po_bot/internal/modules/telegram_bot"
	"po_bot/internal/runner"
	"po_bot/pkg/logger"
	"po_bot/pkg/tracing"
)

func main() {
	logger.SetServiceName("po_bot")
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		accounts.Module(),
		strategy.Module(),
		runner.Module(),
		telegram.Module(),
		health.Module(),
		fx.Invoke(initTracing),
	)
	app.Run()
}

// трейсер опционален: без заданного хоста живём на NoopTracer
func initTracing(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Jaeger.Host == "" {
		return nil
	}

	tracing.SetServiceName("po_bot")
	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		Host: cfg.Jaeger.Host,
		Port: cfg.Jaeger.Port,
	})
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			closeTracer()
			return nil
		},
	})
	return nil
}
