package runner

import (
	"go.uber.org/fx"

	"po_bot/internal/exchange"
	"po_bot/internal/modules/config"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			func(cfg *config.Config) exchange.Factory {
				return exchange.NewFactory(exchange.Config{
					BaseURL: cfg.Broker.BaseURL,
					WSURL:   cfg.Broker.WSURL,
				})
			},
			NewManager,
		),
	)
}
