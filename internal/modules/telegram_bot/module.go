package telegram

import (
	"context"

	"go.uber.org/fx"

	"po_bot/internal/modules/telegram_bot/service"
	"po_bot/internal/runner"
)

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			service.NewTelegram, // func(*config.Config, accounts.Store, *runner.Manager) (*service.Telegram, error)
		),

		// Адаптер: *service.Telegram -> runner.TelegramNotifier
		fx.Provide(
			func(t *service.Telegram) runner.TelegramNotifier {
				return t
			},
		),

		fx.Invoke(
			func(lc fx.Lifecycle, t *service.Telegram) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return t.Start(context.Background())
					},
					OnStop: func(ctx context.Context) error {
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
