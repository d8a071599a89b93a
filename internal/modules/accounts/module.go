package accounts

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"po_bot/internal/modules/accounts/service"
	"po_bot/internal/modules/config"
	"po_bot/pkg/db"
	"po_bot/pkg/logger"
)

// Module выбирает бэкенд: постгрес при заданном DSN, иначе файл.
func Module() fx.Option {
	return fx.Module("accounts",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config) (service.Store, error) {
				if cfg.DB == "" {
					logger.Info("[ACCOUNTS] file store: %s", cfg.StorePath)
					return service.NewFile(cfg), nil
				}

				pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}
				txm := db.NewPgTxManager(pool)
				if err := txm.Ping(ctx); err != nil {
					return nil, err
				}

				pg := service.NewPG(txm, cfg)
				if err := pg.Migrate(ctx); err != nil {
					return nil, err
				}
				logger.Info("[ACCOUNTS] pg store")
				return pg, nil
			},
		),
	)
}
