package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"po_bot/internal/models"
	"po_bot/internal/modules/accounts/service"
	"po_bot/internal/modules/config"
	"po_bot/pkg/db"
	"po_bot/pkg/logger"
)

// Одноразовый перенос аккаунтов из файлового стора в постгрес.
// Настройки: .migrate.yaml рядом или env (SOURCE, DATABASE_DSN).

type snapshot struct {
	Accounts []*models.Account `json:"accounts"`
}

func run() error {
	viper.SetConfigName(".migrate")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetDefault("source", "data/users.json")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		// конфиг-файл опционален, env достаточно
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.Wrap(err, "read config")
		}
	}

	source := viper.GetString("source")
	dsn := viper.GetString("database_dsn")
	if dsn == "" {
		return errors.New("DATABASE_DSN is required")
	}

	raw, err := os.ReadFile(source)
	if err != nil {
		return errors.Wrapf(err, "read %s", source)
	}
	var snap snapshot
	if err := sonic.Unmarshal(raw, &snap); err != nil {
		return errors.Wrapf(err, "decode %s", source)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn})
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer pool.Close()

	pg := service.NewPG(db.NewPgTxManager(pool), &config.Config{})
	if err := pg.Migrate(ctx); err != nil {
		return errors.Wrap(err, "migrate schema")
	}

	for _, src := range snap.Accounts {
		if src == nil {
			continue
		}
		_, err := pg.Mutate(ctx, src.UserID, func(a *models.Account) error {
			*a = *src
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "upsert user %d", src.UserID)
		}
		logger.Info("[MIGRATE] user %d: %d trades", src.UserID, len(src.Trades))
	}

	logger.Info("[MIGRATE] done, %d accounts", len(snap.Accounts))
	return nil
}

func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(); err != nil {
		logger.Fatal("migrate: %v", err)
	}
}
