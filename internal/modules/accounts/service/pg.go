package service

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"

	"po_bot/internal/models"
	"po_bot/internal/modules/config"
	"po_bot/pkg/db"
)

// PG — постгресовый стор: строка на пользователя, документ в jsonb.
// SELECT ... FOR UPDATE даёт пер-юзерную сериализацию без глобального лока.
type PG struct {
	db  db.TxManager
	cfg *config.Config
}

func NewPG(txm db.TxManager, cfg *config.Config) *PG {
	return &PG{db: txm, cfg: cfg}
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id    BIGINT PRIMARY KEY,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate создаёт таблицу при старте.
func (p *PG) Migrate(ctx context.Context) error {
	return p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, createTableSQL)
		return err
	})
}

func (p *PG) Get(ctx context.Context, userID int64) (account *models.Account, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Get: %w", err)
		}
	}()

	err = p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		var doc []byte
		qErr := tx.QueryRow(ctxTx,
			`SELECT doc FROM accounts WHERE user_id = $1`, userID,
		).Scan(&doc)
		if qErr == pgx.ErrNoRows {
			account = models.NewAccountFromDefaults(userID, p.cfg)
			return p.upsert(ctxTx, tx, account)
		}
		if qErr != nil {
			return qErr
		}
		account = &models.Account{}
		return sonic.Unmarshal(doc, account)
	})
	return account, err
}

func (p *PG) Mutate(ctx context.Context, userID int64, fn func(*models.Account) error) (account *models.Account, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Mutate: %w", err)
		}
	}()

	err = p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		a := &models.Account{}
		var doc []byte
		qErr := tx.QueryRow(ctxTx,
			`SELECT doc FROM accounts WHERE user_id = $1 FOR UPDATE`, userID,
		).Scan(&doc)
		switch {
		case qErr == pgx.ErrNoRows:
			a = models.NewAccountFromDefaults(userID, p.cfg)
		case qErr != nil:
			return qErr
		default:
			if uErr := sonic.Unmarshal(doc, a); uErr != nil {
				return uErr
			}
		}

		if fnErr := fn(a); fnErr != nil {
			return fnErr
		}
		account = a
		return p.upsert(ctxTx, tx, a)
	})
	return account, err
}

func (p *PG) Count(ctx context.Context) (n int, err error) {
	err = p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctxTx, `SELECT count(*) FROM accounts`).Scan(&n)
	})
	return n, err
}

func (p *PG) upsert(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	doc, err := sonic.Marshal(a)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (user_id, doc, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		a.UserID, doc,
	)
	return err
}
