package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxManager — то, что нужно сторам от транзакционного слоя.
type TxManager interface {
	RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx pgx.Tx) error) error
}

var _ TxManager = (*PgTxManager)(nil)
