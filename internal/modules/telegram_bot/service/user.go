package service

import (
	"context"

	"po_bot/internal/models"
	"po_bot/pkg/logger"
)

// getAccount — стор сам создаёт запись с дефолтами при первом визите.
// Об ошибке сообщаем юзеру прямо здесь, вызывающему остаётся только return.
func (t *Telegram) getAccount(ctx context.Context, chatID int64) (*models.Account, error) {
	a, err := t.store.Get(ctx, chatID)
	if err != nil {
		logger.Error("[TG] get account %d: %v", chatID, err)
		_, _ = t.Send(ctx, chatID, "⚠️ Хранилище недоступно, попробуй позже.")
		return nil, err
	}
	return a, nil
}
