package service

import (
	"context"

	"github.com/pkg/errors"

	"po_bot/internal/models"
)

var ErrNoPendingSwitch = errors.New("accounts: no pending live switch")

// Store — единственный владелец персистентного состояния аккаунтов.
// Get создаёт запись с дефолтами при первом обращении. Mutate — это
// read-modify-write под пер-юзерной блокировкой: мутация из цикла раннера
// и из телеграм-хендлера не затирают друг друга. Если fn вернула ошибку,
// ничего не сохраняем.
type Store interface {
	Get(ctx context.Context, userID int64) (*models.Account, error)
	Mutate(ctx context.Context, userID int64, fn func(*models.Account) error) (*models.Account, error)
	Count(ctx context.Context) (int, error)
}

// RequestLive помечает запрос на live-режим. Сам режим не меняется:
// mode становится real только через ConfirmLive.
func RequestLive(ctx context.Context, s Store, userID int64) error {
	_, err := s.Mutate(ctx, userID, func(a *models.Account) error {
		a.PendingLive = true
		return nil
	})
	return err
}

// ConfirmLive переключает на real, если переход был запрошен.
func ConfirmLive(ctx context.Context, s Store, userID int64) error {
	_, err := s.Mutate(ctx, userID, func(a *models.Account) error {
		if !a.PendingLive {
			return ErrNoPendingSwitch
		}
		a.Mode = models.ModeReal
		a.PendingLive = false
		return nil
	})
	return err
}

// SwitchPaper возвращает на demo и сбрасывает незакрытый запрос live.
func SwitchPaper(ctx context.Context, s Store, userID int64) error {
	_, err := s.Mutate(ctx, userID, func(a *models.Account) error {
		a.Mode = models.ModePaper
		a.PendingLive = false
		return nil
	})
	return err
}
