package exchange

import (
	"context"

	"github.com/pkg/errors"

	"po_bot/internal/models"
)

// Таксономия ошибок брокера. Терминальна только ErrAuth на первом коннекте,
// остальное — повод для ретрая с новым циклом решения.
var (
	ErrAuth              = errors.New("broker: auth failed")
	ErrNoCredentials     = errors.New("broker: credentials not set")
	ErrConnectivity      = errors.New("broker: connectivity")
	ErrOrderRejected     = errors.New("broker: order rejected")
	ErrSettlementPending = errors.New("broker: settlement pending")
)

// Outcome — итог исполнившегося опциона. Profit со знаком:
// выигрыш > 0, проигрыш <= 0 (обычно -ставка).
type Outcome struct {
	OrderID string
	Win     bool
	Profit  float64
}

// Session — сессия одного пользователя у брокера.
// Хэндл принадлежит ровно одному раннеру, конкурентные вызовы не допускаются.
type Session interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Disconnect()

	GetBalance(ctx context.Context) (float64, error)
	GetCandles(ctx context.Context, asset string, intervalSec, count int) ([]models.Candle, error)
	// PlaceOrder не идемпотентен на стороне брокера: один вызов на одно решение.
	PlaceOrder(ctx context.Context, asset string, amount float64, dir models.Side, expirySec int) (string, error)
	CheckSettlement(ctx context.Context, orderID string) (Outcome, error)
}

// Factory создаёт сессию под креды и тип счёта ("demo"/"real").
// Подменяется в тестах.
type Factory func(creds models.Credentials, accountType models.Mode) Session
