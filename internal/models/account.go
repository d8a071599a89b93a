package models

import (
	"sort"
	"time"

	"po_bot/internal/modules/config"
)

type Mode string

const (
	ModePaper Mode = "demo"
	ModeReal  Mode = "real"
)

type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) Empty() bool { return c.Email == "" || c.Password == "" }

// TradeRecord — одна строка торговой истории (append-only).
type TradeRecord struct {
	Asset     string    `json:"asset"`
	Stake     float64   `json:"stake"`
	Direction Side      `json:"direction"`
	Outcome   string    `json:"outcome"` // WIN / LOSS
	Profit    float64   `json:"profit"`  // со знаком
	Time      time.Time `json:"time"`
}

// Account хранит настройки и историю одного пользователя.
// Формат json-полей стабилен: новые поля добавляем только optional.
type Account struct {
	UserID int64 `json:"user_id"` // Telegram chat/user ID

	DemoEmail string `json:"demo_email,omitempty"`
	DemoPass  string `json:"demo_pass,omitempty"`
	LiveEmail string `json:"live_email,omitempty"`
	LivePass  string `json:"live_pass,omitempty"`

	Mode        Mode `json:"mode"`
	PendingLive bool `json:"pending_live"` // live запрошен, ждём /confirm

	// Ставка: либо фикс, либо процент от баланса (взаимоисключающие)
	Amount     float64 `json:"amount"`
	UsePercent bool    `json:"use_percent"`
	Percent    float64 `json:"percent"`

	Martingale     bool `json:"martingale"`
	MartingaleStep int  `json:"martingale_step"`

	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	Profit float64 `json:"profit"`

	Trades []TradeRecord `json:"trades"`
	Assets []string      `json:"assets"`
}

// NewAccountFromDefaults — дефолты при первом обращении.
func NewAccountFromDefaults(userID int64, cfg *config.Config) *Account {
	assets := make([]string, len(cfg.DefaultAssets))
	copy(assets, cfg.DefaultAssets)
	return &Account{
		UserID:     userID,
		Mode:       ModePaper,
		Amount:     cfg.DefaultAmount,
		UsePercent: false,
		Percent:    cfg.DefaultPercent,
		Assets:     assets,
	}
}

// Credentials возвращает пару для текущего режима.
func (a *Account) Credentials() Credentials {
	if a.Mode == ModeReal {
		return Credentials{Email: a.LiveEmail, Password: a.LivePass}
	}
	return Credentials{Email: a.DemoEmail, Password: a.DemoPass}
}

// WatchedAsset — актив для торговли: первый в стабильном порядке.
// Один актив за цикл, ротации нет.
func (a *Account) WatchedAsset() (string, bool) {
	if len(a.Assets) == 0 {
		return "", false
	}
	sorted := make([]string, len(a.Assets))
	copy(sorted, a.Assets)
	sort.Strings(sorted)
	return sorted[0], true
}

// RecentTrades — последние n записей, свежие в конце.
func (a *Account) RecentTrades(n int) []TradeRecord {
	if n <= 0 || len(a.Trades) == 0 {
		return nil
	}
	if n > len(a.Trades) {
		n = len(a.Trades)
	}
	out := make([]TradeRecord, n)
	copy(out, a.Trades[len(a.Trades)-n:])
	return out
}

// HasAsset ...
func (a *Account) HasAsset(asset string) bool {
	for _, s := range a.Assets {
		if s == asset {
			return true
		}
	}
	return false
}
