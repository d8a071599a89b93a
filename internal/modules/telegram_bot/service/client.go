package service

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"po_bot/internal/exchange"
	"po_bot/internal/models"
	accounts "po_bot/internal/modules/accounts/service"
	"po_bot/internal/modules/config"
	"po_bot/internal/runner"
	"po_bot/pkg/logger"
)

// Telegram — фасад бота: принимает апдейты, дёргает Manager и Store.
type Telegram struct {
	bot     *tgbot.BotAPI
	cfg     *config.Config
	store   accounts.Store
	manager *runner.Manager

	brokerCfg exchange.Config
	// котировочный фид без авторизации — общий для всех юзеров (/price)
	quotes *exchange.Client

	cancel context.CancelFunc
}

func NewTelegram(cfg *config.Config, store accounts.Store, manager *runner.Manager) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, err
	}

	brokerCfg := exchange.Config{
		BaseURL: cfg.Broker.BaseURL,
		WSURL:   cfg.Broker.WSURL,
	}

	return &Telegram{
		bot:       b,
		cfg:       cfg,
		store:     store,
		manager:   manager,
		brokerCfg: brokerCfg,
		quotes:    exchange.NewClient(brokerCfg, models.Credentials{}, models.ModePaper),
	}, nil
}

func (t *Telegram) Send(ctx context.Context, chatID int64, msg string) (tgbot.Message, error) {
	return t.bot.Send(tgbot.NewMessage(chatID, msg))
}

func (t *Telegram) SendF(ctx context.Context, chatID int64, format string, args ...any) (tgbot.Message, error) {
	return t.Send(ctx, chatID, fmt.Sprintf(format, args...))
}

func (t *Telegram) SendMessage(_ context.Context, message tgbot.MessageConfig) (tgbot.Message, error) {
	return t.bot.Send(message)
}

// Start поднимает long polling и котировочный фид; не блокирует.
func (t *Telegram) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel

	go func() {
		// канал только дренируем: кэш цен наполняет сам стрим
		for range t.quotes.StreamQuotes(ctx, t.cfg.DefaultAssets) {
		}
	}()

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		logger.Info("[TG] polling started, bot=%s", t.bot.Self.UserName)
		for update := range updates {
			t.handleUpdate(ctx, update)
		}
	}()

	return nil
}

func (t *Telegram) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.bot.StopReceivingUpdates()
}
