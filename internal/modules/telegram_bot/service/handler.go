package service

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"po_bot/internal/exchange"
	"po_bot/internal/models"
	accounts "po_bot/internal/modules/accounts/service"
	"po_bot/internal/runner"
	"po_bot/pkg/logger"
)

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	// 1) Обычные сообщения
	if msg := update.Message; msg != nil {
		chatID := msg.Chat.ID

		if msg.IsCommand() {
			t.handleCommand(ctx, chatID, msg)
			return
		}

		t.handleTextMessage(ctx, msg)
		return
	}

	// 2) Inline-кнопки (CallbackQuery)
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil {
			return
		}
		t.handleCallback(ctx, cb.Message.Chat.ID, cb)
		return
	}
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		if err := t.handleStart(ctx, chatID); err != nil {
			logger.Error("[TG] handleStart: %v", err)
		}
	case "demo":
		t.handleDemo(ctx, chatID)
	case "live":
		t.handleLive(ctx, chatID)
	case "confirm":
		t.handleConfirm(ctx, chatID)
	case "price":
		t.handlePrice(ctx, chatID, args)
	case "balance":
		go t.handleBalance(ctx, chatID) // может ходить к брокеру
	case "pnl":
		t.handlePnl(ctx, chatID)
	case "logs":
		t.handleLogs(ctx, chatID)
	case "setamount":
		t.handleSetAmount(ctx, chatID, args)
	case "setpercent":
		t.handleSetPercent(ctx, chatID, args)
	case "martingale":
		t.handleMartingale(ctx, chatID, args)
	case "assets":
		t.handleAssets(ctx, chatID)
	case "status":
		t.handleStatus(ctx, chatID)
	default:
		_, _ = t.Send(ctx, chatID, "Не знаю такую команду. Начни со /start")
	}
}

func (t *Telegram) handleStart(ctx context.Context, chatID int64) error {
	if _, err := t.getAccount(ctx, chatID); err != nil {
		_, err = t.Send(ctx, chatID, "Настройки не найдены, попробуй ещё раз /start")
		return err
	}

	replyKb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("▶️ Запустить бота"),
			tgbotapi.NewKeyboardButton("⏹ Остановить бота"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("📊 Статус"),
		),
	)

	msgText := "Привет! Я торговый бот для бинарных опционов.\n\n" +
		"1️⃣ Сначала укажи креды демо-счёта:\n" +
		"`DEMO: email; password`\n\n" +
		"2️⃣ Потом запускай торговлю кнопкой «▶️ Запустить бота».\n\n" +
		"Реальный счёт подключается так же (`LIVE: email; password`),\n" +
		"переключение — /live и /confirm.\n\n" +
		"Команды: /status /balance /pnl /logs /price\n" +
		"Настройки: /setamount /setpercent /martingale /assets"

	msg := tgbotapi.NewMessage(chatID, msgText)
	msg.ParseMode = "Markdown"
	msg.ReplyMarkup = replyKb

	_, err := t.SendMessage(ctx, msg)
	return err
}

func (t *Telegram) handleTextMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	// креды: DEMO: email; pass / LIVE: email; pass
	upper := strings.ToUpper(text)
	if strings.HasPrefix(upper, "DEMO:") || strings.HasPrefix(upper, "LIVE:") {
		t.handleCredentials(ctx, msg)
		return
	}

	if _, err := t.getAccount(ctx, chatID); err != nil {
		_, _ = t.Send(ctx, chatID, "Настройки не найдены, попробуй /start")
		return
	}

	switch text {
	case "▶️ Запустить бота":
		go func() {
			runCtx := context.Background()
			if err := t.manager.RunForUser(runCtx, chatID, t); err != nil {
				t.explainRunError(runCtx, chatID, err)
				return
			}
			_, _ = t.Send(runCtx, chatID, "✅ Бот запущен, торгую по RSI.")
		}()

	case "⏹ Остановить бота":
		if err := t.manager.StopForUser(chatID); err != nil {
			_, _ = t.Send(ctx, chatID, "⚠️ Бот и так не запущен.")
			return
		}
		_, _ = t.Send(ctx, chatID, "🛑 Бот остановлен. Открытая сделка доиграет до экспирации.")

	case "📊 Статус":
		t.handleStatus(ctx, chatID)
	}
}

func (t *Telegram) explainRunError(ctx context.Context, chatID int64, err error) {
	switch {
	case errors.Is(err, runner.ErrAlreadyRunning):
		_, _ = t.Send(ctx, chatID, "ℹ️ Бот уже запущен.")
	case errors.Is(err, exchange.ErrNoCredentials):
		_, _ = t.Send(ctx, chatID, "❗️ Сначала креды: `DEMO: email; password`")
	case errors.Is(err, exchange.ErrAuth):
		_, _ = t.Send(ctx, chatID, "❌ Брокер не принял логин/пароль, проверь креды.")
	default:
		logger.Error("[TG] RunForUser user %d: %v", chatID, err)
		_, _ = t.Send(ctx, chatID, "❌ Не удалось запустить бота: "+err.Error())
	}
}

func (t *Telegram) handleCredentials(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	live := strings.HasPrefix(strings.ToUpper(text), "LIVE:")
	text = text[len("DEMO:"):] // префиксы одной длины
	parts := strings.Split(text, ";")
	if len(parts) != 2 {
		_, _ = t.SendMessage(ctx, tgbotapi.NewMessage(chatID, "Формат: `DEMO: email; password`"))
		return
	}
	email := strings.TrimSpace(parts[0])
	pass := strings.TrimSpace(parts[1])
	if email == "" || pass == "" {
		_, _ = t.SendMessage(ctx, tgbotapi.NewMessage(chatID, "Формат: `DEMO: email; password`"))
		return
	}

	_, err := t.store.Mutate(ctx, chatID, func(a *models.Account) error {
		if live {
			a.LiveEmail = email
			a.LivePass = pass
		} else {
			a.DemoEmail = email
			a.DemoPass = pass
		}
		return nil
	})
	if err != nil {
		logger.Error("[TG] save credentials user %d: %v", chatID, err)
		_, _ = t.Send(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}

	if live {
		_, _ = t.Send(ctx, chatID, "✅ Креды LIVE сохранены. Переключение: /live, затем /confirm.")
	} else {
		_, _ = t.Send(ctx, chatID, "✅ Креды DEMO сохранены. Можно запускать торговлю.")
	}
}

// /demo — возврат на бумажный счёт. Работающую сессию гасим:
// она держит коннект под старые креды.
func (t *Telegram) handleDemo(ctx context.Context, chatID int64) {
	wasRunning := t.manager.StopForUser(chatID) == nil

	if err := accounts.SwitchPaper(ctx, t.store, chatID); err != nil {
		logger.Error("[TG] switch paper user %d: %v", chatID, err)
		_, _ = t.Send(ctx, chatID, "⚠️ Не удалось переключить: "+err.Error())
		return
	}

	txt := "📄 Режим DEMO. Сделки идут на бумажном счёте."
	if wasRunning {
		txt += "\n🛑 Бот остановлен, запусти заново."
	}
	_, _ = t.Send(ctx, chatID, txt)
}

// /live только помечает запрос: без /confirm режим не меняется.
func (t *Telegram) handleLive(ctx context.Context, chatID int64) {
	acct, err := t.getAccount(ctx, chatID)
	if err != nil {
		return
	}
	if acct.LiveEmail == "" || acct.LivePass == "" {
		_, _ = t.Send(ctx, chatID, "❗️ Сначала креды: `LIVE: email; password`")
		return
	}

	if err := accounts.RequestLive(ctx, t.store, chatID); err != nil {
		logger.Error("[TG] request live user %d: %v", chatID, err)
		_, _ = t.Send(ctx, chatID, "⚠️ Не удалось: "+err.Error())
		return
	}
	_, _ = t.Send(ctx, chatID,
		"⚠️ LIVE — это реальные деньги.\n"+
			"Подтверди переход командой /confirm. Отмена — /demo.")
}

func (t *Telegram) handleConfirm(ctx context.Context, chatID int64) {
	err := accounts.ConfirmLive(ctx, t.store, chatID)
	if errors.Is(err, accounts.ErrNoPendingSwitch) {
		_, _ = t.Send(ctx, chatID, "ℹ️ Подтверждать нечего: сначала /live.")
		return
	}
	if err != nil {
		logger.Error("[TG] confirm live user %d: %v", chatID, err)
		_, _ = t.Send(ctx, chatID, "⚠️ Не удалось: "+err.Error())
		return
	}

	wasRunning := t.manager.StopForUser(chatID) == nil
	txt := "🔴 Режим LIVE. Сделки идут на реальном счёте!"
	if wasRunning {
		txt += "\n🛑 Бот остановлен, запусти заново."
	}
	_, _ = t.Send(ctx, chatID, txt)
}

func (t *Telegram) handlePrice(ctx context.Context, chatID int64, args string) {
	acct, err := t.getAccount(ctx, chatID)
	if err != nil {
		return
	}

	asset := strings.ToUpper(args)
	if asset == "" {
		a, ok := acct.WatchedAsset()
		if !ok {
			_, _ = t.Send(ctx, chatID, "❗️ Список активов пуст: /assets")
			return
		}
		asset = a
	}

	q, ok := t.quotes.GetPrice(asset)
	if !ok {
		_, _ = t.SendF(ctx, chatID, "⏳ По %s ещё нет котировки, попробуй чуть позже.", asset)
		return
	}
	_, _ = t.SendF(ctx, chatID, "💱 %s\nbid %.5f / ask %.5f\n%s",
		q.Asset, q.Bid, q.Ask, q.Time.Format("15:04:05"))
}

// /balance: у работающей сессии берём снапшот из цикла, иначе
// логинимся одноразовым клиентом.
func (t *Telegram) handleBalance(ctx context.Context, chatID int64) {
	if bal, ok := t.manager.BalanceSnapshot(chatID); ok {
		_, _ = t.SendF(ctx, chatID, "💰 Баланс: %.2f", bal)
		return
	}

	acct, err := t.getAccount(ctx, chatID)
	if err != nil {
		return
	}
	creds := acct.Credentials()
	if creds.Empty() {
		_, _ = t.Send(ctx, chatID, "❗️ Сначала креды: `DEMO: email; password`")
		return
	}

	sess := exchange.NewClient(t.brokerCfg, creds, acct.Mode)
	if err := sess.Connect(ctx); err != nil {
		logger.Error("[TG] balance connect user %d: %v", chatID, err)
		_, _ = t.Send(ctx, chatID, "❌ Не удалось войти к брокеру: "+err.Error())
		return
	}
	defer sess.Disconnect()

	bal, err := sess.GetBalance(ctx)
	if err != nil {
		_, _ = t.Send(ctx, chatID, "⚠️ Баланс не получен: "+err.Error())
		return
	}
	_, _ = t.SendF(ctx, chatID, "💰 Баланс (%s): %.2f", acct.Mode, bal)
}

func (t *Telegram) handlePnl(ctx context.Context, chatID int64) {
	acct, err := t.getAccount(ctx, chatID)
	if err != nil {
		return
	}
	_, _ = t.Send(ctx, chatID, formatPnl(acct))
}

func (t *Telegram) handleLogs(ctx context.Context, chatID int64) {
	acct, err := t.getAccount(ctx, chatID)
	if err != nil {
		return
	}
	_, _ = t.Send(ctx, chatID, formatTrades(acct.RecentTrades(10)))
}

func (t *Telegram) handleSetAmount(ctx context.Context, chatID int64, args string) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(args, ",", "."), 64)
	if err != nil || v < t.cfg.StakeMin {
		_, _ = t.SendF(ctx, chatID, "Формат: /setamount 5 (минимум %.2f)", t.cfg.StakeMin)
		return
	}

	_, err = t.store.Mutate(ctx, chatID, func(a *models.Account) error {
		a.Amount = v
		a.UsePercent = false
		return nil
	})
	if err != nil {
		_, _ = t.Send(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}
	_, _ = t.SendF(ctx, chatID, "✅ Фиксированная ставка: $%.2f", v)
}

func (t *Telegram) handleSetPercent(ctx context.Context, chatID int64, args string) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(args, ",", "."), 64)
	if err != nil || v <= 0 || v > 100 {
		_, _ = t.Send(ctx, chatID, "Формат: /setpercent 1.5 (процент от баланса, 0–100)")
		return
	}

	_, err = t.store.Mutate(ctx, chatID, func(a *models.Account) error {
		a.Percent = v
		a.UsePercent = true
		return nil
	})
	if err != nil {
		_, _ = t.Send(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}
	_, _ = t.SendF(ctx, chatID, "✅ Ставка: %.2f%% от баланса", v)
}

func (t *Telegram) handleMartingale(ctx context.Context, chatID int64, args string) {
	var on bool
	switch strings.ToLower(args) {
	case "on":
		on = true
	case "off":
		on = false
	default:
		_, _ = t.Send(ctx, chatID, "Формат: /martingale on | off")
		return
	}

	_, err := t.store.Mutate(ctx, chatID, func(a *models.Account) error {
		a.Martingale = on
		if !on {
			a.MartingaleStep = 0
		}
		return nil
	})
	if err != nil {
		_, _ = t.Send(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}
	_, _ = t.SendF(ctx, chatID, "✅ Мартингейл: %s", onOff(on))
}

func (t *Telegram) handleAssets(ctx context.Context, chatID int64) {
	acct, err := t.getAccount(ctx, chatID)
	if err != nil {
		return
	}

	msg := tgbotapi.NewMessage(chatID, "Активы (нажми, чтобы включить/выключить):")
	msg.ReplyMarkup = assetsKeyboard(t.cfg.DefaultAssets, acct)
	_, _ = t.SendMessage(ctx, msg)
}

func (t *Telegram) handleStatus(ctx context.Context, chatID int64) {
	acct, err := t.getAccount(ctx, chatID)
	if err != nil {
		return
	}

	st, running := t.manager.StatusForUser(chatID)

	msg := tgbotapi.NewMessage(chatID, formatStatus(acct, st, running))
	msg.ParseMode = "Markdown"
	_, _ = t.SendMessage(ctx, msg)
}

func (t *Telegram) handleCallback(ctx context.Context, chatID int64, cb *tgbotapi.CallbackQuery) {
	// снимаем "часики" на кнопке
	_, _ = t.bot.Request(tgbotapi.NewCallback(cb.ID, ""))

	data := cb.Data
	if asset, ok := strings.CutPrefix(data, "toggle_"); ok {
		t.toggleAsset(ctx, chatID, cb.Message, asset)
		return
	}
}

func (t *Telegram) toggleAsset(ctx context.Context, chatID int64, msg *tgbotapi.Message, asset string) {
	updated, err := t.store.Mutate(ctx, chatID, func(a *models.Account) error {
		if a.HasAsset(asset) {
			out := a.Assets[:0]
			for _, s := range a.Assets {
				if s != asset {
					out = append(out, s)
				}
			}
			a.Assets = out
		} else {
			a.Assets = append(a.Assets, asset)
		}
		return nil
	})
	if err != nil {
		_, _ = t.Send(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}

	// перерисовываем клавиатуру на том же сообщении
	if msg != nil {
		edit := tgbotapi.NewEditMessageReplyMarkup(chatID, msg.MessageID,
			assetsKeyboard(t.cfg.DefaultAssets, updated))
		_, _ = t.bot.Request(edit)
	}
}
