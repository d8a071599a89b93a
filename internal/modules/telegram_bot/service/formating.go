package service

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"po_bot/internal/models"
	"po_bot/internal/runner"
)

func formatStatus(a *models.Account, st runner.Status, running bool) string {
	var b strings.Builder

	mode := "DEMO 📄"
	if a.Mode == models.ModeReal {
		mode = "LIVE 🔴"
	}
	fmt.Fprintf(&b, "*📊 Статус*\n\nСчёт: *%s*\n", mode)
	if a.PendingLive {
		b.WriteString("⚠️ Ожидает /confirm для LIVE\n")
	}

	if running {
		fmt.Fprintf(&b, "Бот: *работает* (%s)\n", st.State)
		if st.Asset != "" {
			fmt.Fprintf(&b, "Актив: `%s`\n", st.Asset)
		}
		if st.LastRSI > 0 {
			fmt.Fprintf(&b, "RSI: `%.2f`\n", st.LastRSI)
		}
		if st.Balance > 0 {
			fmt.Fprintf(&b, "Баланс: `%.2f`\n", st.Balance)
		}
	} else {
		b.WriteString("Бот: *остановлен*\n")
	}

	b.WriteString("\n*Ставка*\n")
	if a.UsePercent {
		fmt.Fprintf(&b, "%s%% от баланса\n", f2(a.Percent))
	} else {
		fmt.Fprintf(&b, "$%s фикс\n", f2(a.Amount))
	}
	fmt.Fprintf(&b, "Мартингейл: %s", onOff(a.Martingale))
	if a.Martingale && a.MartingaleStep > 0 {
		fmt.Fprintf(&b, " (шаг %d)", a.MartingaleStep)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Активы: `%s`\n", strings.Join(a.Assets, " "))
	return b.String()
}

func formatPnl(a *models.Account) string {
	total := a.Wins + a.Losses
	if total == 0 {
		return "📭 Сделок ещё не было."
	}
	winrate := float64(a.Wins) / float64(total) * 100
	return fmt.Sprintf(
		"📈 PnL\n\nСделок: %d\nПобед: %d\nПоражений: %d\nWinrate: %.1f%%\nПрофит: %+.2f",
		total, a.Wins, a.Losses, winrate, a.Profit,
	)
}

func formatTrades(trades []models.TradeRecord) string {
	if len(trades) == 0 {
		return "📭 История пуста."
	}

	var b strings.Builder
	b.WriteString("🧾 Последние сделки:\n")
	for _, tr := range trades {
		mark := "✅"
		if tr.Outcome != "WIN" {
			mark = "❌"
		}
		fmt.Fprintf(&b, "%s %s %s $%s %+.2f (%s)\n",
			mark, tr.Asset, tr.Direction, f2(tr.Stake), tr.Profit,
			tr.Time.Format("02.01 15:04"))
	}
	return b.String()
}

// assetsKeyboard — по кнопке на актив, галка у включённых.
func assetsKeyboard(all []string, a *models.Account) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	row := []tgbotapi.InlineKeyboardButton{}
	for _, asset := range all {
		label := asset
		if a.HasAsset(asset) {
			label = "✅ " + asset
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, "toggle_"+asset))
		if len(row) == 2 {
			rows = append(rows, row)
			row = []tgbotapi.InlineKeyboardButton{}
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func onOff(v bool) string {
	if v {
		return "вкл"
	}
	return "выкл"
}

func f2(v float64) string { // для красивого вывода
	return fmt.Sprintf("%.2f", v)
}
