package runner

import (
	"math"

	"po_bot/internal/models"
	"po_bot/internal/modules/config"
)

// Stake считает ставку по политике аккаунта.
// Фикс — как настроено, без оглядки на баланс. Процент — от текущего
// баланса, округление до цента, но не ниже минимума брокера.
// Мартингейл умножает базу на factor^step (step 0 → x1); шаг растёт
// на каждом проигрыше и сбрасывается на выигрыше (см. recording в цикле).
func Stake(a *models.Account, balance float64, cfg *config.Config) float64 {
	base := a.Amount
	if a.UsePercent {
		base = round2(balance * a.Percent / 100)
		if base < cfg.StakeMin {
			base = cfg.StakeMin
		}
	}

	if a.Martingale && a.MartingaleStep > 0 {
		step := a.MartingaleStep
		if step > cfg.MartingaleMaxStep {
			step = cfg.MartingaleMaxStep
		}
		base = round2(base * math.Pow(cfg.MartingaleFactor, float64(step)))
	}
	return base
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
