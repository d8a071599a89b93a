package service

import (
	"po_bot/internal/models"
	"po_bot/internal/modules/config"
)

// Evaluator — чистая стратегия: история свечей на входе, сигнал на выходе.
// Никакого состояния между вызовами.
type Evaluator struct {
	period     int
	overbought float64
	oversold   float64
	minCandles int
}

func NewEvaluator(cfg *config.Config) *Evaluator {
	return &Evaluator{
		period:     cfg.RSIPeriod,
		overbought: cfg.RSIOverbought,
		oversold:   cfg.RSIOversold,
		minCandles: cfg.MinCandles,
	}
}

// Evaluate считает RSI по ценам закрытия и решает по последней закрытой
// свече. ok=false — мало данных, это не ошибка. Пороги строгие: ровно
// 30/70 сигналом не считается.
func (e *Evaluator) Evaluate(asset string, candles []models.Candle) (models.Signal, bool) {
	if len(candles) < e.minCandles {
		return models.Signal{}, false
	}

	closes := make([]float64, len(candles))
	for i := range candles {
		closes[i] = candles[i].Close
	}

	rsi, ok := RSI(closes, e.period)
	if !ok {
		return models.Signal{}, false
	}

	sig := models.Signal{
		Asset: asset,
		RSI:   rsi,
		Price: closes[len(closes)-1],
	}
	switch {
	case rsi < e.oversold:
		sig.Side = models.SideBuy // перепроданность, ждём разворот вверх
	case rsi > e.overbought:
		sig.Side = models.SideSell
	default:
		sig.Side = models.SideNone
	}
	return sig, true
}

// RSI — n-периодный Relative Strength Index по Уайлдеру: сид простым
// средним первых n изменений, дальше экспоненциальное сглаживание.
// Возвращает значение на последней точке ряда.
func RSI(closes []float64, n int) (float64, bool) {
	if n <= 0 || len(closes) < n+1 {
		return 0, false
	}

	var gain, loss float64
	for i := 1; i <= n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)

	for i := n + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(n-1) + g) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + l) / float64(n)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, true // плоский ряд
		}
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}
