package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"po_bot/internal/models"
	"po_bot/internal/modules/config"
)

func testEvaluator() *Evaluator {
	return NewEvaluator(&config.Config{
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
		MinCandles:    20,
	})
}

func candlesFromCloses(closes []float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = models.Candle{
			Time:  ts.Add(time.Duration(i) * time.Minute),
			Open:  c,
			High:  c,
			Low:   c,
			Close: c,
		}
	}
	return out
}

// Чередование +2/-1 на 20 свечах: сид avgGain=1.0, avgLoss=0.5, дальше
// пять шагов сглаживания. Эталон посчитан вручную по формуле Уайлдера.
func alternatingCloses() []float64 {
	closes := make([]float64, 20)
	closes[0] = 100
	for i := 1; i < 20; i++ {
		if i%2 == 1 {
			closes[i] = closes[i-1] + 2
		} else {
			closes[i] = closes[i-1] - 1
		}
	}
	return closes
}

func TestRSIReferenceFixture(t *testing.T) {
	rsi, ok := RSI(alternatingCloses(), 14)
	require.True(t, ok)
	assert.InDelta(t, 69.3923, rsi, 0.0001)
}

func TestRSIMonotonic(t *testing.T) {
	up := make([]float64, 20)
	down := make([]float64, 20)
	for i := 0; i < 20; i++ {
		up[i] = 100 + float64(i)
		down[i] = 100 - float64(i)
	}

	rsi, ok := RSI(up, 14)
	require.True(t, ok)
	assert.InDelta(t, 100, rsi, 1e-9)

	rsi, ok = RSI(down, 14)
	require.True(t, ok)
	assert.InDelta(t, 0, rsi, 1e-9)
}

func TestRSINotEnoughData(t *testing.T) {
	closes := make([]float64, 14) // нужно хотя бы period+1
	_, ok := RSI(closes, 14)
	assert.False(t, ok)
}

func TestEvaluateDecisionRule(t *testing.T) {
	eval := testEvaluator()
	candles := candlesFromCloses(alternatingCloses()) // RSI ≈ 69.39

	// между порогами — сигнала нет
	sig, ok := eval.Evaluate("EURUSD", candles)
	require.True(t, ok)
	assert.Equal(t, models.SideNone, sig.Side)
	assert.InDelta(t, 69.3923, sig.RSI, 0.0001)

	// порог ровно на значении RSI — строгое неравенство, сигнала нет
	eval.overbought = sig.RSI
	sig2, ok := eval.Evaluate("EURUSD", candles)
	require.True(t, ok)
	assert.NotEqual(t, models.SideSell, sig2.Side)

	// порог чуть ниже — SELL
	eval.overbought = sig.RSI - 0.01
	sig3, ok := eval.Evaluate("EURUSD", candles)
	require.True(t, ok)
	assert.Equal(t, models.SideSell, sig3.Side)

	// порог чуть выше значения — BUY
	eval.overbought = 200
	eval.oversold = sig.RSI + 0.01
	sig4, ok := eval.Evaluate("EURUSD", candles)
	require.True(t, ok)
	assert.Equal(t, models.SideBuy, sig4.Side)
}

func TestEvaluateExtremes(t *testing.T) {
	eval := testEvaluator()

	up := make([]float64, 20)
	down := make([]float64, 20)
	for i := 0; i < 20; i++ {
		up[i] = 100 + float64(i)
		down[i] = 100 - float64(i)
	}

	sig, ok := eval.Evaluate("BTCUSD", candlesFromCloses(down))
	require.True(t, ok)
	assert.Equal(t, models.SideBuy, sig.Side)

	sig, ok = eval.Evaluate("BTCUSD", candlesFromCloses(up))
	require.True(t, ok)
	assert.Equal(t, models.SideSell, sig.Side)
}

func TestEvaluateNotEnoughCandles(t *testing.T) {
	eval := testEvaluator()
	candles := candlesFromCloses(alternatingCloses()[:19])
	_, ok := eval.Evaluate("EURUSD", candles)
	assert.False(t, ok)
}
