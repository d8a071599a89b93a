package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"po_bot/internal/models"
	"po_bot/internal/modules/config"
)

func stakeConfig() *config.Config {
	return &config.Config{
		StakeMin:          1.0,
		MartingaleFactor:  2.0,
		MartingaleMaxStep: 10,
	}
}

func TestStakeFixed(t *testing.T) {
	a := &models.Account{Amount: 5}
	// фикс не смотрит на баланс
	assert.Equal(t, 5.0, Stake(a, 500, stakeConfig()))
	assert.Equal(t, 5.0, Stake(a, 0, stakeConfig()))
}

func TestStakePercent(t *testing.T) {
	a := &models.Account{UsePercent: true, Percent: 2}

	assert.Equal(t, 10.0, Stake(a, 500, stakeConfig()))

	// 2% от 10 = 0.20 — ниже минимума брокера, поднимаем до 1.00
	assert.Equal(t, 1.0, Stake(a, 10, stakeConfig()))
}

func TestStakeMartingaleProgression(t *testing.T) {
	cfg := stakeConfig()
	a := &models.Account{Amount: 5, Martingale: true}

	// три проигрыша подряд: x1, x2, x4
	want := []float64{5, 10, 20}
	for step, w := range want {
		a.MartingaleStep = step
		assert.Equal(t, w, Stake(a, 100, cfg), "step %d", step)
	}

	// выигрыш сбрасывает шаг — снова база
	a.MartingaleStep = 0
	assert.Equal(t, 5.0, Stake(a, 100, cfg))
}

func TestStakeMartingaleStepCap(t *testing.T) {
	cfg := stakeConfig()
	cfg.MartingaleMaxStep = 3
	a := &models.Account{Amount: 1, Martingale: true, MartingaleStep: 9}
	assert.Equal(t, 8.0, Stake(a, 100, cfg)) // 2^3, дальше не растёт
}

func TestStakeMartingaleDisabled(t *testing.T) {
	a := &models.Account{Amount: 5, Martingale: false, MartingaleStep: 4}
	assert.Equal(t, 5.0, Stake(a, 100, stakeConfig()))
}
