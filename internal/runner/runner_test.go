package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"po_bot/internal/exchange"
	"po_bot/internal/models"
	"po_bot/internal/modules/accounts/service"
	"po_bot/internal/modules/config"
	strategy "po_bot/internal/modules/strategy/service"
	"po_bot/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeSession — скриптуемый брокер: до первой сделки отдаёт падающий
// тренд (сигнал BUY), после — плоский ряд (без сигнала), так что каждый
// раннер делает ровно одну сделку и дальше холостит.
type fakeSession struct {
	mu sync.Mutex

	connected  bool
	connectErr error

	balance     float64
	candleLag   time.Duration
	win         bool
	profit      float64
	settleFails int

	placed int
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeSession) GetBalance(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeSession) GetCandles(ctx context.Context, asset string, intervalSec, count int) ([]models.Candle, error) {
	f.mu.Lock()
	traded := f.placed > 0
	lag := f.candleLag
	f.mu.Unlock()

	n := 30
	out := make([]models.Candle, n)
	last := time.Now().Add(-lag)
	for i := 0; i < n; i++ {
		c := 100.0
		if !traded {
			c = 200.0 - float64(n-i) // монотонное падение: RSI уйдёт в 0
		}
		out[i] = models.Candle{
			Time:  last.Add(-time.Duration(n-1-i) * time.Duration(intervalSec) * time.Second),
			Open:  c, High: c, Low: c, Close: c,
		}
	}
	return out, nil
}

func (f *fakeSession) PlaceOrder(ctx context.Context, asset string, amount float64, dir models.Side, expirySec int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed++
	return fmt.Sprintf("ord-%d", f.placed), nil
}

func (f *fakeSession) CheckSettlement(ctx context.Context, orderID string) (exchange.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settleFails > 0 {
		f.settleFails--
		return exchange.Outcome{}, exchange.ErrSettlementPending
	}
	return exchange.Outcome{OrderID: orderID, Win: f.win, Profit: f.profit}, nil
}

func (f *fakeSession) placedOrders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placed
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Send(ctx context.Context, chatID int64, msg string) (tgbot.Message, error) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
	return tgbot.Message{}, nil
}

func (n *fakeNotifier) SendF(ctx context.Context, chatID int64, format string, args ...any) (tgbot.Message, error) {
	return n.Send(ctx, chatID, fmt.Sprintf(format, args...))
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.msgs))
	copy(out, n.msgs)
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		StorePath:         filepath.Join(t.TempDir(), "users.json"),
		Timezone:          "UTC",
		IntervalSec:       60,
		CandleCount:       100,
		ExpirySec:         0, // в тестах окно экспирации схлопнуто
		MinCandles:        20,
		RetryBackoff:      5 * time.Millisecond,
		CycleSleep:        5 * time.Millisecond,
		SettleGrace:       time.Millisecond,
		RSIPeriod:         14,
		RSIOverbought:     70,
		RSIOversold:       30,
		DefaultAmount:     5,
		DefaultPercent:    1,
		DefaultAssets:     []string{"EURUSD"},
		StakeMin:          1,
		MartingaleFactor:  2,
		MartingaleMaxStep: 10,
	}
	return cfg
}

func newManager(t *testing.T, cfg *config.Config, factory exchange.Factory) (*Manager, service.Store) {
	t.Helper()
	store := service.NewFile(cfg)
	eval := strategy.NewEvaluator(cfg)
	m := NewManager(context.Background(), cfg, store, eval, factory)
	return m, store
}

func setCreds(t *testing.T, store service.Store, userID int64) {
	t.Helper()
	_, err := store.Mutate(context.Background(), userID, func(a *models.Account) error {
		a.DemoEmail = fmt.Sprintf("u%d@test", userID)
		a.DemoPass = "secret"
		return nil
	})
	require.NoError(t, err)
}

// waitFor поллит условие до дедлайна.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestRunForUserNoCredentials(t *testing.T) {
	cfg := testConfig(t)
	m, _ := newManager(t, cfg, func(models.Credentials, models.Mode) exchange.Session {
		t.Fatal("factory must not be called without credentials")
		return nil
	})

	err := m.RunForUser(context.Background(), 1, &fakeNotifier{})
	assert.ErrorIs(t, err, exchange.ErrNoCredentials)
	assert.Equal(t, 0, m.ActiveSessions())
}

func TestRunForUserAuthError(t *testing.T) {
	cfg := testConfig(t)
	fs := &fakeSession{connectErr: exchange.ErrAuth}
	m, store := newManager(t, cfg, func(models.Credentials, models.Mode) exchange.Session { return fs })
	setCreds(t, store, 1)

	err := m.RunForUser(context.Background(), 1, &fakeNotifier{})
	assert.ErrorIs(t, err, exchange.ErrAuth)
	// после неудачного коннекта слот свободен, можно пробовать снова
	assert.Equal(t, 0, m.ActiveSessions())
}

func TestRunForUserDuplicate(t *testing.T) {
	cfg := testConfig(t)
	fs := &fakeSession{balance: 1000, candleLag: time.Hour} // stale: цикл холостит
	m, store := newManager(t, cfg, func(models.Credentials, models.Mode) exchange.Session { return fs })
	setCreds(t, store, 1)

	require.NoError(t, m.RunForUser(context.Background(), 1, &fakeNotifier{}))
	assert.ErrorIs(t, m.RunForUser(context.Background(), 1, &fakeNotifier{}), ErrAlreadyRunning)
	assert.Equal(t, 1, m.ActiveSessions())

	require.NoError(t, m.StopForUser(1))
	assert.True(t, waitFor(t, time.Second, func() bool { return m.ActiveSessions() == 0 }))
	assert.ErrorIs(t, m.StopForUser(1), ErrNotRunning)
}

// Стоп сразу после старта не должен теряться: cancel готов до того,
// как раннер попал в реестр, даже если его горутина ещё не крутится.
func TestStopImmediatelyAfterStart(t *testing.T) {
	cfg := testConfig(t)

	for i := 0; i < 50; i++ {
		fs := &fakeSession{balance: 1000, candleLag: time.Hour}
		m, store := newManager(t, cfg, func(models.Credentials, models.Mode) exchange.Session { return fs })
		setCreds(t, store, 1)

		require.NoError(t, m.RunForUser(context.Background(), 1, &fakeNotifier{}))
		require.NoError(t, m.StopForUser(1))

		// цикл обязан выйти и отпустить сессию
		stopped := waitFor(t, time.Second, func() bool {
			return m.ActiveSessions() == 0 && !fs.IsConnected()
		})
		require.True(t, stopped, "iteration %d: runner survived stop", i)
	}
}

func TestFullCycleRecordsWin(t *testing.T) {
	cfg := testConfig(t)
	fs := &fakeSession{balance: 1000, win: true, profit: 4.5}
	m, store := newManager(t, cfg, func(models.Credentials, models.Mode) exchange.Session { return fs })
	setCreds(t, store, 7)
	n := &fakeNotifier{}

	require.NoError(t, m.RunForUser(context.Background(), 7, n))
	defer m.StopForUser(7)

	ok := waitFor(t, 2*time.Second, func() bool {
		a, err := store.Get(context.Background(), 7)
		return err == nil && len(a.Trades) == 1
	})
	require.True(t, ok, "trade was not recorded")

	a, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Wins)
	assert.Equal(t, 0, a.Losses)
	assert.Equal(t, 0, a.MartingaleStep)
	assert.InDelta(t, 4.5, a.Profit, 1e-9)

	rec := a.Trades[0]
	assert.Equal(t, "EURUSD", rec.Asset)
	assert.Equal(t, models.SideBuy, rec.Direction)
	assert.Equal(t, "WIN", rec.Outcome)
	assert.InDelta(t, 5.0, rec.Stake, 1e-9)

	assert.True(t, waitFor(t, time.Second, func() bool { return len(n.all()) > 0 }))
	assert.Contains(t, n.all()[0], "WIN")
}

func TestLossBumpsMartingaleStep(t *testing.T) {
	cfg := testConfig(t)
	fs := &fakeSession{balance: 1000, win: false, profit: -5}
	m, store := newManager(t, cfg, func(models.Credentials, models.Mode) exchange.Session { return fs })
	setCreds(t, store, 2)
	_, err := store.Mutate(context.Background(), 2, func(a *models.Account) error {
		a.Martingale = true
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.RunForUser(context.Background(), 2, &fakeNotifier{}))
	defer m.StopForUser(2)

	ok := waitFor(t, 2*time.Second, func() bool {
		a, err := store.Get(context.Background(), 2)
		return err == nil && a.Losses == 1
	})
	require.True(t, ok)

	a, err := store.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, a.MartingaleStep)
	assert.InDelta(t, -5.0, a.Profit, 1e-9)
}

func TestStaleCandlesBlockTrading(t *testing.T) {
	cfg := testConfig(t)
	fs := &fakeSession{balance: 1000, candleLag: 61 * time.Second}
	m, store := newManager(t, cfg, func(models.Credentials, models.Mode) exchange.Session { return fs })
	setCreds(t, store, 3)

	require.NoError(t, m.RunForUser(context.Background(), 3, &fakeNotifier{}))
	defer m.StopForUser(3)

	// даём циклу прокрутиться несколько раз
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, fs.placedOrders())

	degraded := waitFor(t, time.Second, func() bool {
		st, ok := m.StatusForUser(3)
		return ok && st.State == StateDegraded
	})
	assert.True(t, degraded)
}

func TestSlightlyLaggedCandlesStillTrade(t *testing.T) {
	cfg := testConfig(t)
	// 59s < интервала свечи — данные ещё считаются свежими
	fs := &fakeSession{balance: 1000, win: true, profit: 4, candleLag: 59 * time.Second}
	m, store := newManager(t, cfg, func(models.Credentials, models.Mode) exchange.Session { return fs })
	setCreds(t, store, 9)

	require.NoError(t, m.RunForUser(context.Background(), 9, &fakeNotifier{}))
	defer m.StopForUser(9)

	ok := waitFor(t, 2*time.Second, func() bool {
		a, err := store.Get(context.Background(), 9)
		return err == nil && len(a.Trades) == 1
	})
	assert.True(t, ok)
}

func TestSettlementFailureKeepsStats(t *testing.T) {
	cfg := testConfig(t)
	// падает дольше, чем раннер готов ретраить
	fs := &fakeSession{balance: 1000, win: true, profit: 4.5, settleFails: 100}
	m, store := newManager(t, cfg, func(models.Credentials, models.Mode) exchange.Session { return fs })
	setCreds(t, store, 4)
	n := &fakeNotifier{}

	require.NoError(t, m.RunForUser(context.Background(), 4, n))

	require.True(t, waitFor(t, 2*time.Second, func() bool { return fs.placedOrders() >= 1 }))
	require.True(t, waitFor(t, 2*time.Second, func() bool { return len(n.all()) > 0 }))
	require.NoError(t, m.StopForUser(4))
	waitFor(t, time.Second, func() bool { return m.ActiveSessions() == 0 })

	// итог неизвестен — статистика нетронута
	a, err := store.Get(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Wins)
	assert.Equal(t, 0, a.Losses)
	assert.Empty(t, a.Trades)
	assert.Contains(t, n.all()[0], "не получен")
}

func TestPercentPolicyUsesFreshBalance(t *testing.T) {
	cfg := testConfig(t)
	fs := &fakeSession{balance: 500, win: true, profit: 9}
	m, store := newManager(t, cfg, func(models.Credentials, models.Mode) exchange.Session { return fs })
	setCreds(t, store, 5)
	_, err := store.Mutate(context.Background(), 5, func(a *models.Account) error {
		a.UsePercent = true
		a.Percent = 2
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.RunForUser(context.Background(), 5, &fakeNotifier{}))
	defer m.StopForUser(5)

	ok := waitFor(t, 2*time.Second, func() bool {
		a, err := store.Get(context.Background(), 5)
		return err == nil && len(a.Trades) == 1
	})
	require.True(t, ok)

	a, err := store.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, a.Trades[0].Stake, 1e-9) // 2% от 500
}

func TestManyUsersIsolated(t *testing.T) {
	cfg := testConfig(t)

	sessions := sync.Map{}
	factory := func(creds models.Credentials, mode models.Mode) exchange.Session {
		fs := &fakeSession{balance: 1000, win: true, profit: 4}
		sessions.Store(creds.Email, fs)
		return fs
	}
	m, store := newManager(t, cfg, factory)

	const users = 50
	var wg sync.WaitGroup
	for i := 1; i <= users; i++ {
		id := int64(i)
		setCreds(t, store, id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.RunForUser(context.Background(), id, &fakeNotifier{}))
		}()
	}
	wg.Wait()
	assert.Equal(t, users, m.ActiveSessions())

	for i := 1; i <= users; i++ {
		id := int64(i)
		ok := waitFor(t, 5*time.Second, func() bool {
			a, err := store.Get(context.Background(), id)
			return err == nil && len(a.Trades) == 1
		})
		require.True(t, ok, "user %d has no trade", id)
	}
	for i := 1; i <= users; i++ {
		require.NoError(t, m.StopForUser(int64(i)))
	}
	require.True(t, waitFor(t, 2*time.Second, func() bool { return m.ActiveSessions() == 0 }))

	// истории не перемешались: у каждого ровно своя сделка
	for i := 1; i <= users; i++ {
		a, err := store.Get(context.Background(), int64(i))
		require.NoError(t, err)
		assert.Equal(t, 1, a.Wins, "user %d", i)
		assert.Len(t, a.Trades, 1, "user %d", i)
		assert.Equal(t, int64(i), a.UserID)
	}
}
