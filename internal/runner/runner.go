package runner

import (
	"context"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/opentracing/opentracing-go"

	"po_bot/internal/exchange"
	"po_bot/internal/models"
	"po_bot/internal/modules/accounts/service"
	"po_bot/internal/modules/config"
	strategy "po_bot/internal/modules/strategy/service"
	"po_bot/pkg/logger"
)

type TelegramNotifier interface {
	SendF(ctx context.Context, chatID int64, format string, args ...any) (tgbot.Message, error)
	Send(ctx context.Context, chatID int64, msg string) (tgbot.Message, error)
}

// State — текущее состояние цикла (для статуса и тестов).
type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StateFetching   State = "FETCHING"
	StateEvaluating State = "EVALUATING"
	StateExecuting  State = "EXECUTING"
	StateSettling   State = "SETTLING"
	StateRecording  State = "RECORDING"
	StateDegraded   State = "DEGRADED_RETRY"
	StateStopped    State = "STOPPED"
)

// Status — снапшот для внешних запросов. Живой хэндл сессии наружу
// не отдаём: он принадлежит только циклу.
type Status struct {
	State   State
	Asset   string
	LastRSI float64
	Balance float64
}

// Runner — торговый цикл одного пользователя. Владеет своей сессией
// брокера; всё внешнее общение — через Store и нотифайер.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc

	userID int64
	cfg    *config.Config
	store  service.Store
	eval   *strategy.Evaluator
	n      TelegramNotifier
	sess   exchange.Session

	mu      sync.Mutex
	state   State
	asset   string
	lastRSI float64
	balance float64
}

// New создаёт раннер с уже готовым cancel: Stop безопасен с любого
// момента, даже если цикл ещё не стартовал.
func New(
	parent context.Context,
	userID int64,
	cfg *config.Config,
	store service.Store,
	eval *strategy.Evaluator,
	n TelegramNotifier,
	sess exchange.Session,
) *Runner {
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		ctx:    ctx,
		cancel: cancel,
		userID: userID,
		cfg:    cfg,
		store:  store,
		eval:   eval,
		n:      n,
		sess:   sess,
		state:  StateIdle,
	}
}

// Connect — первый коннект, синхронный: ошибку (включая AuthError)
// отдаём вызывающему, цикл в этом случае не стартует.
func (r *Runner) Connect(ctx context.Context) error {
	r.setState(StateConnecting)
	if err := r.sess.Connect(ctx); err != nil {
		r.setState(StateStopped)
		return err
	}
	if bal, err := r.sess.GetBalance(ctx); err == nil {
		r.setBalance(bal)
	}
	return nil
}

// Start крутит цикл до остановки. Выходим только по Stop — любая
// ошибка внутри цикла превращается в DEGRADED_RETRY.
func (r *Runner) Start() {
	logger.Info("[RUNNER] user %d: started", r.userID)

	defer func() {
		r.sess.Disconnect()
		r.setState(StateStopped)
		logger.Info("[RUNNER] user %d: stopped", r.userID)
	}()

	for {
		if r.ctx.Err() != nil {
			return
		}
		r.cycle(r.ctx)
	}
}

// Stop — мягко гасит раннер. Цикл заметит это на ближайшей границе
// перехода; худший случай — ожидание окна экспирации.
func (r *Runner) Stop() {
	r.cancel()
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		State:   r.state,
		Asset:   r.asset,
		LastRSI: r.lastRSI,
		Balance: r.balance,
	}
}

// cycle — один проход машины состояний:
// FETCHING → EVALUATING → EXECUTING → SETTLING → RECORDING.
func (r *Runner) cycle(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("[RUNNER] user %d: panic in cycle: %v", r.userID, p)
			r.backoff(ctx)
		}
	}()

	span := opentracing.StartSpan("trade_cycle")
	span.SetTag("user_id", r.userID)
	defer span.Finish()

	// политики читаем заново каждый цикл: настройки могли поменять из бота
	acct, err := r.store.Get(ctx, r.userID)
	if err != nil {
		logger.Error("[RUNNER] user %d: store: %v", r.userID, err)
		r.backoff(ctx)
		return
	}

	asset, ok := acct.WatchedAsset()
	if !ok {
		logger.Warn("[RUNNER] user %d: watchlist пуст, торговать нечем", r.userID)
		r.backoff(ctx)
		return
	}
	r.setAsset(asset)

	if !r.sess.IsConnected() {
		r.setState(StateConnecting)
		if err := r.sess.Connect(ctx); err != nil {
			logger.Error("[RUNNER] user %d: reconnect: %v", r.userID, err)
			r.backoff(ctx)
			return
		}
	}

	r.setState(StateFetching)
	candles, err := r.sess.GetCandles(ctx, asset, r.cfg.IntervalSec, r.cfg.CandleCount)
	if err != nil {
		logger.Error("[RUNNER] user %d: candles %s: %v", r.userID, asset, err)
		r.backoff(ctx)
		return
	}
	if len(candles) < r.cfg.MinCandles {
		logger.Warn("[RUNNER] user %d: %s: мало свечей (%d)", r.userID, asset, len(candles))
		r.backoff(ctx)
		return
	}

	// свежесть: если последняя свеча отстала больше чем на интервал,
	// фид у брокера встал — на таких данных не торгуем
	last := candles[len(candles)-1]
	now := time.Now().In(r.cfg.Location())
	if gap := now.Sub(last.Time); gap > r.cfg.Interval() {
		logger.Warn("[RUNNER] user %d: %s: stale данные, lag=%s", r.userID, asset, gap)
		r.backoff(ctx)
		return
	}

	r.setState(StateEvaluating)
	sig, ok := r.eval.Evaluate(asset, candles)
	if !ok {
		r.backoff(ctx)
		return
	}
	r.setRSI(sig.RSI)

	if sig.Side == models.SideNone {
		r.setState(StateFetching)
		r.sleep(ctx, r.cfg.CycleSleep)
		return
	}

	// процентная политика требует свежий баланс
	balance := r.Status().Balance
	if acct.UsePercent {
		balance, err = r.sess.GetBalance(ctx)
		if err != nil {
			logger.Error("[RUNNER] user %d: balance: %v", r.userID, err)
			r.backoff(ctx)
			return
		}
		r.setBalance(balance)
	}
	stake := Stake(acct, balance, r.cfg)

	r.setState(StateExecuting)
	orderID, err := r.sess.PlaceOrder(ctx, asset, stake, sig.Side, r.cfg.ExpirySec)
	if err != nil {
		// ордер не переотправляем: следующее решение считаем заново
		logger.Error("[RUNNER] user %d: order %s: %v", r.userID, asset, err)
		r.backoff(ctx)
		return
	}
	logger.Info("[SIGNAL] user %d: %s %s stake=%.2f RSI=%.2f order=%s",
		r.userID, asset, sig.Side, stake, sig.RSI, orderID)

	// спим окно экспирации + запас: брокер гарантирует итог к этому
	// моменту, частый поллинг не нужен
	r.setState(StateSettling)
	window := time.Duration(r.cfg.ExpirySec)*time.Second + r.cfg.SettleGrace
	if !r.sleep(ctx, window) {
		return
	}

	out, err := r.checkSettlement(ctx, orderID)
	if err != nil {
		// итог неизвестен — счётчики не трогаем, чтобы не наврать в балансе
		logger.Error("[RUNNER] user %d: settlement %s: %v", r.userID, orderID, err)
		r.n.SendF(ctx, r.userID, "⚠️ Итог сделки %s не получен, статистика не обновлена", orderID)
		r.backoff(ctx)
		return
	}

	r.setState(StateRecording)
	updated, err := r.store.Mutate(ctx, r.userID, func(a *models.Account) error {
		rec := models.TradeRecord{
			Asset:     asset,
			Stake:     stake,
			Direction: sig.Side,
			Profit:    out.Profit,
			Time:      time.Now(),
		}
		if out.Win {
			rec.Outcome = "WIN"
			a.Wins++
			a.MartingaleStep = 0
		} else {
			rec.Outcome = "LOSS"
			a.Losses++
			if a.Martingale {
				a.MartingaleStep++
			} else {
				a.MartingaleStep = 0
			}
		}
		a.Profit += out.Profit
		a.Trades = append(a.Trades, rec)
		return nil
	})
	if err != nil {
		logger.Error("[RUNNER] user %d: record: %v", r.userID, err)
		r.backoff(ctx)
		return
	}

	if out.Win {
		r.n.SendF(ctx, r.userID, "✅ %s %s $%.2f — WIN %+.2f (итого %+.2f)",
			asset, sig.Side, stake, out.Profit, updated.Profit)
	} else {
		r.n.SendF(ctx, r.userID, "❌ %s %s $%.2f — LOSS %+.2f (итого %+.2f)",
			asset, sig.Side, stake, out.Profit, updated.Profit)
	}

	r.setState(StateFetching)
	r.sleep(ctx, r.cfg.CycleSleep)
}

// checkSettlement — итог должен быть готов после окна; пара повторов
// на случай сетевой икоты или запоздавшего pending.
func (r *Runner) checkSettlement(ctx context.Context, orderID string) (exchange.Outcome, error) {
	var lastErr error
	for i := 0; i < 5; i++ {
		out, err := r.sess.CheckSettlement(ctx, orderID)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !r.sleep(ctx, r.cfg.SettleGrace) {
			return exchange.Outcome{}, lastErr
		}
	}
	return exchange.Outcome{}, lastErr
}

// backoff — переход в DEGRADED_RETRY с фиксированной паузой.
func (r *Runner) backoff(ctx context.Context) {
	r.setState(StateDegraded)
	r.sleep(ctx, r.cfg.RetryBackoff)
}

// sleep с учётом остановки; false — раннер гасят.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runner) setAsset(a string) {
	r.mu.Lock()
	r.asset = a
	r.mu.Unlock()
}

func (r *Runner) setRSI(v float64) {
	r.mu.Lock()
	r.lastRSI = v
	r.mu.Unlock()
}

func (r *Runner) setBalance(v float64) {
	r.mu.Lock()
	r.balance = v
	r.mu.Unlock()
}
