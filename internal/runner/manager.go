package runner

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"po_bot/internal/exchange"
	"po_bot/internal/modules/accounts/service"
	"po_bot/internal/modules/config"
	strategy "po_bot/internal/modules/strategy/service"
)

var (
	ErrAlreadyRunning = errors.New("runner already running for user")
	ErrNotRunning     = errors.New("runner not running for user")
)

// Manager управляет раннерами для разных юзеров.
type Manager struct {
	appCtx context.Context

	cfg     *config.Config
	store   service.Store
	eval    *strategy.Evaluator
	factory exchange.Factory

	mu      sync.Mutex
	runners map[int64]*Runner
}

func NewManager(
	ctx context.Context,
	cfg *config.Config,
	store service.Store,
	eval *strategy.Evaluator,
	factory exchange.Factory,
) *Manager {
	return &Manager{
		appCtx:  ctx,
		cfg:     cfg,
		store:   store,
		eval:    eval,
		factory: factory,
		runners: make(map[int64]*Runner),
	}
}

// RunForUser стартует цикл для конкретного юзера (если ещё не запущен).
// Коннект выполняется синхронно: отсутствие кредов и AuthError вызывающий
// получает сразу, без запущенного цикла.
func (m *Manager) RunForUser(ctx context.Context, userID int64, n TelegramNotifier) error {
	acct, err := m.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	creds := acct.Credentials()
	if creds.Empty() {
		return exchange.ErrNoCredentials
	}

	// раннер живёт от контекста приложения, а не от пришедшего апдейта
	r := New(m.appCtx, userID, m.cfg, m.store, m.eval, n, m.factory(creds, acct.Mode))

	// слот резервируем до коннекта: второй параллельный старт отлетит
	m.mu.Lock()
	if _, running := m.runners[userID]; running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.runners[userID] = r
	m.mu.Unlock()

	if err := r.Connect(ctx); err != nil {
		m.remove(userID, r)
		return err
	}

	go func() {
		r.Start()
		m.remove(userID, r)
	}()

	return nil
}

// StopForUser снимает running-флаг; цикл выйдет на ближайшей границе.
func (m *Manager) StopForUser(userID int64) error {
	m.mu.Lock()
	r, ok := m.runners[userID]
	if !ok {
		m.mu.Unlock()
		return ErrNotRunning
	}
	delete(m.runners, userID)
	m.mu.Unlock()

	// гасим вне мьютекса
	r.Stop()
	return nil
}

func (m *Manager) IsTrading(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.runners[userID]
	return ok
}

func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runners)
}

// StatusForUser — снапшот без касания живого хэндла сессии.
func (m *Manager) StatusForUser(userID int64) (Status, bool) {
	m.mu.Lock()
	r, ok := m.runners[userID]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return r.Status(), true
}

// BalanceSnapshot — последний известный баланс из цикла.
func (m *Manager) BalanceSnapshot(userID int64) (float64, bool) {
	st, ok := m.StatusForUser(userID)
	if !ok {
		return 0, false
	}
	return st.Balance, true
}

// remove чистит слот, только если его всё ещё занимает этот раннер:
// после StopForUser юзер мог успеть запуститься заново.
func (m *Manager) remove(userID int64, r *Runner) {
	m.mu.Lock()
	if cur, ok := m.runners[userID]; ok && cur == r {
		delete(m.runners, userID)
	}
	m.mu.Unlock()
}
