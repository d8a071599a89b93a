package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"po_bot/internal/models"
	"po_bot/internal/modules/config"
)

// File — файловый стор аккаунтов: один json на всех, запись атомарная
// (tmp + fsync + rename), мутации сериализуются по пользователю.
type File struct {
	path string
	cfg  *config.Config

	mu     sync.Mutex
	cache  map[int64]*models.Account
	loaded bool

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex
}

func NewFile(cfg *config.Config) *File {
	return &File{
		path:  cfg.StorePath,
		cfg:   cfg,
		cache: make(map[int64]*models.Account),
		locks: make(map[int64]*sync.Mutex),
	}
}

func (f *File) userLock(userID int64) *sync.Mutex {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()
	l, ok := f.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[userID] = l
	}
	return l
}

func (f *File) Get(ctx context.Context, userID int64) (*models.Account, error) {
	l := f.userLock(userID)
	l.Lock()
	defer l.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil {
		return nil, err
	}
	if a, ok := f.cache[userID]; ok {
		return cloneAccount(a), nil
	}

	// первый визит — создаём с дефолтами и сразу сохраняем
	a := models.NewAccountFromDefaults(userID, f.cfg)
	f.cache[userID] = cloneAccount(a)
	if err := f.saveLocked(); err != nil {
		return nil, err
	}
	return a, nil
}

func (f *File) Mutate(ctx context.Context, userID int64, fn func(*models.Account) error) (*models.Account, error) {
	l := f.userLock(userID)
	l.Lock()
	defer l.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil {
		return nil, err
	}
	a, ok := f.cache[userID]
	if !ok {
		a = models.NewAccountFromDefaults(userID, f.cfg)
	}

	next := cloneAccount(a)
	if err := fn(next); err != nil {
		return nil, err
	}

	f.cache[userID] = next
	if err := f.saveLocked(); err != nil {
		return nil, err
	}
	return cloneAccount(next), nil
}

func (f *File) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(); err != nil {
		return 0, err
	}
	return len(f.cache), nil
}

// ---- storage format ----

type snapshot struct {
	UpdatedAt time.Time         `json:"updated_at"`
	Accounts  []*models.Account `json:"accounts"`
}

func (f *File) loadLocked() error {
	if f.loaded {
		return nil
	}

	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.loaded = true
			return nil
		}
		return fmt.Errorf("read %s: %w", f.path, err)
	}

	var snap snapshot
	if err := sonic.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("decode %s: %w", f.path, err)
	}

	f.cache = make(map[int64]*models.Account, len(snap.Accounts))
	for _, a := range snap.Accounts {
		if a == nil {
			continue
		}
		f.cache[a.UserID] = cloneAccount(a)
	}

	f.loaded = true
	return nil
}

func (f *File) saveLocked() error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	accounts := make([]*models.Account, 0, len(f.cache))
	for _, a := range f.cache {
		accounts = append(accounts, cloneAccount(a))
	}

	snap := snapshot{
		UpdatedAt: time.Now(),
		Accounts:  accounts,
	}

	b, err := sonic.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return err
	}

	return writeFileAtomic(f.path, b, 0o644)
}

// writeFileAtomic: tmp + fsync + rename, чтобы упавшая запись
// не оставила битый файл. Rename на том же fs атомарен.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	// best-effort fsync каталога
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// clone чтобы никто извне не мутировал shared ptr
func cloneAccount(in *models.Account) *models.Account {
	if in == nil {
		return nil
	}
	b, _ := sonic.Marshal(in)
	var out models.Account
	_ = sonic.Unmarshal(b, &out)
	return &out
}
