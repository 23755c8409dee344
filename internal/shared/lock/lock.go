package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrLocked indica que a chave já está em posse de outro escritor
var ErrLocked = errors.New("lock already held")

// Locker obtém locks por entidade sem esperar: quem perde falha na hora
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

// Acquire obtém várias chaves em ordem estável e libera tudo se alguma falhar
func Acquire(ctx context.Context, l Locker, keys ...string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var held []func()
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	for i, k := range sorted {
		if i > 0 && k == sorted[i-1] {
			continue
		}
		unlock, err := l.TryLock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}
	return release, nil
}

// Local é um locker em processo
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local { return &Local{held: make(map[string]struct{})} }

func (l *Local) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrLocked
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
