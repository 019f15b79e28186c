package db

import (
	"context"
	"sync"
)

// KeyedMutex hands out one mutex per key. Idle keys are dropped so the map
// only holds aggregates that are currently contended.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, key string) error {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.mu.Lock()
		k.dropRef(key, l)
		k.mu.Unlock()
		return ctx.Err()
	}
}

// Unlock releases key. Releasing a key that is not held does nothing.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		return
	}
	<-l.ch
	k.dropRef(key, l)
}

func (k *KeyedMutex) dropRef(key string, l *keyLock) {
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// MemTransactor provides WithinTx for the in-process store. Writes register
// undo steps with OnRollback; aggregates are serialized with LockKey and the
// locks are held until the unit of work ends.
type MemTransactor struct {
	locks *KeyedMutex
}

// NewMemTransactor creates a Transactor for the in-process store.
func NewMemTransactor() *MemTransactor {
	return &MemTransactor{locks: NewKeyedMutex()}
}

type memTx struct {
	mu    sync.Mutex
	locks *KeyedMutex
	held  map[string]bool
	order []string
	undo  []func()
}

// WithinTx runs fn as a unit of work. On error the undo log runs in reverse
// and every key lock taken inside fn is released.
func (t *MemTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey).(*memTx); ok {
		return fn(ctx)
	}

	tx := &memTx{locks: t.locks, held: make(map[string]bool)}
	err := fn(context.WithValue(ctx, memTxKey, tx))
	if err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
	}
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.locks.Unlock(tx.order[i])
	}
	return err
}

// LockKey acquires key for the remainder of the in-process unit of work in ctx.
// Re-locking a key already held by the same unit of work is a no-op.
func LockKey(ctx context.Context, key string) error {
	tx, ok := ctx.Value(memTxKey).(*memTx)
	if !ok {
		return ErrNoTx
	}
	tx.mu.Lock()
	if tx.held[key] {
		tx.mu.Unlock()
		return nil
	}
	tx.mu.Unlock()

	if err := tx.locks.Lock(ctx, key); err != nil {
		return err
	}

	tx.mu.Lock()
	tx.held[key] = true
	tx.order = append(tx.order, key)
	tx.mu.Unlock()
	return nil
}

// OnRollback registers fn to run if the in-process unit of work in ctx fails.
// Outside a unit of work the write is final and fn is dropped.
func OnRollback(ctx context.Context, fn func()) {
	tx, ok := ctx.Value(memTxKey).(*memTx)
	if !ok {
		return
	}
	tx.mu.Lock()
	tx.undo = append(tx.undo, fn)
	tx.mu.Unlock()
}
