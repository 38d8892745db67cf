package store

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
)

// Locker grants exclusive access to one logical store.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done. The returned
	// function releases the lock and is safe to call once.
	Lock(ctx context.Context) (unlock func(), err error)
}

var processLocks sync.Map // absolute path -> chan struct{}

// ProcessLocker serializes writers inside this process. Every ProcessLocker
// created for the same file shares one lock.
type ProcessLocker struct {
	sem chan struct{}
}

// NewProcessLocker returns the in-process lock for the store file at path.
func NewProcessLocker(path string) *ProcessLocker {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	sem, _ := processLocks.LoadOrStore(key, make(chan struct{}, 1))
	return &ProcessLocker{sem: sem.(chan struct{})}
}

func (l *ProcessLocker) Lock(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-l.sem }) }, nil
}

// Guarded pairs a store with its lock so that load, merge and save run as
// one critical section.
type Guarded struct {
	store  Store
	locker Locker
}

func NewGuarded(s Store, l Locker) *Guarded {
	return &Guarded{store: s, locker: l}
}

// Do runs fn while holding the lock. fn must not retain s after returning.
func (g *Guarded) Do(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	unlock, err := g.locker.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx, g.store)
}

// Snapshot loads the current log without taking the lock. Saves replace the
// file atomically, so a snapshot is always a complete earlier or later
// version.
func (g *Guarded) Snapshot(ctx context.Context) ([]turn.Turn, error) {
	return g.store.Load(ctx)
}
