// Package lock serializes writers per account inside one process.
//
// Every balance mutation takes the locks of the accounts it touches before it
// opens a database transaction. Locks are always acquired in ascending id
// order so two operations touching the same pair of accounts can never wait
// on each other in a cycle.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	ledgerlog "ledger/internal/log"
)

// ErrTimeout is returned when the locks could not be acquired within the
// manager's wait bound.
var ErrTimeout = errors.New("lock wait timed out")

// ErrNilLockFn is returned when WithLocks is called without a function.
var ErrNilLockFn = errors.New("lock function is nil")

type entry struct {
	sem  *semaphore.Weighted
	refs int // holders plus waiters
}

// Manager hands out exclusive per-id locks with a bounded wait.
//
// Example usage:
//
//	locks := lock.NewManager(5 * time.Second)
//	err := locks.WithLocks(ctx, []int64{to, from}, func(ctx context.Context) error {
//	    // both accounts are held here
//	    return move(ctx)
//	})
type Manager struct {
	mu      sync.Mutex
	entries map[int64]*entry
	timeout time.Duration
}

// NewManager creates a Manager. A zero or negative timeout waits until the
// caller's context is done.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		entries: make(map[int64]*entry),
		timeout: timeout,
	}
}

// Timeout returns the configured wait bound.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Order returns ids sorted ascending with duplicates removed. It is the
// acquisition order used by WithLocks.
func Order(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// WithLocks acquires the lock of every id in ascending order, runs fn and
// releases them in reverse order.
//
// The wait for all locks together is bounded by the manager timeout; fn
// itself runs with the caller's context. When the wait times out the error
// wraps ErrTimeout. When the caller's context is done first its error is
// returned unchanged.
func (m *Manager) WithLocks(ctx context.Context, ids []int64, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilLockFn
	}

	waitCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	ordered := Order(ids)
	held := make([]int64, 0, len(ordered))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.release(held[i])
		}
	}()

	for _, id := range ordered {
		if err := m.acquire(waitCtx, id); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			slog.WarnContext(ctx, "Lock wait timed out",
				ledgerlog.FieldComponent, ledgerlog.ComponentLock,
				ledgerlog.FieldAccountID, id,
				"timeout", m.timeout)
			return fmt.Errorf("%w: id %d after %s", ErrTimeout, id, m.timeout)
		}
		held = append(held, id)
	}

	return fn(ctx)
}

// TryLock acquires the lock of id without waiting. The returned function
// releases it; ok is false when the lock is already held.
func (m *Manager) TryLock(id int64) (unlock func(), ok bool) {
	e := m.ref(id)
	if !e.sem.TryAcquire(1) {
		m.unref(id)
		return nil, false
	}

	var once sync.Once
	return func() { once.Do(func() { m.release(id) }) }, true
}

// Len reports how many ids currently have a holder or a waiter.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) acquire(ctx context.Context, id int64) error {
	e := m.ref(id)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		m.unref(id)
		return err
	}
	return nil
}

func (m *Manager) release(id int64) {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e == nil {
		return
	}
	e.sem.Release(1)
	m.unref(id)
}

func (m *Manager) ref(id int64) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.entries[id] = e
	}
	e.refs++
	return e
}

func (m *Manager) unref(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(m.entries, id)
	}
}
