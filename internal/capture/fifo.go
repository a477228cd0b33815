package capture

import (
	"context"
	"sync"
)

// fifoLock is a mutual-exclusion lock that grants access in strict
// arrival order. sync.Mutex makes no fairness promise, and the commit
// critical section must not let a late arrival starve an earlier one,
// so waiters are queued explicitly and the lock is handed to the oldest
// on release.
type fifoLock struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// Acquire blocks until the lock is granted or ctx is done. Callers that
// give up keep the queue intact for everyone behind them.
func (l *fifoLock) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.mu.Unlock()
		return nil
	}
	grant := make(chan struct{})
	l.waiters = append(l.waiters, grant)
	l.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == grant {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// No longer queued: release raced us and the grant is in
		// flight. Take it and pass it on.
		<-grant
		l.Release()
		return ctx.Err()
	}
}

// Release hands the lock to the oldest waiter, or unlocks if none.
func (l *fifoLock) Release() {
	l.mu.Lock()
	if len(l.waiters) > 0 {
		grant := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.mu.Unlock()
		close(grant)
		return
	}
	l.locked = false
	l.mu.Unlock()
}

// queued returns how many callers are waiting. Test hook.
func (l *fifoLock) queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
