package core

import (
	"context"

	"go.uber.org/zap"
)

// RequestLock provides context-aware locking for serializing request processing
type RequestLock struct {
	sem chan struct{}
}

// NewRequestLock creates a new request lock
func NewRequestLock() *RequestLock {
	return &RequestLock{
		sem: make(chan struct{}, 1),
	}
}

// LockWithContext attempts to acquire the lock, respecting context cancellation
func (c *RequestLock) LockWithContext(ctx context.Context) bool {
	select {
	case c.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Unlock releases the lock
func (c *RequestLock) Unlock() {
	select {
	case <-c.sem:
	default:
		// already unlocked
	}
}

// WithRequestLock acquires lock and runs onSuccess while holding it.
// It reports false without running onSuccess if ctx ends first.
func WithRequestLock(ctx context.Context, logger *zap.SugaredLogger, lock *RequestLock, operation string, onSuccess func()) bool {
	if logger == nil {
		logger = GetLogger()
	}

	logger.Debugw("lock_acquiring", "operation", operation)
	if !lock.LockWithContext(ctx) {
		logger.Warnw("lock_timeout", "operation", operation)
		return false
	}
	logger.Debugw("lock_acquired", "operation", operation)
	defer func() {
		logger.Debugw("lock_released", "operation", operation)
		lock.Unlock()
	}()

	onSuccess()
	return true
}
