package lock

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout is how long acquisition is retried before giving up
	DefaultTimeout = time.Second

	defaultInitialInterval = 10 * time.Millisecond
)

// Option for a Lock
type Option func(*Lock)

func defaultLock() *Lock {
	return &Lock{
		timeout:         DefaultTimeout,
		initialInterval: defaultInitialInterval,
		l:               zap.NewNop(),
	}
}

// WithTimeout bounds the wait for the lock. A zero timeout tries exactly once.
func WithTimeout(timeout time.Duration) Option {
	return func(lk *Lock) {
		lk.timeout = timeout
	}
}

// WithLogger sets a logger for lock events
func WithLogger(logger *zap.Logger) Option {
	return func(lk *Lock) {
		if logger != nil {
			lk.l = logger
		}
	}
}
