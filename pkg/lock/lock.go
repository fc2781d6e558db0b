// Package lock provides the store-wide lock serializing operations on a ref store.
//
// The lock is an advisory flock(2) on a file in the repository. Exclusive holders
// (writers, migrations) exclude everybody; shared holders (verification of formats
// without snapshot reads) only exclude exclusive holders.
//
// Acquisition never blocks indefinitely: it is retried with an exponential backoff
// until a deadline, then fails with status.ErrLockBusy.
package lock

import (
	"context"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Mode of a lock
type Mode int

const (
	// Shared lets other shared holders in
	Shared Mode = iota
	// Exclusive keeps everybody else out
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

func (m Mode) how() int {
	if m == Exclusive {
		return unix.LOCK_EX
	}
	return unix.LOCK_SH
}

var errWouldBlock = errors.New("lock held elsewhere")

// Lock is a lock on a file path. It is safe to use from several processes.
type Lock struct {
	path            string
	timeout         time.Duration
	initialInterval time.Duration
	l               *zap.Logger
}

// New lock on path. The file is created on first acquisition.
func New(path string, opts ...Option) *Lock {
	lk := defaultLock()
	for _, apply := range opts {
		apply(lk)
	}
	lk.path = path
	return lk
}

// Path of the lock file
func (lk *Lock) Path() string {
	return lk.path
}

// Acquire takes the lock, waiting at most for the configured timeout
func (lk *Lock) Acquire(ctx context.Context, mode Mode) (*Handle, error) {
	f, err := os.OpenFile(lk.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, status.ErrIOFailure.Wrapf("open lock file %q: %v", lk.path, err)
	}
	start := time.Now()

	err = backoff.Retry(func() error {
		e := unix.Flock(int(f.Fd()), mode.how()|unix.LOCK_NB)
		switch e {
		case nil:
			return nil
		case unix.EWOULDBLOCK, unix.EINTR:
			return errWouldBlock
		default:
			return backoff.Permanent(e)
		}
	}, backoff.WithContext(lk.backoff(), ctx))

	if err != nil {
		_ = f.Close()
		if errors.Is(err, errWouldBlock) {
			return nil, status.ErrLockBusy.WrapWithLog(lk.l,
				errors.New("could not acquire "+mode.String()+" lock on "+lk.path+" within "+lk.timeout.String()),
				zap.String("lock", lk.path), zap.Stringer("mode", mode), zap.Duration("timeout", lk.timeout))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, status.ErrIOFailure.Wrapf("flock %q: %v", lk.path, err)
	}

	lk.l.Debug("lock acquired", zap.String("lock", lk.path), zap.Stringer("mode", mode),
		zap.Duration("waited", time.Since(start)))
	return &Handle{file: f, mode: mode, l: lk.l}, nil
}

func (lk *Lock) backoff() backoff.BackOff {
	if lk.timeout <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lk.initialInterval
	b.MaxInterval = lk.timeout / 4
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = lk.timeout
	return b
}

// Handle on an acquired lock
type Handle struct {
	file *os.File
	mode Mode
	l    *zap.Logger
}

// Mode the lock was acquired with
func (h *Handle) Mode() Mode {
	return h.mode
}

// Release the lock. Releasing twice is a no-op.
func (h *Handle) Release() error {
	if h == nil || h.file == nil {
		return nil
	}
	f := h.file
	h.file = nil
	err := multierr.Append(unix.Flock(int(f.Fd()), unix.LOCK_UN), f.Close())
	if err != nil {
		return status.ErrIOFailure.Wrapf("release lock %q: %v", f.Name(), err)
	}
	h.l.Debug("lock released", zap.String("lock", f.Name()))
	return nil
}
