package repository

import (
	"time"

	"github.com/oneconcern/refmon/pkg/lock"
	"github.com/oneconcern/refmon/pkg/refs/reftable"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Option for a repository
type Option func(*Repository)

func defaultRepository() *Repository {
	return &Repository{
		lockTimeout: lock.DefaultTimeout,
		blockSize:   reftable.DefaultBlockSize,
		maxTables:   reftable.DefaultMaxTables,
		l:           zap.NewNop(),
	}
}

// WithFs overrides the file system holding the descriptor and the stores.
// It must be rooted at the repository directory. The lock always lives on the OS file system.
func WithFs(fs afero.Fs) Option {
	return func(r *Repository) {
		r.fs = fs
	}
}

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.l = l
		}
	}
}

// WithLockTimeout bounds the wait for the store-wide lock
func WithLockTimeout(timeout time.Duration) Option {
	return func(r *Repository) {
		r.lockTimeout = timeout
	}
}

// WithBlockSize sets the block size of new reftable tables
func WithBlockSize(size uint32) Option {
	return func(r *Repository) {
		if size > 0 {
			r.blockSize = size
		}
	}
}

// WithMaxTables sets the reftable stack height triggering compaction
func WithMaxTables(n int) Option {
	return func(r *Repository) {
		r.maxTables = n
	}
}
