package reftable

import "go.uber.org/zap"

// DefaultMaxTables is the stack height beyond which a commit triggers a compaction
const DefaultMaxTables = 32

// Option for the reftable store
type Option func(*Store)

func defaultStore() *Store {
	return &Store{
		blockSize: DefaultBlockSize,
		maxTables: DefaultMaxTables,
		l:         zap.NewNop(),
	}
}

// WithBlockSize sets the size at which blocks are cut in new tables
func WithBlockSize(size uint32) Option {
	return func(s *Store) {
		if size > 0 {
			s.blockSize = size
		}
	}
}

// WithMaxTables sets the stack height triggering automatic compaction. Zero disables it.
func WithMaxTables(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.maxTables = n
		}
	}
}

// WithLogger sets a logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.l = logger
		}
	}
}
