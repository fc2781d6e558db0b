package files

import "go.uber.org/zap"

// Option for the files store
type Option func(*Store)

func defaultStore() *Store {
	return &Store{
		l: zap.NewNop(),
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
