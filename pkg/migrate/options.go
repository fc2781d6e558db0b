package migrate

import (
	"github.com/oneconcern/refmon/pkg/repository"
	"go.uber.org/zap"
)

// Option for a migration
type Option func(*migration)

func defaultMigration(repo *repository.Repository) *migration {
	return &migration{
		repo: repo,
		l:    repo.Logger().Named("migrate"),
	}
}

// WithDryRun builds and verifies the new store, then discards it
func WithDryRun(enabled bool) Option {
	return func(m *migration) {
		m.dryRun = enabled
	}
}

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(m *migration) {
		if l != nil {
			m.l = l
		}
	}
}
