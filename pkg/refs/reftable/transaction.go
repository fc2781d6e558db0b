package reftable

import (
	"context"
	"io"
	"sort"

	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BeginWrite starts a transaction. Its commit appends exactly one table to the stack,
// whether or not the Bulk option is set.
func (s *Store) BeginWrite(ctx context.Context, opts ...refs.WriteOption) (refs.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &transaction{
		store:   s,
		options: refs.WriteOptionsWithDefaults(opts),
		updates: make(map[string]*model.Target),
		names:   refs.NewNames(),
	}, nil
}

type transaction struct {
	store   *Store
	options refs.WriteOptions

	// a nil target is a deletion
	updates map[string]*model.Target
	// refs touched by the transaction
	names *refs.Names
	done  bool
}

func (t *transaction) Update(name string, target model.Target) error {
	if t.done {
		return status.ErrInvalidArgument.Wrapf("transaction is closed")
	}
	if err := model.CheckRefName(name); err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return status.ErrMalformed.Wrapf("ref %s: %v", name, err)
	}
	if err := t.names.Add(name); err != nil {
		return status.ErrInvalidArgument.Wrapf("cannot process %s in this transaction: %v", name, err)
	}
	t.updates[name] = &target
	return nil
}

func (t *transaction) Delete(name string) error {
	if t.done {
		return status.ErrInvalidArgument.Wrapf("transaction is closed")
	}
	if err := model.CheckRefName(name); err != nil {
		return err
	}
	if err := t.names.Add(name); err != nil {
		return status.ErrInvalidArgument.Wrapf("cannot process %s in this transaction: %v", name, err)
	}
	t.updates[name] = nil
	return nil
}

func (t *transaction) Abort() error {
	t.done = true
	t.updates = nil
	t.names = nil
	return nil
}

func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return status.ErrInvalidArgument.Wrapf("transaction is closed")
	}
	t.done = true
	if len(t.updates) == 0 {
		return nil
	}
	s := t.store

	height, err := s.appendTable(ctx, func(st *stack, updateIndex uint64) ([]entry, error) {
		if err := st.checkAvailable(ctx, t.updates); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(t.updates))
		for name := range t.updates {
			names = append(names, name)
		}
		sort.Strings(names)
		entries := make([]entry, 0, len(names))
		for _, name := range names {
			entries = append(entries, newEntry(name, updateIndex, t.updates[name]))
		}
		return entries, nil
	})
	if err != nil {
		return err
	}

	if s.maxTables > 0 && height > s.maxTables {
		if err := s.Optimize(ctx); err != nil {
			// the commit itself is durable
			s.l.Warn("automatic compaction failed", zap.Int("tables", height), zap.Error(err))
		}
	}
	return nil
}

// appendTable writes a new table at the top of the stack, holding the manifest lock.
// It returns the new height of the stack.
func (s *Store) appendTable(ctx context.Context, build func(st *stack, updateIndex uint64) ([]entry, error)) (height int, err error) {
	manifest, err := storage.NewLockFile(s.fs, s.manifestPath())
	if err != nil {
		return 0, err
	}
	defer func() {
		err = multierr.Append(err, manifest.Rollback())
	}()

	st, err := s.loadStack(ctx, nil)
	if err != nil {
		return 0, err
	}
	if err = ctx.Err(); err != nil {
		return 0, err
	}

	updateIndex := st.maxUpdateIndex() + 1
	w := newTableWriter(s.blockSize, updateIndex, updateIndex)
	entries, err := build(st, updateIndex)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err = w.add(e); err != nil {
			return 0, err
		}
	}
	name := newTableName(updateIndex, updateIndex)
	if err = s.writeTable(name, w.finish()); err != nil {
		return 0, err
	}

	names := append(append(make([]string, 0, len(st.names)+1), st.names...), name)
	if err = s.commitManifest(manifest, names); err != nil {
		s.removeTables([]string{name})
		return 0, err
	}

	s.l.Debug("table added",
		zap.String("table", name),
		zap.Uint64("update_index", updateIndex),
		zap.Int("records", len(entries)),
		zap.Int("tables", len(names)),
	)
	return len(names), nil
}

func (s *Store) writeTable(name string, data []byte) error {
	return storage.WriteFileAtomic(s.fs, s.tablePath(name), func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return status.ErrIOFailure.Wrapf("write table %s: %v", name, err)
		}
		return nil
	})
}

func (s *Store) commitManifest(manifest *storage.LockFile, names []string) error {
	if _, err := manifest.WriteString(formatManifest(names)); err != nil {
		return status.ErrIOFailure.Wrapf("write %s: %v", ManifestFile, err)
	}
	return manifest.Commit()
}

// checkAvailable verifies that the created refs fit next to the visible refs of the stack.
// Malformed records are left to verification.
func (st *stack) checkAvailable(ctx context.Context, updates map[string]*model.Target) error {
	creates := false
	for _, target := range updates {
		if target != nil {
			creates = true
			break
		}
	}
	if !creates {
		return nil
	}

	it := newMergeIterator(ctx, st.tables, refs.EnumerateOptions{OnMalformed: func(string, error) {}})
	var existing []string
	for it.Next() {
		existing = append(existing, it.Record().Name)
	}
	err := it.Err()
	if cerr := it.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return refs.CheckAvailable(existing, updates)
}
