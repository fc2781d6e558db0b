// Package reftable implements the "reftable" ref storage format.
//
// Refs are stored in a stack of immutable, block-indexed table files. The manifest,
// "tables.list", lists the active tables oldest first. Each commit writes a new table
// carrying a fresh update index, then swaps the manifest: readers never need a lock,
// since a loaded stack is immutable.
//
// A newer table shadows older tables for a name, and may carry deletion records.
// Compaction merges the stack into a single table without changing the visible refs.
package reftable

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// ManifestFile lists the tables of the stack
	ManifestFile = "tables.list"

	// retries when a listed table vanished under a concurrent compaction
	maxReloads    = 5
	reloadBackoff = 5 * time.Millisecond
)

var (
	_ refs.Store     = &Store{}
	_ refs.Optimizer = &Store{}
)

// Store is a ref store in the reftable format
type Store struct {
	fs        afero.Fs
	root      string
	blockSize uint32
	maxTables int
	l         *zap.Logger
}

// New opens a reftable store rooted at root, creating an empty stack if needed
func New(fs afero.Fs, root string, opts ...Option) (*Store, error) {
	s := defaultStore()
	for _, apply := range opts {
		apply(s)
	}
	s.fs = fs
	s.root = root
	s.l = s.l.With(zap.String("root", root), zap.Stringer("format", model.FormatReftable))

	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, status.ErrIOFailure.Wrapf("create reftable store at %q: %v", root, err)
	}
	exists, err := storage.Exists(fs, s.manifestPath())
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := storage.WriteFile(fs, s.manifestPath(), nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Format of this store
func (s *Store) Format() model.Format {
	return model.FormatReftable
}

// Root directory of this store
func (s *Store) Root() string {
	return s.root
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.root, ManifestFile)
}

func (s *Store) tablePath(name string) string {
	return filepath.Join(s.root, name)
}

// stack is a loaded, immutable view of the store
type stack struct {
	names  []string
	tables []*table
}

func (st *stack) maxUpdateIndex() uint64 {
	if len(st.tables) == 0 {
		return 0
	}
	return st.tables[len(st.tables)-1].header.maxIndex
}

// read looks a ref up, newest table first
func (st *stack) read(_ context.Context, name string) (model.Record, error) {
	for i := len(st.tables) - 1; i >= 0; i-- {
		e, ok, err := st.tables[i].lookup(name)
		if err != nil {
			return model.Record{}, status.ErrStructuralCorruption.Wrapf("table %s: %v", st.tables[i].name, err)
		}
		if !ok {
			continue
		}
		if e.deleted() {
			break
		}
		return e.record(), nil
	}
	return model.Record{}, status.ErrNotFound.Wrapf("ref %s", name)
}

// loadStack reads the manifest and opens every listed table.
//
// When a table vanished between reading the manifest and opening it, the whole stack is
// reloaded. When onBad is set, damaged tables, irregular manifest lines and tables still
// missing after the last reload are passed to it and skipped. Otherwise they fail the load.
func (s *Store) loadStack(ctx context.Context, onBad func(string, error)) (*stack, error) {
	type badTable struct {
		name string
		err  error
	}
	var (
		st       *stack
		bad      []badTable
		attempts int
	)

	load := func() error {
		attempts++
		lastAttempt := attempts > maxReloads
		st, bad = &stack{}, nil
		names, problems, err := s.scanManifest()
		if err != nil {
			return backoff.Permanent(err)
		}
		for _, p := range problems {
			if onBad == nil {
				return backoff.Permanent(p.err())
			}
			bad = append(bad, badTable{name: ManifestFile, err: p.err()})
		}
		for _, name := range names {
			data, err := storage.ReadFile(s.fs, s.tablePath(name))
			if err != nil {
				if !errors.Is(err, status.ErrNotFound) {
					return backoff.Permanent(err)
				}
				err = status.ErrStructuralCorruption.Wrapf("table %s listed in %s is missing", name, ManifestFile)
				if onBad == nil || !lastAttempt {
					return err
				}
				bad = append(bad, badTable{name: name, err: err})
				continue
			}
			t, err := openTable(name, data)
			if err != nil {
				err = status.ErrStructuralCorruption.Wrapf("table %s: %v", name, err)
				if onBad == nil {
					return backoff.Permanent(err)
				}
				bad = append(bad, badTable{name: name, err: err})
				continue
			}
			st.names = append(st.names, name)
			st.tables = append(st.tables, t)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(reloadBackoff), maxReloads), ctx)
	if err := backoff.Retry(load, policy); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	for _, b := range bad {
		onBad(b.name, b.err)
	}
	return st, nil
}

// ReadOne returns the visible record for name
func (s *Store) ReadOne(ctx context.Context, name string) (model.Record, error) {
	if err := model.CheckRefName(name); err != nil {
		return model.Record{}, err
	}
	st, err := s.loadStack(ctx, nil)
	if err != nil {
		return model.Record{}, err
	}
	return st.read(ctx, name)
}

// ResolveSymbolic follows symbolic refs within a single snapshot of the stack
func (s *Store) ResolveSymbolic(ctx context.Context, name string, maxDepth int) (model.OID, error) {
	st, err := s.loadStack(ctx, nil)
	if err != nil {
		return model.OID{}, err
	}
	return refs.Resolve(ctx, st.read, name, maxDepth)
}

// Close the store. Loaded stacks are held by their iterators only.
func (s *Store) Close() error {
	return nil
}

// removeTables deletes table files which are no longer listed. Failures are only logged:
// leftovers are reported as stray files by structural checks.
func (s *Store) removeTables(names []string) {
	for _, name := range names {
		if err := s.fs.Remove(s.tablePath(name)); err != nil && !os.IsNotExist(err) {
			s.l.Warn("could not remove obsolete table", zap.String("table", name), zap.Error(err))
		}
	}
}
