package reftable

import (
	"context"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Optimize compacts the whole stack into a single table.
//
// For each name only the record with the highest update index survives, and deletions
// are dropped: the visible refs are unchanged. The compacted table spans the update
// index range of the stack, so that later commits keep increasing indexes.
func (s *Store) Optimize(ctx context.Context) (err error) {
	manifest, err := storage.NewLockFile(s.fs, s.manifestPath())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, manifest.Rollback())
	}()

	st, err := s.loadStack(ctx, nil)
	if err != nil {
		return err
	}
	if len(st.tables) == 0 {
		return nil
	}

	merged, deletions, err := mergeTables(ctx, st.tables)
	if err != nil {
		return err
	}
	if len(st.tables) == 1 && deletions == 0 {
		return nil
	}

	minIndex, maxIndex := st.tables[0].header.minIndex, st.maxUpdateIndex()
	w := newTableWriter(s.blockSize, minIndex, maxIndex)
	var werr error
	merged.Root().Walk(func(_ []byte, v interface{}) bool {
		e := v.(entry)
		if e.deleted() {
			return false
		}
		werr = w.add(e)
		return werr != nil
	})
	if werr != nil {
		return werr
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	name := newTableName(minIndex, maxIndex)
	if err = s.writeTable(name, w.finish()); err != nil {
		return err
	}
	if err = s.commitManifest(manifest, []string{name}); err != nil {
		s.removeTables([]string{name})
		return err
	}
	s.removeTables(st.names)

	s.l.Info("compacted reftable stack",
		zap.Int("tables", len(st.tables)),
		zap.Int("records", merged.Len()-deletions),
		zap.Int("deletions_dropped", deletions),
		zap.String("table", name),
	)
	return nil
}

// mergeTables indexes the latest record of every name, and counts the names whose
// latest record is a deletion
func mergeTables(ctx context.Context, tables []*table) (*iradix.Tree, int, error) {
	txn := iradix.New().Txn()
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		for i := range t.index {
			entries, err := t.blockEntries(i)
			if err != nil {
				return nil, 0, status.ErrStructuralCorruption.Wrapf("table %s: %v", t.name, err)
			}
			for _, e := range entries {
				key := []byte(e.name)
				if previous, ok := txn.Get(key); ok && previous.(entry).updateIndex > e.updateIndex {
					continue
				}
				txn.Insert(key, e)
			}
		}
	}
	tree := txn.Commit()

	deletions := 0
	tree.Root().Walk(func(_ []byte, v interface{}) bool {
		if v.(entry).deleted() {
			deletions++
		}
		return false
	})
	return tree, deletions, nil
}
