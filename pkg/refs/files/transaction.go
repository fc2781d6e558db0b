package files

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BeginWrite starts a transaction on the store.
//
// With the Bulk option, direct refs under refs/ are written to packed-refs in a single rewrite.
// Symbolic refs and root refs get a loose file.
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

// looseOp is a change to a loose file, under its lock
type looseOp struct {
	name   string
	target *model.Target
	lock   *storage.LockFile
}

func (t *transaction) Commit(ctx context.Context) (err error) {
	if t.done {
		return status.ErrInvalidArgument.Wrapf("transaction is closed")
	}
	t.done = true
	if err = ctx.Err(); err != nil {
		return err
	}

	s := t.store
	names := make([]string, 0, len(t.updates))
	for name := range t.updates {
		names = append(names, name)
	}
	sort.Strings(names)

	if err = s.checkAvailable(t.updates); err != nil {
		return err
	}

	packed := packedUpdate{set: make(map[string]model.OID), remove: make(map[string]struct{})}
	ops := make([]*looseOp, 0, len(names))
	for _, name := range names {
		target := t.updates[name]
		switch {
		case target == nil:
			packed.remove[name] = struct{}{}
			ops = append(ops, &looseOp{name: name})
		case t.options.Bulk && !target.IsSymbolic() && strings.HasPrefix(name, model.RefsPrefix):
			packed.set[name] = target.OID
			// a stale loose file would shadow the packed value
			ops = append(ops, &looseOp{name: name})
		default:
			ops = append(ops, &looseOp{name: name, target: target})
		}
	}

	// lock every loose file first, so the commit fails before any change when a ref is busy
	defer func() {
		for _, op := range ops {
			if op.lock != nil {
				err = multierr.Append(err, op.lock.Rollback())
			}
		}
		if err != nil {
			return
		}
		for _, op := range ops {
			if op.target == nil {
				s.pruneEmptyParents(s.loosePath(op.name))
			}
		}
	}()
	for _, op := range ops {
		if op.lock, err = storage.NewLockFile(s.fs, s.loosePath(op.name)); err != nil {
			return err
		}
	}

	if err = ctx.Err(); err != nil {
		return err
	}

	packedCount := len(packed.set)
	if _, err = s.rewritePacked(packed); err != nil {
		return err
	}

	var written, removed int
	for _, op := range ops {
		if op.target == nil {
			path := s.loosePath(op.name)
			if info, serr := s.fs.Stat(path); serr == nil && info.IsDir() {
				continue
			}
			if rerr := s.fs.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
				return status.ErrIOFailure.Wrapf("remove loose ref %s: %v", op.name, rerr)
			}
			removed++
			continue
		}
		if _, err = op.lock.WriteString(formatLoose(*op.target)); err != nil {
			return status.ErrIOFailure.Wrapf("write loose ref %s: %v", op.name, err)
		}
		lock := op.lock
		op.lock = nil
		if err = lock.Commit(); err != nil {
			return err
		}
		written++
	}

	s.l.Debug("transaction committed",
		zap.Bool("bulk", t.options.Bulk),
		zap.Int("loose_written", written),
		zap.Int("loose_removed", removed),
		zap.Int("packed", packedCount),
	)
	return nil
}

// checkAvailable verifies that the created refs fit next to the loose and packed refs
func (s *Store) checkAvailable(updates map[string]*model.Target) error {
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

	listing, err := s.listLoose()
	if err != nil {
		return err
	}
	table, err := s.readPacked()
	if err != nil {
		return err
	}
	existing := append(make([]string, 0, len(listing.names)+len(table.entries)), listing.names...)
	for _, e := range table.entries {
		existing = append(existing, e.name)
	}
	return refs.CheckAvailable(existing, updates)
}
