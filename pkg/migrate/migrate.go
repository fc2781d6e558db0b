// Copyright © 2018 One Concern

// Package migrate converts the ref store of a repository from one format to another.
//
// The new store is built aside, in a temporary directory of the repository, and verified
// against a snapshot of the source before the repository descriptor is switched to it.
// Until that last step, a failed migration leaves the repository untouched.
package migrate

import (
	"context"
	"time"

	units "github.com/docker/go-units"
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/oneconcern/refmon/pkg/lock"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/repository"
	"github.com/segmentio/ksuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TempPrefix prefixes the directory holding a store being built
const TempPrefix = ".refmon-migrate-"

// Result of a migration
type Result struct {
	Source   model.Format  `json:"source"`
	Target   model.Format  `json:"target"`
	DryRun   bool          `json:"dryRun"`
	Refs     int           `json:"refs"`
	Root     string        `json:"root,omitempty"`
	Duration time.Duration `json:"duration"`
}

type migration struct {
	repo   *repository.Repository
	target model.Format
	dryRun bool
	l      *zap.Logger
}

// Migrate converts the active ref store of repo to the target format.
//
// Migrating to the active format is rejected before touching the file system. The whole
// migration runs under the exclusive store lock.
func Migrate(ctx context.Context, repo *repository.Repository, target model.Format, opts ...Option) (*Result, error) {
	m := defaultMigration(repo)
	for _, apply := range opts {
		apply(m)
	}
	m.target = target
	m.l = m.l.With(zap.Stringer("from", repo.Format()), zap.Stringer("to", target), zap.Bool("dryRun", m.dryRun))

	if err := checkTarget(repo.Format(), target); err != nil {
		return nil, err
	}
	return m.run(ctx)
}

func checkTarget(active, target model.Format) error {
	known := false
	for _, f := range model.Formats() {
		known = known || f == target
	}
	if !known {
		return status.ErrInvalidArgument.Wrapf("unknown ref storage format '%s'", target)
	}
	if active == target {
		return status.ErrInvalidArgument.Wrapf("repository already uses '%s' format", target)
	}
	return nil
}

func (m *migration) run(ctx context.Context) (res *Result, err error) {
	start := time.Now()
	h, err := m.repo.Lock().Acquire(ctx, lock.Exclusive)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, h.Release())
		if err != nil {
			res = nil
			m.l.Warn("migration failed", zap.Error(err))
		}
	}()

	// the descriptor may have been switched before we got the lock
	if err = m.repo.Reload(); err != nil {
		return nil, err
	}
	source := m.repo.Format()
	oldRoot := m.repo.Descriptor().Root
	if err = checkTarget(source, m.target); err != nil {
		return nil, err
	}

	snapshot, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	count := snapshot.Len()

	tmpRoot := TempPrefix + ksuid.New().String()
	keep := false
	defer func() {
		if keep {
			return
		}
		if rerr := m.repo.Fs().RemoveAll(tmpRoot); rerr != nil {
			err = multierr.Append(err, status.ErrIOFailure.Wrapf("remove %s: %v", tmpRoot, rerr))
		}
	}()

	if err = m.build(ctx, tmpRoot, snapshot); err != nil {
		return nil, err
	}

	res = &Result{Source: source, Target: m.target, DryRun: m.dryRun, Refs: count}
	if m.dryRun {
		res.Duration = time.Since(start)
		m.l.Info("dry run: migration verified", zap.Int("refs", count), zap.String("took", units.HumanDuration(res.Duration)))
		return res, nil
	}

	if err = ctx.Err(); err != nil {
		return nil, err
	}
	newRoot := m.target.String() + "." + ksuid.New().String()
	if err = m.repo.Fs().Rename(tmpRoot, newRoot); err != nil {
		return nil, status.ErrIOFailure.Wrapf("move %s to %s: %v", tmpRoot, newRoot, err)
	}
	if err = m.repo.SwitchFormat(m.target, newRoot); err != nil {
		if rerr := m.repo.Fs().RemoveAll(newRoot); rerr != nil {
			err = multierr.Append(err, status.ErrIOFailure.Wrapf("remove %s: %v", newRoot, rerr))
		}
		return nil, err
	}
	keep = true

	if rerr := m.repo.Fs().RemoveAll(oldRoot); rerr != nil {
		m.l.Warn("could not remove the former ref store", zap.String("root", oldRoot), zap.Error(rerr))
	}
	res.Root = newRoot
	res.Duration = time.Since(start)
	m.l.Info("migration complete", zap.Int("refs", count), zap.String("root", newRoot), zap.String("took", units.HumanDuration(res.Duration)))
	return res, nil
}

// snapshot reads all visible refs of the active store. Any malformed ref aborts.
func (m *migration) snapshot(ctx context.Context) (tree *iradix.Tree, err error) {
	store, err := m.repo.OpenStore()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()

	it, err := store.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, it.Close())
	}()

	txn := iradix.New().Txn()
	for it.Next() {
		rec := it.Record()
		txn.Insert([]byte(rec.Name), rec.Target)
	}
	if err = it.Err(); err != nil {
		return nil, err
	}
	tree = txn.Commit()
	m.l.Debug("source snapshot taken", zap.Int("refs", tree.Len()))
	return tree, nil
}

// build writes the snapshot into a new store at root, then checks it reproduces the snapshot
func (m *migration) build(ctx context.Context, root string, snapshot *iradix.Tree) (err error) {
	dest, err := m.repo.OpenStoreAt(m.target, root)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, dest.Close())
	}()

	tx, err := dest.BeginWrite(ctx, refs.Bulk())
	if err != nil {
		return err
	}
	snapshot.Root().Walk(func(k []byte, v interface{}) bool {
		err = tx.Update(string(k), v.(model.Target))
		return err != nil
	})
	if err != nil {
		return multierr.Append(err, tx.Abort())
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	return verify(ctx, dest, snapshot)
}

func verify(ctx context.Context, dest refs.Store, snapshot *iradix.Tree) error {
	records, err := refs.Collect(ctx, dest)
	if err != nil {
		return err
	}
	if len(records) != snapshot.Len() {
		return status.ErrVerificationMismatch.Wrapf("%d refs written, %d read back", snapshot.Len(), len(records))
	}
	for _, rec := range records {
		v, ok := snapshot.Get([]byte(rec.Name))
		if !ok {
			return status.ErrVerificationMismatch.Wrapf("%s: unexpected ref in the new store", rec.Name)
		}
		if want := v.(model.Target); want != rec.Target {
			return status.ErrVerificationMismatch.Wrapf("%s: expected %s, got %s", rec.Name, want, rec.Target)
		}
	}
	return nil
}
