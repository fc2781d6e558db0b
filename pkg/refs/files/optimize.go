package files

import (
	"context"
	"os"
	"strings"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Optimize packs all direct loose refs below refs/ into packed-refs, then removes their
// loose files. Symbolic refs and root refs stay loose.
func (s *Store) Optimize(ctx context.Context) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}
	listing, err := s.listLoose()
	if err != nil {
		return err
	}

	var locks []*storage.LockFile
	defer func() {
		for _, lock := range locks {
			err = multierr.Append(err, lock.Rollback())
		}
	}()

	packed := packedUpdate{set: make(map[string]model.OID), remove: map[string]struct{}{}}
	for _, name := range listing.names {
		if !strings.HasPrefix(name, model.RefsPrefix) {
			continue
		}
		lock, lerr := storage.NewLockFile(s.fs, s.loosePath(name))
		if lerr != nil {
			return lerr
		}
		rec, rerr := s.readLoose(name)
		if rerr != nil || rec.Target.IsSymbolic() {
			err = lock.Rollback()
			if rerr != nil && !errors.Is(rerr, status.ErrNotFound) {
				return multierr.Append(rerr, err)
			}
			if err != nil {
				return err
			}
			continue
		}
		locks = append(locks, lock)
		packed.set[name] = rec.Target.OID
	}
	if len(packed.set) == 0 {
		return nil
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	count := len(packed.set)
	if _, err = s.rewritePacked(packed); err != nil {
		return err
	}
	for _, lock := range locks {
		if rerr := s.fs.Remove(lock.Path()); rerr != nil && !os.IsNotExist(rerr) {
			return status.ErrIOFailure.Wrapf("remove packed loose ref %q: %v", lock.Path(), rerr)
		}
	}
	for _, lock := range locks {
		if rerr := lock.Rollback(); rerr != nil {
			err = multierr.Append(err, rerr)
		}
		s.pruneEmptyParents(lock.Path())
	}
	locks = nil

	s.l.Info("packed loose refs", zap.Int("refs", count))
	return err
}
