// Copyright © 2018 One Concern

// Package repository locates the ref store of a repository and serializes the
// operations mutating it.
//
// The repository directory holds a descriptor, refstorage.yaml, naming the active
// format and the directory of its store, plus the store-wide lock file. The
// descriptor is only ever replaced atomically: switching formats is a single rename.
package repository

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/lock"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/files"
	"github.com/oneconcern/refmon/pkg/refs/reftable"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const (
	// DescriptorFile names the active ref storage format
	DescriptorFile = "refstorage.yaml"

	// LockFile is the store-wide lock
	LockFile = "refmon.lock"

	descriptorVersion = 1
)

// Descriptor is the persisted pointer to the active ref store
type Descriptor struct {
	Version int    `yaml:"version" json:"version"`
	Format  string `yaml:"format" json:"format"`
	Root    string `yaml:"root" json:"root"`
}

// Repository is a handle on a repository and its active ref store
type Repository struct {
	dir        string
	fs         afero.Fs
	descriptor Descriptor
	format     model.Format
	lock       *lock.Lock

	lockTimeout time.Duration
	blockSize   uint32
	maxTables   int
	l           *zap.Logger
}

func newRepository(dir string, opts []Option) *Repository {
	r := defaultRepository()
	for _, apply := range opts {
		apply(r)
	}
	r.dir = dir
	if r.fs == nil {
		r.fs = afero.NewBasePathFs(afero.NewOsFs(), dir)
	}
	r.l = r.l.With(zap.String("repository", dir))
	r.lock = lock.New(filepath.Join(dir, LockFile), lock.WithTimeout(r.lockTimeout), lock.WithLogger(r.l))
	return r
}

// Init creates a repository with an empty ref store in the given format
func Init(ctx context.Context, dir string, format model.Format, opts ...Option) (*Repository, error) {
	if err := checkFormat(format); err != nil {
		return nil, err
	}
	r := newRepository(dir, opts)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, status.ErrIOFailure.Wrapf("create repository %q: %v", dir, err)
	}

	h, err := r.lock.Acquire(ctx, lock.Exclusive)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = h.Release()
	}()

	exists, err := storage.Exists(r.fs, DescriptorFile)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, status.ErrInvalidArgument.Wrapf("%s is already a refmon repository", dir)
	}

	root := format.String()
	store, err := r.OpenStoreAt(format, root)
	if err != nil {
		return nil, err
	}
	if err = store.Close(); err != nil {
		return nil, err
	}
	if err = r.writeDescriptor(Descriptor{Version: descriptorVersion, Format: format.String(), Root: root}); err != nil {
		return nil, err
	}
	if err = r.Reload(); err != nil {
		return nil, err
	}
	r.l.Info("repository initialized", zap.Stringer("format", format))
	return r, nil
}

// Open an existing repository
func Open(dir string, opts ...Option) (*Repository, error) {
	r := newRepository(dir, opts)
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the descriptor again
func (r *Repository) Reload() error {
	data, err := storage.ReadFile(r.fs, DescriptorFile)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return status.ErrNotFound.Wrapf("%s is not a refmon repository (no %s)", r.dir, DescriptorFile)
		}
		return err
	}
	var d Descriptor
	if err = yaml.Unmarshal(data, &d); err != nil {
		return status.ErrStructuralCorruption.Wrapf("%s: %v", DescriptorFile, err)
	}
	if d.Version != descriptorVersion {
		return status.ErrStructuralCorruption.Wrapf("%s: unsupported version %d", DescriptorFile, d.Version)
	}
	format, err := model.ParseFormat(d.Format)
	if err != nil {
		return status.ErrStructuralCorruption.Wrapf("%s: %v", DescriptorFile, err)
	}
	if err = checkRoot(d.Root); err != nil {
		return status.ErrStructuralCorruption.Wrapf("%s: %v", DescriptorFile, err)
	}
	r.descriptor, r.format = d, format
	return nil
}

func checkFormat(format model.Format) error {
	for _, f := range model.Formats() {
		if f == format {
			return nil
		}
	}
	return status.ErrInvalidArgument.Wrapf("unknown ref storage format '%s'", format)
}

// checkRoot accepts a plain directory name within the repository
func checkRoot(root string) error {
	if root == "" || root == "." || strings.ContainsAny(root, `/\`) || strings.HasPrefix(root, "..") {
		return status.ErrMalformed.Wrapf("store root %q is not a directory name", root)
	}
	return nil
}

// Dir of the repository
func (r *Repository) Dir() string {
	return r.dir
}

// Fs is the file system rooted at the repository directory
func (r *Repository) Fs() afero.Fs {
	return r.fs
}

// Format is the active format, as loaded from the descriptor
func (r *Repository) Format() model.Format {
	return r.format
}

// Descriptor as loaded
func (r *Repository) Descriptor() Descriptor {
	return r.descriptor
}

// Lock is the store-wide lock
func (r *Repository) Lock() *lock.Lock {
	return r.lock
}

// Logger of the repository
func (r *Repository) Logger() *zap.Logger {
	return r.l
}

// OpenStore opens the active ref store
func (r *Repository) OpenStore() (refs.Store, error) {
	return r.OpenStoreAt(r.format, r.descriptor.Root)
}

// OpenStoreAt opens (or creates) a store of the given format in a directory of the repository
func (r *Repository) OpenStoreAt(format model.Format, root string) (refs.Store, error) {
	if err := checkRoot(root); err != nil {
		return nil, err
	}
	l := r.l.Named("refs")
	switch format {
	case model.FormatFiles:
		store, err := files.New(r.fs, root, files.WithLogger(l))
		if err != nil {
			return nil, err
		}
		return store, nil
	case model.FormatReftable:
		store, err := reftable.New(r.fs, root,
			reftable.WithLogger(l),
			reftable.WithBlockSize(r.blockSize),
			reftable.WithMaxTables(r.maxTables),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, checkFormat(format)
	}
}

// SwitchFormat points the descriptor to another store, then reloads it.
// The caller holds the exclusive lock.
func (r *Repository) SwitchFormat(format model.Format, root string) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	if err := checkRoot(root); err != nil {
		return err
	}
	if err := r.writeDescriptor(Descriptor{Version: descriptorVersion, Format: format.String(), Root: root}); err != nil {
		return err
	}
	return r.Reload()
}

func (r *Repository) writeDescriptor(d Descriptor) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return status.ErrInvalidArgument.Wrap(err)
	}
	return storage.WriteFileAtomic(r.fs, DescriptorFile, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WithStore runs fn on the active store, holding the store-wide lock in the given mode.
//
// When the descriptor changed since the repository was opened, the store it now
// designates is used.
func (r *Repository) WithStore(ctx context.Context, mode lock.Mode, fn func(refs.Store) error) (err error) {
	h, err := r.lock.Acquire(ctx, mode)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, h.Release())
	}()

	if err = r.Reload(); err != nil {
		return err
	}
	store, err := r.OpenStore()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()
	return fn(store)
}

// Update applies changes to the refs in a single transaction, under the exclusive lock
func (r *Repository) Update(ctx context.Context, fn func(refs.Transaction) error) error {
	return r.WithStore(ctx, lock.Exclusive, func(store refs.Store) error {
		tx, err := store.BeginWrite(ctx)
		if err != nil {
			return err
		}
		if err = fn(tx); err != nil {
			return multierr.Append(err, tx.Abort())
		}
		return tx.Commit(ctx)
	})
}

// Read runs fn on the active store. Formats without snapshot reads are read under the shared lock.
func (r *Repository) Read(ctx context.Context, fn func(refs.Store) error) error {
	if r.format.SnapshotReads() {
		store, err := r.OpenStore()
		if err != nil {
			return err
		}
		return multierr.Append(fn(store), store.Close())
	}
	return r.WithStore(ctx, lock.Shared, fn)
}

// Optimize reorganizes the active store, when its format supports it
func (r *Repository) Optimize(ctx context.Context) error {
	return r.WithStore(ctx, lock.Exclusive, func(store refs.Store) error {
		optimizer, ok := store.(refs.Optimizer)
		if !ok {
			return status.ErrInvalidArgument.Wrapf("format %s cannot be optimized", store.Format())
		}
		return optimizer.Optimize(ctx)
	})
}
