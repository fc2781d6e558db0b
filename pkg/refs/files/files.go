// Package files implements the "files" ref storage format.
//
// Each ref is stored as a loose file named after the ref below the store root, holding
// one line: either the hexadecimal object id or "ref: <name>" for a symbolic ref.
// Refs may also be packed into a single sorted table, "packed-refs". A loose ref
// shadows a packed ref of the same name.
//
// Every file is replaced copy-on-write through a "<path>.lock" file, which also
// serves as a per-file lock between writers.
package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// PackedRefsFile is the name of the packed refs table, at the root of the store
	PackedRefsFile = "packed-refs"

	refsDir = "refs"
)

var (
	_ refs.Store     = &Store{}
	_ refs.Optimizer = &Store{}
)

// Store is a ref store in the files format
type Store struct {
	fs   afero.Fs
	root string
	l    *zap.Logger
}

// New opens a files ref store rooted at root, creating the layout if needed
func New(fs afero.Fs, root string, opts ...Option) (*Store, error) {
	s := defaultStore()
	for _, apply := range opts {
		apply(s)
	}
	s.fs = fs
	s.root = root
	if err := fs.MkdirAll(filepath.Join(root, refsDir), 0755); err != nil {
		return nil, status.ErrIOFailure.Wrapf("create files ref store at %q: %v", root, err)
	}
	s.l = s.l.With(zap.String("root", root), zap.Stringer("format", model.FormatFiles))
	return s, nil
}

// Format of this store
func (s *Store) Format() model.Format {
	return model.FormatFiles
}

// Root directory of this store
func (s *Store) Root() string {
	return s.root
}

func (s *Store) loosePath(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

func (s *Store) packedPath() string {
	return filepath.Join(s.root, PackedRefsFile)
}

// ReadOne returns the visible record for name: the loose ref if any, otherwise the packed one
func (s *Store) ReadOne(ctx context.Context, name string) (model.Record, error) {
	if err := ctx.Err(); err != nil {
		return model.Record{}, err
	}
	if err := model.CheckRefName(name); err != nil {
		return model.Record{}, err
	}

	rec, err := s.readLoose(name)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, status.ErrNotFound) {
		return model.Record{}, err
	}

	table, err := s.readPacked()
	if err != nil {
		return model.Record{}, err
	}
	if entry, ok := table.lookup(name); ok {
		return entry.record(), nil
	}
	return model.Record{}, status.ErrNotFound.Wrapf("ref %s", name)
}

func (s *Store) readLoose(name string) (model.Record, error) {
	path := s.loosePath(name)
	info, err := s.fs.Stat(path)
	switch {
	case os.IsNotExist(err):
		return model.Record{}, status.ErrNotFound.Wrapf("ref %s", name)
	case err != nil:
		return model.Record{}, status.ErrIOFailure.Wrapf("stat %q: %v", path, err)
	case info.IsDir():
		return model.Record{}, status.ErrNotFound.Wrapf("ref %s", name)
	}

	data, err := storage.ReadFile(s.fs, path)
	if err != nil {
		return model.Record{}, err
	}
	content, err := parseLoose(data)
	if err != nil {
		return model.Record{}, status.ErrMalformed.Wrapf("loose ref %s: %v", name, err)
	}
	return model.NewRecord(name, content.target), nil
}

// ResolveSymbolic follows symbolic refs from name
func (s *Store) ResolveSymbolic(ctx context.Context, name string, maxDepth int) (model.OID, error) {
	return refs.Resolve(ctx, s.ReadOne, name, maxDepth)
}

// Close the store. Files stores hold no resources.
func (s *Store) Close() error {
	return nil
}

// pruneEmptyParents removes the directories left empty after removing a loose ref,
// up to the refs directory
func (s *Store) pruneEmptyParents(path string) {
	stop := filepath.Join(s.root, refsDir)
	for dir := filepath.Dir(path); strings.HasPrefix(dir, stop+string(filepath.Separator)); dir = filepath.Dir(dir) {
		empty, err := afero.IsEmpty(s.fs, dir)
		if err != nil || !empty {
			return
		}
		if err := s.fs.Remove(dir); err != nil {
			s.l.Debug("could not prune empty directory", zap.String("dir", dir), zap.Error(err))
			return
		}
	}
}
