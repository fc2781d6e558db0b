// Copyright © 2018 One Concern

package storage

import (
	"io"
	"os"
	"path/filepath"

	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

const (
	// LockSuffix is appended to a path to name its lock file
	LockSuffix = ".lock"

	filePerm = 0644
	dirPerm  = 0755
)

// LockFile stages the next version of a file. It is created exclusively: a second
// writer on the same path fails with status.ErrLockBusy until the first one commits or rolls back.
type LockFile struct {
	fs     afero.Fs
	path   string
	file   afero.File
	closed bool
}

// NewLockFile creates "<path>.lock", creating parent directories as needed
func NewLockFile(fs afero.Fs, path string) (*LockFile, error) {
	if err := fs.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, status.ErrIOFailure.Wrapf("ensuring directories for %q: %v", path, err)
	}
	lockPath := path + LockSuffix
	f, err := fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		if os.IsExist(err) {
			return nil, status.ErrLockBusy.Wrapf("%q is locked by another writer (remove %s if no writer is running)", path, lockPath)
		}
		return nil, status.ErrIOFailure.Wrapf("create lock file for %q: %v", path, err)
	}
	return &LockFile{fs: fs, path: path, file: f}, nil
}

// Path of the file being replaced
func (l *LockFile) Path() string {
	return l.path
}

// Write to the staged content
func (l *LockFile) Write(p []byte) (int, error) {
	return l.file.Write(p)
}

// WriteString to the staged content
func (l *LockFile) WriteString(s string) (int, error) {
	return l.file.WriteString(s)
}

// Commit flushes the staged content and renames it over the target path
func (l *LockFile) Commit() error {
	if l.closed {
		return status.ErrInvalidArgument.Wrapf("lock file for %q already released", l.path)
	}
	l.closed = true
	if err := syncAndClose(l.file); err != nil {
		_ = l.fs.Remove(l.path + LockSuffix)
		return status.ErrIOFailure.Wrapf("flush %q: %v", l.path+LockSuffix, err)
	}
	if err := l.fs.Rename(l.path+LockSuffix, l.path); err != nil {
		_ = l.fs.Remove(l.path + LockSuffix)
		return status.ErrIOFailure.Wrapf("rename into %q: %v", l.path, err)
	}
	return nil
}

// Rollback discards the staged content and releases the lock. It is a no-op after Commit.
func (l *LockFile) Rollback() error {
	if l.closed {
		return nil
	}
	l.closed = true
	err := l.file.Close()
	if rerr := l.fs.Remove(l.path + LockSuffix); rerr != nil && !os.IsNotExist(rerr) {
		err = multierr.Append(err, rerr)
	}
	if err != nil {
		return status.ErrIOFailure.Wrap(err)
	}
	return nil
}

// WriteFile replaces the content of path using a lock file
func WriteFile(fs afero.Fs, path string, data []byte) error {
	lf, err := NewLockFile(fs, path)
	if err != nil {
		return err
	}
	if _, err = lf.Write(data); err != nil {
		return multierr.Append(status.ErrIOFailure.Wrapf("write %q: %v", path, err), lf.Rollback())
	}
	return lf.Commit()
}

// WriteFileAtomic replaces the content of path using an anonymous temporary file in the same
// directory. The caller is expected to hold a lock protecting path.
func WriteFileAtomic(fs afero.Fs, path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err = fs.MkdirAll(dir, dirPerm); err != nil {
		return status.ErrIOFailure.Wrapf("ensuring directories for %q: %v", path, err)
	}
	tmp, err := afero.TempFile(fs, dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return status.ErrIOFailure.Wrapf("create temporary file for %q: %v", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = fs.Remove(tmpName)
		}
	}()

	if err = write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = syncAndClose(tmp); err != nil {
		return status.ErrIOFailure.Wrapf("flush %q: %v", tmpName, err)
	}
	if err = fs.Rename(tmpName, path); err != nil {
		return status.ErrIOFailure.Wrapf("rename into %q: %v", path, err)
	}
	return nil
}

// ReadFile reads a whole file, mapping a missing file to status.ErrNotFound
func ReadFile(fs afero.Fs, path string) ([]byte, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.ErrNotFound.Wrapf("%s", path)
		}
		return nil, status.ErrIOFailure.Wrapf("read %q: %v", path, err)
	}
	return data, nil
}

// Exists tells if path exists, as a file or a directory
func Exists(fs afero.Fs, path string) (bool, error) {
	ok, err := afero.Exists(fs, path)
	if err != nil {
		return false, status.ErrIOFailure.Wrapf("stat %q: %v", path, err)
	}
	return ok, nil
}

func syncAndClose(f afero.File) error {
	if err := f.Sync(); err != nil {
		return multierr.Append(err, f.Close())
	}
	return f.Close()
}
