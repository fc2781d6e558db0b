// Package objects answers whether object ids designate existing objects.
//
// Ref stores never look into the object database: only verification does, to report
// refs pointing to missing objects.
package objects

import (
	"os"
	"path/filepath"

	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/spf13/afero"
)

// Database tells if an object exists
type Database interface {
	Exists(model.OID) (bool, error)
}

var (
	_ Database = &LooseDir{}
	_ Database = Set{}
	_ Database = Any{}
	_ Database = &BadgerIndex{}
)

// LooseDir is an object directory using git's loose object layout: objects/xx/yyyy...
type LooseDir struct {
	fs   afero.Fs
	root string
}

// NewLooseDir reads objects stored under root
func NewLooseDir(fs afero.Fs, root string) *LooseDir {
	return &LooseDir{fs: fs, root: root}
}

// Path of the file holding an object
func (d *LooseDir) Path(oid model.OID) string {
	hex := oid.String()
	return filepath.Join(d.root, hex[:2], hex[2:])
}

// Exists tells if the object file exists
func (d *LooseDir) Exists(oid model.OID) (bool, error) {
	info, err := d.fs.Stat(d.Path(oid))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, status.ErrIOFailure.Wrapf("stat object %s: %v", oid, err)
	}
	return !info.IsDir(), nil
}

// Set is an in-memory set of objects
type Set map[model.OID]struct{}

// NewSet builds a set of objects
func NewSet(oids ...model.OID) Set {
	s := make(Set, len(oids))
	for _, oid := range oids {
		s[oid] = struct{}{}
	}
	return s
}

// Exists tells if the set holds oid
func (s Set) Exists(oid model.OID) (bool, error) {
	_, ok := s[oid]
	return ok, nil
}

// Any is the union of several databases, queried in order
type Any []Database

// Exists tells if any database holds oid. The first error interrupts the lookup.
func (a Any) Exists(oid model.OID) (bool, error) {
	for _, db := range a {
		ok, err := db.Exists(oid)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
