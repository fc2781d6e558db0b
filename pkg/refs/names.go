package refs

import (
	"sort"
	"strings"

	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs/status"
)

// Names is a set of ref names, where a ref name can't also be the directory of other refs:
// refs/heads/a and refs/heads/a/b can't both exist.
type Names struct {
	names map[string]struct{}

	// number of members under each directory
	dirs map[string]int
}

// NewNames builds a set from names known to exist. Conflicts among them are not checked.
func NewNames(names ...string) *Names {
	n := &Names{
		names: make(map[string]struct{}, len(names)),
		dirs:  make(map[string]int),
	}
	for _, name := range names {
		n.insert(name)
	}
	return n
}

// Contains tells if name is a member of the set
func (n *Names) Contains(name string) bool {
	_, ok := n.names[name]
	return ok
}

// Add inserts name, unless it conflicts with a member. Adding a member again is a no-op.
func (n *Names) Add(name string) error {
	if n.Contains(name) {
		return nil
	}
	if err := n.Available(name); err != nil {
		return err
	}
	n.insert(name)
	return nil
}

// Available verifies that name could be added next to the current members
func (n *Names) Available(name string) error {
	for i := strings.IndexByte(name, '/'); i >= 0; i = nextSlash(name, i) {
		if n.Contains(name[:i]) {
			return status.ErrInvalidArgument.Wrapf("'%s' exists; cannot create '%s'", name[:i], name)
		}
	}
	if n.dirs[name] > 0 {
		return status.ErrInvalidArgument.Wrapf("'%s/' holds refs; cannot create '%s'", name, name)
	}
	return nil
}

// Remove drops name from the set
func (n *Names) Remove(name string) {
	if !n.Contains(name) {
		return
	}
	delete(n.names, name)
	for i := strings.IndexByte(name, '/'); i >= 0; i = nextSlash(name, i) {
		dir := name[:i]
		if n.dirs[dir] <= 1 {
			delete(n.dirs, dir)
			continue
		}
		n.dirs[dir]--
	}
}

func (n *Names) insert(name string) {
	if n.Contains(name) {
		return
	}
	n.names[name] = struct{}{}
	for i := strings.IndexByte(name, '/'); i >= 0; i = nextSlash(name, i) {
		n.dirs[name[:i]]++
	}
}

func nextSlash(name string, i int) int {
	j := strings.IndexByte(name[i+1:], '/')
	if j < 0 {
		return -1
	}
	return i + 1 + j
}

// CheckAvailable verifies that the refs created by a transaction fit next to the existing refs.
// updates maps the names of the transaction to their new target, nil for a deletion.
func CheckAvailable(existing []string, updates map[string]*model.Target) error {
	names := NewNames(existing...)
	created := make([]string, 0, len(updates))
	for name, target := range updates {
		if target == nil {
			names.Remove(name)
			continue
		}
		created = append(created, name)
	}
	sort.Strings(created)
	for _, name := range created {
		if err := names.Add(name); err != nil {
			return err
		}
	}
	return nil
}
