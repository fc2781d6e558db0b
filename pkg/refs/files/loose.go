package files

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"github.com/spf13/afero"
)

const tempPrefix = ".tmp-"

// looseContent is the parsed content of a loose ref file
type looseContent struct {
	target         model.Target
	missingNewline bool
	trailing       bool
}

// parseLoose parses a loose ref file.
//
// Like git, garbage after the object id is tolerated when separated by white space,
// but reported by structural checks.
func parseLoose(data []byte) (looseContent, error) {
	var c looseContent
	content := string(data)

	if strings.HasPrefix(content, "ref:") {
		rest := strings.TrimLeft(content[len("ref:"):], " \t")
		line, after, found := strings.Cut(rest, "\n")
		c.missingNewline = !found
		c.trailing = after != ""
		name := strings.TrimRight(line, " \t\r")
		if err := model.CheckRefName(name); err != nil {
			return c, err
		}
		c.target = model.Symbolic(name)
		return c, nil
	}

	if len(content) < model.OIDHexSize {
		return c, status.ErrMalformed.Wrapf("content %q is neither an object id nor a symbolic ref", strings.TrimSpace(content))
	}
	oid, err := model.ParseOID(content[:model.OIDHexSize])
	if err != nil {
		return c, err
	}
	rest := content[model.OIDHexSize:]
	switch {
	case rest == "":
		c.missingNewline = true
	case rest == "\n":
	case isSpace(rest[0]):
		c.trailing = true
		c.missingNewline = !strings.Contains(rest, "\n")
	default:
		return c, status.ErrMalformed.Wrapf("unexpected content %q after object id", rest)
	}
	if oid.IsZero() {
		return c, status.ErrMalformed.Wrapf("null object id")
	}
	c.target = model.Direct(oid)
	return c, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// formatLoose renders the content of a loose ref file
func formatLoose(target model.Target) string {
	return target.String() + "\n"
}

// looseListing is the result of a scan of the loose refs
type looseListing struct {
	// names of loose refs, sorted
	names []string

	// invalid holds files below refs/ whose path is not a valid ref name
	invalid []string

	// strays holds leftovers: lock and temporary files, unexpected files
	strays []string
}

// listLoose scans the store for loose refs. Contents are not read.
func (s *Store) listLoose() (looseListing, error) {
	var listing looseListing

	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return listing, nil
		}
		return listing, status.ErrIOFailure.Wrapf("read store root %q: %v", s.root, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case name == refsDir && entry.IsDir():
			if err := s.walkRefs(&listing); err != nil {
				return listing, err
			}
		case name == PackedRefsFile && !entry.IsDir():
		case !entry.IsDir() && model.IsRootRef(name):
			listing.names = append(listing.names, name)
		default:
			listing.strays = append(listing.strays, name)
		}
	}
	sort.Strings(listing.names)
	return listing, nil
}

func (s *Store) walkRefs(listing *looseListing) error {
	base := filepath.Join(s.root, refsDir)
	err := afero.Walk(s.fs, base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		file := info.Name()
		switch {
		case strings.HasSuffix(file, storage.LockSuffix), strings.HasPrefix(file, tempPrefix):
			listing.strays = append(listing.strays, name)
		case !model.IsValidRefName(name):
			listing.invalid = append(listing.invalid, name)
		default:
			listing.names = append(listing.names, name)
		}
		return nil
	})
	if err != nil {
		return status.ErrIOFailure.Wrapf("walk loose refs under %q: %v", base, err)
	}
	return nil
}
