package files

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"go.uber.org/multierr"
)

const (
	packedHeaderPrefix = "# pack-refs with:"

	// packedHeader is written at the top of every packed-refs table
	packedHeader = "# pack-refs with: peeled fully-peeled sorted \n"

	peeledPrefix = "^"
)

type packedEntry struct {
	name      string
	oid       model.OID
	peeled    model.OID
	hasPeeled bool
	line      int
}

func (e packedEntry) record() model.Record {
	return model.NewRecord(e.name, model.Direct(e.oid))
}

// packedProblem is an irregularity found while parsing packed-refs
type packedProblem struct {
	kind   model.CheckKind
	ref    string
	line   int
	detail string
}

// malformed tells if the problem makes an entry unusable
func (p packedProblem) malformed() bool {
	switch p.kind {
	case model.CheckBadRefContent, model.CheckBadRefName, model.CheckDuplicateRefName:
		return true
	default:
		return false
	}
}

func (p packedProblem) location() string {
	if p.ref != "" {
		return p.ref
	}
	return fmt.Sprintf("%s:%d", PackedRefsFile, p.line)
}

// packedTable is a parsed packed-refs file. Entries are sorted by name and unique,
// whatever the order and duplicates found in the file.
type packedTable struct {
	entries  []packedEntry
	problems []packedProblem
}

func (t *packedTable) lookup(name string) (packedEntry, bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].name >= name })
	if i < len(t.entries) && t.entries[i].name == name {
		return t.entries[i], true
	}
	return packedEntry{}, false
}

// checkUsable fails on the first problem making an entry unusable
func (t *packedTable) checkUsable() error {
	for _, p := range t.problems {
		if p.malformed() {
			return status.ErrMalformed.Wrapf("%s line %d: %s", PackedRefsFile, p.line, p.detail)
		}
	}
	return nil
}

func (t *packedTable) names() map[string]struct{} {
	set := make(map[string]struct{}, len(t.entries))
	for _, e := range t.entries {
		set[e.name] = struct{}{}
	}
	return set
}

// parsePacked parses the content of packed-refs. It never fails: irregularities are collected
// as problems, and unusable lines are left out of the entries.
func parsePacked(data []byte) *packedTable {
	t := &packedTable{}
	if len(data) == 0 {
		return t
	}

	report := func(kind model.CheckKind, ref string, line int, format string, args ...interface{}) {
		t.problems = append(t.problems, packedProblem{kind: kind, ref: ref, line: line, detail: fmt.Sprintf(format, args...)})
	}

	content := string(data)
	if !strings.HasSuffix(content, "\n") {
		report(model.CheckRefMissingNewline, "", strings.Count(content, "\n")+1, "last line of %s is not terminated", PackedRefsFile)
	}

	var (
		last     string
		previous = -1
		seen     = make(map[string]struct{})
	)
	for i, line := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
		lineno := i + 1
		switch {
		case strings.HasPrefix(line, "#"):
			if lineno != 1 || !strings.HasPrefix(line, packedHeaderPrefix) {
				report(model.CheckBadPackedRefsHeader, "", lineno, "unexpected header %q", line)
			}

		case strings.HasPrefix(line, peeledPrefix):
			oid, err := model.ParseOID(line[len(peeledPrefix):])
			switch {
			case err != nil:
				report(model.CheckBadRefContent, "", lineno, "bad peeled line %q: %v", line, err)
			case previous < 0 || t.entries[previous].hasPeeled:
				report(model.CheckBadRefContent, "", lineno, "peeled line %q does not follow a ref", line)
			default:
				t.entries[previous].peeled = oid
				t.entries[previous].hasPeeled = true
			}

		default:
			previous = -1
			hexOID, name, found := strings.Cut(line, " ")
			if !found {
				report(model.CheckBadRefContent, "", lineno, "unparseable line %q", line)
				continue
			}
			oid, err := model.ParseOID(hexOID)
			if err != nil || oid.IsZero() {
				report(model.CheckBadRefContent, name, lineno, "bad object id %q", hexOID)
				continue
			}
			if err := model.CheckRefName(name); err != nil {
				report(model.CheckBadRefName, name, lineno, "%v", err)
				continue
			}
			if _, dup := seen[name]; dup {
				report(model.CheckDuplicateRefName, name, lineno, "%s is packed more than once", name)
				continue
			}
			if name < last {
				report(model.CheckPackedRefsUnsorted, name, lineno, "%s is listed after %s", name, last)
			} else {
				last = name
			}
			seen[name] = struct{}{}
			t.entries = append(t.entries, packedEntry{name: name, oid: oid, line: lineno})
			previous = len(t.entries) - 1
		}
	}

	sort.SliceStable(t.entries, func(i, j int) bool { return t.entries[i].name < t.entries[j].name })
	return t
}

func writePacked(w io.Writer, entries []packedEntry) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(packedHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%s %s\n", e.oid, e.name); err != nil {
			return err
		}
		if e.hasPeeled {
			if _, err := fmt.Fprintf(bw, "%s%s\n", peeledPrefix, e.peeled); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// readPacked loads packed-refs. A missing file is an empty table.
func (s *Store) readPacked() (*packedTable, error) {
	data, err := storage.ReadFile(s.fs, s.packedPath())
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return &packedTable{}, nil
		}
		return nil, err
	}
	return parsePacked(data), nil
}

// packedUpdate describes a rewrite of packed-refs
type packedUpdate struct {
	set    map[string]model.OID
	remove map[string]struct{}
}

func (u packedUpdate) touches(t *packedTable) bool {
	if len(u.set) > 0 {
		return true
	}
	for name := range u.remove {
		if _, ok := t.lookup(name); ok {
			return true
		}
	}
	return false
}

// apply builds the entries of the new table
func (u packedUpdate) apply(t *packedTable) []packedEntry {
	entries := make([]packedEntry, 0, len(t.entries)+len(u.set))
	for _, e := range t.entries {
		if _, removed := u.remove[e.name]; removed {
			continue
		}
		if oid, updated := u.set[e.name]; updated {
			if oid != e.oid {
				e = packedEntry{name: e.name, oid: oid}
			}
			delete(u.set, e.name)
		}
		entries = append(entries, e)
	}
	for name, oid := range u.set {
		entries = append(entries, packedEntry{name: name, oid: oid})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return entries
}

// rewritePacked replaces packed-refs under its lock file. The lock is taken before
// the current table is read. It returns false when the table needs no change.
func (s *Store) rewritePacked(u packedUpdate) (bool, error) {
	lf, err := storage.NewLockFile(s.fs, s.packedPath())
	if err != nil {
		return false, err
	}
	table, err := s.readPacked()
	if err != nil {
		return false, multierr.Append(err, lf.Rollback())
	}
	if !u.touches(table) {
		return false, lf.Rollback()
	}
	if err := table.checkUsable(); err != nil {
		return false, multierr.Append(err, lf.Rollback())
	}
	if err := writePacked(lf, u.apply(table)); err != nil {
		return false, multierr.Append(status.ErrIOFailure.Wrapf("write %s: %v", PackedRefsFile, err), lf.Rollback())
	}
	return true, lf.Commit()
}
