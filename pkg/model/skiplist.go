package model

import (
	"bufio"
	"io"
	"strings"

	"github.com/oneconcern/refmon/pkg/refs/status"
)

// Skiplist is the set of object ids exempt from dangling target checks
type Skiplist map[OID]struct{}

// NewSkiplist builds a skiplist from a list of object ids
func NewSkiplist(oids ...OID) Skiplist {
	s := make(Skiplist, len(oids))
	for _, oid := range oids {
		s.Add(oid)
	}
	return s
}

// Add an object id to the skiplist
func (s Skiplist) Add(oid OID) {
	s[oid] = struct{}{}
}

// Contains tells if oid is exempt. A nil skiplist contains nothing.
func (s Skiplist) Contains(oid OID) bool {
	_, ok := s[oid]
	return ok
}

// ParseSkiplist reads a skiplist file: one hexadecimal object id per line.
// Blank lines and lines starting with '#' are ignored, as is anything after
// the object id on a line.
func ParseSkiplist(r io.Reader) (Skiplist, error) {
	s := make(Skiplist)
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			line = fields[0]
		}
		oid, err := ParseOID(line)
		if err != nil {
			return nil, status.ErrMalformed.Wrapf("skiplist line %d: %v", lineno, err)
		}
		s.Add(oid)
	}
	if err := scanner.Err(); err != nil {
		return nil, status.ErrIOFailure.Wrap(err)
	}
	return s, nil
}
