package reftable

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"github.com/segmentio/ksuid"
)

const tableSuffix = ".ref"

var tableNameRex = regexp.MustCompile(`^([0-9a-f]{12})-([0-9a-f]{12})-([0-9A-Za-z]+)\.ref$`)

// newTableName names a table after its update index range, with a random suffix
func newTableName(minIndex, maxIndex uint64) string {
	return fmt.Sprintf("%012x-%012x-%s%s", minIndex, maxIndex, ksuid.New().String(), tableSuffix)
}

// parseTableName extracts the update index range from a table name
func parseTableName(name string) (minIndex, maxIndex uint64, err error) {
	parts := tableNameRex.FindStringSubmatch(name)
	if parts == nil {
		return 0, 0, status.ErrMalformed.Wrapf("%q is not a table name", name)
	}
	if minIndex, err = strconv.ParseUint(parts[1], 16, 64); err != nil {
		return 0, 0, status.ErrMalformed.Wrap(err)
	}
	if maxIndex, err = strconv.ParseUint(parts[2], 16, 64); err != nil {
		return 0, 0, status.ErrMalformed.Wrap(err)
	}
	return minIndex, maxIndex, nil
}

// readManifest returns the table names listed in tables.list, oldest first
func (s *Store) readManifest() ([]string, error) {
	names, problems, err := s.scanManifest()
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, problems[0].err()
	}
	return names, nil
}

// scanManifest returns the valid table names of tables.list, and its irregular lines
func (s *Store) scanManifest() ([]string, []manifestProblem, error) {
	data, err := storage.ReadFile(s.fs, s.manifestPath())
	if err != nil {
		return nil, nil, err
	}
	names, problems := parseManifest(data)
	return names, problems, nil
}

type manifestProblem struct {
	kind   model.CheckKind
	detail string
}

func (p manifestProblem) String() string {
	return p.detail
}

func (p manifestProblem) err() error {
	return status.ErrStructuralCorruption.Wrapf("%s: %s", ManifestFile, p.detail)
}

// parseManifest returns the valid table names, and the irregular lines
func parseManifest(data []byte) (names []string, problems []manifestProblem) {
	content := string(data)
	if content == "" {
		return nil, nil
	}
	if !strings.HasSuffix(content, "\n") {
		problems = append(problems, manifestProblem{kind: model.CheckBadManifest, detail: "last line is not terminated"})
	}
	seen := make(map[string]struct{})
	for i, line := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
		switch _, dup := seen[line]; {
		case line == "":
			problems = append(problems, manifestProblem{kind: model.CheckBadManifest, detail: fmt.Sprintf("line %d is empty", i+1)})
		case dup:
			problems = append(problems, manifestProblem{kind: model.CheckBadManifest, detail: fmt.Sprintf("line %d lists %s again", i+1, line)})
		case !tableNameRex.MatchString(line):
			problems = append(problems, manifestProblem{kind: model.CheckBadTableName, detail: fmt.Sprintf("line %d: %q is not a table name", i+1, line)})
		default:
			seen[line] = struct{}{}
			names = append(names, line)
		}
	}
	return names, problems
}

func formatManifest(names []string) string {
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return b.String()
}
