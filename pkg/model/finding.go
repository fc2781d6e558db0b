package model

import (
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/refmon/pkg/refs/status"
)

// Severity ranks findings. The zero value means "use the default severity of the check".
type Severity uint8

const (
	// SeverityDefault defers to the default severity of a check
	SeverityDefault Severity = iota
	// SeverityIgnore drops findings of a check
	SeverityIgnore
	// SeverityInfo reports findings only in verbose mode, never failing
	SeverityInfo
	// SeverityWarning reports findings without failing, unless in strict mode
	SeverityWarning
	// SeverityError reports findings and fails the verification
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityIgnore:
		return "ignore"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "default"
	}
}

// MarshalJSON renders the severity name
func (s Severity) MarshalJSON() ([]byte, error) {
	return jsoniter.Marshal(s.String())
}

// ParseSeverity accepts the severity names used by git's fsck.<msg-id> settings
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ignore":
		return SeverityIgnore, nil
	case "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	default:
		return SeverityDefault, status.ErrInvalidArgument.Wrapf("unknown fsck severity %q", name)
	}
}

// CheckKind identifies an integrity check. Names follow git's fsck message ids.
type CheckKind string

// Checks carried out on any ref store
const (
	CheckBadRefName          CheckKind = "badRefName"
	CheckDuplicateRefName    CheckKind = "duplicateRefName"
	CheckDanglingTarget      CheckKind = "danglingTarget"
	CheckSymrefCycle         CheckKind = "symrefCycle"
	CheckSymrefDepthExceeded CheckKind = "symrefDepthExceeded"
	CheckDanglingSymref      CheckKind = "danglingSymref"
	CheckBadRefContent       CheckKind = "badRefContent"
	CheckStrayFile           CheckKind = "strayFile"
)

// Checks specific to the files format
const (
	CheckRefMissingNewline   CheckKind = "refMissingNewline"
	CheckTrailingRefContent  CheckKind = "trailingRefContent"
	CheckBadPackedRefsHeader CheckKind = "badPackedRefsHeader"
	CheckPackedRefsUnsorted  CheckKind = "packedRefsUnsorted"
	CheckLooseShadowsPacked  CheckKind = "looseShadowsPacked"
)

// Checks specific to the reftable format
const (
	CheckBadManifest             CheckKind = "badManifest"
	CheckMissingTable            CheckKind = "missingTable"
	CheckBadTableName            CheckKind = "badTableName"
	CheckTableChecksum           CheckKind = "tableChecksum"
	CheckTableUnsorted           CheckKind = "tableUnsorted"
	CheckTableIndexCorrupt       CheckKind = "tableIndexCorrupt"
	CheckUpdateIndexNotMonotonic CheckKind = "updateIndexNotMonotonic"
)

var defaultSeverities = map[CheckKind]Severity{
	CheckBadRefName:              SeverityError,
	CheckDuplicateRefName:        SeverityError,
	CheckDanglingTarget:          SeverityWarning,
	CheckSymrefCycle:             SeverityError,
	CheckSymrefDepthExceeded:     SeverityError,
	CheckDanglingSymref:          SeverityInfo,
	CheckBadRefContent:           SeverityError,
	CheckStrayFile:               SeverityWarning,
	CheckRefMissingNewline:       SeverityInfo,
	CheckTrailingRefContent:      SeverityWarning,
	CheckBadPackedRefsHeader:     SeverityError,
	CheckPackedRefsUnsorted:      SeverityError,
	CheckLooseShadowsPacked:      SeverityInfo,
	CheckBadManifest:             SeverityError,
	CheckMissingTable:            SeverityError,
	CheckBadTableName:            SeverityError,
	CheckTableChecksum:           SeverityError,
	CheckTableUnsorted:           SeverityError,
	CheckTableIndexCorrupt:       SeverityError,
	CheckUpdateIndexNotMonotonic: SeverityError,
}

// DefaultSeverity of a check. Unknown checks are errors.
func (k CheckKind) DefaultSeverity() Severity {
	if s, ok := defaultSeverities[k]; ok {
		return s
	}
	return SeverityError
}

// Fixed tells if the severity of this check cannot be altered by options
func (k CheckKind) Fixed() bool {
	return k == CheckDuplicateRefName
}

// CheckKinds lists all known checks, sorted by name
func CheckKinds() []CheckKind {
	kinds := make([]CheckKind, 0, len(defaultSeverities))
	for k := range defaultSeverities {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ParseCheckKind resolves a check by its message id, case insensitively as git does
func ParseCheckKind(name string) (CheckKind, error) {
	for k := range defaultSeverities {
		if strings.EqualFold(string(k), name) {
			return k, nil
		}
	}
	return "", status.ErrInvalidArgument.Wrapf("unknown fsck check %q", name)
}

// Finding reports the outcome of one integrity check
type Finding struct {
	Kind     CheckKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Ref      string    `json:"ref,omitempty"`
	Detail   string    `json:"detail"`
}

// Location is the ref the finding is about, or a placeholder for store-wide findings
func (f Finding) Location() string {
	if f.Ref == "" {
		return "(store)"
	}
	return f.Ref
}

// String renders a finding the way git fsck does: "<severity>: <ref>: <kind>: <detail>"
func (f Finding) String() string {
	return f.Severity.String() + ": " + f.Location() + ": " + string(f.Kind) + ": " + f.Detail
}
