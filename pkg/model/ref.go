package model

import (
	"strings"

	"github.com/oneconcern/refmon/pkg/refs/status"
)

// SymbolicPrefix introduces the target of a symbolic ref in its textual form
const SymbolicPrefix = "ref: "

// Target is what a ref points to: either an object id or another ref.
type Target struct {
	OID      OID    `json:"oid,omitempty" yaml:"oid,omitempty"`
	Symbolic string `json:"symbolic,omitempty" yaml:"symbolic,omitempty"`
}

// Direct builds the target of a direct ref
func Direct(oid OID) Target {
	return Target{OID: oid}
}

// Symbolic builds the target of a symbolic ref
func Symbolic(name string) Target {
	return Target{Symbolic: name}
}

// IsSymbolic tells if the target is another ref
func (t Target) IsSymbolic() bool {
	return t.Symbolic != ""
}

// String renders the target in its loose file form, without a trailing newline
func (t Target) String() string {
	if t.IsSymbolic() {
		return SymbolicPrefix + t.Symbolic
	}
	return t.OID.String()
}

// Validate checks that the target designates an object or a well formed ref name
func (t Target) Validate() error {
	if t.IsSymbolic() {
		return CheckRefName(t.Symbolic)
	}
	if t.OID.IsZero() {
		return status.ErrMalformed.Wrapf("target is the null object id")
	}
	return nil
}

// ParseTarget parses the textual form of a target, as found in a loose ref file.
// Surrounding white space is ignored.
func ParseTarget(content string) (Target, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, SymbolicPrefix) {
		name := strings.TrimSpace(content[len(SymbolicPrefix):])
		if err := CheckRefName(name); err != nil {
			return Target{}, err
		}
		return Symbolic(name), nil
	}
	oid, err := ParseOID(content)
	if err != nil {
		return Target{}, err
	}
	return Direct(oid), nil
}

// Record is the immutable snapshot of a ref as read from a store
type Record struct {
	Name        string `json:"name" yaml:"name"`
	Target      Target `json:"target" yaml:"target"`
	UpdateIndex uint64 `json:"updateIndex,omitempty" yaml:"updateIndex,omitempty"`
}

// NewRecord builds a record
func NewRecord(name string, target Target) Record {
	return Record{Name: name, Target: target}
}
