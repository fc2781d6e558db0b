package model

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/refmon/pkg/refs/status"
)

// Format enumerates the supported ref storage formats.
//
// The set is closed: every switch over a Format is expected to handle all of them.
type Format uint8

const (
	// FormatUnknown is the zero value, never a valid format
	FormatUnknown Format = iota

	// FormatFiles stores one file per ref, plus a sorted packed-refs table
	FormatFiles

	// FormatReftable stores refs in a stack of immutable, block-indexed tables
	FormatReftable
)

const (
	formatFilesName    = "files"
	formatReftableName = "reftable"
)

// Formats lists all supported formats
func Formats() []Format {
	return []Format{FormatFiles, FormatReftable}
}

func (f Format) String() string {
	switch f {
	case FormatFiles:
		return formatFilesName
	case FormatReftable:
		return formatReftableName
	default:
		return "unknown"
	}
}

// SnapshotReads tells if reads of this format are consistent without locking.
//
// A reftable stack is a list of immutable files swapped atomically, whereas loose
// ref files may be observed while being renamed.
func (f Format) SnapshotReads() bool {
	return f == FormatReftable
}

// MarshalJSON renders the format name
func (f Format) MarshalJSON() ([]byte, error) {
	return jsoniter.Marshal(f.String())
}

// ParseFormat resolves a format by name
func ParseFormat(name string) (Format, error) {
	switch name {
	case formatFilesName:
		return FormatFiles, nil
	case formatReftableName:
		return FormatReftable, nil
	default:
		return FormatUnknown, status.ErrInvalidArgument.Wrapf("unknown ref storage format '%s'", name)
	}
}
