package model

import (
	"strings"

	"github.com/oneconcern/refmon/pkg/refs/status"
)

const (
	// RefsPrefix is the namespace all regular refs live in
	RefsPrefix = "refs/"

	// HEAD is the root ref designating the current branch
	HEAD = "HEAD"

	lockSuffix = ".lock"
)

// CheckRefName verifies that name is a well formed ref name.
//
// A ref name is a slash-separated path below "refs/", or a root ref written in
// upper case (e.g. HEAD, ORIG_HEAD). Components may not be empty, start with a dot
// or end with ".lock". The name may not contain "..", "@{", control characters,
// spaces or any of ~ ^ : ? * [ \, and may not end with a slash or a dot.
func CheckRefName(name string) error {
	if name == "" {
		return status.ErrMalformed.Wrapf("ref name is empty")
	}
	if IsRootRef(name) {
		return nil
	}
	if !strings.HasPrefix(name, RefsPrefix) {
		return status.ErrMalformed.Wrapf("ref name %q: not under %q and not a root ref", name, RefsPrefix)
	}
	if strings.HasSuffix(name, "/") {
		return status.ErrMalformed.Wrapf("ref name %q: trailing slash", name)
	}
	if strings.HasSuffix(name, ".") {
		return status.ErrMalformed.Wrapf("ref name %q: trailing dot", name)
	}
	if strings.Contains(name, "..") {
		return status.ErrMalformed.Wrapf("ref name %q: contains '..'", name)
	}
	if strings.Contains(name, "@{") {
		return status.ErrMalformed.Wrapf("ref name %q: contains '@{'", name)
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < 0x20 || c == 0x7f {
			return status.ErrMalformed.Wrapf("ref name %q: control character at offset %d", name, i)
		}
	}
	if i := strings.IndexAny(name, " ~^:?*[\\"); i >= 0 {
		return status.ErrMalformed.Wrapf("ref name %q: forbidden character %q", name, name[i])
	}
	for _, component := range strings.Split(name, "/") {
		switch {
		case component == "":
			return status.ErrMalformed.Wrapf("ref name %q: empty path component", name)
		case strings.HasPrefix(component, "."):
			return status.ErrMalformed.Wrapf("ref name %q: component %q starts with a dot", name, component)
		case strings.HasSuffix(component, lockSuffix):
			return status.ErrMalformed.Wrapf("ref name %q: component %q ends with %q", name, component, lockSuffix)
		}
	}
	return nil
}

// IsValidRefName is a convenience wrapper around CheckRefName
func IsValidRefName(name string) bool {
	return CheckRefName(name) == nil
}

// IsRootRef tells if name is a root ref, such as HEAD or ORIG_HEAD
func IsRootRef(name string) bool {
	if name == "" || name[0] == '_' || name[0] == '-' {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'A' || c > 'Z') && c != '_' && c != '-' {
			return false
		}
	}
	return true
}
