package fsck

import "github.com/oneconcern/refmon/pkg/model"

type policy struct {
	overrides map[model.CheckKind]model.Severity
	strict    bool
	verbose   bool
}

// severity applies, in order: configured overrides, strict mode, then verbosity.
// Fixed checks keep their default severity.
func (p policy) severity(kind model.CheckKind) model.Severity {
	s := kind.DefaultSeverity()
	if kind.Fixed() {
		return s
	}
	if o, ok := p.overrides[kind]; ok && o != model.SeverityDefault {
		s = o
	}
	if p.strict && s == model.SeverityWarning {
		s = model.SeverityError
	}
	if s == model.SeverityInfo && !p.verbose {
		s = model.SeverityIgnore
	}
	return s
}

// ParseSeverities reads a map of check names to severity names, such as git's fsck.<msg-id> settings
func ParseSeverities(src map[string]string) (map[model.CheckKind]model.Severity, error) {
	overrides := make(map[model.CheckKind]model.Severity, len(src))
	for name, value := range src {
		kind, err := model.ParseCheckKind(name)
		if err != nil {
			return nil, err
		}
		s, err := model.ParseSeverity(value)
		if err != nil {
			return nil, err
		}
		overrides[kind] = s
	}
	return overrides, nil
}
