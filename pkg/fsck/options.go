package fsck

import (
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/objects"
	"github.com/oneconcern/refmon/pkg/refs"
	"go.uber.org/zap"
)

type options struct {
	policy
	skiplist       model.Skiplist
	maxSymrefDepth int
	objects        objects.Database
	onFinding      func(model.Finding)
	l              *zap.Logger
}

// Option for a verification
type Option func(*options)

func defaultOptions() *options {
	return &options{
		maxSymrefDepth: refs.DefaultMaxSymrefDepth,
		l:              zap.NewNop(),
	}
}

// Strict escalates warnings to errors
func Strict(enabled bool) Option {
	return func(o *options) {
		o.strict = enabled
	}
}

// Verbose keeps informational findings
func Verbose(enabled bool) Option {
	return func(o *options) {
		o.verbose = enabled
	}
}

// WithSeverities overrides the default severity of some checks
func WithSeverities(overrides map[model.CheckKind]model.Severity) Option {
	return func(o *options) {
		o.overrides = overrides
	}
}

// WithSkiplist exempts object ids from dangling target checks
func WithSkiplist(skiplist model.Skiplist) Option {
	return func(o *options) {
		o.skiplist = skiplist
	}
}

// WithMaxSymrefDepth bounds the resolution of symbolic refs
func WithMaxSymrefDepth(depth int) Option {
	return func(o *options) {
		if depth > 0 {
			o.maxSymrefDepth = depth
		}
	}
}

// WithObjects checks that direct refs point to existing objects. Without it, targets are not checked.
func WithObjects(db objects.Database) Option {
	return func(o *options) {
		o.objects = db
	}
}

// OnFinding is called for each finding as soon as it is reported
func OnFinding(fn func(model.Finding)) Option {
	return func(o *options) {
		o.onFinding = fn
	}
}

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.l = l
		}
	}
}
