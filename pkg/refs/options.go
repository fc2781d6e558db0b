package refs

type (
	// EnumerateOption tunes an enumeration
	EnumerateOption func(*EnumerateOptions)

	// EnumerateOptions is used by backends to apply EnumerateOption's
	EnumerateOptions struct {
		// OnMalformed, when set, receives malformed entries which are then skipped.
		// Otherwise enumeration fails on the first malformed entry.
		OnMalformed func(name string, err error)
	}

	// WriteOption tunes a transaction
	WriteOption func(*WriteOptions)

	// WriteOptions is used by backends to apply WriteOption's
	WriteOptions struct {
		Bulk bool
	}
)

// SkipMalformed reports malformed entries to fn and goes on with the enumeration
func SkipMalformed(fn func(name string, err error)) EnumerateOption {
	return func(o *EnumerateOptions) {
		o.OnMalformed = fn
	}
}

// Bulk hints that the transaction loads many refs at once, e.g. when populating a new store
func Bulk() WriteOption {
	return func(o *WriteOptions) {
		o.Bulk = true
	}
}

// EnumerateOptionsWithDefaults applies options
func EnumerateOptionsWithDefaults(opts []EnumerateOption) EnumerateOptions {
	var o EnumerateOptions
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// WriteOptionsWithDefaults applies options
func WriteOptionsWithDefaults(opts []WriteOption) WriteOptions {
	var o WriteOptions
	for _, apply := range opts {
		apply(&o)
	}
	return o
}
