package files

import (
	"context"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/status"
)

// Enumerate merges loose and packed refs in name order. Loose files are read as the
// iteration proceeds.
func (s *Store) Enumerate(ctx context.Context, opts ...refs.EnumerateOption) (refs.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	options := refs.EnumerateOptionsWithDefaults(opts)

	table, err := s.readPacked()
	if err != nil {
		return nil, err
	}
	for _, p := range table.problems {
		if !p.malformed() {
			continue
		}
		if options.OnMalformed == nil {
			return nil, status.ErrMalformed.Wrapf("%s line %d: %s", PackedRefsFile, p.line, p.detail)
		}
		options.OnMalformed(p.location(), status.ErrMalformed.Wrapf("%s line %d: %s", PackedRefsFile, p.line, p.detail))
	}

	listing, err := s.listLoose()
	if err != nil {
		return nil, err
	}
	for _, name := range listing.invalid {
		err := status.ErrMalformed.Wrapf("loose ref file %q is not a valid ref name", name)
		if options.OnMalformed == nil {
			return nil, err
		}
		options.OnMalformed(name, err)
	}

	return &iterator{
		ctx:     ctx,
		store:   s,
		options: options,
		loose:   listing.names,
		packed:  table.entries,
	}, nil
}

type iterator struct {
	ctx     context.Context
	store   *Store
	options refs.EnumerateOptions

	loose  []string
	packed []packedEntry

	current model.Record
	err     error
	done    bool
}

func (it *iterator) Next() bool {
	for !it.done {
		if err := it.ctx.Err(); err != nil {
			it.fail(err)
			return false
		}

		switch {
		case len(it.loose) == 0 && len(it.packed) == 0:
			it.done = true
			return false

		case len(it.loose) == 0 || (len(it.packed) > 0 && it.packed[0].name < it.loose[0]):
			it.current = it.packed[0].record()
			it.packed = it.packed[1:]
			return true

		default:
			name := it.loose[0]
			it.loose = it.loose[1:]
			var fallback *packedEntry
			if len(it.packed) > 0 && it.packed[0].name == name {
				fallback = &it.packed[0]
				it.packed = it.packed[1:]
			}
			if it.readLoose(name, fallback) {
				return true
			}
		}
	}
	return false
}

// readLoose loads the next loose ref. It returns false when the ref is skipped.
func (it *iterator) readLoose(name string, fallback *packedEntry) bool {
	rec, err := it.store.readLoose(name)
	switch {
	case err == nil:
		it.current = rec
		return true

	case errors.Is(err, status.ErrNotFound):
		// deleted since listed
		if fallback != nil {
			it.current = fallback.record()
			return true
		}
		return false

	case errors.Is(err, status.ErrMalformed) && it.options.OnMalformed != nil:
		it.options.OnMalformed(name, err)
		return false

	default:
		it.fail(err)
		return false
	}
}

func (it *iterator) fail(err error) {
	it.err = err
	it.done = true
	it.current = model.Record{}
}

func (it *iterator) Record() model.Record {
	return it.current
}

func (it *iterator) Err() error {
	return it.err
}

func (it *iterator) Close() error {
	it.done = true
	it.loose = nil
	it.packed = nil
	return nil
}
