package refs

import (
	"context"

	"github.com/oneconcern/refmon/pkg/model"
)

// NewSliceIterator iterates over records already held in memory, assumed sorted by name
func NewSliceIterator(records []model.Record) Iterator {
	return &sliceIterator{records: records, pos: -1}
}

type sliceIterator struct {
	records []model.Record
	pos     int
}

func (s *sliceIterator) Next() bool {
	if s.pos+1 >= len(s.records) {
		s.pos = len(s.records)
		return false
	}
	s.pos++
	return true
}

func (s *sliceIterator) Record() model.Record {
	if s.pos < 0 || s.pos >= len(s.records) {
		return model.Record{}
	}
	return s.records[s.pos]
}

func (s *sliceIterator) Err() error   { return nil }
func (s *sliceIterator) Close() error { return nil }

// Collect drains an enumeration into memory
func Collect(ctx context.Context, store Store, opts ...EnumerateOption) (records []model.Record, err error) {
	it, err := store.Enumerate(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := it.Close(); err == nil {
			err = cerr
		}
	}()

	for it.Next() {
		records = append(records, it.Record())
	}
	return records, it.Err()
}
