package objects

import (
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v3"
	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"go.uber.org/zap"
)

// BadgerIndex is a persistent index of known object ids, stored in a badger key-value store.
//
// Keys are raw object ids, values are empty.
type BadgerIndex struct {
	db *badger.DB
	l  *zap.Logger
}

// BadgerOption tunes a badger index
type BadgerOption func(*badgerOptions)

type badgerOptions struct {
	inMemory bool
	readOnly bool
	l        *zap.Logger
}

// InMemory keeps the index in memory, for tests
func InMemory() BadgerOption {
	return func(o *badgerOptions) {
		o.inMemory = true
	}
}

// ReadOnly opens an existing index without write access
func ReadOnly() BadgerOption {
	return func(o *badgerOptions) {
		o.readOnly = true
	}
}

// WithBadgerLogger sets a logger
func WithBadgerLogger(l *zap.Logger) BadgerOption {
	return func(o *badgerOptions) {
		if l != nil {
			o.l = l
		}
	}
}

// OpenBadgerIndex opens (or creates) the index stored in directory pth
func OpenBadgerIndex(pth string, opts ...BadgerOption) (*BadgerIndex, error) {
	o := badgerOptions{l: zap.NewNop()}
	for _, apply := range opts {
		apply(&o)
	}

	var options badger.Options
	if o.inMemory {
		options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(pth, 0700); err != nil {
			return nil, status.ErrIOFailure.Wrapf("create object index directory %q: %v", pth, err)
		}
		options = badger.LSMOnlyOptions(pth).WithReadOnly(o.readOnly)
	}
	db, err := badger.Open(options.
		WithLogger(nil).
		WithMetricsEnabled(false))
	if err != nil {
		return nil, status.ErrIOFailure.Wrapf("open object index %q: %v", pth, err)
	}
	return &BadgerIndex{db: db, l: o.l.With(zap.String("object_index", pth))}, nil
}

// Exists tells if the index knows oid
func (b *BadgerIndex) Exists(oid model.OID) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, e := txn.Get(oid[:])
		return e
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, status.ErrIOFailure.Wrapf("lookup object %s: %v", oid, err)
	}
	return true, nil
}

// Add object ids to the index. Conflicting transactions are retried.
func (b *BadgerIndex) Add(oids ...model.OID) error {
	err := backoff.Retry(func() error {
		return b.db.Update(func(txn *badger.Txn) error {
			for _, oid := range oids {
				key := oid
				if e := txn.Set(key[:], nil); e != nil {
					if errors.Is(e, badger.ErrConflict) {
						return e // retry
					}
					return backoff.Permanent(e)
				}
			}
			return nil
		})
	},
		backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 10),
	)
	if err != nil {
		return status.ErrIOFailure.Wrapf("index objects: %v", err)
	}
	b.l.Debug("objects indexed", zap.Int("count", len(oids)))
	return nil
}

// Close the index
func (b *BadgerIndex) Close() error {
	if err := b.db.Close(); err != nil {
		return status.ErrIOFailure.Wrap(err)
	}
	return nil
}
