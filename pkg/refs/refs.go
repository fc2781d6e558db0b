// Package refs defines the capability interface every ref storage backend implements.
//
// Callers (migration, verification, the CLI) only ever go through Store: they never
// reach into a backend's on-disk layout.
package refs

import (
	"context"

	"github.com/oneconcern/refmon/pkg/model"
)

// DefaultMaxSymrefDepth is the number of refs read at most when resolving a symbolic ref
const DefaultMaxSymrefDepth = 5

// Store is a ref store, in one of the supported formats
type Store interface {
	Format() model.Format

	// Enumerate yields a fresh, consistent snapshot of the visible refs, sorted by name.
	// Records are read lazily; the iterator must be closed.
	Enumerate(context.Context, ...EnumerateOption) (Iterator, error)

	// ReadOne returns the visible record for a ref, or status.ErrNotFound
	ReadOne(context.Context, string) (model.Record, error)

	// BeginWrite starts a transaction. Nothing is visible before Commit.
	BeginWrite(context.Context, ...WriteOption) (Transaction, error)

	// ResolveSymbolic follows symbolic refs up to maxDepth reads and returns the object id reached
	ResolveSymbolic(ctx context.Context, name string, maxDepth int) (model.OID, error)

	// CheckStructure reports findings about the backend internal structures
	CheckStructure(context.Context, Reporter) error

	Close() error
}

// Optimizer is implemented by stores able to reorganize their storage
// without changing the visible refs (packing loose refs, compacting tables).
type Optimizer interface {
	Optimize(context.Context) error
}

// Iterator walks over records in name order
type Iterator interface {
	Next() bool
	Record() model.Record
	Err() error
	Close() error
}

// Transaction buffers updates until Commit
type Transaction interface {
	// Update sets a ref to a target, creating the ref if needed
	Update(name string, target model.Target) error

	// Delete removes a ref. Deleting a missing ref is not an error.
	Delete(name string) error

	Commit(context.Context) error

	// Abort discards the transaction. It is safe to call after Commit.
	Abort() error
}

// Reporter receives findings from structural checks
type Reporter func(model.Finding)

// Report is a shorthand to emit a finding with its default severity
func (r Reporter) Report(kind model.CheckKind, ref, detail string) {
	if r == nil {
		return
	}
	r(model.Finding{Kind: kind, Ref: ref, Detail: detail})
}
