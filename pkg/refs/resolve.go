package refs

import (
	"context"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs/status"
)

// ReadFunc reads a single ref
type ReadFunc func(context.Context, string) (model.Record, error)

// Resolve follows a chain of symbolic refs, reading at most maxDepth refs.
//
// A chain visiting the same ref twice fails with status.ErrCyclic. A chain that has not reached
// a direct ref after maxDepth reads fails with status.ErrDepthExceeded. A non-positive
// maxDepth uses DefaultMaxSymrefDepth.
func Resolve(ctx context.Context, read ReadFunc, name string, maxDepth int) (model.OID, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxSymrefDepth
	}
	visited := make(map[string]struct{}, maxDepth)
	current := name
	for depth := 0; depth < maxDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return model.OID{}, err
		}
		if _, seen := visited[current]; seen {
			return model.OID{}, status.ErrCyclic.Wrapf("%s: %s is reached twice", name, current)
		}
		visited[current] = struct{}{}

		rec, err := read(ctx, current)
		if err != nil {
			if errors.Is(err, status.ErrNotFound) && current != name {
				return model.OID{}, status.ErrNotFound.Wrapf("%s: symbolic target %s does not exist", name, current)
			}
			return model.OID{}, err
		}
		if !rec.Target.IsSymbolic() {
			return rec.Target.OID, nil
		}
		current = rec.Target.Symbolic
	}
	if _, seen := visited[current]; seen {
		return model.OID{}, status.ErrCyclic.Wrapf("%s: %s is reached twice", name, current)
	}
	return model.OID{}, status.ErrDepthExceeded.Wrapf("%s: more than %d levels of symbolic refs", name, maxDepth)
}
