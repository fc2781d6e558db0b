package reftable

import (
	"container/heap"
	"context"

	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/status"
)

// Enumerate merges the tables of a fresh snapshot of the stack. Blocks are decoded as the
// iteration proceeds. No lock is taken.
func (s *Store) Enumerate(ctx context.Context, opts ...refs.EnumerateOption) (refs.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	options := refs.EnumerateOptionsWithDefaults(opts)
	st, err := s.loadStack(ctx, options.OnMalformed)
	if err != nil {
		return nil, err
	}
	return newMergeIterator(ctx, st.tables, options), nil
}

// cursor walks over the records of one table
type cursor struct {
	table   *table
	rank    int
	block   int
	entries []entry
	pos     int
	last    string
	started bool
}

func (c *cursor) next() (entry, bool, error) {
	for c.pos >= len(c.entries) {
		if c.block >= len(c.table.index) {
			return entry{}, false, nil
		}
		entries, err := c.table.blockEntries(c.block)
		if err != nil {
			return entry{}, false, status.ErrStructuralCorruption.Wrapf("table %s: %v", c.table.name, err)
		}
		c.block++
		c.entries, c.pos = entries, 0
	}
	e := c.entries[c.pos]
	c.pos++
	if c.started && e.name <= c.last {
		return e, true, status.ErrMalformed.Wrapf("table %s: record %q is not sorted after %q", c.table.name, e.name, c.last)
	}
	c.started = true
	c.last = e.name
	return e, true, nil
}

type head struct {
	entry  entry
	cursor *cursor
}

// heads orders the current record of every table by name, the newest table first on ties
type heads []head

func (h heads) Len() int { return len(h) }
func (h heads) Less(i, j int) bool {
	if h[i].entry.name != h[j].entry.name {
		return h[i].entry.name < h[j].entry.name
	}
	return h[i].cursor.rank > h[j].cursor.rank
}
func (h heads) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *heads) Push(x interface{}) { *h = append(*h, x.(head)) }
func (h *heads) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type mergeIterator struct {
	ctx     context.Context
	options refs.EnumerateOptions
	heads   heads
	current model.Record
	err     error
	done    bool
}

func newMergeIterator(ctx context.Context, tables []*table, options refs.EnumerateOptions) *mergeIterator {
	it := &mergeIterator{ctx: ctx, options: options}
	for rank, t := range tables {
		it.advance(&cursor{table: t, rank: rank})
		if it.err != nil {
			break
		}
	}
	return it
}

// advance pushes the next usable record of a cursor
func (it *mergeIterator) advance(c *cursor) {
	for {
		e, ok, err := c.next()
		switch {
		case err == nil && ok:
			heap.Push(&it.heads, head{entry: e, cursor: c})
			return
		case err == nil:
			return
		case it.options.OnMalformed != nil && ok:
			it.options.OnMalformed(e.name, err)
		case it.options.OnMalformed != nil:
			it.options.OnMalformed(c.table.name, err)
			return
		default:
			it.fail(err)
			return
		}
	}
}

func (it *mergeIterator) Next() bool {
	for !it.done {
		if err := it.ctx.Err(); err != nil {
			it.fail(err)
			return false
		}
		if it.err != nil {
			it.done = true
			return false
		}
		if len(it.heads) == 0 {
			it.done = true
			return false
		}

		winner := heap.Pop(&it.heads).(head)
		it.advance(winner.cursor)
		for len(it.heads) > 0 && it.heads[0].entry.name == winner.entry.name && it.err == nil {
			shadowed := heap.Pop(&it.heads).(head)
			it.advance(shadowed.cursor)
		}
		if it.err != nil {
			it.done = true
			return false
		}
		if winner.entry.deleted() {
			continue
		}
		it.current = winner.entry.record()
		return true
	}
	return false
}

func (it *mergeIterator) fail(err error) {
	it.err = err
	it.done = true
	it.current = model.Record{}
}

func (it *mergeIterator) Record() model.Record {
	return it.current
}

func (it *mergeIterator) Err() error {
	return it.err
}

func (it *mergeIterator) Close() error {
	it.done = true
	it.heads = nil
	return nil
}
