package reftable

import (
	"fmt"
	"testing"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableLookup(t *testing.T) {
	w := newTableWriter(64, 3, 7)
	var expected []entry
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("refs/heads/branch-%03d", i)
		var target *model.Target
		switch i % 3 {
		case 0:
			direct := model.Direct(oidFor(i))
			target = &direct
		case 1:
			symbolic := model.Symbolic("refs/heads/main")
			target = &symbolic
		}
		e := newEntry(name, 3+uint64(i%5), target)
		require.NoError(t, w.add(e))
		expected = append(expected, e)
	}
	data := w.finish()

	tbl, err := openTable("test.ref", data)
	require.NoError(t, err)
	assert.Greater(t, len(tbl.index), 10, "small blocks should split the table")
	assert.Equal(t, uint64(100), tbl.footer.recordCount)
	assert.Equal(t, uint64(3), tbl.header.minIndex)
	assert.Equal(t, uint64(7), tbl.header.maxIndex)

	for _, e := range expected {
		found, ok, err := tbl.lookup(e.name)
		require.NoError(t, err)
		require.True(t, ok, e.name)
		assert.Equal(t, e, found)
	}
	for _, missing := range []string{"HEAD", "refs/heads/branch-0005", "refs/heads/branch-100", "refs/tags/zzz"} {
		_, ok, err := tbl.lookup(missing)
		require.NoError(t, err)
		assert.False(t, ok, missing)
	}
}

func TestTableWriterRejects(t *testing.T) {
	direct := model.Direct(oidFor(1))
	w := newTableWriter(0, 1, 1)
	require.NoError(t, w.add(newEntry("refs/heads/b", 1, &direct)))

	err := w.add(newEntry("refs/heads/a", 1, &direct))
	assert.True(t, errors.Is(err, status.ErrMalformed))
	err = w.add(newEntry("refs/heads/b", 1, &direct))
	assert.True(t, errors.Is(err, status.ErrMalformed))
	err = w.add(newEntry("refs/heads/c", 2, &direct))
	assert.True(t, errors.Is(err, status.ErrMalformed))
}

func TestEmptyTable(t *testing.T) {
	tbl, err := openTable("empty.ref", newTableWriter(0, 4, 9).finish())
	require.NoError(t, err)
	assert.Empty(t, tbl.index)
	_, ok, err := tbl.lookup("refs/heads/main")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenTableCorruption(t *testing.T) {
	direct := model.Direct(oidFor(1))
	w := newTableWriter(0, 1, 1)
	require.NoError(t, w.add(newEntry("refs/heads/main", 1, &direct)))
	data := w.finish()

	flipped := append([]byte(nil), data...)
	flipped[headerSize+blockHeaderSize+2] ^= 0xff
	_, err := openTable("flipped.ref", flipped)
	assert.True(t, errors.Is(err, status.ErrStructuralCorruption))

	_, err = openTable("truncated.ref", data[:len(data)-10])
	assert.True(t, errors.Is(err, status.ErrStructuralCorruption))

	badMagic := append([]byte("XXXX"), data[4:]...)
	_, err = openTable("magic.ref", badMagic)
	assert.True(t, errors.Is(err, status.ErrStructuralCorruption))
}

func TestTableNames(t *testing.T) {
	name := newTableName(1, 0x2a)
	assert.Regexp(t, `^000000000001-00000000002a-[0-9A-Za-z]+\.ref$`, name)
	minIndex, maxIndex, err := parseTableName(name)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), minIndex)
	assert.Equal(t, uint64(0x2a), maxIndex)
	assert.NotEqual(t, name, newTableName(1, 0x2a))

	_, _, err = parseTableName("1-2-x.ref")
	assert.True(t, errors.Is(err, status.ErrMalformed))
}

func TestParseManifest(t *testing.T) {
	a, b := newTableName(1, 1), newTableName(2, 2)
	names, problems := parseManifest([]byte(a + "\n" + b + "\n"))
	assert.Equal(t, []string{a, b}, names)
	assert.Empty(t, problems)

	names, problems = parseManifest([]byte(a + "\n\n" + a + "\nbogus\n" + b))
	assert.Equal(t, []string{a, b}, names)
	kinds := make([]model.CheckKind, 0, len(problems))
	for _, p := range problems {
		kinds = append(kinds, p.kind)
	}
	assert.ElementsMatch(t, []model.CheckKind{
		model.CheckBadManifest, // unterminated
		model.CheckBadManifest, // empty line
		model.CheckBadManifest, // repeated table
		model.CheckBadTableName,
	}, kinds)
}
