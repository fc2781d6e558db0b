package objects

import (
	"path/filepath"
	"testing"

	"github.com/oneconcern/refmon/internal/rand"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooseDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	present, absent := rand.OID(), rand.OID()
	d := NewLooseDir(fs, "/repo/objects")

	hex := present.String()
	assert.Equal(t, filepath.Join("/repo/objects", hex[:2], hex[2:]), d.Path(present))
	require.NoError(t, fs.MkdirAll(filepath.Dir(d.Path(present)), 0755))
	require.NoError(t, afero.WriteFile(fs, d.Path(present), []byte("blob"), 0644))

	ok, err := d.Exists(present)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Exists(absent)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetAndAny(t *testing.T) {
	a, b, c := rand.OID(), rand.OID(), rand.OID()
	db := Any{NewSet(a), NewSet(b)}

	for oid, expected := range map[model.OID]bool{a: true, b: true, c: false} {
		ok, err := db.Exists(oid)
		require.NoError(t, err)
		assert.Equal(t, expected, ok)
	}

	ok, err := Any{}.Exists(a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerIndex(t *testing.T) {
	a, b := rand.OID(), rand.OID()

	for _, opts := range [][]BadgerOption{
		{InMemory()},
		nil,
	} {
		index, err := OpenBadgerIndex(filepath.Join(t.TempDir(), "index"), opts...)
		require.NoError(t, err)

		require.NoError(t, index.Add(a))
		ok, err := index.Exists(a)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = index.Exists(b)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = Any{NewSet(b), index}.Exists(a)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, index.Close())
	}
}

func TestBadgerIndexPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	oid := rand.OID()

	index, err := OpenBadgerIndex(dir)
	require.NoError(t, err)
	require.NoError(t, index.Add(oid))
	require.NoError(t, index.Close())

	index, err = OpenBadgerIndex(dir, ReadOnly())
	require.NoError(t, err)
	defer func() { require.NoError(t, index.Close()) }()

	ok, err := index.Exists(oid)
	require.NoError(t, err)
	assert.True(t, ok)
}
