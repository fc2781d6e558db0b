package reftable

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/oneconcern/refmon/pkg/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectFindings(t testing.TB, s *Store) map[model.CheckKind][]model.Finding {
	findings := make(map[model.CheckKind][]model.Finding)
	require.NoError(t, s.CheckStructure(context.Background(), func(f model.Finding) {
		findings[f.Kind] = append(findings[f.Kind], f)
	}))
	return findings
}

func TestCheckStructureClean(t *testing.T) {
	s, _ := newTestStore(t, WithBlockSize(64))
	commit(t, s, []model.Record{
		model.NewRecord("HEAD", model.Symbolic("refs/heads/main")),
		model.NewRecord("refs/heads/main", model.Direct(oidA)),
		model.NewRecord("refs/heads/next", model.Direct(oidB)),
	})
	commit(t, s, nil, "refs/heads/next")
	assert.Empty(t, collectFindings(t, s))
}

func TestCheckStructureDuplicateInTable(t *testing.T) {
	s, _ := newTestStore(t)
	buildTable(t, s, 1, 1,
		direct("refs/heads/main", 1, oidA),
		direct("refs/heads/main", 1, oidB),
	)

	findings := collectFindings(t, s)
	require.Len(t, findings[model.CheckDuplicateRefName], 1)
	assert.Equal(t, "refs/heads/main", findings[model.CheckDuplicateRefName][0].Ref)
	assert.Len(t, findings, 1)
}

func TestCheckStructureRecords(t *testing.T) {
	s, _ := newTestStore(t)
	badTarget := model.Symbolic("refs/heads/bad..target")
	buildTable(t, s, 1, 2,
		direct("refs/heads/b", 1, oidA),
		direct("refs/heads/a", 2, oidB),
		direct("refs/heads/c", 5, oidC),
		direct("refs/heads/d.lock", 1, oidC),
		newEntry("refs/heads/e", 2, &badTarget),
	)

	findings := collectFindings(t, s)
	require.Len(t, findings[model.CheckTableUnsorted], 1)
	assert.Equal(t, "refs/heads/a", findings[model.CheckTableUnsorted][0].Ref)
	require.Len(t, findings[model.CheckUpdateIndexNotMonotonic], 1)
	assert.Equal(t, "refs/heads/c", findings[model.CheckUpdateIndexNotMonotonic][0].Ref)
	require.Len(t, findings[model.CheckBadRefName], 1)
	assert.Equal(t, "refs/heads/d.lock", findings[model.CheckBadRefName][0].Ref)
	require.Len(t, findings[model.CheckBadRefContent], 1)
	assert.Equal(t, "refs/heads/e", findings[model.CheckBadRefContent][0].Ref)
}

func TestCheckStructureStack(t *testing.T) {
	s, fs := newTestStore(t)
	commit(t, s, []model.Record{model.NewRecord("refs/heads/main", model.Direct(oidA))})
	buildTable(t, s, 1, 1, direct("refs/heads/other", 1, oidB))
	corrupt := buildTable(t, s, 2, 2, direct("refs/heads/third", 2, oidC))
	missing := buildTable(t, s, 3, 3, direct("refs/heads/fourth", 3, oidC))

	path := filepath.Join(testRoot, corrupt)
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	data[headerSize+blockHeaderSize+4] ^= 0x01
	require.NoError(t, afero.WriteFile(fs, path, data, 0644))
	require.NoError(t, fs.Remove(filepath.Join(testRoot, missing)))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testRoot, "leftover.ref"), []byte("x"), 0644))

	findings := collectFindings(t, s)
	assert.Len(t, findings[model.CheckUpdateIndexNotMonotonic], 1)
	assert.Len(t, findings[model.CheckTableChecksum], 1)
	require.Len(t, findings[model.CheckMissingTable], 1)
	assert.Contains(t, findings[model.CheckMissingTable][0].Detail, missing)
	require.Len(t, findings[model.CheckStrayFile], 1)
	assert.Contains(t, findings[model.CheckStrayFile][0].Detail, "leftover.ref")
}

func TestCheckStructureManifest(t *testing.T) {
	s, fs := newTestStore(t)
	name := buildTable(t, s, 1, 1, direct("refs/heads/main", 1, oidA))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testRoot, ManifestFile), []byte(name+"\nnot-a-table\n"+name+"\n"), 0644))

	findings := collectFindings(t, s)
	assert.Len(t, findings[model.CheckBadTableName], 1)
	assert.Len(t, findings[model.CheckBadManifest], 1)
	assert.Empty(t, findings[model.CheckStrayFile])

	require.NoError(t, fs.Remove(filepath.Join(testRoot, ManifestFile)))
	findings = collectFindings(t, s)
	assert.Len(t, findings[model.CheckBadManifest], 1)
	assert.Len(t, findings[model.CheckStrayFile], 1, "the unlisted table is stray")
}

func TestCheckStructureTableNameMismatch(t *testing.T) {
	s, fs := newTestStore(t)
	name := buildTable(t, s, 1, 1, direct("refs/heads/main", 1, oidA))
	renamed := newTableName(5, 5)
	require.NoError(t, fs.Rename(filepath.Join(testRoot, name), filepath.Join(testRoot, renamed)))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testRoot, ManifestFile), []byte(renamed+"\n"), 0644))

	findings := collectFindings(t, s)
	assert.Len(t, findings[model.CheckBadTableName], 1)
}
