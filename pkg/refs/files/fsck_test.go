package files

import (
	"context"
	"testing"

	"github.com/oneconcern/refmon/pkg/model"
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
	s, _ := newTestStore(t)
	commit(t, s, []model.Record{
		model.NewRecord("HEAD", model.Symbolic("refs/heads/main")),
		model.NewRecord("refs/heads/main", model.Direct(oidA)),
	})
	commit(t, s, []model.Record{model.NewRecord("refs/tags/v1", model.Direct(oidB))})
	require.NoError(t, s.Optimize(context.Background()))

	assert.Empty(t, collectFindings(t, s))
	require.NoError(t, s.CheckStructure(context.Background(), nil))
}

func TestCheckStructureDuplicatePacked(t *testing.T) {
	s, fs := newTestStore(t)
	writeRaw(t, fs, PackedRefsFile, packedHeader+
		oidA.String()+" refs/heads/main\n"+
		oidB.String()+" refs/heads/main\n")

	findings := collectFindings(t, s)
	require.Len(t, findings[model.CheckDuplicateRefName], 1)
	f := findings[model.CheckDuplicateRefName][0]
	assert.Equal(t, "refs/heads/main", f.Ref)
	assert.Contains(t, f.Detail, "line 3")
}

func TestCheckStructurePacked(t *testing.T) {
	s, fs := newTestStore(t)
	writeRaw(t, fs, PackedRefsFile, "# something else\n"+
		oidB.String()+" refs/heads/zeta\n"+
		oidA.String()+" refs/heads/alpha\n"+
		"^"+oidC.String()+"\n"+
		"^"+oidC.String()+"\n"+
		"garbage\n"+
		"0123 refs/heads/short\n"+
		oidA.String()+" refs/heads/bad..name\n"+
		"# late comment\n"+
		oidC.String()+" refs/tags/v1")

	findings := collectFindings(t, s)
	assert.Len(t, findings[model.CheckBadPackedRefsHeader], 2)
	require.Len(t, findings[model.CheckPackedRefsUnsorted], 1)
	assert.Equal(t, "refs/heads/alpha", findings[model.CheckPackedRefsUnsorted][0].Ref)
	assert.Len(t, findings[model.CheckBadRefContent], 3, "second peeled line, garbage, short object id")
	require.Len(t, findings[model.CheckBadRefName], 1)
	assert.Equal(t, "refs/heads/bad..name", findings[model.CheckBadRefName][0].Ref)
	assert.Len(t, findings[model.CheckRefMissingNewline], 1)
	assert.Empty(t, findings[model.CheckDuplicateRefName])
}

func TestCheckStructureLoose(t *testing.T) {
	s, fs := newTestStore(t)
	writeRaw(t, fs, PackedRefsFile, packedHeader+oidA.String()+" refs/heads/main\n")
	writeRaw(t, fs, "refs/heads/main", oidB.String()+"\n")
	writeRaw(t, fs, "refs/heads/nonl", oidB.String())
	writeRaw(t, fs, "refs/heads/trailing", oidB.String()+" extra\n")
	writeRaw(t, fs, "refs/heads/broken", "nope\n")
	writeRaw(t, fs, "refs/heads/leftover.lock", oidB.String()+"\n")
	writeRaw(t, fs, "refs/heads/.hidden", oidB.String()+"\n")
	writeRaw(t, fs, "notaref", "x")

	findings := collectFindings(t, s)

	require.Len(t, findings[model.CheckLooseShadowsPacked], 1)
	assert.Equal(t, "refs/heads/main", findings[model.CheckLooseShadowsPacked][0].Ref)
	require.Len(t, findings[model.CheckRefMissingNewline], 1)
	assert.Equal(t, "refs/heads/nonl", findings[model.CheckRefMissingNewline][0].Ref)
	require.Len(t, findings[model.CheckTrailingRefContent], 1)
	assert.Equal(t, "refs/heads/trailing", findings[model.CheckTrailingRefContent][0].Ref)
	require.Len(t, findings[model.CheckBadRefContent], 1)
	assert.Equal(t, "refs/heads/broken", findings[model.CheckBadRefContent][0].Ref)
	require.Len(t, findings[model.CheckBadRefName], 1)
	assert.Equal(t, "refs/heads/.hidden", findings[model.CheckBadRefName][0].Ref)
	assert.Len(t, findings[model.CheckStrayFile], 2)

	for _, f := range findings[model.CheckStrayFile] {
		assert.Empty(t, f.Ref)
		assert.Equal(t, model.SeverityDefault, f.Severity)
	}
}
