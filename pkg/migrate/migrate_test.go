package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/oneconcern/refmon/internal/rand"
	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/lock"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/files"
	"github.com/oneconcern/refmon/pkg/refs/reftable"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/repository"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingFs counts every call reaching the file system
type countingFs struct {
	afero.Fs
	calls atomic.Int64
}

func (c *countingFs) Create(name string) (afero.File, error) {
	c.calls.Inc()
	return c.Fs.Create(name)
}

func (c *countingFs) Mkdir(name string, perm os.FileMode) error {
	c.calls.Inc()
	return c.Fs.Mkdir(name, perm)
}

func (c *countingFs) MkdirAll(path string, perm os.FileMode) error {
	c.calls.Inc()
	return c.Fs.MkdirAll(path, perm)
}

func (c *countingFs) Open(name string) (afero.File, error) {
	c.calls.Inc()
	return c.Fs.Open(name)
}

func (c *countingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	c.calls.Inc()
	return c.Fs.OpenFile(name, flag, perm)
}

func (c *countingFs) Remove(name string) error {
	c.calls.Inc()
	return c.Fs.Remove(name)
}

func (c *countingFs) RemoveAll(path string) error {
	c.calls.Inc()
	return c.Fs.RemoveAll(path)
}

func (c *countingFs) Rename(oldname, newname string) error {
	c.calls.Inc()
	return c.Fs.Rename(oldname, newname)
}

func (c *countingFs) Stat(name string) (os.FileInfo, error) {
	c.calls.Inc()
	return c.Fs.Stat(name)
}

// corruptingFs rewrites a file of the store being built, right after it is renamed into place
type corruptingFs struct {
	afero.Fs
	base    string
	corrupt func([]byte) []byte
}

func (c *corruptingFs) Rename(oldname, newname string) error {
	if err := c.Fs.Rename(oldname, newname); err != nil {
		return err
	}
	if !strings.Contains(newname, TempPrefix) || filepath.Base(newname) != c.base {
		return nil
	}
	data, err := afero.ReadFile(c.Fs, newname)
	if err != nil {
		return err
	}
	return afero.WriteFile(c.Fs, newname, c.corrupt(data), 0644)
}

func setupRepo(t *testing.T, format model.Format, records []model.Record, opts ...repository.Option) *repository.Repository {
	t.Helper()
	ctx := context.Background()
	repo, err := repository.Init(ctx, filepath.Join(t.TempDir(), "repo"), format, opts...)
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, func(tx refs.Transaction) error {
		for _, rec := range records {
			if err := tx.Update(rec.Name, rec.Target); err != nil {
				return err
			}
		}
		return nil
	}))
	return repo
}

func mapping(t *testing.T, repo *repository.Repository) map[string]model.Target {
	t.Helper()
	ctx := context.Background()
	m := make(map[string]model.Target)
	require.NoError(t, repo.Read(ctx, func(store refs.Store) error {
		records, err := refs.Collect(ctx, store)
		for _, rec := range records {
			m[rec.Name] = rec.Target
		}
		return err
	}))
	return m
}

func rootEntries(t *testing.T, repo *repository.Repository) []string {
	t.Helper()
	infos, err := afero.ReadDir(repo.Fs(), "/")
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}

func TestMigrateRoundTrip(t *testing.T) {
	ctx := context.Background()
	records := rand.Records(150)
	repo := setupRepo(t, model.FormatFiles, records)
	want := mapping(t, repo)
	require.Len(t, want, len(records))

	res, err := Migrate(ctx, repo, model.FormatReftable)
	require.NoError(t, err)
	assert.Equal(t, model.FormatFiles, res.Source)
	assert.Equal(t, model.FormatReftable, res.Target)
	assert.Equal(t, len(records), res.Refs)
	assert.False(t, res.DryRun)
	assert.True(t, strings.HasPrefix(res.Root, "reftable."))

	assert.Equal(t, model.FormatReftable, repo.Format())
	assert.Empty(t, cmp.Diff(want, mapping(t, repo)))

	reopened, err := repository.Open(repo.Dir())
	require.NoError(t, err)
	assert.Equal(t, model.FormatReftable, reopened.Format())
	assert.Equal(t, res.Root, reopened.Descriptor().Root)
	assert.NotContains(t, rootEntries(t, repo), "files")

	back, err := Migrate(ctx, reopened, model.FormatFiles)
	require.NoError(t, err)
	assert.Equal(t, len(records), back.Refs)
	assert.Equal(t, model.FormatFiles, reopened.Format())
	assert.Empty(t, cmp.Diff(want, mapping(t, reopened)))

	for _, name := range rootEntries(t, reopened) {
		assert.False(t, strings.HasPrefix(name, TempPrefix), "leftover %s", name)
		assert.False(t, strings.HasPrefix(name, "reftable"), "leftover %s", name)
	}
}

func TestMigrateEmpty(t *testing.T) {
	repo := setupRepo(t, model.FormatReftable, nil)
	res, err := Migrate(context.Background(), repo, model.FormatFiles)
	require.NoError(t, err)
	assert.Zero(t, res.Refs)
	assert.Empty(t, mapping(t, repo))
}

func TestMigrateDryRun(t *testing.T) {
	records := rand.Records(30)
	repo := setupRepo(t, model.FormatFiles, records)
	before := rootEntries(t, repo)
	want := mapping(t, repo)

	res, err := Migrate(context.Background(), repo, model.FormatReftable, WithDryRun(true))
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, len(records), res.Refs)
	assert.Empty(t, res.Root)

	assert.Equal(t, model.FormatFiles, repo.Format())
	assert.Equal(t, before, rootEntries(t, repo))
	assert.Empty(t, cmp.Diff(want, mapping(t, repo)))
}

func TestMigrateSameFormat(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")
	counting := &countingFs{Fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}
	repo, err := repository.Init(ctx, dir, model.FormatFiles, repository.WithFs(counting))
	require.NoError(t, err)

	// the lock is held elsewhere: a rejected migration never waits for it
	h, err := repo.Lock().Acquire(ctx, lock.Exclusive)
	require.NoError(t, err)
	defer func() {
		_ = h.Release()
	}()

	counting.calls.Store(0)
	for _, dryRun := range []bool{false, true} {
		_, err = Migrate(ctx, repo, model.FormatFiles, WithDryRun(dryRun))
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrInvalidArgument))
		assert.Contains(t, err.Error(), "repository already uses 'files' format")
	}

	_, err = Migrate(ctx, repo, model.FormatUnknown)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidArgument))
	assert.Contains(t, err.Error(), "unknown ref storage format")
	assert.Zero(t, counting.calls.Load())
}

func TestMigrateLockBusy(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t, model.FormatFiles, rand.Records(5), repository.WithLockTimeout(20*time.Millisecond))
	before := rootEntries(t, repo)

	h, err := repo.Lock().Acquire(ctx, lock.Exclusive)
	require.NoError(t, err)
	_, err = Migrate(ctx, repo, model.FormatReftable)
	require.NoError(t, h.Release())

	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrLockBusy))
	assert.Equal(t, model.FormatFiles, repo.Format())
	assert.Equal(t, before, rootEntries(t, repo))
}

func TestMigrateMalformedSource(t *testing.T) {
	repo := setupRepo(t, model.FormatFiles, rand.Records(10))
	before := rootEntries(t, repo)
	require.NoError(t, afero.WriteFile(repo.Fs(), "files/refs/heads/broken", []byte("not an object id\n"), 0644))

	_, err := Migrate(context.Background(), repo, model.FormatReftable)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrMalformed))
	assert.Equal(t, model.FormatFiles, repo.Format())
	assert.Equal(t, before, rootEntries(t, repo))
}

func TestMigrateCancelled(t *testing.T) {
	repo := setupRepo(t, model.FormatReftable, rand.Records(10))
	before := rootEntries(t, repo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Migrate(ctx, repo, model.FormatFiles)
	require.Error(t, err)
	assert.Equal(t, model.FormatReftable, repo.Format())
	assert.Equal(t, before, rootEntries(t, repo))
}

func TestMigrateVerificationMismatch(t *testing.T) {
	oidA := model.MustParseOID("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	oidB := model.MustParseOID("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	records := []model.Record{
		model.NewRecord("HEAD", model.Symbolic("refs/heads/main")),
		model.NewRecord("refs/heads/main", model.Direct(oidA)),
		model.NewRecord("refs/heads/topic", model.Direct(oidB)),
		model.NewRecord("refs/tags/v1", model.Direct(oidB)),
	}
	dropLastLine := func(data []byte) []byte {
		content := strings.TrimSuffix(string(data), "\n")
		return []byte(content[:strings.LastIndexByte(content, '\n')+1])
	}
	empty := func([]byte) []byte { return nil }

	for _, tc := range []struct {
		source, target model.Format
		base           string
		corrupt        func([]byte) []byte
	}{
		{source: model.FormatReftable, target: model.FormatFiles, base: files.PackedRefsFile, corrupt: dropLastLine},
		{source: model.FormatFiles, target: model.FormatReftable, base: reftable.ManifestFile, corrupt: empty},
	} {
		for _, dryRun := range []bool{true, false} {
			tc, dryRun := tc, dryRun
			t.Run(fmt.Sprintf("%s to %s, dry run %t", tc.source, tc.target, dryRun), func(t *testing.T) {
				ctx := context.Background()
				dir := filepath.Join(t.TempDir(), "repo")
				corrupting := &corruptingFs{Fs: afero.NewBasePathFs(afero.NewOsFs(), dir), base: tc.base, corrupt: tc.corrupt}
				repo, err := repository.Init(ctx, dir, tc.source, repository.WithFs(corrupting))
				require.NoError(t, err)
				require.NoError(t, repo.Update(ctx, func(tx refs.Transaction) error {
					for _, rec := range records {
						if err := tx.Update(rec.Name, rec.Target); err != nil {
							return err
						}
					}
					return nil
				}))
				want := mapping(t, repo)
				before := rootEntries(t, repo)
				descriptor := repo.Descriptor()

				_, err = Migrate(ctx, repo, tc.target, WithDryRun(dryRun))
				require.Error(t, err)
				assert.True(t, errors.Is(err, status.ErrVerificationMismatch), "unexpected error: %v", err)

				assert.Equal(t, tc.source, repo.Format())
				assert.Equal(t, before, rootEntries(t, repo))
				for _, name := range rootEntries(t, repo) {
					assert.False(t, strings.HasPrefix(name, TempPrefix), "leftover %s", name)
				}
				reopened, err := repository.Open(dir)
				require.NoError(t, err)
				assert.Equal(t, descriptor, reopened.Descriptor())
				assert.Empty(t, cmp.Diff(want, mapping(t, repo)))
			})
		}
	}
}

func TestMigrateNameConflicts(t *testing.T) {
	ctx := context.Background()
	oidA := model.MustParseOID("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	oidB := model.MustParseOID("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	t.Run("reftable rejects the conflicting set", func(t *testing.T) {
		repo := setupRepo(t, model.FormatReftable, []model.Record{
			model.NewRecord("refs/heads/main", model.Direct(oidA)),
			model.NewRecord("refs/heads/a", model.Symbolic("refs/heads/main")),
		})
		err := repo.Update(ctx, func(tx refs.Transaction) error {
			return tx.Update("refs/heads/a/b", model.Direct(oidB))
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrInvalidArgument))

		// the name is free once deleted: the resulting set migrates
		require.NoError(t, repo.Update(ctx, func(tx refs.Transaction) error {
			return tx.Delete("refs/heads/a")
		}))
		require.NoError(t, repo.Update(ctx, func(tx refs.Transaction) error {
			return tx.Update("refs/heads/a/b", model.Direct(oidB))
		}))
		want := mapping(t, repo)
		_, err = Migrate(ctx, repo, model.FormatFiles)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want, mapping(t, repo)))
	})

	t.Run("conflicting files source", func(t *testing.T) {
		repo := setupRepo(t, model.FormatFiles, nil)
		require.NoError(t, afero.WriteFile(repo.Fs(), "files/"+files.PackedRefsFile,
			[]byte("# pack-refs with: peeled fully-peeled sorted \n"+oidA.String()+" refs/heads/a\n"), 0644))
		require.NoError(t, repo.Fs().MkdirAll("files/refs/heads/a", 0755))
		require.NoError(t, afero.WriteFile(repo.Fs(), "files/refs/heads/a/b", []byte(oidB.String()+"\n"), 0644))
		require.Len(t, mapping(t, repo), 2)
		before := rootEntries(t, repo)

		_, err := Migrate(ctx, repo, model.FormatReftable)
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrInvalidArgument))
		assert.Contains(t, err.Error(), "refs/heads/a/b")
		assert.Equal(t, model.FormatFiles, repo.Format())
		assert.Equal(t, before, rootEntries(t, repo))
	})
}
