package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oneconcern/refmon/internal/rand"
	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/lock"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v2"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func initRepo(t *testing.T, format model.Format, opts ...Option) *Repository {
	t.Helper()
	r, err := Init(context.Background(), filepath.Join(t.TempDir(), "repo"), format, opts...)
	require.NoError(t, err)
	return r
}

func TestInitAndOpen(t *testing.T) {
	for _, format := range model.Formats() {
		format := format
		t.Run(format.String(), func(t *testing.T) {
			r := initRepo(t, format)
			assert.Equal(t, format, r.Format())
			assert.Equal(t, Descriptor{Version: 1, Format: format.String(), Root: format.String()}, r.Descriptor())

			data, err := storage.ReadFile(r.Fs(), DescriptorFile)
			require.NoError(t, err)
			var d Descriptor
			require.NoError(t, yaml.Unmarshal(data, &d))
			assert.Equal(t, r.Descriptor(), d)

			reopened, err := Open(r.Dir())
			require.NoError(t, err)
			assert.Equal(t, format, reopened.Format())

			_, err = Init(context.Background(), r.Dir(), format)
			require.Error(t, err)
			assert.True(t, errors.Is(err, status.ErrInvalidArgument))
		})
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))

	_, err = Init(context.Background(), t.TempDir(), model.FormatUnknown)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidArgument))

	r := initRepo(t, model.FormatFiles)
	for _, content := range []string{
		"version: 1\nformat: packed\nroot: files\n",
		"version: 2\nformat: files\nroot: files\n",
		"version: 1\nformat: files\nroot: ../elsewhere\n",
		"version: [\n",
	} {
		require.NoError(t, storage.WriteFile(r.Fs(), DescriptorFile, []byte(content)))
		_, err = Open(r.Dir())
		require.Errorf(t, err, "expected %q to be rejected", content)
		assert.True(t, errors.Is(err, status.ErrStructuralCorruption))
	}
}

func TestUpdateAndRead(t *testing.T) {
	ctx := context.Background()
	for _, format := range model.Formats() {
		format := format
		t.Run(format.String(), func(t *testing.T) {
			r := initRepo(t, format)
			records := rand.Records(20)

			require.NoError(t, r.Update(ctx, func(tx refs.Transaction) error {
				for _, rec := range records {
					if err := tx.Update(rec.Name, rec.Target); err != nil {
						return err
					}
				}
				return nil
			}))

			var got []model.Record
			require.NoError(t, r.Read(ctx, func(store refs.Store) error {
				var err error
				got, err = refs.Collect(ctx, store)
				return err
			}))
			require.Len(t, got, len(records))
			for i := range records {
				assert.Equal(t, records[i].Name, got[i].Name)
				assert.Equal(t, records[i].Target, got[i].Target)
			}

			require.NoError(t, r.Optimize(ctx))
			require.NoError(t, r.Read(ctx, func(store refs.Store) error {
				after, err := refs.Collect(ctx, store)
				if err != nil {
					return err
				}
				assert.Len(t, after, len(records))
				return nil
			}))
		})
	}
}

func TestUpdateAborts(t *testing.T) {
	ctx := context.Background()
	r := initRepo(t, model.FormatReftable)
	boom := errors.New("boom")

	err := r.Update(ctx, func(tx refs.Transaction) error {
		if err := tx.Update("refs/heads/main", model.Direct(rand.OID())); err != nil {
			return err
		}
		return boom
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	require.NoError(t, r.Read(ctx, func(store refs.Store) error {
		_, err := store.ReadOne(ctx, "refs/heads/main")
		assert.True(t, errors.Is(err, status.ErrNotFound))
		return nil
	}))
}

func TestLockBusy(t *testing.T) {
	ctx := context.Background()
	r := initRepo(t, model.FormatFiles, WithLockTimeout(20*time.Millisecond))

	h, err := r.Lock().Acquire(ctx, lock.Exclusive)
	require.NoError(t, err)
	defer func() {
		_ = h.Release()
	}()

	err = r.Update(ctx, func(tx refs.Transaction) error {
		return tx.Delete("refs/heads/main")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrLockBusy))

	// files reads are not snapshots
	err = r.Read(ctx, func(refs.Store) error { return nil })
	assert.True(t, errors.Is(err, status.ErrLockBusy))
}

func TestSwitchFormat(t *testing.T) {
	ctx := context.Background()
	r := initRepo(t, model.FormatFiles)

	store, err := r.OpenStoreAt(model.FormatReftable, "staged")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = r.OpenStoreAt(model.FormatReftable, "a/b")
	assert.True(t, errors.Is(err, status.ErrMalformed))

	require.NoError(t, r.SwitchFormat(model.FormatReftable, "staged"))
	assert.Equal(t, model.FormatReftable, r.Format())

	other, err := Open(r.Dir())
	require.NoError(t, err)
	assert.Equal(t, "staged", other.Descriptor().Root)

	require.NoError(t, other.Read(ctx, func(store refs.Store) error {
		assert.Equal(t, model.FormatReftable, store.Format())
		return nil
	}))
	assert.Error(t, r.SwitchFormat(model.FormatUnknown, "staged"))
}
