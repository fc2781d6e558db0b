package refs

import (
	"testing"

	"github.com/oneconcern/refmon/pkg/errors"
	"github.com/oneconcern/refmon/pkg/model"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	names := NewNames("refs/heads/main", "refs/heads/feature/one", "refs/heads/feature/two")

	for _, name := range []string{"refs/heads/main/x", "refs/heads/feature", "refs/heads", "refs"} {
		err := names.Add(name)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, status.ErrInvalidArgument), name)
	}
	require.NoError(t, names.Add("refs/heads/main"), "a member can be added again")
	require.NoError(t, names.Add("refs/heads/mainline"))
	require.NoError(t, names.Add("refs/heads/feature-x"))
	require.NoError(t, names.Add("HEAD"))

	names.Remove("refs/heads/feature/one")
	assert.Error(t, names.Available("refs/heads/feature"), "feature/two is still there")
	names.Remove("refs/heads/feature/two")
	require.NoError(t, names.Add("refs/heads/feature"))
	assert.True(t, names.Contains("refs/heads/feature"))
	assert.False(t, names.Contains("refs/heads/feature/one"))
}

func TestCheckAvailable(t *testing.T) {
	existing := []string{"refs/heads/a", "refs/tags/v1/rc"}
	target := model.Direct(testOID)

	err := CheckAvailable(existing, map[string]*model.Target{"refs/heads/a/b": &target})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidArgument))
	assert.Contains(t, err.Error(), "'refs/heads/a' exists; cannot create 'refs/heads/a/b'")

	err = CheckAvailable(existing, map[string]*model.Target{"refs/tags/v1": &target})
	assert.True(t, errors.Is(err, status.ErrInvalidArgument))

	// deleted refs free their name
	assert.NoError(t, CheckAvailable(existing, map[string]*model.Target{
		"refs/heads/a":   nil,
		"refs/heads/a/b": &target,
	}))
	assert.NoError(t, CheckAvailable(existing, map[string]*model.Target{"refs/heads/a": &target}))
	assert.NoError(t, CheckAvailable(existing, map[string]*model.Target{"refs/tags/v1/rc": nil}))
}
