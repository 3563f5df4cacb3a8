package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

func TestRegisterEnforcesPerTenantCap(t *testing.T) {
	r := New(Config{MaxTotal: 10, MaxPerTenant: 2})

	_, err := r.Register("t1", "u1")
	require.NoError(t, err)
	_, err = r.Register("t1", "u2")
	require.NoError(t, err)

	_, err = r.Register("t1", "u3")
	require.Error(t, err)
	wsErr, ok := wsproto.As(err)
	require.True(t, ok)
	assert.Equal(t, wsproto.CodeConnectionLimit, wsErr.Code)

	assert.Equal(t, 2, r.TotalCount())
}

func TestRegisterEnforcesTotalCap(t *testing.T) {
	r := New(Config{MaxTotal: 1, MaxPerTenant: 10})

	_, err := r.Register("t1", "u1")
	require.NoError(t, err)

	_, err = r.Register("t2", "u2")
	require.Error(t, err)
}

func TestUnregisterDropsEmptyTenantBucket(t *testing.T) {
	r := New(Config{MaxTotal: 10, MaxPerTenant: 10})
	id, err := r.Register("t1", "u1")
	require.NoError(t, err)

	r.Unregister(id)

	assert.Equal(t, 0, r.TotalCount())
	assert.Empty(t, r.ActiveTenants())

	_, ok := r.Get(id)
	assert.False(t, ok)
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := New(DefaultConfig())
	r.Unregister(ConnectionID("nonexistent"))
	assert.Equal(t, 0, r.TotalCount())
}
