package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroScopeFailsClosed(t *testing.T) {
	var s Scope

	assert.False(t, s.IsSet())
	assert.ErrorIs(t, s.Check(), ErrScopeNotSet)
	assert.False(t, s.Allows("biz-1"))
	assert.False(t, s.Allows(""))

	_, _, err := s.Filter()
	assert.ErrorIs(t, err, ErrScopeNotSet)

	_, err = s.Target("biz-1")
	assert.ErrorIs(t, err, ErrScopeNotSet)
}

func TestForBusinessEmptyIDIsUnset(t *testing.T) {
	s := ForBusiness("   ")
	assert.False(t, s.IsSet())
	assert.Equal(t, "unset", s.String())
}

func TestBoundScopeOnlyAllowsItsBusiness(t *testing.T) {
	s := ForBusiness("biz-1")

	require.NoError(t, s.Check())
	assert.True(t, s.Allows("biz-1"))
	assert.False(t, s.Allows("biz-2"))

	id, all, err := s.Filter()
	require.NoError(t, err)
	assert.Equal(t, "biz-1", id)
	assert.False(t, all)
}

func TestBoundScopeTarget(t *testing.T) {
	s := ForBusiness("biz-1")

	got, err := s.Target("")
	require.NoError(t, err)
	assert.Equal(t, "biz-1", got)

	got, err = s.Target("biz-1")
	require.NoError(t, err)
	assert.Equal(t, "biz-1", got)

	_, err = s.Target("biz-2")
	assert.ErrorIs(t, err, ErrCrossTenant)
}

func TestUnscopedTargetRequiresBusiness(t *testing.T) {
	s := Unscoped()

	assert.True(t, s.Allows("anything"))
	_, all, err := s.Filter()
	require.NoError(t, err)
	assert.True(t, all)

	_, err = s.Target("")
	assert.ErrorIs(t, err, ErrBusinessRequired)

	got, err := s.Target("biz-9")
	require.NoError(t, err)
	assert.Equal(t, "biz-9", got)
}

func TestNarrow(t *testing.T) {
	narrowed, err := Unscoped().Narrow("biz-3")
	require.NoError(t, err)
	assert.Equal(t, "biz-3", narrowed.BusinessID())
	assert.False(t, narrowed.IsUnscoped())

	_, err = ForBusiness("biz-1").Narrow("biz-3")
	assert.ErrorIs(t, err, ErrCrossTenant)

	_, err = Scope{}.Narrow("biz-3")
	assert.ErrorIs(t, err, ErrScopeNotSet)
}
