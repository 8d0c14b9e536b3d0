package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnVectorTryParseAndAppend(t *testing.T) {
	t.Run("ints happy path", func(t *testing.T) {
		v := NewColumnVector(TypeInt)
		failedAt, _, err := v.TryParseAndAppend([]string{"1", "2", "3"})
		require.NoError(t, err)
		assert.Equal(t, -1, failedAt)
		assert.Equal(t, []int64{1, 2, 3}, v.Ints)
	})

	t.Run("stops at first bad int", func(t *testing.T) {
		v := NewColumnVector(TypeInt)
		failedAt, failedValue, err := v.TryParseAndAppend([]string{"1", "nope", "3"})
		require.Error(t, err)
		assert.Equal(t, 1, failedAt)
		assert.Equal(t, "nope", failedValue)
		assert.Equal(t, []int64{1}, v.Ints)
	})

	t.Run("rejects NaN and infinite floats", func(t *testing.T) {
		v := NewColumnVector(TypeFloat)
		_, _, err := v.TryParseAndAppend([]string{"1.5", "NaN"})
		require.Error(t, err)
		assert.Equal(t, []float64{1.5}, v.Floats)
	})

	t.Run("bools", func(t *testing.T) {
		v := NewColumnVector(TypeBool)
		failedAt, _, err := v.TryParseAndAppend([]string{"true", "false"})
		require.NoError(t, err)
		assert.Equal(t, -1, failedAt)
		assert.Equal(t, []bool{true, false}, v.Bools)
	})
}

func TestColumnVectorDefaults(t *testing.T) {
	v := NewColumnVector(TypeInt)
	assert.False(t, v.HasDefaultValue())

	require.NoError(t, v.TrySetDefaultFromString("42"))
	assert.True(t, v.HasDefaultValue())

	v.PushDefaultValues(3)
	assert.Equal(t, []int64{42, 42, 42}, v.Ints)

	dup := v.NewLikeThis()
	assert.True(t, dup.HasDefaultValue())
	assert.Equal(t, 0, dup.Len())
	dup.PushDefaultValue()
	assert.Equal(t, []int64{42}, dup.Ints)
}

func TestColumnVectorDummyValues(t *testing.T) {
	v := NewColumnVector(TypeText)
	v.PushDummyValues(2)
	assert.Equal(t, []string{"", ""}, v.Strings)
	assert.Equal(t, 2, v.Len())
}

func TestColumnVectorStringAtAndAnyAt(t *testing.T) {
	v := NewColumnVector(TypeFloat)
	_, _, err := v.TryParseAndAppend([]string{"3.5"})
	require.NoError(t, err)
	assert.Equal(t, "3.5", v.StringAt(0))
	assert.Equal(t, 3.5, v.AnyAt(0))
}

func TestDBTypeSQLiteTypeName(t *testing.T) {
	assert.Equal(t, "TEXT", TypeText.SQLiteTypeName())
	assert.Equal(t, "INTEGER", TypeInt.SQLiteTypeName())
	assert.Equal(t, "REAL", TypeFloat.SQLiteTypeName())
	assert.Equal(t, "INTEGER", TypeBool.SQLiteTypeName())
}

func TestColumnVectorDefaultRejectsNonFiniteFloat(t *testing.T) {
	v := NewColumnVector(TypeFloat)
	err := v.TrySetDefaultFromString("inf")
	require.Error(t, err)
	_ = math.Inf(1)
}

func TestColumnVectorSetAtOverwritesInPlace(t *testing.T) {
	v := NewColumnVector(TypeInt)
	_, _, err := v.TryParseAndAppend([]string{"1", "2", "3"})
	require.NoError(t, err)

	require.NoError(t, v.SetAt(1, "99"))
	assert.Equal(t, []int64{1, 99, 3}, v.Ints)
	assert.Equal(t, 3, v.Len())

	require.Error(t, v.SetAt(0, "not-a-number"))
}

func TestColumnVectorOverwriteLastReplacesMostRecentValue(t *testing.T) {
	v := NewColumnVector(TypeText)
	_, _, err := v.TryParseAndAppend([]string{"alice", "bob"})
	require.NoError(t, err)

	require.NoError(t, v.OverwriteLast("bobby"))
	assert.Equal(t, []string{"alice", "bobby"}, v.Strings)
}
