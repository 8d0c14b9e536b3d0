package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edl/internal/core"
)

func TestPreprocessExpressionAddsReturn(t *testing.T) {
	assert.Equal(t, "return 1 + 1", preprocessExpression("1 + 1"))
	assert.Equal(t, "local x = 1\nreturn x", preprocessExpression("local x = 1\nreturn x"))
}

func TestComputeGeneratedColumn(t *testing.T) {
	rt, err := New(nil)
	require.NoError(t, err)
	defer rt.Close()

	amount := core.NewColumnVector(core.TypeInt)
	_, _, err = amount.TryParseAndAppend([]string{"2", "3"})
	require.NoError(t, err)

	out, err := rt.ComputeGeneratedColumn("orders", "doubled", "amount * 2",
		[]string{"amount"}, []*core.ColumnVector{amount}, 2, core.TypeInt)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "6"}, out)
}

func TestEvaluateRowCheckFailure(t *testing.T) {
	rt, err := New(nil)
	require.NoError(t, err)
	defer rt.Close()

	amount := core.NewColumnVector(core.TypeInt)
	_, _, err = amount.TryParseAndAppend([]string{"-1"})
	require.NoError(t, err)

	err = rt.EvaluateRowCheck("orders", "amount >= 0", []string{"amount"}, []*core.ColumnVector{amount}, 1)
	require.Error(t, err)
	var checkErr *core.CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, core.KindLuaCheckEvaluationFailed, checkErr.Kind)
}
