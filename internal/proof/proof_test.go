package proof

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edl/internal/core"
	"edl/internal/parsecontract"
	"edl/internal/sqlimage"
)

func accountsDB(t *testing.T) (*core.Database, *sqlimage.Image) {
	t.Helper()
	id := &core.DataColumn{Name: "id", Vector: core.NewColumnVector(core.TypeInt), Key: core.KeyType{Kind: core.Primary}}
	balance := &core.DataColumn{Name: "balance", Vector: core.NewColumnVector(core.TypeInt)}
	_, _, err := id.Vector.TryParseAndAppend([]string{"1", "2", "3"})
	require.NoError(t, err)
	_, _, err = balance.Vector.TryParseAndAppend([]string{"10", "-5", "0"})
	require.NoError(t, err)
	table := &core.DataTable{Name: "accounts", Columns: []*core.DataColumn{id, balance}}
	db := &core.Database{Tables: []*core.DataTable{table}}

	img, err := sqlimage.Open(t.Name())
	require.NoError(t, err)
	require.NoError(t, img.LoadTable(table))
	return db, img
}

func TestRunSQLProofsPassesWhenNoOffenders(t *testing.T) {
	db, img := accountsDB(t)
	defer img.Close()

	proofs := []parsecontract.ProofDef{{
		OutputTableName: "accounts",
		Kind:            parsecontract.ExpressionSQL,
		ExpressionText:  `SELECT "accounts".rowid FROM "accounts" WHERE "balance" < -1000`,
	}}

	assert.NoError(t, RunSQLProofs(img, db, proofs))
}

func TestRunSQLProofsReportsOffenders(t *testing.T) {
	db, img := accountsDB(t)
	defer img.Close()

	proofs := []parsecontract.ProofDef{{
		OutputTableName: "accounts",
		Kind:            parsecontract.ExpressionSQL,
		Comment:         "balance must not be negative",
		ExpressionText:  `SELECT "accounts".rowid FROM "accounts" WHERE "balance" < 0`,
	}}

	err := RunSQLProofs(img, db, proofs)
	require.Error(t, err)
	var checkErr *core.CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, core.KindSqlProofOffendersFound, checkErr.Kind)
}

func TestRunSQLProofsRejectsMismatchedRowidOrigin(t *testing.T) {
	db, img := accountsDB(t)
	defer img.Close()

	proofs := []parsecontract.ProofDef{{
		OutputTableName: "accounts",
		Kind:            parsecontract.ExpressionSQL,
		ExpressionText:  `SELECT "id" FROM "accounts"`,
	}}

	err := RunSQLProofs(img, db, proofs)
	require.Error(t, err)
	var checkErr *core.CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, core.KindSqlProofQueryColumnOriginMismatchesExpected, checkErr.Kind)
}

func TestRunDatalogProofsFailsWhenDisabled(t *testing.T) {
	db, img := accountsDB(t)
	defer img.Close()

	proofs := []parsecontract.ProofDef{{
		OutputTableName: "accounts",
		Kind:            parsecontract.ExpressionDatalog,
		ExpressionText:  `OUTPUT(Idx) :- t_accounts__balance(Balance, Idx), t_accounts__id(Id, Idx).`,
	}}

	err := RunDatalogProofs(db, proofs, false)
	require.Error(t, err)
	var checkErr *core.CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, core.KindDatalogIsDisabled, checkErr.Kind)
}

func TestRunDatalogProofsReportsOffenders(t *testing.T) {
	db, _ := accountsDB(t)

	proofs := []parsecontract.ProofDef{{
		OutputTableName: "accounts",
		Kind:            parsecontract.ExpressionDatalog,
		Comment:         "balance must not be negative",
		ExpressionText:  `OUTPUT(Idx) :- t_accounts__balance("-5", Idx).`,
	}}

	err := RunDatalogProofs(db, proofs, true)
	require.Error(t, err)
	var checkErr *core.CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, core.KindDatalogProofOffendersFound, checkErr.Kind)
}

func TestRunDatalogProofsPassesWhenNoOffenders(t *testing.T) {
	db, _ := accountsDB(t)

	proofs := []parsecontract.ProofDef{{
		OutputTableName: "accounts",
		Kind:            parsecontract.ExpressionDatalog,
		ExpressionText:  `OUTPUT(Idx) :- t_accounts__balance("-1000", Idx).`,
	}}

	assert.NoError(t, RunDatalogProofs(db, proofs, true))
}
