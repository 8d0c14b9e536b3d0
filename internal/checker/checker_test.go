package checker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edl/internal/parsecontract"
)

func accountsProgram() *parsecontract.Program {
	return &parsecontract.Program{
		Tables: []parsecontract.TableDef{
			{
				Name: "accounts",
				Columns: []parsecontract.ColumnDef{
					{Name: "id", TypeText: "text", IsPrimaryKey: true},
					{Name: "name", TypeText: "text"},
				},
			},
		},
		DataSegments: []parsecontract.DataSegment{
			{
				TableName: "accounts",
				Rows: []parsecontract.DataRow{
					{Values: []parsecontract.DataFieldValue{
						{Raw: "a1", SourceFileID: 1, ByteStart: 0, ByteEnd: 2},
						{Raw: "alice", SourceFileID: 1, ByteStart: 4, ByteEnd: 9},
					}},
					{Values: []parsecontract.DataFieldValue{
						{Raw: "a2", SourceFileID: 1, ByteStart: 10, ByteEnd: 12},
						{Raw: "bob", SourceFileID: 1, ByteStart: 14, ByteEnd: 17},
					}},
				},
			},
		},
		SourceFiles: map[int]parsecontract.SourceFile{
			1: {Path: "accounts.edl", Contents: []byte("a1, alice\na2, bob")},
		},
	}
}

func TestRunBasicInsertionAndSerialization(t *testing.T) {
	result, err := Run(accountsProgram(), Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Serialized)
	assert.Equal(t, 2, result.DB.Tables[0].Len())
	assert.Empty(t, result.RewrittenFiles)
}

func TestRunAppliesReplacementsAndSchedulesWriteBack(t *testing.T) {
	program := accountsProgram()
	replacementsJSON := []byte(`{"accounts": [{"primary_key": "a1", "replacements": {"name": "alicia"}}]}`)

	result, err := Run(program, Options{ReplacementsJSON: replacementsJSON})
	require.NoError(t, err)

	table := result.DB.Tables[0]
	nameCol := table.FindColumn("name")
	require.NotNil(t, nameCol)
	assert.Equal(t, "alicia", nameCol.Vector.StringAt(0))
	assert.Equal(t, "bob", nameCol.Vector.StringAt(1))

	require.Contains(t, result.RewrittenFiles, 1)
	assert.Equal(t, "a1, alicia\na2, bob", string(result.RewrittenFiles[1]))
}

func TestRunFailsOnUnusedReplacement(t *testing.T) {
	program := accountsProgram()
	replacementsJSON := []byte(`{"accounts": [{"primary_key": "ghost", "replacements": {"name": "nobody"}}]}`)

	_, err := Run(program, Options{ReplacementsJSON: replacementsJSON})
	require.Error(t, err)
}

func TestRunRejectsUnknownTargetTable(t *testing.T) {
	program := accountsProgram()
	program.DataSegments[0].TableName = "ghosts"

	_, err := Run(program, Options{})
	require.Error(t, err)
}
