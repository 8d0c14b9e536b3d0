package insert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edl/internal/metadata"
	"edl/internal/parsecontract"
)

func buildTestDB(t *testing.T) *Inserter {
	t.Helper()
	program := &parsecontract.Program{
		Tables: []parsecontract.TableDef{
			{
				Name: "accounts",
				Columns: []parsecontract.ColumnDef{
					{Name: "id", TypeText: "int", IsPrimaryKey: true},
					{Name: "name", TypeText: "text"},
				},
			},
		},
	}
	db, err := metadata.Build(program)
	require.NoError(t, err)
	return New(db)
}

func row(values ...string) parsecontract.DataRow {
	vals := make([]parsecontract.DataFieldValue, len(values))
	for i, v := range values {
		vals[i] = parsecontract.DataFieldValue{Raw: v}
	}
	return parsecontract.DataRow{Values: vals}
}

func TestInsertDataframeRows(t *testing.T) {
	ins := buildTestDB(t)
	err := ins.InsertAll([]parsecontract.DataSegment{
		{TableName: "accounts", Rows: []parsecontract.DataRow{row("1", "alice"), row("2", "bob")}},
	})
	require.NoError(t, err)

	table := ins.DB.FindTable("accounts")
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, []int64{1, 2}, table.FindColumn("id").Vector.Ints)
	assert.Equal(t, []string{"alice", "bob"}, table.FindColumn("name").Vector.Strings)
}

func TestInsertRejectsUnknownTable(t *testing.T) {
	ins := buildTestDB(t)
	err := ins.InsertAll([]parsecontract.DataSegment{{TableName: "ghost", Rows: []parsecontract.DataRow{row("1")}}})
	require.Error(t, err)
}

func TestInsertRejectsWrongArity(t *testing.T) {
	ins := buildTestDB(t)
	err := ins.InsertAll([]parsecontract.DataSegment{
		{TableName: "accounts", Rows: []parsecontract.DataRow{row("1")}},
	})
	require.Error(t, err)
}

func TestInsertExclusiveLocksTable(t *testing.T) {
	ins := buildTestDB(t)
	require.NoError(t, ins.InsertAll([]parsecontract.DataSegment{
		{TableName: "accounts", Rows: []parsecontract.DataRow{row("1", "alice")}, IsExclusive: true},
	}))
	err := ins.InsertAll([]parsecontract.DataSegment{
		{TableName: "accounts", Rows: []parsecontract.DataRow{row("2", "bob")}},
	})
	require.Error(t, err)
}

func structField(name, value string) parsecontract.StructField {
	return parsecontract.StructField{Name: name, Value: parsecontract.DataFieldValue{Raw: value}}
}

// buildServerDisksDB mirrors spec §8 S2: a CHILD OF table whose primary
// key is scoped under its parent's.
func buildServerDisksDB(t *testing.T) *Inserter {
	t.Helper()
	program := &parsecontract.Program{
		Tables: []parsecontract.TableDef{
			{
				Name: "server",
				Columns: []parsecontract.ColumnDef{
					{Name: "hostname", TypeText: "text", IsPrimaryKey: true},
				},
			},
			{
				Name: "disks",
				Columns: []parsecontract.ColumnDef{
					{Name: "dev", TypeText: "text", IsPrimaryKey: true, ChildPrimaryKeyParent: "server"},
				},
			},
		},
	}
	db, err := metadata.Build(program)
	require.NoError(t, err)
	return New(db)
}

func TestInsertNestedChildPrimaryKeyMode(t *testing.T) {
	ins := buildServerDisksDB(t)
	err := ins.InsertAll([]parsecontract.DataSegment{
		{
			TableName: "server",
			StructRows: []parsecontract.StructRow{
				{
					Fields: []parsecontract.StructField{structField("hostname", "h1")},
					Nested: []parsecontract.DataSegment{
						{TableName: "disks", StructRows: []parsecontract.StructRow{
							{Fields: []parsecontract.StructField{structField("dev", "sda")}},
							{Fields: []parsecontract.StructField{structField("dev", "sdb")}},
						}},
					},
				},
				{
					Fields: []parsecontract.StructField{structField("hostname", "h2")},
					Nested: []parsecontract.DataSegment{
						{TableName: "disks", StructRows: []parsecontract.StructRow{
							{Fields: []parsecontract.StructField{structField("dev", "sda")}},
						}},
					},
				},
			},
		},
	})
	require.NoError(t, err)

	disks := ins.DB.FindTable("disks")
	require.Equal(t, 3, disks.Len())
	assert.Equal(t, []string{"h1", "h1", "h2"}, disks.FindColumn("hostname").Vector.Strings)
	assert.Equal(t, []string{"sda", "sdb", "sda"}, disks.FindColumn("dev").Vector.Strings)
}

func TestInsertNestedRejectsExplicitParentPrimaryColumn(t *testing.T) {
	ins := buildServerDisksDB(t)
	err := ins.InsertAll([]parsecontract.DataSegment{
		{
			TableName: "server",
			StructRows: []parsecontract.StructRow{
				{
					Fields: []parsecontract.StructField{structField("hostname", "h1")},
					Nested: []parsecontract.DataSegment{
						{TableName: "disks", StructRows: []parsecontract.StructRow{
							{Fields: []parsecontract.StructField{structField("hostname", "h1"), structField("dev", "sda")}},
						}},
					},
				},
			},
		},
	})
	require.Error(t, err)
}

// buildRegionServerDB mirrors spec §8 S1: an ordinary foreign key linked
// through a nested WITH block (ForeignKeyMode).
func buildRegionServerDB(t *testing.T) *Inserter {
	t.Helper()
	program := &parsecontract.Program{
		Tables: []parsecontract.TableDef{
			{
				Name: "regions",
				Columns: []parsecontract.ColumnDef{
					{Name: "mnemonic", TypeText: "text", IsPrimaryKey: true},
				},
			},
			{
				Name: "servers",
				Columns: []parsecontract.ColumnDef{
					{Name: "hostname", TypeText: "text", IsPrimaryKey: true},
					{Name: "region", TypeText: "text", IsReference: true, ReferenceTarget: "regions"},
				},
			},
		},
	}
	db, err := metadata.Build(program)
	require.NoError(t, err)
	return New(db)
}

func TestInsertNestedForeignKeyMode(t *testing.T) {
	ins := buildRegionServerDB(t)
	err := ins.InsertAll([]parsecontract.DataSegment{
		{
			TableName: "regions",
			StructRows: []parsecontract.StructRow{
				{
					Fields: []parsecontract.StructField{structField("mnemonic", "eu")},
					Nested: []parsecontract.DataSegment{
						{TableName: "servers", StructRows: []parsecontract.StructRow{
							{Fields: []parsecontract.StructField{structField("hostname", "s1")}},
						}},
					},
				},
			},
		},
	})
	require.NoError(t, err)

	servers := ins.DB.FindTable("servers")
	require.Equal(t, 1, servers.Len())
	assert.Equal(t, []string{"s1"}, servers.FindColumn("hostname").Vector.Strings)
	assert.Equal(t, []string{"eu"}, servers.FindColumn("region").Vector.Strings)
}
