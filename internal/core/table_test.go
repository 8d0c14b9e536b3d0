package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textColumn(name string) *DataColumn {
	return &DataColumn{Name: Identifier(name), Vector: NewColumnVector(TypeText)}
}

func TestDataTablePrimaryKeyColumn(t *testing.T) {
	tbl := &DataTable{
		Name: "users",
		Columns: []*DataColumn{
			{Name: "id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: Primary}},
			textColumn("name"),
		},
	}
	pk := tbl.PrimaryKeyColumn()
	require.NotNil(t, pk)
	assert.Equal(t, Identifier("id"), pk.Name)
}

func TestDataTableParentTableNearestAncestor(t *testing.T) {
	tbl := &DataTable{
		Name: "leaf",
		Columns: []*DataColumn{
			{Name: "grandparent_id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: ParentPrimary, ParentTable: "grandparent"}},
			{Name: "parent_id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: ParentPrimary, ParentTable: "parent"}},
			{Name: "id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: ChildPrimary, ParentTable: "parent"}},
		},
	}
	parent, ok := tbl.ParentTable()
	require.True(t, ok)
	assert.Equal(t, Identifier("parent"), parent)

	keys := tbl.ImplicitParentPrimaryKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, Identifier("grandparent_id"), keys[0].Name)
	assert.Equal(t, Identifier("parent_id"), keys[1].Name)
}

func TestDataColumnIsRequired(t *testing.T) {
	t.Run("primary key is required", func(t *testing.T) {
		c := &DataColumn{Name: "id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: Primary}}
		assert.True(t, c.IsRequired())
	})

	t.Run("foreign key is required", func(t *testing.T) {
		c := &DataColumn{Name: "owner_id", Vector: NewColumnVector(TypeInt), ForeignKey: &ForeignKey{ForeignTable: "users"}}
		assert.True(t, c.IsRequired())
	})

	t.Run("plain column with default is not required", func(t *testing.T) {
		c := textColumn("note")
		require.NoError(t, c.Vector.TrySetDefaultFromString(""))
		assert.False(t, c.IsRequired())
	})

	t.Run("plain column with generated expression is not required", func(t *testing.T) {
		c := textColumn("computed")
		c.GenerateExpression = "return 1"
		assert.False(t, c.IsRequired())
	})

	t.Run("plain column with neither is required", func(t *testing.T) {
		c := textColumn("name")
		assert.True(t, c.IsRequired())
	})
}

func TestDetermineNestedInsertionModePrefersChildPrimaryKey(t *testing.T) {
	parent := &DataTable{Name: "accounts"}
	// child has both an inherited parent-primary segment AND an ordinary
	// foreign key pointing back at the parent; the inherited key wins.
	child := &DataTable{
		Name: "ledger_entries",
		Columns: []*DataColumn{
			{Name: "account_id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: ParentPrimary, ParentTable: "accounts"}},
			{Name: "id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: ChildPrimary, ParentTable: "accounts"}},
			{Name: "related_account_id", Vector: NewColumnVector(TypeInt), ForeignKey: &ForeignKey{ForeignTable: "accounts"}},
		},
	}

	result := parent.DetermineNestedInsertionMode(child)
	assert.Equal(t, ChildPrimaryKeyMode, result.Mode)
	assert.Equal(t, []int{0}, result.ParentKeyColumns)
}

func TestDetermineNestedInsertionModeForeignKeyFallback(t *testing.T) {
	parent := &DataTable{Name: "accounts"}
	child := &DataTable{
		Name: "notes",
		Columns: []*DataColumn{
			{Name: "id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: Primary}},
			{Name: "account_id", Vector: NewColumnVector(TypeInt), ForeignKey: &ForeignKey{ForeignTable: "accounts"}},
		},
	}
	result := parent.DetermineNestedInsertionMode(child)
	assert.Equal(t, ForeignKeyMode, result.Mode)
	assert.Equal(t, 1, result.ForeignKeyColumn)
}

func TestDetermineNestedInsertionModeAmbiguous(t *testing.T) {
	parent := &DataTable{Name: "accounts"}
	child := &DataTable{
		Name: "transfers",
		Columns: []*DataColumn{
			{Name: "id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: Primary}},
			{Name: "from_account_id", Vector: NewColumnVector(TypeInt), ForeignKey: &ForeignKey{ForeignTable: "accounts"}},
			{Name: "to_account_id", Vector: NewColumnVector(TypeInt), ForeignKey: &ForeignKey{ForeignTable: "accounts"}},
		},
	}
	result := parent.DetermineNestedInsertionMode(child)
	assert.Equal(t, AmbiguousForeignKeys, result.Mode)
	assert.Equal(t, []int{1, 2}, result.AmbiguousColumns)
}

func TestDetermineNestedInsertionModeUnrelated(t *testing.T) {
	parent := &DataTable{Name: "accounts"}
	child := &DataTable{Name: "other", Columns: []*DataColumn{textColumn("name")}}
	result := parent.DetermineNestedInsertionMode(child)
	assert.Equal(t, TablesUnrelated, result.Mode)
}

func TestDatabaseChildrenAndRefereeColumns(t *testing.T) {
	accounts := &DataTable{Name: "accounts", Columns: []*DataColumn{
		{Name: "id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: Primary}},
	}}
	ledger := &DataTable{Name: "ledger_entries", Columns: []*DataColumn{
		{Name: "account_id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: ParentPrimary, ParentTable: "accounts"}},
		{Name: "id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: ChildPrimary, ParentTable: "accounts"}},
	}}
	notes := &DataTable{Name: "notes", Columns: []*DataColumn{
		{Name: "id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: Primary}},
		{Name: "account_id", Vector: NewColumnVector(TypeInt), ForeignKey: &ForeignKey{ForeignTable: "accounts"}},
	}}

	db := &Database{Tables: []*DataTable{notes, accounts, ledger}}

	children := db.ChildrenTables("accounts")
	require.Len(t, children, 1)
	assert.Equal(t, Identifier("ledger_entries"), children[0].Name)

	referees := db.RefereeColumns("accounts")
	require.Len(t, referees, 1)
	assert.Equal(t, Identifier("account_id"), referees[0].Column.Name)
	assert.Equal(t, Identifier("notes"), referees[0].Owner)

	sorted := db.TablesSortedByName()
	require.Len(t, sorted, 3)
	assert.Equal(t, Identifier("accounts"), sorted[0].Name)
	assert.Equal(t, Identifier("ledger_entries"), sorted[1].Name)
	assert.Equal(t, Identifier("notes"), sorted[2].Name)
}

func TestIsReservedColumnName(t *testing.T) {
	assert.True(t, IsReservedColumnName("rowid"))
	assert.True(t, IsReservedColumnName("parent"))
	assert.True(t, IsReservedColumnName("children_accounts"))
	assert.True(t, IsReservedColumnName("referrers_notes__account_id"))
	assert.False(t, IsReservedColumnName("name"))
}

func TestDataTableRowJSON(t *testing.T) {
	v := NewColumnVector(TypeText)
	_, _, err := v.TryParseAndAppend([]string{"alice"})
	require.NoError(t, err)
	tbl := &DataTable{Name: "users", Columns: []*DataColumn{{Name: "name", Vector: v}}}
	js, err := tbl.RowJSON(0)
	require.NoError(t, err)
	assert.Contains(t, js, `"name": "alice"`)
}

func TestPrimaryKeysWithParentsOrdersAncestorsOutermostFirst(t *testing.T) {
	tbl := &DataTable{
		Name: "ledger_entries",
		Columns: []*DataColumn{
			{Name: "account_id", Vector: NewColumnVector(TypeText), Key: KeyType{Kind: ParentPrimary, ParentTable: "accounts"}},
			{Name: "book_id", Vector: NewColumnVector(TypeText), Key: KeyType{Kind: ParentPrimary, ParentTable: "books"}},
			{Name: "id", Vector: NewColumnVector(TypeInt), Key: KeyType{Kind: ChildPrimary}},
			textColumn("memo"),
		},
	}
	keys := tbl.PrimaryKeysWithParents()
	require.Len(t, keys, 3)
	assert.Equal(t, Identifier("account_id"), keys[0].Name)
	assert.Equal(t, Identifier("book_id"), keys[1].Name)
	assert.Equal(t, Identifier("id"), keys[2].Name)
}

func TestPrimaryKeysWithParentsEmptyForKeylessTable(t *testing.T) {
	tbl := &DataTable{Name: "notes", Columns: []*DataColumn{textColumn("body")}}
	assert.Empty(t, tbl.PrimaryKeysWithParents())
}

func TestCheckErrorError(t *testing.T) {
	err := Errf(KindTableDefinedTwice, "table_name", "users")
	assert.Equal(t, `TableDefinedTwice: table_name=users`, err.Error())

	bare := &CheckError{Kind: KindDatalogIsDisabled}
	assert.Equal(t, "DatalogIsDisabled", bare.Error())
}
