package core

import (
	"encoding/json"
	"fmt"
	"sort"
)

// KeyKind tags a column's role in the table's key structure.
type KeyKind int

const (
	NotAKey KeyKind = iota
	Primary
	// ChildPrimary marks a column that is part of a child table's own
	// primary key, declared with CHILD OF.
	ChildPrimary
	// ParentPrimary marks a column synthesized by the metadata pass: an
	// inherited segment of an ancestor's primary key, prepended so the
	// child's effective key is composite (ancestor segments + own segment).
	ParentPrimary
)

// KeyType is the full key-role tag for a column: the KeyKind plus, for
// ChildPrimary/ParentPrimary, which ancestor table it comes from.
type KeyType struct {
	Kind         KeyKind
	ParentTable  Identifier // set for ChildPrimary and ParentPrimary
}

// ForeignKey describes a plain (non-key) column that references another
// table's row.
type ForeignKey struct {
	ForeignTable Identifier

	// IsToForeignChildTable marks a reference to a row of ForeignTable
	// that is itself ChildPrimary-keyed under some ancestor, using a
	// composite "=>"-joined value bucketed by common ancestor with the
	// referrer.
	IsToForeignChildTable bool

	// IsExplicitForeignChildReference marks that the composite reference
	// was written out explicitly in source rather than inferred.
	IsExplicitForeignChildReference bool

	// IsToSelfChildTable marks a "native-child" reference: ForeignTable is
	// a descendant of the referrer's own table, reached through the
	// referrer's ParentPrimary chain rather than a separate ancestor.
	IsToSelfChildTable bool
}

// DataColumn is one column of a DataTable: its data, its key role, and the
// optional foreign key / generated-value expression attached to it.
type DataColumn struct {
	Name   Identifier
	Vector *ColumnVector
	Key    KeyType

	ForeignKey *ForeignKey

	// GenerateExpression, when set, is Lua source computing this column's
	// value from the rest of the row. Insertion stores a placeholder; the
	// checker computes the real value once all data is inserted.
	GenerateExpression string

	// SnakeCaseRestricted is set on Primary/ChildPrimary/ParentPrimary
	// columns that participate in a composite "=>"-joined child reference:
	// text values may hold only ASCII letters, digits, '_' and '-', and
	// integer values must be non-negative.
	SnakeCaseRestricted bool

	// ForeignIndex holds, once relational resolution has run, row idx in
	// ForeignKey.ForeignTable that row i of this column's table refers to.
	ForeignIndex []int
}

// IsRequired reports whether a row must supply this column explicitly
// (keys and foreign keys always; ordinary columns only absent a default or
// a generated-value expression).
func (c *DataColumn) IsRequired() bool {
	switch c.Key.Kind {
	case Primary, ChildPrimary, ParentPrimary:
		return true
	}
	if c.ForeignKey != nil {
		return true
	}
	return !c.Vector.HasDefaultValue() && c.GenerateExpression == ""
}

// ColumnPriority orders columns for diagnostics; Primary sorts first,
// ParentPrimary next, ChildPrimary next, everything else last.
func (c *DataColumn) ColumnPriority() int {
	switch c.Key.Kind {
	case Primary:
		return 1
	case ParentPrimary:
		return 2
	case ChildPrimary:
		return 3
	default:
		return 10
	}
}

// UniqConstraint names a set of columns whose values must be unique
// together across every row of the table.
type UniqConstraint struct {
	Fields []Identifier
}

// RowCheck is a Lua boolean expression evaluated once per row during
// relational resolution, after all data is inserted; a false or
// non-boolean result fails the row.
type RowCheck struct {
	Expression string
	Comment    string
}

// DataTable is a fully resolved table: its columns (in final serialization
// order), its row-level constraints, and optional materialized-view wiring.
type DataTable struct {
	Name            Identifier
	Columns         []*DataColumn
	UniqConstraints []UniqConstraint
	RowChecks       []RowCheck

	// MatViewExpression, when set, makes this a materialized view: its
	// rows come from evaluating SQL against the image instead of DATA
	// blocks, and direct data insertion into it is rejected.
	MatViewExpression string

	// ExclusiveLock, once true for a table (set by a DATA ... EXCLUSIVE
	// block), rejects any further insertion into that table.
	ExclusiveLock bool

	// ParentIndex holds, once relational resolution has run, the row idx
	// in this table's immediate parent that row i's ParentPrimary columns
	// resolve to. Empty for root (parentless) tables.
	ParentIndex []int

	// ChildrenIndex maps a child table's name to, per row of this table,
	// the list of that child's row indices whose ParentPrimary columns
	// resolve back to this row.
	ChildrenIndex map[Identifier][][]int

	// ReferrerIndex maps "table__column" to, per row of this table, the
	// list of referrer row indices whose ForeignKey resolves to this row.
	ReferrerIndex map[string][][]int
}

// Len returns the row count, taken from the first column (all columns of a
// table are kept length-synchronized by the insertion pass).
func (t *DataTable) Len() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Vector.Len()
}

// FindColumn returns the column named name, or nil.
func (t *DataTable) FindColumn(name Identifier) *DataColumn {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindColumnIdx returns the index of the column named name, or -1.
func (t *DataTable) FindColumnIdx(name Identifier) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// PrimaryKeyColumn returns the table's own Primary or ChildPrimary column
// (never a ParentPrimary one, which belongs to an ancestor), or nil for a
// keyless table.
func (t *DataTable) PrimaryKeyColumn() *DataColumn {
	for _, c := range t.Columns {
		if c.Key.Kind == Primary || c.Key.Kind == ChildPrimary {
			return c
		}
	}
	return nil
}

// ParentTable returns the nearest ancestor this table is CHILD OF, i.e.
// the ParentTable of the last (nearest, innermost) ParentPrimary column,
// since metadata inserts ancestor segments outermost-first.
func (t *DataTable) ParentTable() (Identifier, bool) {
	var last Identifier
	found := false
	for _, c := range t.Columns {
		if c.Key.Kind == ParentPrimary {
			last = c.Key.ParentTable
			found = true
		}
	}
	return last, found
}

// ImplicitParentPrimaryKeys returns the table's ParentPrimary columns in
// their stored (outermost-ancestor-first) order.
func (t *DataTable) ImplicitParentPrimaryKeys() []*DataColumn {
	var out []*DataColumn
	for _, c := range t.Columns {
		if c.Key.Kind == ParentPrimary {
			out = append(out, c)
		}
	}
	return out
}

// PrimaryKeysWithParents returns the table's full composite key path: every
// inherited ParentPrimary column (outermost ancestor first) followed by the
// table's own Primary/ChildPrimary column, if any. This is the column list
// whose "=>"-joined values form the composite key replacements (§4.5) and
// foreign-child references match against. Empty for a keyless table.
func (t *DataTable) PrimaryKeysWithParents() []*DataColumn {
	out := append([]*DataColumn{}, t.ImplicitParentPrimaryKeys()...)
	if pk := t.PrimaryKeyColumn(); pk != nil {
		out = append(out, pk)
	}
	return out
}

// DefaultTupleOrder returns the columns a DATA block's rows supply, in
// order, when the block has no explicit field list: every required column,
// in table order.
func (t *DataTable) DefaultTupleOrder() []*DataColumn {
	var out []*DataColumn
	for _, c := range t.Columns {
		if c.IsRequired() {
			out = append(out, c)
		}
	}
	return out
}

// RequiredTableColumns returns the names of DefaultTupleOrder's columns.
func (t *DataTable) RequiredTableColumns() []Identifier {
	cols := t.DefaultTupleOrder()
	out := make([]Identifier, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// NestedInsertionMode tags how a WITH block's nested child rows should be
// linked back to their parent row.
type NestedInsertionMode int

const (
	// TablesUnrelated means the nested table has no key or FK relationship
	// to the outer one; nesting is rejected.
	TablesUnrelated NestedInsertionMode = iota
	// ForeignKeyMode links via a single unambiguous ordinary foreign key
	// column on the child pointing back at the parent.
	ForeignKeyMode
	// ChildPrimaryKeyMode links via the child's own ParentPrimary columns
	// inherited from the parent table.
	ChildPrimaryKeyMode
	// AmbiguousForeignKeys means more than one foreign key column on the
	// child could link it to the parent; nesting is rejected without an
	// explicit column choice.
	AmbiguousForeignKeys
)

// NestedInsertionModeResult carries the resolved mode plus whichever
// column indexes it resolved to.
type NestedInsertionModeResult struct {
	Mode               NestedInsertionMode
	ForeignKeyColumn   int   // ForeignKeyMode
	ParentKeyColumns   []int // ChildPrimaryKeyMode
	AmbiguousColumns   []int // AmbiguousForeignKeys
}

// DetermineNestedInsertionMode decides how rows of child should be linked
// to a row of t inside a WITH block. A child's own inherited ParentPrimary
// segment always wins over an ordinary foreign key: a table CHILD OF t
// that also happens to carry a foreign key to t is linked through its key,
// not its foreign key.
func (t *DataTable) DetermineNestedInsertionMode(child *DataTable) NestedInsertionModeResult {
	var parentKeyCols []int
	var fkCols []int

	for i, c := range child.Columns {
		if c.Key.Kind == ParentPrimary && c.Key.ParentTable == t.Name {
			parentKeyCols = append(parentKeyCols, i)
		}
		if c.ForeignKey != nil && c.ForeignKey.ForeignTable == t.Name {
			fkCols = append(fkCols, i)
		}
	}

	if len(parentKeyCols) > 0 {
		return NestedInsertionModeResult{Mode: ChildPrimaryKeyMode, ParentKeyColumns: parentKeyCols}
	}
	switch len(fkCols) {
	case 0:
		return NestedInsertionModeResult{Mode: TablesUnrelated}
	case 1:
		return NestedInsertionModeResult{Mode: ForeignKeyMode, ForeignKeyColumn: fkCols[0]}
	default:
		return NestedInsertionModeResult{Mode: AmbiguousForeignKeys, AmbiguousColumns: fkCols}
	}
}

// RowJSON renders row idx as a pretty-printed JSON object keyed by column
// name, for proof offender diagnostics.
func (t *DataTable) RowJSON(idx int) (string, error) {
	m := make(map[string]any, len(t.Columns))
	for _, c := range t.Columns {
		m[c.Name.String()] = c.Vector.AnyAt(idx)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Database is the fully resolved set of tables the checker operates on.
type Database struct {
	Tables []*DataTable
}

// FindTable returns the table named name, or nil.
func (d *Database) FindTable(name Identifier) *DataTable {
	for _, t := range d.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// ChildrenTables returns every table directly CHILD OF name, in
// declaration order.
func (d *Database) ChildrenTables(name Identifier) []*DataTable {
	var out []*DataTable
	for _, t := range d.Tables {
		if parent, ok := t.ParentTable(); ok && parent == name {
			out = append(out, t)
		}
	}
	return out
}

// AllParentTables walks name's ParentPrimary-derived ancestry, nearest
// ancestor first, to the root table.
func (d *Database) AllParentTables(name Identifier) []Identifier {
	var out []Identifier
	cur := name
	for {
		t := d.FindTable(cur)
		if t == nil {
			break
		}
		parent, ok := t.ParentTable()
		if !ok {
			break
		}
		out = append(out, parent)
		cur = parent
	}
	return out
}

// RefereeColumn pairs a foreign-key column with the table that owns it, for
// callers (serialization) that need both ends of the reference.
type RefereeColumn struct {
	Owner  Identifier
	Column *DataColumn
}

// RefereeColumns returns every (table, column) pair anywhere in the
// database whose ForeignKey targets name, ordered by owning table name
// (via TablesSortedByName) and then column order, for determinism.
func (d *Database) RefereeColumns(name Identifier) []RefereeColumn {
	var out []RefereeColumn
	for _, t := range d.TablesSortedByName() {
		for _, c := range t.Columns {
			if c.ForeignKey != nil && c.ForeignKey.ForeignTable == name {
				out = append(out, RefereeColumn{Owner: t.Name, Column: c})
			}
		}
	}
	return out
}

// TablesSortedByName returns the database's tables sorted by name, the
// order serialization and proof iteration both use for determinism.
func (d *Database) TablesSortedByName() []*DataTable {
	out := make([]*DataTable, len(d.Tables))
	copy(out, d.Tables)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var reservedColumnNames = map[string]bool{
	"rowid": true,
}

// IsReservedColumnName reports whether name collides with a column name
// the serializer or SQL image synthesizes itself.
func IsReservedColumnName(name Identifier) bool {
	return reservedColumnNames[name.String()] || name.String() == "parent" ||
		hasReservedPrefix(name.String())
}

func hasReservedPrefix(name string) bool {
	for _, p := range []string{"children_", "referrers_"} {
		if len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}

// ReservedColumnNamesList is used in ColumnNameIsReserved error context.
func ReservedColumnNamesList() []string {
	return []string{"rowid", "parent", "children_*", "referrers_*"}
}

func (k KeyKind) String() string {
	switch k {
	case NotAKey:
		return "not_a_key"
	case Primary:
		return "primary"
	case ChildPrimary:
		return "child_primary"
	case ParentPrimary:
		return "parent_primary"
	default:
		return fmt.Sprintf("unknown_key_kind(%d)", int(k))
	}
}
