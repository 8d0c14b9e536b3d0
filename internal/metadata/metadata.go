// Package metadata builds a core.Database from parser contract input and
// resolves everything that can be decided without looking at any data row:
// names, key shapes, the child-primary ancestry tree, ordinary and child
// foreign key targets, detached defaults, and uniqueness constraints.
package metadata

import (
	"regexp"
	"strings"

	"edl/internal/core"
	"edl/internal/parsecontract"
)

var lowerNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Build runs every sub-phase in order and returns the resolved database, or
// the first error encountered.
func Build(program *parsecontract.Program) (*core.Database, error) {
	db := &core.Database{}

	detachedMarkers, err := initDeclaredTables(db, program.Tables)
	if err != nil {
		return nil, err
	}
	if err := validateChildPrimaries(db); err != nil {
		return nil, err
	}
	if err := resolveOrdinaryForeignKeys(db); err != nil {
		return nil, err
	}
	if err := resolveForeignChildReferences(db); err != nil {
		return nil, err
	}
	if err := resolveNativeChildReferences(db); err != nil {
		return nil, err
	}
	if err := processDetachedDefaults(db, program.DetachedDefaults, detachedMarkers); err != nil {
		return nil, err
	}
	if err := validateUniqConstraints(db); err != nil {
		return nil, err
	}
	if err := assertPostConditions(db); err != nil {
		return nil, err
	}
	return db, nil
}

// 1. Initialize declared tables. Returns the "table.column" keys of every
// column marked DETACHED DEFAULT, for processDetachedDefaults to confirm a
// later declaration actually supplies each one.
func initDeclaredTables(db *core.Database, tables []parsecontract.TableDef) ([]string, error) {
	seen := map[string]bool{}
	var detachedMarkers []string
	for _, td := range tables {
		if seen[td.Name] {
			return nil, core.Errf(core.KindTableDefinedTwice, "table_name", td.Name)
		}
		seen[td.Name] = true

		if !lowerNameRe.MatchString(td.Name) {
			return nil, core.Errf(core.KindTableNameIsNotLowercase, "table_name", td.Name)
		}

		table := &core.DataTable{Name: core.Identifier(td.Name)}
		if td.MatViewExpression != nil {
			table.MatViewExpression = *td.MatViewExpression
		}

		colNames := map[string]bool{}
		primaryCount := 0
		for i, cd := range td.Columns {
			if !lowerNameRe.MatchString(cd.Name) {
				return nil, core.Errf(core.KindColumnNameIsNotLowercase, "table_name", td.Name, "column_name", cd.Name)
			}
			if core.IsReservedColumnName(core.Identifier(cd.Name)) {
				return nil, core.Errf(core.KindColumnNameIsReserved,
					"table_name", td.Name, "column_name", cd.Name,
					"reserved_names", core.ReservedColumnNamesList())
			}
			if colNames[cd.Name] {
				return nil, core.Errf(core.KindDuplicateColumnNames, "table_name", td.Name, "column_name", cd.Name)
			}
			colNames[cd.Name] = true

			dbType, err := sqlTypeToDBType(cd.TypeText)
			if err != nil {
				return nil, core.Errf(core.KindUnknownColumnType, "table_name", td.Name, "column_name", cd.Name, "column_type", cd.TypeText)
			}

			if cd.IsPrimaryKey {
				primaryCount++
				if i != 0 {
					return nil, core.Errf(core.KindPrimaryKeyColumnMustBeFirst, "table_name", td.Name, "column_name", cd.Name)
				}
				if dbType == core.TypeFloat {
					return nil, core.Errf(core.KindFloatColumnCannotBePrimaryKey, "table_name", td.Name, "column_name", cd.Name)
				}
				if dbType == core.TypeBool {
					return nil, core.Errf(core.KindBooleanColumnCannotBePrimaryKey, "table_name", td.Name, "column_name", cd.Name)
				}
			}
			if primaryCount > 1 {
				return nil, core.Errf(core.KindMoreThanOnePrimaryKey, "table_name", td.Name)
			}

			if table.MatViewExpression != "" {
				if cd.DefaultExpression != nil {
					return nil, core.Errf(core.KindMaterializedViewsCannotHaveDefaultColumnExpression, "table_name", td.Name, "column_name", cd.Name)
				}
				if cd.GeneratedExpression != nil {
					return nil, core.Errf(core.KindMaterializedViewsCannotHaveComputedColumnExpression, "table_name", td.Name, "column_name", cd.Name)
				}
			}
			if cd.DefaultExpression != nil && cd.GeneratedExpression != nil {
				return nil, core.Errf(core.KindDefaultValueAndComputedValueAreMutuallyExclusive, "table_name", td.Name, "column_name", cd.Name)
			}

			col := &core.DataColumn{
				Name:   core.Identifier(cd.Name),
				Vector: core.NewColumnVector(dbType),
			}
			if cd.IsPrimaryKey {
				col.Key = core.KeyType{Kind: core.Primary}
				if cd.DefaultExpression != nil {
					return nil, core.Errf(core.KindPrimaryKeysCannotHaveDefaultValue, "table_name", td.Name, "column_name", cd.Name)
				}
				if cd.GeneratedExpression != nil {
					return nil, core.Errf(core.KindPrimaryOrForeignKeysCannotHaveComputedValue, "table_name", td.Name, "column_name", cd.Name)
				}
			}
			// A column written PRIMARY KEY CHILD OF <parent> is the table's
			// child primary key, not a plain Primary one.
			if cd.ChildPrimaryKeyParent != "" {
				col.Key = core.KeyType{Kind: core.ChildPrimary, ParentTable: core.Identifier(cd.ChildPrimaryKeyParent)}
			}
			if cd.IsReference {
				col.ForeignKey = &core.ForeignKey{
					ForeignTable:                    core.Identifier(cd.ReferenceTarget),
					IsToForeignChildTable:           cd.IsReferenceToForeignChild,
					IsExplicitForeignChildReference: cd.IsExplicitForeignChild,
					IsToSelfChildTable:              cd.IsReferenceToSelfChild,
				}
				if cd.GeneratedExpression != nil {
					return nil, core.Errf(core.KindPrimaryOrForeignKeysCannotHaveComputedValue, "table_name", td.Name, "column_name", cd.Name)
				}
			}
			if cd.DefaultExpression != nil && !cd.IsDetachedDefault {
				if err := col.Vector.TrySetDefaultFromString(*cd.DefaultExpression); err != nil {
					return nil, core.Errf(core.KindCannotParseDefaultColumnValue,
						"table_name", td.Name, "column_name", cd.Name, "column_type", cd.TypeText, "the_value", *cd.DefaultExpression)
				}
			}
			if cd.GeneratedExpression != nil {
				col.GenerateExpression = *cd.GeneratedExpression
			}
			if cd.IsDetachedDefault {
				detachedMarkers = append(detachedMarkers, td.Name+"."+cd.Name)
			}
			table.Columns = append(table.Columns, col)
		}

		for _, uc := range td.UniqConstraints {
			fields := make([]core.Identifier, len(uc.Fields))
			for i, f := range uc.Fields {
				fields[i] = core.Identifier(f)
			}
			table.UniqConstraints = append(table.UniqConstraints, core.UniqConstraint{Fields: fields})
		}
		for _, rc := range td.RowChecks {
			table.RowChecks = append(table.RowChecks, core.RowCheck{Expression: rc.Expression, Comment: rc.Comment})
		}

		db.Tables = append(db.Tables, table)
	}
	return detachedMarkers, nil
}

func sqlTypeToDBType(raw string) (core.DBType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text", "string":
		return core.TypeText, nil
	case "int", "integer":
		return core.TypeInt, nil
	case "float", "real", "double":
		return core.TypeFloat, nil
	case "bool", "boolean":
		return core.TypeBool, nil
	default:
		return "", core.Errf(core.KindUnknownColumnType, "column_type", raw)
	}
}

// 2. Child-primary validation: acyclic ancestry, then prepend ancestor
// primary key columns into each child, outermost-ancestor-first.
func validateChildPrimaries(db *core.Database) error {
	for _, t := range db.Tables {
		for _, c := range t.Columns {
			if c.Key.Kind != core.ChildPrimary {
				continue
			}
			parent := db.FindTable(c.Key.ParentTable)
			if parent == nil || parent.PrimaryKeyColumn() == nil {
				return core.Errf(core.KindParentTableHasNoPrimaryKey, "table_name", t.Name, "column_name", c.Name, "referred_table", c.Key.ParentTable)
			}
		}
	}

	for _, t := range db.Tables {
		if err := findChildPrimaryLoop(db, t.Name, map[core.Identifier]bool{}, nil); err != nil {
			return err
		}
	}

	// Collect ancestor chains nearest-first, then insert each new
	// ParentPrimary column at index 0 in that same nearest-first order;
	// repeated head-insertion naturally ends up outermost-ancestor-first.
	type insertion struct {
		table *core.DataTable
		col   *core.DataColumn
	}
	var toInsert []insertion

	for _, t := range db.Tables {
		parentCol := findDeclaredChildPrimary(t)
		if parentCol == nil {
			continue
		}
		chain := findParentColumns(db, parentCol.Key.ParentTable)
		for _, pc := range chain {
			if t.FindColumn(pc.Name) != nil {
				return core.Errf(core.KindParentPrimaryKeyColumnNameClashesWithChildColumnName,
					"parent_table", pc.immediateAncestor, "parent_column", pc.Name, "child_table", t.Name, "child_column", pc.Name)
			}
			nc := &core.DataColumn{
				Name:   pc.Name,
				Vector: pc.Vector.NewLikeThis(),
				Key:    core.KeyType{Kind: core.ParentPrimary, ParentTable: pc.immediateAncestor},
			}
			toInsert = append(toInsert, insertion{table: t, col: nc})
		}
	}
	for _, ins := range toInsert {
		ins.table.Columns = append([]*core.DataColumn{ins.col}, ins.table.Columns...)
	}
	return nil
}

func findDeclaredChildPrimary(t *core.DataTable) *core.DataColumn {
	for _, c := range t.Columns {
		if c.Key.Kind == core.ChildPrimary {
			return c
		}
	}
	return nil
}

// ancestorKey is one step of an inherited ancestor key: the column being
// inherited, plus the table it should be tagged ParentPrimary{} for.
type ancestorKey struct {
	Name              core.Identifier
	Vector            *core.ColumnVector
	immediateAncestor core.Identifier
}

// findParentColumns walks the ChildPrimary chain starting at parentName,
// returning the ancestor key columns nearest-ancestor first: parentName's
// own primary key column first, then parentName's own ancestors in turn.
func findParentColumns(db *core.Database, parentName core.Identifier) []ancestorKey {
	parent := db.FindTable(parentName)
	if parent == nil {
		return nil
	}
	pk := parent.PrimaryKeyColumn()
	if pk == nil {
		return nil
	}
	chain := []ancestorKey{{Name: pk.Name, Vector: pk.Vector, immediateAncestor: parentName}}

	grandparentCol := findDeclaredChildPrimary(parent)
	if grandparentCol != nil {
		chain = append(chain, findParentColumns(db, grandparentCol.Key.ParentTable)...)
	}
	return chain
}

func findChildPrimaryLoop(db *core.Database, start core.Identifier, visiting map[core.Identifier]bool, path []core.Identifier) error {
	if visiting[start] {
		return core.Errf(core.KindChildPrimaryKeysLoopDetected, "table_names", append(append([]core.Identifier{}, path...), start))
	}
	t := db.FindTable(start)
	if t == nil {
		return nil
	}
	cp := findDeclaredChildPrimary(t)
	if cp == nil {
		return nil
	}
	visiting[start] = true
	defer delete(visiting, start)
	return findChildPrimaryLoop(db, cp.Key.ParentTable, visiting, append(path, start))
}

// 3. Ordinary foreign keys: resolve target, re-type the referrer column to
// match the target's primary kind. Re-typing is collected and applied after
// the scan so we never mutate a column vector while still reading others.
func resolveOrdinaryForeignKeys(db *core.Database) error {
	type retype struct {
		col     *core.DataColumn
		newType core.DBType
	}
	var retypes []retype

	for _, t := range db.Tables {
		for _, c := range t.Columns {
			if c.ForeignKey == nil || c.ForeignKey.IsToForeignChildTable || c.ForeignKey.IsToSelfChildTable {
				continue
			}
			target := db.FindTable(c.ForeignKey.ForeignTable)
			if target == nil {
				return core.Errf(core.KindForeignKeyTableDoesntExist, "referrer_table", t.Name, "referrer_column", c.Name, "referred_table", c.ForeignKey.ForeignTable)
			}
			pk := target.PrimaryKeyColumn()
			parentKeys := target.ImplicitParentPrimaryKeys()
			if pk == nil && len(parentKeys) == 0 {
				return core.Errf(core.KindForeignKeyTableDoesntHavePrimaryKey, "referrer_table", t.Name, "referrer_column", c.Name, "referred_table", target.Name)
			}
			if pk == nil {
				// Target is keyed purely by inherited ancestor columns;
				// the referrer must share a common ancestor, found as the
				// longest common ParentPrimary suffix between the two
				// tables' ancestor chains.
				if !shareCommonAncestor(t, target) {
					return core.Errf(core.KindForeignKeyTableDoesNotShareCommonAncestorWithRefereeTable, "referrer_table", t.Name, "referrer_column", c.Name, "referred_table", target.Name)
				}
				retypes = append(retypes, retype{col: c, newType: core.TypeText})
				continue
			}
			switch pk.Vector.Type {
			case core.TypeInt:
				retypes = append(retypes, retype{col: c, newType: core.TypeInt})
			default:
				retypes = append(retypes, retype{col: c, newType: core.TypeText})
			}
		}
	}

	for _, r := range retypes {
		r.col.Vector = core.NewColumnVector(r.newType)
	}
	return nil
}

// shareCommonAncestor reverse-scans both tables' ParentPrimary columns for
// the first matching ancestor table, the way the original resolver finds a
// common-ancestor key suffix.
func shareCommonAncestor(a, b *core.DataTable) bool {
	aKeys := a.ImplicitParentPrimaryKeys()
	bKeys := b.ImplicitParentPrimaryKeys()
	for i := len(aKeys) - 1; i >= 0; i-- {
		for j := len(bKeys) - 1; j >= 0; j-- {
			if aKeys[i].Key.ParentTable == bKeys[j].Key.ParentTable {
				return true
			}
		}
	}
	return false
}

// 4. Foreign-child references: the target is a descendant of some other
// ancestry; the referrer and target's diverging ancestor suffixes plus the
// target's own child key form the composite "=>"-joined reference value.
func resolveForeignChildReferences(db *core.Database) error {
	for _, t := range db.Tables {
		for _, c := range t.Columns {
			if c.ForeignKey == nil || !c.ForeignKey.IsToForeignChildTable {
				continue
			}
			target := db.FindTable(c.ForeignKey.ForeignTable)
			if target == nil {
				return core.Errf(core.KindForeignKeyTableDoesntExist, "referrer_table", t.Name, "referrer_column", c.Name, "referred_table", c.ForeignKey.ForeignTable)
			}
			targetAncestors := target.ImplicitParentPrimaryKeys()
			if len(targetAncestors) == 0 {
				return core.Errf(core.KindForeignChildKeyTableDoesntHaveParentTable, "referrer_table", t.Name, "referrer_column", c.Name, "referred_table", target.Name)
			}
			referrerAncestors := t.ImplicitParentPrimaryKeys()
			if len(targetAncestors) <= len(referrerAncestors) && !c.ForeignKey.IsExplicitForeignChildReference {
				return core.Errf(core.KindForeignChildKeyTableIsHigherOrEqualInAncestryThanTheReferrer, "referrer_table", t.Name, "referrer_column", c.Name, "referred_table", target.Name)
			}

			commonLen := commonPrefixLen(referrerAncestors, targetAncestors)
			segmentCols := append(append([]*core.DataColumn{}, targetAncestors[commonLen:]...), target.PrimaryKeyColumn())
			for _, sc := range segmentCols {
				if sc != nil {
					sc.SnakeCaseRestricted = true
				}
			}
		}
	}
	return nil
}

func commonPrefixLen(a, b []*core.DataColumn) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i].Key.ParentTable == b[i].Key.ParentTable {
		i++
	}
	return i
}

// 5. Native-child references: the target is the referrer's own descendant,
// reached through the referrer's own ParentPrimary chain.
func resolveNativeChildReferences(db *core.Database) error {
	for _, t := range db.Tables {
		for _, c := range t.Columns {
			if c.ForeignKey == nil || !c.ForeignKey.IsToSelfChildTable {
				continue
			}
			target := db.FindTable(c.ForeignKey.ForeignTable)
			if target == nil {
				return core.Errf(core.KindForeignKeyTableDoesntExist, "referrer_table", t.Name, "referrer_column", c.Name, "referred_table", c.ForeignKey.ForeignTable)
			}
			targetAncestors := target.ImplicitParentPrimaryKeys()
			foundAncestorIdx := -1
			for i, ac := range targetAncestors {
				if ac.Key.ParentTable == t.Name {
					foundAncestorIdx = i
				}
			}
			if foundAncestorIdx == -1 {
				return core.Errf(core.KindReferredChildKeyTableIsNotDescendantToThisTable, "referrer_table", t.Name, "referrer_column", c.Name, "expected_to_be_descendant_table", target.Name)
			}
			commonKeys := targetAncestors[:foundAncestorIdx+1]
			thisKeyVec := append(append([]*core.DataColumn{}, targetAncestors[foundAncestorIdx+1:]...), target.PrimaryKeyColumn())
			for _, kc := range commonKeys {
				kc.SnakeCaseRestricted = true
			}
			for _, kc := range thisKeyVec {
				if kc != nil {
					kc.SnakeCaseRestricted = true
				}
			}
		}
	}
	return nil
}

// 6. Detached defaults: exactly one later declaration must provide the
// value for each DETACHED DEFAULT marker, and every marker collected by
// initDeclaredTables must be satisfied by one.
func processDetachedDefaults(db *core.Database, defaults []parsecontract.DetachedDefaultDef, markers []string) error {
	provided := map[string]string{}
	for _, dd := range defaults {
		key := dd.TableName + "." + dd.ColumnName
		t := db.FindTable(core.Identifier(dd.TableName))
		if t == nil {
			return core.Errf(core.KindDetachedDefaultNonExistingTable, "table", dd.TableName, "column", dd.ColumnName, "expression", dd.Expression)
		}
		c := t.FindColumn(core.Identifier(dd.ColumnName))
		if c == nil {
			return core.Errf(core.KindDetachedDefaultNonExistingColumn, "table", dd.TableName, "column", dd.ColumnName, "expression", dd.Expression)
		}
		if prev, ok := provided[key]; ok {
			return core.Errf(core.KindDetachedDefaultDefinedMultipleTimes, "table", dd.TableName, "column", dd.ColumnName, "expression_a", prev, "expression_b", dd.Expression)
		}
		provided[key] = dd.Expression
		if err := c.Vector.TrySetDefaultFromString(dd.Expression); err != nil {
			return core.Errf(core.KindDetachedDefaultBadValue, "table", dd.TableName, "column", dd.ColumnName, "value", dd.Expression, "expected_type", c.Vector.Type, "error", err.Error())
		}
	}
	for _, marker := range markers {
		if _, ok := provided[marker]; ok {
			continue
		}
		table, column, _ := strings.Cut(marker, ".")
		return core.Errf(core.KindDetachedDefaultUndefined, "table", table, "column", column)
	}
	return nil
}

// 7. Uniqueness constraints: columns exist, no Float column, no duplicate
// column within a constraint, no duplicate constraint.
func validateUniqConstraints(db *core.Database) error {
	for _, t := range db.Tables {
		seen := map[string]bool{}
		for _, uc := range t.UniqConstraints {
			fieldSeen := map[core.Identifier]bool{}
			var key []string
			for _, f := range uc.Fields {
				col := t.FindColumn(f)
				if col == nil {
					return core.Errf(core.KindUniqConstraintColumnDoesntExist, "table_name", t.Name, "column_name", f)
				}
				if col.Vector.Type == core.TypeFloat {
					return core.Errf(core.KindFloatColumnCannotBeInUniqueConstraint, "table_name", t.Name, "column_name", f)
				}
				if fieldSeen[f] {
					return core.Errf(core.KindUniqConstraintDuplicateColumn, "table_name", t.Name, "column_name", f)
				}
				fieldSeen[f] = true
				key = append(key, f.String())
			}
			sortedKey := strings.Join(sortedStrings(key), ",")
			if seen[sortedKey] {
				return core.Errf(core.KindDuplicateUniqConstraints, "table_name", t.Name)
			}
			seen[sortedKey] = true
		}
	}
	return nil
}

func sortedStrings(in []string) []string {
	out := append([]string{}, in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// 8. Post-conditions: columns sit in priority order (Primary, ParentPrimary,
// ChildPrimary, then everything else), and key-type counts are sane.
func assertPostConditions(db *core.Database) error {
	for _, t := range db.Tables {
		lastPriority := 0
		primaryCount := 0
		for _, c := range t.Columns {
			if c.Key.Kind == core.Primary {
				primaryCount++
			}
			if c.ColumnPriority() < lastPriority {
				return core.Errf(core.KindMoreThanOnePrimaryKey, "table_name", t.Name)
			}
			lastPriority = c.ColumnPriority()
		}
		if primaryCount > 1 {
			return core.Errf(core.KindMoreThanOnePrimaryKey, "table_name", t.Name)
		}
	}
	return nil
}
